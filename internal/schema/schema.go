// Package schema discovers the condition fields a device's telemetry offers.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// RootPrefix is the path of the telemetry payload itself.
const RootPrefix = "payload"

// CustomField is the picker sentinel for a free-typed field path.
const CustomField = "__custom__"

// FieldOption is one selectable condition field. Options are derived on
// every device selection and never persisted.
type FieldOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Property is a named child of an object node.
type Property struct {
	Name string
	Node *Node
}

// Node is a JSON-schema-like tree: an object with ordered named children,
// or a leaf.
type Node struct {
	Type       string
	Properties []Property
	// object is set when the node declares type "object" with a properties
	// member, even an empty one.
	object bool
}

// IsObject reports whether n recurses into children.
func (n *Node) IsObject() bool {
	return n != nil && n.object
}

// NewObject builds an object node; used by tests and callers assembling
// schemas by hand.
func NewObject(props ...Property) *Node {
	if props == nil {
		props = []Property{}
	}
	return &Node{Type: "object", Properties: props, object: true}
}

// NewLeaf builds a leaf node of the given type.
func NewLeaf(typ string) *Node {
	return &Node{Type: typ}
}

// UnmarshalJSON decodes a schema node keeping property order. Anything
// that is not a well-formed object node, such as a bare "number" standing
// in for a property, decodes as an untyped leaf.
func (n *Node) UnmarshalJSON(data []byte) error {
	*n = Node{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var raw struct {
		Type       json.RawMessage `json:"type"`
		Properties json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}

	var typ string
	if err := json.Unmarshal(raw.Type, &typ); err != nil {
		return nil
	}
	n.Type = typ

	props := bytes.TrimSpace(raw.Properties)
	if typ != "object" || len(props) == 0 || props[0] != '{' {
		return nil
	}

	ordered, err := decodeOrderedProperties(props)
	if err != nil {
		return fmt.Errorf("invalid properties: %w", err)
	}
	n.Properties = ordered
	n.object = true
	return nil
}

// MarshalJSON writes the node back in declaration order.
func (n Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if n.Type != "" {
		typ, _ := json.Marshal(n.Type)
		buf.WriteString(`"type":`)
		buf.Write(typ)
	}
	if n.object {
		if n.Type != "" {
			buf.WriteByte(',')
		}
		buf.WriteString(`"properties":{`)
		for i, p := range n.Properties {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, _ := json.Marshal(p.Name)
			child, err := json.Marshal(p.Node)
			if err != nil {
				return nil, err
			}
			buf.Write(name)
			buf.WriteByte(':')
			buf.Write(child)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeOrderedProperties(data []byte) ([]Property, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("properties must be an object")
	}

	props := []Property{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		var child Node
		if err := dec.Decode(&child); err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		props = append(props, Property{Name: name, Node: &child})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return props, nil
}

// Flatten reduces a declared schema to its leaf field paths, starting at
// RootPrefix. A nil or non-object root yields no fields.
func Flatten(root *Node) []FieldOption {
	if !root.IsObject() {
		return nil
	}
	var out []FieldOption
	flatten(root, RootPrefix, &out)
	return out
}

func flatten(n *Node, prefix string, out *[]FieldOption) {
	if !n.IsObject() {
		*out = append(*out, FieldOption{Label: Humanize(prefix), Value: prefix})
		return
	}
	for _, p := range n.Properties {
		flatten(p.Node, prefix+"."+p.Name, out)
	}
}

// Humanize turns the last path segment into a label: underscores become
// spaces and each word is title-cased.
func Humanize(path string) string {
	segment := path
	if i := strings.LastIndex(path, "."); i >= 0 {
		segment = path[i+1:]
	}
	words := strings.Fields(strings.ReplaceAll(segment, "_", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// WithPayloadPrefix prefixes key with "payload." unless it already is.
func WithPayloadPrefix(key string) string {
	if strings.HasPrefix(key, RootPrefix+".") {
		return key
	}
	return RootPrefix + "." + key
}

// LiveField is one entry of the live telemetry field inventory.
type LiveField struct {
	Key         string `json:"key"`
	FieldType   string `json:"field_type,omitempty"`
	Type        string `json:"type,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Kind returns field_type, falling back to type.
func (f LiveField) Kind() string {
	if f.FieldType != "" {
		return f.FieldType
	}
	return f.Type
}

func isScalarKind(kind string) bool {
	switch kind {
	case "number", "string", "boolean":
		return true
	}
	return false
}

// FromLiveFields keeps scalar inventory entries and renders them as
// "label (key)".
func FromLiveFields(fields []LiveField) []FieldOption {
	var out []FieldOption
	for _, f := range fields {
		if f.Key == "" || !isScalarKind(f.Kind()) {
			continue
		}
		name := f.DisplayName
		if name == "" {
			name = Humanize(f.Key)
		}
		out = append(out, FieldOption{
			Label: fmt.Sprintf("%s (%s)", name, f.Key),
			Value: WithPayloadPrefix(f.Key),
		})
	}
	return out
}

// FromSample flattens one live telemetry message. Nested objects recurse,
// scalar leaves are kept; arrays and nulls are skipped. Keys are visited in
// the order they appear in the message.
func FromSample(message []byte) ([]FieldOption, error) {
	sample, err := sampleTree(message)
	if err != nil {
		return nil, err
	}
	var out []FieldOption
	for _, p := range sample {
		collectSample(p, RootPrefix, &out)
	}
	return out, nil
}

type sampleEntry struct {
	name     string
	kind     string
	children []sampleEntry
}

func sampleTree(data []byte) ([]sampleEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("telemetry sample must be a JSON object")
	}
	return readSampleObject(dec)
}

func readSampleObject(dec *json.Decoder) ([]sampleEntry, error) {
	var entries []sampleEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		name, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		entry, err := classifySample(name, raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return entries, nil
}

func classifySample(name string, raw json.RawMessage) (sampleEntry, error) {
	raw = bytes.TrimSpace(raw)
	entry := sampleEntry{name: name}
	if len(raw) == 0 {
		return entry, nil
	}
	switch raw[0] {
	case '{':
		entry.kind = "object"
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if _, err := dec.Token(); err != nil {
			return entry, err
		}
		children, err := readSampleObject(dec)
		if err != nil {
			return entry, err
		}
		entry.children = children
	case '"':
		entry.kind = "string"
	case 't', 'f':
		entry.kind = "boolean"
	case '[':
		entry.kind = "array"
	case 'n':
		entry.kind = "null"
	default:
		entry.kind = "number"
	}
	return entry, nil
}

func collectSample(e sampleEntry, prefix string, out *[]FieldOption) {
	path := prefix + "." + e.name
	if e.kind == "object" {
		for _, c := range e.children {
			collectSample(c, path, out)
		}
		return
	}
	if !isScalarKind(e.kind) {
		return
	}
	*out = append(*out, FieldOption{Label: Humanize(path), Value: path})
}
