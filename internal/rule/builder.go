package rule

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"device-rules/internal/logger"
)

// ActionKind is what the user picks in the action selector. Several kinds
// compile to the same ActionType (the valve presets all become mutate).
type ActionKind string

const (
	KindAlert         ActionKind = "alert"
	KindDeviceCommand ActionKind = "device_command"
	KindWebhook       ActionKind = "webhook"
	KindDrop          ActionKind = "drop"
	KindFlagWarning   ActionKind = "flag_warning"
	KindCloseValve    ActionKind = "close_valve"
	KindOpenValve     ActionKind = "open_valve"
	KindCustomRoute   ActionKind = "custom_route"
	KindCustomMutate  ActionKind = "custom_mutate"
)

// ActionForm holds the raw inputs of every action kind; only the fields of
// the selected Kind are read.
type ActionForm struct {
	Kind ActionKind `json:"kind" yaml:"kind"`
	Stop bool       `json:"stop" yaml:"stop"`

	AlertTitle    string        `json:"alert_title,omitempty" yaml:"alert_title,omitempty"`
	AlertMessage  string        `json:"alert_message,omitempty" yaml:"alert_message,omitempty"`
	AlertPriority AlertPriority `json:"alert_priority,omitempty" yaml:"alert_priority,omitempty"`

	Command      string `json:"command,omitempty" yaml:"command,omitempty"`
	CommandTopic string `json:"command_topic,omitempty" yaml:"command_topic,omitempty"`
	CommandQoS   int    `json:"command_qos" yaml:"command_qos"`

	WebhookURL     string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	WebhookMethod  string `json:"webhook_method,omitempty" yaml:"webhook_method,omitempty"`
	WebhookHeaders string `json:"webhook_headers,omitempty" yaml:"webhook_headers,omitempty"`
	WebhookBody    string `json:"webhook_body,omitempty" yaml:"webhook_body,omitempty"`

	DropReason string `json:"drop_reason,omitempty" yaml:"drop_reason,omitempty"`

	// PresetValue replaces the hard-coded value of the valve/warning presets.
	PresetValue string `json:"preset_value,omitempty" yaml:"preset_value,omitempty"`

	RouteTopic string `json:"route_topic,omitempty" yaml:"route_topic,omitempty"`

	MutatePath  string `json:"mutate_path,omitempty" yaml:"mutate_path,omitempty"`
	MutateValue string `json:"mutate_value,omitempty" yaml:"mutate_value,omitempty"`
}

// BuildOptions selects the panel variant.
type BuildOptions struct {
	RequireAlertTitle bool
	DefaultAlertTitle string
}

type preset struct {
	path  string
	value string
}

var presets = map[ActionKind]preset{
	KindFlagWarning: {path: "payload.status", value: "warning"},
	KindCloseValve:  {path: "payload.command", value: "close_valve"},
	KindOpenValve:   {path: "payload.command", value: "open_valve"},
}

type buildFunc func(b *Builder, form ActionForm) (Action, error)

var builders = map[ActionKind]buildFunc{
	KindAlert:         (*Builder).buildAlert,
	KindDeviceCommand: (*Builder).buildDeviceCommand,
	KindWebhook:       (*Builder).buildWebhook,
	KindDrop:          (*Builder).buildDrop,
	KindFlagWarning:   (*Builder).buildPreset,
	KindCloseValve:    (*Builder).buildPreset,
	KindOpenValve:     (*Builder).buildPreset,
	KindCustomRoute:   (*Builder).buildRoute,
	KindCustomMutate:  (*Builder).buildMutate,
}

// ActionKinds lists the selectable kinds in picker order.
var ActionKinds = []ActionKind{
	KindAlert,
	KindDeviceCommand,
	KindWebhook,
	KindDrop,
	KindFlagWarning,
	KindCloseValve,
	KindOpenValve,
	KindCustomRoute,
	KindCustomMutate,
}

// Builder turns an ActionForm into an Action.
type Builder struct {
	opts   BuildOptions
	logger *logger.Logger
}

func NewBuilder(opts BuildOptions, log *logger.Logger) *Builder {
	if opts.DefaultAlertTitle == "" {
		opts.DefaultAlertTitle = "Rule triggered"
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Builder{opts: opts, logger: log}
}

// BuildAction is Build with a throwaway builder.
func BuildAction(form ActionForm, opts BuildOptions) (Action, error) {
	return NewBuilder(opts, nil).Build(form)
}

// Build dispatches on form.Kind. It never returns a partially built action:
// either the action or a *ValidationError naming the missing input.
func (b *Builder) Build(form ActionForm) (Action, error) {
	if form.Kind == "" {
		return nil, invalid("kind", "select an action")
	}
	build, ok := builders[form.Kind]
	if !ok {
		return nil, invalid("kind", "unknown action kind %q", form.Kind)
	}
	return build(b, form)
}

func (b *Builder) buildAlert(form ActionForm) (Action, error) {
	title := strings.TrimSpace(form.AlertTitle)
	if title == "" {
		if b.opts.RequireAlertTitle {
			return nil, invalid("title", "alert title is required")
		}
		title = b.opts.DefaultAlertTitle
	}

	priority := form.AlertPriority
	if priority == "" {
		priority = AlertMedium
	}
	if !priority.Valid() {
		return nil, invalid("priority", "alert priority must be low, medium, high or critical")
	}

	return AlertAction{
		Title:    title,
		Message:  strings.TrimSpace(form.AlertMessage),
		Priority: priority,
		Stop:     form.Stop,
	}, nil
}

func (b *Builder) buildDeviceCommand(form ActionForm) (Action, error) {
	raw := strings.TrimSpace(form.Command)
	if raw == "" {
		return nil, invalid("command", "command is required")
	}
	if form.CommandQoS < 0 || form.CommandQoS > 2 {
		return nil, invalid("qos", "QoS must be 0, 1, or 2")
	}

	command := map[string]interface{}{"action": raw}
	if strings.HasPrefix(raw, "{") {
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			b.logger.Debug("command is not valid JSON, sending as action string",
				"command", raw,
				"error", err)
		} else {
			command = parsed
		}
	}

	return DeviceCommandAction{
		Command: command,
		Topic:   strings.TrimSpace(form.CommandTopic),
		QoS:     form.CommandQoS,
		Stop:    form.Stop,
	}, nil
}

func (b *Builder) buildWebhook(form ActionForm) (Action, error) {
	url := strings.TrimSpace(form.WebhookURL)
	if url == "" {
		return nil, invalid("url", "webhook URL is required")
	}

	method := strings.ToUpper(strings.TrimSpace(form.WebhookMethod))
	switch method {
	case "":
		method = http.MethodPost
	case http.MethodGet, http.MethodPost, http.MethodPut:
	default:
		return nil, invalid("method", "method must be GET, POST or PUT")
	}

	headers, err := parseJSONObject("headers", form.WebhookHeaders)
	if err != nil {
		return nil, err
	}
	body, err := parseJSONObject("body", form.WebhookBody)
	if err != nil {
		return nil, err
	}

	return WebhookAction{
		URL:     url,
		Method:  method,
		Headers: headers,
		Body:    body,
		Stop:    form.Stop,
	}, nil
}

func (b *Builder) buildDrop(form ActionForm) (Action, error) {
	return DropAction{
		Reason: strings.TrimSpace(form.DropReason),
		Stop:   form.Stop,
	}, nil
}

func (b *Builder) buildPreset(form ActionForm) (Action, error) {
	p := presets[form.Kind]

	var value interface{} = p.value
	if strings.TrimSpace(form.PresetValue) != "" {
		value = CoerceString(form.PresetValue)
	}

	return MutateAction{
		Set:  map[string]interface{}{p.path: value},
		Stop: form.Stop,
	}, nil
}

func (b *Builder) buildRoute(form ActionForm) (Action, error) {
	topic := strings.TrimSpace(form.RouteTopic)
	if topic == "" {
		return nil, invalid("topic", "route topic is required")
	}
	if err := validatePublishTopic(topic); err != nil {
		return nil, &ValidationError{Field: "topic", Message: err.Error(), Err: err}
	}

	return RouteAction{Topic: topic, Stop: form.Stop}, nil
}

func (b *Builder) buildMutate(form ActionForm) (Action, error) {
	path := strings.TrimSpace(form.MutatePath)
	if path == "" {
		return nil, invalid("path", "target field path is required")
	}

	return MutateAction{
		Set:  map[string]interface{}{path: CoerceString(form.MutateValue)},
		Stop: form.Stop,
	}, nil
}

// parseJSONObject parses optional JSON-object text. Blank input is an empty
// object.
func parseJSONObject(field, text string) (map[string]interface{}, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return map[string]interface{}{}, nil
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("%s must be valid JSON: %v", field, err),
			Err:     err,
		}
	}
	obj, ok := parsed.(map[string]interface{})
	if !ok {
		return nil, invalid(field, "%s must be a JSON object", field)
	}
	return obj, nil
}
