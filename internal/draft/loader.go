//file: internal/draft/loader.go
package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"device-rules/internal/logger"
	"device-rules/internal/rule"
	"device-rules/internal/schema"
)

// Batch is a file of drafts to submit for one device.
type Batch struct {
	Path         string  `json:"-" yaml:"-"`
	DeviceID     string  `json:"device_id" yaml:"device_id"`
	DeviceTypeID string  `json:"device_type_id,omitempty" yaml:"device_type_id,omitempty"`
	Drafts       []Draft `json:"drafts" yaml:"drafts"`
}

// Device returns the device the batch targets.
func (b Batch) Device() schema.DeviceRef {
	return schema.DeviceRef{ID: b.DeviceID, TypeID: b.DeviceTypeID}
}

// Loader reads draft batch files from the filesystem.
type Loader struct {
	logger *logger.Logger
}

func NewLoader(log *logger.Logger) *Loader {
	if log == nil {
		log = logger.NewNop()
	}
	return &Loader{logger: log}
}

// LoadFromDirectory loads every .yaml, .yml and .json batch under path, in
// lexical path order. Each draft starts from NewDraft, so keys left out of a
// file keep their defaults.
func (l *Loader) LoadFromDirectory(path string) ([]Batch, error) {
	var batches []Batch

	err := filepath.Walk(path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			return nil
		}

		l.logger.Debug("loading draft file", "path", path)

		batch, err := l.LoadFile(path)
		if err != nil {
			l.logger.Error("failed to load draft file",
				"path", path,
				"error", err)
			return err
		}

		l.logger.Debug("successfully loaded drafts",
			"path", path,
			"deviceId", batch.DeviceID,
			"count", len(batch.Drafts))

		batches = append(batches, batch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load drafts: %w", err)
	}

	sort.SliceStable(batches, func(i, j int) bool { return batches[i].Path < batches[j].Path })

	total := 0
	for _, b := range batches {
		total += len(b.Drafts)
	}
	l.logger.Info("drafts loaded successfully",
		"files", len(batches),
		"totalDrafts", total)

	return batches, nil
}

// LoadFile reads one batch file; the extension picks the decoder.
func (l *Loader) LoadFile(path string) (Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Batch{}, err
	}

	var batch Batch
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		batch, err = decodeJSONBatch(data)
	} else {
		batch, err = decodeYAMLBatch(data)
	}
	if err != nil {
		return Batch{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	batch.Path = path
	if strings.TrimSpace(batch.DeviceID) == "" {
		return Batch{}, fmt.Errorf("%s: device_id is required", path)
	}
	return batch, nil
}

func decodeJSONBatch(data []byte) (Batch, error) {
	var raw struct {
		DeviceID     string            `json:"device_id"`
		DeviceTypeID string            `json:"device_type_id"`
		Drafts       []json.RawMessage `json:"drafts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Batch{}, err
	}

	batch := Batch{DeviceID: raw.DeviceID, DeviceTypeID: raw.DeviceTypeID}
	for i, item := range raw.Drafts {
		d := NewDraft()
		if err := json.Unmarshal(item, &d); err != nil {
			return Batch{}, fmt.Errorf("draft %d: %w", i, err)
		}
		batch.Drafts = append(batch.Drafts, d)
	}
	return batch, nil
}

func decodeYAMLBatch(data []byte) (Batch, error) {
	var raw struct {
		DeviceID     string      `yaml:"device_id"`
		DeviceTypeID string      `yaml:"device_type_id"`
		Drafts       []yaml.Node `yaml:"drafts"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Batch{}, err
	}

	batch := Batch{DeviceID: raw.DeviceID, DeviceTypeID: raw.DeviceTypeID}
	for i := range raw.Drafts {
		d := NewDraft()
		if err := raw.Drafts[i].Decode(&d); err != nil {
			return Batch{}, fmt.Errorf("draft %d: %w", i, err)
		}
		batch.Drafts = append(batch.Drafts, d)
	}
	return batch, nil
}

// Result is the outcome of one batch draft.
type Result struct {
	Path  string     `json:"path"`
	Index int        `json:"index"`
	Name  string     `json:"name"`
	Rule  *rule.Rule `json:"rule,omitempty"`
	Err   error      `json:"-"`
}

// Apply submits every draft of batch through c. A failing draft does not
// stop the rest; its error is in the Result.
func Apply(ctx context.Context, c *Controller, batch Batch) ([]Result, error) {
	if _, err := c.SelectDevice(ctx, batch.Device()); err != nil {
		return nil, fmt.Errorf("failed to select device %s: %w", batch.DeviceID, err)
	}

	results := make([]Result, 0, len(batch.Drafts))
	for i, d := range batch.Drafts {
		res := Result{Path: batch.Path, Index: i, Name: d.Name}
		res.Rule, res.Err = c.SubmitDraft(ctx, d)
		results = append(results, res)
	}
	return results, nil
}
