package schema

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"device-rules/internal/logger"
	"device-rules/internal/metrics"
)

// ErrStaleSelection is returned when a newer device selection finished
// resolving first; the caller must ignore the result.
var ErrStaleSelection = errors.New("field lookup superseded by a newer device selection")

// DeviceRef identifies the device whose fields are resolved. TypeID may be
// empty when the device type is unknown.
type DeviceRef struct {
	ID     string `json:"device_id"`
	TypeID string `json:"device_type_id,omitempty"`
}

// LiveFieldSource returns the live telemetry field inventory of a device.
type LiveFieldSource interface {
	LiveFields(ctx context.Context, deviceID string) ([]LiveField, error)
}

// SchemaSource returns the declared payload schema of a device type.
type SchemaSource interface {
	DeviceTypeSchema(ctx context.Context, deviceTypeID string) (*Node, error)
}

// Sampler waits for one raw telemetry message from a device.
type Sampler interface {
	Sample(ctx context.Context, deviceID string) ([]byte, error)
}

// Source names where a field list came from.
type Source string

const (
	SourceLive   Source = "live"
	SourceSample Source = "sample"
	SourceSchema Source = "schema"
	SourceNone   Source = "none"
)

// Resolution is the outcome of one device selection.
type Resolution struct {
	Device DeviceRef     `json:"device"`
	Source Source        `json:"source"`
	Fields []FieldOption `json:"fields"`
}

// DefaultField is the field a fresh condition starts with: the first
// discovered option, or CustomField when nothing was discovered.
func (r Resolution) DefaultField() string {
	if len(r.Fields) == 0 {
		return CustomField
	}
	return r.Fields[0].Value
}

// Options returns the picker entries: the discovered fields followed by
// the custom-field sentinel.
func (r Resolution) Options() []FieldOption {
	out := make([]FieldOption, 0, len(r.Fields)+1)
	out = append(out, r.Fields...)
	return append(out, FieldOption{Label: "Custom field", Value: CustomField})
}

// Resolver produces condition field options for a device, preferring live
// evidence over the declared schema. Lookup failures fall through to the
// next source and never surface to the caller. A Resolver holds no
// selection state and is shared by every Selection.
type Resolver struct {
	live          LiveFieldSource
	schemas       SchemaSource
	sampler       Sampler
	sampleTimeout time.Duration
	logger        *logger.Logger
	metrics       *metrics.Metrics
}

type Option func(*Resolver)

// WithSampler adds a broker telemetry sample between the live inventory and
// the declared schema.
func WithSampler(s Sampler, timeout time.Duration) Option {
	return func(r *Resolver) {
		r.sampler = s
		r.sampleTimeout = timeout
	}
}

func NewResolver(live LiveFieldSource, schemas SchemaSource, log *logger.Logger, m *metrics.Metrics, opts ...Option) *Resolver {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Resolver{
		live:          live,
		schemas:       schemas,
		sampleTimeout: 3 * time.Second,
		logger:        log,
		metrics:       m,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up the fields of dev.
func (r *Resolver) Resolve(ctx context.Context, dev DeviceRef) Resolution {
	res := r.resolve(ctx, dev)
	if r.metrics != nil {
		r.metrics.IncFieldResolution(string(res.Source))
	}
	return res
}

// NewSelection returns a selection context backed by r.
func (r *Resolver) NewSelection() *Selection {
	return NewSelection(r, r.logger, r.metrics)
}

// Lookup resolves the fields of one device.
type Lookup interface {
	Resolve(ctx context.Context, dev DeviceRef) Resolution
}

// Selection is the device picker of one owner, such as a draft form. Only
// its most recent Select may win; lookups of other selections never
// interfere.
type Selection struct {
	lookup  Lookup
	logger  *logger.Logger
	metrics *metrics.Metrics

	latest atomic.Uint64
}

func NewSelection(lookup Lookup, log *logger.Logger, m *metrics.Metrics) *Selection {
	if log == nil {
		log = logger.NewNop()
	}
	return &Selection{lookup: lookup, logger: log, metrics: m}
}

// Select resolves fields for dev. A call overtaken by a later Select on the
// same selection returns ErrStaleSelection when it completes.
func (s *Selection) Select(ctx context.Context, dev DeviceRef) (Resolution, error) {
	token := s.latest.Add(1)

	res := s.lookup.Resolve(ctx, dev)

	if token != s.latest.Load() {
		s.logger.Debug("discarding stale field lookup",
			"deviceId", dev.ID,
			"token", token)
		if s.metrics != nil {
			s.metrics.IncStaleResponses()
		}
		return Resolution{}, ErrStaleSelection
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, dev DeviceRef) Resolution {
	res := Resolution{Device: dev, Source: SourceNone}

	if r.live != nil && dev.ID != "" {
		fields, err := r.live.LiveFields(ctx, dev.ID)
		if err != nil {
			r.logger.Warn("live field lookup failed, falling back",
				"deviceId", dev.ID,
				"error", err)
		} else if opts := FromLiveFields(fields); len(opts) > 0 {
			res.Source, res.Fields = SourceLive, opts
			return res
		}
	}

	if r.sampler != nil && dev.ID != "" {
		if opts := r.fromSample(ctx, dev.ID); len(opts) > 0 {
			res.Source, res.Fields = SourceSample, opts
			return res
		}
	}

	if r.schemas != nil && dev.TypeID != "" {
		node, err := r.schemas.DeviceTypeSchema(ctx, dev.TypeID)
		if err != nil {
			r.logger.Warn("device type schema lookup failed",
				"deviceTypeId", dev.TypeID,
				"error", err)
		} else if opts := Flatten(node); len(opts) > 0 {
			res.Source, res.Fields = SourceSchema, opts
			return res
		}
	}

	return res
}

func (r *Resolver) fromSample(ctx context.Context, deviceID string) []FieldOption {
	sctx, cancel := context.WithTimeout(ctx, r.sampleTimeout)
	defer cancel()

	msg, err := r.sampler.Sample(sctx, deviceID)
	if err != nil {
		r.logger.Debug("no telemetry sample available",
			"deviceId", deviceID,
			"error", err)
		return nil
	}

	opts, err := FromSample(msg)
	if err != nil {
		r.logger.Warn("telemetry sample is not a JSON object",
			"deviceId", deviceID,
			"error", err)
		return nil
	}
	return opts
}
