package draft

import (
	"context"
	"errors"
	"sync"

	"device-rules/internal/logger"
	"device-rules/internal/metrics"
	"device-rules/internal/rule"
	"device-rules/internal/schema"
	"device-rules/internal/stats"
)

var (
	// ErrSubmitInProgress is returned by Submit while an earlier submit of
	// the same draft is still running.
	ErrSubmitInProgress = errors.New("a submit is already in progress")
	// ErrNoDevice is returned when submitting before a device is selected.
	ErrNoDevice = errors.New("no device selected")
)

// State is the position of the draft in its submit cycle.
type State int

const (
	Editing State = iota
	Validating
	Submitting
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Editing:
		return "editing"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Creator stores a new rule.
type Creator interface {
	CreateRule(ctx context.Context, deviceID string, r rule.Rule) (*rule.Rule, error)
}

// FieldResolver resolves condition fields for a device selection.
type FieldResolver interface {
	Select(ctx context.Context, dev schema.DeviceRef) (schema.Resolution, error)
}

var _ FieldResolver = (*schema.Selection)(nil)

// RuleList is the list re-fetched after a successful submit.
type RuleList interface {
	SetDevice(deviceID string)
	Refresh(ctx context.Context) error
}

// Controller owns one draft and drives it through validation and submit.
type Controller struct {
	creator  Creator
	resolver FieldResolver
	list     RuleList
	builder  *rule.Builder
	logger   *logger.Logger
	metrics  *metrics.Metrics
	stats    *stats.StatsCollector

	mu      sync.Mutex
	device  schema.DeviceRef
	fields  schema.Resolution
	draft   Draft
	state   State
	lastErr error
}

type Option func(*Controller)

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

func WithStats(s *stats.StatsCollector) Option {
	return func(c *Controller) { c.stats = s }
}

// NewController creates a controller with a fresh draft. resolver and list
// may be nil.
func NewController(creator Creator, resolver FieldResolver, list RuleList, builder *rule.Builder, log *logger.Logger, opts ...Option) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	if builder == nil {
		builder = rule.NewBuilder(rule.BuildOptions{}, log)
	}
	c := &Controller{
		creator:  creator,
		resolver: resolver,
		list:     list,
		builder:  builder,
		logger:   log,
		draft:    NewDraft(),
		fields:   schema.Resolution{Source: schema.SourceNone},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// setState must be called with mu held.
func (c *Controller) setState(s State) {
	if c.state != s {
		c.logger.Debug("draft state changed",
			"deviceId", c.device.ID,
			"from", c.state.String(),
			"to", s.String())
	}
	c.state = s
}

func (c *Controller) busy() bool {
	return c.state == Validating || c.state == Submitting
}

// Busy reports whether a submit is running.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy()
}

// SelectDevice resolves the fields of dev and starts a fresh draft for it
// with the first discovered field selected. The rule list follows the new
// device. A selection overtaken by a newer one returns
// schema.ErrStaleSelection and changes nothing.
func (c *Controller) SelectDevice(ctx context.Context, dev schema.DeviceRef) (schema.Resolution, error) {
	if dev.ID == "" {
		return schema.Resolution{}, ErrNoDevice
	}

	res := schema.Resolution{Device: dev, Source: schema.SourceNone}
	if c.resolver != nil {
		var err error
		res, err = c.resolver.Select(ctx, dev)
		if err != nil {
			if errors.Is(err, schema.ErrStaleSelection) && c.stats != nil {
				c.stats.IncStaleSelections()
			}
			return schema.Resolution{}, err
		}
	}

	res.Device = dev
	c.Bind(res)

	c.logger.Info("device selected",
		"deviceId", dev.ID,
		"deviceTypeId", dev.TypeID,
		"fieldSource", string(res.Source),
		"fields", len(res.Fields))

	if c.list != nil {
		if err := c.list.Refresh(ctx); err != nil {
			c.logger.Warn("failed to load rules for selected device",
				"deviceId", dev.ID,
				"error", err)
		}
	}

	return res, nil
}

// Bind makes res.Device current with the already resolved fields of res and
// starts a fresh draft. The rule list is pointed at the device but not
// fetched.
func (c *Controller) Bind(res schema.Resolution) {
	c.mu.Lock()
	c.device = res.Device
	c.fields = res
	c.draft = NewDraft()
	c.draft.Field = res.DefaultField()
	c.lastErr = nil
	if !c.busy() {
		c.setState(Editing)
	}
	c.mu.Unlock()

	if c.list != nil {
		c.list.SetDevice(res.Device.ID)
	}
}

// Device returns the selected device.
func (c *Controller) Device() schema.DeviceRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// Fields returns the field resolution of the selected device.
func (c *Controller) Fields() schema.Resolution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fields
}

// Draft returns a copy of the current draft.
func (c *Controller) Draft() Draft {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// SetDraft replaces the form contents. Edits are refused while a submit is
// running.
func (c *Controller) SetDraft(d Draft) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return ErrSubmitInProgress
	}
	c.draft = d
	c.setState(Editing)
	return nil
}

// Reset discards the draft and starts over with the defaults.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy() {
		return
	}
	c.draft = NewDraft()
	c.draft.Field = c.fields.DefaultField()
	c.lastErr = nil
	c.setState(Editing)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error of the last failed submit, nil after a
// success or a reset.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Build validates the current draft and returns the rule it describes
// without submitting it.
func (c *Controller) Build() (rule.Rule, error) {
	d := c.Draft()
	r, err := d.Build(c.builder)
	if err != nil {
		c.recordValidationFailure(err)
	}
	return r, err
}

// Submit validates the draft and creates the rule. On failure the draft is
// kept for correction and the error returned; on success the draft is reset
// and the rule list re-fetched. The returned rule is the server's copy when
// the API echoes one.
func (c *Controller) Submit(ctx context.Context) (*rule.Rule, error) {
	c.mu.Lock()
	if err := c.beginLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	d, dev := c.draft, c.device
	c.mu.Unlock()

	return c.submit(ctx, d, dev)
}

// SubmitDraft replaces the form contents with d and submits them. The
// replacement and the start of the submit happen together, so a concurrent
// caller can neither edit d away nor have its own draft submitted here.
func (c *Controller) SubmitDraft(ctx context.Context, d Draft) (*rule.Rule, error) {
	c.mu.Lock()
	if err := c.beginLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.draft = d
	dev := c.device
	c.mu.Unlock()

	return c.submit(ctx, d, dev)
}

// beginLocked moves an idle controller with a device into Validating. mu
// must be held.
func (c *Controller) beginLocked() error {
	if c.busy() {
		return ErrSubmitInProgress
	}
	if c.device.ID == "" {
		return ErrNoDevice
	}
	c.setState(Validating)
	return nil
}

func (c *Controller) submit(ctx context.Context, d Draft, dev schema.DeviceRef) (*rule.Rule, error) {
	r, err := d.Build(c.builder)
	if err != nil {
		c.recordValidationFailure(err)
		c.fail(err)
		return nil, err
	}

	c.mu.Lock()
	c.setState(Submitting)
	c.mu.Unlock()

	created, err := c.creator.CreateRule(ctx, dev.ID, r)
	if err != nil {
		c.logger.Warn("failed to create rule",
			"deviceId", dev.ID,
			"name", r.Name,
			"error", err)
		if c.stats != nil {
			c.stats.IncAPIErrors()
		}
		c.fail(err)
		return nil, err
	}

	c.logger.Info("rule created",
		"deviceId", dev.ID,
		"name", r.Name,
		"actionType", string(r.Action.Type()))
	if c.metrics != nil {
		c.metrics.IncRulesSubmitted()
	}
	if c.stats != nil {
		c.stats.IncRulesSubmitted()
	}

	c.mu.Lock()
	c.setState(Succeeded)
	if c.device.ID == dev.ID {
		c.draft = NewDraft()
		c.draft.Field = c.fields.DefaultField()
	}
	c.lastErr = nil
	c.setState(Editing)
	c.mu.Unlock()

	if c.list != nil {
		if err := c.list.Refresh(ctx); err != nil {
			c.logger.Warn("failed to refresh rules after create",
				"deviceId", dev.ID,
				"error", err)
		}
	}

	if created == nil {
		created = &r
	}
	return created, nil
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	c.setState(Failed)
	c.setState(Editing)
}

func (c *Controller) recordValidationFailure(err error) {
	var ve *rule.ValidationError
	if !errors.As(err, &ve) {
		return
	}
	c.logger.Debug("draft rejected",
		"field", ve.Field,
		"error", ve.Message)
	if c.metrics != nil {
		c.metrics.IncValidationFailure(ve.Field)
	}
	if c.stats != nil {
		c.stats.IncValidationFailures()
	}
}
