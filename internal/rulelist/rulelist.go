// Package rulelist shows the rules of the selected device and lets the user
// pause, resume and delete them.
package rulelist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"device-rules/internal/api"
	"device-rules/internal/logger"
	"device-rules/internal/rule"
	"device-rules/internal/stats"
)

const (
	EmptyMessage  = "No rules configured"
	FailedMessage = "Failed to load rules"

	BadgeActive = "Active"
	BadgePaused = "Paused"
)

var (
	// ErrNotConfirmed is returned when the user declines a delete.
	ErrNotConfirmed = errors.New("delete not confirmed")
	// ErrNoDevice is returned when no device is selected.
	ErrNoDevice = errors.New("no device selected")
	// ErrRuleNotFound is returned for a rule ID missing from the loaded list.
	ErrRuleNotFound = errors.New("rule not found")
)

// Store is the part of the admin API the list needs.
type Store interface {
	ListRules(ctx context.Context, deviceID string) ([]rule.Rule, error)
	UpdateRule(ctx context.Context, deviceID string, ruleID rule.ID, patch map[string]interface{}) error
	DeleteRule(ctx context.Context, deviceID string, ruleID rule.ID) error
}

// Confirmer asks the user to confirm deleting r.
type Confirmer interface {
	Confirm(ctx context.Context, r rule.Rule) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, r rule.Rule) bool

func (f ConfirmFunc) Confirm(ctx context.Context, r rule.Rule) bool {
	return f(ctx, r)
}

// Row is one rendered rule.
type Row struct {
	ID           rule.ID       `json:"id"`
	Name         string        `json:"name"`
	Priority     int           `json:"priority"`
	Active       bool          `json:"active"`
	Badge        string        `json:"badge"`
	RuleType     rule.RuleType `json:"rule_type"`
	CronSchedule string        `json:"cron_schedule,omitempty"`
	Condition    string        `json:"condition"`
	Summary      string        `json:"summary"`
	Stop         bool          `json:"stop"`
}

// View is what the rules table renders.
type View struct {
	DeviceID string `json:"device_id"`
	Rows     []Row  `json:"rows"`
	Empty    string `json:"empty,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Controller owns the fetched rule list of one device.
type Controller struct {
	store  Store
	logger *logger.Logger
	stats  *stats.StatsCollector

	mu       sync.Mutex
	deviceID string
	gen      uint64
	rules    []rule.Rule
	err      error
}

func NewController(store Store, log *logger.Logger, st *stats.StatsCollector) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	return &Controller{store: store, logger: log, stats: st}
}

// SetDevice points the list at deviceID and drops the rules of the previous
// device. Fetches still in flight for it are ignored when they complete.
func (c *Controller) SetDevice(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deviceID == c.deviceID {
		return
	}
	c.deviceID = deviceID
	c.gen++
	c.rules = nil
	c.err = nil
}

func (c *Controller) DeviceID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceID
}

// Refresh re-fetches the rules of the current device. On failure the list
// is cleared and the error kept for View.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	deviceID := c.deviceID
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	if deviceID == "" {
		return ErrNoDevice
	}

	rules, err := c.store.ListRules(ctx, deviceID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.logger.Debug("discarding superseded rule list", "deviceId", deviceID)
		return err
	}
	if err != nil {
		c.logger.Warn("failed to load rules",
			"deviceId", deviceID,
			"error", err)
		c.recordAPIError()
		c.rules, c.err = nil, err
		return err
	}
	c.rules, c.err = rules, nil
	return nil
}

// Rules returns a copy of the loaded rules.
func (c *Controller) Rules() []rule.Rule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]rule.Rule(nil), c.rules...)
}

func (c *Controller) find(id rule.ID) (string, rule.Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deviceID == "" {
		return "", rule.Rule{}, ErrNoDevice
	}
	for _, r := range c.rules {
		if r.ID == id {
			return c.deviceID, r, nil
		}
	}
	return "", rule.Rule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
}

// Toggle flips is_active of a loaded rule with a partial update, then
// re-fetches.
func (c *Controller) Toggle(ctx context.Context, id rule.ID) error {
	deviceID, r, err := c.find(id)
	if err != nil {
		return err
	}

	patch := map[string]interface{}{"is_active": !r.IsActive}
	if err := c.store.UpdateRule(ctx, deviceID, id, patch); err != nil {
		c.logger.Warn("failed to toggle rule",
			"deviceId", deviceID,
			"ruleId", id,
			"error", err)
		c.recordAPIError()
		return err
	}

	c.logger.Info("rule toggled",
		"deviceId", deviceID,
		"ruleId", id,
		"active", !r.IsActive)
	if c.stats != nil {
		c.stats.IncRulesToggled()
	}
	return c.Refresh(ctx)
}

// Delete removes a loaded rule once confirm agrees, then re-fetches. A
// declined or missing confirmation issues no API call.
func (c *Controller) Delete(ctx context.Context, id rule.ID, confirm Confirmer) error {
	deviceID, r, err := c.find(id)
	if err != nil {
		return err
	}

	if confirm == nil || !confirm.Confirm(ctx, r) {
		c.logger.Debug("rule delete not confirmed",
			"deviceId", deviceID,
			"ruleId", id)
		return ErrNotConfirmed
	}

	if err := c.store.DeleteRule(ctx, deviceID, id); err != nil {
		c.logger.Warn("failed to delete rule",
			"deviceId", deviceID,
			"ruleId", id,
			"error", err)
		c.recordAPIError()
		return err
	}

	c.logger.Info("rule deleted",
		"deviceId", deviceID,
		"ruleId", id)
	if c.stats != nil {
		c.stats.IncRulesDeleted()
	}
	return c.Refresh(ctx)
}

func (c *Controller) recordAPIError() {
	if c.stats != nil {
		c.stats.IncAPIErrors()
	}
}

// View renders the loaded rules ordered by priority, then name.
func (c *Controller) View() View {
	c.mu.Lock()
	deviceID, rules, err := c.deviceID, append([]rule.Rule(nil), c.rules...), c.err
	c.mu.Unlock()

	view := View{DeviceID: deviceID, Rows: []Row{}}
	if err != nil {
		view.Error = api.UserMessage(err, FailedMessage)
		return view
	}
	if len(rules) == 0 {
		view.Empty = EmptyMessage
		return view
	}

	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].Name < rules[j].Name
	})

	for _, r := range rules {
		view.Rows = append(view.Rows, NewRow(r))
	}
	return view
}

// NewRow projects r into a table row.
func NewRow(r rule.Rule) Row {
	badge := BadgePaused
	if r.IsActive {
		badge = BadgeActive
	}
	row := Row{
		ID:        r.ID,
		Name:      r.Name,
		Priority:  r.Priority,
		Active:    r.IsActive,
		Badge:     badge,
		RuleType:  r.RuleType,
		Condition: DescribeCondition(r.Condition),
		Summary:   rule.Summarize(r.Action),
	}
	if r.RuleType == rule.RuleTypeScheduled {
		row.CronSchedule = r.CronSchedule
	}
	if r.Action != nil {
		row.Stop = r.Action.StopsEvaluation()
	}
	return row
}

// DescribeCondition renders a condition as "field op value"; string values
// are quoted.
func DescribeCondition(cond rule.Condition) string {
	field := cond.Field
	if field == "" {
		field = rule.Placeholder
	}
	op := string(cond.Op)
	if op == "" {
		op = rule.Placeholder
	}

	switch v := cond.Value.(type) {
	case nil:
		return fmt.Sprintf("%s %s %s", field, op, rule.Placeholder)
	case string:
		return fmt.Sprintf("%s %s %q", field, op, v)
	case float64:
		return fmt.Sprintf("%s %s %s", field, op, strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return fmt.Sprintf("%s %s %v", field, op, v)
	}
}
