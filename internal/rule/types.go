//file: internal/rule/types.go
package rule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Defaults applied when a draft leaves the corresponding input blank.
const (
	DefaultName     = "Untitled rule"
	DefaultPriority = 100
)

// ID is a server-assigned identifier. The admin API emits both numeric and
// string identifiers, so both decode into the same type.
type ID string

// UnmarshalJSON accepts a JSON string, number or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// RuleType selects when the external engine evaluates a rule.
type RuleType string

const (
	RuleTypeEvent     RuleType = "event"     // per incoming telemetry message
	RuleTypeScheduled RuleType = "scheduled" // on CronSchedule
)

// Rule is a named, prioritized automation unit scoped to one device.
// Lower Priority values are evaluated first by the external engine.
type Rule struct {
	ID           ID         `json:"id,omitempty"`
	DeviceID     ID         `json:"device_id,omitempty"`
	TenantID     ID         `json:"tenant_id,omitempty"`
	Name         string     `json:"name"`
	Priority     int        `json:"priority"`
	IsActive     bool       `json:"is_active"`
	RuleType     RuleType   `json:"rule_type"`
	CronSchedule string     `json:"cron_schedule,omitempty"`
	Condition    Condition  `json:"condition"`
	Action       Action     `json:"action"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}

type ruleJSON struct {
	ID           ID              `json:"id,omitempty"`
	DeviceID     ID              `json:"device_id,omitempty"`
	TenantID     ID              `json:"tenant_id,omitempty"`
	Name         string          `json:"name"`
	Priority     int             `json:"priority"`
	IsActive     bool            `json:"is_active"`
	RuleType     RuleType        `json:"rule_type"`
	CronSchedule string          `json:"cron_schedule,omitempty"`
	Condition    Condition       `json:"condition"`
	Action       json.RawMessage `json:"action"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
	UpdatedAt    *time.Time      `json:"updated_at,omitempty"`
}

// MarshalJSON encodes the action through its type discriminator.
func (r Rule) MarshalJSON() ([]byte, error) {
	action := json.RawMessage("null")
	if r.Action != nil {
		data, err := MarshalAction(r.Action)
		if err != nil {
			return nil, err
		}
		action = data
	}

	return json.Marshal(ruleJSON{
		ID:           r.ID,
		DeviceID:     r.DeviceID,
		TenantID:     r.TenantID,
		Name:         r.Name,
		Priority:     r.Priority,
		IsActive:     r.IsActive,
		RuleType:     r.RuleType,
		CronSchedule: r.CronSchedule,
		Condition:    r.Condition,
		Action:       action,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	})
}

// UnmarshalJSON decodes a rule as returned by the admin API. A missing
// rule_type means an event rule.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var action Action
	if len(raw.Action) > 0 && !bytes.Equal(bytes.TrimSpace(raw.Action), []byte("null")) {
		a, err := UnmarshalAction(raw.Action)
		if err != nil {
			return fmt.Errorf("invalid action: %w", err)
		}
		action = a
	}

	if raw.RuleType == "" {
		raw.RuleType = RuleTypeEvent
	}

	*r = Rule{
		ID:           raw.ID,
		DeviceID:     raw.DeviceID,
		TenantID:     raw.TenantID,
		Name:         raw.Name,
		Priority:     raw.Priority,
		IsActive:     raw.IsActive,
		RuleType:     raw.RuleType,
		CronSchedule: raw.CronSchedule,
		Condition:    raw.Condition,
		Action:       action,
		CreatedAt:    raw.CreatedAt,
		UpdatedAt:    raw.UpdatedAt,
	}
	return nil
}

// CreateBody returns a copy without the fields owned by the admin API.
func (r Rule) CreateBody() Rule {
	r.ID = ""
	r.DeviceID = ""
	r.TenantID = ""
	r.CreatedAt = nil
	r.UpdatedAt = nil
	return r
}

// Condition is a single comparison gating a rule's action.
type Condition struct {
	Field string      `json:"field"`
	Op    Operator    `json:"op"`
	Value interface{} `json:"value"`
}

// Operator is a comparison understood by the external engine.
type Operator string

const (
	OpGreaterThan        Operator = ">"
	OpGreaterThanOrEqual Operator = ">="
	OpLessThan           Operator = "<"
	OpLessThanOrEqual    Operator = "<="
	OpEquals             Operator = "=="
	OpNotEquals          Operator = "!="
	OpContains           Operator = "contains"
	OpStartsWith         Operator = "starts_with"
	OpEndsWith           Operator = "ends_with"
)

// Operators lists the valid operators in picker order.
var Operators = []Operator{
	OpGreaterThan,
	OpGreaterThanOrEqual,
	OpLessThan,
	OpLessThanOrEqual,
	OpEquals,
	OpNotEquals,
	OpContains,
	OpStartsWith,
	OpEndsWith,
}

// Valid reports whether op is one of Operators.
func (op Operator) Valid() bool {
	for _, o := range Operators {
		if o == op {
			return true
		}
	}
	return false
}

// ValidationError is a local input error. It is detected before any network
// call and names the offending input.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
