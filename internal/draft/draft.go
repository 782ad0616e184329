// Package draft holds the in-progress rule form and turns it into a rule.
package draft

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"device-rules/internal/rule"
	"device-rules/internal/schema"
)

// Text is a free-text form input. JSON batch files may carry it as a
// number or boolean; it is kept as typed.
type Text string

// UnmarshalJSON accepts a JSON string, number, boolean or null.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*t = Text(data)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("expected text, got %s", string(data))
		}
		*t = Text(n.String())
	}
	return nil
}

// Draft is the rule form as the user fills it in.
type Draft struct {
	Name         string        `json:"name" yaml:"name"`
	Priority     Text          `json:"priority" yaml:"priority"`
	IsActive     bool          `json:"is_active" yaml:"is_active"`
	RuleType     rule.RuleType `json:"rule_type" yaml:"rule_type"`
	CronSchedule string        `json:"cron_schedule,omitempty" yaml:"cron_schedule,omitempty"`

	// Field is a discovered field path or schema.CustomField, in which case
	// CustomField holds the typed path.
	Field       string        `json:"field" yaml:"field"`
	CustomField string        `json:"custom_field,omitempty" yaml:"custom_field,omitempty"`
	Op          rule.Operator `json:"op" yaml:"op"`
	Value       Text          `json:"value" yaml:"value"`

	Action rule.ActionForm `json:"action" yaml:"action"`
}

// NewDraft returns a fresh form with the defaults of a new rule.
func NewDraft() Draft {
	return Draft{
		Priority: Text(strconv.Itoa(rule.DefaultPriority)),
		IsActive: true,
		RuleType: rule.RuleTypeEvent,
		Field:    schema.CustomField,
		Op:       rule.OpGreaterThan,
		Action: rule.ActionForm{
			AlertPriority: rule.AlertMedium,
			CommandQoS:    1,
			WebhookMethod: "POST",
		},
	}
}

// ParsePriority returns the priority input as a positive integer, or
// rule.DefaultPriority when it is not one.
func (d Draft) ParsePriority() int {
	p, err := strconv.Atoi(strings.TrimSpace(string(d.Priority)))
	if err != nil || p < 1 {
		return rule.DefaultPriority
	}
	return p
}

// FieldPath resolves the condition field: the typed path when the custom
// sentinel is selected, otherwise the chosen field.
func (d Draft) FieldPath() string {
	field := strings.TrimSpace(d.Field)
	if field == "" || field == schema.CustomField {
		return strings.TrimSpace(d.CustomField)
	}
	return field
}

// Condition builds the rule condition with the value coerced to a typed
// scalar.
func (d Draft) Condition() (rule.Condition, error) {
	field := d.FieldPath()
	if field == "" {
		return rule.Condition{}, &rule.ValidationError{Field: "field", Message: "select a field or enter a custom field path"}
	}

	op := d.Op
	if op == "" {
		op = rule.OpGreaterThan
	}
	if !op.Valid() {
		return rule.Condition{}, &rule.ValidationError{Field: "op", Message: fmt.Sprintf("invalid operator: %s", op)}
	}

	return rule.Condition{
		Field: field,
		Op:    op,
		Value: rule.CoerceString(string(d.Value)),
	}, nil
}

// Build turns the form into a rule. Condition, cron schedule and action are
// checked in that order; the first failure is returned as a
// *rule.ValidationError and no rule is produced.
func (d Draft) Build(b *rule.Builder) (rule.Rule, error) {
	cond, err := d.Condition()
	if err != nil {
		return rule.Rule{}, err
	}

	ruleType := d.RuleType
	if ruleType == "" {
		ruleType = rule.RuleTypeEvent
	}
	var cron string
	if ruleType == rule.RuleTypeScheduled {
		cron = strings.TrimSpace(d.CronSchedule)
		if err := rule.ValidateCron(cron); err != nil {
			return rule.Rule{}, err
		}
	}

	action, err := b.Build(d.Action)
	if err != nil {
		return rule.Rule{}, err
	}

	name := strings.TrimSpace(d.Name)
	if name == "" {
		name = rule.DefaultName
	}

	r := rule.Rule{
		Name:         name,
		Priority:     d.ParsePriority(),
		IsActive:     d.IsActive,
		RuleType:     ruleType,
		CronSchedule: cron,
		Condition:    cond,
		Action:       action,
	}
	if err := rule.Validate(&r); err != nil {
		return rule.Rule{}, err
	}
	return r, nil
}
