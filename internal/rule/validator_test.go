//file: internal/rule/validator_test.go
package rule

import (
	"testing"
)

func validRule() *Rule {
	return &Rule{
		Name:      "High temperature",
		Priority:  100,
		IsActive:  true,
		RuleType:  RuleTypeEvent,
		Condition: Condition{Field: "payload.temperature", Op: OpGreaterThan, Value: 50.0},
		Action:    RouteAction{Topic: "alerts/high-temp"},
	}
}

func TestValidateRule(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(r *Rule)
		nilRule  bool
		wantErr  bool
		errField string
	}{
		{
			name:    "Valid complete rule",
			mutate:  func(r *Rule) {},
			wantErr: false,
		},
		{
			name:     "Nil rule",
			nilRule:  true,
			wantErr:  true,
			errField: "rule",
		},
		{
			name:     "Blank name",
			mutate:   func(r *Rule) { r.Name = "  " },
			wantErr:  true,
			errField: "name",
		},
		{
			name:     "Zero priority",
			mutate:   func(r *Rule) { r.Priority = 0 },
			wantErr:  true,
			errField: "priority",
		},
		{
			name:     "Unknown rule type",
			mutate:   func(r *Rule) { r.RuleType = "hourly" },
			wantErr:  true,
			errField: "rule_type",
		},
		{
			name: "Scheduled without cron",
			mutate: func(r *Rule) {
				r.RuleType = RuleTypeScheduled
			},
			wantErr:  true,
			errField: "cron_schedule",
		},
		{
			name: "Scheduled with cron",
			mutate: func(r *Rule) {
				r.RuleType = RuleTypeScheduled
				r.CronSchedule = "0 6 * * 1-5"
			},
			wantErr: false,
		},
		{
			name:     "Empty condition field",
			mutate:   func(r *Rule) { r.Condition.Field = "" },
			wantErr:  true,
			errField: "field",
		},
		{
			name:     "Invalid operator",
			mutate:   func(r *Rule) { r.Condition.Op = "matches" },
			wantErr:  true,
			errField: "op",
		},
		{
			name:     "Missing action",
			mutate:   func(r *Rule) { r.Action = nil },
			wantErr:  true,
			errField: "action",
		},
		{
			name:     "Route with wildcard",
			mutate:   func(r *Rule) { r.Action = RouteAction{Topic: "alerts/+"} },
			wantErr:  true,
			errField: "action.topic",
		},
		{
			name:     "Webhook with bad method",
			mutate:   func(r *Rule) { r.Action = WebhookAction{URL: "https://x", Method: "PATCH"} },
			wantErr:  true,
			errField: "action.method",
		},
		{
			name:     "Command with bad qos",
			mutate:   func(r *Rule) { r.Action = DeviceCommandAction{Command: map[string]interface{}{"action": "x"}, QoS: 5} },
			wantErr:  true,
			errField: "action.qos",
		},
		{
			name:     "Mutate without paths",
			mutate:   func(r *Rule) { r.Action = MutateAction{} },
			wantErr:  true,
			errField: "action.set",
		},
		{
			name:     "Unknown action type",
			mutate:   func(r *Rule) { r.Action = UnknownAction{RawType: "email"} },
			wantErr:  true,
			errField: "action.type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r *Rule
			if !tt.nilRule {
				r = validRule()
				tt.mutate(r)
			}

			err := Validate(r)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil {
				if validErr, ok := err.(*ValidationError); ok {
					if validErr.Field != tt.errField {
						t.Errorf("Validate() error field = %v, want %v", validErr.Field, tt.errField)
					}
				} else {
					t.Errorf("Validate() error is not ValidationError")
				}
			}
		})
	}
}

func TestValidateCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 0 1 * *", false},
		{"30 8 * * mon-fri", false},
		{"", true},
		{"   ", true},
		{"* * * *", true},
		{"0 0 * * * *", true},
		{"@hourly", true},
		{"61 * * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCron(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if err != nil && !IsValidationError(err) {
				t.Errorf("ValidateCron(%q) error is not ValidationError", tt.expr)
			}
		})
	}
}

func TestOperatorValid(t *testing.T) {
	for _, op := range Operators {
		if !op.Valid() {
			t.Errorf("operator %q should be valid", op)
		}
	}
	for _, op := range []Operator{"", "eq", "=", "regex"} {
		if op.Valid() {
			t.Errorf("operator %q should be invalid", op)
		}
	}
}
