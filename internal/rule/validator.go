//file: internal/rule/validator.go
package rule

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Five fields, minute first. Descriptors such as @hourly are rejected.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks a rule before it is sent to the admin API. The builder
// already produces valid rules; this guards rules from other sources such
// as batch files and edits.
func Validate(rule *Rule) error {
	if rule == nil {
		return invalid("rule", "rule cannot be nil")
	}

	if strings.TrimSpace(rule.Name) == "" {
		return invalid("name", "name cannot be empty")
	}
	if rule.Priority < 1 {
		return invalid("priority", "priority must be a positive integer")
	}

	switch rule.RuleType {
	case RuleTypeEvent:
	case RuleTypeScheduled:
		if err := ValidateCron(rule.CronSchedule); err != nil {
			return err
		}
	default:
		return invalid("rule_type", "invalid rule type: %s", rule.RuleType)
	}

	if err := ValidateCondition(&rule.Condition); err != nil {
		return err
	}

	return validateAction(rule.Action)
}

// ValidateCron requires a non-empty five-field cron expression.
func ValidateCron(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return invalid("cron_schedule", "a cron schedule is required for scheduled rules")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return &ValidationError{
			Field:   "cron_schedule",
			Message: fmt.Sprintf("invalid cron schedule: %v", err),
			Err:     err,
		}
	}
	return nil
}

// ValidateCondition validates a single condition
func ValidateCondition(condition *Condition) error {
	if strings.TrimSpace(condition.Field) == "" {
		return invalid("field", "field cannot be empty")
	}
	if !condition.Op.Valid() {
		return invalid("op", "invalid operator: %s", condition.Op)
	}
	return nil
}

// validateAction checks if an action configuration is valid
func validateAction(action Action) error {
	switch a := action.(type) {
	case nil:
		return invalid("action", "action cannot be nil")
	case AlertAction:
		if !a.Priority.Valid() {
			return invalid("action.priority", "invalid alert priority: %s", a.Priority)
		}
	case DeviceCommandAction:
		if len(a.Command) == 0 {
			return invalid("action.command", "command cannot be empty")
		}
		if a.QoS < 0 || a.QoS > 2 {
			return invalid("action.qos", "QoS must be 0, 1, or 2")
		}
	case WebhookAction:
		if strings.TrimSpace(a.URL) == "" {
			return invalid("action.url", "webhook URL cannot be empty")
		}
		switch a.Method {
		case "GET", "POST", "PUT":
		default:
			return invalid("action.method", "invalid webhook method: %s", a.Method)
		}
	case MutateAction:
		if len(a.Set) == 0 {
			return invalid("action.set", "mutate action must set at least one path")
		}
		for path := range a.Set {
			if strings.TrimSpace(path) == "" {
				return invalid("action.set", "mutate path cannot be empty")
			}
		}
	case RouteAction:
		if err := validatePublishTopic(a.Topic); err != nil {
			return &ValidationError{Field: "action.topic", Message: err.Error(), Err: err}
		}
	case DropAction:
	case UnknownAction:
		return invalid("action.type", "unsupported action type: %q", a.RawType)
	}
	return nil
}

// validatePublishTopic checks a concrete topic a message can be sent to.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("topic cannot contain wildcards")
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("topic cannot contain NUL characters")
	}
	return nil
}
