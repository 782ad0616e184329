package draft

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-rules/internal/rule"
	"device-rules/internal/schema"
)

func testBuilder() *rule.Builder {
	return rule.NewBuilder(rule.BuildOptions{}, nil)
}

func TestNewDraftDefaults(t *testing.T) {
	d := NewDraft()

	assert.Equal(t, "", d.Name)
	assert.Equal(t, Text("100"), d.Priority)
	assert.True(t, d.IsActive)
	assert.Equal(t, rule.RuleTypeEvent, d.RuleType)
	assert.Equal(t, rule.OpGreaterThan, d.Op)
	assert.Equal(t, schema.CustomField, d.Field)
	assert.Equal(t, 1, d.Action.CommandQoS)
	assert.Equal(t, "POST", d.Action.WebhookMethod)
	assert.Equal(t, rule.AlertMedium, d.Action.AlertPriority)

	// Every call returns an independent value.
	d.Name = "changed"
	d.Action.CommandQoS = 2
	assert.Equal(t, "", NewDraft().Name)
	assert.Equal(t, 1, NewDraft().Action.CommandQoS)
}

func TestParsePriority(t *testing.T) {
	tests := map[Text]int{
		"10":    10,
		" 7 ":   7,
		"":      rule.DefaultPriority,
		"0":     rule.DefaultPriority,
		"-5":    rule.DefaultPriority,
		"1.5":   rule.DefaultPriority,
		"high":  rule.DefaultPriority,
		"99999": 99999,
	}
	for in, want := range tests {
		d := NewDraft()
		d.Priority = in
		assert.Equal(t, want, d.ParsePriority(), "priority %q", in)
	}
}

func TestBuildCoercesNumericValue(t *testing.T) {
	d := NewDraft()
	d.Field = "payload.temperature"
	d.Op = rule.OpGreaterThan
	d.Value = "50"
	d.Action = rule.ActionForm{Kind: rule.KindDrop}

	r, err := d.Build(testBuilder())
	require.NoError(t, err)
	assert.Equal(t, rule.Condition{Field: "payload.temperature", Op: rule.OpGreaterThan, Value: 50.0}, r.Condition)

	data, err := json.Marshal(r.Condition)
	require.NoError(t, err)
	assert.JSONEq(t, `{"field": "payload.temperature", "op": ">", "value": 50}`, string(data))
}

func TestBuildDeviceCommandCarriesStop(t *testing.T) {
	for _, stop := range []bool{false, true} {
		d := NewDraft()
		d.Field = "payload.temperature"
		d.Value = "80"
		d.Action.Kind = rule.KindDeviceCommand
		d.Action.Command = "reboot"
		d.Action.Stop = stop

		r, err := d.Build(testBuilder())
		require.NoError(t, err)

		data, err := rule.MarshalAction(r.Action)
		require.NoError(t, err)
		want := `{"type": "device_command", "command": {"action": "reboot"}, "qos": 1, "stop": false}`
		if stop {
			want = `{"type": "device_command", "command": {"action": "reboot"}, "qos": 1, "stop": true}`
		}
		assert.JSONEq(t, want, string(data))
	}
}

func TestBuildRejectsWebhookBody(t *testing.T) {
	d := NewDraft()
	d.Field = "payload.temperature"
	d.Action.Kind = rule.KindWebhook
	d.Action.WebhookURL = "https://hooks.example.com/x"
	d.Action.WebhookHeaders = `{"Authorization":"Bearer x"}`
	d.Action.WebhookBody = "not-json"

	r, err := d.Build(testBuilder())
	require.Error(t, err)
	assert.Nil(t, r.Action)

	var ve *rule.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "body", ve.Field)

	var syntaxErr *json.SyntaxError
	assert.ErrorAs(t, err, &syntaxErr)
}

func TestBuildDefaultsAndFields(t *testing.T) {
	d := NewDraft()
	d.Field = schema.CustomField
	d.CustomField = "  payload.custom.path "
	d.Value = " on "
	d.Priority = "abc"
	d.Action.Kind = rule.KindAlert

	r, err := d.Build(testBuilder())
	require.NoError(t, err)
	assert.Equal(t, rule.DefaultName, r.Name)
	assert.Equal(t, rule.DefaultPriority, r.Priority)
	assert.True(t, r.IsActive)
	assert.Equal(t, "payload.custom.path", r.Condition.Field)
	assert.Equal(t, "on", r.Condition.Value)
	assert.Equal(t, rule.AlertAction{Title: "Rule triggered", Priority: rule.AlertMedium}, r.Action)
	assert.Empty(t, r.CronSchedule)
}

func TestBuildRejects(t *testing.T) {
	tests := []struct {
		name      string
		edit      func(d *Draft)
		wantField string
	}{
		{
			name:      "custom field left blank",
			edit:      func(d *Draft) { d.Field = schema.CustomField },
			wantField: "field",
		},
		{
			name:      "unknown operator",
			edit:      func(d *Draft) { d.Op = "~=" },
			wantField: "op",
		},
		{
			name:      "scheduled without cron",
			edit:      func(d *Draft) { d.RuleType = rule.RuleTypeScheduled },
			wantField: "cron_schedule",
		},
		{
			name: "scheduled with bad cron",
			edit: func(d *Draft) {
				d.RuleType = rule.RuleTypeScheduled
				d.CronSchedule = "every minute"
			},
			wantField: "cron_schedule",
		},
		{
			name:      "no action kind",
			edit:      func(d *Draft) { d.Action.Kind = "" },
			wantField: "kind",
		},
		{
			name:      "invalid rule type",
			edit:      func(d *Draft) { d.RuleType = "sometimes" },
			wantField: "rule_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDraft()
			d.Field = "payload.temperature"
			d.Action.Kind = rule.KindDrop
			tt.edit(&d)

			_, err := d.Build(testBuilder())
			var ve *rule.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestBuildScheduled(t *testing.T) {
	d := NewDraft()
	d.Field = "payload.valve.open"
	d.Op = rule.OpEquals
	d.Value = "true"
	d.RuleType = rule.RuleTypeScheduled
	d.CronSchedule = " */5 * * * * "
	d.Action.Kind = rule.KindCloseValve

	r, err := d.Build(testBuilder())
	require.NoError(t, err)
	assert.Equal(t, "*/5 * * * *", r.CronSchedule)
	assert.Equal(t, true, r.Condition.Value)
	assert.Equal(t, rule.MutateAction{Set: map[string]interface{}{"payload.command": "close_valve"}}, r.Action)
}

func TestBuildRoundTrip(t *testing.T) {
	forms := []rule.ActionForm{
		{Kind: rule.KindAlert, AlertTitle: "Hot", AlertMessage: "Too hot", AlertPriority: rule.AlertCritical, Stop: true},
		{Kind: rule.KindDeviceCommand, Command: `{"action":"set","level":3}`, CommandTopic: "cmd/dev-1", CommandQoS: 2},
		{Kind: rule.KindWebhook, WebhookURL: "https://x.test", WebhookMethod: "put", WebhookBody: `{"t":"{{payload.temperature}}"}`},
		{Kind: rule.KindDrop, DropReason: "noise"},
		{Kind: rule.KindFlagWarning, PresetValue: "critical"},
		{Kind: rule.KindCustomRoute, RouteTopic: "alerts/hot"},
		{Kind: rule.KindCustomMutate, MutatePath: "payload.level", MutateValue: "3"},
	}

	for _, form := range forms {
		t.Run(string(form.Kind), func(t *testing.T) {
			d := NewDraft()
			d.Name = "Round trip"
			d.Priority = "5"
			d.IsActive = false
			d.Field = "payload.status"
			d.Op = rule.OpContains
			d.Value = "err"
			d.Action = form

			built, err := d.Build(testBuilder())
			require.NoError(t, err)

			data, err := json.Marshal(built)
			require.NoError(t, err)

			var parsed rule.Rule
			require.NoError(t, json.Unmarshal(data, &parsed))
			assert.Equal(t, built, parsed)
		})
	}
}

func TestTextUnmarshalJSON(t *testing.T) {
	var d Draft
	require.NoError(t, json.Unmarshal([]byte(`{"priority": 20, "value": true}`), &d))
	assert.Equal(t, Text("20"), d.Priority)
	assert.Equal(t, Text("true"), d.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"priority": "7", "value": null}`), &d))
	assert.Equal(t, Text("7"), d.Priority)
	assert.Equal(t, Text(""), d.Value)

	assert.Error(t, json.Unmarshal([]byte(`{"value": {"a": 1}}`), &d))
}
