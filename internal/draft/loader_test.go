package draft

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"device-rules/internal/logger"
	"device-rules/internal/rule"
	"device-rules/internal/schema"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const yamlBatch = `
device_id: dev-1
device_type_id: thermostat
drafts:
  - name: Overheat
    priority: 10
    field: payload.temperature
    op: ">"
    value: 50
    action:
      kind: alert
      alert_title: Overheat
      alert_priority: high
  - name: Close valve at night
    rule_type: scheduled
    cron_schedule: "0 22 * * *"
    field: payload.valve.open
    op: "=="
    value: true
    is_active: false
    action:
      kind: close_valve
      stop: true
`

const jsonBatch = `{
  "device_id": "dev-2",
  "drafts": [
    {"name": "Reboot", "priority": 5, "field": "__custom__", "custom_field": "payload.errors",
     "op": ">=", "value": 3, "action": {"kind": "device_command", "command": "reboot"}}
  ]
}`

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a_thermostat.yaml", yamlBatch)
	writeFile(t, dir, "nested/b_pump.json", jsonBatch)
	writeFile(t, dir, "README.md", "ignored")

	batches, err := NewLoader(logger.NewNop()).LoadFromDirectory(dir)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	yb := batches[0]
	assert.Equal(t, schema.DeviceRef{ID: "dev-1", TypeID: "thermostat"}, yb.Device())
	require.Len(t, yb.Drafts, 2)

	first := yb.Drafts[0]
	assert.Equal(t, Text("10"), first.Priority)
	assert.Equal(t, Text("50"), first.Value)
	assert.True(t, first.IsActive, "absent keys keep NewDraft defaults")
	assert.Equal(t, 1, first.Action.CommandQoS)
	assert.Equal(t, rule.AlertHigh, first.Action.AlertPriority)

	second := yb.Drafts[1]
	assert.False(t, second.IsActive)
	assert.Equal(t, rule.RuleTypeScheduled, second.RuleType)
	assert.Equal(t, Text("true"), second.Value)
	assert.True(t, second.Action.Stop)

	jb := batches[1]
	assert.Equal(t, "dev-2", jb.DeviceID)
	require.Len(t, jb.Drafts, 1)
	assert.Equal(t, "payload.errors", jb.Drafts[0].FieldPath())
	assert.Equal(t, "POST", jb.Drafts[0].Action.WebhookMethod)
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"missing device", "a.yaml", "drafts: []\n"},
		{"bad yaml", "b.yml", "device_id: [unclosed\n"},
		{"bad json", "c.json", `{"device_id": "x", "drafts": [`},
		{"bad draft", "d.json", `{"device_id": "x", "drafts": [{"value": {"nested": 1}}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, tt.file, tt.content)

			_, err := NewLoader(nil).LoadFile(filepath.Join(dir, tt.file))
			assert.Error(t, err)

			_, err = NewLoader(nil).LoadFromDirectory(dir)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingDirectory(t *testing.T) {
	_, err := NewLoader(nil).LoadFromDirectory(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "batch.yaml", yamlBatch+`
  - name: Broken
    field: payload.temperature
    action:
      kind: webhook
`)

	batches, err := NewLoader(nil).LoadFromDirectory(dir)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	f := newFixture(t)
	results, err := Apply(context.Background(), f.ctrl, batches[0])
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	var ve *rule.ValidationError
	require.ErrorAs(t, results[2].Err, &ve)
	assert.Equal(t, "url", ve.Field)

	require.Equal(t, 2, f.creator.count())
	assert.Equal(t, rule.Condition{Field: "payload.temperature", Op: rule.OpGreaterThan, Value: 50.0}, f.creator.created[0].Condition)
	assert.Equal(t, 10, f.creator.created[0].Priority)

	scheduled := f.creator.created[1]
	assert.Equal(t, "0 22 * * *", scheduled.CronSchedule)
	assert.False(t, scheduled.IsActive)
	assert.Equal(t, rule.MutateAction{Set: map[string]interface{}{"payload.command": "close_valve"}, Stop: true}, scheduled.Action)
	assert.Equal(t, []string{"dev-1", "dev-1"}, f.creator.devices)
}
