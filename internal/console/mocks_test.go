package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"device-rules/internal/rule"
	"device-rules/internal/schema"
)

// fakeBackend keeps rules in memory per device.
type fakeBackend struct {
	mu        sync.Mutex
	rules     map[string][]rule.Rule
	listErr   error
	createErr error
	deleteErr error
	nextID    int

	lists   int
	created []rule.Rule
	deletes []rule.ID

	// started and release, when set, hold CreateRule until release closes.
	started chan struct{}
	release chan struct{}
}

func newFakeBackend(deviceID string, rules ...rule.Rule) *fakeBackend {
	return &fakeBackend{rules: map[string][]rule.Rule{deviceID: rules}}
}

func (f *fakeBackend) ListRules(ctx context.Context, deviceID string) ([]rule.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]rule.Rule(nil), f.rules[deviceID]...), nil
}

func (f *fakeBackend) CreateRule(ctx context.Context, deviceID string, r rule.Rule) (*rule.Rule, error) {
	if f.started != nil {
		close(f.started)
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	stored := r
	stored.ID = rule.ID(fmt.Sprintf("r-%d", f.nextID))
	stored.DeviceID = rule.ID(deviceID)
	f.created = append(f.created, r)
	f.rules[deviceID] = append(f.rules[deviceID], stored)
	return &stored, nil
}

func (f *fakeBackend) UpdateRule(ctx context.Context, deviceID string, ruleID rule.ID, patch map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, r := range f.rules[deviceID] {
		if r.ID == ruleID {
			if active, ok := patch["is_active"].(bool); ok {
				f.rules[deviceID][i].IsActive = active
			}
		}
	}
	return nil
}

func (f *fakeBackend) DeleteRule(ctx context.Context, deviceID string, ruleID rule.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, ruleID)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	kept := f.rules[deviceID][:0]
	for _, r := range f.rules[deviceID] {
		if r.ID != ruleID {
			kept = append(kept, r)
		}
	}
	f.rules[deviceID] = kept
	return nil
}

func (f *fakeBackend) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deletes)
}

// fakeLookup resolves every device to fields, or to byDevice when the
// device has an entry there.
type fakeLookup struct {
	source   schema.Source
	fields   []schema.FieldOption
	byDevice map[string][]schema.FieldOption

	mu    sync.Mutex
	gates map[string]*gate
}

type gate struct {
	started chan struct{}
	release chan struct{}
}

// block holds the next lookup of deviceID until release is called. Later
// lookups of the same device are not held.
func (f *fakeLookup) block(deviceID string) (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gates == nil {
		f.gates = make(map[string]*gate)
	}
	g := &gate{started: make(chan struct{}), release: make(chan struct{})}
	f.gates[deviceID] = g
	return g.started, func() { close(g.release) }
}

func (f *fakeLookup) Resolve(ctx context.Context, dev schema.DeviceRef) schema.Resolution {
	f.mu.Lock()
	g := f.gates[dev.ID]
	delete(f.gates, dev.ID)
	f.mu.Unlock()

	if g != nil {
		close(g.started)
		select {
		case <-g.release:
		case <-ctx.Done():
			return schema.Resolution{Device: dev, Source: schema.SourceNone}
		}
	}

	fields, ok := f.byDevice[dev.ID]
	if !ok {
		fields = f.fields
	}
	return schema.Resolution{Device: dev, Source: f.source, Fields: fields}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
