package draft

import (
	"context"
	"sync"

	"device-rules/internal/rule"
	"device-rules/internal/schema"
)

type fakeCreator struct {
	mu      sync.Mutex
	err     error
	echo    bool
	created []rule.Rule
	devices []string

	// started and release, when set, hold CreateRule until release closes.
	started chan struct{}
	release chan struct{}
}

func (f *fakeCreator) CreateRule(ctx context.Context, deviceID string, r rule.Rule) (*rule.Rule, error) {
	if f.started != nil {
		close(f.started)
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, r)
	f.devices = append(f.devices, deviceID)
	if !f.echo {
		return nil, nil
	}
	stored := r
	stored.ID = "srv-1"
	stored.DeviceID = rule.ID(deviceID)
	return &stored, nil
}

func (f *fakeCreator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type fakeResolver struct {
	fields map[string][]schema.FieldOption
	err    error
}

func (f *fakeResolver) Select(ctx context.Context, dev schema.DeviceRef) (schema.Resolution, error) {
	if f.err != nil {
		return schema.Resolution{}, f.err
	}
	fields := f.fields[dev.ID]
	source := schema.SourceSchema
	if len(fields) == 0 {
		source = schema.SourceNone
	}
	return schema.Resolution{Device: dev, Source: source, Fields: fields}, nil
}

type fakeList struct {
	mu        sync.Mutex
	device    string
	refreshes int
	err       error
}

func (f *fakeList) SetDevice(deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.device = deviceID
}

func (f *fakeList) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.err
}

func (f *fakeList) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes
}
