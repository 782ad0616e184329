package schema

import (
	"context"
	"errors"
	"sync"
)

type fakeLive struct {
	mu      sync.Mutex
	fields  map[string][]LiveField
	errs    map[string]error
	started map[string]chan struct{}
	gates   map[string]chan struct{}
	calls   []string
}

func newFakeLive() *fakeLive {
	return &fakeLive{
		fields:  map[string][]LiveField{},
		errs:    map[string]error{},
		started: map[string]chan struct{}{},
		gates:   map[string]chan struct{}{},
	}
}

// block makes lookups for deviceID wait until the returned release func is
// called. The started channel closes once the lookup is in flight.
func (f *fakeLive) block(deviceID string) (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := make(chan struct{})
	g := make(chan struct{})
	f.started[deviceID] = s
	f.gates[deviceID] = g
	return s, func() { close(g) }
}

func (f *fakeLive) LiveFields(ctx context.Context, deviceID string) ([]LiveField, error) {
	f.mu.Lock()
	f.calls = append(f.calls, deviceID)
	started, gate := f.started[deviceID], f.gates[deviceID]
	fields, err := f.fields[deviceID], f.errs[deviceID]
	f.mu.Unlock()

	if started != nil {
		close(started)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return fields, err
}

type fakeSchemas struct {
	nodes map[string]*Node
	err   error
}

func (f *fakeSchemas) DeviceTypeSchema(ctx context.Context, deviceTypeID string) (*Node, error) {
	if f.err != nil {
		return nil, f.err
	}
	node, ok := f.nodes[deviceTypeID]
	if !ok {
		return nil, errors.New("device type not found")
	}
	return node, nil
}

type fakeSampler struct {
	msg []byte
	err error
}

func (f *fakeSampler) Sample(ctx context.Context, deviceID string) ([]byte, error) {
	return f.msg, f.err
}
