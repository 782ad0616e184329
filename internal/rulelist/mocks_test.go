package rulelist

import (
	"context"
	"sync"

	"device-rules/internal/rule"
)

type fakeStore struct {
	mu        sync.Mutex
	rules     map[string][]rule.Rule
	listErr   error
	updateErr error
	deleteErr error

	lists   int
	updates []map[string]interface{}
	deletes []rule.ID
}

func newFakeStore(deviceID string, rules ...rule.Rule) *fakeStore {
	return &fakeStore{rules: map[string][]rule.Rule{deviceID: rules}}
}

func (f *fakeStore) ListRules(ctx context.Context, deviceID string) ([]rule.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]rule.Rule(nil), f.rules[deviceID]...), nil
}

func (f *fakeStore) UpdateRule(ctx context.Context, deviceID string, ruleID rule.ID, patch map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, patch)
	if f.updateErr != nil {
		return f.updateErr
	}
	for i, r := range f.rules[deviceID] {
		if r.ID == ruleID {
			if active, ok := patch["is_active"].(bool); ok {
				f.rules[deviceID][i].IsActive = active
			}
		}
	}
	return nil
}

func (f *fakeStore) DeleteRule(ctx context.Context, deviceID string, ruleID rule.ID) error {
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
