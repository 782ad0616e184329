package stats

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// StatsCollector keeps process-wide rule builder counters for /stats.
type StatsCollector struct {
	StartTime time.Time

	rulesSubmitted     atomic.Uint64
	validationFailures atomic.Uint64
	apiErrors          atomic.Uint64
	staleSelections    atomic.Uint64
	rulesToggled       atomic.Uint64
	rulesDeleted       atomic.Uint64

	mu         sync.RWMutex
	lastUpdate time.Time
}

// NewStatsCollector creates a new stats collector
func NewStatsCollector() *StatsCollector {
	now := time.Now()
	return &StatsCollector{
		StartTime:  now,
		lastUpdate: now,
	}
}

func (s *StatsCollector) touch() {
	s.mu.Lock()
	s.lastUpdate = time.Now()
	s.mu.Unlock()
}

func (s *StatsCollector) IncRulesSubmitted() {
	s.rulesSubmitted.Add(1)
	s.touch()
}

func (s *StatsCollector) IncValidationFailures() {
	s.validationFailures.Add(1)
	s.touch()
}

func (s *StatsCollector) IncAPIErrors() {
	s.apiErrors.Add(1)
	s.touch()
}

func (s *StatsCollector) IncStaleSelections() {
	s.staleSelections.Add(1)
	s.touch()
}

func (s *StatsCollector) IncRulesToggled() {
	s.rulesToggled.Add(1)
	s.touch()
}

func (s *StatsCollector) IncRulesDeleted() {
	s.rulesDeleted.Add(1)
	s.touch()
}

// LastUpdate returns when a counter last changed.
func (s *StatsCollector) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// GetStats returns current statistics
func (s *StatsCollector) GetStats() map[string]interface{} {
	uptime := time.Since(s.StartTime)
	return map[string]interface{}{
		"uptime":              uptime.String(),
		"rules_submitted":     s.rulesSubmitted.Load(),
		"validation_failures": s.validationFailures.Load(),
		"api_errors":          s.apiErrors.Load(),
		"stale_selections":    s.staleSelections.Load(),
		"rules_toggled":       s.rulesToggled.Load(),
		"rules_deleted":       s.rulesDeleted.Load(),
		"submit_rate":         s.CalculateRate(),
		"last_update":         s.LastUpdate(),
	}
}

// GetStatsJSON returns stats as JSON
func (s *StatsCollector) GetStatsJSON() ([]byte, error) {
	return json.Marshal(s.GetStats())
}

// CalculateRate returns accepted submissions per second of uptime.
func (s *StatsCollector) CalculateRate() float64 {
	uptime := time.Since(s.StartTime).Seconds()
	if uptime <= 0 {
		return 0
	}
	return float64(s.rulesSubmitted.Load()) / uptime
}
