// Package services implements the domain pipelines: memory writes,
// retrieval, conversation state, query orchestration, compaction,
// feedback aggregation, auto-tuning, and the maintenance sweeps the
// worker schedules.
package services

import (
	"strconv"
	"sync"
)

// Override keys the tuner writes and other components read.
const (
	OverrideSemanticCacheEnabled = "semantic_cache_enabled"
	OverrideDefaultModel         = "default_model"
	OverrideContextLimit         = "context_limit"
)

// Overrides is the runtime configuration layer the auto-tuner mutates.
// Values are stored as strings, matching how decisions are logged;
// readers fall back to their compile-time default when a key is unset
// or unparsable.
type Overrides struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewOverrides creates an empty override map.
func NewOverrides() *Overrides {
	return &Overrides{values: make(map[string]string)}
}

// Set stores an override.
func (o *Overrides) Set(key, value string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.values[key] = value
}

// Unset removes an override so readers see their default again.
func (o *Overrides) Unset(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.values, key)
}

// String returns the override for key, or fallback when unset.
func (o *Overrides) String(key, fallback string) string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.values[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Bool returns the override parsed as a bool, or fallback.
func (o *Overrides) Bool(key string, fallback bool) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.values[key]; ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// Int returns the override parsed as an int, or fallback.
func (o *Overrides) Int(key string, fallback int) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if v, ok := o.values[key]; ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// Snapshot copies the current override set, for the admin surface.
func (o *Overrides) Snapshot() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]string, len(o.values))
	for k, v := range o.values {
		out[k] = v
	}
	return out
}
