package config

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
)

// ErrImmutableConfig is returned when a Set targets a static key.
var ErrImmutableConfig = errors.New("cannot modify a static config")

// Entry is a single key/value pair from a listing.
type Entry struct {
	Key   string
	Value string
}

// Overlay is a two-tier configuration mapping: a static tier fixed at
// process start and a mutable session tier layered over process defaults.
// In single-session mode one Overlay instance is shared by all handles;
// otherwise each session owns its own. Safe for concurrent use.
type Overlay struct {
	mu       sync.RWMutex
	static   map[string]string
	defaults map[string]string
	session  map[string]string
}

// NewOverlay creates an overlay over the given static and default tiers.
// The supplied properties seed the session tier; seeding a static key fails.
func NewOverlay(static, defaults, properties map[string]string) (*Overlay, error) {
	o := &Overlay{
		static:   make(map[string]string, len(static)),
		defaults: make(map[string]string, len(defaults)),
		session:  make(map[string]string, len(properties)),
	}
	maps.Copy(o.static, static)
	maps.Copy(o.defaults, defaults)
	for k, v := range properties {
		if err := o.Set(k, v); err != nil {
			return nil, fmt.Errorf("seeding session property %q: %w", k, err)
		}
	}
	return o, nil
}

// Get resolves the effective value of a key: session tier first, then
// process defaults, then the static tier.
func (o *Overlay) Get(key string) (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if v, ok := o.session[key]; ok {
		return v, true
	}
	if v, ok := o.defaults[key]; ok {
		return v, true
	}
	v, ok := o.static[key]
	return v, ok
}

// Set mutates the session tier. Static keys are rejected with
// ErrImmutableConfig and the effective value is unchanged.
func (o *Overlay) Set(key, value string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, static := o.static[key]; static {
		return fmt.Errorf("%w: %s", ErrImmutableConfig, key)
	}
	o.session[key] = value
	return nil
}

// Unset removes a key from the session tier, restoring the default.
// Static keys are rejected with ErrImmutableConfig.
func (o *Overlay) Unset(key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, static := o.static[key]; static {
		return fmt.Errorf("%w: %s", ErrImmutableConfig, key)
	}
	delete(o.session, key)
	return nil
}

// ListAll returns the effective configuration sorted by key. With
// includeDefaults false only session-tier overrides are listed; with it
// true the listing also covers defaults and static keys.
func (o *Overlay) ListAll(includeDefaults bool) []Entry {
	o.mu.RLock()
	defer o.mu.RUnlock()

	effective := make(map[string]string, len(o.session))
	if includeDefaults {
		maps.Copy(effective, o.static)
		maps.Copy(effective, o.defaults)
	}
	maps.Copy(effective, o.session)

	keys := make([]string, 0, len(effective))
	for k := range effective {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, Entry{Key: k, Value: effective[k]})
	}
	return entries
}

// Snapshot returns a copy of the effective configuration for capture at
// statement submission time.
func (o *Overlay) Snapshot() map[string]string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := make(map[string]string, len(o.static)+len(o.defaults)+len(o.session))
	maps.Copy(snap, o.static)
	maps.Copy(snap, o.defaults)
	maps.Copy(snap, o.session)
	return snap
}

// GetBool resolves a key as a boolean, returning fallback when the key is
// absent or not parseable as "true"/"false".
func (o *Overlay) GetBool(key string, fallback bool) bool {
	v, ok := o.Get(key)
	if !ok {
		return fallback
	}
	switch v {
	case "true", "TRUE", "1":
		return true
	case "false", "FALSE", "0":
		return false
	default:
		return fallback
	}
}
