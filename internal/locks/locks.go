// Package locks serializes mutations per aircraft and per component without
// a global lock. Waits are bounded; a timeout surfaces as a ConflictError so
// the caller decides whether to retry.
package locks

import (
	"sort"
	"strings"
	"sync"
	"time"

	"fleet_ledger/internal/faults"
)

const (
	aircraftPrefix  = "aircraft:"
	componentPrefix = "component:"
)

// AircraftKey and ComponentKey build lock keys. Aircraft keys sort before
// component keys, which gives every caller the same acquisition order.
func AircraftKey(id string) string  { return aircraftPrefix + id }
func ComponentKey(id string) string { return componentPrefix + id }

// DefaultTimeout is used when a Manager is created with a non-positive timeout.
const DefaultTimeout = 2 * time.Second

type keyLock struct {
	ch   chan struct{}
	refs int
}

// Manager hands out exclusive keyed locks.
type Manager struct {
	mu      sync.Mutex
	keys    map[string]*keyLock
	timeout time.Duration
}

func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		keys:    make(map[string]*keyLock),
		timeout: timeout,
	}
}

// Acquire locks every key in sorted order and returns a func releasing them.
// The wait budget covers the whole set. On timeout, locks already taken are
// released and a ConflictError naming the contended key is returned.
func (m *Manager) Acquire(keys ...string) (func(), error) {
	sorted := dedupe(keys)
	deadline := time.NewTimer(m.timeout)
	defer deadline.Stop()

	held := make([]string, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			m.unlock(held[i])
		}
	}

	for _, key := range sorted {
		kl := m.ref(key)
		select {
		case kl.ch <- struct{}{}:
			held = append(held, key)
		case <-deadline.C:
			m.unref(key)
			release()
			entity, id := splitKey(key)
			return nil, faults.Conflict(entity, id, "lock wait timed out after %s", m.timeout)
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func (m *Manager) ref(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl, ok := m.keys[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		m.keys[key] = kl
	}
	kl.refs++
	return kl
}

func (m *Manager) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl, ok := m.keys[key]
	if !ok {
		return
	}
	kl.refs--
	if kl.refs == 0 {
		delete(m.keys, key)
	}
}

func (m *Manager) unlock(key string) {
	m.mu.Lock()
	kl := m.keys[key]
	m.mu.Unlock()
	if kl == nil {
		return
	}
	<-kl.ch
	m.unref(key)
}

// held reports the number of keys currently tracked, for tests.
func (m *Manager) held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func splitKey(key string) (entity, id string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "lock", key
}
