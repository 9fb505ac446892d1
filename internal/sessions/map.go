package sessions

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/iris/internal/store"
)

// Entry is one conversation → Agent session binding.
type Entry struct {
	Key            string    `json:"key"`
	AgentSessionID string    `json:"agentSessionId"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivity   time.Time `json:"lastActivity"`
}

// CreateFunc creates a new Agent session and returns its id.
type CreateFunc func(ctx context.Context, title string) (string, error)

// Map is the persistent conversation index, backed by session-map.json.
// Reads hit the in-memory copy; mutations go through the file lock and only
// advance memory when the write succeeds.
type Map struct {
	mu      sync.RWMutex
	file    *store.JSONFile
	entries map[string]Entry
	now     func() time.Time
}

// NewMap opens session-map.json under dir and loads existing entries.
func NewMap(dir string) (*Map, error) {
	f, err := store.NewJSONFile(dir + "/session-map.json")
	if err != nil {
		return nil, err
	}
	m := &Map{file: f, entries: make(map[string]Entry), now: time.Now}

	var list []Entry
	if err := f.Load(&list); err != nil {
		return nil, err
	}
	for _, e := range list {
		m.entries[e.Key] = e
	}
	return m, nil
}

// Resolve returns the Agent session for key, creating one via create when
// none exists. created reports whether a new Agent session was made.
func (m *Map) Resolve(ctx context.Context, key, title string, create CreateFunc) (agentSessionID string, created bool, err error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		m.Touch(key)
		return e.AgentSessionID, false, nil
	}

	id, err := create(ctx, title)
	if err != nil {
		return "", false, err
	}

	now := m.now()
	entry := Entry{Key: key, AgentSessionID: id, CreatedAt: now, LastActivity: now}
	if err := m.persist(func(entries map[string]Entry) {
		entries[key] = entry
	}); err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Get returns the entry for key without touching it.
func (m *Map) Get(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	return e, ok
}

// Touch updates lastActivity. Persistence failures are ignored; the
// timestamp is advisory.
func (m *Map) Touch(key string) {
	_ = m.persist(func(entries map[string]Entry) {
		if e, ok := entries[key]; ok {
			e.LastActivity = m.now()
			entries[key] = e
		}
	})
}

// Reset removes the binding for key. The next Resolve creates a fresh Agent
// session. Returns whether an entry existed.
func (m *Map) Reset(key string) (bool, error) {
	m.mu.RLock()
	_, existed := m.entries[key]
	m.mu.RUnlock()
	if !existed {
		return false, nil
	}
	err := m.persist(func(entries map[string]Entry) {
		delete(entries, key)
	})
	return existed, err
}

// List returns all entries sorted by key.
func (m *Map) List() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// persist applies mutate to the on-disk document under the file lock, then
// mirrors the result into memory.
func (m *Map) persist(mutate func(map[string]Entry)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result map[string]Entry
	err := m.file.Update(func(decode func(any) error) (any, error) {
		var list []Entry
		if err := decode(&list); err != nil {
			return nil, err
		}
		entries := make(map[string]Entry, len(list)+1)
		for _, e := range list {
			entries[e.Key] = e
		}
		mutate(entries)

		out := make([]Entry, 0, len(entries))
		for _, e := range entries {
			out = append(out, e)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
		result = entries
		return out, nil
	})
	if err != nil {
		return err
	}
	m.entries = result
	return nil
}
