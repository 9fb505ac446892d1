package channels

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/bus"
)

// Registry tracks live adapters and their connection state. Adapter events
// pass through the registry's sink so connection bookkeeping stays in one
// place before events reach the router.
type Registry struct {
	mu        sync.RWMutex
	adapters  map[string]Adapter
	connected map[string]bool
	sink      bus.EventSink
}

// NewRegistry creates a registry forwarding events to downstream (may be
// nil until SetSink is called).
func NewRegistry(downstream bus.EventSink) *Registry {
	r := &Registry{
		adapters:  make(map[string]Adapter),
		connected: make(map[string]bool),
	}
	r.sink = downstream
	return r
}

// SetSink installs the downstream event consumer. Must be called before
// StartAll when the registry was created without one.
func (r *Registry) SetSink(sink bus.EventSink) {
	r.mu.Lock()
	r.sink = sink
	r.mu.Unlock()
}

// Register adds an adapter under its id.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	r.adapters[a.ID()] = a
	r.mu.Unlock()
}

// Get returns the adapter for id.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns registered adapter ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Connected reports whether the adapter has an active transport.
func (r *Registry) Connected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected[id]
}

// ConnectedCount returns the number of connected adapters.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ok := range r.connected {
		if ok {
			n++
		}
	}
	return n
}

// Sink returns the event sink adapters should emit into. It records
// connect/disconnect transitions, then forwards to the downstream sink.
func (r *Registry) Sink() bus.EventSink {
	return func(ev bus.AdapterEvent) {
		switch ev.Kind {
		case bus.EventConnected:
			r.mu.Lock()
			r.connected[ev.ChannelID] = true
			r.mu.Unlock()
		case bus.EventDisconnected:
			r.mu.Lock()
			r.connected[ev.ChannelID] = false
			r.mu.Unlock()
		}

		r.mu.RLock()
		downstream := r.sink
		r.mu.RUnlock()
		if downstream != nil {
			downstream(ev)
		}
	}
}

// StartAll starts every registered adapter. A failing adapter is logged and
// skipped; the gateway runs with whatever connected.
func (r *Registry) StartAll(ctx context.Context) {
	for _, id := range r.IDs() {
		a, _ := r.Get(id)
		log.Info().Str("channel", id).Str("type", a.Type()).Msg("starting channel")
		if err := a.Start(ctx); err != nil {
			log.Error().Str("channel", id).Err(err).Msg("failed to start channel")
		}
	}
}

// StopAll stops every registered adapter.
func (r *Registry) StopAll(ctx context.Context) {
	for _, id := range r.IDs() {
		a, _ := r.Get(id)
		log.Info().Str("channel", id).Msg("stopping channel")
		if err := a.Stop(ctx); err != nil {
			log.Error().Str("channel", id).Err(err).Msg("error stopping channel")
		}
	}
}
