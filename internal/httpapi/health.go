// Package httpapi hosts the gateway's two HTTP surfaces: the read-only
// health/metrics server and the Agent-facing tool server.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/agentapi"
	"github.com/nextlevelbuilder/iris/internal/channels"
	"github.com/nextlevelbuilder/iris/internal/heartbeat"
)

const serverTimeout = 10 * time.Second

// ChannelStatus is one channel's entry in /health and /channels.
type ChannelStatus struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Connected bool   `json:"connected"`
}

// HealthServer serves /health, /ready, /channels and /metrics.
type HealthServer struct {
	addr      string
	version   string
	startedAt time.Time
	registry  *channels.Registry
	agent     *agentapi.Client
	engine    *heartbeat.Engine // may be nil

	prom   *prometheus.Registry
	mounts map[string]http.Handler
}

// NewHealthServer wires the health surface. engine may be nil when the
// heartbeat is disabled.
func NewHealthServer(addr, version string, registry *channels.Registry, agent *agentapi.Client, engine *heartbeat.Engine) *HealthServer {
	s := &HealthServer{
		addr:      addr,
		version:   version,
		startedAt: time.Now(),
		registry:  registry,
		agent:     agent,
		engine:    engine,
		prom:      prometheus.NewRegistry(),
		mounts:    make(map[string]http.Handler),
	}
	s.prom.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "iris_uptime_seconds",
			Help: "Seconds since the gateway started.",
		}, func() float64 { return time.Since(s.startedAt).Seconds() }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "iris_channels_connected",
			Help: "Number of channels with an active transport.",
		}, func() float64 { return float64(s.registry.ConnectedCount()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "iris_memory_rss_bytes",
			Help: "Memory obtained from the OS.",
		}, func() float64 {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return float64(m.Sys)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "iris_memory_heap_used_bytes",
			Help: "Bytes of allocated heap objects.",
		}, func() float64 {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return float64(m.HeapAlloc)
		}),
	)
	return s
}

// Mount attaches an extra handler (e.g. the webchat websocket endpoint).
// Must be called before Start.
func (s *HealthServer) Mount(pattern string, h http.Handler) {
	s.mounts[pattern] = h
}

// Handler returns the route table; split out so tests can drive it without
// binding a port.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/channels", s.handleChannels)
	mux.Handle("/metrics", promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{}))
	for pattern, h := range s.mounts {
		mux.Handle(pattern, h)
	}
	return mux
}

// Start serves until ctx is cancelled.
func (s *HealthServer) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info().Str("addr", s.addr).Msg("health server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HealthServer) channelStatuses() []ChannelStatus {
	var out []ChannelStatus
	for _, id := range s.registry.IDs() {
		a, _ := s.registry.Get(id)
		out = append(out, ChannelStatus{ID: id, Type: a.Type(), Connected: s.registry.Connected(id)})
	}
	return out
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	agentHealthy := s.agent.CheckHealth(r.Context())

	status := "ok"
	if !agentHealthy || (s.engine != nil && !s.engine.Healthy()) {
		status = "degraded"
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := map[string]any{
		"status":   status,
		"version":  s.version,
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
		"channels": s.channelStatuses(),
		"opencode": map[string]bool{"healthy": agentHealthy},
		"system": map[string]any{
			"memoryMB":   m.Sys / (1 << 20),
			"goroutines": runtime.NumGoroutine(),
		},
	}
	if s.engine != nil {
		resp["heartbeat"] = s.engine.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HealthServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.registry.ConnectedCount() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "reason": "no channels connected"})
		return
	}
	if !s.agent.CheckHealth(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "reason": "agent unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (s *HealthServer) handleChannels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"channels": s.channelStatuses()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encode failed")
	}
}
