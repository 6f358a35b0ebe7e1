// Package mockbackend serves fake network telemetry for the netpulse
// examples and CLI demos.
//
// Four JSON endpoints are served:
//
//	/api/connections  active TCP connections
//	/api/icmp         ping round-trip times per host
//	/api/sockets      listening sockets
//	/api/ai           a flaky classifier that fails now and then
//
// Values drift on every request so polling clients see their data change.
package mockbackend

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Backend holds the drifting state behind the mock endpoints.
type Backend struct {
	mu       sync.Mutex
	rng      *rand.Rand
	conns    int
	failRate float64
	logger   *slog.Logger
}

// New returns a Backend whose /api/ai endpoint fails with probability
// failRate (clamped to [0,1]).
func New(failRate float64, logger *slog.Logger) *Backend {
	if failRate < 0 {
		failRate = 0
	}
	if failRate > 1 {
		failRate = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		conns:    20,
		failRate: failRate,
		logger:   logger,
	}
}

// Handler routes the mock endpoints.
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/connections", b.handleConnections)
	mux.HandleFunc("GET /api/icmp", b.handleICMP)
	mux.HandleFunc("GET /api/sockets", b.handleSockets)
	mux.HandleFunc("GET /api/ai", b.handleAI)
	return mux
}

type connection struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
	State  string `json:"state"`
}

func (b *Backend) handleConnections(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.conns += b.rng.Intn(7) - 3
	if b.conns < 0 {
		b.conns = 0
	}
	n := b.conns
	conns := make([]connection, 0, min(n, 5))
	for i := 0; i < n && i < 5; i++ {
		conns = append(conns, connection{
			Local:  "10.0.0.2:" + strconv.Itoa(40000+b.rng.Intn(20000)),
			Remote: "93.184.216.34:443",
			State:  "ESTABLISHED",
		})
	}
	b.mu.Unlock()

	b.writeJSON(w, map[string]any{"count": n, "sample": conns})
}

func (b *Backend) handleICMP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	hosts := map[string]float64{
		"gateway":   0.5 + b.rng.Float64(),
		"dns":       8 + 4*b.rng.Float64(),
		"upstream":  20 + 30*b.rng.Float64(),
		"far-probe": 90 + 60*b.rng.Float64(),
	}
	b.mu.Unlock()

	b.writeJSON(w, map[string]any{"data": map[string]any{"hosts": hosts, "unit": "ms"}})
}

func (b *Backend) handleSockets(w http.ResponseWriter, r *http.Request) {
	b.writeJSON(w, map[string]any{"listening": []map[string]any{
		{"proto": "tcp", "port": 22},
		{"proto": "tcp", "port": 443},
		{"proto": "udp", "port": 53},
	}})
}

func (b *Backend) handleAI(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	fail := b.rng.Float64() < b.failRate
	score := b.rng.Float64()
	b.mu.Unlock()

	if fail {
		b.logger.Info("mock ai endpoint failing on purpose")
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
		return
	}
	label := "normal"
	if score > 0.8 {
		label = "anomalous"
	}
	b.writeJSON(w, map[string]any{"label": label, "score": score})
}

func (b *Backend) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		b.logger.Error("failed to write response", "error", err)
	}
}

