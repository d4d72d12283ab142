// Package logserver implements the HTTP surface of spec.md §4.6: live log
// streaming over the bus's pub/sub fan-out, plus queue/metrics read
// endpoints, using go-chi/chi as the router (the teacher's HTTP stack
// equivalent for this component — buildkite-agent itself is a client, not
// a server, so chi is adopted from the rest of the retrieved examples
// rather than grounded on agenthttp).
package logserver

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chaotic-cx/chaotic-manager-sub000/internal/bus"
	"github.com/chaotic-cx/chaotic-manager-sub000/logger"
	"github.com/chaotic-cx/chaotic-manager-sub000/metrics"
)

// endGrace is how long the stream keeps reading after an END sentinel,
// to flush any message still in flight (spec.md §4.4/§4.6).
const endGrace = 1 * time.Second

var pkgbaseRe = regexp.MustCompile(`^[A-Za-z0-9_\-+.]+$`)

// Coordinator is the subset of coordinator.Coordinator the log server
// needs, kept as an interface so this package never imports coordinator
// directly — it is reached over the bus RPC transport in production but a
// fake satisfies the interface in tests.
type Coordinator interface {
	JobExistsRPC(ctx context.Context, pkgbase string, ts int64) (bool, error)
	GetQueueRPC(ctx context.Context) (json.RawMessage, error)
	GetAvailableNodesRPC(ctx context.Context) (json.RawMessage, error)
}

// Server wires the bus's log storage/fan-out and the coordinator's RPC
// surface into the chi routes of spec.md §4.6/§6.
type Server struct {
	bus     *bus.Bus
	coord   Coordinator
	metrics *metrics.Collector
	log     logger.Logger
}

func New(b *bus.Bus, coord Coordinator, m *metrics.Collector, l logger.Logger) *Server {
	return &Server{bus: b, coord: coord, metrics: m, log: l}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/logs/{pkgbase}/{ts}", s.handleLogWithTimestamp)
	r.Get("/api/logs/{pkgbase}", s.handleLogDefault)
	r.Get("/api/queue/stats", s.handleQueueStats)
	r.Get("/api/queue/packages", s.handleQueuePackages)
	r.Get("/api/queue/metrics", s.handleQueueMetrics)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	return r
}

func decodePkgbase(raw string) string {
	// URL-escaped '+' arrives as a literal space after chi's own decoding
	// in some client libraries (spec.md §4.6: "%2B → +").
	out := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		if raw[i] == ' ' {
			out = append(out, '+')
			continue
		}
		out = append(out, raw[i])
	}
	return string(out)
}

func (s *Server) handleLogDefault(w http.ResponseWriter, r *http.Request) {
	pkgbase := decodePkgbase(chi.URLParam(r, "pkgbase"))
	if !pkgbaseRe.MatchString(pkgbase) {
		http.Error(w, "invalid pkgbase", http.StatusBadRequest)
		return
	}
	ts, ok, err := s.bus.DefaultTimestamp(r.Context(), pkgbase)
	if err != nil || !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	s.streamLog(w, r, pkgbase, ts)
}

func (s *Server) handleLogWithTimestamp(w http.ResponseWriter, r *http.Request) {
	pkgbase := decodePkgbase(chi.URLParam(r, "pkgbase"))
	tsRaw := chi.URLParam(r, "ts")
	if !pkgbaseRe.MatchString(pkgbase) || !isAllDigits(tsRaw) {
		http.Error(w, "invalid pkgbase or timestamp", http.StatusBadRequest)
		return
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		http.Error(w, "invalid timestamp", http.StatusBadRequest)
		return
	}
	s.streamLog(w, r, pkgbase, ts)
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// streamLog implements the subscribe-then-read-prefix protocol of spec.md
// §4.4: subscribe first, then fetch the stored prefix, so the union of
// "what was already stored" and "what arrives on the channel from here" is
// exact with neither a gap nor a duplicate.
func (s *Server) streamLog(w http.ResponseWriter, r *http.Request, pkgbase string, ts int64) {
	ctx := r.Context()

	if exists, err := s.coord.JobExistsRPC(ctx, pkgbase, ts); err == nil && !exists {
		if _, ok, _ := s.bus.LogPrefix(ctx, pkgbase, ts); !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
	}

	sub := s.bus.SubscribeLog(ctx, pkgbase, ts)
	defer sub.Close()

	prefix, _, err := s.bus.LogPrefix(ctx, pkgbase, ts)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(prefix))
	if flusher != nil {
		flusher.Flush()
	}

	ch := sub.Channel()
	var endAt <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if bus.IsEnd(msg.Payload) {
				timer := time.NewTimer(endGrace)
				defer timer.Stop()
				endAt = timer.C
				continue
			}
			if chunk, isLog := bus.SplitLogMessage(msg.Payload); isLog {
				_, _ = w.Write([]byte(chunk))
				if flusher != nil {
					flusher.Flush()
				}
			}
		case <-endAt:
			return
		}
	}
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	s.proxyCoordinator(w, r, s.coord.GetQueueRPC)
}

func (s *Server) handleQueuePackages(w http.ResponseWriter, r *http.Request) {
	s.proxyCoordinator(w, r, s.coord.GetQueueRPC)
}

func (s *Server) handleQueueMetrics(w http.ResponseWriter, r *http.Request) {
	s.proxyCoordinator(w, r, s.coord.GetAvailableNodesRPC)
}

func (s *Server) proxyCoordinator(w http.ResponseWriter, r *http.Request, fetch func(context.Context) (json.RawMessage, error)) {
	payload, err := fetch(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}
