package bridgeapi

import (
	"net/http"
	"time"
)

// Health is an unauthenticated liveness probe.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Metrics renders the gateway's in-process counters, histograms, and
// gauges as JSON.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.SetGauge("queue_depth", float64(s.queue.Len()))
	s.metrics.SetGauge("pool_size", float64(s.pool.Size()))
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// metricsMiddleware records every request's latency and outcome under
// the "bridge" category; auth/queue/pool/cache/breaker/hub/admin
// categories are recorded closer to where those operations happen.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.Record("bridge", time.Since(start), sw.status >= 400)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
