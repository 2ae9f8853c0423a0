// Package middleware wraps the matcher API with request ids, Prometheus
// instrumentation and a per-request deadline.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/metrics"
)

const (
	referencesRoute = "/api/v1/references"
	otherRoute      = "other"
)

// routes lists every label value routeLabel may produce besides otherRoute.
var routes = map[string]bool{
	referencesRoute:                 true,
	referencesRoute + "/{id}":       true,
	referencesRoute + "/{id}/match": true,
	"/api/v1/cache/stats":           true,
	"/health/live":                  true,
	"/health/ready":                 true,
}

// Metrics counts and times every request by method, route and status. Route
// labels come from a fixed set so arbitrary ids and scanner paths cannot grow
// the series count.
func Metrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.HTTPRequestsInFlight.Inc()
			defer m.HTTPRequestsInFlight.Dec()

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			route := routeLabel(r.URL.Path)
			m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.code())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// statusRecorder remembers the first status written. A handler that only
// calls Write has implicitly sent 200.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

func (s *statusRecorder) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// routeLabel replaces the reference id segment with {id} and maps anything
// outside the API to otherRoute.
func routeLabel(path string) string {
	if rest, ok := strings.CutPrefix(path, referencesRoute+"/"); ok && rest != "" {
		id, tail, _ := strings.Cut(rest, "/")
		if id != "" {
			path = referencesRoute + "/{id}"
			if tail != "" {
				path += "/" + tail
			}
		}
	}
	if routes[path] {
		return path
	}
	return otherRoute
}
