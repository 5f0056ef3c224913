package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"
)

// LoggingMiddleware logs method, path, remote address and latency for
// every request, the teacher's loggingMiddleware shape.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}

// Thread-safe per-IP rate limiting, adapted from the teacher's
// rateLimitMiddleware. There is no authenticated session concept in
// this system (spec.md's non-goals exclude peer authentication), so
// this limiter guards the whole API surface rather than gating only
// unauthenticated routes.
var (
	rateLimitMu   sync.Mutex
	requestCounts = make(map[string][]time.Time)
	maxRequests   = 600
	timeWindow    = time.Minute
)

// RateLimitMiddleware rejects an IP once it exceeds maxRequests within
// timeWindow.
func RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr

		rateLimitMu.Lock()
		now := time.Now()
		var recent []time.Time
		for _, t := range requestCounts[ip] {
			if now.Sub(t) < timeWindow {
				recent = append(recent, t)
			}
		}
		if len(recent) >= maxRequests {
			requestCounts[ip] = recent
			rateLimitMu.Unlock()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		requestCounts[ip] = append(recent, now)
		rateLimitMu.Unlock()

		next.ServeHTTP(w, r)
	})
}
