// Package trace tags API requests with an id and records per-request outcome.
package trace

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"papelflow/internal/log"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// HeaderRequestID carries the request id in both directions.
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLen = 64

type ctxKey struct{}

// Middleware assigns every request an id, logs its completion and counts
// ledger mutations separately from reads.
type Middleware struct {
	clientIP func(*http.Request) string
	logger   *log.StructuredLogger

	total        atomic.Int64
	writes       atomic.Int64
	serverErrors atomic.Int64
	totalMicros  atomic.Int64
}

// Metrics is a point in time copy of the counters.
type Metrics struct {
	TotalRequests int64
	Writes        int64
	ServerErrors  int64
	// AverageResponseTime is the mean over all requests, in microseconds.
	AverageResponseTime int64
}

func NewMiddleware(clientIP func(*http.Request) string) *Middleware {
	return &Middleware{
		clientIP: clientIP,
		logger:   log.NewStructuredLogger(log.Default(log.ComponentTrace)),
	}
}

func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(HeaderRequestID)
		if !validRequestID(id) {
			id = NewRequestID()
		}
		w.Header().Set(HeaderRequestID, id)
		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		r = r.WithContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		m.total.Add(1)
		m.totalMicros.Add(elapsed.Microseconds())
		if isWrite(r.Method) {
			m.writes.Add(1)
		}
		if status >= 500 {
			m.serverErrors.Add(1)
		}

		ip := ""
		if m.clientIP != nil {
			ip = m.clientIP(r)
		}
		m.logger.LogHTTPEnd(ctx, r, id, status, elapsed.Milliseconds(), ip)
	})
}

func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

// validRequestID accepts caller supplied ids made of printable ASCII without
// spaces, so they are safe to echo and log.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// NewRequestID returns a fresh "req_" prefixed id.
func NewRequestID() string {
	return "req_" + uuid.NewString()
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// RequestIDFrom adapts GetRequestID for log.RequestIDMiddleware.
func RequestIDFrom(r *http.Request) string {
	return GetRequestID(r.Context())
}

func (m *Middleware) GetMetrics() Metrics {
	out := Metrics{
		TotalRequests: m.total.Load(),
		Writes:        m.writes.Load(),
		ServerErrors:  m.serverErrors.Load(),
	}
	if out.TotalRequests > 0 {
		out.AverageResponseTime = m.totalMicros.Load() / out.TotalRequests
	}
	return out
}
