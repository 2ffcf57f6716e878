package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/partyconnect/engage-backend/pkg/logger"
)

// requestTrace collects fields that inner handlers learn about a request
// (the caller, the award outcome) so the completion line can report them.
// Auth runs inside Logging, so its context never reaches the outer handler.
type requestTrace struct {
	mu     sync.Mutex
	fields map[string]any
}

type traceKey struct{}

// Annotate adds a field to the request.complete log line. It is a no-op
// outside the Logging middleware.
func Annotate(ctx context.Context, key string, value any) {
	if ctx == nil {
		return
	}
	trace, ok := ctx.Value(traceKey{}).(*requestTrace)
	if !ok {
		return
	}
	trace.mu.Lock()
	trace.fields[key] = value
	trace.mu.Unlock()
}

func (t *requestTrace) snapshot() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]any, len(t.fields))
	for k, v := range t.fields {
		out[k] = v
	}
	return out
}

// Logging writes one line per finished request. Server errors are logged at
// warn so they surface next to the error entries from responses.WriteError.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logg == nil {
				next.ServeHTTP(w, r)
				return
			}
			trace := &requestTrace{fields: map[string]any{}}
			ctx := context.WithValue(r.Context(), traceKey{}, trace)
			ctx = logg.WithFields(ctx, map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})

			rec := &statusRecorder{ResponseWriter: w}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			fields := trace.snapshot()
			fields["status"] = rec.statusCode()
			fields["bytes"] = rec.bytes
			fields["duration_ms"] = time.Since(start).Milliseconds()
			if rc := chi.RouteContext(r.Context()); rc != nil {
				if pattern := rc.RoutePattern(); pattern != "" {
					fields["route"] = pattern
				}
			}
			ctx = logg.WithFields(ctx, fields)
			if rec.statusCode() >= http.StatusInternalServerError {
				logg.Warn(ctx, "request.complete")
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}
