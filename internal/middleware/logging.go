package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/famcal/internal/auth"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLen = 64

// responseRecorder captures the status and body size. Unwrap exposes the
// underlying writer so WebSocket upgrades can hijack the connection.
type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// entry is filled in by inner middleware and logged once the request is
// done.
type entry struct {
	userID   string
	familyID string
}

type entryKey struct{}

// noteCaller attaches the authenticated caller to the request's log line.
func noteCaller(ctx context.Context, ac auth.AuthContext) {
	if e, ok := ctx.Value(entryKey{}).(*entry); ok {
		e.userID = ac.UserID
		e.familyID = ac.FamilyID
	}
}

// RequestID returns the id RequestLogger assigned to the request.
func RequestID(r *http.Request) string {
	return r.Header.Get(RequestIDHeader)
}

// RequestLogger logs each request with its id, caller, status, size and
// duration. An inbound X-Request-ID is kept; otherwise one is generated.
// Server errors log at error level, client errors at warn.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
				r.Header.Set(RequestIDHeader, id)
			}
			w.Header().Set(RequestIDHeader, id)

			e := &entry{}
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), entryKey{}, e)))

			attrs := []slog.Attr{
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Int("bytes", rec.bytes),
				slog.Duration("duration", time.Since(start)),
				slog.String("remote", RealIP(r)),
			}
			if e.userID != "" {
				attrs = append(attrs, slog.String("user_id", e.userID))
			}
			if e.familyID != "" {
				attrs = append(attrs, slog.String("family_id", e.familyID))
			}

			level := slog.LevelInfo
			switch {
			case rec.status >= 500:
				level = slog.LevelError
			case rec.status >= 400:
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "request", attrs...)
		})
	}
}
