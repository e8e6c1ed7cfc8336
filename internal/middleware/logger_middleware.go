package middleware

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"memo-sync/pkg/logger"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// LoggerMiddleware logs one line per request; server errors at warn level.
func LoggerMiddleware(lg *zap.Logger) func(http.Handler) http.Handler {
	lg = logger.OrNop(lg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String(logger.FieldMethod, r.Method),
				zap.String(logger.FieldPath, r.URL.Path),
				zap.Int(logger.FieldHTTPStatus, rw.statusCode),
				zap.Duration(logger.FieldDuration, time.Since(start)),
				zap.String("remote", r.RemoteAddr),
			}

			if rw.statusCode >= http.StatusInternalServerError {
				lg.Warn("request", fields...)
				return
			}
			lg.Info("request", fields...)
		})
	}
}
