package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
)

// RequestIDHeader carries the per-request ID on requests and responses.
const RequestIDHeader = "X-Request-ID"

// withRequestID keeps a well-formed incoming request ID or assigns a new one.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		logger.Debug("HTTP Request: %s %s (id=%s)", r.Method, r.URL.Path, id)
		next.ServeHTTP(w, r)
	})
}

// recoveryLogger adapts the leveled logger to handlers.RecoveryHandlerLogger.
type recoveryLogger struct{}

func (recoveryLogger) Println(v ...interface{}) {
	logger.Error("HTTP handler panic: %s", strings.TrimSpace(fmt.Sprintln(v...)))
}

// wrap applies panic recovery, the DEBUG-level access log and request IDs.
func wrap(h http.Handler) http.Handler {
	h = withRequestID(h)
	h = handlers.LoggingHandler(logger.DebugWriter(), h)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{}))(h)
}
