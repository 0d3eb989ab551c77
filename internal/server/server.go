package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/Sandotech/Arduino-Climate-Control-System/internal/handlers"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/logger"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/metrics"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/sensor"
	"github.com/Sandotech/Arduino-Climate-Control-System/internal/serial"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

// Link is the part of the serial link the API needs.
type Link interface {
	IsOpen() bool
	Write(ctx context.Context, command string) error
	PortName() string
	BaudRate() int
}

// ReadingSource returns the latest reading.
type ReadingSource interface {
	Get() sensor.Reading
}

// Options configures the API.
type Options struct {
	CommandTimeout     time.Duration
	SingleCharCommands bool
	MetricsEnabled     bool
	Assets             fs.FS            // static front end; nil serves nothing
	LogStream          http.HandlerFunc // WebSocket log stream; nil disables /ws/logs
}

// API holds all dependencies for the HTTP handlers.
type API struct {
	link      Link
	readings  ReadingSource
	opts      Options
	listPorts func() ([]serial.PortInfo, error)
}

// NewAPI creates a new API instance.
func NewAPI(link Link, readings ReadingSource, opts Options) *API {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 3 * time.Second
	}
	return &API{
		link:      link,
		readings:  readings,
		opts:      opts,
		listPorts: serial.ListPorts,
	}
}

// Handler returns the router wrapped with recovery, access log and
// request-ID middleware.
func (a *API) Handler() http.Handler {
	return wrap(a.routes())
}

func (a *API) routes() *mux.Router {
	// Match on the escaped path without cleaning so /command/%2F and
	// /command/. reach HandleCommand instead of being redirected.
	r := mux.NewRouter().UseEncodedPath().SkipClean(true)

	// The bare paths and the /api aliases used by the bundled page.
	for _, prefix := range []string{"", "/api"} {
		r.HandleFunc(prefix+"/data", a.HandleData).Methods(http.MethodGet, http.MethodHead)
		r.HandleFunc(prefix+"/command/{char}", a.HandleCommand).Methods(http.MethodGet)
	}

	r.HandleFunc("/api/v1/status", a.HandleStatus).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/v1/ports", a.HandlePorts).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/settings", handlers.HandleGetSettings).Methods(http.MethodGet)

	if a.opts.LogStream != nil {
		r.HandleFunc("/ws/logs", a.opts.LogStream)
	}
	if a.opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if a.opts.Assets != nil {
		r.PathPrefix("/").Handler(http.FileServer(http.FS(a.opts.Assets)))
	}
	return r
}

// HandleData returns the latest reading, or the sentinel reading if the
// device has not sent anything yet. It never fails.
func (a *API) HandleData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.readings.Get())
}

// HandleCommand percent-decodes the {char} path segment and forwards it to
// the device as is.
func (a *API) HandleCommand(w http.ResponseWriter, r *http.Request) {
	command, err := url.PathUnescape(mux.Vars(r)["char"])
	if err != nil {
		metrics.Commands.WithLabelValues("rejected").Inc()
		ErrorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("malformed command segment: %v", err))
		return
	}

	if a.opts.SingleCharCommands && utf8.RuneCountInString(command) != 1 {
		metrics.Commands.WithLabelValues("rejected").Inc()
		ErrorResponse(w, r, http.StatusBadRequest, fmt.Sprintf("command must be a single character, got %q", command))
		return
	}

	if !a.link.IsOpen() {
		metrics.Commands.WithLabelValues("unavailable").Inc()
		ErrorResponse(w, r, http.StatusServiceUnavailable, "Serial port not open")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.opts.CommandTimeout)
	defer cancel()

	start := time.Now()
	err = a.link.Write(ctx, command)
	metrics.CommandWrite.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, serial.ErrLinkUnavailable):
		metrics.Commands.WithLabelValues("unavailable").Inc()
		ErrorResponse(w, r, http.StatusServiceUnavailable, "Serial port not open")
	case err != nil:
		metrics.Commands.WithLabelValues("failed").Inc()
		ErrorResponse(w, r, http.StatusInternalServerError, err.Error())
	default:
		metrics.Commands.WithLabelValues("sent").Inc()
		writeJSON(w, http.StatusOK, CommandResponse{Status: "sent", Command: command})
	}
}

// HandleStatus reports whether the serial link is usable.
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Connected: a.link.IsOpen(),
		Port:      a.link.PortName(),
		BaudRate:  a.link.BaudRate(),
	})
}

// HandlePorts lists the serial ports the system currently sees.
func (a *API) HandlePorts(w http.ResponseWriter, r *http.Request) {
	ports, err := a.listPorts()
	if err != nil {
		ErrorResponse(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ports)
}

// Start binds addr and serves h until ctx is cancelled, then shuts down
// gracefully. A bind failure is returned immediately.
func Start(ctx context.Context, addr string, h http.Handler) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not bind to address '%s': %w", addr, err)
	}
	return Serve(ctx, listener, h)
}

// Serve is Start for an existing listener.
func Serve(ctx context.Context, listener net.Listener, h http.Handler) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Web interface running at http://%s", listener.Addr())
		errCh <- srv.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down web server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}
