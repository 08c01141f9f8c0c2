// Package web contains the HTTP plumbing shared by the control, file, and log services.
package web

import (
	"context"
	"encoding/json"
	myErrors "github.com/andygello555/try-playwright/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"net/http"
	"time"
)

// ShutdownTimeout is how long ListenAndServe waits for in-flight requests once its context is done.
const ShutdownTimeout = 10 * time.Second

// HandlerFunc is an http.HandlerFunc that returns an error. Use Handle to convert it to an http.HandlerFunc.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle converts the HandlerFunc to an http.HandlerFunc that responds to any returned error using Error.
func Handle(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			Error(w, r, err)
		}
	}
}

// ErrorBody is the JSON body that is sent with every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// JSON writes the body as JSON with the given status code.
func JSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return errors.Wrap(json.NewEncoder(w).Encode(body), "could not encode response")
}

// Error responds with the status code of the error (see myErrors.Status) and an ErrorBody containing the error's
// message. Server errors are logged to the request's log entry.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := myErrors.Status(err)
	logger := httplog.LogEntry(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	} else {
		logger.Warn().Err(err).Int("status", status).Msg("request rejected")
	}
	_ = JSON(w, status, ErrorBody{Error: err.Error()})
}

// Text writes the body as plain text with the given status code.
func Text(w http.ResponseWriter, status int, body string) error {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, err := w.Write([]byte(body))
	return errors.Wrap(err, "could not write response")
}

// NewLogger creates the JSON request logger for the named service.
func NewLogger(service string, level string) zerolog.Logger {
	if level == "" {
		level = "info"
	}
	return httplog.NewLogger(service, httplog.Options{
		JSON:     true,
		LogLevel: level,
		Concise:  true,
	})
}

// NewRouter creates a chi.Router that logs every request using the logger. The request logger also sets a request ID
// on every request and recovers from panics.
func NewRouter(logger zerolog.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(httplog.RequestLogger(logger))
	return router
}

// ListenAndServe serves the handler on the address until the context is done, after which the server is shut down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return errors.Wrapf(err, "could not listen on %s", addr)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrapf(err, "could not shutdown server on %s", addr)
		}
		if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "server on %s stopped unexpectedly", addr)
		}
		return nil
	}
}
