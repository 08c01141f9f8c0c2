package logagg

import (
	"encoding/json"
	myErrors "github.com/andygello555/try-playwright/errors"
	"github.com/andygello555/try-playwright/sock"
	"github.com/andygello555/try-playwright/web"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"net/http"
	"strings"
)

// MaxRequestBodySize is the maximum size of the body of a POST to /logs.
const MaxRequestBodySize = 1 << 20

// Payload is the body of a POST to /logs.
type Payload struct {
	TestID    string `json:"testId"`
	RequestID string `json:"requestId,omitempty"`
	Service   string `json:"service"`
	Message   string `json:"message"`
}

// Server is the log aggregator's HTTP API.
type Server struct {
	Store *Store
	Hub   *sock.Hub
}

// NewServer creates a Server that stores entries in the given Store.
func NewServer(store *Store) *Server {
	return &Server{Store: store, Hub: sock.NewHub(sock.DefaultBufferSize)}
}

// Routes returns the handler for all the log aggregator's routes.
func (s *Server) Routes(logger zerolog.Logger) http.Handler {
	router := web.NewRouter(logger)
	router.Get("/healthz", web.Handle(s.handleHealth))
	router.Post("/logs", web.Handle(s.handlePost))
	router.Get("/logs/{testId}", web.Handle(s.handleGet))
	router.Get("/logs/{testId}/stream", web.Handle(s.handleStream))
	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	return web.Text(w, http.StatusOK, "ok")
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	defer r.Body.Close()

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return myErrors.StatusWrap(http.StatusBadRequest, err, "could not parse json")
	}
	if strings.TrimSpace(payload.TestID) == "" || strings.TrimSpace(payload.Message) == "" {
		return myErrors.StatusErrorf(http.StatusBadRequest, "missing testId or message")
	}

	added := s.Store.Add(payload.TestID, payload.RequestID, payload.Service, payload.Message)
	for _, entry := range added {
		s.Hub.Publish(payload.TestID, sock.Line{Seq: entry.Seq, Text: entry.String()})
	}
	w.WriteHeader(http.StatusAccepted)
	return nil
}

// lines returns the formatted entries of the test and the Seq of the last one.
func (s *Server) lines(testID string) (lines []string, last uint64) {
	entries := s.Store.Get(testID)
	lines = make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = entry.String()
		last = entry.Seq
	}
	return lines, last
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) error {
	testID := chi.URLParam(r, "testId")
	if strings.TrimSpace(testID) == "" {
		return myErrors.StatusErrorf(http.StatusBadRequest, "missing testId")
	}

	var b strings.Builder
	lines, _ := s.lines(testID)
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return web.Text(w, http.StatusOK, b.String())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) error {
	testID := chi.URLParam(r, "testId")
	// Serve has already responded, or hijacked the connection, by the time it fails
	if err := s.Hub.Serve(w, r, testID, func() ([]string, uint64) { return s.lines(testID) }); err != nil {
		logger := httplog.LogEntry(r.Context())
		logger.Warn().Err(errors.Cause(err)).Str("testId", testID).Msg("log stream ended")
	}
	return nil
}
