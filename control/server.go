package control

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/andygello555/try-playwright/db/models"
	myErrors "github.com/andygello555/try-playwright/errors"
	"github.com/andygello555/try-playwright/logagg"
	"github.com/andygello555/try-playwright/tasks"
	"github.com/andygello555/try-playwright/web"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// LogService is the name the control service's logs are posted to the log aggregator under.
const LogService = "control"

// Executor sends a request to a worker and waits for its response. tasks.ErrTimeout is returned if the worker does
// not respond within the timeout.
type Executor interface {
	Execute(ctx context.Context, request *workertypes.RequestPayload, timeout time.Duration) (*workertypes.ResponsePayload, error)
}

// Store persists shares and executions. It is implemented by models.GormStore.
type Store interface {
	CreateShare(ctx context.Context, code string, language workertypes.Language) (string, error)
	GetShare(ctx context.Context, id string) (*models.Share, error)
	RecordExecution(ctx context.Context, execution *models.Execution) error
	Ping(ctx context.Context) error
}

// Server is the control service's HTTP API.
type Server struct {
	Executor     Executor
	Store        Store
	Turnstile    *Turnstile
	RunTimeout   time.Duration
	MaxShareSize int64
	// NewRequestID generates the ID of each run. A random UUID is used by default.
	NewRequestID func() string
}

// NewServer creates a Server from the given Config.
func NewServer(executor Executor, store Store, config Config) *Server {
	server := &Server{
		Executor:     executor,
		Store:        store,
		RunTimeout:   DefaultRunTimeout,
		MaxShareSize: DefaultMaxShareSize,
		NewRequestID: func() string { return uuid.New().String() },
	}
	if config != nil {
		if config.ControlRunTimeout() > 0 {
			server.RunTimeout = config.ControlRunTimeout()
		}
		if config.ControlMaxShareSize() > 0 {
			server.MaxShareSize = config.ControlMaxShareSize()
		}
		server.Turnstile = NewTurnstile(config.ControlTurnstileSecret(), config.ControlTurnstileURL())
	}
	return server
}

// Routes returns the handler for all the control service's routes.
func (s *Server) Routes(logger zerolog.Logger) http.Handler {
	router := web.NewRouter(logger)
	router.Route("/service/control", func(r chi.Router) {
		r.Get("/health", web.Handle(s.handleHealth))
		r.Head("/health", web.Handle(s.handleHealth))
		r.Post("/run", web.Handle(s.handleRun))
		r.Get("/share/get/{id}", web.Handle(s.handleShareGet))
		r.Post("/share/create", web.Handle(s.handleShareCreate))
	})
	return router
}

// readUserIP returns the first address in the X-Forwarded-For header, or the host of the remote address if there
// isn't one.
func readUserIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// decodeBody decodes the JSON body of the request into v. The body can be at most s.MaxShareSize bytes.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.ContentLength > s.MaxShareSize {
		return myErrors.StatusErrorf(http.StatusRequestEntityTooLarge, "body is larger than %d bytes", s.MaxShareSize)
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.MaxShareSize)).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return myErrors.StatusErrorf(http.StatusRequestEntityTooLarge, "body is larger than %d bytes", s.MaxShareSize)
		}
		return myErrors.StatusWrap(http.StatusBadRequest, err, "could not decode request body")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		return errors.Wrap(err, "could not ping database")
	}
	return web.Text(w, http.StatusOK, "OK")
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) (err error) {
	var request workertypes.RequestPayload
	if err = s.decodeBody(w, r, &request); err != nil {
		return err
	}
	if !request.Language.IsValid() {
		return myErrors.StatusErrorf(
			http.StatusBadRequest, "language %q is not supported, must be one of %v",
			request.Language, workertypes.SupportedLanguages(),
		)
	}

	ip := readUserIP(r)
	if err = s.Turnstile.Validate(r.Context(), request.Token, ip); err != nil {
		return myErrors.StatusWrap(http.StatusForbidden, err, "could not validate turnstile token")
	}
	request.Token = ""
	request.RequestID = s.NewRequestID()
	request.TestID = r.Header.Get("X-Test-ID")

	logs := new(bytes.Buffer)
	defer logagg.DeferPost(LogService, &request.TestID, &request.RequestID, logs)()
	logger := httplog.LogEntry(r.Context()).
		Output(zerolog.MultiLevelWriter(os.Stdout, zerolog.ConsoleWriter{Out: logs, NoColor: true})).
		With().
		Str("requestId", request.RequestID).
		Str("testId", request.TestID).
		Str("language", request.Language.String()).
		Logger()
	logger.Info().Int("size", len(request.Code)).Msg("dispatching run")

	start := time.Now()
	var response *workertypes.ResponsePayload
	if response, err = s.Executor.Execute(r.Context(), &request, s.RunTimeout); err != nil {
		if !errors.Is(err, tasks.ErrTimeout) {
			return errors.Wrapf(err, "could not execute request %s", request.RequestID)
		}
		logger.Warn().Dur("timeout", s.RunTimeout).Msg("run timed out")
		if err = s.Store.RecordExecution(r.Context(), models.NewExecution(&request, nil, r.UserAgent(), ip)); err != nil {
			return err
		}
		return web.JSON(w, http.StatusRequestTimeout, web.ErrorBody{Error: "Timeout!"})
	}
	response.Duration = time.Since(start).Milliseconds()
	logger.Info().
		Bool("success", response.Success).
		Int64("duration", response.Duration).
		Int("files", len(response.Files)).
		Msgf("run finished in %dms", response.Duration)

	if err = s.Store.RecordExecution(r.Context(), models.NewExecution(&request, response, r.UserAgent(), ip)); err != nil {
		return err
	}

	status := http.StatusOK
	if !response.Success {
		status = http.StatusBadRequest
	}
	return web.JSON(w, status, response)
}

// SharePayload is the body of a share.
type SharePayload struct {
	Code     string               `json:"code"`
	Language workertypes.Language `json:"language"`
}

// ShareKey is the response to creating a share.
type ShareKey struct {
	Key string `json:"key"`
}

func (s *Server) handleShareGet(w http.ResponseWriter, r *http.Request) error {
	share, err := s.Store.GetShare(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrShareNotFound) {
			return myErrors.StatusWrap(http.StatusNotFound, err, "could not get share")
		}
		return err
	}
	return web.JSON(w, http.StatusOK, SharePayload{Code: share.Code, Language: share.Language})
}

func (s *Server) handleShareCreate(w http.ResponseWriter, r *http.Request) (err error) {
	var payload SharePayload
	if err = s.decodeBody(w, r, &payload); err != nil {
		return err
	}
	if payload.Language == "" {
		payload.Language = workertypes.JavaScript
	}
	if !payload.Language.IsValid() {
		return myErrors.StatusErrorf(http.StatusBadRequest, "language %q is not supported", payload.Language)
	}

	var key string
	if key, err = s.Store.CreateShare(r.Context(), payload.Code, payload.Language); err != nil {
		return err
	}
	return web.JSON(w, http.StatusOK, ShareKey{Key: key})
}
