package files

import (
	myErrors "github.com/andygello555/try-playwright/errors"
	"github.com/andygello555/try-playwright/web"
	"github.com/andygello555/try-playwright/workertypes"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog"
	"github.com/google/uuid"
	"github.com/h2non/filetype"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"time"
)

const (
	// DefaultMaxUploadSize is the default maximum size of an upload request in bytes.
	DefaultMaxUploadSize = 10 << 20
	// DefaultPresignExpiry is how long the URLs returned for uploaded files are valid for by default.
	DefaultPresignExpiry = 10 * time.Minute
)

// AllowedMIMETypes are the sniffed MIME types that can be uploaded.
var AllowedMIMETypes = mapset.NewThreadUnsafeSet(
	"image/png",
	"application/pdf",
	"video/webm",
	// Traces recorded by the playwright test runner
	"application/zip",
)

type Config interface {
	FilesMaxUploadSize() int64
	FilesPresignExpiry() time.Duration
}

// Server is the file service's HTTP API.
type Server struct {
	Store         ObjectStore
	MaxUploadSize int64
	PresignExpiry time.Duration
}

// NewServer creates a Server that stores uploads in the given ObjectStore.
func NewServer(store ObjectStore, config Config) *Server {
	server := &Server{Store: store, MaxUploadSize: DefaultMaxUploadSize, PresignExpiry: DefaultPresignExpiry}
	if config != nil {
		if config.FilesMaxUploadSize() > 0 {
			server.MaxUploadSize = config.FilesMaxUploadSize()
		}
		if config.FilesPresignExpiry() > 0 {
			server.PresignExpiry = config.FilesPresignExpiry()
		}
	}
	return server
}

// Routes returns the handler for all the file service's routes.
func (s *Server) Routes(logger zerolog.Logger) http.Handler {
	router := web.NewRouter(logger)
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", web.Handle(s.handleHealth))
		r.Head("/health", web.Handle(s.handleHealth))
		r.Post("/file/upload", web.Handle(s.handleUpload))
	})
	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	return web.Text(w, http.StatusOK, "OK")
}

// uploadedFiles returns the file headers of the multipart form, ordered by field name.
func uploadedFiles(form *multipart.Form) []*multipart.FileHeader {
	fields := maps.Keys(form.File)
	slices.Sort(fields)
	headers := make([]*multipart.FileHeader, 0, len(fields))
	for _, field := range fields {
		headers = append(headers, form.File[field]...)
	}
	return headers
}

func readFileHeader(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "could not open file %q", header.Filename)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	return data, errors.Wrapf(err, "could not read file %q", header.Filename)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) (err error) {
	if r.ContentLength > s.MaxUploadSize {
		return myErrors.StatusErrorf(http.StatusRequestEntityTooLarge, "upload is larger than %d bytes", s.MaxUploadSize)
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadSize)
	if err = r.ParseMultipartForm(s.MaxUploadSize); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return myErrors.StatusWrapf(http.StatusRequestEntityTooLarge, err, "upload is larger than %d bytes", s.MaxUploadSize)
		}
		return myErrors.StatusWrap(http.StatusBadRequest, err, "could not parse form")
	}
	defer r.MultipartForm.RemoveAll()

	logger := httplog.LogEntry(r.Context())
	headers := uploadedFiles(r.MultipartForm)
	out := make([]workertypes.File, 0, len(headers))
	for _, header := range headers {
		var data []byte
		if data, err = readFileHeader(header); err != nil {
			return err
		}

		kind, _ := filetype.Match(data)
		if !AllowedMIMETypes.Contains(kind.MIME.Value) {
			return myErrors.StatusErrorf(http.StatusBadRequest, "not allowed mime-type: %s", header.Filename)
		}

		extension := filepath.Ext(header.Filename)
		objectName := uuid.New().String() + extension
		if err = s.Store.Put(r.Context(), objectName, data, kind.MIME.Value); err != nil {
			return err
		}

		var publicURL *url.URL
		if publicURL, err = s.Store.PresignGet(r.Context(), objectName, s.PresignExpiry); err != nil {
			return errors.Wrap(err, "could not generate public URL")
		}
		out = append(out, workertypes.File{
			FileName:  header.Filename,
			PublicURL: publicURL.EscapedPath() + "?" + publicURL.RawQuery,
			Extension: extension,
		})
		logger.Info().
			Str("fileName", header.Filename).
			Str("object", objectName).
			Str("mime", kind.MIME.Value).
			Str("requestId", r.Header.Get("X-Request-ID")).
			Str("testId", r.Header.Get("X-Test-ID")).
			Msg("stored upload")
	}
	return web.JSON(w, http.StatusCreated, out)
}
