package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	myErrors "github.com/andygello555/try-playwright/errors"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/pkg/errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// UploadPath is the path of the file service's upload endpoint.
const UploadPath = "/api/v1/file/upload"

// Uploader sends the files created by an Execution to the file service.
type Uploader struct {
	URL        string
	HTTPClient *http.Client
}

func NewUploader(url string) *Uploader {
	return &Uploader{URL: strings.TrimSuffix(url, "/"), HTTPClient: &http.Client{Timeout: 30 * time.Second}}
}

func (u *Uploader) body(files []string) (*bytes.Buffer, string, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for i, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", errors.Wrapf(err, "could not read %s", path)
		}
		part, err := writer.CreateFormFile(fmt.Sprintf("file-%d", i), filepath.Base(path))
		if err != nil {
			return nil, "", errors.Wrapf(err, "could not create form file for %s", path)
		}
		if _, err = part.Write(data); err != nil {
			return nil, "", errors.Wrapf(err, "could not write form file for %s", path)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", errors.Wrap(err, "could not close multipart writer")
	}
	return body, writer.FormDataContentType(), nil
}

// Upload posts the given files to the file service and returns the public files it created. No request is made when
// there are no files. Errors that are worth retrying, such as connection errors and 5xx responses, are temporary
// errors.
func (u *Uploader) Upload(ctx context.Context, files []string, requestID, testID string) ([]workertypes.File, error) {
	if len(files) == 0 {
		return []workertypes.File{}, nil
	}

	body, contentType, err := u.body(files)
	if err != nil {
		return nil, err
	}

	var req *http.Request
	if req, err = http.NewRequestWithContext(ctx, http.MethodPost, u.URL+UploadPath, body); err != nil {
		return nil, errors.Wrap(err, "could not create upload request")
	}
	req.Header.Set("Content-Type", contentType)
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	if testID != "" {
		req.Header.Set("X-Test-ID", testID)
	}

	var res *http.Response
	if res, err = u.HTTPClient.Do(req); err != nil {
		return nil, myErrors.TemporaryWrap(true, err, "could not send upload request")
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		message, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, myErrors.TemporaryErrorf(
			res.StatusCode >= http.StatusInternalServerError,
			"file service responded with %s: %s", res.Status, strings.TrimSpace(string(message)),
		)
	}

	uploaded := make([]workertypes.File, 0, len(files))
	if err = json.NewDecoder(res.Body).Decode(&uploaded); err != nil {
		return nil, errors.Wrap(err, "could not decode upload response")
	}
	return uploaded, nil
}
