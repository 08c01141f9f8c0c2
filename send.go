package main

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/pkg/errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// languageExtensions maps file extensions to the language that files with that extension are run as.
var languageExtensions = map[string]workertypes.Language{
	".js":    workertypes.JavaScript,
	".mjs":   workertypes.JavaScript,
	".ts":    workertypes.JavaScript,
	".py":    workertypes.Python,
	".java":  workertypes.Java,
	".cs":    workertypes.CSharp,
	".hjson": workertypes.Flow,
}

// languageFromPath returns the language of the file at the given path from its extension.
func languageFromPath(path string) (workertypes.Language, error) {
	language, ok := languageExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", errors.Errorf("cannot infer the language of %s, use --language", path)
	}
	return language, nil
}

// sendFile submits the file at path to the control service at url, and writes the indented response to out.
func sendFile(ctx context.Context, url, path string, language workertypes.Language, testID string, out io.Writer) (err error) {
	var code []byte
	if code, err = os.ReadFile(path); err != nil {
		return errors.Wrapf(err, "could not read %s", path)
	}
	if language == "" {
		if language, err = languageFromPath(path); err != nil {
			return err
		}
	}

	var body []byte
	if body, err = json.Marshal(workertypes.RequestPayload{Code: string(code), Language: language}); err != nil {
		return errors.Wrap(err, "could not encode request")
	}

	endpoint := strings.TrimSuffix(url, "/") + "/service/control/run"
	var req *http.Request
	if req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body)); err != nil {
		return errors.Wrapf(err, "could not create request to %s", endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	if testID != "" {
		req.Header.Set("X-Test-ID", testID)
	}

	var res *http.Response
	if res, err = http.DefaultClient.Do(req); err != nil {
		return errors.Wrapf(err, "could not send %s to %s", path, endpoint)
	}
	defer res.Body.Close()

	var data []byte
	if data, err = io.ReadAll(res.Body); err != nil {
		return errors.Wrap(err, "could not read response")
	}
	switch res.StatusCode {
	case http.StatusOK, http.StatusBadRequest, http.StatusRequestTimeout:
		var indented bytes.Buffer
		if json.Indent(&indented, data, "", "    ") != nil {
			indented.Reset()
			indented.Write(data)
		}
		indented.WriteString("\n")
		_, err = out.Write(indented.Bytes())
		return err
	default:
		return errors.Errorf("control service responded with %s: %s", res.Status, strings.TrimSpace(string(data)))
	}
}
