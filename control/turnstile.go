package control

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/RichardKnop/machinery/v1/log"
	"github.com/pkg/errors"
	"net/http"
	"time"
)

// Turnstile validates Cloudflare Turnstile tokens.
type Turnstile struct {
	Secret     string
	URL        string
	HTTPClient *http.Client
}

// NewTurnstile creates a Turnstile that uses the given secret. The DefaultTurnstileURL is used when url is empty.
func NewTurnstile(secret, url string) *Turnstile {
	if url == "" {
		url = DefaultTurnstileURL
	}
	return &Turnstile{Secret: secret, URL: url, HTTPClient: &http.Client{Timeout: 15 * time.Second}}
}

type turnstileResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes,omitempty"`
}

// Validate checks the token for the client at remoteIP. Validation is skipped, with a warning, when no secret is
// configured or the remote IP is unknown.
func (t *Turnstile) Validate(ctx context.Context, token, remoteIP string) (err error) {
	if t == nil || t.Secret == "" {
		log.WARNING.Printf("Turnstile secret is empty, skipping validation")
		return nil
	}
	if remoteIP == "" {
		log.WARNING.Printf("Turnstile remote IP is empty, skipping validation")
		return nil
	}
	if token == "" {
		return errors.New("no token provided")
	}

	var body []byte
	if body, err = json.Marshal(map[string]string{
		"secret":   t.Secret,
		"response": token,
		"remoteip": remoteIP,
	}); err != nil {
		return errors.Wrap(err, "could not encode turnstile request")
	}

	var req *http.Request
	if req, err = http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body)); err != nil {
		return errors.Wrap(err, "could not create turnstile request")
	}
	req.Header.Set("Content-Type", "application/json")

	var res *http.Response
	if res, err = t.HTTPClient.Do(req); err != nil {
		return errors.Wrap(err, "could not send turnstile request")
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return errors.Errorf("turnstile responded with %s", res.Status)
	}

	var result turnstileResponse
	if err = json.NewDecoder(res.Body).Decode(&result); err != nil {
		return errors.Wrap(err, "could not decode turnstile response")
	}
	if !result.Success {
		return errors.Errorf("turnstile validation failed: %v", result.ErrorCodes)
	}
	return nil
}
