package control

import "time"

const (
	// DefaultRunTimeout is how long a run waits for a worker to respond.
	DefaultRunTimeout = 30 * time.Second
	// DefaultMaxShareSize is the largest request body, in bytes, that can be shared or run.
	DefaultMaxShareSize = 64 << 10
	// DefaultTurnstileURL is Cloudflare's Turnstile verification endpoint.
	DefaultTurnstileURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
)

type Config interface {
	ControlRunTimeout() time.Duration
	ControlMaxShareSize() int64
	ControlTurnstileSecret() string
	ControlTurnstileURL() string
}
