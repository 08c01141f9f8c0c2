package sock

import (
	"context"
	"fmt"
	"github.com/RichardKnop/machinery/v1/log"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"io"
	"time"
)

// DialWait is the time waited between each attempt to dial in Tail.
var DialWait = 2 * time.Second

// Dial dials the websocket at url, retrying every DialWait until it has tried attempts times or the context is done.
func Dial(ctx context.Context, url string, attempts int) (c *websocket.Conn, err error) {
	for attempt := 1; ; attempt++ {
		if c, _, err = websocket.DefaultDialer.DialContext(ctx, url, nil); err == nil {
			return c, nil
		}
		if attempt >= attempts {
			return nil, errors.Wrapf(err, "could not dial into %s after %d attempts", url, attempt)
		}
		log.WARNING.Printf("Could not dial into %s: %s, waiting %s", url, err.Error(), DialWait)
		select {
		case <-time.After(DialWait):
		case <-ctx.Done():
			return nil, errors.Wrapf(ctx.Err(), "stopped dialling into %s", url)
		}
	}
}

// Tail dials into the websocket at url and writes each message it receives to out, on its own line, until the
// server closes the connection or the context is done.
func Tail(ctx context.Context, url string, out io.Writer, attempts int) (err error) {
	var c *websocket.Conn
	if c, err = Dial(ctx, url, attempts); err != nil {
		return err
	}
	defer c.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = c.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			_ = c.Close()
		case <-stop:
		}
	}()

	for {
		var message []byte
		if _, message, err = c.ReadMessage(); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrapf(err, "could not read from %s", url)
		}
		if _, err = fmt.Fprintln(out, string(message)); err != nil {
			return errors.Wrap(err, "could not write message")
		}
	}
}
