// Package sock streams lines of text to websocket clients.
package sock

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultBufferSize is the number of lines that can be queued for a subscriber before lines start being dropped.
	DefaultBufferSize = 256
	writeWait         = 10 * time.Second
)

// Line is a line of text published under a key. Seq increases with every line published under the same key, starting
// at 1.
type Line struct {
	Seq  uint64
	Text string
}

// Hub fans out lines published under a key to every subscriber of that key.
type Hub struct {
	BufferSize int
	Upgrader   websocket.Upgrader

	mutex       sync.RWMutex
	subscribers map[string]mapset.Set[chan Line]
}

// NewHub creates a Hub where each subscriber can queue up to bufferSize lines. DefaultBufferSize is used when
// bufferSize is not positive.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		BufferSize: bufferSize,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subscribers: make(map[string]mapset.Set[chan Line]),
	}
}

// Subscribe returns a channel that receives every line published under the key and a function that unsubscribes the
// channel and closes it.
func (h *Hub) Subscribe(key string) (<-chan Line, func()) {
	ch := make(chan Line, h.BufferSize)
	h.mutex.Lock()
	subscribers, ok := h.subscribers[key]
	if !ok {
		subscribers = mapset.NewThreadUnsafeSet[chan Line]()
		h.subscribers[key] = subscribers
	}
	subscribers.Add(ch)
	h.mutex.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mutex.Lock()
			defer h.mutex.Unlock()
			if subscribers, ok := h.subscribers[key]; ok {
				subscribers.Remove(ch)
				if subscribers.Cardinality() == 0 {
					delete(h.subscribers, key)
				}
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers for the key.
func (h *Hub) Subscribers(key string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if subscribers, ok := h.subscribers[key]; ok {
		return subscribers.Cardinality()
	}
	return 0
}

// Publish sends the line to every subscriber of the key without blocking. Subscribers whose buffer is full miss the
// line. The number of subscribers that received the line is returned.
func (h *Hub) Publish(key string, line Line) (delivered int) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	subscribers, ok := h.subscribers[key]
	if !ok {
		return 0
	}
	subscribers.Each(func(ch chan Line) bool {
		select {
		case ch <- line:
			delivered++
		default:
		}
		return false
	})
	return
}

// Serve upgrades the request to a websocket and writes every line published under the key to it as a text message
// until the client disconnects or the request is cancelled. The lines returned by backlog are written first, along with
// the Seq of the last of them. backlog is called after subscribing so that no lines published in between are missed,
// and published lines with a Seq at or below the one returned by backlog are skipped as they have already been written.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, key string, backlog func() ([]string, uint64)) (err error) {
	var conn *websocket.Conn
	if conn, err = h.Upgrader.Upgrade(w, r, nil); err != nil {
		return errors.Wrapf(err, "could not upgrade connection for %q", key)
	}
	defer conn.Close()

	lines, unsubscribe := h.Subscribe(key)
	defer unsubscribe()

	write := func(line string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return errors.Wrapf(conn.WriteMessage(websocket.TextMessage, []byte(line)), "could not write to %q websocket", key)
	}

	var last uint64
	if backlog != nil {
		var backlogLines []string
		backlogLines, last = backlog()
		for _, line := range backlogLines {
			if err = write(line); err != nil {
				return err
			}
		}
	}

	// The client never sends anything, but reading is needed to notice when it goes away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case line := <-lines:
			if line.Seq <= last {
				continue
			}
			if err = write(line.Text); err != nil {
				return err
			}
		case <-closed:
			return nil
		case <-r.Context().Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait),
			)
			return nil
		}
	}
}
