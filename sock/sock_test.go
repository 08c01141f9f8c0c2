package sock

import (
	"bytes"
	"context"
	"github.com/gorilla/websocket"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub(1)
	first, unsubscribeFirst := hub.Subscribe("test")
	second, unsubscribeSecond := hub.Subscribe("test")
	if hub.Subscribers("test") != 2 {
		t.Fatalf("Expected 2 subscribers, got %d", hub.Subscribers("test"))
	}

	if delivered := hub.Publish("test", Line{Seq: 1, Text: "one"}); delivered != 2 {
		t.Errorf("Expected line to be delivered to 2 subscribers, got %d", delivered)
	}
	// Both buffers are now full so the next line is dropped
	if delivered := hub.Publish("test", Line{Seq: 2, Text: "two"}); delivered != 0 {
		t.Errorf("Expected line to be dropped, delivered to %d", delivered)
	}
	if delivered := hub.Publish("other", Line{Seq: 1, Text: "one"}); delivered != 0 {
		t.Errorf("Expected no subscribers for other key, delivered to %d", delivered)
	}

	if line := <-first; line.Text != "one" || line.Seq != 1 {
		t.Errorf("Expected first subscriber to receive \"one\", got %+v", line)
	}
	if line := <-second; line.Text != "one" || line.Seq != 1 {
		t.Errorf("Expected second subscriber to receive \"one\", got %+v", line)
	}

	unsubscribeFirst()
	unsubscribeFirst()
	if _, ok := <-first; ok {
		t.Errorf("Expected first channel to be closed")
	}
	unsubscribeSecond()
	if hub.Subscribers("test") != 0 {
		t.Errorf("Expected no subscribers, got %d", hub.Subscribers("test"))
	}
}

func TestHub_Serve(t *testing.T) {
	hub := NewHub(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Serve(w, r, "test", func() ([]string, uint64) { return []string{"backlog"}, 1 }); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, wsURL(server), 1)
	if err != nil {
		t.Fatalf("Could not dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	_, message, err := conn.ReadMessage()
	if err != nil || string(message) != "backlog" {
		t.Fatalf("Expected backlog message, got %q (%v)", message, err)
	}
	if delivered := hub.Publish("test", Line{Seq: 2, Text: "live"}); delivered != 1 {
		t.Fatalf("Expected live line to be delivered to 1 subscriber, got %d", delivered)
	}
	if _, message, err = conn.ReadMessage(); err != nil || string(message) != "live" {
		t.Fatalf("Expected live message, got %q (%v)", message, err)
	}
}

func TestHub_ServeSkipsBacklog(t *testing.T) {
	hub := NewHub(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, "t", func() ([]string, uint64) {
			// A line that is published whilst the backlog is read ends up in both
			hub.Publish("t", Line{Seq: 1, Text: "line-1"})
			return []string{"line-1"}, 1
		})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := Dial(ctx, wsURL(server), 1)
	if err != nil {
		t.Fatalf("Could not dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	if _, message, err := conn.ReadMessage(); err != nil || string(message) != "line-1" {
		t.Fatalf("Expected backlog message, got %q (%v)", message, err)
	}
	hub.Publish("t", Line{Seq: 2, Text: "line-2"})
	if _, message, err := conn.ReadMessage(); err != nil || string(message) != "line-2" {
		t.Errorf("Expected line-1 to only be sent once, got %q after the backlog (%v)", message, err)
	}
}

func TestTail(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, line := range []string{"first line", "second line"} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(line))
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer server.Close()

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Tail(ctx, wsURL(server), &out, 1); err != nil {
		t.Fatalf("Tail returned an error: %v", err)
	}
	if out.String() != "first line\nsecond line\n" {
		t.Errorf("Unexpected output %q", out.String())
	}
}

func TestDial_GivesUp(t *testing.T) {
	DialWait = time.Millisecond
	defer func() { DialWait = 2 * time.Second }()

	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()
	if _, err := Dial(context.Background(), wsURL(server), 3); err == nil || !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("Expected an error after 3 attempts, got %v", err)
	}
}
