// Package logagg collects the logs of every service that took part in an end-to-end test so they can be read back by
// test ID.
package logagg

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long the entries of a test are kept after they were last written to.
	DefaultTTL = 60 * time.Minute
	// DefaultCleanupInterval is how often expired tests are removed.
	DefaultCleanupInterval = 5 * time.Minute
)

// Entry is a single line of a log.
type Entry struct {
	// Seq is the position of the Entry within the log of its test, starting at 1.
	Seq       uint64
	Time      time.Time
	Service   string
	RequestID string
	Message   string
}

// String formats the Entry as "<RFC3339Nano UTC> [<service>] [request:<id>] <message>".
func (e Entry) String() string {
	return fmt.Sprintf("%s [%s] [request:%s] %s", e.Time.UTC().Format(time.RFC3339Nano), e.Service, e.RequestID, e.Message)
}

type testLog struct {
	entries []Entry
	seq     uint64
	expires time.Time
}

// Store holds the log entries of each test in memory.
type Store struct {
	TTL time.Duration
	// Now returns the current time. It can be replaced in tests.
	Now func() time.Time

	mutex sync.Mutex
	tests map[string]*testLog
}

// NewStore creates a Store where the entries of a test expire the given ttl after they were last written to.
// DefaultTTL is used when ttl is not positive.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{TTL: ttl, Now: time.Now, tests: make(map[string]*testLog)}
}

// SplitLines splits the message into lines, normalising CRLF line endings and dropping blank lines.
func SplitLines(message string) []string {
	message = strings.ReplaceAll(message, "\r\n", "\n")
	lines := make([]string, 0)
	for _, line := range strings.Split(message, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Add appends one Entry for each non-blank line of the message to the test's log and refreshes its expiry. The added
// entries are returned.
func (s *Store) Add(testID, requestID, service, message string) []Entry {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := s.Now()
	tl, ok := s.tests[testID]
	if !ok {
		tl = &testLog{}
		s.tests[testID] = tl
	}

	lines := SplitLines(message)
	added := make([]Entry, len(lines))
	for i, line := range lines {
		tl.seq++
		added[i] = Entry{Seq: tl.seq, Time: now, Service: service, RequestID: requestID, Message: line}
	}
	tl.entries = append(tl.entries, added...)
	tl.expires = now.Add(s.TTL)
	return added
}

// Get returns a copy of the entries of the test. Nil is returned if there are none.
func (s *Store) Get(testID string) []Entry {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	tl, ok := s.tests[testID]
	if !ok {
		return nil
	}
	entries := make([]Entry, len(tl.entries))
	copy(entries, tl.entries)
	return entries
}

// Cleanup removes every test whose entries have expired and returns how many were removed.
func (s *Store) Cleanup() (removed int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := s.Now()
	for testID, tl := range s.tests {
		if tl.expires.Before(now) {
			delete(s.tests, testID)
			removed++
		}
	}
	return
}

// CleanupEvery calls Cleanup every interval until done is closed.
func (s *Store) CleanupEvery(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-done:
			return
		}
	}
}
