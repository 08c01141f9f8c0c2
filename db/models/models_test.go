package models

import (
	"context"
	"fmt"
	"github.com/andygello555/try-playwright/db"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v9"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

// dbConfig reads the test database's connection details from the environment.
type dbConfig struct {
	host, user, password string
	port                 int
}

func (c dbConfig) DBHost() string     { return c.host }
func (c dbConfig) DBUser() string     { return c.user }
func (c dbConfig) DBPassword() string { return c.password }
func (c dbConfig) DBName() string     { return "postgres" }
func (c dbConfig) DBPort() int        { return c.port }
func (c dbConfig) DBSSLMode() string  { return "disable" }
func (c dbConfig) DBTimezone() string { return "UTC" }

const testDBName = "try_playwright_models_test"

// openTestDB creates a fresh database to run the test against, and drops it once the test has finished. The test is
// skipped when TRY_PLAYWRIGHT_TEST_DB_HOST is not set.
func openTestDB(t *testing.T) *GormStore {
	t.Helper()
	host := os.Getenv("TRY_PLAYWRIGHT_TEST_DB_HOST")
	if host == "" {
		t.Skip("TRY_PLAYWRIGHT_TEST_DB_HOST is not set")
	}
	config := dbConfig{
		host:     host,
		user:     os.Getenv("TRY_PLAYWRIGHT_TEST_DB_USER"),
		password: os.Getenv("TRY_PLAYWRIGHT_TEST_DB_PASSWORD"),
		port:     5432,
	}
	if port, err := strconv.Atoi(os.Getenv("TRY_PLAYWRIGHT_TEST_DB_PORT")); err == nil {
		config.port = port
	}

	if err := db.DropDB(testDBName, config); err != nil {
		t.Fatalf("Could not drop test database: %v", err)
	}
	if err := db.CreateDB(testDBName, config); err != nil {
		t.Fatalf("Could not create test database: %v", err)
	}
	if err := db.OpenName(config, testDBName); err != nil {
		t.Fatalf("Could not open test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
		if err := db.DropDB(testDBName, config); err != nil {
			t.Errorf("Could not drop test database: %v", err)
		}
	})
	return &GormStore{DB: db.DB}
}

// sequence returns a GenerateID func that returns each of the given IDs in turn, repeating the last one.
func sequence(ids ...string) func() string {
	i := 0
	return func() string {
		id := ids[min(i, len(ids)-1)]
		i++
		return id
	}
}

func ExampleHashCode() {
	fmt.Println(HashCode("console.log(1)") == HashCode("console.log(1)"))
	fmt.Println(len(HashCode("")))
	// Output:
	// true
	// 64
}

func TestGenerateShareID(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := GenerateShareID()
		if len(id) != ShareIDLength {
			t.Fatalf("Expected ID no. %d to be %d characters, got %q", i+1, ShareIDLength, id)
		}
		for _, c := range id {
			if !strings.ContainsRune(shareIDAlphabet, c) {
				t.Fatalf("Expected ID no. %d to only contain characters from %q, got %q", i+1, shareIDAlphabet, id)
			}
		}
	}
}

func TestNewExecution(t *testing.T) {
	request := &workertypes.RequestPayload{
		Code:      "print(1)",
		Language:  workertypes.Python,
		RequestID: "req-1",
	}
	for testNo, test := range []struct {
		testID   string
		response *workertypes.ResponsePayload
		duration *time.Duration
		success  bool
		err      null.String
		version  string
	}{
		{
			response: &workertypes.ResponsePayload{Success: true, Duration: 1500, Version: "1.52.0"},
			duration: func() *time.Duration { d := 1500 * time.Millisecond; return &d }(),
			success:  true,
			version:  "1.52.0",
		},
		{
			testID:   "test-1",
			response: &workertypes.ResponsePayload{Error: "could not run command", Duration: 20},
			duration: func() *time.Duration { d := 20 * time.Millisecond; return &d }(),
			err:      null.StringFrom("could not run command"),
		},
		{
			response: nil,
			duration: nil,
			err:      null.StringFrom("timeout"),
		},
	} {
		request.TestID = test.testID
		execution := NewExecution(request, test.response, "curl/8.0", "127.0.0.1")
		if execution.RequestID != "req-1" || execution.Code != "print(1)" || execution.Language != workertypes.Python {
			t.Errorf("Expected execution no. %d to be created from the request, got %+v", testNo+1, execution)
		}
		if execution.UserAgent != "curl/8.0" || execution.IP != "127.0.0.1" {
			t.Errorf("Expected execution no. %d to have the user agent and IP, got %+v", testNo+1, execution)
		}
		if execution.TestID.Valid != (test.testID != "") || execution.TestID.String != test.testID {
			t.Errorf("Expected test ID of execution no. %d to be %q, got %v", testNo+1, test.testID, execution.TestID)
		}
		if duration := execution.Duration.Ptr(); (duration == nil) != (test.duration == nil) || (duration != nil && *duration != *test.duration) {
			t.Errorf("Expected duration of execution no. %d to be %v, got %v", testNo+1, test.duration, duration)
		}
		if execution.Success != test.success || execution.Error != test.err || execution.Version != test.version {
			t.Errorf("Unexpected result for execution no. %d: %+v", testNo+1, execution)
		}
	}
}

func TestGormStore_CreateShare(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()

	for testNo, test := range []struct {
		code        string
		language    workertypes.Language
		ids         []string
		expectedID  string
		errContains string
	}{
		{code: "console.log(1)", language: workertypes.JavaScript, ids: []string{"aaaaaaa"}, expectedID: "aaaaaaa"},
		// Identical code in the same language returns the existing key without generating a new one
		{code: "console.log(1)", language: workertypes.JavaScript, ids: []string{"zzzzzzz"}, expectedID: "aaaaaaa"},
		{code: "console.log(1)", language: workertypes.Flow, ids: []string{"bbbbbbb"}, expectedID: "bbbbbbb"},
		// Colliding IDs are regenerated
		{code: "print(1)", language: workertypes.Python, ids: []string{"aaaaaaa", "bbbbbbb", "ccccccc"}, expectedID: "ccccccc"},
		{code: "print(2)", language: workertypes.Python, ids: []string{"aaaaaaa"}, errContains: "could not generate a key"},
	} {
		store.GenerateID = sequence(test.ids...)
		id, err := store.CreateShare(ctx, test.code, test.language)
		if test.errContains != "" {
			if err == nil || !strings.Contains(err.Error(), test.errContains) {
				t.Errorf("Expected share no. %d to fail with %q, got %q (%v)", testNo+1, test.errContains, id, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("Could not create share no. %d: %v", testNo+1, err)
		} else if id != test.expectedID {
			t.Errorf("Expected share no. %d to have key %q, got %q", testNo+1, test.expectedID, id)
		}
	}

	share, err := store.GetShare(ctx, "ccccccc")
	if err != nil {
		t.Fatalf("Could not get share: %v", err)
	}
	if share.Code != "print(1)" || share.Language != workertypes.Python || share.CodeHash != HashCode("print(1)") {
		t.Errorf("Unexpected share %+v", share)
	}
	if _, err = store.GetShare(ctx, "missing"); !errors.Is(err, ErrShareNotFound) {
		t.Errorf("Expected ErrShareNotFound for a missing share, got %v", err)
	}
}

func TestGormStore_CreateShareConcurrent(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	// Another request shares the same code while this one is generating its ID
	store.GenerateID = func() string {
		if _, err := store.ImportShare(ctx, &Share{ID: "racer01", Code: "print(3)", Language: workertypes.Python}); err != nil {
			t.Errorf("Could not import concurrent share: %v", err)
		}
		return "racer01"
	}
	if id, err := store.CreateShare(ctx, "print(3)", workertypes.Python); err != nil || id != "racer01" {
		t.Errorf("Expected the concurrently created key racer01, got %q (%v)", id, err)
	}
}

func TestGormStore_ImportShare(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	store.GenerateID = sequence("aaaaaaa")
	if _, err := store.CreateShare(ctx, "console.log(1)", workertypes.JavaScript); err != nil {
		t.Fatalf("Could not create share: %v", err)
	}

	for testNo, test := range []struct {
		share    Share
		imported bool
	}{
		{Share{ID: "legacy1", Code: "console.log(2)", Language: workertypes.JavaScript}, true},
		// Legacy shares keep their IDs even when their code has already been shared
		{Share{ID: "legacy2", Code: "console.log(1)", Language: workertypes.JavaScript}, true},
		{Share{ID: "legacy1", Code: "console.log(3)", Language: workertypes.JavaScript}, false},
		{Share{ID: "aaaaaaa", Code: "console.log(4)", Language: workertypes.JavaScript}, false},
	} {
		share := test.share
		imported, err := store.ImportShare(ctx, &share)
		if err != nil {
			t.Errorf("Could not import share no. %d: %v", testNo+1, err)
		} else if imported != test.imported {
			t.Errorf("Expected share no. %d to be imported: %t, got %t", testNo+1, test.imported, imported)
		}
	}

	for id, code := range map[string]string{"legacy1": "console.log(2)", "legacy2": "console.log(1)", "aaaaaaa": "console.log(1)"} {
		if share, err := store.GetShare(ctx, id); err != nil || share.Code != code {
			t.Errorf("Expected share %s to have code %q, got %+v (%v)", id, code, share, err)
		}
	}

	// The oldest share of the code is still the one returned for new shares of it
	store.GenerateID = sequence("bbbbbbb")
	if id, err := store.CreateShare(ctx, "console.log(1)", workertypes.JavaScript); err != nil || id != "aaaaaaa" {
		t.Errorf("Expected the existing key aaaaaaa, got %q (%v)", id, err)
	}
}

func TestGormStore_RecordExecution(t *testing.T) {
	store := openTestDB(t)
	ctx := context.Background()
	request := &workertypes.RequestPayload{Code: "print(1)", Language: workertypes.Python, RequestID: "req-1"}
	if err := store.RecordExecution(ctx, NewExecution(request, nil, "curl/8.0", "127.0.0.1")); err != nil {
		t.Fatalf("Could not record execution: %v", err)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Could not ping database: %v", err)
	}

	var execution Execution
	if err := store.DB.Where("request_id = ?", "req-1").Take(&execution).Error; err != nil {
		t.Fatalf("Could not fetch execution: %v", err)
	}
	if execution.Duration.IsValid() || execution.Error.String != "timeout" || execution.Success {
		t.Errorf("Expected a timed out execution, got %+v", execution)
	}
}
