package workertypes

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func ExampleSupportedLanguages() {
	fmt.Println(SupportedLanguages())
	// Output:
	// [csharp flow java javascript python]
}

func TestLanguage_IsValid(t *testing.T) {
	for testNo, test := range []struct {
		language Language
		valid    bool
	}{
		{JavaScript, true},
		{Java, true},
		{Python, true},
		{CSharp, true},
		{Flow, true},
		{"typescript", false},
		{"", false},
		{"JavaScript", false},
	} {
		if test.language.IsValid() != test.valid {
			t.Errorf("Expected language no. %d (%q) IsValid to be %t", testNo+1, test.language, test.valid)
		}
	}
}

func TestRequestPayload_UnmarshalJSON(t *testing.T) {
	var request RequestPayload
	if err := json.Unmarshal([]byte(`{"code":"console.log(1)","language":"javascript","token":"abc"}`), &request); err != nil {
		t.Fatalf("Could not unmarshal request: %v", err)
	}
	if request.Code != "console.log(1)" || request.Language != JavaScript || request.Token != "abc" {
		t.Errorf("Unexpected request %+v", request)
	}
	if request.RequestID != "" || request.TestID != "" {
		t.Errorf("Expected empty request and test IDs, got %+v", request)
	}
}

func TestRequestPayload_Expired(t *testing.T) {
	deadline := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)
	for testNo, test := range []struct {
		deadline *time.Time
		at       time.Time
		expired  bool
	}{
		{nil, deadline.Add(time.Hour), false},
		{&deadline, deadline.Add(-time.Second), false},
		{&deadline, deadline, true},
		{&deadline, deadline.Add(time.Second), true},
	} {
		request := RequestPayload{Deadline: test.deadline}
		if request.Expired(test.at) != test.expired {
			t.Errorf("Expected request no. %d to have expired: %t", testNo+1, test.expired)
		}
	}
}
