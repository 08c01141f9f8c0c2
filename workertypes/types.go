// Package workertypes contains the payloads passed between the control service and the execution workers.
package workertypes

import (
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/exp/slices"
	"time"
)

// Language is the programming language a snippet is written in.
type Language string

const (
	JavaScript Language = "javascript"
	Java       Language = "java"
	Python     Language = "python"
	CSharp     Language = "csharp"
	// Flow is an HJSON browser flow that is run in-process by the worker instead of by a child process.
	Flow Language = "flow"
)

var supportedLanguages = mapset.NewThreadUnsafeSet(JavaScript, Java, Python, CSharp, Flow)

// IsValid checks whether the Language is one that the workers can execute.
func (l Language) IsValid() bool {
	return supportedLanguages.Contains(l)
}

func (l Language) String() string { return string(l) }

// SupportedLanguages returns every Language that the workers can execute, sorted alphabetically.
func SupportedLanguages() []Language {
	languages := supportedLanguages.ToSlice()
	slices.Sort(languages)
	return languages
}

// File is a file that was created by an execution and uploaded to the file service.
type File struct {
	PublicURL string `json:"publicURL"`
	FileName  string `json:"fileName"`
	Extension string `json:"extension"`
}

// RequestPayload is sent by the control service to a worker.
type RequestPayload struct {
	Code     string   `json:"code"`
	Language Language `json:"language"`
	Token    string   `json:"token,omitempty"`
	// RequestID is generated by the control service for every run.
	RequestID string `json:"requestId,omitempty"`
	// TestID is set when the run was triggered by an end-to-end test.
	TestID string `json:"testId,omitempty"`
	// Deadline is when the control service stops waiting for the response. Workers do not run or retry requests past
	// their Deadline.
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Expired returns whether the request's Deadline is at or before the given time. Requests without a Deadline never
// expire.
func (r *RequestPayload) Expired(at time.Time) bool {
	return r.Deadline != nil && !at.Before(*r.Deadline)
}

// ResponsePayload is sent back by a worker once it has executed a RequestPayload.
type ResponsePayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Version string `json:"version"`
	// Duration is in milliseconds.
	Duration  int64  `json:"duration"`
	Files     []File `json:"files"`
	Output    string `json:"output"`
	RequestID string `json:"requestId,omitempty"`
	TestID    string `json:"testId,omitempty"`
}
