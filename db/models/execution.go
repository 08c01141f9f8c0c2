package models

import (
	"github.com/andygello555/try-playwright/db"
	"github.com/andygello555/try-playwright/workertypes"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v9"
	"gorm.io/gorm"
	"time"
)

func init() {
	db.RegisterModel(&Execution{})
	db.RegisterModel(&Share{})
}

// Execution records a single snippet that was run through the control service.
type Execution struct {
	ID        uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4()"`
	CreatedAt time.Time
	// RequestID is the ID that was generated by the control service for this execution. It is forwarded to the worker
	// and to the file service.
	RequestID string `gorm:"index"`
	// TestID is set when the execution came from an end-to-end test run. It is used to correlate the logs of all the
	// services within the log aggregator.
	TestID    null.String `gorm:"index"`
	UserAgent string
	IP        string
	Code      string
	Language  workertypes.Language
	// Duration is the round trip time as observed by the control service. This is null when the execution timed out.
	Duration NullDuration
	Success  bool
	Error    null.String
	Version  string
}

// NewExecution creates an Execution from the request that was sent to a worker and the response that came back. The
// response can be nil when the worker never replied.
func NewExecution(request *workertypes.RequestPayload, response *workertypes.ResponsePayload, userAgent, ip string) *Execution {
	execution := &Execution{
		RequestID: request.RequestID,
		TestID:    null.NewString(request.TestID, request.TestID != ""),
		UserAgent: userAgent,
		IP:        ip,
		Code:      request.Code,
		Language:  request.Language,
	}
	if response != nil {
		execution.Duration = NullDurationFrom(time.Duration(response.Duration) * time.Millisecond)
		execution.Success = response.Success
		execution.Error = null.NewString(response.Error, response.Error != "")
		execution.Version = response.Version
	} else {
		execution.Error = null.StringFrom("timeout")
	}
	return execution
}

// Create inserts the Execution using the given transaction.
func (e *Execution) Create(tx *gorm.DB) error {
	return errors.Wrapf(tx.Create(e).Error, "could not record execution for request %s", e.RequestID)
}
