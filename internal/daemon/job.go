// Package daemon implements the inbox/outbox assessment service. Jobs arrive
// as JSON files in the inbox directory, are assessed by a bounded worker
// pool, and results are written to the outbox directory.
package daemon

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ppiankov/icsrisk/internal/assess"
)

// Valid job types that the daemon can process.
const (
	JobTypeAssess = "assess"
	JobTypeBatch  = "batch"
)

// validJobTypes is the set of accepted job type values.
var validJobTypes = map[string]bool{
	JobTypeAssess: true,
	JobTypeBatch:  true,
}

// validID matches alphanumeric characters, dashes, and underscores only.
var validID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Job is a unit of work dropped into the inbox. An assess job carries one
// Request; a batch job carries Requests.
type Job struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Request   *assess.Request  `json:"request,omitempty"`
	Requests  []assess.Request `json:"requests,omitempty"`
	Source    string           `json:"source,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Result is written to the outbox after processing a job.
type Result struct {
	ID          string           `json:"id"`
	Status      string           `json:"status"`
	Report      *assess.Report   `json:"report,omitempty"`
	Reports     []*assess.Report `json:"reports,omitempty"`
	Error       string           `json:"error,omitempty"`
	CompletedAt time.Time        `json:"completed_at"`
}

// Result status values.
const (
	ResultDone   = "done"
	ResultFailed = "failed"
)

// ValidateJob checks that a job has all required fields and safe values.
// Request contents are validated by the runner.
func ValidateJob(j *Job) error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if strings.Contains(j.ID, "..") {
		return fmt.Errorf("job ID must not contain '..'")
	}
	if !validID.MatchString(j.ID) {
		return fmt.Errorf("job ID contains invalid characters: only alphanumeric, dash, and underscore allowed")
	}
	if j.Type == "" {
		return fmt.Errorf("job type is required")
	}
	if !validJobTypes[j.Type] {
		return fmt.Errorf("invalid job type %q: must be one of: assess, batch", j.Type)
	}
	switch j.Type {
	case JobTypeAssess:
		if j.Request == nil {
			return fmt.Errorf("assess job requires a request")
		}
	case JobTypeBatch:
		if len(j.Requests) == 0 {
			return fmt.Errorf("batch job requires at least one request")
		}
	}
	return nil
}
