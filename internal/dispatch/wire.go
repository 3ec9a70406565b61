package dispatch

import (
	"context"

	"github.com/cwygoda/dropprint/internal/domain"
)

// ResultSuccess is the result code a backend reports for a printed job.
const ResultSuccess = 0

// Request is the message handed to a print backend.
type Request struct {
	JobID    string            `json:"job_id"`
	Payload  []byte            `json:"payload"`
	Metadata map[string]string `json:"metadata"`
}

// Result is the asynchronous reply of a print backend.
type Result struct {
	JobID       string `json:"job_id"`
	ResultCode  int    `json:"result_code"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Outcome converts the wire result to a domain outcome.
func (r Result) Outcome() domain.JobOutcome {
	return domain.JobOutcome{
		JobID:       r.JobID,
		Succeeded:   r.ResultCode == ResultSuccess,
		ErrorDetail: r.ErrorDetail,
	}
}

// Backend transports requests to an external print service. Send must not
// wait for the print to complete; replies arrive later on Results.
type Backend interface {
	Send(ctx context.Context, req Request) error
	Results() <-chan Result
	Close() error
}
