package domain

import (
	"path/filepath"
	"time"
)

// EventKind classifies a filesystem event.
type EventKind int

const (
	EventOther EventKind = iota
	EventCreate
)

func (k EventKind) String() string {
	if k == EventCreate {
		return "create"
	}
	return "other"
}

// FileEvent is a single change notification for a path in the watched directory.
type FileEvent struct {
	Kind EventKind
	Path string
}

// WatchTarget names the directory a watcher subscribes to.
type WatchTarget struct {
	Directory string
}

// PrintJob is a file that passed the filter and was read successfully.
type PrintJob struct {
	ID         string
	SourcePath string
	Payload    []byte
	Metadata   map[string]string
	CreatedAt  time.Time
}

// FileName returns the base name of the source file.
func (j *PrintJob) FileName() string {
	return filepath.Base(j.SourcePath)
}

// JobOutcome is the result reported by the print backend for one job.
type JobOutcome struct {
	JobID       string
	Succeeded   bool
	ErrorDetail string
	TimedOut    bool
}

// JobStatus represents the recorded state of a job in the history.
type JobStatus string

const (
	StatusDispatched  JobStatus = "dispatched"
	StatusPrinted     JobStatus = "printed"
	StatusFailed      JobStatus = "failed"
	StatusTimedOut    JobStatus = "timed_out"
	StatusUnreachable JobStatus = "unreachable"
	StatusAbandoned   JobStatus = "abandoned"
)

// Terminal reports whether no further outcome is expected for the status.
func (s JobStatus) Terminal() bool {
	return s != StatusDispatched
}

// JobRecord is the persisted history entry for a print job.
type JobRecord struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path"`
	FileName   string    `json:"file_name"`
	SizeBytes  int64     `json:"size_bytes"`
	Status     JobStatus `json:"status"`
	Deleted    bool      `json:"deleted"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewJobRecord builds the initial history entry for a dispatched job.
func NewJobRecord(job *PrintJob) *JobRecord {
	return &JobRecord{
		ID:         job.ID,
		SourcePath: job.SourcePath,
		FileName:   job.FileName(),
		SizeBytes:  int64(len(job.Payload)),
		Status:     StatusDispatched,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.CreatedAt,
	}
}
