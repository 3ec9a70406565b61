package domain

import "context"

// EventStream is one live subscription to a directory's change stream.
// The stream is not restartable; Close ends it and closes Events.
type EventStream interface {
	Events() <-chan FileEvent
	Errors() <-chan error
	Close() error
}

// EventSource is the driving port for filesystem change notifications.
type EventSource interface {
	Subscribe(ctx context.Context, dir string) (EventStream, error)
}

// Notifier is the driven port for user-facing status messages.
// Notify is fire-and-forget and must not block for long.
type Notifier interface {
	Notify(message string)
}

// JobRepository is the driven port for job history persistence.
type JobRepository interface {
	Create(ctx context.Context, rec *JobRecord) error
	Get(ctx context.Context, id string) (*JobRecord, error)
	List(ctx context.Context, limit int) ([]JobRecord, error)
	Resolve(ctx context.Context, id string, status JobStatus, deleted bool, reason string) error
	AbandonStale(ctx context.Context) (int64, error)
}
