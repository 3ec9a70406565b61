package domain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

// mockRepo implements JobRepository for testing.
type mockRepo struct {
	mu         sync.Mutex
	records    map[string]*JobRecord
	resolveErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[string]*JobRecord)}
}

func (m *mockRepo) Create(ctx context.Context, rec *JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *mockRepo) Get(ctx context.Context, id string) (*JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRepo) List(ctx context.Context, limit int) ([]JobRecord, error) {
	return nil, nil
}

func (m *mockRepo) Resolve(ctx context.Context, id string, status JobStatus, deleted bool, reason string) error {
	if m.resolveErr != nil {
		return m.resolveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return ErrJobNotFound
	}
	rec.Status = status
	rec.Deleted = deleted
	rec.Error = reason
	return nil
}

func (m *mockRepo) AbandonStale(ctx context.Context) (int64, error) { return 0, nil }

func writeJobFile(t *testing.T, name, content string) *PrintJob {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return &PrintJob{
		ID:         "job-1",
		SourcePath: path,
		Payload:    []byte(content),
		Metadata:   map[string]string{},
		CreatedAt:  time.Now(),
	}
}

func TestOutcomeHandler_Success(t *testing.T) {
	job := writeJobFile(t, "label.zpl", "^XA^FO50,50^FS^XZ")
	notifier := &recordingNotifier{}
	repo := newMockRepo()
	require.NoError(t, repo.Create(context.Background(), NewJobRecord(job)))

	h := NewOutcomeHandler(notifier, repo, nil)
	h.OnOutcome(context.Background(), job, JobOutcome{JobID: job.ID, Succeeded: true})

	_, err := os.Stat(job.SourcePath)
	assert.True(t, os.IsNotExist(err), "source file should be deleted")
	assert.Equal(t, []string{"File Printed: label.zpl\n\n File Deleted: true"}, notifier.messages)

	rec, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPrinted, rec.Status)
	assert.True(t, rec.Deleted)
}

func TestOutcomeHandler_SuccessAlreadyDeleted(t *testing.T) {
	job := writeJobFile(t, "label.zpl", "^XA^XZ")
	require.NoError(t, os.Remove(job.SourcePath))
	notifier := &recordingNotifier{}

	h := NewOutcomeHandler(notifier, nil, nil)
	assert.NotPanics(t, func() {
		h.OnOutcome(context.Background(), job, JobOutcome{JobID: job.ID, Succeeded: true})
	})

	assert.Equal(t, []string{"File Printed: label.zpl\n\n File Deleted: false"}, notifier.messages)
}

func TestOutcomeHandler_RemoteFailure(t *testing.T) {
	job := writeJobFile(t, "label.zpl", "^XA^XZ")
	notifier := &recordingNotifier{}
	repo := newMockRepo()
	require.NoError(t, repo.Create(context.Background(), NewJobRecord(job)))

	h := NewOutcomeHandler(notifier, repo, nil)
	h.OnOutcome(context.Background(), job, JobOutcome{JobID: job.ID, ErrorDetail: "Printer out of media"})

	_, err := os.Stat(job.SourcePath)
	assert.NoError(t, err, "source file must remain after a failed print")
	require.Len(t, notifier.messages, 1)
	assert.Equal(t, "Error Printing File: Printer out of media", notifier.messages[0])

	rec, err := repo.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "Printer out of media", rec.Error)
}

func TestOutcomeHandler_Timeout(t *testing.T) {
	job := writeJobFile(t, "label.zpl", "^XA^XZ")
	notifier := &recordingNotifier{}
	repo := newMockRepo()
	require.NoError(t, repo.Create(context.Background(), NewJobRecord(job)))

	h := NewOutcomeHandler(notifier, repo, nil)
	h.OnOutcome(context.Background(), job, JobOutcome{JobID: job.ID, TimedOut: true, ErrorDetail: "no response within 1s"})

	_, err := os.Stat(job.SourcePath)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Error Printing File: no response within 1s"}, notifier.messages)

	rec, _ := repo.Get(context.Background(), job.ID)
	assert.Equal(t, StatusTimedOut, rec.Status)
}

func TestOutcomeHandler_RecordFailureDoesNotSuppressNotification(t *testing.T) {
	job := writeJobFile(t, "label.zpl", "^XA^XZ")
	notifier := &recordingNotifier{}
	repo := newMockRepo()
	repo.resolveErr = errors.New("database is locked")

	h := NewOutcomeHandler(notifier, repo, nil)
	h.OnOutcome(context.Background(), job, JobOutcome{JobID: job.ID, Succeeded: true})

	assert.Len(t, notifier.messages, 1)
}

func TestOutcomeHandler_OnUnreachable(t *testing.T) {
	job := writeJobFile(t, "label.zpl", "^XA^XZ")
	notifier := &recordingNotifier{}

	h := NewOutcomeHandler(notifier, nil, nil)
	h.OnUnreachable(context.Background(), job, errors.New("dial tcp 127.0.0.1:9100: connection refused"))

	_, err := os.Stat(job.SourcePath)
	assert.NoError(t, err)
	assert.Equal(t, []string{"Error Printing File: dial tcp 127.0.0.1:9100: connection refused"}, notifier.messages)
}
