package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/dropprint/internal/domain"
)

// fakeBackend implements Backend for testing.
type fakeBackend struct {
	mu      sync.Mutex
	sent    []Request
	sendErr error
	results chan Result
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{results: make(chan Result, 16)}
}

func (b *fakeBackend) Send(ctx context.Context, req Request) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, req)
	return nil
}

func (b *fakeBackend) Results() <-chan Result { return b.results }

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBackend) sentRequests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.sent...)
}

type outcomeSink struct {
	ch chan domain.JobOutcome
}

func newOutcomeSink() *outcomeSink {
	return &outcomeSink{ch: make(chan domain.JobOutcome, 64)}
}

func (s *outcomeSink) callback(job *domain.PrintJob, outcome domain.JobOutcome) {
	s.ch <- outcome
}

func (s *outcomeSink) next(t *testing.T) domain.JobOutcome {
	t.Helper()
	select {
	case o := <-s.ch:
		return o
	case <-time.After(time.Second):
		t.Fatal("no outcome delivered")
		return domain.JobOutcome{}
	}
}

func (s *outcomeSink) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case o := <-s.ch:
		t.Fatalf("unexpected outcome %+v", o)
	case <-time.After(wait):
	}
}

func TestClient_SubmitAssignsIDAndMetadata(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, 0, nil)
	defer c.Close()

	job := &domain.PrintJob{SourcePath: "/drop/label.zpl", Payload: []byte("^XA^XZ")}
	id, err := c.Submit(context.Background(), job, func(*domain.PrintJob, domain.JobOutcome) {})
	require.NoError(t, err)

	assert.NotEmpty(t, id)
	assert.Equal(t, id, job.ID)
	assert.NotNil(t, job.Metadata)
	assert.Equal(t, 1, c.Pending())

	sent := backend.sentRequests()
	require.Len(t, sent, 1)
	assert.Equal(t, id, sent[0].JobID)
	assert.Equal(t, []byte("^XA^XZ"), sent[0].Payload)
	assert.Empty(t, sent[0].Metadata)
}

func TestClient_ResultDeliveredOnce(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, 0, nil)
	defer c.Close()

	sink := newOutcomeSink()
	id, err := c.Submit(context.Background(), &domain.PrintJob{Payload: []byte("x")}, sink.callback)
	require.NoError(t, err)

	backend.results <- Result{JobID: id, ResultCode: ResultSuccess}
	backend.results <- Result{JobID: id, ResultCode: ResultSuccess}

	o := sink.next(t)
	assert.Equal(t, id, o.JobID)
	assert.True(t, o.Succeeded)
	sink.none(t, 50*time.Millisecond)
	assert.Equal(t, 0, c.Pending())
}

func TestClient_RemoteFailure(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, 0, nil)
	defer c.Close()

	sink := newOutcomeSink()
	id, err := c.Submit(context.Background(), &domain.PrintJob{Payload: []byte("x")}, sink.callback)
	require.NoError(t, err)

	backend.results <- Result{JobID: id, ResultCode: 3, ErrorDetail: "Head open"}

	o := sink.next(t)
	assert.False(t, o.Succeeded)
	assert.False(t, o.TimedOut)
	assert.Equal(t, "Head open", o.ErrorDetail)
}

func TestClient_Unreachable(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("connection refused")
	c := NewClient(backend, 20*time.Millisecond, nil)
	defer c.Close()

	sink := newOutcomeSink()
	id, err := c.Submit(context.Background(), &domain.PrintJob{Payload: []byte("x")}, sink.callback)

	assert.Empty(t, id)
	assert.ErrorIs(t, err, domain.ErrDispatchUnreachable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, c.Pending())
	// neither a result nor the timeout may fire for an unreachable job
	sink.none(t, 80*time.Millisecond)
}

func TestClient_Timeout(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, 30*time.Millisecond, nil)
	defer c.Close()

	sink := newOutcomeSink()
	id, err := c.Submit(context.Background(), &domain.PrintJob{Payload: []byte("x")}, sink.callback)
	require.NoError(t, err)

	o := sink.next(t)
	assert.Equal(t, id, o.JobID)
	assert.True(t, o.TimedOut)
	assert.False(t, o.Succeeded)
	assert.Contains(t, o.ErrorDetail, "did not respond")
	assert.Equal(t, 0, c.Pending())

	// a late reply is ignored
	assert.ErrorIs(t, c.Resolve(Result{JobID: id}), domain.ErrUnknownJob)
	sink.none(t, 30*time.Millisecond)
}

func TestClient_UnknownJobIsNoop(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, 0, nil)
	defer c.Close()

	assert.NotPanics(t, func() {
		err := c.Resolve(Result{JobID: "does-not-exist"})
		assert.ErrorIs(t, err, domain.ErrUnknownJob)
	})

	// the consume loop survives unknown IDs as well
	backend.results <- Result{JobID: "does-not-exist"}
	sink := newOutcomeSink()
	id, err := c.Submit(context.Background(), &domain.PrintJob{Payload: []byte("x")}, sink.callback)
	require.NoError(t, err)
	backend.results <- Result{JobID: id}
	assert.True(t, sink.next(t).Succeeded)
}

func TestClient_DuplicateID(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, 0, nil)
	defer c.Close()

	noop := func(*domain.PrintJob, domain.JobOutcome) {}
	_, err := c.Submit(context.Background(), &domain.PrintJob{ID: "fixed"}, noop)
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), &domain.PrintJob{ID: "fixed"}, noop)
	assert.Error(t, err)
	assert.Len(t, backend.sentRequests(), 1)
}

func TestClient_ConcurrentJobsRouteToOwnCallbacks(t *testing.T) {
	const n = 50
	backend := newFakeBackend()
	backend.results = make(chan Result, n)
	c := NewClient(backend, 0, nil)
	defer c.Close()

	var mu sync.Mutex
	got := make(map[string][]string)
	ids := make([]string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := &domain.PrintJob{ID: fmt.Sprintf("job-%d", i), Payload: []byte("x")}
			id, err := c.Submit(context.Background(), job, func(j *domain.PrintJob, o domain.JobOutcome) {
				mu.Lock()
				defer mu.Unlock()
				got[j.ID] = append(got[j.ID], o.JobID)
			})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for i := n - 1; i >= 0; i-- {
		backend.results <- Result{JobID: ids[i]}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	}, time.Second, 5*time.Millisecond)
	c.Wait()
	assert.Equal(t, 0, c.Pending())

	mu.Lock()
	defer mu.Unlock()
	for id, outcomes := range got {
		assert.Equal(t, []string{id}, outcomes)
	}
}

func TestClient_Close(t *testing.T) {
	backend := newFakeBackend()
	c := NewClient(backend, 0, nil)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, backend.closed)
}
