package wsbackend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/dropprint/internal/dispatch"
)

// newPrintService starts a fake print service that answers every request
// with the result produced by reply.
func newPrintService(t *testing.T, reply func(dispatch.Request) dispatch.Result) (*httptest.Server, chan dispatch.Request) {
	t.Helper()
	received := make(chan dispatch.Request, 16)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req dispatch.Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			received <- req
			if err := conn.WriteJSON(reply(req)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, received
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextResult(t *testing.T, b *Backend) dispatch.Result {
	t.Helper()
	select {
	case res := <-b.Results():
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result received")
		return dispatch.Result{}
	}
}

func TestBackend_SendAndReceive(t *testing.T) {
	srv, received := newPrintService(t, func(req dispatch.Request) dispatch.Result {
		return dispatch.Result{JobID: req.JobID, ResultCode: dispatch.ResultSuccess}
	})

	b := New(wsURL(srv), time.Second, nil, nil)
	defer b.Close()

	req := dispatch.Request{JobID: "job-1", Payload: []byte("^XA^FDhi^FS^XZ"), Metadata: map[string]string{}}
	require.NoError(t, b.Send(context.Background(), req))

	got := <-received
	assert.Equal(t, "job-1", got.JobID)
	assert.Equal(t, []byte("^XA^FDhi^FS^XZ"), got.Payload)

	res := nextResult(t, b)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, dispatch.ResultSuccess, res.ResultCode)
}

func TestBackend_RemoteFailureDetail(t *testing.T) {
	srv, _ := newPrintService(t, func(req dispatch.Request) dispatch.Result {
		return dispatch.Result{JobID: req.JobID, ResultCode: 7, ErrorDetail: "Paper out"}
	})

	b := New(wsURL(srv), time.Second, nil, nil)
	defer b.Close()

	require.NoError(t, b.Send(context.Background(), dispatch.Request{JobID: "job-2"}))
	res := nextResult(t, b)
	assert.Equal(t, 7, res.ResultCode)
	assert.Equal(t, "Paper out", res.ErrorDetail)
}

func TestBackend_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	b := New(url, 200*time.Millisecond, nil, nil)
	defer b.Close()

	err := b.Send(context.Background(), dispatch.Request{JobID: "job-3"})
	assert.Error(t, err)
}

func TestBackend_RedialsAfterDrop(t *testing.T) {
	// the service answers one request per connection, then hangs up
	received := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req dispatch.Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		received <- req.JobID
		conn.WriteJSON(dispatch.Result{JobID: req.JobID})
	}))
	defer srv.Close()

	b := New(wsURL(srv), time.Second, nil, nil)
	defer b.Close()

	require.NoError(t, b.Send(context.Background(), dispatch.Request{JobID: "a"}))
	assert.Equal(t, "a", <-received)
	assert.Equal(t, "a", nextResult(t, b).JobID)

	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.conn == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Send(context.Background(), dispatch.Request{JobID: "b"}))
	assert.Equal(t, "b", <-received)
	assert.Equal(t, "b", nextResult(t, b).JobID)
}

func TestBackend_SendAfterClose(t *testing.T) {
	b := New("ws://127.0.0.1:1/", time.Second, nil, nil)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.Error(t, b.Send(context.Background(), dispatch.Request{JobID: "late"}))
	_, ok := <-b.Results()
	assert.False(t, ok)
}
