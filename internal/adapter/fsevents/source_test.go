package fsevents

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/dropprint/internal/domain"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want domain.EventKind
	}{
		{fsnotify.Create, domain.EventCreate},
		{fsnotify.Create | fsnotify.Write, domain.EventCreate},
		{fsnotify.Write, domain.EventOther},
		{fsnotify.Remove, domain.EventOther},
		{fsnotify.Rename, domain.EventOther},
		{fsnotify.Chmod, domain.EventOther},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, kindOf(tt.op))
		})
	}
}

func TestSource_ReportsCreate(t *testing.T) {
	dir := t.TempDir()
	st, err := New().Subscribe(context.Background(), dir)
	require.NoError(t, err)
	defer st.Close()

	path := filepath.Join(dir, "label.zpl")
	require.NoError(t, os.WriteFile(path, []byte("^XA^XZ"), 0o644))

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-st.Events():
			if ev.Kind == domain.EventCreate {
				assert.Equal(t, path, ev.Path)
				return
			}
		case <-timeout:
			t.Fatal("no create event")
		}
	}
}

func TestSource_MissingDirectory(t *testing.T) {
	_, err := New().Subscribe(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestSource_CloseEndsStream(t *testing.T) {
	st, err := New().Subscribe(context.Background(), t.TempDir())
	require.NoError(t, err)

	require.NoError(t, st.Close())
	require.NoError(t, st.Close())

	_, ok := <-st.Events()
	assert.False(t, ok)
}

func TestSource_ContextCancelEndsStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st, err := New().Subscribe(ctx, t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	cancel()
	select {
	case _, ok := <-st.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end")
	}
}
