package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/WessleyAI/docustream/engine/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingIndexer holds every call until release is closed.
type blockingIndexer struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func newBlockingIndexer() *blockingIndexer {
	return &blockingIndexer{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (b *blockingIndexer) AddDocuments(context.Context, []string, []domain.Metadata, []string) error {
	b.started <- struct{}{}
	<-b.release
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	return nil
}

func (b *blockingIndexer) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func TestLocal_RunsJobsAndDrains(t *testing.T) {
	idx := &recordingIndexer{}
	tr := NewTracker(10)
	d := NewLocal(NewRunner(newOrch(idx), tr, nil, nil), 2, 8, nil)

	var jobs []Job
	for i := 0; i < 5; i++ {
		j := NewJob("doc.txt", tempDoc(t, []byte("hello world")))
		jobs = append(jobs, j)
		require.NoError(t, d.Submit(context.Background(), j))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	for _, j := range jobs {
		st, ok := tr.Get(j.ID)
		require.True(t, ok)
		assert.Equal(t, StateSucceeded, st.State)
		assert.NoFileExists(t, j.Path)
	}
	assert.ErrorIs(t, d.Submit(context.Background(), NewJob("late.txt", "")), ErrClosed)
	assert.NoError(t, d.Close(ctx), "second Close is a no-op")
}

func TestLocal_QueueFull(t *testing.T) {
	idx := newBlockingIndexer()
	tr := NewTracker(10)
	d := NewLocal(NewRunner(newOrch(idx), tr, nil, nil), 1, 1, nil)

	require.NoError(t, d.Submit(context.Background(), NewJob("a.txt", tempDoc(t, []byte("a")))))
	<-idx.started // worker busy
	require.NoError(t, d.Submit(context.Background(), NewJob("b.txt", tempDoc(t, []byte("b")))))

	rejected := NewJob("c.txt", tempDoc(t, []byte("c")))
	assert.ErrorIs(t, d.Submit(context.Background(), rejected), ErrQueueFull)
	_, tracked := tr.Get(rejected.ID)
	assert.False(t, tracked)

	close(idx.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 2, idx.Calls())
}

func TestLocal_CloseHonoursContext(t *testing.T) {
	idx := newBlockingIndexer()
	d := NewLocal(NewRunner(newOrch(idx), nil, nil, nil), 1, 1, nil)
	require.NoError(t, d.Submit(context.Background(), NewJob("a.txt", tempDoc(t, []byte("a")))))
	<-idx.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
	close(idx.release)
}

func TestLocal_RunsAtMostWorkersJobs(t *testing.T) {
	idx := newBlockingIndexer()
	d := NewLocal(NewRunner(newOrch(idx), nil, nil, nil), 2, 8, nil)
	for i := 0; i < 4; i++ {
		require.NoError(t, d.Submit(context.Background(), NewJob("a.txt", tempDoc(t, []byte("a")))))
	}

	<-idx.started
	<-idx.started
	select {
	case <-idx.started:
		t.Fatal("a third job started while two workers were busy")
	case <-time.After(50 * time.Millisecond):
	}

	close(idx.release)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 4, idx.Calls())
}
