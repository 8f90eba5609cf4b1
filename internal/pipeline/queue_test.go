package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotfold/hotfold/internal/job"
)

func TestQueueFIFO(t *testing.T) {
	q := newJobQueue()

	a := job.New("h", "/in/a.pdf")
	b := job.New("h", "/in/b.pdf")
	require.True(t, q.Enqueue(a))
	require.True(t, q.Enqueue(b))
	assert.Equal(t, 2, q.Len())

	got, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Same(t, a, got)

	got, ok = q.TryDequeue()
	require.True(t, ok)
	assert.Same(t, b, got)

	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestQueueCloseRejectsEnqueue(t *testing.T) {
	q := newJobQueue()
	q.Close()
	assert.False(t, q.Enqueue(job.New("h", "/in/a.pdf")))
	assert.True(t, q.Closed())
}

func TestQueueCloseWakesWaiters(t *testing.T) {
	q := newJobQueue()
	done := make(chan struct{})
	go func() {
		<-q.Wait()
		close(done)
	}()
	q.Close()
	<-done
}

func TestQueueDrainAfterClose(t *testing.T) {
	q := newJobQueue()
	require.True(t, q.Enqueue(job.New("h", "/in/a.pdf")))
	q.Close()

	_, ok := q.TryDequeue()
	assert.True(t, ok, "queued jobs stay dequeueable after close")
	_, ok = q.TryDequeue()
	assert.False(t, ok)
}

func TestQueueSignalCoalesces(t *testing.T) {
	q := newJobQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue(job.New("h", "/in/a.pdf"))
	}
	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("signal buffer must hold at most one wakeup")
	default:
	}
}
