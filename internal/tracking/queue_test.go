package tracking

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTask struct {
	name     string
	failures int32 // fail this many runs before succeeding
	runs     int32
}

func (t *fakeTask) Name() string { return t.name }

func (t *fakeTask) Run(ctx context.Context) error {
	n := atomic.AddInt32(&t.runs, 1)
	if n <= atomic.LoadInt32(&t.failures) {
		return errors.New("transient failure")
	}
	return nil
}

func newTestQueue(size, workers, retries int) *Queue {
	return NewQueue(QueueOptions{
		Size:       size,
		Workers:    workers,
		MaxRetries: retries,
		Backoff:    time.Millisecond,
		Logger:     zap.NewNop(),
	})
}

func TestQueueRunsSubmittedTasks(t *testing.T) {
	q := newTestQueue(16, 2, 0)
	q.Start(context.Background())

	tasks := make([]*fakeTask, 10)
	for i := range tasks {
		tasks[i] = &fakeTask{name: "click"}
		require.True(t, q.Submit(tasks[i]))
	}
	q.Stop()

	for _, task := range tasks {
		assert.Equal(t, int32(1), atomic.LoadInt32(&task.runs))
	}
	assert.Empty(t, q.DeadLetters())
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	q := newTestQueue(4, 1, 3)
	q.Start(context.Background())

	task := &fakeTask{name: "click", failures: 2}
	require.True(t, q.Submit(task))
	q.Stop()

	assert.Equal(t, int32(3), atomic.LoadInt32(&task.runs))
	assert.Empty(t, q.DeadLetters())
}

func TestQueueDeadLettersAfterExhaustedRetries(t *testing.T) {
	q := newTestQueue(4, 1, 2)
	q.Start(context.Background())

	task := &fakeTask{name: "click", failures: 100}
	require.True(t, q.Submit(task))
	q.Stop()

	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), atomic.LoadInt32(&task.runs))
	dead := q.DeadLetters()
	require.Len(t, dead, 1)
	assert.Same(t, task, dead[0].(*fakeTask))
}

func TestQueueSubmitNeverBlocksOnOverflow(t *testing.T) {
	// No workers started, so the buffer fills and stays full.
	q := newTestQueue(1, 1, 0)

	assert.True(t, q.Submit(&fakeTask{name: "click"}))

	done := make(chan bool, 1)
	go func() {
		done <- q.Submit(&fakeTask{name: "click"})
	}()
	select {
	case accepted := <-done:
		assert.False(t, accepted)
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a full queue")
	}
}
