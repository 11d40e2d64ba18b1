package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsEveryIndexWithinLimit(t *testing.T) {
	p := NewPool(nil, WithWorkers(3))

	var inFlight, peak atomic.Int32
	seen := make([]int32, 20)
	err := p.Run(context.Background(), len(seen), func(ctx context.Context, i int) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&seen[i], 1)
		return nil
	})
	require.NoError(t, err)

	for i, c := range seen {
		assert.Equal(t, int32(1), c, "index %d", i)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestPool_FailuresAndPanicsAreIsolated(t *testing.T) {
	p := NewPool(nil, WithWorkers(2))

	var done atomic.Int32
	err := p.Run(context.Background(), 6, func(ctx context.Context, i int) error {
		defer done.Add(1)
		switch i {
		case 1:
			return errors.New("boom")
		case 3:
			panic("kaboom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(6), done.Load())
}

func TestPool_StopsSchedulingOnCancel(t *testing.T) {
	p := NewPool(nil, WithWorkers(1))
	ctx, cancel := context.WithCancel(context.Background())

	var ran atomic.Int32
	err := p.Run(ctx, 10, func(ctx context.Context, i int) error {
		ran.Add(1)
		if i == 0 {
			cancel()
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, ran.Load(), int32(10))
}

func TestPool_JobTimeout(t *testing.T) {
	p := NewPool(nil, WithProcessTimeout(10*time.Millisecond))
	var got error
	_ = p.Run(context.Background(), 1, func(ctx context.Context, i int) error {
		<-ctx.Done()
		got = ctx.Err()
		return got
	})
	assert.ErrorIs(t, got, context.DeadlineExceeded)
}

type recordingProcessor struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingProcessor) Process(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, job.Path)
	if job.Path == "malo.txt" {
		return errors.New("cannot process")
	}
	return nil
}

func TestProcessorQueue_DrainsOnShutdown(t *testing.T) {
	proc := &recordingProcessor{}
	q := NewProcessorQueue(proc, nil, WithWorkers(2), WithQueueSize(1))

	for _, p := range []string{"a.txt", "malo.txt", "b.pdf", "c.docx"} {
		require.NoError(t, q.Enqueue(context.Background(), Job{Path: p}))
	}
	q.Shutdown(context.Background())

	assert.ElementsMatch(t, []string{"a.txt", "malo.txt", "b.pdf", "c.docx"}, proc.paths)
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{Path: "tarde.txt"}), ErrQueueClosed)

	// second shutdown is a no-op
	q.Shutdown(context.Background())
}
