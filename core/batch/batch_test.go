package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"nendo/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitKeepsFinalPartialBatch(t *testing.T) {
	batches := split([]int{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, batches)
}

func TestRunCollectsEveryResult(t *testing.T) {
	r := NewRunner(3, 4)
	items := make([]int, 25)
	for i := range items {
		items[i] = i
	}
	var progress []Progress
	r.OnProgress = func(p Progress) { progress = append(progress, p) }

	out, err := Run(context.Background(), r, items, func(_ context.Context, n int) (int, error) {
		return n * 2, nil
	})
	require.NoError(t, err)
	assert.Len(t, out, 25)
	want := make([]int, 25)
	for i := range want {
		want[i] = i * 2
	}
	assert.ElementsMatch(t, want, out)

	require.Len(t, progress, 7)
	assert.Equal(t, 7, progress[6].Done)
	assert.Equal(t, time.Duration(0), progress[6].Remaining)
}

func TestRunUsesCompletionOrder(t *testing.T) {
	r := NewRunner(2, 1)
	out, err := Run(context.Background(), r, []time.Duration{80 * time.Millisecond, 0}, func(_ context.Context, d time.Duration) (time.Duration, error) {
		time.Sleep(d)
		return d, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, 80 * time.Millisecond}, out)
}

func TestRunSkipsFailingBatch(t *testing.T) {
	r := NewRunner(2, 2)
	var failed int32
	r.OnProgress = func(p Progress) { atomic.StoreInt32(&failed, int32(p.Failed)) }

	out, err := Run(context.Background(), r, []int{1, 2, 3, 4, 5}, func(_ context.Context, n int) (int, error) {
		if n == 3 {
			return 0, errors.New("bad item")
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 2, 5}, out)
	assert.EqualValues(t, 1, atomic.LoadInt32(&failed))
}

func TestRunLogsUnderBatchComponent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.log")
	logger.InitLogger(logger.Config{Level: logger.InfoLevel, OutputPath: path, MaxSize: 1})

	_, err := Run(context.Background(), NewRunner(1, 1), []int{1, 2}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			return 0, errors.New("bad item")
		}
		return n, nil
	})
	require.NoError(t, err)
	logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"[Batch] Batch processed"`)
	assert.Contains(t, string(data), `"msg":"[Batch] Batch failed, skipping"`)
}

func TestRunRecoversPanics(t *testing.T) {
	out, err := Run(context.Background(), NewRunner(1, 1), []int{1, 2}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			panic("boom")
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, out)
}

func TestSingleItemIsCalledDirectly(t *testing.T) {
	_, err := Run(context.Background(), NewRunner(4, 10), []string{"x"}, func(_ context.Context, s string) (string, error) {
		return "", errors.New("direct")
	})
	assert.EqualError(t, err, "direct")

	out, err := Run(context.Background(), NewRunner(4, 10), []string{}, func(_ context.Context, s string) (string, error) {
		return s, nil
	})
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int32
	_, err := Run(ctx, NewRunner(1, 1), []int{1, 2, 3, 4}, func(_ context.Context, n int) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			cancel()
		}
		return n, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, atomic.LoadInt32(&calls), int32(4))
}
