package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/core/corefakes"
	"github.com/dkeye/Meet/internal/domain"
)

func newTestPool(t *testing.T, n int, onFatal FatalHandler) (*WorkerPool, *corefakes.Factory) {
	t.Helper()
	f := &corefakes.Factory{}
	p, err := NewWorkerPool(context.Background(), n, core.WorkerSettings{}, f.Create, onFatal)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, f
}

func TestWorkerPool(t *testing.T) {
	t.Run("round robin", func(t *testing.T) {
		p, _ := newTestPool(t, 3, nil)
		workers := p.Workers()
		require.Len(t, workers, 3)
		for k := 0; k < 7; k++ {
			require.Same(t, workers[k%3], p.Next())
		}
	})

	t.Run("zero workers", func(t *testing.T) {
		_, err := NewWorkerPool(context.Background(), 0, core.WorkerSettings{}, (&corefakes.Factory{}).Create, nil)
		require.ErrorIs(t, err, domain.ErrWorkerFatal)
	})

	t.Run("startup failure closes started workers", func(t *testing.T) {
		f := &corefakes.Factory{FailAt: 2}
		p, err := NewWorkerPool(context.Background(), 3, core.WorkerSettings{}, f.Create, nil)
		require.ErrorIs(t, err, domain.ErrWorkerFatal)
		require.Nil(t, p)
		require.Len(t, f.Workers, 2)
		for _, w := range f.Workers {
			require.True(t, w.Closed())
		}
	})

	t.Run("death is fatal once", func(t *testing.T) {
		var calls atomic.Int32
		got := make(chan error, 2)
		_, f := newTestPool(t, 2, func(_ core.Worker, err error) {
			calls.Add(1)
			got <- err
		})
		boom := errors.New("worker crashed")
		f.Workers[0].Kill(boom)
		select {
		case err := <-got:
			require.ErrorIs(t, err, boom)
		case <-time.After(time.Second):
			t.Fatal("fatal handler not called")
		}
		f.Workers[1].Kill(boom)
		time.Sleep(50 * time.Millisecond)
		require.EqualValues(t, 1, calls.Load())
	})

	t.Run("close is not fatal", func(t *testing.T) {
		var calls atomic.Int32
		p, f := newTestPool(t, 2, func(core.Worker, error) { calls.Add(1) })
		require.NoError(t, p.Close())
		for _, w := range f.Workers {
			require.True(t, w.Closed())
		}
		time.Sleep(20 * time.Millisecond)
		require.Zero(t, calls.Load())
	})
}
