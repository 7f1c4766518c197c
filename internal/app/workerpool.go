package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

const DefaultDeathGrace = 2 * time.Second

// FatalHandler is called once when any worker dies.
type FatalHandler func(w core.Worker, err error)

// ExitAfter logs and terminates the process after grace.
func ExitAfter(grace time.Duration) FatalHandler {
	return func(w core.Worker, err error) {
		log.Error().Err(err).Str("module", "app.pool").Str("worker", w.ID()).Int("pid", w.PID()).
			Dur("grace", grace).Msg("media worker died, exiting")
		time.AfterFunc(grace, func() { os.Exit(1) })
	}
}

// WorkerPool owns a fixed set of workers and hands them out round-robin.
type WorkerPool struct {
	mu      sync.Mutex
	workers []core.Worker
	next    int

	fatalOnce sync.Once
	onFatal   FatalHandler
	stop      context.CancelFunc
}

// NewWorkerPool starts count workers. Any failure stops the ones already started.
func NewWorkerPool(
	ctx context.Context,
	count int,
	settings core.WorkerSettings,
	factory core.WorkerFactory,
	onFatal FatalHandler,
) (*WorkerPool, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: worker count %d", domain.ErrWorkerFatal, count)
	}
	log.Info().Str("module", "app.pool").Int("count", count).Msg("creating media workers")

	workers := make([]core.Worker, count)
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			w, err := factory(gctx, settings)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				_ = w.Close()
			}
		}
		return nil, errors.Join(domain.ErrWorkerFatal, err)
	}

	watchCtx, stop := context.WithCancel(ctx)
	p := &WorkerPool{workers: workers, onFatal: onFatal, stop: stop}
	for _, w := range workers {
		go p.watch(watchCtx, w)
	}
	return p, nil
}

func (p *WorkerPool) watch(ctx context.Context, w core.Worker) {
	select {
	case <-ctx.Done():
	case err := <-w.Died():
		if err == nil {
			err = domain.ErrWorkerFatal
		}
		p.fatalOnce.Do(func() {
			if p.onFatal != nil {
				p.onFatal(w, err)
			}
		})
	}
}

// Next returns the worker for the next room. Room k gets worker k mod Size.
func (p *WorkerPool) Next() core.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[p.next]
	p.next = (p.next + 1) % len(p.workers)
	return w
}

func (p *WorkerPool) Size() int {
	return len(p.workers)
}

// Workers returns a copy of the pool membership.
func (p *WorkerPool) Workers() []core.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Worker(nil), p.workers...)
}

// Close stops the death watchers before closing workers so a shutdown is not fatal.
func (p *WorkerPool) Close() error {
	p.stop()
	var errs []error
	for _, w := range p.Workers() {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
