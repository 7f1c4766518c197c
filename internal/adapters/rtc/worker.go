// Package rtc implements the media engine on pion's ORTC API. Every worker
// lives in this process.
package rtc

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var errWorkerClosed = errors.New("worker closed")

type Worker struct {
	id       string
	settings core.WorkerSettings
	loggers  logging.LoggerFactory
	logger   zerolog.Logger
	died     chan error

	mu      sync.Mutex
	routers map[string]*Router
	closed  bool
}

// NewWorker is a core.WorkerFactory.
func NewWorker(_ context.Context, settings core.WorkerSettings) (core.Worker, error) {
	if settings.RTCMinPort > settings.RTCMaxPort {
		return nil, errors.New("rtc port range inverted")
	}
	id := uuid.NewString()
	logger := log.With().Str("module", "engine").Str("worker", id).Logger()
	w := &Worker{
		id:       id,
		settings: settings,
		loggers:  newLoggerFactory(logger, settings.LogLevel, settings.LogTags),
		logger:   logger,
		died:     make(chan error, 1),
		routers:  make(map[string]*Router),
	}
	logger.Info().Uint16("min_port", settings.RTCMinPort).Uint16("max_port", settings.RTCMaxPort).
		Msg("worker started")
	return w, nil
}

func (w *Worker) ID() string { return w.id }

// PID is the signaling process itself.
func (w *Worker) PID() int { return os.Getpid() }

func (w *Worker) Died() <-chan error { return w.died }

func (w *Worker) CreateRouter(_ context.Context, codecs []domain.RtpCodecCapability) (core.Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, errWorkerClosed
	}
	r := newRouter(w, domain.RouterCapabilities(codecs))
	w.routers[r.id] = r
	w.logger.Info().Str("router", r.id).Int("codecs", len(codecs)).Msg("router created")
	return r, nil
}

func (w *Worker) forget(r *Router) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.routers, r.id)
}

func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	var errs []error
	for _, r := range routers {
		errs = append(errs, r.Close())
	}
	w.logger.Info().Msg("worker closed")
	return errors.Join(errs...)
}
