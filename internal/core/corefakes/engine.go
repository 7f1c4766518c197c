// Package corefakes is an in-memory media engine for tests.
package corefakes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var ErrClosed = errors.New("closed")

// Factory creates FakeWorkers and remembers them in creation order.
type Factory struct {
	mu      sync.Mutex
	Workers []*FakeWorker
	// FailAt makes the n-th (1-based) Create call fail.
	FailAt int
	calls  int
}

func (f *Factory) Create(_ context.Context, _ core.WorkerSettings) (core.Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.FailAt > 0 && f.calls == f.FailAt {
		return nil, errors.New("worker spawn failed")
	}
	w := NewWorker()
	f.Workers = append(f.Workers, w)
	return w, nil
}

type FakeWorker struct {
	id   string
	died chan error

	// RouterDelay widens the window between a room lookup and router creation.
	RouterDelay time.Duration
	// ConsumeErr is returned by every Consume on routers of this worker.
	ConsumeErr error

	routers atomic.Int32
	closed  atomic.Bool
}

func NewWorker() *FakeWorker {
	return &FakeWorker{id: uuid.NewString(), died: make(chan error, 1)}
}

func (w *FakeWorker) ID() string          { return w.id }
func (w *FakeWorker) PID() int            { return 0 }
func (w *FakeWorker) Died() <-chan error  { return w.died }
func (w *FakeWorker) RoutersCreated() int { return int(w.routers.Load()) }
func (w *FakeWorker) Closed() bool        { return w.closed.Load() }

// Kill reports an unexpected worker death.
func (w *FakeWorker) Kill(err error) {
	select {
	case w.died <- err:
	default:
	}
}

func (w *FakeWorker) CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (core.Router, error) {
	if w.RouterDelay > 0 {
		select {
		case <-time.After(w.RouterDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	w.routers.Add(1)
	return &FakeRouter{
		id:        uuid.NewString(),
		worker:    w,
		caps:      domain.RouterCapabilities(codecs),
		producers: make(map[domain.ProducerID]*FakeProducer),
	}, nil
}

func (w *FakeWorker) Close() error {
	w.closed.Store(true)
	return nil
}

type FakeRouter struct {
	id     string
	worker *FakeWorker
	caps   domain.RtpCapabilities

	mu        sync.Mutex
	producers map[domain.ProducerID]*FakeProducer
	closed    bool
}

func (r *FakeRouter) ID() string                              { return r.id }
func (r *FakeRouter) RtpCapabilities() domain.RtpCapabilities { return r.caps }

func (r *FakeRouter) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *FakeRouter) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	r.mu.Unlock()
	return ok && domain.CanConsume(p.params, caps)
}

func (r *FakeRouter) CreateWebRtcTransport(_ context.Context, _ core.WebRtcTransportOptions) (core.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	id := domain.TransportID(uuid.NewString())
	return &FakeTransport{
		router: r,
		data: domain.TransportData{
			ID:            id,
			IceParameters: domain.IceParameters{UsernameFragment: uuid.NewString()[:8], Password: uuid.NewString(), IceLite: true},
			IceCandidates: []domain.IceCandidate{{
				Foundation: "udpcandidate", Priority: 1076302079, IP: "127.0.0.1", Protocol: "udp", Port: 40000, Type: "host",
			}},
			DtlsParameters: domain.DtlsParameters{
				Role:         "auto",
				Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "00:11:22:33"}},
			},
		},
	}, nil
}

func (r *FakeRouter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type FakeTransport struct {
	router *FakeRouter
	data   domain.TransportData

	mu        sync.Mutex
	connected bool
	closed    bool
	producers []*FakeProducer
	consumers []*FakeConsumer
	onClose   core.Notifier
}

func (t *FakeTransport) ID() domain.TransportID     { return t.data.ID }
func (t *FakeTransport) Data() domain.TransportData { return t.data }

func (t *FakeTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *FakeTransport) Connect(_ context.Context, params domain.ConnectParams) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if len(params.DtlsParameters.Fingerprints) == 0 {
		return errors.New("missing dtls fingerprints")
	}
	t.connected = true
	return nil
}

func (t *FakeTransport) Produce(_ context.Context, kind domain.MediaKind, params domain.RtpParameters) (core.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	p := &FakeProducer{id: domain.ProducerID(uuid.NewString()), kind: kind, params: params, router: t.router}
	t.producers = append(t.producers, p)
	t.router.mu.Lock()
	t.router.producers[p.id] = p
	t.router.mu.Unlock()
	return p, nil
}

func (t *FakeTransport) Consume(_ context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities) (core.Consumer, error) {
	if err := t.router.worker.ConsumeErr; err != nil {
		return nil, err
	}
	t.router.mu.Lock()
	p, ok := t.router.producers[producerID]
	t.router.mu.Unlock()
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	codec, _ := p.params.MediaCodec()
	capability, _ := domain.FindCapability(codec, caps)
	c := &FakeConsumer{
		id:         domain.ConsumerID(uuid.NewString()),
		producerID: producerID,
		kind:       p.kind,
		params: domain.RtpParameters{
			Codecs: []domain.RtpCodecParameters{{
				MimeType:    codec.MimeType,
				PayloadType: capability.PreferredPayloadType,
				ClockRate:   codec.ClockRate,
				Channels:    codec.Channels,
			}},
			Encodings: []domain.RtpEncodingParameters{{Ssrc: 1234}},
		},
	}
	t.consumers = append(t.consumers, c)
	p.addConsumer(c)
	return c, nil
}

// Close fires transport-close on everything created on this transport.
func (t *FakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers, consumers := t.producers, t.consumers
	t.mu.Unlock()

	for _, p := range producers {
		p.transportClosed()
	}
	for _, c := range consumers {
		c.onTransportClose.Fire()
	}
	t.onClose.Fire()
	return nil
}

func (t *FakeTransport) OnClose(fn func()) core.CancelFunc { return t.onClose.OnFire(fn) }

type FakeProducer struct {
	id     domain.ProducerID
	kind   domain.MediaKind
	params domain.RtpParameters
	router *FakeRouter

	mu        sync.Mutex
	closed    bool
	consumers []*FakeConsumer

	onScore          core.Emitter[[]domain.ProducerScore]
	onOrientation    core.Emitter[domain.VideoOrientation]
	onTransportClose core.Notifier
}

func (p *FakeProducer) ID() domain.ProducerID  { return p.id }
func (p *FakeProducer) Kind() domain.MediaKind { return p.kind }

func (p *FakeProducer) addConsumer(c *FakeConsumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

func (p *FakeProducer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	consumers := p.consumers
	p.mu.Unlock()

	p.router.mu.Lock()
	delete(p.router.producers, p.id)
	p.router.mu.Unlock()
	for _, c := range consumers {
		c.onProducerClose.Fire()
	}
	return nil
}

func (p *FakeProducer) transportClosed() {
	_ = p.Close()
	p.onTransportClose.Fire()
}

// EmitScore lets tests drive score notifications.
func (p *FakeProducer) EmitScore(score int) {
	p.onScore.Emit([]domain.ProducerScore{{Ssrc: 1, Score: score}})
}

func (p *FakeProducer) OnScore(fn func([]domain.ProducerScore)) core.CancelFunc {
	return p.onScore.On(fn)
}

func (p *FakeProducer) OnVideoOrientationChange(fn func(domain.VideoOrientation)) core.CancelFunc {
	return p.onOrientation.On(fn)
}

func (p *FakeProducer) OnTransportClose(fn func()) core.CancelFunc {
	return p.onTransportClose.OnFire(fn)
}

type FakeConsumer struct {
	id         domain.ConsumerID
	producerID domain.ProducerID
	kind       domain.MediaKind
	params     domain.RtpParameters

	closed           atomic.Bool
	onScore          core.Emitter[domain.ConsumerScore]
	onProducerClose  core.Notifier
	onTransportClose core.Notifier
}

func (c *FakeConsumer) ID() domain.ConsumerID               { return c.id }
func (c *FakeConsumer) ProducerID() domain.ProducerID       { return c.producerID }
func (c *FakeConsumer) Kind() domain.MediaKind              { return c.kind }
func (c *FakeConsumer) RtpParameters() domain.RtpParameters { return c.params }
func (c *FakeConsumer) Type() string                        { return "simple" }

func (c *FakeConsumer) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *FakeConsumer) OnScore(fn func(domain.ConsumerScore)) core.CancelFunc {
	return c.onScore.On(fn)
}

func (c *FakeConsumer) OnProducerClose(fn func()) core.CancelFunc {
	return c.onProducerClose.OnFire(fn)
}

func (c *FakeConsumer) OnTransportClose(fn func()) core.CancelFunc {
	return c.onTransportClose.OnFire(fn)
}
