package rtc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Meet/internal/app/sfu"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var errRouterClosed = errors.New("router closed")

type Router struct {
	id     string
	worker *Worker
	caps   domain.RtpCapabilities
	relays *sfu.RelayManager
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	transports map[domain.TransportID]*Transport
	producers  map[domain.ProducerID]*Producer
	closed     bool
}

func newRouter(w *Worker, caps domain.RtpCapabilities) *Router {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Router{
		id:         id,
		worker:     w,
		caps:       caps,
		relays:     sfu.NewRelayManager(),
		logger:     w.logger.With().Str("router", id).Logger(),
		ctx:        ctx,
		cancel:     cancel,
		transports: make(map[domain.TransportID]*Transport),
		producers:  make(map[domain.ProducerID]*Producer),
	}
}

func (r *Router) ID() string                              { return r.id }
func (r *Router) RtpCapabilities() domain.RtpCapabilities { return r.caps }

func (r *Router) producer(id domain.ProducerID) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	return p, ok
}

func (r *Router) CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool {
	p, ok := r.producer(producerID)
	return ok && domain.CanConsume(p.params, caps)
}

// api builds a pion API scoped to one transport; MediaEngines cannot be shared.
func (r *Router) api(opts core.WebRtcTransportOptions) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	for _, c := range r.caps.Codecs {
		if err := m.RegisterCodec(codecParameters(c), codecType(c.Kind)); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}
	for _, ext := range r.caps.HeaderExtensions {
		if err := m.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: ext.URI}, codecType(ext.Kind)); err != nil {
			return nil, fmt.Errorf("register extension %s: %w", ext.URI, err)
		}
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: r.worker.loggers}
	se.SetLite(true)
	if r.worker.settings.RTCMinPort != 0 && r.worker.settings.RTCMaxPort != 0 {
		if err := se.SetEphemeralUDPPortRange(r.worker.settings.RTCMinPort, r.worker.settings.RTCMaxPort); err != nil {
			return nil, fmt.Errorf("port range: %w", err)
		}
	}
	var networks []webrtc.NetworkType
	if opts.EnableUDP {
		networks = append(networks, webrtc.NetworkTypeUDP4)
	}
	if opts.EnableTCP {
		networks = append(networks, webrtc.NetworkTypeTCP4)
	}
	if len(networks) > 0 {
		se.SetNetworkTypes(networks)
	}
	var announced []string
	allowed := make(map[string]bool)
	for _, l := range opts.ListenIPs {
		if l.AnnouncedIP != "" {
			announced = append(announced, l.AnnouncedIP)
		}
		if ip := net.ParseIP(l.IP); ip != nil && !ip.IsUnspecified() {
			allowed[ip.String()] = true
		}
	}
	if len(announced) > 0 {
		se.SetNAT1To1IPs(announced, webrtc.ICECandidateTypeHost)
	}
	if len(allowed) > 0 {
		se.SetIPFilter(func(ip net.IP) bool { return allowed[ip.String()] })
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

func (r *Router) CreateWebRtcTransport(ctx context.Context, opts core.WebRtcTransportOptions) (core.Transport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errRouterClosed
	}
	api, err := r.api(opts)
	if err != nil {
		return nil, err
	}
	t, err := newTransport(ctx, r, api, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = t.Close()
		return nil, errRouterClosed
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *Router) addProducer(p *Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[p.id] = p
}

func (r *Router) removeProducer(id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producers, id)
}

func (r *Router) removeTransport(id domain.TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*Transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	var errs []error
	for _, t := range transports {
		errs = append(errs, t.Close())
	}
	r.relays.StopAll()
	r.cancel()
	r.worker.forget(r)
	r.logger.Info().Msg("router closed")
	return errors.Join(errs...)
}
