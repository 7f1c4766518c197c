package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

var (
	errTransportClosed  = errors.New("transport closed")
	errAlreadyConnected = errors.New("transport already connected")
	errMissingIce       = errors.New("remote ice parameters required")
	errNoMediaCodec     = errors.New("rtp parameters carry no media codec")
	errNoSsrc           = errors.New("rtp parameters carry no ssrc")
	errUnsupportedCodec = errors.New("codec not supported by router")
)

// Transport is one ICE + DTLS association. Media flows once DTLS is connected.
type Transport struct {
	id     domain.TransportID
	router *Router
	api    *webrtc.API
	opts   core.WebRtcTransportOptions
	logger zerolog.Logger

	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	data     domain.TransportData

	connected     chan struct{}
	connectedOnce sync.Once
	done          chan struct{}

	mu        sync.Mutex
	started   bool
	closed    bool
	producers map[domain.ProducerID]*Producer
	consumers map[domain.ConsumerID]*Consumer
	onClose   core.Notifier
}

func newTransport(ctx context.Context, r *Router, api *webrtc.API, opts core.WebRtcTransportOptions) (*Transport, error) {
	id := domain.TransportID(uuid.NewString())
	logger := r.logger.With().Str("transport", string(id)).Logger()

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, fmt.Errorf("ice gatherer: %w", err)
	}
	gathered := make(chan struct{})
	var gatheredOnce sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			gatheredOnce.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("ice gather: %w", err)
	}
	select {
	case <-gathered:
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, ctx.Err()
	}

	candidates, err := gatherer.GetLocalCandidates()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local candidates: %w", err)
	}
	iceParams, err := gatherer.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local ice parameters: %w", err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("dtls transport: %w", err)
	}
	dtlsParams, err := dtls.GetLocalParameters()
	if err != nil {
		_ = gatherer.Close()
		return nil, fmt.Errorf("local dtls parameters: %w", err)
	}

	t := &Transport{
		id:       id,
		router:   r,
		api:      api,
		opts:     opts,
		logger:   logger,
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		data: domain.TransportData{
			ID:             id,
			IceParameters:  iceParameters(iceParams),
			IceCandidates:  iceCandidates(candidates),
			DtlsParameters: dtlsParameters(dtlsParams),
		},
		connected: make(chan struct{}),
		done:      make(chan struct{}),
		producers: make(map[domain.ProducerID]*Producer),
		consumers: make(map[domain.ConsumerID]*Consumer),
	}

	ice.OnConnectionStateChange(func(s webrtc.ICETransportState) {
		logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})
	dtls.OnStateChange(func(s webrtc.DTLSTransportState) {
		logger.Info().Str("dtls_state", s.String()).Msg("DTLS state")
		switch s {
		case webrtc.DTLSTransportStateConnected:
			t.connectedOnce.Do(func() { close(t.connected) })
		case webrtc.DTLSTransportStateFailed, webrtc.DTLSTransportStateClosed:
			go func() { _ = t.Close() }()
		}
	})

	logger.Info().Int("candidates", len(candidates)).Uint32("max_incoming_bitrate", opts.MaxIncomingBitrate).
		Uint32("initial_outgoing_bitrate", opts.InitialAvailableOutgoingBitrate).Msg("transport created")
	return t, nil
}

func (t *Transport) ID() domain.TransportID     { return t.id }
func (t *Transport) Data() domain.TransportData { return t.data }

// Connect starts ICE and DTLS in the background; failure closes the transport.
func (t *Transport) Connect(_ context.Context, params domain.ConnectParams) error {
	if params.IceParameters == nil {
		return errMissingIce
	}
	if len(params.DtlsParameters.Fingerprints) == 0 {
		return errors.New("remote dtls fingerprints required")
	}
	candidates, err := remoteIceCandidates(params.IceCandidates)
	if err != nil {
		return err
	}

	t.mu.Lock()
	switch {
	case t.closed:
		t.mu.Unlock()
		return errTransportClosed
	case t.started:
		t.mu.Unlock()
		return errAlreadyConnected
	}
	t.started = true
	t.mu.Unlock()

	if len(candidates) > 0 {
		if err := t.ice.SetRemoteCandidates(candidates); err != nil {
			return fmt.Errorf("remote candidates: %w", err)
		}
	}
	iceParams := remoteIceParameters(*params.IceParameters)
	dtlsParams := remoteDtlsParameters(params.DtlsParameters)
	go func() {
		role := webrtc.ICERoleControlled
		if err := t.ice.Start(nil, iceParams, &role); err != nil {
			t.logger.Error().Err(err).Msg("ice start")
			_ = t.Close()
			return
		}
		if err := t.dtls.Start(dtlsParams); err != nil {
			t.logger.Error().Err(err).Msg("dtls start")
			_ = t.Close()
		}
	}()
	return nil
}

func (t *Transport) waitConnected(ctx context.Context) error {
	select {
	case <-t.connected:
		return nil
	case <-t.done:
		return errTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Transport) Produce(ctx context.Context, kind domain.MediaKind, params domain.RtpParameters) (core.Producer, error) {
	codec, ok := params.MediaCodec()
	if !ok {
		return nil, errNoMediaCodec
	}
	capability, ok := domain.FindCapability(codec, t.router.caps)
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnsupportedCodec, codec.MimeType)
	}
	if len(params.Encodings) == 0 || params.Encodings[0].Ssrc == 0 {
		return nil, errNoSsrc
	}
	ssrc := params.Encodings[0].Ssrc

	// the receiver needs the SRTP session
	if err := t.waitConnected(ctx); err != nil {
		return nil, err
	}
	receiver, err := t.api.NewRTPReceiver(codecType(kind), t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp receiver: %w", err)
	}
	err = receiver.Receive(webrtc.RTPReceiveParameters{
		Encodings: []webrtc.RTPDecodingParameters{{
			RTPCodingParameters: webrtc.RTPCodingParameters{
				SSRC:        webrtc.SSRC(ssrc),
				PayloadType: webrtc.PayloadType(codec.PayloadType),
			},
		}},
	})
	if err != nil {
		_ = receiver.Stop()
		return nil, fmt.Errorf("rtp receive: %w", err)
	}

	p := newProducer(t, kind, params, capability, ssrc, receiver)
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = receiver.Stop()
		return nil, errTransportClosed
	}
	t.producers[p.id] = p
	t.mu.Unlock()
	t.router.addProducer(p)
	p.start()
	return p, nil
}

func (t *Transport) Consume(_ context.Context, producerID domain.ProducerID, _ domain.RtpCapabilities) (core.Consumer, error) {
	p, ok := t.router.producer(producerID)
	if !ok {
		return nil, domain.ErrProducerNotFound
	}
	id := domain.ConsumerID(uuid.NewString())
	track, err := webrtc.NewTrackLocalStaticRTP(codecCapability(p.capability), string(id), string(producerID))
	if err != nil {
		return nil, fmt.Errorf("local track: %w", err)
	}
	sender, err := t.api.NewRTPSender(track, t.dtls)
	if err != nil {
		return nil, fmt.Errorf("rtp sender: %w", err)
	}
	sp := sender.GetParameters()
	if err := sender.Send(sp); err != nil {
		_ = sender.Stop()
		return nil, fmt.Errorf("rtp send: %w", err)
	}
	var ssrc uint32
	if len(sp.Encodings) > 0 {
		ssrc = uint32(sp.Encodings[0].SSRC)
	}

	c := newConsumer(t, p, id, sender, ssrc)
	out, ok := t.router.relays.AddSubscriber(producerID, id, track)
	if !ok {
		c.cancel()
		_ = sender.Stop()
		return nil, domain.ErrProducerNotFound
	}
	c.out = out

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = c.Close()
		return nil, errTransportClosed
	}
	t.consumers[id] = c
	t.mu.Unlock()
	p.addConsumer(c)
	c.start()
	if p.kind == domain.KindVideo {
		p.requestKeyFrame()
	}
	return c, nil
}

func (t *Transport) removeProducer(id domain.ProducerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.producers, id)
}

func (t *Transport) removeConsumer(id domain.ConsumerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.consumers, id)
}

// Close fires transport-close on every producer and consumer, then OnClose.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	producers := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	t.mu.Unlock()

	for _, p := range producers {
		p.transportClosed()
	}
	for _, c := range consumers {
		c.transportClosed()
	}
	errs := []error{t.dtls.Stop(), t.ice.Stop(), t.gatherer.Close()}
	t.router.removeTransport(t.id)
	t.onClose.Fire()
	t.logger.Info().Msg("transport closed")
	return errors.Join(errs...)
}

func (t *Transport) OnClose(fn func()) core.CancelFunc { return t.onClose.OnFire(fn) }
