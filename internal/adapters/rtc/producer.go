package rtc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Meet/internal/app/sfu"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

const statsInterval = time.Second

type Producer struct {
	id         domain.ProducerID
	kind       domain.MediaKind
	params     domain.RtpParameters
	capability domain.RtpCodecCapability
	ssrc       uint32
	transport  *Transport
	receiver   *webrtc.RTPReceiver
	relay      *sfu.Relay
	logger     zerolog.Logger

	orientationExt uint8
	orientation    domain.VideoOrientation
	score          atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu        sync.Mutex
	consumers map[domain.ConsumerID]*Consumer

	onScore          core.Emitter[[]domain.ProducerScore]
	onOrientation    core.Emitter[domain.VideoOrientation]
	onTransportClose core.Notifier
}

func newProducer(
	t *Transport,
	kind domain.MediaKind,
	params domain.RtpParameters,
	capability domain.RtpCodecCapability,
	ssrc uint32,
	receiver *webrtc.RTPReceiver,
) *Producer {
	id := domain.ProducerID(uuid.NewString())
	ctx, cancel := context.WithCancel(t.router.ctx)
	return &Producer{
		id:             id,
		kind:           kind,
		params:         params,
		capability:     capability,
		ssrc:           ssrc,
		transport:      t,
		receiver:       receiver,
		logger:         t.logger.With().Str("producer", string(id)).Logger(),
		orientationExt: uint8(params.HeaderExtensionID(domain.ExtVideoOrientation)),
		ctx:            ctx,
		cancel:         cancel,
		consumers:      make(map[domain.ConsumerID]*Consumer),
	}
}

func (p *Producer) ID() domain.ProducerID  { return p.id }
func (p *Producer) Kind() domain.MediaKind { return p.kind }

func (p *Producer) start() {
	p.relay = p.transport.router.relays.StartRelay(p.ctx, p.id, p.receiver.Track(), p.onPacket)
	go p.readRTCP()
	go p.statsLoop()
}

// onPacket runs on the relay goroutine.
func (p *Producer) onPacket(pkt *rtp.Packet) {
	if p.kind != domain.KindVideo || p.orientationExt == 0 {
		return
	}
	ext := pkt.GetExtension(p.orientationExt)
	if len(ext) == 0 {
		return
	}
	if o := videoOrientation(ext[0]); o != p.orientation {
		p.orientation = o
		p.onOrientation.Emit(o)
	}
}

// readRTCP drains receiver RTCP so the interceptors keep running.
func (p *Producer) readRTCP() {
	for {
		if _, _, err := p.receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

func (p *Producer) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	var prev sfu.Stats
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}
		cur := p.relay.Stats()
		score := cur.Score(prev)
		prev = cur
		if old := p.score.Swap(int32(score)); int(old) != score {
			p.onScore.Emit([]domain.ProducerScore{{Ssrc: p.ssrc, Score: score}})
		}
		if limit := p.transport.opts.MaxIncomingBitrate; limit > 0 {
			p.writeRTCP(&rtcp.ReceiverEstimatedMaximumBitrate{Bitrate: float32(limit), SSRCs: []uint32{p.ssrc}})
		}
	}
}

func (p *Producer) writeRTCP(pkts ...rtcp.Packet) {
	if _, err := p.transport.dtls.WriteRTCP(pkts); err != nil {
		p.logger.Debug().Err(err).Msg("write rtcp")
	}
}

func (p *Producer) requestKeyFrame() {
	if p.kind != domain.KindVideo {
		return
	}
	p.writeRTCP(&rtcp.PictureLossIndication{MediaSSRC: p.ssrc})
}

func (p *Producer) Score() int { return int(p.score.Load()) }

func (p *Producer) addConsumer(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.id] = c
}

func (p *Producer) removeConsumer(id domain.ConsumerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

// Close stops the relay and fires producer-close on every consumer.
func (p *Producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.receiver.Stop()
		p.transport.router.relays.StopRelay(p.id)
		p.transport.router.removeProducer(p.id)
		p.transport.removeProducer(p.id)

		p.mu.Lock()
		consumers := make([]*Consumer, 0, len(p.consumers))
		for _, c := range p.consumers {
			consumers = append(consumers, c)
		}
		p.mu.Unlock()
		for _, c := range consumers {
			c.producerClosed()
		}
		p.logger.Info().Msg("producer closed")
	})
	return err
}

func (p *Producer) transportClosed() {
	_ = p.Close()
	p.onTransportClose.Fire()
}

func (p *Producer) OnScore(fn func([]domain.ProducerScore)) core.CancelFunc {
	return p.onScore.On(fn)
}

func (p *Producer) OnVideoOrientationChange(fn func(domain.VideoOrientation)) core.CancelFunc {
	return p.onOrientation.On(fn)
}

func (p *Producer) OnTransportClose(fn func()) core.CancelFunc {
	return p.onTransportClose.OnFire(fn)
}
