package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/Meet/internal/app/sfu"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type Consumer struct {
	id        domain.ConsumerID
	producer  *Producer
	transport *Transport
	sender    *webrtc.RTPSender
	params    domain.RtpParameters
	out       *sfu.OutTrack
	logger    zerolog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	onScore          core.Emitter[domain.ConsumerScore]
	onProducerClose  core.Notifier
	onTransportClose core.Notifier
}

func newConsumer(t *Transport, p *Producer, id domain.ConsumerID, sender *webrtc.RTPSender, ssrc uint32) *Consumer {
	ctx, cancel := context.WithCancel(t.router.ctx)
	c := p.capability
	var exts []domain.RtpHeaderExtensionParameters
	for _, ext := range t.router.caps.HeaderExtensions {
		if ext.Kind == p.kind {
			exts = append(exts, domain.RtpHeaderExtensionParameters{URI: ext.URI, ID: ext.PreferredID})
		}
	}
	return &Consumer{
		id:        id,
		producer:  p,
		transport: t,
		sender:    sender,
		params: domain.RtpParameters{
			Codecs: []domain.RtpCodecParameters{{
				MimeType:     c.MimeType,
				PayloadType:  c.PreferredPayloadType,
				ClockRate:    c.ClockRate,
				Channels:     c.Channels,
				Parameters:   c.Parameters,
				RtcpFeedback: c.RtcpFeedback,
			}},
			HeaderExtensions: exts,
			Encodings:        []domain.RtpEncodingParameters{{Ssrc: ssrc}},
			Rtcp:             domain.RtcpParameters{Cname: string(p.id), ReducedSize: true},
		},
		logger: t.logger.With().Str("consumer", string(id)).Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Consumer) ID() domain.ConsumerID               { return c.id }
func (c *Consumer) ProducerID() domain.ProducerID       { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind              { return c.producer.kind }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.params }
func (c *Consumer) Type() string                        { return "simple" }

func (c *Consumer) start() {
	go c.readRTCP()
	go c.statsLoop()
}

// readRTCP forwards key frame requests from the receiving side to the producer.
func (c *Consumer) readRTCP() {
	for {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.requestKeyFrame()
			}
		}
	}
}

func (c *Consumer) statsLoop() {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	var sent uint64
	last := domain.ConsumerScore{Score: -1}
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		cur := c.out.Sent()
		score := domain.ConsumerScore{ProducerScore: c.producer.Score()}
		if cur > sent {
			score.Score = score.ProducerScore
		}
		sent = cur
		if score != last {
			last = score
			c.onScore.Emit(score)
		}
	}
}

func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.sender.Stop()
		c.transport.router.relays.MarkSubscriberDelete(c.producer.id, c.id)
		c.producer.removeConsumer(c.id)
		c.transport.removeConsumer(c.id)
		c.logger.Info().Msg("consumer closed")
	})
	return err
}

func (c *Consumer) producerClosed() {
	_ = c.Close()
	c.onProducerClose.Fire()
}

func (c *Consumer) transportClosed() {
	_ = c.Close()
	c.onTransportClose.Fire()
}

func (c *Consumer) OnScore(fn func(domain.ConsumerScore)) core.CancelFunc {
	return c.onScore.On(fn)
}

func (c *Consumer) OnProducerClose(fn func()) core.CancelFunc {
	return c.onProducerClose.OnFire(fn)
}

func (c *Consumer) OnTransportClose(fn func()) core.CancelFunc {
	return c.onTransportClose.OnFire(fn)
}
