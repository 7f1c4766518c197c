package sfu

import (
	"context"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/dkeye/Meet/internal/domain"
)

// PacketReader is the receiving half of a producer, usually a *webrtc.TrackRemote.
type PacketReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Stats counts packets seen by a relay; Lost is derived from sequence gaps.
type Stats struct {
	Received uint64
	Lost     uint64
}

// Score maps the loss since prev to the 0..10 scale used by score events.
func (s Stats) Score(prev Stats) int {
	recv := s.Received - prev.Received
	expected := recv + s.Lost - prev.Lost
	if expected == 0 {
		return 0
	}
	return int(10 * recv / expected)
}

type Relay struct {
	ID  domain.ProducerID
	Src PacketReader
	// OnPacket sees every packet before it is forwarded. Set before the relay starts.
	OnPacket func(*rtp.Packet)

	mu        sync.RWMutex
	outTracks map[domain.ConsumerID]*OutTrack

	statsMu sync.Mutex
	stats   Stats
	lastSeq uint16
	started bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(id domain.ProducerID, src PacketReader, cancel context.CancelFunc) *Relay {
	return &Relay{
		ID:        id,
		Src:       src,
		outTracks: make(map[domain.ConsumerID]*OutTrack),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Done is closed once the relay stops reading.
func (r *Relay) Done() <-chan struct{} { return r.done }

// loop reads RTP packets from the source and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, _, err := r.Src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP stopped")
			r.markAllDelete()
			return
		}
		r.count(pkt.SequenceNumber)
		if r.OnPacket != nil {
			r.OnPacket(pkt)
		}
		r.forward(pkt, logger)
	}
}

func (r *Relay) count(seq uint16) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	r.stats.Received++
	if !r.started {
		r.started, r.lastSeq = true, seq
		return
	}
	// uint16 wrap-around; gaps of half the space or more are reordering
	if diff := seq - r.lastSeq; diff > 0 && diff < 0x8000 {
		r.stats.Lost += uint64(diff - 1)
		r.lastSeq = seq
	}
}

func (r *Relay) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

func (r *Relay) forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	var dirty []domain.ConsumerID
	for dst, ot := range snapshot {
		switch ot.State() {
		case TrackStateDelete:
			dirty = append(dirty, dst)
		case TrackStateOk:
			if err := ot.write(pkt); err != nil {
				logger.Error().Err(err).Str("consumer", string(dst)).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, dst)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.State() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(dst domain.ConsumerID, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[dst] = ot
}

// OutTracks is the number of attached consumers, deleted ones included until the next packet.
func (r *Relay) OutTracks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}
