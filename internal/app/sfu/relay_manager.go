package sfu

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/domain"
)

// RelayManager holds one relay per producer of a router.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.ProducerID]*Relay
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[domain.ProducerID]*Relay),
	}
}

// StartRelay creates the relay for a producer and starts its loop.
func (m *RelayManager) StartRelay(
	ctx context.Context,
	id domain.ProducerID,
	src PacketReader,
	onPacket func(*rtp.Packet),
) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("producer", string(id)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay(id, src, cancel)
	relay.OnPacket = onPacket

	m.mu.Lock()
	if old, ok := m.relays[id]; ok {
		logger.Info().Msg("replacing existing relay for producer")
		old.markAllDelete()
		old.cancel()
	}
	m.relays[id] = relay
	m.mu.Unlock()

	logger.Info().Msg("starting relay loop")

	go relay.loop(relayCtx, &logger)
	return relay
}

// AddSubscriber attaches a consumer's writer to the relay of a producer.
func (m *RelayManager) AddSubscriber(producerID domain.ProducerID, consumerID domain.ConsumerID, w PacketWriter) (*OutTrack, bool) {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	ot := NewOutTrack(w)
	relay.AddOutTrack(consumerID, ot)
	return ot, true
}

// MarkSubscriberDelete detaches a consumer; it is dropped on the next packet.
func (m *RelayManager) MarkSubscriberDelete(producerID domain.ProducerID, consumerID domain.ConsumerID) {
	m.mu.RLock()
	relay, ok := m.relays[producerID]
	m.mu.RUnlock()
	if !ok {
		return
	}

	relay.mu.RLock()
	ot, ok := relay.outTracks[consumerID]
	relay.mu.RUnlock()
	if !ok {
		return
	}
	ot.MarkDelete()
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(id domain.ProducerID) {
	m.mu.Lock()
	relay, ok := m.relays[id]
	if ok {
		delete(m.relays, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	relay.markAllDelete()
	relay.cancel()
}

// StopAll stops every relay, used when the router closes.
func (m *RelayManager) StopAll() {
	m.mu.Lock()
	relays := m.relays
	m.relays = make(map[domain.ProducerID]*Relay)
	m.mu.Unlock()
	for _, r := range relays {
		r.markAllDelete()
		r.cancel()
	}
}

func (m *RelayManager) Relay(id domain.ProducerID) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	relay, ok := m.relays[id]
	return relay, ok
}
