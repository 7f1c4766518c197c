package app

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

// Room is bound to one worker and one router for its whole lifetime.
type Room struct {
	id     domain.RoomID
	worker core.Worker

	ready  chan struct{}
	router core.Router
	err    error

	mu     sync.Mutex
	peers  map[domain.PeerID]*Peer
	closed bool
}

func newRoom(id domain.RoomID, worker core.Worker) *Room {
	return &Room{
		id:     id,
		worker: worker,
		ready:  make(chan struct{}),
		peers:  make(map[domain.PeerID]*Peer),
	}
}

// init creates the router. Only the goroutine that inserted the room calls it.
func (r *Room) init(ctx context.Context, codecs []domain.RtpCodecCapability) {
	defer close(r.ready)
	r.router, r.err = r.worker.CreateRouter(ctx, codecs)
	if r.err != nil {
		log.Error().Err(r.err).Str("module", "app.rooms").Str("room", string(r.id)).Msg("create router")
		return
	}
	log.Info().Str("module", "app.rooms").Str("room", string(r.id)).Str("worker", r.worker.ID()).
		Str("router", r.router.ID()).Int("codecs", len(codecs)).Msg("room created")
}

func (r *Room) wait(ctx context.Context) error {
	select {
	case <-r.ready:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Room) ID() domain.RoomID   { return r.id }
func (r *Room) Worker() core.Worker { return r.worker }
func (r *Room) Router() core.Router { return r.router }

func (r *Room) PeerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Room) HasPeer(id domain.PeerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.peers[id]
	return ok
}

// PeerIDs is sorted for stable output.
func (r *Room) PeerIDs() []domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PeerID, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Counts returns the number of transports, producers and consumers of a peer.
func (r *Room) Counts(id domain.PeerID) (transports, producers, consumers int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return 0, 0, 0
	}
	return len(p.transports), len(p.producers), len(p.consumers)
}

func (r *Room) join(id domain.PeerID) (*domain.RoomState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, domain.ErrRoomClosed
	}
	if _, ok := r.peers[id]; ok {
		return nil, domain.ErrDuplicatePeer
	}
	others := make([]domain.PeerInfo, 0, len(r.peers))
	for _, p := range r.peers {
		others = append(others, p.info())
	}
	sort.Slice(others, func(i, j int) bool { return others[i].ID < others[j].ID })
	r.peers[id] = newPeer(id)
	return &domain.RoomState{
		RoomID:          r.id,
		RtpCapabilities: r.router.RtpCapabilities(),
		Peers:           others,
	}, nil
}

// leave removes a peer; the caller closes the returned transports outside the lock.
func (r *Room) leave(id domain.PeerID) (found, empty bool, transports []core.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return false, len(r.peers) == 0, nil
	}
	delete(r.peers, id)
	transports = p.release()
	if len(r.peers) == 0 {
		r.closed = true
	}
	return true, r.closed, transports
}

func (r *Room) hasPeerLocked(id domain.PeerID) error {
	if _, ok := r.peers[id]; !ok {
		return domain.ErrPeerNotFound
	}
	return nil
}

func (r *Room) transport(peerID domain.PeerID, id domain.TransportID) (core.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return nil, domain.ErrPeerNotFound
	}
	e, ok := p.transports[id]
	if !ok {
		return nil, domain.ErrTransportNotFound
	}
	return e.transport, nil
}

func (r *Room) addTransport(peerID domain.PeerID, t core.Transport, dir domain.Direction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return domain.ErrPeerNotFound
	}
	id := t.ID()
	p.transports[id] = &transportEntry{
		transport: t,
		direction: dir,
		cancel:    t.OnClose(func() { r.removeTransport(peerID, id) }),
	}
	return nil
}

func (r *Room) removeTransport(peerID domain.PeerID, id domain.TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return
	}
	if e, ok := p.transports[id]; ok {
		delete(p.transports, id)
		e.cancel()
		log.Debug().Str("module", "app.rooms").Str("room", string(r.id)).Str("peer", string(peerID)).
			Str("transport", string(id)).Msg("transport removed")
	}
}

func (r *Room) addProducer(peerID domain.PeerID, pr core.Producer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return domain.ErrPeerNotFound
	}
	id := pr.ID()
	logger := log.With().Str("module", "app.rooms").Str("room", string(r.id)).
		Str("peer", string(peerID)).Str("producer", string(id)).Logger()
	p.producers[id] = &producerEntry{
		producer: pr,
		cancels: []core.CancelFunc{
			pr.OnScore(func(score []domain.ProducerScore) {
				logger.Debug().Interface("score", score).Msg("producer score")
			}),
			pr.OnVideoOrientationChange(func(o domain.VideoOrientation) {
				logger.Debug().Interface("orientation", o).Msg("producer video orientation change")
			}),
			pr.OnTransportClose(func() {
				logger.Info().Msg("producer transport closed")
				r.removeProducer(peerID, id)
			}),
		},
	}
	return nil
}

func (r *Room) removeProducer(peerID domain.PeerID, id domain.ProducerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return
	}
	if e, ok := p.producers[id]; ok {
		delete(p.producers, id)
		cancelAll(e.cancels)
	}
}

func (r *Room) addConsumer(peerID domain.PeerID, c core.Consumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return domain.ErrPeerNotFound
	}
	id := c.ID()
	logger := log.With().Str("module", "app.rooms").Str("room", string(r.id)).
		Str("peer", string(peerID)).Str("consumer", string(id)).Logger()
	p.consumers[id] = &consumerEntry{
		consumer: c,
		cancels: []core.CancelFunc{
			c.OnScore(func(score domain.ConsumerScore) {
				logger.Debug().Interface("score", score).Msg("consumer score")
			}),
			c.OnProducerClose(func() {
				logger.Info().Msg("consumer producer closed")
				r.removeConsumer(peerID, id)
				_ = c.Close()
			}),
			c.OnTransportClose(func() {
				logger.Info().Msg("consumer transport closed")
				r.removeConsumer(peerID, id)
			}),
		},
	}
	return nil
}

func (r *Room) removeConsumer(peerID domain.PeerID, id domain.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return
	}
	if e, ok := p.consumers[id]; ok {
		delete(p.consumers, id)
		cancelAll(e.cancels)
	}
}
