package app

import (
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type transportEntry struct {
	transport core.Transport
	direction domain.Direction
	cancel    core.CancelFunc
}

type producerEntry struct {
	producer core.Producer
	cancels  []core.CancelFunc
}

type consumerEntry struct {
	consumer core.Consumer
	cancels  []core.CancelFunc
}

// Peer is one participant's engine objects. It is guarded by its Room's lock.
type Peer struct {
	ID         domain.PeerID
	transports map[domain.TransportID]*transportEntry
	producers  map[domain.ProducerID]*producerEntry
	consumers  map[domain.ConsumerID]*consumerEntry
}

func newPeer(id domain.PeerID) *Peer {
	return &Peer{
		ID:         id,
		transports: make(map[domain.TransportID]*transportEntry),
		producers:  make(map[domain.ProducerID]*producerEntry),
		consumers:  make(map[domain.ConsumerID]*consumerEntry),
	}
}

func (p *Peer) info() domain.PeerInfo {
	ids := make([]domain.ProducerID, 0, len(p.producers))
	for id := range p.producers {
		ids = append(ids, id)
	}
	return domain.PeerInfo{ID: p.ID, Producers: ids}
}

// release drops every listener and returns the transports to close.
func (p *Peer) release() []core.Transport {
	for _, e := range p.producers {
		cancelAll(e.cancels)
	}
	for _, e := range p.consumers {
		cancelAll(e.cancels)
	}
	out := make([]core.Transport, 0, len(p.transports))
	for _, e := range p.transports {
		e.cancel()
		out = append(out, e.transport)
	}
	p.transports = map[domain.TransportID]*transportEntry{}
	p.producers = map[domain.ProducerID]*producerEntry{}
	p.consumers = map[domain.ConsumerID]*consumerEntry{}
	return out
}

func cancelAll(cancels []core.CancelFunc) {
	for _, c := range cancels {
		c()
	}
}
