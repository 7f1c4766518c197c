package orch

import (
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// AnnounceProducer tells the rest of sid's room about a new producer.
func (o *Orchestrator) AnnounceProducer(sid core.SessionID, data domain.ProducerData) {
	o.broadcastEvent(sid, protocol.KindNewProducer, &protocol.NewProducerEvent{ProducerData: data})
}
