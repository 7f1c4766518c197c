package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

// handleProduce answers the producer before telling the rest of the room.
func (ctl *SignalWSController) handleProduce(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
	data []byte,
) {
	p, ok := decode[protocol.ProduceRequest](ctl, conn, env, data)
	if !ok {
		return
	}
	pd, err := ctl.Orch.Rooms.CreateProducer(ctx, p.RoomID, p.PeerID, p.TransportID, p.Kind, p.RtpParameters)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("produce failed")
		ctl.sendError(conn, env, err)
		return
	}
	ctl.respond(conn, env, &protocol.ProduceResponse{ProducerData: pd})
	ctl.Orch.AnnounceProducer(sid, pd)
}

func (ctl *SignalWSController) handleConsume(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
	data []byte,
) {
	p, ok := decode[protocol.ConsumeRequest](ctl, conn, env, data)
	if !ok {
		return
	}
	cd, err := ctl.Orch.Rooms.CreateConsumer(ctx, p.RoomID, p.ConsumerPeerID, p.ProducerPeerID,
		p.TransportID, p.ProducerID, p.RtpCapabilities)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).
			Str("producer", string(p.ProducerID)).Msg("consume failed")
		ctl.sendError(conn, env, err)
		return
	}
	ctl.respond(conn, env, &protocol.ConsumeResponse{ConsumerData: cd})
}
