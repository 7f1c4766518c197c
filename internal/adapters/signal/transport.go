package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

func (ctl *SignalWSController) handleCreateTransport(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
	data []byte,
) {
	p, ok := decode[protocol.CreateTransportRequest](ctl, conn, env, data)
	if !ok {
		return
	}
	td, err := ctl.Orch.Rooms.CreateTransport(ctx, p.RoomID, p.PeerID, p.Type)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("create-transport failed")
		ctl.sendError(conn, env, err)
		return
	}
	ctl.respond(conn, env, &protocol.CreateTransportResponse{TransportData: td, Type: p.Type})
}

func (ctl *SignalWSController) handleConnectTransport(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
	data []byte,
) {
	p, ok := decode[protocol.ConnectTransportRequest](ctl, conn, env, data)
	if !ok {
		return
	}
	if err := ctl.Orch.Rooms.ConnectTransport(ctx, p.RoomID, p.PeerID, p.TransportID, p.Params()); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).
			Str("transport", string(p.TransportID)).Msg("connect-transport failed")
		ctl.sendError(conn, env, err)
		return
	}
	ctl.respond(conn, env, &protocol.Ack{})
}

func (ctl *SignalWSController) handleCloseTransport(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
	data []byte,
) {
	p, ok := decode[protocol.CloseTransportRequest](ctl, conn, env, data)
	if !ok {
		return
	}
	if err := ctl.Orch.Rooms.CloseTransport(ctx, p.RoomID, p.PeerID, p.TransportID); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("close-transport failed")
		ctl.sendError(conn, env, err)
		return
	}
	ctl.respond(conn, env, &protocol.Ack{})
}
