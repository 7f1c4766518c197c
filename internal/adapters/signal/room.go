package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

func (ctl *SignalWSController) handleCreateRoom(
	ctx context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
	data []byte,
) {
	p, ok := decode[protocol.CreateRoomRequest](ctl, conn, env, data)
	if !ok {
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(p.RoomID)).
		Str("peer", string(p.PeerID)).Msg("create-room")

	state, err := ctl.Orch.Join(ctx, sid, p.RoomID, p.PeerID, p.VideoCodec)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("create-room failed")
		ctl.sendError(conn, env, err)
		return
	}
	ctl.respond(conn, env, &protocol.CreateRoomResponse{
		RoomRtpCapabilities: state.RtpCapabilities,
		Peers:               state.Peers,
	})
}
