package signal

import (
	"context"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

// handleWhoAmI reports the room and peer the session joined; both are empty before create-room.
func (ctl *SignalWSController) handleWhoAmI(
	_ context.Context,
	sid core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
	_ []byte,
) {
	resp := &protocol.WhoAmIResponse{}
	if roomID, peerID, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		resp.RoomID = roomID
		resp.PeerID = peerID
	}
	ctl.respond(conn, env, resp)
}
