package signal

import (
	"context"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

func (ctl *SignalWSController) handlePing(
	_ context.Context,
	_ core.SessionID,
	conn *WsSignalConn,
	env protocol.Envelope,
	_ []byte,
) {
	conn.alive.Store(true)
	ctl.respond(conn, env, &protocol.Ack{Envelope: protocol.Envelope{Request: protocol.KindPong}})
}
