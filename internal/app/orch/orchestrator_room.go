package orch

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

// Join creates or joins the room and binds the session to (roomID, peerID).
func (o *Orchestrator) Join(
	ctx context.Context,
	sid core.SessionID,
	roomID domain.RoomID,
	peerID domain.PeerID,
	videoCodec string,
) (*domain.RoomState, error) {
	if o.Registry.Joined(sid) {
		return nil, domain.ErrAlreadyJoined
	}
	state, err := o.Rooms.CreateOrJoin(ctx, roomID, peerID, videoCodec)
	if err != nil {
		return nil, err
	}
	if err := o.Registry.Join(sid, roomID, peerID); err != nil {
		// the session went away or joined concurrently; undo the peer
		o.Rooms.RemovePeer(roomID, peerID)
		return nil, err
	}
	log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).
		Str("peer", string(peerID)).Msg("added to room")
	return state, nil
}

// KickBySID cancels the session; its adapter then runs the normal disconnect path.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	if sess, ok := o.Registry.GetSession(sid); ok {
		o.Registry.Cancel(sid)
		sess.Close()
	}
}

// OnDisconnect is the teardown hook for a closed session. It never fails;
// problems are logged.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	roomID, peerID, joined := o.Registry.RoomOf(sid)
	if joined {
		o.broadcastEvent(sid, protocol.KindPeerClosed, &protocol.PeerClosedEvent{ID: peerID})
		o.Rooms.RemovePeer(roomID, peerID)
		log.Info().Str("module", "orch").Str("sid", string(sid)).Str("room", string(roomID)).
			Str("peer", string(peerID)).Msg("peer left")
	}
	o.Registry.Unbind(sid)
}
