package orch

import (
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

// Orchestrator ties signaling sessions to the rooms they joined.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.RoomManager
	Policy   app.Policy
}

// BroadcastFrom sends a frame to every joined session of sid's room except sid's peer.
// It returns the number of sessions that accepted the frame.
func (o *Orchestrator) BroadcastFrom(sid core.SessionID, data core.Frame) int {
	sent := 0
	for _, mate := range o.Registry.RoomMates(sid) {
		if err := mate.Session.TrySend(data); err == nil {
			sent++
			continue
		}
		if o.Policy == nil {
			continue
		}
		switch o.Policy.OnBackPressure(mate.SID, mate.Session) {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("sid", string(mate.SID)).Msg("slow session kicked")
			o.KickBySID(mate.SID)
		case app.DropFrame, app.NoAction:
		}
	}
	return sent
}

func (o *Orchestrator) broadcastEvent(sid core.SessionID, kind string, m protocol.Message) {
	frame, err := protocol.Encode(protocol.Event(kind, m))
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("event", kind).Msg("encode event")
		return
	}
	n := o.BroadcastFrom(sid, frame)
	log.Debug().Str("module", "orch").Str("sid", string(sid)).Str("event", kind).Int("sent", n).Msg("broadcast")
}
