package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

type sessionEntry struct {
	RoomID  domain.RoomID
	PeerID  domain.PeerID
	Session core.SignalConnection
	Cancel  context.CancelFunc
}

// Registry maps signaling sessions to the room and peer they joined as.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

func (r *Registry) BindSignal(sid core.SessionID, sess core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

// Join records the identity of a session. A session joins at most once.
func (r *Registry) Join(sid core.SessionID, roomID domain.RoomID, peerID domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return domain.ErrPeerNotFound
	}
	if entry.RoomID != "" {
		return domain.ErrAlreadyJoined
	}
	entry.RoomID = roomID
	entry.PeerID = peerID
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(roomID)).
		Str("peer", string(peerID)).Msg("bound session")
	return nil
}

// Joined reports whether sid already carries a room identity.
func (r *Registry) Joined(sid core.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	return ok && e.RoomID != ""
}

func (r *Registry) GetSession(sid core.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, domain.PeerID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[sid]
	if !ok || entry.RoomID == "" {
		return "", "", false
	}
	return entry.RoomID, entry.PeerID, true
}

type regSnap struct {
	SID     core.SessionID
	PeerID  domain.PeerID
	Session core.SignalConnection
}

func (r *Registry) MembersOfRoom(id domain.RoomID) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.RoomID == id {
			out = append(out, regSnap{SID: sid, PeerID: e.PeerID, Session: e.Session})
		}
	}
	return out
}

// RoomMates returns the sessions joined to the same room under a different peer id.
func (r *Registry) RoomMates(sid core.SessionID) []regSnap {
	roomID, peerID, ok := r.RoomOf(sid)
	if !ok {
		return nil
	}
	members := r.MembersOfRoom(roomID)
	out := members[:0]
	for _, m := range members {
		if m.PeerID != peerID {
			out = append(out, m)
		}
	}
	return out
}

// Sessions returns every bound connection, joined or not.
func (r *Registry) Sessions() []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, regSnap{SID: sid, PeerID: e.PeerID, Session: e.Session})
	}
	return out
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
