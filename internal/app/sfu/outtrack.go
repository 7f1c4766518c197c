package sfu

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

// PacketWriter is the sending half of a consumer, usually a *webrtc.TrackLocalStaticRTP.
type PacketWriter interface {
	WriteRTP(*rtp.Packet) error
}

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

// OutTrack is one consumer attached to a relay.
type OutTrack struct {
	Track PacketWriter
	state atomic.Int32
	sent  atomic.Uint64
}

func NewOutTrack(track PacketWriter) *OutTrack {
	return &OutTrack{Track: track}
}

func (ot *OutTrack) State() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}

// Sent is the number of packets written so far.
func (ot *OutTrack) Sent() uint64 {
	return ot.sent.Load()
}

func (ot *OutTrack) write(pkt *rtp.Packet) error {
	if err := ot.Track.WriteRTP(pkt); err != nil {
		return err
	}
	ot.sent.Add(1)
	return nil
}
