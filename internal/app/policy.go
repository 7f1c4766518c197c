package app

import "github.com/dkeye/Meet/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a session whose outbound queue is full.
type Policy interface {
	OnBackPressure(sid core.SessionID, sess core.SignalConnection) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.SessionID, core.SignalConnection) BackpressureAction {
	return KickMember
}

// DropPolicy keeps slow sessions connected and loses the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(core.SessionID, core.SignalConnection) BackpressureAction {
	return DropFrame
}
