package core

// Frame is one encoded signaling message.
type Frame []byte

//go:generate mockgen -source=signal_iface.go -destination=mocks/mock_signal.go -package=mocks

type SessionID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
