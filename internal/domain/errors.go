package domain

import "errors"

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomClosed        = errors.New("room closed")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrDuplicatePeer     = errors.New("peer already exists in room")
	ErrTransportNotFound = errors.New("transport not found")
	ErrProducerNotFound  = errors.New("producer not found")
	ErrInvalidDirection  = errors.New("invalid transport direction")
	ErrInvalidKind       = errors.New("invalid media kind")
	ErrAlreadyJoined     = errors.New("connection already joined a room")

	// ErrConsumeFailed wraps an engine failure while negotiating a consumer.
	ErrConsumeFailed = errors.New("consume failed")
	// ErrCapabilityMismatch is logged when a consumer is skipped; it is never sent to a client.
	ErrCapabilityMismatch = errors.New("rtp capabilities cannot consume producer")
	// ErrWorkerFatal ends the process.
	ErrWorkerFatal = errors.New("media worker fatal")
)
