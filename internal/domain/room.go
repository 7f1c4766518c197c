// Package domain contains entities and pure rules, no transport or engine code.
package domain

import "errors"

const MaxIDLen = 64

var (
	ErrIDEmpty   = errors.New("id empty")
	ErrIDTooLong = errors.New("id too long")
)

type (
	RoomID      string
	PeerID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

func (id RoomID) Validate() error { return validateID(string(id)) }
func (id PeerID) Validate() error { return validateID(string(id)) }

func validateID(id string) error {
	if len(id) == 0 {
		return ErrIDEmpty
	}
	if len(id) > MaxIDLen {
		return ErrIDTooLong
	}
	return nil
}

// Direction tags a transport as the peer's sending or receiving leg.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == KindAudio || k == KindVideo
}

// PeerInfo is what a joining peer learns about the others already in the room.
type PeerInfo struct {
	ID        PeerID       `json:"id"`
	Producers []ProducerID `json:"producers"`
}

// RoomState is returned by create-or-join.
type RoomState struct {
	RoomID          RoomID          `json:"roomId"`
	RtpCapabilities RtpCapabilities `json:"roomRtpCapabilities"`
	Peers           []PeerInfo      `json:"peers"`
}

type RoomInfo struct {
	ID        RoomID `json:"id"`
	PeerCount int    `json:"peers"`
}

type ProducerData struct {
	ID     ProducerID `json:"id"`
	PeerID PeerID     `json:"peerId"`
}

type ConsumerData struct {
	ConsumerID    ConsumerID    `json:"consumerId"`
	ProducerID    ProducerID    `json:"producerId"`
	PeerID        PeerID        `json:"peerId"`
	Kind          MediaKind     `json:"kind"`
	RtpParameters RtpParameters `json:"rtpParameters"`
	Type          string        `json:"type"`
}
