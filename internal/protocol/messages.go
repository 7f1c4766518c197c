// Package protocol holds the JSON frames exchanged over the signaling channel.
package protocol

import (
	"encoding/json"

	"github.com/dkeye/Meet/internal/domain"
)

const (
	KindCreateRoom       = "create-room"
	KindCreateTransport  = "create-transport"
	KindConnectTransport = "connect-transport"
	KindCloseTransport   = "close-transport"
	KindProduce          = "produce"
	KindConsume          = "consume"
	KindNewProducer      = "new-producer"
	KindPeerClosed       = "peer-closed"
	KindError            = "error"
	KindPing             = "ping"
	KindPong             = "pong"
	KindWhoAmI           = "whoami"
)

// Envelope is the part every frame shares. RequestID is echoed back on responses.
type Envelope struct {
	Request   string `json:"request"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Envelope) envelope() *Envelope { return e }

// Message is any frame carrying an Envelope.
type Message interface {
	envelope() *Envelope
}

// Reply stamps m with the kind and request id of the request it answers.
func Reply(in Envelope, m Message) Message {
	e := m.envelope()
	if e.Request == "" {
		e.Request = in.Request
	}
	e.RequestID = in.RequestID
	return m
}

// Event stamps an unsolicited frame with its kind.
func Event(kind string, m Message) Message {
	m.envelope().Request = kind
	return m
}

// Encode marshals a message into one frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

type CreateRoomRequest struct {
	Envelope
	RoomID     domain.RoomID `json:"roomId"`
	PeerID     domain.PeerID `json:"peerId"`
	VideoCodec string        `json:"videoCodec,omitempty"`
}

type CreateRoomResponse struct {
	Envelope
	RoomRtpCapabilities domain.RtpCapabilities `json:"roomRtpCapabilities"`
	Peers               []domain.PeerInfo      `json:"peers"`
}

type CreateTransportRequest struct {
	Envelope
	RoomID domain.RoomID    `json:"roomId"`
	PeerID domain.PeerID    `json:"peerId"`
	Type   domain.Direction `json:"type"`
}

type CreateTransportResponse struct {
	Envelope
	TransportData domain.TransportData `json:"transportData"`
	Type          domain.Direction     `json:"type"`
}

type ConnectTransportRequest struct {
	Envelope
	RoomID         domain.RoomID         `json:"roomId"`
	PeerID         domain.PeerID         `json:"peerId"`
	TransportID    domain.TransportID    `json:"transportId"`
	DtlsParameters domain.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *domain.IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []domain.IceCandidate `json:"iceCandidates,omitempty"`
}

func (r ConnectTransportRequest) Params() domain.ConnectParams {
	return domain.ConnectParams{
		DtlsParameters: r.DtlsParameters,
		IceParameters:  r.IceParameters,
		IceCandidates:  r.IceCandidates,
	}
}

type CloseTransportRequest struct {
	Envelope
	RoomID      domain.RoomID      `json:"roomId"`
	PeerID      domain.PeerID      `json:"peerId"`
	TransportID domain.TransportID `json:"transportId"`
}

// Ack answers requests that return no data.
type Ack struct {
	Envelope
}

type ProduceRequest struct {
	Envelope
	RoomID        domain.RoomID        `json:"roomId"`
	PeerID        domain.PeerID        `json:"peerId"`
	TransportID   domain.TransportID   `json:"transportId"`
	Kind          domain.MediaKind     `json:"kind"`
	RtpParameters domain.RtpParameters `json:"rtpParameters"`
}

type ProduceResponse struct {
	Envelope
	ProducerData domain.ProducerData `json:"producerData"`
}

type ConsumeRequest struct {
	Envelope
	RoomID          domain.RoomID          `json:"roomId"`
	ConsumerPeerID  domain.PeerID          `json:"consumerPeerId"`
	ProducerPeerID  domain.PeerID          `json:"producerPeerId"`
	TransportID     domain.TransportID     `json:"transportId"`
	ProducerID      domain.ProducerID      `json:"producerId"`
	RtpCapabilities domain.RtpCapabilities `json:"rtpCapabilities"`
}

// ConsumeResponse carries no ConsumerData when the consume was skipped.
type ConsumeResponse struct {
	Envelope
	ConsumerData *domain.ConsumerData `json:"consumerData,omitempty"`
}

type NewProducerEvent struct {
	Envelope
	ProducerData domain.ProducerData `json:"producerData"`
}

type PeerClosedEvent struct {
	Envelope
	ID domain.PeerID `json:"id"`
}

type ErrorEvent struct {
	Envelope
	Error string `json:"error"`
}

type WhoAmIResponse struct {
	Envelope
	RoomID domain.RoomID `json:"roomId"`
	PeerID domain.PeerID `json:"peerId"`
}
