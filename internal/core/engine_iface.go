package core

import (
	"context"

	"github.com/dkeye/Meet/internal/domain"
)

// WorkerSettings configures one media engine worker.
type WorkerSettings struct {
	LogLevel   string
	LogTags    []string
	RTCMinPort uint16
	RTCMaxPort uint16
}

// Worker is a media engine worker. Rooms are sharded across a fixed set of them.
type Worker interface {
	ID() string
	PID() int
	// Died delivers at most one value when the worker stops unexpectedly.
	Died() <-chan error
	CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (Router, error)
	Close() error
}

type WorkerFactory func(ctx context.Context, settings WorkerSettings) (Worker, error)

type ListenIP struct {
	IP          string `mapstructure:"ip"`
	AnnouncedIP string `mapstructure:"announced_ip"`
}

type WebRtcTransportOptions struct {
	ListenIPs                       []ListenIP
	EnableUDP                       bool
	EnableTCP                       bool
	MaxIncomingBitrate              uint32
	InitialAvailableOutgoingBitrate uint32
}

// Router routes media between the transports of one room.
type Router interface {
	ID() string
	RtpCapabilities() domain.RtpCapabilities
	CanConsume(producerID domain.ProducerID, caps domain.RtpCapabilities) bool
	CreateWebRtcTransport(ctx context.Context, opts WebRtcTransportOptions) (Transport, error)
	Close() error
}

type Transport interface {
	ID() domain.TransportID
	Data() domain.TransportData
	Connect(ctx context.Context, params domain.ConnectParams) error
	Produce(ctx context.Context, kind domain.MediaKind, params domain.RtpParameters) (Producer, error)
	Consume(ctx context.Context, producerID domain.ProducerID, caps domain.RtpCapabilities) (Consumer, error)
	Close() error
	OnClose(func()) CancelFunc
}

type Producer interface {
	ID() domain.ProducerID
	Kind() domain.MediaKind
	Close() error
	OnScore(func([]domain.ProducerScore)) CancelFunc
	OnVideoOrientationChange(func(domain.VideoOrientation)) CancelFunc
	OnTransportClose(func()) CancelFunc
}

type Consumer interface {
	ID() domain.ConsumerID
	ProducerID() domain.ProducerID
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Type() string
	Close() error
	OnScore(func(domain.ConsumerScore)) CancelFunc
	OnProducerClose(func()) CancelFunc
	OnTransportClose(func()) CancelFunc
}
