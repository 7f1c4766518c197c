package client

import (
	"context"
	"time"

	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

func deadline() time.Time { return time.Now().Add(time.Second) }

func (c *Client) CreateRoom(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	videoCodec string,
) (*protocol.CreateRoomResponse, error) {
	var resp protocol.CreateRoomResponse
	err := c.Call(ctx, protocol.KindCreateRoom, &protocol.CreateRoomRequest{
		RoomID: roomID, PeerID: peerID, VideoCodec: videoCodec,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) CreateTransport(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	dir domain.Direction,
) (domain.TransportData, error) {
	var resp protocol.CreateTransportResponse
	err := c.Call(ctx, protocol.KindCreateTransport, &protocol.CreateTransportRequest{
		RoomID: roomID, PeerID: peerID, Type: dir,
	}, &resp)
	return resp.TransportData, err
}

func (c *Client) ConnectTransport(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	transportID domain.TransportID,
	params domain.ConnectParams,
) error {
	return c.Call(ctx, protocol.KindConnectTransport, &protocol.ConnectTransportRequest{
		RoomID:         roomID,
		PeerID:         peerID,
		TransportID:    transportID,
		DtlsParameters: params.DtlsParameters,
		IceParameters:  params.IceParameters,
		IceCandidates:  params.IceCandidates,
	}, nil)
}

func (c *Client) CloseTransport(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	transportID domain.TransportID,
) error {
	return c.Call(ctx, protocol.KindCloseTransport, &protocol.CloseTransportRequest{
		RoomID: roomID, PeerID: peerID, TransportID: transportID,
	}, nil)
}

func (c *Client) Produce(
	ctx context.Context,
	roomID domain.RoomID,
	peerID domain.PeerID,
	transportID domain.TransportID,
	kind domain.MediaKind,
	params domain.RtpParameters,
) (domain.ProducerData, error) {
	var resp protocol.ProduceResponse
	err := c.Call(ctx, protocol.KindProduce, &protocol.ProduceRequest{
		RoomID:        roomID,
		PeerID:        peerID,
		TransportID:   transportID,
		Kind:          kind,
		RtpParameters: params,
	}, &resp)
	return resp.ProducerData, err
}

// Consume returns nil data when the server skipped the consume.
func (c *Client) Consume(ctx context.Context, req protocol.ConsumeRequest) (*domain.ConsumerData, error) {
	var resp protocol.ConsumeResponse
	if err := c.Call(ctx, protocol.KindConsume, &req, &resp); err != nil {
		return nil, err
	}
	return resp.ConsumerData, nil
}

func (c *Client) WhoAmI(ctx context.Context) (domain.RoomID, domain.PeerID, error) {
	var resp protocol.WhoAmIResponse
	err := c.Call(ctx, protocol.KindWhoAmI, &protocol.Ack{}, &resp)
	return resp.RoomID, resp.PeerID, err
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, protocol.KindPing, &protocol.Ack{}, nil)
}
