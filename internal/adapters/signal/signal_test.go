package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/client"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/core/corefakes"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/protocol"
)

type testServer struct {
	url string
	ctl *SignalWSController
	o   *orch.Orchestrator
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	f := &corefakes.Factory{}
	pool, err := app.NewWorkerPool(context.Background(), 2, core.WorkerSettings{}, f.Create, nil)
	require.NoError(t, err)

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(pool, app.RoomManagerConfig{}),
		Policy:   app.SimplePolicy{},
	}
	ctl := NewSignalWSController(o, opts)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	ctx, cancel := context.WithCancel(context.Background())
	r.GET("/ws", func(c *gin.Context) { ctl.HandleSignal(ctx, c) })
	srv := httptest.NewServer(r)

	t.Cleanup(func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		require.NoError(t, ctl.Shutdown(sctx))
		cancel()
		srv.Close()
		_ = pool.Close()
	})
	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", ctl: ctl, o: o}
}

func (s *testServer) dial(t *testing.T) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func nextEvent(t *testing.T, c *client.Client) client.Event {
	t.Helper()
	select {
	case ev, ok := <-c.Events():
		require.True(t, ok, "connection closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return client.Event{}
	}
}

func noEvent(t *testing.T, c *client.Client) {
	t.Helper()
	select {
	case ev := <-c.Events():
		t.Fatalf("unexpected event %s", ev.Raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func fingerprint() domain.ConnectParams {
	return domain.ConnectParams{DtlsParameters: domain.DtlsParameters{
		Role:         "client",
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	}}
}

func opus() domain.RtpParameters {
	return domain.RtpParameters{
		Mid:       "0",
		Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: 4242}},
	}
}

func TestJoinProduceConsumeLeave(t *testing.T) {
	s := newTestServer(t, Options{})
	ctx := testCtx(t)
	p1, p2 := s.dial(t), s.dial(t)

	r1, err := p1.CreateRoom(ctx, "room", "p1", "")
	require.NoError(t, err)
	require.Empty(t, r1.Peers)
	require.NotEmpty(t, r1.RoomRtpCapabilities.Codecs)

	r2, err := p2.CreateRoom(ctx, "room", "p2", "")
	require.NoError(t, err)
	require.Equal(t, []domain.PeerInfo{{ID: "p1", Producers: []domain.ProducerID{}}}, r2.Peers)

	roomID, peerID, err := p2.WhoAmI(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.RoomID("room"), roomID)
	require.Equal(t, domain.PeerID("p2"), peerID)

	send, err := p1.CreateTransport(ctx, "room", "p1", domain.DirectionSend)
	require.NoError(t, err)
	require.NoError(t, p1.ConnectTransport(ctx, "room", "p1", send.ID, fingerprint()))

	prod, err := p1.Produce(ctx, "room", "p1", send.ID, domain.KindAudio, opus())
	require.NoError(t, err)
	require.NotEmpty(t, prod.ID)

	ev := nextEvent(t, p2)
	require.Equal(t, protocol.KindNewProducer, ev.Kind)
	var np protocol.NewProducerEvent
	require.NoError(t, json.Unmarshal(ev.Raw, &np))
	require.Equal(t, domain.ProducerData{ID: prod.ID, PeerID: "p1"}, np.ProducerData)
	noEvent(t, p1)

	recv, err := p2.CreateTransport(ctx, "room", "p2", domain.DirectionRecv)
	require.NoError(t, err)

	videoOnly := domain.RouterCapabilities(domain.FilterCodecs(domain.DefaultMediaCodecs()[1:], "VP8"))
	skipped, err := p2.Consume(ctx, protocol.ConsumeRequest{
		RoomID: "room", ConsumerPeerID: "p2", ProducerPeerID: "p1",
		TransportID: recv.ID, ProducerID: prod.ID, RtpCapabilities: videoOnly,
	})
	require.NoError(t, err)
	require.Nil(t, skipped)

	cons, err := p2.Consume(ctx, protocol.ConsumeRequest{
		RoomID: "room", ConsumerPeerID: "p2", ProducerPeerID: "p1",
		TransportID: recv.ID, ProducerID: prod.ID, RtpCapabilities: r2.RoomRtpCapabilities,
	})
	require.NoError(t, err)
	require.NotNil(t, cons)
	require.Equal(t, prod.ID, cons.ProducerID)
	require.Equal(t, domain.KindAudio, cons.Kind)
	require.Equal(t, "simple", cons.Type)

	require.NoError(t, p1.Close())
	ev = nextEvent(t, p2)
	require.Equal(t, protocol.KindPeerClosed, ev.Kind)
	require.JSONEq(t, `{"request":"peer-closed","id":"p1"}`, string(ev.Raw))

	room, ok := s.o.Rooms.Get("room")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, _, consumers := room.Counts("p2")
		return len(room.PeerIDs()) == 1 && consumers == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []domain.PeerID{"p2"}, room.PeerIDs())

	require.NoError(t, p2.Close())
	require.Eventually(t, func() bool {
		_, ok := s.o.Rooms.Get("room")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestErrorsKeepConnectionOpen(t *testing.T) {
	s := newTestServer(t, Options{})
	ctx := testCtx(t)
	c := s.dial(t)

	_, err := c.CreateTransport(ctx, "nope", "p1", domain.DirectionSend)
	var se *client.ServerError
	require.True(t, errors.As(err, &se))
	require.Equal(t, domain.ErrRoomNotFound.Error(), se.Message)

	_, err = c.CreateRoom(ctx, "room", "p1", "")
	require.NoError(t, err)
	_, err = c.CreateRoom(ctx, "room", "p1", "")
	require.True(t, errors.As(err, &se))
	require.Equal(t, domain.ErrAlreadyJoined.Error(), se.Message)

	other := s.dial(t)
	_, err = other.CreateRoom(ctx, "room", "p1", "")
	require.True(t, errors.As(err, &se))
	require.Equal(t, domain.ErrDuplicatePeer.Error(), se.Message)

	// malformed and unknown frames are dropped silently
	require.NoError(t, c.Send([]byte(`{not json`)))
	require.NoError(t, c.Send([]byte(`{"request":"teleport"}`)))
	require.NoError(t, c.Send([]byte(`{"request":"produce","roomId":7}`)))
	ev := nextEvent(t, c)
	require.Equal(t, protocol.KindError, ev.Kind)
	require.Contains(t, string(ev.Raw), errBadPayload.Error())

	require.NoError(t, c.Ping(ctx))
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Options{Rate: 1, Burst: 2})
	ctx := testCtx(t)
	c := s.dial(t)

	require.NoError(t, c.Ping(ctx))
	require.NoError(t, c.Ping(ctx))
	err := c.Ping(ctx)
	var se *client.ServerError
	require.True(t, errors.As(err, &se))
	require.Equal(t, errRateLimited.Error(), se.Message)
}

func TestLivenessSweep(t *testing.T) {
	s := newTestServer(t, Options{})
	ctx := testCtx(t)
	watcher := s.dial(t)
	_, err := watcher.CreateRoom(ctx, "room", "watcher", "")
	require.NoError(t, err)

	// a raw connection that joins and then stops reading, so it never answers pings
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteJSON(map[string]any{"request": "create-room", "roomId": "room", "peerId": "silent"}))
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)

	s.ctl.Sweep()
	time.Sleep(100 * time.Millisecond)
	require.Len(t, s.o.Registry.Sessions(), 2)

	s.ctl.Sweep()
	ev := nextEvent(t, watcher)
	require.JSONEq(t, `{"request":"peer-closed","id":"silent"}`, string(ev.Raw))
	require.Eventually(t, func() bool {
		return len(s.o.Registry.Sessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// a ping request counts as an answer too
	require.NoError(t, watcher.Ping(ctx))
	s.ctl.Sweep()
	require.Len(t, s.o.Registry.Sessions(), 1)
}

func TestLivenessSkipsBusyConnection(t *testing.T) {
	s := newTestServer(t, Options{})
	ctx := testCtx(t)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool {
		return len(s.o.Registry.Sessions()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	conn := s.o.Registry.Sessions()[0].Session.(*WsSignalConn)

	// a request stuck in the engine holds the read loop, so no pong can arrive
	conn.busy.Add(1)
	s.ctl.Sweep()
	s.ctl.Sweep()
	s.ctl.Sweep()
	require.Len(t, s.o.Registry.Sessions(), 1)

	conn.busy.Add(-1)
	s.ctl.Sweep()
	s.ctl.Sweep()
	require.Eventually(t, func() bool {
		return len(s.o.Registry.Sessions()) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
