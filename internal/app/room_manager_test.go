package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/core/corefakes"
	"github.com/dkeye/Meet/internal/domain"
)

func newTestManager(t *testing.T, workers int) (*RoomManager, *WorkerPool, *corefakes.Factory) {
	t.Helper()
	p, f := newTestPool(t, workers, nil)
	return NewRoomManager(p, RoomManagerConfig{}), p, f
}

func opusParams() domain.RtpParameters {
	return domain.RtpParameters{
		Mid:       "0",
		Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: 1111}},
	}
}

func clientCaps() domain.RtpCapabilities {
	return domain.RouterCapabilities(domain.DefaultMediaCodecs())
}

func dtls() domain.ConnectParams {
	return domain.ConnectParams{DtlsParameters: domain.DtlsParameters{
		Role:         "client",
		Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AA:BB"}},
	}}
}

func TestRoomManager_CreateOrJoin(t *testing.T) {
	ctx := context.Background()

	t.Run("first join creates room", func(t *testing.T) {
		m, _, _ := newTestManager(t, 1)
		state, err := m.CreateOrJoin(ctx, "r1", "alice", "")
		require.NoError(t, err)
		require.Equal(t, domain.RoomID("r1"), state.RoomID)
		require.Empty(t, state.Peers)
		require.NotEmpty(t, state.RtpCapabilities.Codecs)

		var mimes []string
		for _, c := range state.RtpCapabilities.Codecs {
			mimes = append(mimes, c.MimeType)
		}
		require.ElementsMatch(t, []string{"audio/opus", "video/VP8"}, mimes)
	})

	t.Run("video codec preference", func(t *testing.T) {
		m, _, _ := newTestManager(t, 1)
		state, err := m.CreateOrJoin(ctx, "r1", "alice", "h264")
		require.NoError(t, err)
		require.Len(t, state.RtpCapabilities.Codecs, 2)
		require.Equal(t, "video/H264", state.RtpCapabilities.Codecs[1].MimeType)
	})

	t.Run("second join sees first peer", func(t *testing.T) {
		m, _, _ := newTestManager(t, 1)
		_, err := m.CreateOrJoin(ctx, "r1", "alice", "")
		require.NoError(t, err)
		state, err := m.CreateOrJoin(ctx, "r1", "bob", "")
		require.NoError(t, err)
		require.Equal(t, []domain.PeerInfo{{ID: "alice", Producers: []domain.ProducerID{}}}, state.Peers)
	})

	t.Run("duplicate peer leaves state unchanged", func(t *testing.T) {
		m, _, _ := newTestManager(t, 1)
		_, err := m.CreateOrJoin(ctx, "r1", "alice", "")
		require.NoError(t, err)
		_, err = m.CreateOrJoin(ctx, "r1", "alice", "")
		require.ErrorIs(t, err, domain.ErrDuplicatePeer)
		room, ok := m.Get("r1")
		require.True(t, ok)
		require.Equal(t, 1, room.PeerCount())
	})

	t.Run("invalid ids", func(t *testing.T) {
		m, _, _ := newTestManager(t, 1)
		_, err := m.CreateOrJoin(ctx, "", "alice", "")
		require.ErrorIs(t, err, domain.ErrIDEmpty)
		long := make([]byte, domain.MaxIDLen+1)
		for i := range long {
			long[i] = 'x'
		}
		_, err = m.CreateOrJoin(ctx, "r1", domain.PeerID(long), "")
		require.ErrorIs(t, err, domain.ErrIDTooLong)
		require.Empty(t, m.List())
	})

	t.Run("concurrent joins share one router", func(t *testing.T) {
		m, _, f := newTestManager(t, 2)
		for _, w := range f.Workers {
			w.RouterDelay = 20 * time.Millisecond
		}
		const n = 20
		var wg sync.WaitGroup
		others := make([]int, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				state, err := m.CreateOrJoin(ctx, "busy", domain.PeerID(fmt.Sprintf("peer-%d", i)), "")
				errs[i] = err
				if err == nil {
					others[i] = len(state.Peers)
				}
			}()
		}
		wg.Wait()
		for _, err := range errs {
			require.NoError(t, err)
		}
		routers := 0
		for _, w := range f.Workers {
			routers += w.RoutersCreated()
		}
		require.Equal(t, 1, routers)

		room, ok := m.Get("busy")
		require.True(t, ok)
		require.Equal(t, n, room.PeerCount())
		sort.Ints(others)
		for i, v := range others {
			require.Equal(t, i, v)
		}
	})

	t.Run("rooms spread round robin", func(t *testing.T) {
		m, p, _ := newTestManager(t, 3)
		workers := p.Workers()
		for k := 0; k < 6; k++ {
			id := domain.RoomID(fmt.Sprintf("room-%d", k))
			_, err := m.CreateOrJoin(ctx, id, "alice", "")
			require.NoError(t, err)
			room, ok := m.Get(id)
			require.True(t, ok)
			require.Same(t, workers[k%3], room.Worker())
		}
		require.Len(t, m.List(), 6)
	})
}

func TestRoomManager_Transports(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, 1)
	_, err := m.CreateOrJoin(ctx, "r1", "alice", "")
	require.NoError(t, err)

	_, err = m.CreateTransport(ctx, "nope", "alice", domain.DirectionSend)
	require.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = m.CreateTransport(ctx, "r1", "ghost", domain.DirectionSend)
	require.ErrorIs(t, err, domain.ErrPeerNotFound)
	_, err = m.CreateTransport(ctx, "r1", "alice", "sideways")
	require.ErrorIs(t, err, domain.ErrInvalidDirection)

	data, err := m.CreateTransport(ctx, "r1", "alice", domain.DirectionSend)
	require.NoError(t, err)
	require.NotEmpty(t, data.ID)
	require.NotEmpty(t, data.IceParameters.UsernameFragment)
	require.NotEmpty(t, data.IceCandidates)
	require.NotEmpty(t, data.DtlsParameters.Fingerprints)

	require.ErrorIs(t, m.ConnectTransport(ctx, "r1", "alice", "missing", dtls()), domain.ErrTransportNotFound)
	require.Error(t, m.ConnectTransport(ctx, "r1", "alice", data.ID, domain.ConnectParams{}))
	require.NoError(t, m.ConnectTransport(ctx, "r1", "alice", data.ID, dtls()))

	room, _ := m.Get("r1")
	transports, _, _ := room.Counts("alice")
	require.Equal(t, 1, transports)

	require.NoError(t, m.CloseTransport(ctx, "r1", "alice", data.ID))
	transports, _, _ = room.Counts("alice")
	require.Zero(t, transports)
	require.ErrorIs(t, m.CloseTransport(ctx, "r1", "alice", data.ID), domain.ErrTransportNotFound)
}

func TestRoomManager_Media(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*RoomManager, *corefakes.Factory, domain.TransportID, domain.TransportID) {
		m, _, f := newTestManager(t, 1)
		_, err := m.CreateOrJoin(ctx, "r1", "alice", "")
		require.NoError(t, err)
		_, err = m.CreateOrJoin(ctx, "r1", "bob", "")
		require.NoError(t, err)
		send, err := m.CreateTransport(ctx, "r1", "alice", domain.DirectionSend)
		require.NoError(t, err)
		recv, err := m.CreateTransport(ctx, "r1", "bob", domain.DirectionRecv)
		require.NoError(t, err)
		return m, f, send.ID, recv.ID
	}

	t.Run("produce and consume", func(t *testing.T) {
		m, _, send, recv := setup(t)
		_, err := m.CreateProducer(ctx, "r1", "alice", send, "screen", opusParams())
		require.ErrorIs(t, err, domain.ErrInvalidKind)

		prod, err := m.CreateProducer(ctx, "r1", "alice", send, domain.KindAudio, opusParams())
		require.NoError(t, err)
		require.Equal(t, domain.PeerID("alice"), prod.PeerID)

		state, err := m.CreateOrJoin(ctx, "r1", "carol", "")
		require.NoError(t, err)
		require.Equal(t, []domain.ProducerID{prod.ID}, state.Peers[0].Producers)

		cons, err := m.CreateConsumer(ctx, "r1", "bob", "alice", recv, prod.ID, clientCaps())
		require.NoError(t, err)
		require.NotNil(t, cons)
		require.Equal(t, prod.ID, cons.ProducerID)
		require.Equal(t, domain.PeerID("alice"), cons.PeerID)
		require.Equal(t, domain.KindAudio, cons.Kind)
		require.Equal(t, "simple", cons.Type)
		require.Equal(t, uint8(100), cons.RtpParameters.Codecs[0].PayloadType)

		room, _ := m.Get("r1")
		_, _, consumers := room.Counts("bob")
		require.Equal(t, 1, consumers)

		// closing the producing transport tears down the consumer side too
		require.NoError(t, m.CloseTransport(ctx, "r1", "alice", send))
		_, producers, _ := room.Counts("alice")
		require.Zero(t, producers)
		_, _, consumers = room.Counts("bob")
		require.Zero(t, consumers)
	})

	t.Run("incompatible capabilities skip", func(t *testing.T) {
		m, _, send, recv := setup(t)
		prod, err := m.CreateProducer(ctx, "r1", "alice", send, domain.KindAudio, opusParams())
		require.NoError(t, err)
		videoOnly := domain.RouterCapabilities(domain.FilterCodecs(domain.DefaultMediaCodecs()[1:], "VP8"))
		cons, err := m.CreateConsumer(ctx, "r1", "bob", "alice", recv, prod.ID, videoOnly)
		require.NoError(t, err)
		require.Nil(t, cons)
	})

	t.Run("unknown producer skips", func(t *testing.T) {
		m, _, _, recv := setup(t)
		cons, err := m.CreateConsumer(ctx, "r1", "bob", "alice", recv, "nope", clientCaps())
		require.NoError(t, err)
		require.Nil(t, cons)
	})

	t.Run("engine consume failure", func(t *testing.T) {
		m, f, send, recv := setup(t)
		prod, err := m.CreateProducer(ctx, "r1", "alice", send, domain.KindAudio, opusParams())
		require.NoError(t, err)
		boom := errors.New("no ssrc")
		f.Workers[0].ConsumeErr = boom
		_, err = m.CreateConsumer(ctx, "r1", "bob", "alice", recv, prod.ID, clientCaps())
		require.ErrorIs(t, err, domain.ErrConsumeFailed)
		require.ErrorIs(t, err, boom)

		// the failure leaves bob and his transport in place
		room, ok := m.Get("r1")
		require.True(t, ok)
		require.Equal(t, []domain.PeerID{"alice", "bob"}, room.PeerIDs())
		transports, _, consumers := room.Counts("bob")
		require.Equal(t, 1, transports)
		require.Zero(t, consumers)

		f.Workers[0].ConsumeErr = nil
		cons, err := m.CreateConsumer(ctx, "r1", "bob", "alice", recv, prod.ID, clientCaps())
		require.NoError(t, err)
		require.NotNil(t, cons)
		_, _, consumers = room.Counts("bob")
		require.Equal(t, 1, consumers)
	})

	t.Run("unknown consumer peer fails before capability check", func(t *testing.T) {
		m, _, send, _ := setup(t)
		prod, err := m.CreateProducer(ctx, "r1", "alice", send, domain.KindAudio, opusParams())
		require.NoError(t, err)
		videoOnly := domain.RouterCapabilities(domain.FilterCodecs(domain.DefaultMediaCodecs()[1:], "VP8"))

		_, err = m.CreateConsumer(ctx, "r1", "ghost", "alice", "nope", prod.ID, videoOnly)
		require.ErrorIs(t, err, domain.ErrPeerNotFound)
		_, err = m.CreateConsumer(ctx, "r1", "ghost", "alice", "nope", "unknown-producer", clientCaps())
		require.ErrorIs(t, err, domain.ErrPeerNotFound)
	})
}

func TestRoomManager_RemovePeer(t *testing.T) {
	ctx := context.Background()
	m, _, f := newTestManager(t, 1)
	_, err := m.CreateOrJoin(ctx, "r1", "alice", "")
	require.NoError(t, err)
	_, err = m.CreateOrJoin(ctx, "r1", "bob", "")
	require.NoError(t, err)
	send, err := m.CreateTransport(ctx, "r1", "alice", domain.DirectionSend)
	require.NoError(t, err)
	_, err = m.CreateProducer(ctx, "r1", "alice", send.ID, domain.KindAudio, opusParams())
	require.NoError(t, err)

	room, ok := m.Get("r1")
	require.True(t, ok)
	router := room.Router().(*corefakes.FakeRouter)

	m.RemovePeer("r1", "alice")
	m.RemovePeer("r1", "alice")
	m.RemovePeer("nope", "alice")
	require.Equal(t, []domain.PeerID{"bob"}, room.PeerIDs())
	require.False(t, router.Closed())

	m.RemovePeer("r1", "bob")
	_, ok = m.Get("r1")
	require.False(t, ok)
	require.True(t, router.Closed())
	require.Empty(t, m.List())

	state, err := m.CreateOrJoin(ctx, "r1", "alice", "")
	require.NoError(t, err)
	require.Empty(t, state.Peers)
	require.Equal(t, 2, f.Workers[0].RoutersCreated())
}
