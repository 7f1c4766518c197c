package sfu

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

type chanReader chan *rtp.Packet

func (c chanReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-c
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

type recorder struct {
	mu   sync.Mutex
	seqs []uint16
	err  error
}

func (r *recorder) WriteRTP(p *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.seqs = append(r.seqs, p.SequenceNumber)
	return nil
}

func (r *recorder) got() []uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint16(nil), r.seqs...)
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, SequenceNumber: seq, PayloadType: 96}}
}

func TestRelayForwards(t *testing.T) {
	m := NewRelayManager()
	src := make(chanReader)
	var seen []uint16
	relay := m.StartRelay(context.Background(), "prod", src, func(p *rtp.Packet) { seen = append(seen, p.SequenceNumber) })

	a, b := &recorder{}, &recorder{}
	_, ok := m.AddSubscriber("prod", "a", a)
	require.True(t, ok)
	_, ok = m.AddSubscriber("prod", "b", b)
	require.True(t, ok)
	_, ok = m.AddSubscriber("missing", "c", &recorder{})
	require.False(t, ok)

	src <- packet(1)
	src <- packet(2)
	require.Eventually(t, func() bool { return len(b.got()) == 2 }, time.Second, time.Millisecond)
	m.MarkSubscriberDelete("prod", "b")
	src <- packet(3)
	close(src)

	select {
	case <-relay.Done():
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	require.Equal(t, []uint16{1, 2, 3}, a.got())
	require.Equal(t, []uint16{1, 2}, b.got())
	require.Equal(t, []uint16{1, 2, 3}, seen)
	require.Equal(t, 1, relay.OutTracks())
}

func TestRelayWriteErrorDetaches(t *testing.T) {
	m := NewRelayManager()
	src := make(chanReader)
	relay := m.StartRelay(context.Background(), "prod", src, nil)
	bad := &recorder{err: errors.New("closed pipe")}
	ot, ok := m.AddSubscriber("prod", "bad", bad)
	require.True(t, ok)

	src <- packet(1)
	src <- packet(2)
	close(src)
	<-relay.Done()
	require.Equal(t, TrackStateDelete, ot.State())
	require.Zero(t, ot.Sent())
	require.Zero(t, relay.OutTracks())
}

func TestRelayStats(t *testing.T) {
	m := NewRelayManager()
	src := make(chanReader)
	relay := m.StartRelay(context.Background(), "prod", src, nil)
	for _, seq := range []uint16{65534, 65535, 2, 1, 3} {
		src <- packet(seq)
	}
	close(src)
	<-relay.Done()

	st := relay.Stats()
	require.EqualValues(t, 5, st.Received)
	// 0 and 1 were missing when 2 arrived; late 1 does not undo the count
	require.EqualValues(t, 2, st.Lost)
	require.Equal(t, 7, st.Score(Stats{}))
	require.Zero(t, st.Score(st))
}

func TestStopRelay(t *testing.T) {
	m := NewRelayManager()
	src := make(chanReader)
	relay := m.StartRelay(context.Background(), "prod", src, nil)
	ot, _ := m.AddSubscriber("prod", "a", &recorder{})

	m.StopRelay("prod")
	_, ok := m.Relay("prod")
	require.False(t, ok)
	require.Equal(t, TrackStateDelete, ot.State())

	// the loop leaves once its read returns
	close(src)
	<-relay.Done()
}
