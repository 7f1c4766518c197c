package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
)

func TestLoggerFactory(t *testing.T) {
	f := newLoggerFactory(zerolog.Nop(), "debug", nil)
	require.Equal(t, logging.LogLevelDebug, f.DefaultLogLevel)

	f = newLoggerFactory(zerolog.Nop(), "debug", []string{"ICE", "dtls"})
	require.Equal(t, logging.LogLevelError, f.DefaultLogLevel)
	require.Equal(t, logging.LogLevelDebug, f.ScopeLevels["ice"])
	require.Equal(t, logging.LogLevelDebug, f.ScopeLevels["dtls"])

	f = newLoggerFactory(zerolog.Nop(), "none", []string{"ice"})
	require.Equal(t, logging.LogLevelDisabled, f.DefaultLogLevel)
	require.Equal(t, logging.LogLevelWarn, logLevel("bogus"))
}

func TestLoggerKeepsSeverity(t *testing.T) {
	var buf bytes.Buffer
	f := newLoggerFactory(zerolog.New(&buf), "warn", []string{"ice"})

	ice := f.NewLogger("ice")
	ice.Error("boom")
	ice.Warnf("slow %d", 3)
	ice.Info("hidden")
	ice.Debug("hidden")
	f.NewLogger("sctp").Warn("hidden")

	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "error", lines[0]["level"])
	require.Equal(t, "boom", lines[0]["message"])
	require.Equal(t, "ice", lines[0]["scope"])
	require.Equal(t, "warn", lines[1]["level"])
	require.Equal(t, "slow 3", lines[1]["message"])
}

func TestWorkerRejectsInvertedPorts(t *testing.T) {
	_, err := NewWorker(context.Background(), core.WorkerSettings{RTCMinPort: 5000, RTCMaxPort: 4000})
	require.Error(t, err)
}

func TestTransportLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w, err := NewWorker(ctx, core.WorkerSettings{LogLevel: "warn", RTCMinPort: 40000, RTCMaxPort: 40100})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	router, err := w.CreateRouter(ctx, domain.DefaultMediaCodecs())
	require.NoError(t, err)
	require.Len(t, router.RtpCapabilities().Codecs, 3)
	require.False(t, router.CanConsume("missing", router.RtpCapabilities()))

	tr, err := router.CreateWebRtcTransport(ctx, core.WebRtcTransportOptions{
		ListenIPs: []core.ListenIP{{IP: "0.0.0.0"}},
		EnableUDP: true,
	})
	require.NoError(t, err)
	data := tr.Data()
	require.Equal(t, tr.ID(), data.ID)
	require.NotEmpty(t, data.IceParameters.UsernameFragment)
	require.NotEmpty(t, data.IceParameters.Password)
	require.True(t, data.IceParameters.IceLite)
	require.NotEmpty(t, data.DtlsParameters.Fingerprints)

	err = tr.Connect(ctx, domain.ConnectParams{DtlsParameters: data.DtlsParameters})
	require.ErrorIs(t, err, errMissingIce)

	_, err = tr.Consume(ctx, "missing", router.RtpCapabilities())
	require.ErrorIs(t, err, domain.ErrProducerNotFound)

	_, err = tr.Produce(ctx, domain.KindAudio, domain.RtpParameters{})
	require.ErrorIs(t, err, errNoMediaCodec)

	_, err = tr.Produce(ctx, domain.KindAudio, domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/PCMU", PayloadType: 0, ClockRate: 8000}},
		Encodings: []domain.RtpEncodingParameters{{Ssrc: 1}},
	})
	require.ErrorIs(t, err, errUnsupportedCodec)
	require.NotErrorIs(t, err, domain.ErrCapabilityMismatch)

	closed := make(chan struct{})
	tr.OnClose(func() { close(closed) })
	_ = router.Close()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("transport not closed with its router")
	}
	_, err = router.CreateWebRtcTransport(ctx, core.WebRtcTransportOptions{EnableUDP: true})
	require.ErrorIs(t, err, errRouterClosed)
}
