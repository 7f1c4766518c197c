package domain

import (
	"fmt"
	"strings"
)

const (
	ExtMid              = "urn:ietf:params:rtp-hdrext:sdes:mid"
	ExtAbsSendTime      = "http://www.webrtc.org/experiments/rtp-hdrext/abs-send-time"
	ExtAudioLevel       = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"
	ExtVideoOrientation = "urn:3gpp:video-orientation"

	DefaultVideoCodec = "VP8"

	firstDynamicPayloadType = 100
)

// DefaultMediaCodecs is the base codec table a room filters from.
func DefaultMediaCodecs() []RtpCodecCapability {
	return []RtpCodecCapability{
		{Kind: KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2},
		{Kind: KindVideo, MimeType: "video/VP8", ClockRate: 90000},
		{
			Kind:      KindVideo,
			MimeType:  "video/H264",
			ClockRate: 90000,
			Parameters: map[string]any{
				"packetization-mode":      1,
				"profile-level-id":        "42e01f",
				"level-asymmetry-allowed": 1,
			},
		},
	}
}

// FilterCodecs keeps every audio codec and the video codec named by videoCodec.
func FilterCodecs(base []RtpCodecCapability, videoCodec string) []RtpCodecCapability {
	want := "video/" + strings.ToLower(videoCodec)
	out := make([]RtpCodecCapability, 0, len(base))
	for _, c := range base {
		if c.Kind == KindAudio || strings.ToLower(c.MimeType) == want {
			out = append(out, c)
		}
	}
	return out
}

// RouterCapabilities assigns payload types and feedback to a codec set.
func RouterCapabilities(codecs []RtpCodecCapability) RtpCapabilities {
	caps := RtpCapabilities{Codecs: make([]RtpCodecCapability, 0, len(codecs))}
	used := make(map[uint8]bool, len(codecs))
	for _, c := range codecs {
		if c.PreferredPayloadType != 0 {
			used[c.PreferredPayloadType] = true
		}
	}
	next := uint8(firstDynamicPayloadType)
	for _, c := range codecs {
		if c.PreferredPayloadType == 0 {
			for used[next] {
				next++
			}
			c.PreferredPayloadType = next
			used[next] = true
		}
		if len(c.RtcpFeedback) == 0 {
			c.RtcpFeedback = defaultFeedback(c.Kind)
		}
		caps.Codecs = append(caps.Codecs, c)
	}
	caps.HeaderExtensions = []RtpHeaderExtension{
		{Kind: KindAudio, URI: ExtMid, PreferredID: 1, Direction: "sendrecv"},
		{Kind: KindVideo, URI: ExtMid, PreferredID: 1, Direction: "sendrecv"},
		{Kind: KindVideo, URI: ExtAbsSendTime, PreferredID: 4, Direction: "sendrecv"},
		{Kind: KindAudio, URI: ExtAudioLevel, PreferredID: 10, Direction: "sendrecv"},
		{Kind: KindVideo, URI: ExtVideoOrientation, PreferredID: 11, Direction: "sendrecv"},
	}
	return caps
}

func defaultFeedback(kind MediaKind) []RtcpFeedback {
	if kind == KindAudio {
		return []RtcpFeedback{{Type: "transport-cc"}}
	}
	return []RtcpFeedback{
		{Type: "nack"},
		{Type: "nack", Parameter: "pli"},
		{Type: "ccm", Parameter: "fir"},
		{Type: "goog-remb"},
		{Type: "transport-cc"},
	}
}

// CanConsume reports whether caps can receive a producer sending params.
func CanConsume(params RtpParameters, caps RtpCapabilities) bool {
	for _, pc := range params.Codecs {
		if isRtx(pc.MimeType) {
			continue
		}
		for _, cc := range caps.Codecs {
			if MatchCodec(pc, cc) {
				return true
			}
		}
	}
	return false
}

// MatchCodec compares mime type, clock rate, channels and the H264 packetization mode.
func MatchCodec(p RtpCodecParameters, c RtpCodecCapability) bool {
	if !strings.EqualFold(p.MimeType, c.MimeType) || p.ClockRate != c.ClockRate {
		return false
	}
	if strings.HasPrefix(strings.ToLower(p.MimeType), "audio/") && channels(p.Channels) != channels(c.Channels) {
		return false
	}
	if strings.EqualFold(p.MimeType, "video/h264") {
		return param(p.Parameters, "packetization-mode", "0") == param(c.Parameters, "packetization-mode", "0")
	}
	return true
}

// FindCapability returns the capability in caps matching p.
func FindCapability(p RtpCodecParameters, caps RtpCapabilities) (RtpCodecCapability, bool) {
	for _, c := range caps.Codecs {
		if MatchCodec(p, c) {
			return c, true
		}
	}
	return RtpCodecCapability{}, false
}

func channels(n uint16) uint16 {
	if n == 0 {
		return 1
	}
	return n
}

func param(params map[string]any, key, def string) string {
	v, ok := params[key]
	if !ok {
		return def
	}
	return fmt.Sprint(v)
}

func isRtx(mimeType string) bool {
	return strings.HasSuffix(strings.ToLower(mimeType), "/rtx")
}
