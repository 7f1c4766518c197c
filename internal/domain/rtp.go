package domain

type RtcpFeedback struct {
	Type      string `json:"type"`
	Parameter string `json:"parameter,omitempty"`
}

type RtpCodecCapability struct {
	Kind                 MediaKind      `json:"kind" mapstructure:"kind"`
	MimeType             string         `json:"mimeType" mapstructure:"mime_type"`
	PreferredPayloadType uint8          `json:"preferredPayloadType,omitempty" mapstructure:"preferred_payload_type"`
	ClockRate            uint32         `json:"clockRate" mapstructure:"clock_rate"`
	Channels             uint16         `json:"channels,omitempty" mapstructure:"channels"`
	Parameters           map[string]any `json:"parameters,omitempty" mapstructure:"parameters"`
	RtcpFeedback         []RtcpFeedback `json:"rtcpFeedback,omitempty" mapstructure:"-"`
}

type RtpHeaderExtension struct {
	Kind        MediaKind `json:"kind"`
	URI         string    `json:"uri"`
	PreferredID int       `json:"preferredId"`
	Direction   string    `json:"direction,omitempty"`
}

type RtpCapabilities struct {
	Codecs           []RtpCodecCapability `json:"codecs"`
	HeaderExtensions []RtpHeaderExtension `json:"headerExtensions,omitempty"`
}

type RtpCodecParameters struct {
	MimeType     string         `json:"mimeType"`
	PayloadType  uint8          `json:"payloadType"`
	ClockRate    uint32         `json:"clockRate"`
	Channels     uint16         `json:"channels,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	RtcpFeedback []RtcpFeedback `json:"rtcpFeedback,omitempty"`
}

type RtpHeaderExtensionParameters struct {
	URI     string `json:"uri"`
	ID      int    `json:"id"`
	Encrypt bool   `json:"encrypt,omitempty"`
}

type RtxParameters struct {
	Ssrc uint32 `json:"ssrc"`
}

type RtpEncodingParameters struct {
	Ssrc            uint32         `json:"ssrc,omitempty"`
	Rid             string         `json:"rid,omitempty"`
	Rtx             *RtxParameters `json:"rtx,omitempty"`
	MaxBitrate      uint32         `json:"maxBitrate,omitempty"`
	ScalabilityMode string         `json:"scalabilityMode,omitempty"`
}

type RtcpParameters struct {
	Cname       string `json:"cname,omitempty"`
	ReducedSize bool   `json:"reducedSize,omitempty"`
}

type RtpParameters struct {
	Mid              string                         `json:"mid,omitempty"`
	Codecs           []RtpCodecParameters           `json:"codecs"`
	HeaderExtensions []RtpHeaderExtensionParameters `json:"headerExtensions,omitempty"`
	Encodings        []RtpEncodingParameters        `json:"encodings,omitempty"`
	Rtcp             RtcpParameters                 `json:"rtcp,omitempty"`
}

// MediaCodec returns the first codec that is not a retransmission codec.
func (p RtpParameters) MediaCodec() (RtpCodecParameters, bool) {
	for _, c := range p.Codecs {
		if !isRtx(c.MimeType) {
			return c, true
		}
	}
	return RtpCodecParameters{}, false
}

// HeaderExtensionID returns the negotiated id for uri, or 0.
func (p RtpParameters) HeaderExtensionID(uri string) int {
	for _, ext := range p.HeaderExtensions {
		if ext.URI == uri {
			return ext.ID
		}
	}
	return 0
}
