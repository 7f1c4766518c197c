package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkeye/Meet/internal/domain"
)

func TestReplyEchoesRequestID(t *testing.T) {
	in := Envelope{Request: KindProduce, RequestID: "abc"}
	frame, err := Encode(Reply(in, &ProduceResponse{ProducerData: domain.ProducerData{ID: "p", PeerID: "alice"}}))
	require.NoError(t, err)
	require.JSONEq(t, `{"request":"produce","requestId":"abc","producerData":{"id":"p","peerId":"alice"}}`, string(frame))
}

func TestReplyKeepsExplicitKind(t *testing.T) {
	in := Envelope{Request: KindConsume}
	frame, err := Encode(Reply(in, &ErrorEvent{Envelope: Envelope{Request: KindError}, Error: "boom"}))
	require.NoError(t, err)
	require.JSONEq(t, `{"request":"error","error":"boom"}`, string(frame))
}

func TestConsumeSkipOmitsData(t *testing.T) {
	frame, err := Encode(Reply(Envelope{Request: KindConsume, RequestID: "1"}, &ConsumeResponse{}))
	require.NoError(t, err)
	require.JSONEq(t, `{"request":"consume","requestId":"1"}`, string(frame))
}

func TestEvent(t *testing.T) {
	frame, err := Encode(Event(KindPeerClosed, &PeerClosedEvent{ID: "p1"}))
	require.NoError(t, err)
	require.JSONEq(t, `{"request":"peer-closed","id":"p1"}`, string(frame))
}

func TestConnectParams(t *testing.T) {
	var req ConnectTransportRequest
	require.NoError(t, json.Unmarshal([]byte(`{
		"request":"connect-transport","roomId":"r","peerId":"p","transportId":"t",
		"dtlsParameters":{"role":"client","fingerprints":[{"algorithm":"sha-256","value":"AA"}]},
		"iceParameters":{"usernameFragment":"u","password":"pw"}
	}`), &req))
	params := req.Params()
	require.Equal(t, "client", params.DtlsParameters.Role)
	require.NotNil(t, params.IceParameters)
	require.Equal(t, "u", params.IceParameters.UsernameFragment)
	require.Empty(t, params.IceCandidates)
}
