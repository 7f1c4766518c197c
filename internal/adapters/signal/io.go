package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/protocol"
)

var (
	errRateLimited = errors.New("rate limited")
	errBadPayload  = errors.New("bad_payload")
)

type handlerFunc func(ctx context.Context, sid core.SessionID, c *WsSignalConn, env protocol.Envelope, data []byte)

func (ctl *SignalWSController) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.KindCreateRoom:       ctl.handleCreateRoom,
		protocol.KindCreateTransport:  ctl.handleCreateTransport,
		protocol.KindConnectTransport: ctl.handleConnectTransport,
		protocol.KindCloseTransport:   ctl.handleCloseTransport,
		protocol.KindProduce:          ctl.handleProduce,
		protocol.KindConsume:          ctl.handleConsume,
		protocol.KindPing:             ctl.handlePing,
		protocol.KindWhoAmI:           ctl.handleWhoAmI,
	}
}

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(ctx context.Context, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.Orch.Registry.Cancel(sid)
		c.Close()
		ctl.Limiter.Forget(sid)
		ctl.Orch.OnDisconnect(sid)
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

// handleSignal processes one frame. Failures are reported to the client and
// never end the connection.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		return
	}
	if !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("request", env.Request).Msg("rate limited")
		ctl.sendError(c, env, errRateLimited)
		return
	}

	h, ok := ctl.handlers[env.Request]
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("request", env.Request).Msg("unknown signal")
		return
	}
	c.busy.Add(1)
	defer c.busy.Add(-1)
	h(ctx, sid, c, env, data)
}

// decode unmarshals a typed request, answering with bad_payload on failure.
func decode[T any](ctl *SignalWSController, c *WsSignalConn, env protocol.Envelope, data []byte) (T, bool) {
	var req T
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("request", env.Request).Msg("bad payload")
		ctl.sendError(c, env, errBadPayload)
		return req, false
	}
	return req, true
}

func (ctl *SignalWSController) respond(c *WsSignalConn, env protocol.Envelope, m protocol.Message) {
	b, err := protocol.Encode(protocol.Reply(env, m))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("request", env.Request).Msg("respond marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.sid)).Msg("respond")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, env protocol.Envelope, err error) {
	ctl.respond(c, env, &protocol.ErrorEvent{
		Envelope: protocol.Envelope{Request: protocol.KindError},
		Error:    err.Error(),
	})
}
