// Package client is a Go signaling client for the meet server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/protocol"
)

var ErrClosed = errors.New("client closed")

// ServerError is an error frame answering one of our requests.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Event is an unsolicited server frame (new-producer, peer-closed, uncorrelated errors).
type Event struct {
	Kind string
	Raw  json.RawMessage
}

type result struct {
	data []byte
	err  error
}

type pendingCall struct {
	kind string
	ch   chan result
}

type Client struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]*pendingCall
	order   []string
	err     error
}

// Dial connects to a signaling endpoint such as ws://host/api/ws/signal.
func Dial(ctx context.Context, url string, header http.Header) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:    conn,
		events:  make(chan Event, 64),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingCall),
	}
	go c.readLoop()
	return c, nil
}

// Events is closed when the connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline())
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

// Send writes a raw frame without waiting for an answer.
func (c *Client) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Call sends req as kind and decodes the matching response into out.
func (c *Client) Call(ctx context.Context, kind string, req protocol.Message, out any) error {
	id := uuid.NewString()
	frame, err := protocol.Encode(protocol.Reply(protocol.Envelope{Request: kind, RequestID: id}, req))
	if err != nil {
		return err
	}
	call := &pendingCall{kind: kind, ch: make(chan result, 1)}

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return c.err
	}
	c.pending[id] = call
	c.order = append(c.order, id)
	c.mu.Unlock()

	if err := c.Send(frame); err != nil {
		c.forget(id)
		return err
	}

	select {
	case res := <-call.ch:
		if res.err != nil {
			return res.err
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(res.data, out)
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
}

func (c *Client) removeLocked(id string) {
	delete(c.pending, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// claim takes the call a frame answers: by request id, else the oldest call of the same kind.
func (c *Client) claim(env protocol.Envelope) *pendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	if env.RequestID != "" {
		call, ok := c.pending[env.RequestID]
		if ok {
			c.removeLocked(env.RequestID)
		}
		return call
	}
	kind := env.Request
	if kind == protocol.KindPong {
		kind = protocol.KindPing
	}
	for _, id := range c.order {
		if c.pending[id].kind == kind {
			call := c.pending[id]
			c.removeLocked(id)
			return call
		}
	}
	return nil
}

func (c *Client) readLoop() {
	defer func() {
		c.mu.Lock()
		if c.err == nil {
			c.err = ErrClosed
		}
		for id, call := range c.pending {
			call.ch <- result{err: c.err}
			delete(c.pending, id)
		}
		c.order = nil
		c.mu.Unlock()
		close(c.events)
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("bad frame")
			continue
		}
		if env.Request == protocol.KindNewProducer || env.Request == protocol.KindPeerClosed {
			c.emit(env.Request, data)
			continue
		}
		if env.Request == protocol.KindError && env.RequestID == "" {
			c.emit(env.Request, data)
			continue
		}
		call := c.claim(env)
		if call == nil {
			c.emit(env.Request, data)
			continue
		}
		if env.Request == protocol.KindError {
			var e protocol.ErrorEvent
			_ = json.Unmarshal(data, &e)
			call.ch <- result{err: &ServerError{Message: e.Error}}
			continue
		}
		call.ch <- result{data: data}
	}
}

func (c *Client) emit(kind string, data []byte) {
	select {
	case c.events <- Event{Kind: kind, Raw: data}:
	default:
		log.Warn().Str("module", "client").Str("event", kind).Msg("event queue full, dropped")
	}
}
