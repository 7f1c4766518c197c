package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const (
	DefaultReadLimit = 64 << 10
	DefaultSendQueue = 32
	writeWait        = 5 * time.Second
)

type Options struct {
	ReadLimit int64
	SendQueue int
	Rate      rate.Limit
	Burst     int
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RateLimiter

	opts     Options
	handlers map[string]handlerFunc
	pumps    conc.WaitGroup
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = DefaultReadLimit
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = DefaultSendQueue
	}
	ctl := &SignalWSController{
		Orch:    o,
		Limiter: NewRateLimiter(opts.Rate, opts.Burst),
		opts:    opts,
	}
	ctl.handlers = ctl.routes()
	return ctl
}

// WsSignalConn is one WebSocket client. alive is cleared by every liveness sweep
// and set again by a pong or a ping request. busy counts requests in progress;
// pongs are not read while one runs.
type WsSignalConn struct {
	sid   core.SessionID
	conn  *websocket.Conn
	send  chan core.Frame
	alive atomic.Bool
	busy  atomic.Int32

	mu     sync.RWMutex
	closed bool
}

func newWsSignalConn(sid core.SessionID, ws *websocket.Conn, queue int) *WsSignalConn {
	c := &WsSignalConn{sid: sid, conn: ws, send: make(chan core.Frame, queue)}
	c.alive.Store(true)
	return c
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *WsSignalConn) probe() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request; the connection lives until ctx ends or either pump stops.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(uuid.NewString())
	logger := log.With().Str("module", "signal").Str("sid", string(sid)).Logger()
	logger.Info().Str("client_token", c.GetString("client_token")).Str("remote", c.ClientIP()).
		Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.opts.ReadLimit)

	conn := newWsSignalConn(sid, ws, ctl.opts.SendQueue)
	ws.SetPongHandler(func(string) error {
		conn.alive.Store(true)
		return nil
	})
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindSignal(sid, conn, cancel)

	ctl.pumps.Go(func() { ctl.writePump(ctx, conn) })
	ctl.pumps.Go(func() { ctl.readPump(ctx, sid, conn) })
}

// Shutdown disconnects every session and waits for their pumps.
func (ctl *SignalWSController) Shutdown(ctx context.Context) error {
	var wg conc.WaitGroup
	for _, snap := range ctl.Orch.Registry.Sessions() {
		wg.Go(func() { ctl.Orch.KickBySID(snap.SID) })
	}
	wg.Wait()

	done := make(chan struct{})
	go func() {
		ctl.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Str("module", "signal").Msg("all connections closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
