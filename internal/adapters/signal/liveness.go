package signal

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweep terminates every connection that missed the previous probe and probes the rest.
// Connections busy with a request are left alone until it finishes.
func (ctl *SignalWSController) Sweep() {
	for _, snap := range ctl.Orch.Registry.Sessions() {
		conn, ok := snap.Session.(*WsSignalConn)
		if !ok {
			continue
		}
		if conn.busy.Load() > 0 {
			log.Debug().Str("module", "signal").Str("sid", string(snap.SID)).Msg("busy, skipping probe")
			continue
		}
		if !conn.alive.Swap(false) {
			log.Warn().Str("module", "signal").Str("sid", string(snap.SID)).Msg("liveness timeout, terminating")
			ctl.Orch.KickBySID(snap.SID)
			continue
		}
		if err := conn.probe(); err != nil {
			log.Debug().Err(err).Str("module", "signal").Str("sid", string(snap.SID)).Msg("ping write")
		}
	}
}

// RunLiveness sweeps every period until ctx ends.
func (ctl *SignalWSController) RunLiveness(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ctl.Sweep()
		}
	}
}
