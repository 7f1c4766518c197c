package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	router "github.com/dkeye/Meet/internal/adapters/http"
	"github.com/dkeye/Meet/internal/adapters/rtc"
	sig "github.com/dkeye/Meet/internal/adapters/signal"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/config"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cmd := &cobra.Command{
		Use:           "meet",
		Short:         "Multi-party WebRTC conferencing signaling server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
				zerolog.SetGlobalLevel(lvl)
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}
	config.Flags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		log.Error().Err(err).Msg("meet failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	pool, err := app.NewWorkerPool(ctx, cfg.Media.NumWorkers, cfg.WorkerSettings(), rtc.NewWorker,
		app.ExitAfter(cfg.Media.DeathGrace))
	if err != nil {
		return err
	}
	defer func() {
		if err := pool.Close(); err != nil {
			log.Error().Err(err).Msg("close workers")
		}
	}()

	rooms := app.NewRoomManager(pool, app.RoomManagerConfig{
		Codecs:            cfg.Media.Codecs,
		DefaultVideoCodec: cfg.Media.DefaultVideoCodec,
		Transport:         cfg.TransportOptions(),
	})
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Policy:   app.SimplePolicy{},
	}
	ctl := sig.NewSignalWSController(o, sig.Options{
		ReadLimit: cfg.ReadLimit,
		Rate:      rate.Limit(cfg.RateLimit.Rate),
		Burst:     cfg.RateLimit.Burst,
	})
	go ctl.RunLiveness(ctx, cfg.PingPeriod)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router.SetupRouter(ctx, cfg, rooms, ctl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Bool("tls", cfg.TLS()).Msg("Meet server started")
		var err error
		if cfg.TLS() {
			err = srv.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := ctl.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("signaling connections did not close in time")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
