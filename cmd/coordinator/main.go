package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Grid/internal/adapters/http"
	"github.com/dkeye/Grid/internal/app"
	"github.com/dkeye/Grid/internal/config"
	"github.com/dkeye/Grid/internal/logging"
)

func main() {
	fs := pflag.NewFlagSet("coordinator", pflag.ExitOnError)
	fs.String("mode", "", "gin mode: release or debug")
	fs.Int("port", 0, "listen port")
	fs.String("identity", "", "identity announced to workers")
	fs.String("reply-mode", "", "echo or ack")
	fs.Duration("ping-period", 0, "engine.io ping interval")
	fs.Int("connect-limit", 0, "max socket opens per IP per minute (0 disables)")
	fs.Bool("verbose", false, "debug logging")
	_ = fs.Parse(os.Args[1:])

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Setup(false)

	cfg, err := config.Load(fs, config.CoordinatorFlags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.SetVerbose(cfg.Verbose)

	reg := app.NewRegistry()
	ctl, err := router.NewCoordinator(cfg, reg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build coordinator")
	}

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("reply_mode", cfg.ReplyMode).Msg("Grid coordinator started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}
