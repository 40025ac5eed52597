package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/Grid/internal/adapters/socketio"
	"github.com/dkeye/Grid/internal/config"
	"github.com/dkeye/Grid/internal/domain"
	"github.com/dkeye/Grid/internal/grid"
	"github.com/dkeye/Grid/internal/logging"
	"github.com/dkeye/Grid/internal/serde"
)

func main() {
	fs := pflag.NewFlagSet("worker", pflag.ExitOnError)
	fs.String("addr", "", "coordinator address, e.g. http://localhost:5000")
	fs.String("id", "", "worker id (random when empty)")
	fs.String("expect", "", "identity the coordinator must announce")
	fs.Duration("identity-wait", 0, "how long connect waits for the identity event")
	fs.Bool("log-msgs", false, "log every result received")
	fs.Bool("verbose", false, "debug logging")
	fs.Bool("compression", false, "zstd-compress large envelopes")
	payload := fs.StringP("payload", "p", "", "payload to send; read from stdin when empty")
	_ = fs.Parse(os.Args[1:])

	logging.Setup(false)

	cfg, err := config.Load(fs, config.WorkerFlags)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.SetVerbose(cfg.Grid.Verbose)

	if err := run(cfg.Grid, *payload); err != nil {
		log.Error().Err(err).Msg("worker failed")
		os.Exit(1)
	}
}

func run(cfg config.GridConfig, payload string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	worker, err := domain.NewWorker(cfg.ID, cfg.Addr)
	if err != nil {
		return fmt.Errorf("worker id: %w", err)
	}

	var opts []serde.Option
	if cfg.Compression {
		opts = append(opts, serde.WithCompression(0))
	}
	s, err := serde.New(opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	ch, err := socketio.NewClient(worker.Address)
	if err != nil {
		return err
	}

	client := grid.New(ch, s,
		grid.WithWorkerID(worker.ID),
		grid.WithIdentity(cfg.Identity),
		grid.WithIdentityWait(cfg.IdentityWait),
		grid.WithLogMsgs(cfg.LogMsgs),
	)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Disconnect()

	body := []byte(payload)
	if payload == "" {
		if body, err = io.ReadAll(os.Stdin); err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	env, err := s.Serialize(body)
	if err != nil {
		return err
	}
	reply, err := client.RecvMsg(ctx, env)
	if err != nil {
		return err
	}

	out, err := s.Deserialize(reply)
	if err != nil {
		log.Warn().Err(err).Str("module", "worker").Msg("reply is not an envelope, printing hex")
		fmt.Println(hex.EncodeToString(reply))
		return nil
	}
	log.Info().Str("module", "worker").Str("worker", string(worker.ID)).Int("bytes", len(out)).Msg("reply received")
	_, err = os.Stdout.Write(out)
	return err
}
