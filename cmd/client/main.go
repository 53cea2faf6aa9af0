package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blukai/duelparty/internal/gameclient"
	"github.com/blukai/duelparty/internal/protocol"
	"github.com/blukai/duelparty/internal/ptr"
	"github.com/blukai/duelparty/internal/reconcile"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

// Headless development client: queues up, connects to its match and mirrors
// the opponent through the reconciliation engine while reporting an idle
// stance of its own. Useful as the second player when poking at the server
// by hand.

type Config struct {
	ServerAddr string `envconfig:"SERVER_ADDR" default:"127.0.0.1:3000"`
	PlayerName string `envconfig:"PLAYER_NAME" default:"headless"`

	QueuePollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
	TickInterval      time.Duration `envconfig:"TICK_INTERVAL" default:"16ms"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("", config); err != nil {
		return nil, err
	}
	return config, nil
}

func configureLogger() *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-signalChan
		logger.Info().Msgf("received %+v signal", sig)
		cancel()
	}()

	playerID := uuid.New()
	client := gameclient.NewClient(config.ServerAddr, playerID, config.PlayerName, logger)
	defer client.Close()

	if err := client.JoinQueue(ctx); err != nil {
		return fmt.Errorf("could not join queue: %w", err)
	}
	logger.Info().Str("player", playerID.String()).Msg("queued, waiting for an opponent")

	matchID, err := client.WaitForMatch(ctx, config.QueuePollInterval)
	if err != nil {
		return fmt.Errorf("could not get matched: %w", err)
	}
	logger.Info().Str("match", matchID.String()).Msg("matched")

	if err := client.Connect(ctx, matchID); err != nil {
		return fmt.Errorf("could not connect to match: %w", err)
	}

	start := time.Now()
	engine := reconcile.NewEngine(
		reconcile.Config{},
		func() float64 { return time.Since(start).Seconds() },
		reconcile.Hooks{
			PlayAnimation: func(action protocol.PlayerAction, fromFrame int) {
				logger.Info().Msgf("opponent plays %s from frame %d", action, fromFrame)
			},
			Damage: func(delta, remaining int32) {
				logger.Info().Msgf("opponent took %d damage, %d left", delta, remaining)
			},
		},
		logger,
	)

	ticker := time.NewTicker(config.TickInterval)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil

		case status, ok := <-client.Status():
			if !ok {
				return nil
			}
			logger.Info().Msgf("server says %s %s", status.Message, status.Detail)
			switch status.Message {
			case protocol.StatusVictory, protocol.StatusDefeat, protocol.StatusTerminated:
				return nil
			}

		case info, ok := <-client.Info():
			if !ok {
				return nil
			}
			engine.Apply(info)

		case now := <-ticker.C:
			engine.Tick(now.Sub(last).Seconds())
			last = now

			// the idle stance: standing still at the spawn point
			err := client.SendState(&protocol.PlayerInfo{
				Health:      10,
				EnemyHealth: engine.Health(),
				Position:    ptr.To(protocol.NewVector3(0, 0, 0.5)),
				Movement:    ptr.To(protocol.NewVector3(0, 0, 0)),
			})
			if err != nil {
				return fmt.Errorf("could not send state: %w", err)
			}
		}
	}
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
