package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/duelparty/internal/matchserver"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

type Config struct {
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"0.0.0.0:3000"`

	QueueTTL          time.Duration `envconfig:"QUEUE_TTL" default:"5s"`
	LobbyPollInterval time.Duration `envconfig:"LOBBY_POLL_INTERVAL" default:"1s"`
	RelayIdleSleep    time.Duration `envconfig:"RELAY_IDLE_SLEEP" default:"1ms"`
	MinResendInterval time.Duration `envconfig:"MIN_RESEND_INTERVAL" default:"500ms"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1s"`
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

	server, err := matchserver.NewServer(config.ListenAddr, matchserver.Config{
		QueueTTL:          config.QueueTTL,
		LobbyPollInterval: config.LobbyPollInterval,
		RelayIdleSleep:    config.RelayIdleSleep,
		MinResendInterval: config.MinResendInterval,
		CleanupInterval:   config.CleanupInterval,
	}, logger)
	if err != nil {
		return fmt.Errorf("could not construct match server: %w", err)
	}
	logger.Info().Msgf("started match server on %s", config.ListenAddr)

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())

	wg.Add(1)
	var serverRunErr error
	go func() {
		defer wg.Done()
		serverRunErr = server.Run(ctx)
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-signalChan
	logger.Info().Msgf("received %+v signal", sig)

	cancel()
	wg.Wait()
	if serverRunErr != nil {
		return fmt.Errorf("match server run failed: %w", serverRunErr)
	}

	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
