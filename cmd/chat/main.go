package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/temporalos/chatkit/internal/app"
	"github.com/temporalos/chatkit/internal/config"
	"github.com/temporalos/chatkit/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "Optional YAML config file")
	nickname := flag.String("nickname", "", "Join the group room under this nickname on connect")
	chatURL := flag.String("chat-url", "", "Override chat websocket URL")
	groupURL := flag.String("group-url", "", "Override group chat websocket URL")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *chatURL != "" {
		cfg.Chat.URL = *chatURL
	}
	if *groupURL != "" {
		cfg.Group.URL = *groupURL
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	a, err := app.New(*cfg, log, app.Options{
		Nickname: *nickname,
		Output:   os.Stdout,
	})
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx, os.Stdin); err != nil {
		log.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}
