package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duelnet/internal/app"
	"duelnet/internal/core/domain"
	"duelnet/internal/infrastructure/gameclient"
	"duelnet/pkg/config"
	"duelnet/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	bot := flag.Bool("bot", false, "send scripted bot input instead of idle input")
	flag.Parse()

	path := findConfig(*configPath)
	cfg, err := config.Load(path)
	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.NewWithOptions(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if err != nil {
		log.Warnw("could not load config, using defaults", "error", err)
	} else {
		log.Infow("loaded config", "path", path)
	}

	var driver gameclient.InputDriver
	if *bot {
		driver = gameclient.NewBot(time.Now())
	}
	client := gameclient.New(driver, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infow("starting duelnet guest", "room_id", cfg.Room.ID)
	if err := app.Run(ctx, cfg, domain.RoleGuest, client, log); err != nil {
		log.Errorw("guest stopped with error", "error", err)
		zapLogger.Sync()
		os.Exit(1)
	}
	log.Info("duelnet guest stopped")
}

// findConfig returns explicit when set, else the first existing default
// location. A missing file loads defaults plus env overrides.
func findConfig(explicit string) string {
	if explicit != "" {
		return explicit
	}
	configPaths := []string{
		"configs/config.yaml",
		"/etc/duelnet/config.yaml",
		"config.yaml",
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return configPaths[0]
}
