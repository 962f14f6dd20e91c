package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/voltvakt/voltvakt/pkg/controller"
	"github.com/voltvakt/voltvakt/pkg/inverter"
	"github.com/voltvakt/voltvakt/pkg/log"
	"github.com/voltvakt/voltvakt/pkg/prices"
	"github.com/voltvakt/voltvakt/pkg/server"
	"github.com/voltvakt/voltvakt/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
	"golang.org/x/sync/errgroup"
)

func main() {
	// init packages
	settings := controller.ConfiguredSettings()
	db := storage.Configured()
	provider := prices.ConfiguredSpot()
	system := inverter.ConfiguredGateway()

	// init server
	srv := server.Configured(settings, db, provider)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := settings.Validate(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid settings", "error", err)
		os.Exit(1)
	}
	if err := provider.Validate(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid price provider config", "error", err)
		os.Exit(1)
	}
	if err := system.Validate(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid inverter config", "error", err)
		os.Exit(1)
	}

	defer func() {
		if err := db.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	ctrl := controller.New(settings, db, provider, system, nil)
	ctrl.OnRecord = srv.PublishRecord

	// Run the control loop and the dashboard side by side; either failing
	// stops the other.
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ctrl.Run(gctx)
	})
	group.Go(func() error {
		return srv.Run(gctx)
	})

	if err := group.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "exited cleanly")
}
