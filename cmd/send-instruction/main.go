// Command send-instruction runs a single optimization tick and exits. It is
// meant for cron-style operation and backfills; the voltvakt daemon runs the
// same tick on its own quarter-aligned loop.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voltvakt/voltvakt/pkg/controller"
	"github.com/voltvakt/voltvakt/pkg/inverter"
	"github.com/voltvakt/voltvakt/pkg/log"
	"github.com/voltvakt/voltvakt/pkg/prices"
	"github.com/voltvakt/voltvakt/pkg/storage"
	"github.com/voltvakt/voltvakt/pkg/types"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	settings := controller.ConfiguredSettings()
	db := storage.Configured()
	provider := prices.ConfiguredSpot()
	system := inverter.ConfiguredGateway()

	dryRun := lflag.Bool("dry-run", false, "decide and record without sending commands to the inverter")
	force := lflag.Bool("force", false, "bypass the quarter-alignment check")
	override := lflag.String("override", "", "inject an action (charge/discharge/idle) instead of deciding")
	at := lflag.String("at", "", "RFC3339 time to tick at instead of now, for backfilling a past quarter")

	lflag.Configure()

	var level slog.Level
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
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

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

	opts := controller.TickOptions{
		DryRun: *dryRun,
		Force:  *force,
	}
	if *override != "" {
		action := types.Action(*override)
		if !action.Valid() {
			log.Ctx(ctx).ErrorContext(ctx, "unknown override action", slog.String("action", *override))
			os.Exit(1)
		}
		opts.Override = &action
	}

	var clock controller.Clock
	if *at != "" {
		pinned, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "invalid --at time", "error", err)
			os.Exit(1)
		}
		clock = func() time.Time { return pinned }
	}

	ctrl := controller.New(settings, db, provider, system, clock)
	rec, err := ctrl.Tick(ctx, opts)
	switch {
	case errors.Is(err, controller.ErrMisaligned):
		log.Ctx(ctx).ErrorContext(ctx, "misaligned", "error", err)
		os.Exit(1)
	case errors.Is(err, controller.ErrDuplicateTick):
		log.Ctx(ctx).ErrorContext(ctx, "duplicate_tick", "error", err)
		os.Exit(1)
	case errors.Is(err, controller.ErrNoPriceData):
		log.Ctx(ctx).ErrorContext(ctx, "No price data available", "error", err)
		os.Exit(1)
	case err != nil:
		log.Ctx(ctx).ErrorContext(ctx, "tick failed", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "instruction sent",
		slog.String("action", string(rec.Action)),
		slog.Float64("powerKW", rec.PowerKW),
		slog.String("source", string(rec.DecisionSource)),
	)
}
