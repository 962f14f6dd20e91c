package controller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voltvakt/voltvakt/pkg/log"
	"github.com/voltvakt/voltvakt/pkg/types"
)

// Run fires a tick at every quarter boundary until the context is canceled.
// Misaligned and duplicate ticks are expected around restarts and are only
// logged. On shutdown the open session is closed so history has no dangling
// active runs.
func (c *Controller) Run(ctx context.Context) error {
	ctx = log.Component(ctx, "controller")
	log.Ctx(ctx).InfoContext(ctx, "controller loop started",
		slog.String("systemID", c.settings.SystemID),
		slog.Duration("interval", c.settings.OptimizationInterval),
	)

	for {
		now := c.clock().In(c.settings.Location())
		next := types.FloorToQuarter(now).Add(types.Quarter)

		select {
		case <-ctx.Done():
			return c.shutdown()
		case <-time.After(next.Sub(now)):
		}

		if _, err := c.Tick(ctx, TickOptions{}); err != nil {
			switch {
			case errors.Is(err, ErrDuplicateTick):
				log.Ctx(ctx).DebugContext(ctx, "quarter already recorded", slog.Any("error", err))
			case errors.Is(err, ErrMisaligned):
				log.Ctx(ctx).DebugContext(ctx, "timer fired off the quarter", slog.Any("error", err))
			case errors.Is(err, ErrNoPriceData):
				log.Ctx(ctx).WarnContext(ctx, "no prices for this quarter", slog.Any("error", err))
			default:
				log.Ctx(ctx).ErrorContext(ctx, "tick failed", slog.Any("error", err))
			}
		}

		c.maybePrefetch(ctx, c.clock().In(c.settings.Location()))
	}
}

// maybePrefetch warms the provider cache with tomorrow's curve once the
// market has published it, usually shortly after 13:00 CET.
func (c *Controller) maybePrefetch(ctx context.Context, now time.Time) {
	if now.Hour() < 14 {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if _, err := c.provider.DayCurve(cctx, now.AddDate(0, 0, 1)); err != nil {
		log.Ctx(ctx).DebugContext(ctx, "tomorrow's prices not yet available", slog.Any("error", err))
	}
}

func (c *Controller) shutdown() error {
	// A fresh context; the loop's is already canceled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.sessions.CloseActive(ctx, c.settings.SystemID, c.clock()); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "controller loop stopped")
	return nil
}
