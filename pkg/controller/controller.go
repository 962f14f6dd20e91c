// Package controller runs the quarter-hour tick: gather inputs, decide,
// execute, persist. It is the single writer of the ledger.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/voltvakt/voltvakt/pkg/decision"
	"github.com/voltvakt/voltvakt/pkg/inverter"
	"github.com/voltvakt/voltvakt/pkg/ledger"
	"github.com/voltvakt/voltvakt/pkg/log"
	"github.com/voltvakt/voltvakt/pkg/prices"
	"github.com/voltvakt/voltvakt/pkg/session"
	"github.com/voltvakt/voltvakt/pkg/storage"
	"github.com/voltvakt/voltvakt/pkg/tier"
	"github.com/voltvakt/voltvakt/pkg/types"
)

var (
	// ErrMisaligned means the wall clock is not on a quarter boundary and
	// no force override was given. Non-fatal; the next tick will align.
	ErrMisaligned = errors.New("misaligned")
	// ErrDuplicateTick means a record already exists for this quarter.
	ErrDuplicateTick = errors.New("duplicate_tick")
	// ErrNoPriceData means the provider returned nothing usable for today.
	ErrNoPriceData = errors.New("no price data available")
)

const (
	// callTimeout bounds each adapter or provider call.
	callTimeout = 30 * time.Second
	// retryAttempts and retryBackoff govern transient adapter failures.
	retryAttempts = 3
	retryBackoff  = 5 * time.Second
)

// Clock returns the current time; injectable so tests can pin it.
type Clock func() time.Time

// TickOptions alter a single tick, driven by the send-instruction CLI.
type TickOptions struct {
	// DryRun skips the inverter command; the record is still written and
	// marked.
	DryRun bool
	// Force skips the quarter-alignment check.
	Force bool
	// Override bypasses the decision maker with a manual action.
	Override *types.Action
}

// Controller wires the pipeline together for one system.
type Controller struct {
	settings *types.Settings
	db       storage.Database
	provider prices.Provider
	system   inverter.System
	ledger   *ledger.Ledger
	sessions *session.Tracker
	tierOpts tier.Options
	clock    Clock

	// OnRecord, when set, is called with every persisted record. The
	// dashboard uses it to push live updates.
	OnRecord func(types.IntervalRecord)
}

// New builds a controller. A nil clock means wall time.
func New(settings *types.Settings, db storage.Database, provider prices.Provider, system inverter.System, clock Clock) *Controller {
	if clock == nil {
		clock = time.Now
	}
	return &Controller{
		settings: settings,
		db:       db,
		provider: provider,
		system:   system,
		ledger:   ledger.New(db, settings),
		sessions: session.New(db, settings.Location()),
		clock:    clock,
	}
}

// Tick performs one quarter's pipeline. It returns the persisted record, or
// nil with one of the sentinel errors when no record was written. A non-nil
// record together with a non-nil error means a safety record was written
// for a failed execution.
func (c *Controller) Tick(ctx context.Context, opts TickOptions) (*types.IntervalRecord, error) {
	now := c.clock().In(c.settings.Location())

	if now.Minute()%15 != 0 && !opts.Force {
		return nil, fmt.Errorf("%w: %s", ErrMisaligned, now.Format("15:04:05"))
	}
	intervalStart := types.FloorToQuarter(now)

	// Idempotency: one record per (system, quarter), ever.
	if _, err := c.db.GetInterval(ctx, c.settings.SystemID, intervalStart); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTick, intervalStart.Format(time.RFC3339))
	} else if !errors.Is(err, storage.ErrIntervalNotFound) {
		return nil, fmt.Errorf("failed to check for existing interval: %w", err)
	}

	// Without prices there is nothing to decide against; no record at all.
	curve, tiering, err := c.dayTiering(ctx, now)
	if err != nil {
		return nil, err
	}
	currentTier, price, ok := tiering.At(now)
	if !ok {
		return nil, fmt.Errorf("%w: no slot covers %s", ErrNoPriceData, now.Format(time.RFC3339))
	}

	rec := types.IntervalRecord{
		SystemID:      c.settings.SystemID,
		IntervalStart: intervalStart,
		IntervalEnd:   intervalStart.Add(types.Quarter),
		Date:          intervalStart.In(c.settings.Location()).Format("2006-01-02"),
		Hour:          intervalStart.In(c.settings.Location()).Hour(),
		Price:         types.RoundPrice(price),
		PriceTier:     currentTier,
		DailyAvgPrice: types.RoundPrice(tiering.DailyAvg),
	}

	soc, flow, telemetryErr := c.fetchTelemetry(ctx)
	rec.SOCStart = types.RoundSOC(soc.SOC)
	rec.SolarKW = types.RoundPower(flow.PVKW)
	rec.LoadKW = types.RoundPower(flow.LoadKW)
	if flow.GridKW >= 0 {
		rec.GridImportKW = types.RoundPower(flow.GridKW)
	} else {
		rec.GridExportKW = types.RoundPower(-flow.GridKW)
	}

	var d types.Decision
	switch {
	case telemetryErr != nil:
		// Missing inputs never stop the ledger: hold the battery and say
		// why.
		d = types.Decision{
			Action:     types.ActionIdle,
			Confidence: types.ConfidenceLow,
			Reason:     "missing_input",
		}
		rec.DecisionSource = types.SourceSafety
		rec.DecisionFactors = map[string]string{
			types.FactorReason: "missing_input",
			types.FactorError:  telemetryErr.Error(),
		}
	case opts.Override != nil:
		d = c.overrideDecision(*opts.Override)
		rec.DecisionSource = types.SourceManual
		rec.DecisionFactors = map[string]string{
			types.FactorReason: "manual override",
		}
	default:
		d = decision.Decide(c.settings, decision.Inputs{
			Now:     now,
			Price:   price,
			Tier:    currentTier,
			Forward: forwardOf(curve, now),
			SOC:     soc,
			Flow:    flow,
		})
		rec.DecisionSource = types.SourceController
		rec.DecisionFactors = map[string]string{
			types.FactorReason: d.Reason,
			types.FactorRule:   d.Rule,
		}
		if d.Rule == decision.RuleStaleTelemetry {
			rec.DecisionSource = types.SourceSafety
		}
	}
	rec.Action = d.Action
	rec.PowerKW = types.RoundPower(d.PowerKW)
	rec.DecisionFactors[types.FactorIsDryRun] = strconv.FormatBool(opts.DryRun)

	if !opts.DryRun && telemetryErr == nil {
		// A final execution failure is recorded, not fatal: the decided
		// action stands in the ledger with executionSuccess=false.
		execErr := c.execute(ctx, rec.Action, rec.PowerKW)
		rec.DecisionFactors[types.FactorExecutionSuccess] = strconv.FormatBool(execErr == nil)
		if execErr != nil {
			rec.DecisionFactors[types.FactorError] = execErr.Error()
			log.Ctx(ctx).ErrorContext(ctx, "command execution failed",
				slog.String("action", string(rec.Action)),
				slog.Any("error", execErr),
			)
		}
	}

	// Session state follows the durable record: the transition is planned
	// first so the record carries its session ID, but nothing is persisted
	// until Append succeeds.
	transition, err := c.sessions.Plan(ctx, &rec)
	if err != nil {
		return nil, err
	}
	rec, err = c.ledger.Append(ctx, rec)
	if errors.Is(err, storage.ErrDuplicateInterval) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTick, intervalStart.Format(time.RFC3339))
	}
	if err != nil {
		return nil, err
	}
	if _, err := c.sessions.Commit(ctx, transition); err != nil {
		return nil, err
	}

	log.Ctx(ctx).InfoContext(ctx, "tick recorded",
		slog.String("systemID", rec.SystemID),
		slog.Time("intervalStart", rec.IntervalStart),
		slog.String("action", string(rec.Action)),
		slog.Float64("powerKW", rec.PowerKW),
		slog.Float64("price", rec.Price),
		slog.String("tier", string(rec.PriceTier)),
		slog.String("source", string(rec.DecisionSource)),
	)

	if c.OnRecord != nil {
		c.OnRecord(rec)
	}
	return &rec, nil
}

// dayTiering fetches today's curve and derives its tiering.
func (c *Controller) dayTiering(ctx context.Context, now time.Time) ([]types.PricePoint, *tier.Tiering, error) {
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	curve, err := c.provider.DayCurve(cctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoPriceData, err)
	}
	tiering, err := tier.New(curve, c.tierOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrNoPriceData, err)
	}
	return curve, tiering, nil
}

// fetchTelemetry reads SOC and flow with retries. On failure it returns the
// best SOC estimate it has (the latest persisted record) so the safety
// record still carries a plausible state.
func (c *Controller) fetchTelemetry(ctx context.Context) (types.BatterySOC, types.EnergyFlow, error) {
	var soc types.BatterySOC
	err := c.withRetries(ctx, "getBatterySoc", func(cctx context.Context) error {
		var err error
		soc, err = c.system.GetBatterySOC(cctx, c.settings.SystemID)
		return err
	})
	if err != nil {
		if latest, lerr := c.db.GetLatestInterval(ctx, c.settings.SystemID); lerr == nil && latest != nil {
			soc.SOC = latest.SOCStart
		}
		return soc, types.EnergyFlow{}, err
	}

	var flow types.EnergyFlow
	err = c.withRetries(ctx, "getEnergyFlow", func(cctx context.Context) error {
		var err error
		flow, err = c.system.GetEnergyFlow(cctx, c.settings.SystemID)
		return err
	})
	if err != nil {
		return soc, flow, err
	}
	return soc, flow, nil
}

// execute applies the mode with the same retry policy.
func (c *Controller) execute(ctx context.Context, action types.Action, powerKW float64) error {
	return c.withRetries(ctx, "setMode", func(cctx context.Context) error {
		return c.system.SetMode(cctx, c.settings.SystemID, action, powerKW)
	})
}

// withRetries runs fn with a per-call deadline, retrying transient failures
// with linear backoff. Fatal errors return immediately.
func (c *Controller) withRetries(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		err := fn(cctx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if !inverter.Retryable(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		log.Ctx(ctx).WarnContext(ctx, "retrying after transient failure",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, retryAttempts, lastErr)
}

// overrideDecision maps a manual action to a decision at the configured safe
// power.
func (c *Controller) overrideDecision(action types.Action) types.Decision {
	var power float64
	switch action {
	case types.ActionCharge:
		power = c.settings.SafeChargePowerKW
	case types.ActionDischarge:
		power = c.settings.SafeDischargePowerKW
	}
	return types.Decision{
		Action:     action,
		PowerKW:    power,
		Confidence: types.ConfidenceHigh,
		Reason:     "manual override",
	}
}

// forwardOf returns the curve from the slot containing now onward.
func forwardOf(curve []types.PricePoint, now time.Time) []types.PricePoint {
	for i, p := range curve {
		if p.Contains(now) || p.TSStart.After(now) {
			return curve[i:]
		}
	}
	return nil
}
