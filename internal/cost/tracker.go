// Package cost tracks cloud API spend against a monthly budget and flips the
// engine to free local providers when the budget runs out.
package cost

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

const (
	warningThreshold  = 0.8
	alertDedupeWindow = 24 * time.Hour
	trackTimeout      = 10 * time.Second
)

// Usage describes one billable provider call.
type Usage struct {
	Provider     string
	Operation    storage.CostOperation
	Tokens       int
	Model        string
	CollectionID *uuid.UUID
	Metadata     storage.Metadata
}

type usageStore interface {
	Insert(ctx context.Context, record *storage.CostRecord) error
	SpendSince(ctx context.Context, since time.Time) (float64, error)
	Breakdown(ctx context.Context, since time.Time) ([]*storage.CostBreakdownRow, error)
	DailyTotals(ctx context.Context, since time.Time) ([]*storage.DailySpendRow, error)
}

type alertStore interface {
	Insert(ctx context.Context, alert *storage.BudgetAlert) error
	Latest(ctx context.Context, alertType storage.AlertType, period string) (*storage.BudgetAlert, error)
	List(ctx context.Context, limit int) ([]*storage.BudgetAlert, error)
}

// TrackerConfig holds budget settings.
type TrackerConfig struct {
	MonthlyBudgetUSD float64
	AlertsEnabled    bool
}

// Tracker records API usage and enforces the monthly budget.
type Tracker struct {
	logger  *observability.Logger
	config  TrackerConfig
	usage   usageStore
	alerts  alertStore
	runtime *Runtime
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewTracker creates a new cost tracker.
func NewTracker(
	logger *observability.Logger,
	cfg TrackerConfig,
	usage usageStore,
	alerts alertStore,
	runtime *Runtime,
) *Tracker {
	return &Tracker{
		logger:  logger.WithComponent("cost"),
		config:  cfg,
		usage:   usage,
		alerts:  alerts,
		runtime: runtime,
		now:     time.Now,
	}
}

// Runtime returns the override set this tracker controls.
func (t *Tracker) Runtime() *Runtime {
	return t.runtime
}

// Track records a provider call without blocking the caller. The insert and
// budget check run on a background goroutine with their own deadline.
func (t *Tracker) Track(ctx context.Context, u Usage) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), trackTimeout)
		defer cancel()
		t.record(bg, u)
	}()
}

// Wait blocks until all queued records are flushed. Intended for shutdown
// and tests.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) record(ctx context.Context, u Usage) {
	amount, priced := Price(u.Provider, u.Model, u.Tokens)
	if !priced {
		t.logger.Warn().
			Str("provider", u.Provider).
			Str("model", u.Model).
			Msg("No pricing entry, recording zero cost")
	}

	record := &storage.CostRecord{
		Provider:     u.Provider,
		Operation:    u.Operation,
		TokensUsed:   u.Tokens,
		CostUSD:      amount,
		Model:        u.Model,
		CollectionID: u.CollectionID,
		Metadata:     u.Metadata,
	}
	if err := t.usage.Insert(ctx, record); err != nil {
		t.logger.Error().Err(err).Str("provider", u.Provider).Msg("Failed to record API usage")
		return
	}

	if t.config.AlertsEnabled && t.config.MonthlyBudgetUSD > 0 {
		t.checkBudget(ctx)
	}
}

func (t *Tracker) checkBudget(ctx context.Context) {
	spend, err := t.usage.SpendSince(ctx, t.monthStart())
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to compute monthly spend")
		return
	}

	fraction := spend / t.config.MonthlyBudgetUSD
	switch {
	case fraction >= 1.0:
		// Fallback routing is idempotent and must engage even when the
		// alert row itself is deduplicated.
		if !t.runtime.FallbackActive() {
			t.logger.Warn().
				Float64("spend_usd", spend).
				Float64("budget_usd", t.config.MonthlyBudgetUSD).
				Msg("Monthly budget exhausted, switching to local providers")
		}
		t.runtime.EnableFallback()
		t.raiseAlert(ctx, storage.AlertTypeLimitReached, t.config.MonthlyBudgetUSD, spend)
	case fraction >= warningThreshold:
		t.raiseAlert(ctx, storage.AlertTypeWarning, t.config.MonthlyBudgetUSD*warningThreshold, spend)
	}
}

func (t *Tracker) raiseAlert(ctx context.Context, alertType storage.AlertType, threshold, spend float64) {
	last, err := t.alerts.Latest(ctx, alertType, "monthly")
	if err == nil && t.now().Sub(last.TriggeredAt) < alertDedupeWindow {
		return
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		t.logger.Error().Err(err).Msg("Failed to look up previous alert")
		return
	}

	alert := &storage.BudgetAlert{
		AlertType:       alertType,
		Period:          "monthly",
		ThresholdUSD:    threshold,
		CurrentSpendUSD: spend,
		TriggeredAt:     t.now(),
	}
	if err := t.alerts.Insert(ctx, alert); err != nil {
		t.logger.Error().Err(err).Msg("Failed to record budget alert")
		return
	}
	t.logger.Warn().
		Str("alert_type", string(alertType)).
		Float64("threshold_usd", threshold).
		Float64("spend_usd", spend).
		Msg("Budget alert triggered")
}

func (t *Tracker) monthStart() time.Time {
	now := t.now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Summary is the budget overview returned by the costs API.
type Summary struct {
	MonthlyBudgetUSD float64                     `json:"monthly_budget_usd"`
	CurrentSpendUSD  float64                     `json:"current_spend_usd"`
	RemainingUSD     float64                     `json:"remaining_usd"`
	PercentUsed      float64                     `json:"percent_used"`
	FallbackActive   bool                        `json:"fallback_active"`
	Breakdown        []*storage.CostBreakdownRow `json:"breakdown"`
}

// Summary aggregates the current month's spend against the budget.
func (t *Tracker) Summary(ctx context.Context) (*Summary, error) {
	since := t.monthStart()
	spend, err := t.usage.SpendSince(ctx, since)
	if err != nil {
		return nil, err
	}
	breakdown, err := t.usage.Breakdown(ctx, since)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		MonthlyBudgetUSD: t.config.MonthlyBudgetUSD,
		CurrentSpendUSD:  spend,
		RemainingUSD:     t.config.MonthlyBudgetUSD - spend,
		FallbackActive:   t.runtime.FallbackActive(),
		Breakdown:        breakdown,
	}
	if summary.RemainingUSD < 0 {
		summary.RemainingUSD = 0
	}
	if t.config.MonthlyBudgetUSD > 0 {
		summary.PercentUsed = spend / t.config.MonthlyBudgetUSD * 100
	}
	return summary, nil
}

// History returns per-day spend for the trailing number of days.
func (t *Tracker) History(ctx context.Context, days int) ([]*storage.DailySpendRow, error) {
	if days <= 0 {
		days = 30
	}
	since := t.now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)
	return t.usage.DailyTotals(ctx, since)
}

// HistoryRange returns per-day spend between start and end inclusive. A zero
// start defaults to 30 days ago, a zero end leaves the range open.
func (t *Tracker) HistoryRange(ctx context.Context, start, end time.Time) ([]*storage.DailySpendRow, error) {
	if start.IsZero() {
		start = t.now().UTC().AddDate(0, 0, -30)
	}
	rows, err := t.usage.DailyTotals(ctx, start.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		return rows, nil
	}
	filtered := rows[:0]
	for _, row := range rows {
		if !row.Date.After(end) {
			filtered = append(filtered, row)
		}
	}
	return filtered, nil
}

// RecentAlerts returns the most recent budget alerts.
func (t *Tracker) RecentAlerts(ctx context.Context, limit int) ([]*storage.BudgetAlert, error) {
	if limit <= 0 {
		limit = 20
	}
	return t.alerts.List(ctx, limit)
}
