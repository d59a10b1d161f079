package services

import (
	"context"
	"errors"
	"time"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultPollMaxAttempts = 60
	defaultSweepInterval   = time.Minute
)

// ReconciliationPoller drives the polling half of payment convergence: a
// bounded per-order watch started when an invoice is issued, plus a periodic
// sweep over everything still pending in case webhooks and watches both
// missed a settlement.
type ReconciliationPoller struct {
	reconciliation ReconciliationService
	interval       time.Duration
	maxAttempts    int
	sweepInterval  time.Duration
	logger         func(ctx context.Context, event string, fields map[string]any)
}

// ReconciliationPollerDeps wires the dependencies required by the poller.
type ReconciliationPollerDeps struct {
	Reconciliation ReconciliationService
	// Interval is the delay between attempts of one order watch.
	Interval time.Duration
	// MaxAttempts bounds one order watch before it gives up and leaves the
	// invoice to the sweep.
	MaxAttempts int
	// SweepInterval is the cadence of the catch-all pending sweep.
	SweepInterval time.Duration
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewReconciliationPoller constructs a ReconciliationPoller validating required dependencies.
func NewReconciliationPoller(deps ReconciliationPollerDeps) (*ReconciliationPoller, error) {
	if deps.Reconciliation == nil {
		return nil, errors.New("reconciliation poller: reconciliation service is required")
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultPollMaxAttempts
	}
	sweepInterval := deps.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ReconciliationPoller{
		reconciliation: deps.Reconciliation,
		interval:       interval,
		maxAttempts:    maxAttempts,
		sweepInterval:  sweepInterval,
		logger:         logger,
	}, nil
}

// WatchOrder polls one order's invoice until it settles, the attempt budget
// runs out, or the context is cancelled. Intended to run in its own goroutine
// right after invoice issuance as the webhook fallback.
func (p *ReconciliationPoller) WatchOrder(ctx context.Context, orderID string) {
	if p == nil || p.reconciliation == nil {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		view, err := p.reconciliation.PollOrderStatus(ctx, orderID)
		if err != nil {
			if errors.Is(err, ErrReconciliationOrderNotFound) || errors.Is(err, ErrReconciliationNoInvoice) {
				p.logger(ctx, "poller.watch_abandoned", map[string]any{
					"order_id": orderID,
					"error":    err.Error(),
				})
				return
			}
			p.logger(ctx, "poller.watch_attempt_failed", map[string]any{
				"order_id": orderID,
				"attempt":  attempt,
				"error":    err.Error(),
			})
			continue
		}
		if view.Status.Terminal() {
			p.logger(ctx, "poller.watch_settled", map[string]any{
				"order_id": orderID,
				"status":   string(view.Status),
				"attempt":  attempt,
			})
			return
		}
	}
	p.logger(ctx, "poller.watch_exhausted", map[string]any{
		"order_id": orderID,
		"attempts": p.maxAttempts,
	})
}

// Run executes the pending sweep on a fixed cadence until the context is
// cancelled. It always returns the context error.
func (p *ReconciliationPoller) Run(ctx context.Context) error {
	if p == nil || p.reconciliation == nil {
		return errors.New("reconciliation poller not initialised")
	}
	ticker := time.NewTicker(p.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		summary, err := p.reconciliation.PollPending(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger(ctx, "poller.sweep_failed", map[string]any{
				"error": err.Error(),
			})
			continue
		}
		if summary.Scanned > 0 {
			p.logger(ctx, "poller.sweep_completed", map[string]any{
				"scanned": summary.Scanned,
				"applied": summary.Applied,
				"failed":  summary.Failed,
			})
		}
	}
}
