// Package worker runs the background dispatch loop.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/notify"
)

// maxRounds bounds how many back-to-back passes one tick may run while the backlog keeps yielding events.
const maxRounds = 10

// Processor runs one dispatch pass.
type Processor interface {
	ProcessPendingEvents(ctx context.Context, force bool) (*model.DispatchSummary, error)
}

// HoldExpirer cancels expired pending bookings.
type HoldExpirer interface {
	ExpirePendingHolds(ctx context.Context) (int, error)
}

// Dispatcher is the single scheduled worker of a process. It polls on a ticker and can be
// woken early; a force request makes the next pass ignore next_attempt_at.
type Dispatcher struct {
	processor Processor
	holds     HoldExpirer
	interval  time.Duration

	wake  chan struct{}
	force atomic.Bool
}

// NewDispatcher creates a dispatcher. holds may be nil.
func NewDispatcher(processor Processor, holds HoldExpirer, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		processor: processor,
		holds:     holds,
		interval:  interval,
		wake:      make(chan struct{}, 1),
	}
}

// Publish implements notify.Publisher so in-process producers can wake the loop directly.
func (d *Dispatcher) Publish(_ context.Context, sig notify.Signal) error {
	if sig.Kind == notify.KindForce {
		d.force.Store(true)
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}

	return nil
}

// Listen feeds signals from sub into the loop until ctx is cancelled.
func (d *Dispatcher) Listen(ctx context.Context, sub notify.Subscriber) error {
	return sub.Listen(ctx, func(ctx context.Context, sig notify.Signal) {
		_ = d.Publish(ctx, sig)
	})
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	slog.Info("dispatcher started", slog.Duration("poll_interval", d.interval))

	d.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("dispatcher stopped")
			return nil
		case <-ticker.C:
			d.pass(ctx)
		case <-d.wake:
			d.pass(ctx)
		}
	}
}

func (d *Dispatcher) pass(ctx context.Context) {
	if d.holds != nil {
		if _, err := d.holds.ExpirePendingHolds(ctx); err != nil {
			slog.Error("error expiring pending holds", slog.String("error", err.Error()))
		}
	}

	force := d.force.Swap(false)

	for round := 0; round < maxRounds && ctx.Err() == nil; round++ {
		summary, err := d.processor.ProcessPendingEvents(ctx, force)
		if err != nil {
			slog.Error("error processing outbox events", slog.String("error", err.Error()))
			return
		}

		if summary.Claimed == 0 {
			return
		}

		// Only the first round may ignore backoff, otherwise retrying events would be hammered.
		force = false
	}
}
