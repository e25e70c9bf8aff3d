// Package notify carries dispatcher wake-up signals between processes.
package notify

import (
	"context"
	"log/slog"
)

// Kind distinguishes a plain wake-up from an operator request to ignore backoff.
type Kind string

const (
	// KindMutation follows a committed booking mutation.
	KindMutation Kind = "mutation"
	// KindForce asks the dispatcher to deliver due and not-yet-due pending events now.
	KindForce Kind = "force"
)

// Signal is a hint. Losing one only delays delivery until the next poll.
type Signal struct {
	Kind       Kind
	CalendarID string
}

// Publisher sends signals to the dispatcher.
type Publisher interface {
	Publish(ctx context.Context, sig Signal) error
}

// Handler reacts to a received signal.
type Handler func(ctx context.Context, sig Signal)

// Subscriber delivers signals to h until ctx is cancelled.
type Subscriber interface {
	Listen(ctx context.Context, h Handler) error
}

// Nop discards signals.
type Nop struct{}

func (Nop) Publish(context.Context, Signal) error { return nil }

// Active reports whether p forwards signals to at least one listener.
func Active(p Publisher) bool {
	switch v := p.(type) {
	case nil, Nop, *Nop:
		return false
	case Fanout:
		return len(v) > 0
	case *Fanout:
		return v != nil && len(*v) > 0
	}

	return true
}

// Fanout publishes to every publisher and logs failures instead of returning them,
// since a lost signal is recovered by polling.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, sig Signal) error {
	for _, p := range f {
		if err := p.Publish(ctx, sig); err != nil {
			slog.Warn("failed to publish dispatcher signal",
				slog.String("kind", string(sig.Kind)),
				slog.String("calendar_id", sig.CalendarID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}
