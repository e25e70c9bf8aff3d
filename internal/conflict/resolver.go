// Package conflict decides whether a booking candidate fits a calendar timeline.
package conflict

import (
	"github.com/jnst/booking-outbox/internal/model"
)

// Decision is the outcome of a conflict check.
type Decision struct {
	Kind model.ConflictKind
	// BookingID is the colliding booking, empty for NoConflict.
	BookingID string
	// Interval is the colliding booking's billable range.
	Interval model.TimeRange
	// Effective is the candidate's effective range.
	Effective model.TimeRange
}

// Accepted reports whether the candidate may be inserted.
func (d Decision) Accepted() bool {
	return d.Kind == model.NoConflict
}

// Err converts a rejecting decision into a *model.ConflictError.
func (d Decision) Err() error {
	if d.Accepted() {
		return nil
	}

	return &model.ConflictError{Kind: d.Kind, BookingID: d.BookingID, Interval: d.Interval}
}

// Check compares candidate against the existing effective intervals of its calendar.
// service must be the definition named by candidate.ServiceID. When several bookings collide,
// the most severe kind wins and ties go to the earliest existing interval.
func Check(candidate *model.BookingCandidate, service *model.ServiceDefinition, existing []model.EffectiveInterval) (Decision, error) {
	if err := candidate.Validate(); err != nil {
		return Decision{}, err
	}

	if service == nil || service.ID != candidate.ServiceID {
		return Decision{}, &model.InvalidCandidateError{Reason: "unknown service " + candidate.ServiceID}
	}

	billable := candidate.Billable()
	effective := service.EffectiveRange(billable)
	decision := Decision{Kind: model.NoConflict, Effective: effective}

	for _, other := range existing {
		if !effective.Overlaps(other.Effective) {
			continue
		}

		kind := Classify(billable, other.Billable)
		if kind.MoreSevere(decision.Kind) ||
			(kind == decision.Kind && other.Billable.Start.Before(decision.Interval.Start)) {
			decision.Kind = kind
			decision.BookingID = other.BookingID
			decision.Interval = other.Billable
		}
	}

	return decision, nil
}

// Classify names the relation between two billable ranges whose effective ranges overlap.
func Classify(a, b model.TimeRange) model.ConflictKind {
	switch {
	case !a.Overlaps(b):
		return model.BufferOverlap
	case a.Equal(b):
		return model.ExactOverlap
	case a.Contains(b) || b.Contains(a):
		return model.ContainedOverlap
	default:
		return model.PartialOverlap
	}
}
