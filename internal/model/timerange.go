package model

import "time"

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeRange creates a TimeRange normalized to UTC.
func NewTimeRange(start, end time.Time) TimeRange {
	return TimeRange{Start: start.UTC(), End: end.UTC()}
}

// Valid reports whether the range has a positive length.
func (r TimeRange) Valid() bool {
	return r.Start.Before(r.End)
}

// Overlaps reports whether r and o share at least one instant.
// Ranges that only touch at an endpoint do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// Contains reports whether o lies entirely inside r.
func (r TimeRange) Contains(o TimeRange) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

// Equal reports whether both ranges cover the same instants.
func (r TimeRange) Equal(o TimeRange) bool {
	return r.Start.Equal(o.Start) && r.End.Equal(o.End)
}

// Buffers are the preparation and cleanup times a service reserves around its billable time.
type Buffers struct {
	Before time.Duration `json:"before"`
	After  time.Duration `json:"after"`
}

// Expand returns r widened by the buffers.
func (b Buffers) Expand(r TimeRange) TimeRange {
	return TimeRange{Start: r.Start.Add(-b.Before), End: r.End.Add(b.After)}
}
