package model

// ConflictKind classifies how a candidate collides with an existing booking.
type ConflictKind string

const (
	// NoConflict means the candidate fits the calendar.
	NoConflict ConflictKind = "none"
	// ExactOverlap means both billable ranges are identical.
	ExactOverlap ConflictKind = "exact_overlap"
	// ContainedOverlap means one billable range lies fully inside the other.
	ContainedOverlap ConflictKind = "contained_overlap"
	// PartialOverlap means the billable ranges intersect without containment.
	PartialOverlap ConflictKind = "partial_overlap"
	// BufferOverlap means only the preparation/cleanup buffers collide.
	BufferOverlap ConflictKind = "buffer_overlap"
)

// severity orders conflict kinds; higher is more severe.
func (k ConflictKind) severity() int {
	switch k {
	case ExactOverlap:
		return 4
	case ContainedOverlap:
		return 3
	case PartialOverlap:
		return 2
	case BufferOverlap:
		return 1
	default:
		return 0
	}
}

// MoreSevere reports whether k should be reported in preference to o.
func (k ConflictKind) MoreSevere(o ConflictKind) bool {
	return k.severity() > o.severity()
}
