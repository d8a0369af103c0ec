package schedule

// Interval is a half-open [Start, End) range of wall-clock minutes.
type Interval struct {
	Start Clock
	End   Clock
}

// Overlaps uses half-open semantics: back-to-back intervals do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

// OverlapsAny reports whether candidate overlaps any of existing.
func OverlapsAny(candidate Interval, existing []Interval) bool {
	for _, e := range existing {
		if candidate.Overlaps(e) {
			return true
		}
	}
	return false
}
