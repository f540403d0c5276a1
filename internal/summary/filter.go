package summary

import "github.com/amperelab/cellkit/internal/cell"

// Predicate decides whether a sample survives a Filter.
type Predicate func(cell.Sample) bool

// ByStepType keeps samples whose step type is in the given set.
func ByStepType(types ...cell.StepType) Predicate {
	set := make(map[cell.StepType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(s cell.Sample) bool { return set[s.StepType] }
}

// ByCycleRange keeps samples with cycle index in [lo, hi].
func ByCycleRange(lo, hi int) Predicate {
	return func(s cell.Sample) bool { return s.CycleIndex >= lo && s.CycleIndex <= hi }
}

// And combines predicates conjunctively.
func And(ps ...Predicate) Predicate {
	return func(s cell.Sample) bool {
		for _, p := range ps {
			if !p(s) {
				return false
			}
		}
		return true
	}
}

// Filter returns a new dataset holding the samples p keeps, in their
// original order. A subset of an ordered dataset keeps its ordering
// invariants, so the result is valid input for Summarize and the store.
func Filter(ds *cell.Dataset, p Predicate) *cell.Dataset {
	out := &cell.Dataset{Meta: ds.Meta}
	for _, s := range ds.Samples {
		if p(s) {
			out.Samples = append(out.Samples, s)
		}
	}
	return out
}
