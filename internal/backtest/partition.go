package backtest

import (
	"fmt"
	"time"

	"atlasforge/internal/domain"
)

// Partition produces the in-sample and out-of-sample masks for a date
// series under the given policy. It is a pure function: the two masks are
// exact complements over the full index range; warm-up exclusion is applied
// downstream by the metrics kernel, so both partitions exclude the same
// warm-up bars.
func Partition(dates []time.Time, policy domain.SplitPolicy, oosStart time.Time) (isMask, oosMask []bool, err error) {
	n := len(dates)
	isMask = make([]bool, n)
	oosMask = make([]bool, n)

	switch policy {
	case domain.SplitEvenOddMonth:
		for i, d := range dates {
			in := int(d.Month())%2 == 1
			isMask[i] = in
			oosMask[i] = !in
		}
	case domain.SplitEvenOddYear:
		for i, d := range dates {
			in := d.Year()%2 == 1
			isMask[i] = in
			oosMask[i] = !in
		}
	case domain.SplitChronological:
		if oosStart.IsZero() {
			return nil, nil, fmt.Errorf("chronological split requires a cutoff date")
		}
		for i, d := range dates {
			in := d.Before(oosStart)
			isMask[i] = in
			oosMask[i] = !in
		}
	default:
		return nil, nil, fmt.Errorf("unknown split policy %q", policy)
	}
	return isMask, oosMask, nil
}
