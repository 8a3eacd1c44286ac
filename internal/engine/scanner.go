package engine

import (
	"sort"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// FindEligible returns the ids of positions eligible at the given height,
// sorted by id. The scan holds no state between calls and the ordering is a
// pure function of the input set, so a sweep can be recomputed from scratch
// at every height and retry behaviour stays reproducible.
//
// Records that fail the consistency check are returned separately so the
// caller can surface them; they are never silently treated as ineligible.
func FindEligible(positions []domain.Position, currentHeight uint64) (eligible []string, corrupt []string) {
	for _, p := range positions {
		ok, err := IsEligible(p, currentHeight)
		if err != nil {
			corrupt = append(corrupt, p.ID)
			continue
		}
		if ok {
			eligible = append(eligible, p.ID)
		}
	}
	sort.Strings(eligible)
	sort.Strings(corrupt)
	return eligible, corrupt
}
