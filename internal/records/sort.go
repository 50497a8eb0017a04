package records

import (
	"sort"
	"strconv"

	"github.com/enku/gbp/internal/gbp"
)

// sortForMachine orders records by Built descending (nil last), then
// Submitted descending, matching RecordDB.ForMachine's contract.
func sortForMachine(rs []gbp.BuildRecord) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if (a.Built == nil) != (b.Built == nil) {
			return a.Built != nil // non-nil sorts first
		}
		if a.Built != nil && b.Built != nil && !a.Built.Equal(*b.Built) {
			return a.Built.After(*b.Built)
		}
		switch {
		case a.Submitted == nil && b.Submitted == nil:
			return false
		case a.Submitted == nil:
			return false
		case b.Submitted == nil:
			return true
		default:
			return a.Submitted.After(*b.Submitted)
		}
	})
}

// pickLatest implements RecordDB.Latest's selection rule over an
// already-filtered (machine, completedOnly) slice: the record with the
// greatest Built if any record has one, otherwise the greatest build id
// (parsed as an integer when possible, else compared lexicographically).
func pickLatest(rs []gbp.BuildRecord) *gbp.BuildRecord {
	if len(rs) == 0 {
		return nil
	}

	hasBuilt := false
	for _, r := range rs {
		if r.Built != nil {
			hasBuilt = true
			break
		}
	}

	best := rs[0]
	for _, r := range rs[1:] {
		if hasBuilt {
			if r.Built == nil {
				continue
			}
			if best.Built == nil || r.Built.After(*best.Built) {
				best = r
			}
			continue
		}
		if buildIDLess(best.ID, r.ID) {
			best = r
		}
	}
	return &best
}

// buildIDLess compares two build ids numerically when both parse as
// integers, falling back to a lexicographic string comparison otherwise.
func buildIDLess(a, b string) bool {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return an < bn
	}
	return a < b
}
