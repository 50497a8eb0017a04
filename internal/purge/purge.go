// Package purge implements the time-bucketed retention algorithm used by
// Publisher.Purge: given a set of items and a key function returning a
// timestamp, it computes which items to discard, keeping a thinning
// schedule of recent-daily, recent-weekly, recent-monthly and all-time
// yearly "latest in bucket" survivors. The algorithm is pure: given the
// same input, end and start it always returns the same answer, which
// keeps it testable against a frozen clock the way internal/retry.Policy
// is tested against fixed durations rather than a live timer.
package purge

import (
	"fmt"
	"sort"
	"time"
)

// Apply returns the subset of items NOT in the retention keep-set,
// ordered by key ascending. keyFn extracts the timestamp used for
// bucketing; end anchors "now" (pass time.Now().UTC() in production,
// a fixed time in tests); start, if non-nil, exempts everything strictly
// before it from deletion regardless of bucket membership.
func Apply[T any](items []T, keyFn func(T) time.Time, end time.Time, start *time.Time) []T {
	end = end.UTC()
	keep := make(map[int]bool, len(items))

	today := startOfDay(end)
	yesterday := today.AddDate(0, 0, -1)

	dailyWindowStart := today.AddDate(0, 0, -6)
	weeklyWindowStart := today.AddDate(0, -1, 0)
	monthlyWindowStart := today.AddDate(-1, 0, 0)

	// Rule 1: everything at or after the start of yesterday.
	for i, it := range items {
		if !keyFn(it).UTC().Before(yesterday) {
			keep[i] = true
		}
	}

	// Rule 2: latest per day, over the last 7 days.
	keepLatestPerBucket(items, keyFn, keep, dailyWindowStart, today.AddDate(0, 0, 1), dayBucket)

	// Rule 3: latest per calendar week, over the previous month.
	keepLatestPerBucket(items, keyFn, keep, weeklyWindowStart, dailyWindowStart, weekBucket)

	// Rule 4: latest per calendar month, over the previous 365 days.
	keepLatestPerBucket(items, keyFn, keep, monthlyWindowStart, weeklyWindowStart, monthBucket)

	// Rule 5: latest per calendar year, across the entire input.
	keepLatestPerBucket(items, keyFn, keep, time.Time{}, end.AddDate(1, 0, 0), yearBucket)

	// Rule 6: everything strictly before start, if given.
	if start != nil {
		s := start.UTC()
		for i, it := range items {
			if keyFn(it).UTC().Before(s) {
				keep[i] = true
			}
		}
	}

	var discard []int
	for i := range items {
		if !keep[i] {
			discard = append(discard, i)
		}
	}
	sort.SliceStable(discard, func(a, b int) bool {
		return keyFn(items[discard[a]]).Before(keyFn(items[discard[b]]))
	})

	out := make([]T, 0, len(discard))
	for _, i := range discard {
		out = append(out, items[i])
	}
	return out
}

// keepLatestPerBucket marks, within [windowStart, windowEnd), the single
// latest item per bucket key as kept. Ties (equal timestamps) are broken
// by preferring the item with the larger index -- i.e. the one that
// appears later in the stable input order.
func keepLatestPerBucket[T any](items []T, keyFn func(T) time.Time, keep map[int]bool, windowStart, windowEnd time.Time, bucketFn func(time.Time) string) {
	best := make(map[string]int)
	for i, it := range items {
		ts := keyFn(it).UTC()
		if ts.Before(windowStart) || !ts.Before(windowEnd) {
			continue
		}
		bucket := bucketFn(ts)
		cur, ok := best[bucket]
		if !ok {
			best[bucket] = i
			continue
		}
		curTS := keyFn(items[cur]).UTC()
		if ts.After(curTS) || (ts.Equal(curTS) && i > cur) {
			best[bucket] = i
		}
	}
	for _, i := range best {
		keep[i] = true
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayBucket(t time.Time) string {
	return t.Format("2006-01-02")
}

func weekBucket(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func monthBucket(t time.Time) string {
	return t.Format("2006-01")
}

func yearBucket(t time.Time) string {
	return t.Format("2006")
}
