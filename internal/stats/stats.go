// Package stats computes dashboard-facing aggregate queries over Storage
// and RecordDB (no new persistence), plus the integrity checks that
// compare the two against each other.
package stats

import (
	"fmt"
	"sort"
	"time"

	"github.com/enku/gbp/internal/gbp"
	"github.com/enku/gbp/internal/records"
	"github.com/enku/gbp/internal/storage"
)

// Collector computes cacheable aggregate stats for one machine. It holds
// no state of its own beyond its Storage/RecordDB references -- callers
// that want caching wrap a Collector themselves.
type Collector struct {
	DB    records.DB
	Store *storage.Storage
}

// PackageCount returns the number of packages in machine's latest pulled
// build, or 0 if the machine has no completed build.
func (c *Collector) PackageCount(machine string) (int, error) {
	latest, err := c.DB.Latest(machine, true)
	if err != nil {
		return 0, fmt.Errorf("stats: package count for %s: %w", machine, err)
	}
	if latest == nil {
		return 0, nil
	}
	pkgs, err := c.Store.GetPackages(latest.Build)
	if err != nil {
		return 0, fmt.Errorf("stats: package count for %s: %w", machine, err)
	}
	return len(pkgs), nil
}

// BuildPackages returns the packages recorded for a specific build.
func (c *Collector) BuildPackages(build gbp.Build) ([]gbp.Package, error) {
	pkgs, err := c.Store.GetPackages(build)
	if err != nil {
		return nil, fmt.Errorf("stats: build packages for %s: %w", build, err)
	}
	return pkgs, nil
}

// LatestBuild returns machine's most recent record regardless of
// completion state, or nil if there are none.
func (c *Collector) LatestBuild(machine string) (*gbp.BuildRecord, error) {
	return c.DB.Latest(machine, false)
}

// LatestPublished returns the build currently resolved by machine's
// published (empty) tag, or nil if nothing is published.
func (c *Collector) LatestPublished(machine string) (*gbp.Build, error) {
	build, err := c.Store.ResolveTag(machine, gbp.PublishedTag)
	if storage.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stats: latest published for %s: %w", machine, err)
	}
	return &build, nil
}

// RecentPackages returns up to n packages from machine's latest pulled
// build, most recently built first.
func (c *Collector) RecentPackages(machine string, n int) ([]gbp.Package, error) {
	latest, err := c.DB.Latest(machine, true)
	if err != nil {
		return nil, fmt.Errorf("stats: recent packages for %s: %w", machine, err)
	}
	if latest == nil {
		return nil, nil
	}
	pkgs, err := c.Store.GetPackages(latest.Build)
	if err != nil {
		return nil, fmt.Errorf("stats: recent packages for %s: %w", machine, err)
	}
	sort.SliceStable(pkgs, func(i, j int) bool { return pkgs[i].BuildTime > pkgs[j].BuildTime })
	if n >= 0 && len(pkgs) > n {
		pkgs = pkgs[:n]
	}
	return pkgs, nil
}

// TotalPackageSize sums the Size field across machine's latest pulled
// build's packages.
func (c *Collector) TotalPackageSize(machine string) (int64, error) {
	pkgs, err := c.BuildPackagesForLatest(machine)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range pkgs {
		total += p.Size
	}
	return total, nil
}

// BuildPackagesForLatest is a helper shared by TotalPackageSize and
// callers that need the latest pulled build's package list directly.
func (c *Collector) BuildPackagesForLatest(machine string) ([]gbp.Package, error) {
	latest, err := c.DB.Latest(machine, true)
	if err != nil {
		return nil, fmt.Errorf("stats: latest pulled build for %s: %w", machine, err)
	}
	if latest == nil {
		return nil, nil
	}
	return c.Store.GetPackages(latest.Build)
}

// BuildsByDay buckets machine's records by the UTC calendar day of their
// Submitted timestamp, returning a count per day.
func (c *Collector) BuildsByDay(machine string) (map[string]int, error) {
	rows, err := c.DB.ForMachine(machine)
	if err != nil {
		return nil, fmt.Errorf("stats: builds by day for %s: %w", machine, err)
	}
	out := make(map[string]int)
	for _, r := range rows {
		if r.Submitted == nil {
			continue
		}
		out[dayKey(*r.Submitted)]++
	}
	return out, nil
}

// PackagesByDay buckets package counts, across every completed build for
// machine, by the UTC calendar day of each build's Built timestamp.
func (c *Collector) PackagesByDay(machine string) (map[string]int, error) {
	rows, err := c.DB.ForMachine(machine)
	if err != nil {
		return nil, fmt.Errorf("stats: packages by day for %s: %w", machine, err)
	}
	out := make(map[string]int)
	for _, r := range rows {
		if r.Completed == nil || r.Built == nil {
			continue
		}
		pkgs, err := c.Store.GetPackages(r.Build)
		if err != nil {
			continue
		}
		out[dayKey(*r.Built)] += len(pkgs)
	}
	return out, nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
