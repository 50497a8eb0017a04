package publisher

import (
	"fmt"
	"sort"

	"github.com/enku/gbp/internal/gbp"
)

// MachineInfo summarises one machine's build history. Its fields are
// computed eagerly at construction time -- no lazy/memoised getters --
// per the redesign flag favouring explicit, inspectable state over
// on-demand recomputation hidden behind accessor methods.
type MachineInfo struct {
	Machine        string
	Builds         []gbp.BuildRecord
	BuildCount     int
	LatestBuild    *gbp.BuildRecord
	PublishedBuild *gbp.Build
	Tags           []string
}

// newMachineInfo computes a MachineInfo for machine from its records and
// the current Storage state.
func (p *Publisher) newMachineInfo(machine string) (MachineInfo, error) {
	builds, err := p.DB.ForMachine(machine)
	if err != nil {
		return MachineInfo{}, fmt.Errorf("publisher: machine info for %s: %w", machine, err)
	}

	info := MachineInfo{
		Machine:    machine,
		Builds:     builds,
		BuildCount: len(builds),
	}

	for i := range builds {
		if builds[i].Completed != nil {
			info.LatestBuild = &builds[i]
			break
		}
	}

	for i := range builds {
		if p.Store.Published(builds[i].Build) {
			b := builds[i].Build
			info.PublishedBuild = &b
			break
		}
	}

	tagSet := make(map[string]bool)
	for _, r := range builds {
		tags, err := p.Store.GetTags(r.Build, false)
		if err != nil {
			continue
		}
		for _, t := range tags {
			tagSet[t] = true
		}
	}
	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	info.Tags = tags

	return info, nil
}

// Machines aggregates MachineInfo for every machine RecordDB knows about,
// optionally filtered to a name set.
func (p *Publisher) Machines(names map[string]bool) ([]MachineInfo, error) {
	all, err := p.DB.ListMachines()
	if err != nil {
		return nil, fmt.Errorf("publisher: machines: %w", err)
	}

	infos := make([]MachineInfo, 0, len(all))
	for _, m := range all {
		if names != nil && !names[m] {
			continue
		}
		info, err := p.newMachineInfo(m)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}
