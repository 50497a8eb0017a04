package records

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/enku/gbp/internal/gbp"
)

// Memory is an in-memory RecordDB, guarded by a single mutex -- the same
// discipline the teacher's MockStore used for its map-backed ObjectStore.
// Intended for tests and for small single-process deployments where
// durability across restarts is not required.
type Memory struct {
	mu      sync.Mutex
	records map[gbp.Build]gbp.BuildRecord
}

// NewMemory constructs an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{records: make(map[gbp.Build]gbp.BuildRecord)}
}

func (m *Memory) Save(r gbp.BuildRecord) (gbp.BuildRecord, error) {
	if err := r.Build.Validate(); err != nil {
		return gbp.BuildRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.Submitted == nil {
		now := time.Now().UTC()
		r.Submitted = &now
	}
	m.records[r.Build] = r
	return r, nil
}

func (m *Memory) Get(build gbp.Build) (gbp.BuildRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[build]
	if !ok {
		return gbp.BuildRecord{}, ErrRecordNotFound
	}
	return r, nil
}

func (m *Memory) Exists(build gbp.Build) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[build]
	return ok
}

func (m *Memory) Delete(build gbp.Build) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, build)
	return nil
}

func (m *Memory) ForMachine(machine string) ([]gbp.BuildRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []gbp.BuildRecord
	for _, r := range m.records {
		if r.Machine == machine {
			out = append(out, r)
		}
	}
	sortForMachine(out)
	return out, nil
}

func (m *Memory) Previous(r gbp.BuildRecord, completedOnly bool) (*gbp.BuildRecord, error) {
	rows, err := m.ForMachine(r.Machine)
	if err != nil {
		return nil, err
	}
	var best *gbp.BuildRecord
	for i := range rows {
		row := rows[i]
		if completedOnly && row.Completed == nil {
			continue
		}
		if row.Built == nil {
			continue
		}
		// The r.Built filter only applies once r itself has a Built
		// timestamp; a freshly-saved, not-yet-built record (the Pull
		// dedup path) has none, so every completed/built record for
		// the machine is a candidate and the latest wins.
		if r.Built != nil && !row.Built.Before(*r.Built) {
			continue
		}
		if best == nil || row.Built.After(*best.Built) {
			row := row
			best = &row
		}
	}
	return best, nil
}

func (m *Memory) Next(r gbp.BuildRecord, completedOnly bool) (*gbp.BuildRecord, error) {
	rows, err := m.ForMachine(r.Machine)
	if err != nil {
		return nil, err
	}
	var best *gbp.BuildRecord
	for i := range rows {
		row := rows[i]
		if row.Build == r.Build {
			continue
		}
		if completedOnly && row.Completed == nil {
			continue
		}
		if row.Built == nil {
			continue
		}
		if r.Built != nil && !row.Built.After(*r.Built) {
			continue
		}
		if best == nil || row.Built.Before(*best.Built) {
			row := row
			best = &row
		}
	}
	return best, nil
}

func (m *Memory) Latest(machine string, completedOnly bool) (*gbp.BuildRecord, error) {
	rows, err := m.ForMachine(machine)
	if err != nil {
		return nil, err
	}
	if completedOnly {
		filtered := rows[:0:0]
		for _, r := range rows {
			if r.Completed != nil {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}
	return pickLatest(rows), nil
}

func (m *Memory) ListMachines() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := map[string]bool{}
	for _, r := range m.records {
		seen[r.Machine] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Search(machine string, field SearchField, key string) ([]gbp.BuildRecord, error) {
	if err := validateSearchField(field); err != nil {
		return nil, err
	}
	rows, err := m.ForMachine(machine)
	if err != nil {
		return nil, err
	}
	key = strings.ToLower(key)
	var out []gbp.BuildRecord
	for _, r := range rows {
		haystack := r.Note
		if field == SearchLogs {
			haystack = r.Logs
		}
		if strings.Contains(strings.ToLower(haystack), key) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) Count(machine string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if machine == "" {
		return len(m.records), nil
	}
	n := 0
	for _, r := range m.records {
		if r.Machine == machine {
			n++
		}
	}
	return n, nil
}

func (m *Memory) Close() error { return nil }
