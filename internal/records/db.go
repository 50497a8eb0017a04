package records

import "github.com/enku/gbp/internal/gbp"

// DB is the RecordDB contract; Memory and SQLite both implement it.
type DB interface {
	// Save upserts r. If r.Submitted is nil, it is set to now. Returns
	// the stored record (with Submitted populated).
	Save(r gbp.BuildRecord) (gbp.BuildRecord, error)

	// Get performs an exact lookup; returns ErrRecordNotFound if absent.
	Get(build gbp.Build) (gbp.BuildRecord, error)

	// Exists never fails for "not found"; it simply reports absence.
	Exists(build gbp.Build) bool

	// Delete is idempotent; deleting an absent record is not an error.
	Delete(build gbp.Build) error

	// ForMachine returns all records for machine, ordered by Built
	// descending (nil last), then Submitted descending.
	ForMachine(machine string) ([]gbp.BuildRecord, error)

	// Previous returns the record for the same machine with the largest
	// Built strictly less than r.Built, optionally restricted to
	// completed records.
	Previous(r gbp.BuildRecord, completedOnly bool) (*gbp.BuildRecord, error)

	// Next mirrors Previous in the ascending direction.
	Next(r gbp.BuildRecord, completedOnly bool) (*gbp.BuildRecord, error)

	// Latest returns the record with the greatest Built, or -- if none
	// has a Built timestamp -- the greatest build id as a legacy
	// fallback. Returns nil if the machine has no records.
	Latest(machine string, completedOnly bool) (*gbp.BuildRecord, error)

	// ListMachines returns distinct machine names, ascending.
	ListMachines() ([]string, error)

	// Search performs a case-insensitive substring match on field ("logs"
	// or "note"); any other field returns ErrNotSearchable.
	Search(machine string, field SearchField, key string) ([]gbp.BuildRecord, error)

	// Count returns the total record count, or the per-machine count
	// when machine is non-empty.
	Count(machine string) (int, error)

	// Close releases backend resources.
	Close() error
}
