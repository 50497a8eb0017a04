// Package records implements RecordDB: the persisted, queryable store of
// BuildRecords. Two backends satisfy the same contract -- an in-memory map
// for tests and single-process use, and a SQL (sqlite) backend for
// durable deployments -- and both are exercised by the same test suite in
// db_test.go via the db constructor table.
package records

import (
	"errors"
	"fmt"
)

// ErrRecordNotFound is returned by Get when no record matches the build.
var ErrRecordNotFound = errors.New("records: record not found")

// ErrNotSearchable is returned by Search for any field other than "logs"
// or "note".
var ErrNotSearchable = errors.New("records: field is not searchable")

// SearchField enumerates the RecordDB fields Search may query.
type SearchField string

const (
	SearchLogs SearchField = "logs"
	SearchNote SearchField = "note"
)

func validateSearchField(field SearchField) error {
	switch field {
	case SearchLogs, SearchNote:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrNotSearchable, field)
	}
}
