package records

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/enku/gbp/internal/gbp"
)

// SQLite is the durable RecordDB backend, grounded on the teacher's
// eventstore.SQLiteStore: schema-on-open against modernc.org/sqlite (a
// pure-Go driver, so no cgo toolchain is required), with every row access
// going through database/sql's own connection pooling and locking rather
// than an additional application-level mutex.
type SQLite struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS build_records (
	machine   TEXT NOT NULL,
	build_id  TEXT NOT NULL,
	note      TEXT NOT NULL DEFAULT '',
	logs      TEXT NOT NULL DEFAULT '',
	keep      INTEGER NOT NULL DEFAULT 0,
	submitted TEXT,
	completed TEXT,
	built     TEXT,
	PRIMARY KEY (machine, build_id)
);
CREATE INDEX IF NOT EXISTS idx_build_records_machine ON build_records(machine);
`

// OpenSQLite opens (creating if necessary) a sqlite database at path and
// ensures the build_records schema exists.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("records: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers per-process
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("records: create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, fmt.Errorf("records: parse timestamp %q: %w", ns.String, err)
	}
	return &t, nil
}

func (s *SQLite) Save(r gbp.BuildRecord) (gbp.BuildRecord, error) {
	if err := r.Build.Validate(); err != nil {
		return gbp.BuildRecord{}, err
	}
	if r.Submitted == nil {
		now := time.Now().UTC()
		r.Submitted = &now
	}

	_, err := s.db.Exec(`
		INSERT INTO build_records (machine, build_id, note, logs, keep, submitted, completed, built)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(machine, build_id) DO UPDATE SET
			note=excluded.note, logs=excluded.logs, keep=excluded.keep,
			submitted=excluded.submitted, completed=excluded.completed, built=excluded.built
	`, r.Machine, r.ID, r.Note, r.Logs, boolToInt(r.Keep), formatTime(r.Submitted), formatTime(r.Completed), formatTime(r.Built))
	if err != nil {
		return gbp.BuildRecord{}, fmt.Errorf("records: save %s: %w", r.Build, err)
	}
	return r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLite) scanRow(row interface {
	Scan(dest ...any) error
}) (gbp.BuildRecord, error) {
	var (
		r                             gbp.BuildRecord
		keep                          int
		submitted, completed, built   sql.NullString
	)
	if err := row.Scan(&r.Machine, &r.ID, &r.Note, &r.Logs, &keep, &submitted, &completed, &built); err != nil {
		return gbp.BuildRecord{}, err
	}
	r.Keep = keep != 0
	var err error
	if r.Submitted, err = parseTime(submitted); err != nil {
		return gbp.BuildRecord{}, err
	}
	if r.Completed, err = parseTime(completed); err != nil {
		return gbp.BuildRecord{}, err
	}
	if r.Built, err = parseTime(built); err != nil {
		return gbp.BuildRecord{}, err
	}
	return r, nil
}

const selectCols = "machine, build_id, note, logs, keep, submitted, completed, built"

func (s *SQLite) Get(build gbp.Build) (gbp.BuildRecord, error) {
	row := s.db.QueryRow(`SELECT `+selectCols+` FROM build_records WHERE machine=? AND build_id=?`, build.Machine, build.ID)
	r, err := s.scanRow(row)
	if err == sql.ErrNoRows {
		return gbp.BuildRecord{}, ErrRecordNotFound
	}
	if err != nil {
		return gbp.BuildRecord{}, fmt.Errorf("records: get %s: %w", build, err)
	}
	return r, nil
}

func (s *SQLite) Exists(build gbp.Build) bool {
	var n int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM build_records WHERE machine=? AND build_id=?`, build.Machine, build.ID).Scan(&n)
	return n > 0
}

func (s *SQLite) Delete(build gbp.Build) error {
	_, err := s.db.Exec(`DELETE FROM build_records WHERE machine=? AND build_id=?`, build.Machine, build.ID)
	if err != nil {
		return fmt.Errorf("records: delete %s: %w", build, err)
	}
	return nil
}

func (s *SQLite) ForMachine(machine string) ([]gbp.BuildRecord, error) {
	rows, err := s.db.Query(`SELECT `+selectCols+` FROM build_records WHERE machine=?`, machine)
	if err != nil {
		return nil, fmt.Errorf("records: for machine %s: %w", machine, err)
	}
	defer rows.Close()

	var out []gbp.BuildRecord
	for rows.Next() {
		r, err := s.scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("records: scan row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortForMachine(out)
	return out, nil
}

func (s *SQLite) Previous(r gbp.BuildRecord, completedOnly bool) (*gbp.BuildRecord, error) {
	rows, err := s.ForMachine(r.Machine)
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

func (s *SQLite) Next(r gbp.BuildRecord, completedOnly bool) (*gbp.BuildRecord, error) {
	rows, err := s.ForMachine(r.Machine)
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

func (s *SQLite) Latest(machine string, completedOnly bool) (*gbp.BuildRecord, error) {
	rows, err := s.ForMachine(machine)
	if err != nil {
		return nil, err
	}
	if completedOnly {
		filtered := rows[:0:0]
		for _, row := range rows {
			if row.Completed != nil {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	return pickLatest(rows), nil
}

func (s *SQLite) ListMachines() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT machine FROM build_records ORDER BY machine ASC`)
	if err != nil {
		return nil, fmt.Errorf("records: list machines: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		names = append(names, m)
	}
	sort.Strings(names)
	return names, rows.Err()
}

func (s *SQLite) Search(machine string, field SearchField, key string) ([]gbp.BuildRecord, error) {
	if err := validateSearchField(field); err != nil {
		return nil, err
	}
	col := "note"
	if field == SearchLogs {
		col = "logs"
	}
	query := fmt.Sprintf(`SELECT %s FROM build_records WHERE machine=? AND %s LIKE ? ESCAPE '\'`, selectCols, col)
	like := "%" + escapeLike(strings.ToLower(key)) + "%"
	rows, err := s.db.Query(query, machine, like)
	if err != nil {
		return nil, fmt.Errorf("records: search: %w", err)
	}
	defer rows.Close()

	var out []gbp.BuildRecord
	for rows.Next() {
		r, err := s.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

func (s *SQLite) Count(machine string) (int, error) {
	var (
		n   int
		err error
	)
	if machine == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM build_records`).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM build_records WHERE machine=?`, machine).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("records: count: %w", err)
	}
	return n, nil
}
