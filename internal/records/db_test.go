package records

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/enku/gbp/internal/gbp"
)

// dbConstructors parameterizes every test in this file across both
// RecordDB backends, per the contract both must satisfy identically.
func dbConstructors(t *testing.T) map[string]func() DB {
	t.Helper()
	return map[string]func() DB{
		"memory": func() DB { return NewMemory() },
		"sqlite": func() DB {
			path := filepath.Join(t.TempDir(), "records.sqlite3")
			db, err := OpenSQLite(path)
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return db
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, db DB)) {
	t.Helper()
	for name, ctor := range dbConstructors(t) {
		t.Run(name, func(t *testing.T) {
			db := ctor()
			defer db.Close()
			fn(t, db)
		})
	}
}

func mkRecord(machine, id string) gbp.BuildRecord {
	return gbp.BuildRecord{Build: gbp.Build{Machine: machine, ID: id}}
}

func TestDBSaveGetExists(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		r := mkRecord("babette", "1")
		saved, err := db.Save(r)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if saved.Submitted == nil {
			t.Fatal("expected Submitted to be set")
		}
		if !db.Exists(r.Build) {
			t.Fatal("expected record to exist")
		}

		got, err := db.Get(r.Build)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Machine != "babette" || got.ID != "1" {
			t.Fatalf("unexpected record: %+v", got)
		}
	})
}

func TestDBGetMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		_, err := db.Get(gbp.Build{Machine: "babette", ID: "999"})
		if err != ErrRecordNotFound {
			t.Fatalf("expected ErrRecordNotFound, got %v", err)
		}
	})
}

func TestDBDeleteIsIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		r := mkRecord("babette", "1")
		if _, err := db.Save(r); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := db.Delete(r.Build); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := db.Delete(r.Build); err != nil {
			t.Fatalf("second Delete should be a no-op: %v", err)
		}
		if db.Exists(r.Build) {
			t.Fatal("expected record to be gone")
		}
	})
}

func TestDBForMachineOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, built := range []time.Time{t0, t0.Add(2 * time.Hour), t0.Add(time.Hour)} {
			b := built
			r := mkRecord("babette", string(rune('1'+i)))
			r.Built = &b
			if _, err := db.Save(r); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
		rows, err := db.ForMachine("babette")
		if err != nil {
			t.Fatalf("ForMachine: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("expected 3 rows, got %d", len(rows))
		}
		if !rows[0].Built.Equal(t0.Add(2 * time.Hour)) {
			t.Fatalf("expected newest Built first, got %v", rows[0].Built)
		}
	})
}

func TestDBPreviousAndNext(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		var middle gbp.BuildRecord
		for i, built := range []time.Time{t0, t0.Add(time.Hour), t0.Add(2 * time.Hour)} {
			b := built
			r := mkRecord("babette", string(rune('1'+i)))
			r.Built = &b
			r.Completed = &b
			saved, err := db.Save(r)
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			if i == 1 {
				middle = saved
			}
		}

		prev, err := db.Previous(middle, false)
		if err != nil {
			t.Fatalf("Previous: %v", err)
		}
		if prev == nil || !prev.Built.Equal(t0) {
			t.Fatalf("expected previous at t0, got %+v", prev)
		}

		next, err := db.Next(middle, false)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if next == nil || !next.Built.Equal(t0.Add(2*time.Hour)) {
			t.Fatalf("expected next at t0+2h, got %+v", next)
		}
	})
}

func TestDBPreviousWithUnbuiltRecordReturnsLatestCompleted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, built := range []time.Time{t0, t0.Add(time.Hour)} {
			b := built
			r := mkRecord("babette", string(rune('1'+i)))
			r.Built = &b
			r.Completed = &b
			if _, err := db.Save(r); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}

		// A freshly-saved record for a new pull has no Built timestamp
		// yet; Previous must still surface the latest completed build
		// for dedup purposes instead of short-circuiting to nil.
		fresh := mkRecord("babette", "3")
		saved, err := db.Save(fresh)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}

		prev, err := db.Previous(saved, true)
		if err != nil {
			t.Fatalf("Previous: %v", err)
		}
		if prev == nil || !prev.Built.Equal(t0.Add(time.Hour)) {
			t.Fatalf("expected latest completed build at t0+1h, got %+v", prev)
		}
	})
}

func TestDBLatestPrefersBuilt(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		old, new := t0, t0.Add(time.Hour)
		r1 := mkRecord("babette", "1")
		r1.Built = &old
		r2 := mkRecord("babette", "2")
		r2.Built = &new
		if _, err := db.Save(r1); err != nil {
			t.Fatalf("Save r1: %v", err)
		}
		if _, err := db.Save(r2); err != nil {
			t.Fatalf("Save r2: %v", err)
		}

		latest, err := db.Latest("babette", false)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if latest == nil || latest.ID != "2" {
			t.Fatalf("expected build 2 latest, got %+v", latest)
		}
	})
}

func TestDBLatestFallsBackToBuildID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		for _, id := range []string{"2", "10", "1"} {
			if _, err := db.Save(mkRecord("babette", id)); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
		latest, err := db.Latest("babette", false)
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if latest == nil || latest.ID != "10" {
			t.Fatalf("expected numeric fallback to pick build 10, got %+v", latest)
		}
	})
}

func TestDBListMachines(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		for _, m := range []string{"zeus", "babette", "albert"} {
			if _, err := db.Save(mkRecord(m, "1")); err != nil {
				t.Fatalf("Save: %v", err)
			}
		}
		names, err := db.ListMachines()
		if err != nil {
			t.Fatalf("ListMachines: %v", err)
		}
		want := []string{"albert", "babette", "zeus"}
		if len(names) != len(want) {
			t.Fatalf("got %v, want %v", names, want)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Fatalf("got %v, want %v", names, want)
			}
		}
	})
}

func TestDBSearch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		r1 := mkRecord("babette", "1")
		r1.Note = "fixed a Bug in the kernel"
		r2 := mkRecord("babette", "2")
		r2.Note = "routine rebuild"
		if _, err := db.Save(r1); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if _, err := db.Save(r2); err != nil {
			t.Fatalf("Save: %v", err)
		}

		found, err := db.Search("babette", SearchNote, "bug")
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(found) != 1 || found[0].ID != "1" {
			t.Fatalf("expected one match on build 1, got %+v", found)
		}

		if _, err := db.Search("babette", SearchField("bogus"), "x"); !errors.Is(err, ErrNotSearchable) {
			t.Fatalf("expected ErrNotSearchable, got %v", err)
		}
	})
}

func TestDBCount(t *testing.T) {
	forEachBackend(t, func(t *testing.T, db DB) {
		for _, m := range []string{"babette", "babette", "zeus"} {
			if _, err := db.Save(mkRecord(m, "1")); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if m == "babette" {
				if _, err := db.Save(mkRecord(m, "2")); err != nil {
					t.Fatalf("Save: %v", err)
				}
			}
		}
		total, err := db.Count("")
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if total != 3 {
			t.Fatalf("expected 3 total, got %d", total)
		}
		n, err := db.Count("babette")
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 for babette, got %d", n)
		}
	})
}
