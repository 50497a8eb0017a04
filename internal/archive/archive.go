// Package archive dumps and restores the entire GBP state -- every
// BuildRecord plus the storage trees and tag symlinks for a set of
// builds -- to and from a single tar stream, so a deployment can be
// snapshotted and rehydrated elsewhere.
package archive

import (
	"archive/tar"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/enku/gbp/internal/gbp"
	"github.com/enku/gbp/internal/records"
	"github.com/enku/gbp/internal/storage"
)

// Phase names passed to DumpCallback.
type Phase string

const (
	PhaseRecords Phase = "records"
	PhaseStorage Phase = "storage"
)

// Op names passed to DumpCallback.
type Op string

const (
	OpDump    Op = "dump"
	OpRestore Op = "restore"
)

// DumpCallback reports progress during Dump/Restore, one call per build
// per phase. A nil callback is valid; NoopCallback satisfies the type
// for callers that want an explicit no-op.
type DumpCallback func(op Op, phase Phase, build gbp.Build)

// NoopCallback discards every progress notification.
func NoopCallback(Op, Phase, gbp.Build) {}

// Dump writes records.json (a JSON array of the given builds'
// BuildRecords) followed by storage.tar (each build's four Content
// trees plus every tag symlink pointing at them) as two members of an
// outer tar stream written to w. Builds are sorted by (machine, build_id)
// first, so the archive is reproducible.
func Dump(db records.DB, store *storage.Storage, builds []gbp.Build, w io.Writer, cb DumpCallback) error {
	if cb == nil {
		cb = NoopCallback
	}
	sorted := append([]gbp.Build(nil), builds...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Machine != sorted[j].Machine {
			return sorted[i].Machine < sorted[j].Machine
		}
		return sorted[i].ID < sorted[j].ID
	})

	recs := make([]gbp.BuildRecord, 0, len(sorted))
	for _, b := range sorted {
		r, err := db.Get(b)
		if err != nil {
			return fmt.Errorf("archive: dump: get record %s: %w", b, err)
		}
		recs = append(recs, r)
		cb(OpDump, PhaseRecords, b)
	}
	recordsJSON, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("archive: dump: marshal records: %w", err)
	}

	storageBuf, err := dumpStorage(store, sorted, cb)
	if err != nil {
		return err
	}

	tw := tar.NewWriter(w)
	if err := writeTarMember(tw, "records.json", recordsJSON); err != nil {
		return err
	}
	if err := writeTarMember(tw, "storage.tar", storageBuf); err != nil {
		return err
	}
	return tw.Close()
}

func writeTarMember(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0o640, Size: int64(len(data)), Typeflag: tar.TypeReg}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: write header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("archive: write body for %s: %w", name, err)
	}
	return nil
}

func dumpStorage(store *storage.Storage, builds []gbp.Build, cb DumpCallback) ([]byte, error) {
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)

	go func() {
		tw := tar.NewWriter(pw)
		errCh <- func() error {
			for _, b := range builds {
				for _, c := range gbp.Contents {
					dir := filepath.Join(store.Root, string(c), b.Dir())
					if err := addTree(tw, store.Root, dir); err != nil {
						return err
					}
				}
				tags, err := store.GetTags(b, true)
				if err != nil {
					return fmt.Errorf("archive: dump: get tags for %s: %w", b, err)
				}
				for _, tag := range tags {
					for _, c := range gbp.Contents {
						linkName := gbp.TagSymlinkName(b.Machine, tag)
						linkPath := filepath.Join(store.Root, string(c), linkName)
						if err := addSymlink(tw, store.Root, linkPath); err != nil {
							return err
						}
					}
				}
				cb(OpDump, PhaseStorage, b)
			}
			return tw.Close()
		}()
		pw.Close()
	}()

	data, readErr := io.ReadAll(pr)
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("archive: dump storage: %w", err)
	}
	if readErr != nil {
		return nil, fmt.Errorf("archive: dump storage: read pipe: %w", readErr)
	}
	return data, nil
}

func addTree(tw *tar.Writer, root, dir string) error {
	if _, err := os.Lstat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("archive: walk %s: %w", path, err)
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("archive: relativize %s: %w", path, relErr)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			target, linkErr := os.Readlink(path)
			if linkErr != nil {
				return fmt.Errorf("archive: readlink %s: %w", path, linkErr)
			}
			hdr := &tar.Header{Name: rel, Linkname: target, Typeflag: tar.TypeSymlink, Mode: 0o777}
			return tw.WriteHeader(hdr)
		}
		if info.IsDir() {
			hdr, hdrErr := tar.FileInfoHeader(info, "")
			if hdrErr != nil {
				return fmt.Errorf("archive: header for %s: %w", path, hdrErr)
			}
			hdr.Name = rel + "/"
			return tw.WriteHeader(hdr)
		}

		hdr, hdrErr := tar.FileInfoHeader(info, "")
		if hdrErr != nil {
			return fmt.Errorf("archive: header for %s: %w", path, hdrErr)
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("archive: write header for %s: %w", path, err)
		}
		f, openErr := os.Open(path)
		if openErr != nil {
			return fmt.Errorf("archive: open %s: %w", path, openErr)
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return fmt.Errorf("archive: copy %s: %w", path, err)
		}
		return nil
	})
}

func addSymlink(tw *tar.Writer, root, linkPath string) error {
	target, err := os.Readlink(linkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("archive: readlink %s: %w", linkPath, err)
	}
	rel, err := filepath.Rel(root, linkPath)
	if err != nil {
		return fmt.Errorf("archive: relativize %s: %w", linkPath, err)
	}
	hdr := &tar.Header{Name: rel, Linkname: target, Typeflag: tar.TypeSymlink, Mode: 0o777}
	return tw.WriteHeader(hdr)
}

// Restore reads an outer tar stream produced by Dump: records.json is
// unmarshalled and each record upserted via db.Save; storage.tar is
// extracted into store.Root, preserving symlinks. cb reports progress per
// build per phase, inferred from each record/storage-entry as it is
// processed.
func Restore(r io.Reader, db records.DB, store *storage.Storage, cb DumpCallback) error {
	if cb == nil {
		cb = NoopCallback
	}
	tr := tar.NewReader(r)

	var sawRecords, sawStorage bool
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("archive: restore: read outer tar: %w", err)
		}

		switch hdr.Name {
		case "records.json":
			data, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("archive: restore: read records.json: %w", err)
			}
			if err := restoreRecords(db, data, cb); err != nil {
				return err
			}
			sawRecords = true
		case "storage.tar":
			if err := restoreStorage(store, tr, cb); err != nil {
				return err
			}
			sawStorage = true
		default:
			return fmt.Errorf("archive: restore: unexpected outer member %q", hdr.Name)
		}
	}

	if !sawRecords || !sawStorage {
		return fmt.Errorf("archive: restore: archive missing records.json or storage.tar")
	}
	return nil
}

func restoreRecords(db records.DB, data []byte, cb DumpCallback) error {
	var recs []gbp.BuildRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return fmt.Errorf("archive: restore: unmarshal records.json: %w", err)
	}
	for _, r := range recs {
		if _, err := db.Save(r); err != nil {
			return fmt.Errorf("archive: restore: save record %s: %w", r.Build, err)
		}
		cb(OpRestore, PhaseRecords, r.Build)
	}
	return nil
}

func restoreStorage(store *storage.Storage, tr *tar.Reader, cb DumpCallback) error {
	inner := tar.NewReader(tr)
	for {
		hdr, err := inner.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("archive: restore: read storage.tar: %w", err)
		}

		dest := filepath.Join(store.Root, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o750); err != nil {
				return fmt.Errorf("archive: restore: mkdir %s: %w", dest, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
				return fmt.Errorf("archive: restore: mkdir parent of %s: %w", dest, err)
			}
			_ = os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return fmt.Errorf("archive: restore: symlink %s: %w", dest, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
				return fmt.Errorf("archive: restore: mkdir parent of %s: %w", dest, err)
			}
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
			if err != nil {
				return fmt.Errorf("archive: restore: create %s: %w", dest, err)
			}
			if _, err := io.Copy(f, inner); err != nil {
				f.Close()
				return fmt.Errorf("archive: restore: write %s: %w", dest, err)
			}
			f.Close()
		}

		if build, ok := buildFromPath(hdr.Name); ok {
			cb(OpRestore, PhaseStorage, build)
		}
	}
	return nil
}

// buildFromPath extracts the Build encoded in a storage-relative path of
// the form "<content>/<machine>.<build_id>/...".
func buildFromPath(path string) (gbp.Build, bool) {
	parts := strings.SplitN(path, "/", 3)
	if len(parts) < 2 {
		return gbp.Build{}, false
	}
	b, err := gbp.ParseBuild(parts[1])
	if err != nil {
		return gbp.Build{}, false
	}
	return b, true
}
