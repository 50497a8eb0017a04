// Package gbpfs provides the low-level filesystem primitives Storage is
// built on: streaming a download to a staging file, extracting a tar
// stream, rsync-style quick-check link-or-copy deduplication, and atomic
// symlink replacement.
package gbpfs

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"
)

const dirPerm = 0o750
const filePerm = 0o640

var tmpCounter atomic.Uint64

// randSuffix returns a suffix unique within this process, used to name
// sibling temp files for atomic rename.
func randSuffix() string {
	n := tmpCounter.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36) + "-" + strconv.Itoa(os.Getpid())
}

// StreamToFile copies r into a newly created file at path, creating parent
// directories as needed. Used to stage a downloaded artifact before
// extraction.
func StreamToFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("gbpfs: create parent of %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return fmt.Errorf("gbpfs: create %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("gbpfs: write %s: %w", path, err)
	}
	return nil
}

// ExtractTar unpacks a tar stream into destDir, preserving symlinks and
// regular-file permissions. Directory entries are created with dirPerm
// regardless of the archived mode, since artifacts are not trusted to
// carry sane permission bits.
func ExtractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("gbpfs: read tar entry: %w", err)
		}

		target := filepath.Join(destDir, filepath.Clean(string(filepath.Separator)+hdr.Name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return fmt.Errorf("gbpfs: mkdir %s: %w", target, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
				return fmt.Errorf("gbpfs: mkdir parent of %s: %w", target, err)
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return fmt.Errorf("gbpfs: symlink %s -> %s: %w", target, hdr.Linkname, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
				return fmt.Errorf("gbpfs: mkdir parent of %s: %w", target, err)
			}
			if err := writeRegular(target, tr, os.FileMode(hdr.Mode), hdr.ModTime); err != nil {
				return err
			}
		default:
			// skip device files, fifos etc. -- not expected in CI artifacts.
		}
	}
}

func writeRegular(target string, r io.Reader, mode os.FileMode, modTime time.Time) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode&0o777|0o600)
	if err != nil {
		return fmt.Errorf("gbpfs: create %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("gbpfs: write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("gbpfs: close %s: %w", target, err)
	}
	if !modTime.IsZero() {
		_ = os.Chtimes(target, modTime, modTime)
	}
	return nil
}

// AtomicSymlink creates a symlink pointing at target and installs it at
// linkPath, replacing any existing entry. The new symlink is first created
// at a sibling temp path and then renamed over linkPath so that readers
// never observe a missing or half-written link.
func AtomicSymlink(target, linkPath string) error {
	if err := os.MkdirAll(filepath.Dir(linkPath), dirPerm); err != nil {
		return fmt.Errorf("gbpfs: mkdir parent of %s: %w", linkPath, err)
	}
	tmp := linkPath + ".tmp-" + randSuffix()
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("gbpfs: symlink %s -> %s: %w", tmp, target, err)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("gbpfs: rename %s -> %s: %w", tmp, linkPath, err)
	}
	return nil
}
