// Package storage owns the filesystem layout for every build: per-build
// content trees, the published/tagged symlinks that alias them, and the
// gbp.json sidecar. One Storage instance owns a single STORAGE_PATH root.
package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/enku/gbp/internal/gbp"
	"github.com/enku/gbp/internal/gbpfs"
)

// ErrNotFound is returned when a tag, build directory or sidecar file does
// not exist.
type ErrNotFound struct {
	What string
}

func (e ErrNotFound) Error() string { return "storage: not found: " + e.What }

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	_, ok := err.(ErrNotFound)
	return ok
}

// Storage owns the directory tree rooted at Root. Every exported method
// serialises through mu; the teacher's FSStore guards its content-addressable
// tree with a single sync.RWMutex and this storage follows the same
// discipline, even though Publisher additionally applies finer-grained
// advisory locks around whole operations (see internal/publisher/locks.go).
type Storage struct {
	Root string
	mu   sync.RWMutex
}

// New creates the four Content directories and the tmp staging directory
// under root, and returns a Storage bound to it.
func New(root string) (*Storage, error) {
	dirs := make([]string, 0, len(gbp.Contents)+1)
	for _, c := range gbp.Contents {
		dirs = append(dirs, filepath.Join(root, string(c)))
	}
	dirs = append(dirs, filepath.Join(root, "tmp"))
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return nil, fmt.Errorf("storage: create %s: %w", d, err)
		}
	}
	return &Storage{Root: root}, nil
}

func (s *Storage) contentDir(c gbp.Content) string {
	return filepath.Join(s.Root, string(c))
}

func (s *Storage) buildDir(c gbp.Content, b gbp.Build) string {
	return filepath.Join(s.contentDir(c), b.Dir())
}

func (s *Storage) tmpDir(b gbp.Build) string {
	return filepath.Join(s.Root, "tmp", b.Dir())
}

// Pulled reports whether all four Content directories exist for b.
func (s *Storage) Pulled(b gbp.Build) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pulledLocked(b)
}

func (s *Storage) pulledLocked(b gbp.Build) bool {
	for _, c := range gbp.Contents {
		info, err := os.Stat(s.buildDir(c, b))
		if err != nil || !info.IsDir() {
			return false
		}
	}
	return true
}

// ExtractArtifact stages the tar stream r into tmp/<build>/, then moves or
// link-copies each Content subtree into its final location. If previous is
// non-nil, files are deduplicated against that build's trees via
// gbpfs.QuickCheckCopyTree; otherwise the staged trees are simply moved
// into place. Idempotent: if the build is already Pulled, r is drained and
// discarded and no extraction happens. The staging directory is always
// removed, on both success and failure.
func (s *Storage) ExtractArtifact(b gbp.Build, r io.Reader, previous *gbp.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pulledLocked(b) {
		_, _ = io.Copy(io.Discard, r)
		return nil
	}

	staging := s.tmpDir(b)
	defer os.RemoveAll(staging)

	if err := os.MkdirAll(staging, 0o750); err != nil {
		return fmt.Errorf("storage: create staging dir: %w", err)
	}
	if err := gbpfs.ExtractTar(r, staging); err != nil {
		return fmt.Errorf("storage: extract artifact for %s: %w", b, err)
	}

	for _, c := range gbp.Contents {
		src := filepath.Join(staging, string(c))
		if _, err := os.Stat(src); err != nil {
			return fmt.Errorf("storage: artifact missing content %q: %w", c, err)
		}
		dst := s.buildDir(c, b)

		if previous == nil {
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return fmt.Errorf("storage: create parent of %s: %w", dst, err)
			}
			if err := os.Rename(src, dst); err != nil {
				return fmt.Errorf("storage: move %s -> %s: %w", src, dst, err)
			}
			continue
		}

		prevDir := s.buildDir(c, *previous)
		if err := gbpfs.QuickCheckCopyTree(src, dst, prevDir); err != nil {
			return fmt.Errorf("storage: link-copy %s -> %s: %w", src, dst, err)
		}
	}

	return nil
}

// Publish replaces the <machine> symlink in every Content directory to
// point at b's directory. Each symlink flip is individually atomic (via
// gbpfs.AtomicSymlink); the four-symlink set as a whole is not
// transactional, so a crash mid-publish must be repaired by calling
// Publish again, which is idempotent.
func (s *Storage) Publish(b gbp.Build) error {
	return s.tag(b, gbp.PublishedTag)
}

// Published reports whether every Content directory's <machine> symlink
// currently resolves to b's directory.
func (s *Storage) Published(b gbp.Build) bool {
	resolved, err := s.ResolveTag(b.Machine, gbp.PublishedTag)
	return err == nil && resolved == b
}

// Tag validates name and places a <machine>@<name> symlink (or the bare
// <machine> symlink for the empty/published tag) in every Content
// directory, pointing at b's directory.
func (s *Storage) Tag(b gbp.Build, name string) error {
	if err := gbp.ValidateTagName(name); err != nil {
		return err
	}
	return s.tag(b, name)
}

func (s *Storage) tag(b gbp.Build, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	linkName := gbp.TagSymlinkName(b.Machine, name)
	for _, c := range gbp.Contents {
		linkPath := filepath.Join(s.contentDir(c), linkName)
		if err := gbpfs.AtomicSymlink(b.Dir(), linkPath); err != nil {
			return fmt.Errorf("storage: tag %s as %q: %w", b, name, err)
		}
	}
	return nil
}

// Untag removes the four tag symlinks for machine/name; symlinks that are
// already absent are ignored. The empty name untags (unpublishes) the
// machine.
func (s *Storage) Untag(machine, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	linkName := gbp.TagSymlinkName(machine, name)
	for _, c := range gbp.Contents {
		linkPath := filepath.Join(s.contentDir(c), linkName)
		if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("storage: untag %s/%q: %w", machine, name, err)
		}
	}
	return nil
}

// GetTags returns the sorted list of tag names whose symlinks, in the
// canonical "repos" Content directory, resolve to b's directory.
// includeEmpty controls whether the published ("") tag is included.
func (s *Storage) GetTags(b gbp.Build, includeEmpty bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.contentDir(gbp.ContentRepos)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}

	var tags []string
	prefix := b.Machine + "@"
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		name := e.Name()
		var tag string
		switch {
		case name == b.Machine:
			if !includeEmpty {
				continue
			}
			tag = gbp.PublishedTag
		case strings.HasPrefix(name, prefix):
			tag = strings.TrimPrefix(name, prefix)
		default:
			continue
		}

		target, err := os.Readlink(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if target == b.Dir() {
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return tags, nil
}

// ResolveTag returns the Build that "<machine>@<tag>" (or plain "<machine>"
// for the published tag) currently targets.
func (s *Storage) ResolveTag(machine, tag string) (gbp.Build, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	linkName := gbp.TagSymlinkName(machine, tag)
	linkPath := filepath.Join(s.contentDir(gbp.ContentRepos), linkName)
	target, err := os.Readlink(linkPath)
	if err != nil {
		if os.IsNotExist(err) {
			return gbp.Build{}, ErrNotFound{What: linkPath}
		}
		return gbp.Build{}, fmt.Errorf("storage: resolve tag %s: %w", linkPath, err)
	}
	return gbp.ParseBuild(filepath.Base(target))
}

// GetPackages parses binpkgs/Packages: an rsync-style key/value index whose
// sections are separated by blank lines. The first (preamble) section is
// discarded. A missing Packages file yields ErrNotFound; any other read
// error is wrapped and returned.
func (s *Storage) GetPackages(b gbp.Build) ([]gbp.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.buildDir(gbp.ContentBinpkgs, b), "Packages")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound{What: path}
		}
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return parsePackagesIndex(data)
}

func parsePackagesIndex(data []byte) ([]gbp.Package, error) {
	sections := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n\n")
	if len(sections) <= 1 {
		return nil, nil
	}

	var pkgs []gbp.Package
	for _, section := range sections[1:] {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		fields := map[string]string{}
		for _, line := range strings.Split(section, "\n") {
			key, value, ok := strings.Cut(line, ": ")
			if !ok {
				continue
			}
			fields[key] = value
		}

		buildID, _ := strconv.Atoi(fields["BUILD_ID"])
		size, _ := strconv.ParseInt(fields["SIZE"], 10, 64)
		buildTime, _ := strconv.ParseInt(fields["BUILD_TIME"], 10, 64)
		pkgs = append(pkgs, gbp.Package{
			CPV:       fields["CPV"],
			Repo:      fields["REPO"],
			Path:      fields["PATH"],
			BuildID:   buildID,
			Size:      size,
			BuildTime: buildTime,
		})
	}
	return pkgs, nil
}

// GetMetadata reads the binpkgs/gbp.json sidecar.
func (s *Storage) GetMetadata(b gbp.Build) (gbp.GBPMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path := filepath.Join(s.buildDir(gbp.ContentBinpkgs, b), "gbp.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return gbp.GBPMetadata{}, ErrNotFound{What: path}
		}
		return gbp.GBPMetadata{}, fmt.Errorf("storage: read %s: %w", path, err)
	}
	var meta gbp.GBPMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return gbp.GBPMetadata{}, fmt.Errorf("storage: parse %s: %w", path, err)
	}
	return meta, nil
}

// SetMetadata writes the binpkgs/gbp.json sidecar.
func (s *Storage) SetMetadata(b gbp.Build, meta gbp.GBPMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.buildDir(gbp.ContentBinpkgs, b), "gbp.json")
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("storage: marshal gbp.json: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

// Delete removes all four per-build trees for b. Missing paths are not
// errors. Dangling tag symlinks left pointing at the removed directory are
// not repaired here; the integrity checks subsystem reports them.
func (s *Storage) Delete(b gbp.Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range gbp.Contents {
		if err := os.RemoveAll(s.buildDir(c, b)); err != nil {
			return fmt.Errorf("storage: delete %s/%s: %w", c, b, err)
		}
	}
	return nil
}

// Repos returns the set of subdirectory names directly under b's repos/
// directory.
func (s *Storage) Repos(b gbp.Build) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.buildDir(gbp.ContentRepos, b)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
