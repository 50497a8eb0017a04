package publisher

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/enku/gbp/internal/ci"
	"github.com/enku/gbp/internal/dispatcher"
	"github.com/enku/gbp/internal/gbp"
	"github.com/enku/gbp/internal/records"
	"github.com/enku/gbp/internal/storage"
)

// fakeCI is a minimal, in-memory ci.Client: each build's artifact,
// metadata and logs are seeded by the test before Pull is called.
type fakeCI struct {
	artifacts map[gbp.Build][]byte
	metadata  map[gbp.Build]ci.BuildMetadata
	logs      map[gbp.Build]string

	downloadErr error
	metadataErr error
}

func newFakeCI() *fakeCI {
	return &fakeCI{
		artifacts: make(map[gbp.Build][]byte),
		metadata:  make(map[gbp.Build]ci.BuildMetadata),
		logs:      make(map[gbp.Build]string),
	}
}

func (f *fakeCI) DownloadArtifact(_ context.Context, build gbp.Build) (io.ReadCloser, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.artifacts[build]
	if !ok {
		return nil, ci.NotFoundError{Build: build}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeCI) GetLogs(_ context.Context, build gbp.Build) (string, error) {
	return f.logs[build], nil
}

func (f *fakeCI) GetMetadata(_ context.Context, build gbp.Build) (ci.BuildMetadata, error) {
	if f.metadataErr != nil {
		return ci.BuildMetadata{}, f.metadataErr
	}
	return f.metadata[build], nil
}

func (f *fakeCI) ScheduleBuild(_ context.Context, _ string, _ map[string]string) (string, error) {
	return "", nil
}

const samplePackagesIndex = "PACKAGES: 1\n\n" +
	"CPV: app-arch/unzip-6.0_p26\nREPO: gentoo\nPATH: app-arch/unzip/unzip-6.0_p26-1.xpak\nBUILD_ID: 1\nSIZE: 200\nBUILD_TIME: 1700000000\n"

func buildArtifact(t *testing.T, packagesIndex string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	entries := map[string][]byte{
		"repos/gentoo/.keep":    nil,
		"binpkgs/Packages":      []byte(packagesIndex),
		"etc-portage/.keep":     nil,
		"var-lib-portage/.keep": nil,
	}
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o640, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatalf("write content %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	return buf.Bytes()
}

// buildArtifactWithBinpkg is like buildArtifact but adds a binary package
// file with the given content, every entry sharing a fixed (zero-value)
// mtime -- the same value buildArtifact's headers implicitly use -- so two
// builds with byte-identical package content quick-check as duplicates.
func buildArtifactWithBinpkg(t *testing.T, packagesIndex, binpkgContent []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	entries := map[string][]byte{
		"repos/gentoo/.keep":     nil,
		"binpkgs/Packages":       packagesIndex,
		"binpkgs/foo-1.tbz2":     binpkgContent,
		"etc-portage/.keep":      nil,
		"var-lib-portage/.keep": nil,
	}
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o640, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			t.Fatalf("write content %s: %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	return buf.Bytes()
}

func newTestPublisher(t *testing.T) (*Publisher, *fakeCI) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	fc := newFakeCI()
	p := New(records.NewMemory(), store, fc, dispatcher.New())
	return p, fc
}

func mustBuild(t *testing.T, s string) gbp.Build {
	t.Helper()
	b, err := gbp.ParseBuild(s)
	if err != nil {
		t.Fatalf("ParseBuild(%q): %v", s, err)
	}
	return b
}

func TestPullSuccess(t *testing.T) {
	p, fc := newTestPublisher(t)
	build := mustBuild(t, "babette.1")
	fc.artifacts[build] = buildArtifact(t, samplePackagesIndex)
	fc.metadata[build] = ci.BuildMetadata{DurationSeconds: 60, TimestampMS: 1700000000000}
	fc.logs[build] = "all green"

	pulled, err := p.Pull(context.Background(), build, nil, []string{"stable"})
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if !pulled {
		t.Fatalf("expected Pull to report true")
	}
	if !p.Pulled(build) {
		t.Fatalf("expected Pulled(build) to be true after a successful pull")
	}

	rec, err := p.DB.Get(build)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Completed == nil || rec.Built == nil {
		t.Fatalf("expected Completed and Built to be set, got %+v", rec)
	}
	if rec.Logs != "all green" {
		t.Fatalf("expected logs to be recorded, got %q", rec.Logs)
	}

	tags, err := p.Tags(build)
	if err != nil {
		t.Fatalf("Tags: %v", err)
	}
	if len(tags) != 1 || tags[0] != "stable" {
		t.Fatalf("expected [stable], got %v", tags)
	}

	meta, err := p.BuildMetadata(build)
	if err != nil {
		t.Fatalf("BuildMetadata: %v", err)
	}
	if meta.Packages.Total != 1 {
		t.Fatalf("expected 1 package, got %d", meta.Packages.Total)
	}
}

func TestPullAlreadyPulledIsNoop(t *testing.T) {
	p, fc := newTestPublisher(t)
	build := mustBuild(t, "babette.1")
	fc.artifacts[build] = buildArtifact(t, samplePackagesIndex)
	fc.metadata[build] = ci.BuildMetadata{DurationSeconds: 60, TimestampMS: 1700000000000}

	if _, err := p.Pull(context.Background(), build, nil, nil); err != nil {
		t.Fatalf("first Pull: %v", err)
	}
	pulled, err := p.Pull(context.Background(), build, nil, nil)
	if err != nil {
		t.Fatalf("second Pull: %v", err)
	}
	if pulled {
		t.Fatalf("expected second Pull to report false (already pulled)")
	}
}

func TestPullRollsBackOnDownloadFailure(t *testing.T) {
	p, fc := newTestPublisher(t)
	build := mustBuild(t, "babette.1")
	fc.downloadErr = errors.New("connection reset")

	if _, err := p.Pull(context.Background(), build, nil, nil); err == nil {
		t.Fatalf("expected Pull to fail")
	}

	if p.DB.Exists(build) {
		t.Fatalf("expected the partial record to be rolled back")
	}
	if p.Store.Pulled(build) {
		t.Fatalf("expected no storage content to remain after rollback")
	}
}

func TestPullRollsBackOnMetadataFailure(t *testing.T) {
	p, fc := newTestPublisher(t)
	build := mustBuild(t, "babette.1")
	fc.artifacts[build] = buildArtifact(t, samplePackagesIndex)
	fc.metadataErr = errors.New("jenkins unreachable")

	if _, err := p.Pull(context.Background(), build, nil, nil); err == nil {
		t.Fatalf("expected Pull to fail")
	}

	if p.DB.Exists(build) {
		t.Fatalf("expected the partial record to be rolled back")
	}
	if p.Store.Pulled(build) {
		t.Fatalf("expected no storage content to remain after rollback")
	}
}

func TestPublishPullsIfNeeded(t *testing.T) {
	p, fc := newTestPublisher(t)
	build := mustBuild(t, "babette.1")
	fc.artifacts[build] = buildArtifact(t, samplePackagesIndex)
	fc.metadata[build] = ci.BuildMetadata{DurationSeconds: 60, TimestampMS: 1700000000000}

	if err := p.Publish(context.Background(), build); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !p.Store.Published(build) {
		t.Fatalf("expected build to be published")
	}
}

func TestDeleteIsBestEffort(t *testing.T) {
	p, _ := newTestPublisher(t)
	build := mustBuild(t, "babette.999")

	if err := p.Delete(context.Background(), build); err != nil {
		t.Fatalf("expected Delete of a nonexistent build to succeed, got %v", err)
	}
}

func TestPurgeKeepsRecentPull(t *testing.T) {
	p, fc := newTestPublisher(t)
	build := mustBuild(t, "babette.1")
	fc.artifacts[build] = buildArtifact(t, samplePackagesIndex)
	fc.metadata[build] = ci.BuildMetadata{DurationSeconds: 60, TimestampMS: 1700000000000}

	if _, err := p.Pull(context.Background(), build, nil, nil); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	if err := p.Purge(context.Background(), "babette"); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if !p.DB.Exists(build) {
		t.Fatalf("expected a just-pulled build to survive Purge")
	}
}

// TestPullDedupesIdenticalPackageAcrossBuilds exercises the real Pull path
// end to end: two consecutive builds whose binpkgs contain a byte-for-byte
// identical package must come out hardlinked on disk, i.e. DB.Previous must
// actually find the first build as the dedup source even though the second
// build's record has no Built timestamp yet when Previous is called.
func TestPullDedupesIdenticalPackageAcrossBuilds(t *testing.T) {
	p, fc := newTestPublisher(t)
	b1 := mustBuild(t, "babette.1")
	b2 := mustBuild(t, "babette.2")

	binpkg := []byte("identical package bytes")
	fc.artifacts[b1] = buildArtifactWithBinpkg(t, []byte(samplePackagesIndex), binpkg)
	fc.artifacts[b2] = buildArtifactWithBinpkg(t, []byte(samplePackagesIndex), binpkg)
	fc.metadata[b1] = ci.BuildMetadata{DurationSeconds: 60, TimestampMS: 1700000000000}
	fc.metadata[b2] = ci.BuildMetadata{DurationSeconds: 60, TimestampMS: 1700000100000}

	if _, err := p.Pull(context.Background(), b1, nil, nil); err != nil {
		t.Fatalf("pull b1: %v", err)
	}
	if _, err := p.Pull(context.Background(), b2, nil, nil); err != nil {
		t.Fatalf("pull b2: %v", err)
	}

	path1 := filepath.Join(p.Store.Root, "binpkgs", b1.Dir(), "foo-1.tbz2")
	path2 := filepath.Join(p.Store.Root, "binpkgs", b2.Dir(), "foo-1.tbz2")
	info1, err := os.Stat(path1)
	if err != nil {
		t.Fatalf("stat b1 binpkg: %v", err)
	}
	info2, err := os.Stat(path2)
	if err != nil {
		t.Fatalf("stat b2 binpkg: %v", err)
	}
	if !os.SameFile(info1, info2) {
		t.Fatalf("expected foo-1.tbz2 to be hardlinked between b1 and b2 via Pull's dedup")
	}
}

func TestDiffBinpkgsSameBuild(t *testing.T) {
	p, _ := newTestPublisher(t)
	build := mustBuild(t, "babette.1")

	changes, err := p.DiffBinpkgs(context.Background(), build, build)
	if err != nil {
		t.Fatalf("DiffBinpkgs: %v", err)
	}
	if changes != nil {
		t.Fatalf("expected no changes comparing a build to itself, got %v", changes)
	}
}

func TestDiffBinpkgsAddedAndRemoved(t *testing.T) {
	p, fc := newTestPublisher(t)
	left := mustBuild(t, "babette.1")
	right := mustBuild(t, "babette.2")

	leftIndex := "PACKAGES: 1\n\n" +
		"CPV: app-arch/unzip-6.0_p25\nREPO: gentoo\nPATH: x\nBUILD_ID: 1\nSIZE: 1\nBUILD_TIME: 1\n"
	rightIndex := "PACKAGES: 1\n\n" +
		"CPV: app-arch/unzip-6.0_p26\nREPO: gentoo\nPATH: x\nBUILD_ID: 1\nSIZE: 1\nBUILD_TIME: 1\n"

	fc.artifacts[left] = buildArtifact(t, leftIndex)
	fc.artifacts[right] = buildArtifact(t, rightIndex)
	fc.metadata[left] = ci.BuildMetadata{TimestampMS: 1000}
	fc.metadata[right] = ci.BuildMetadata{TimestampMS: 1000}

	if _, err := p.Pull(context.Background(), left, nil, nil); err != nil {
		t.Fatalf("pull left: %v", err)
	}
	if _, err := p.Pull(context.Background(), right, nil, nil); err != nil {
		t.Fatalf("pull right: %v", err)
	}

	changes, err := p.DiffBinpkgs(context.Background(), left, right)
	if err != nil {
		t.Fatalf("DiffBinpkgs: %v", err)
	}
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", changes)
	}

	var gotAdded, gotRemoved bool
	for _, c := range changes {
		switch c.State {
		case ChangeAdded:
			gotAdded = true
		case ChangeRemoved:
			gotRemoved = true
		}
	}
	if !gotAdded || !gotRemoved {
		t.Fatalf("expected one ADDED and one REMOVED change, got %+v", changes)
	}
}

func TestMachinesAggregatesInfo(t *testing.T) {
	p, fc := newTestPublisher(t)
	build := mustBuild(t, "babette.1")
	fc.artifacts[build] = buildArtifact(t, samplePackagesIndex)
	fc.metadata[build] = ci.BuildMetadata{DurationSeconds: 60, TimestampMS: 1700000000000}

	if _, err := p.Pull(context.Background(), build, nil, []string{"stable"}); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	infos, err := p.Machines(nil)
	if err != nil {
		t.Fatalf("Machines: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("expected 1 machine, got %d", len(infos))
	}
	info := infos[0]
	if info.Machine != "babette" || info.BuildCount != 1 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.LatestBuild == nil {
		t.Fatalf("expected LatestBuild to be set")
	}
	if len(info.Tags) != 1 || info.Tags[0] != "stable" {
		t.Fatalf("expected tags [stable], got %v", info.Tags)
	}
}
