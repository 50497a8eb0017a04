// Package publisher implements the Publisher facade: the single surface
// every caller (worker tasks, API handlers, the stats package) goes
// through to pull, publish, tag and purge builds. It owns the sequencing
// and locking that make those operations safe to call concurrently; the
// pieces it delegates to -- RecordDB, Storage, the CI client, the
// dispatcher -- stay unaware of each other.
package publisher

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/enku/gbp/internal/ci"
	"github.com/enku/gbp/internal/dispatcher"
	ferrors "github.com/enku/gbp/internal/foundation/errors"
	"github.com/enku/gbp/internal/gbp"
	"github.com/enku/gbp/internal/logfields"
	"github.com/enku/gbp/internal/metrics"
	"github.com/enku/gbp/internal/purge"
	"github.com/enku/gbp/internal/records"
	"github.com/enku/gbp/internal/storage"
)

// Publisher wires a RecordDB, a Storage, a CI client and a Dispatcher into
// the domain operations spec.md names. Construct with New and the With*
// options, the same way the teacher's DefaultBuildService assembles its
// collaborators.
type Publisher struct {
	DB         records.DB
	Store      *storage.Storage
	CI         ci.Client
	Dispatcher *dispatcher.Dispatcher
	Recorder   metrics.Recorder
	Logger     *slog.Logger

	locks *lockTable
}

// Option configures a Publisher at construction time.
type Option func(*Publisher)

// WithRecorder overrides the metrics.Recorder; the default is a no-op.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Publisher) { p.Recorder = r }
}

// WithLogger overrides the *slog.Logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.Logger = l }
}

// New constructs a Publisher from its four required collaborators.
func New(db records.DB, store *storage.Storage, ciClient ci.Client, disp *dispatcher.Dispatcher, opts ...Option) *Publisher {
	p := &Publisher{
		DB:         db,
		Store:      store,
		CI:         ciClient,
		Dispatcher: disp,
		Recorder:   metrics.NoopRecorder{},
		locks:      newLockTable(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Publisher) recorder() metrics.Recorder {
	if p.Recorder != nil {
		return p.Recorder
	}
	return metrics.NoopRecorder{}
}

// Record returns build's current record, or a zero-value, unsaved record
// (Submitted/Completed/Built all nil) if none exists yet.
func (p *Publisher) Record(build gbp.Build) (gbp.BuildRecord, error) {
	r, err := p.DB.Get(build)
	if err == nil {
		return r, nil
	}
	if stderrors.Is(err, records.ErrRecordNotFound) {
		return gbp.BuildRecord{Build: build}, nil
	}
	return gbp.BuildRecord{}, fmt.Errorf("publisher: record %s: %w", build, err)
}

// Pulled reports whether build has both a completed record and a fully
// extracted content tree. Both halves must agree; a record marked
// complete whose content was since removed from disk is not "pulled".
func (p *Publisher) Pulled(build gbp.Build) bool {
	if !p.Store.Pulled(build) {
		return false
	}
	r, err := p.DB.Get(build)
	if err != nil {
		return false
	}
	return r.Completed != nil
}

// Pull fetches build's artifact from CI, extracts it into Storage,
// applies tags, fetches CI metadata and logs, and writes the gbp.json
// sidecar -- in that order, serialized per build by the lock table.
// Already-pulled builds return (false, nil) without re-fetching. A
// failure anywhere after the initial record save rolls the partial
// record and storage content back out rather than leaving a half-pulled
// build on disk.
func (p *Publisher) Pull(ctx context.Context, build gbp.Build, note *string, tags []string) (bool, error) {
	var pulled bool
	var err error
	p.locks.withBuildLock(build.String(), func() {
		pulled, err = p.pullLocked(ctx, build, note, tags)
	})
	return pulled, err
}

func (p *Publisher) pullLocked(ctx context.Context, build gbp.Build, note *string, tags []string) (bool, error) {
	if p.Pulled(build) {
		return false, nil
	}

	start := time.Now()
	rec, err := p.Record(build)
	if err != nil {
		return false, err
	}
	if note != nil {
		rec.Note = *note
	}
	rec, err = p.DB.Save(rec)
	if err != nil {
		return false, fmt.Errorf("publisher: pull %s: save initial record: %w", build, err)
	}

	if err := p.Dispatcher.Emit(dispatcher.PrePull, build); err != nil {
		p.logger().Warn("prepull subscriber failed",
			logfields.Machine(build.Machine), logfields.BuildID(build.ID), logfields.Error(err))
	}

	succeeded := false
	defer func() {
		if !succeeded {
			p.rollbackPartialPull(build)
			p.recorder().IncPullResult(build.Machine, metrics.ResultFailed)
		}
	}()

	artifact, err := p.CI.DownloadArtifact(ctx, build)
	if err != nil {
		return false, classifyCIErr(err, build)
	}
	defer artifact.Close()

	var previous *gbp.Build
	if prev, perr := p.DB.Previous(rec, true); perr == nil && prev != nil {
		previous = &prev.Build
	}

	if err := p.Store.ExtractArtifact(build, artifact, previous); err != nil {
		return false, fmt.Errorf("publisher: pull %s: extract artifact: %w", build, err)
	}

	for _, tag := range tags {
		if err := gbp.ValidateTagName(tag); err != nil {
			return false, ferrors.InvalidTagNameError(err.Error()).WithContext("build", build.String()).Build()
		}
		if err := p.Store.Tag(build, tag); err != nil {
			return false, fmt.Errorf("publisher: pull %s: tag %q: %w", build, tag, err)
		}
	}

	meta, err := p.CI.GetMetadata(ctx, build)
	if err != nil {
		return false, classifyCIErr(err, build)
	}
	logs, err := p.CI.GetLogs(ctx, build)
	if err != nil {
		return false, classifyCIErr(err, build)
	}

	built := time.Unix(meta.TimestampMS/1000, 0).UTC()
	completed := time.Now().UTC()
	rec.Built = &built
	rec.Completed = &completed
	rec.Logs = logs
	if rec, err = p.DB.Save(rec); err != nil {
		return false, fmt.Errorf("publisher: pull %s: save completed record: %w", build, err)
	}

	packages, err := p.Store.GetPackages(build)
	if err != nil {
		return false, fmt.Errorf("publisher: pull %s: read packages: %w", build, err)
	}
	gbpMeta := computeGBPMetadata(meta, packages)
	if err := p.Store.SetMetadata(build, gbpMeta); err != nil {
		return false, fmt.Errorf("publisher: pull %s: write metadata: %w", build, err)
	}

	succeeded = true
	p.recorder().ObservePullDuration(build.Machine, time.Since(start))
	p.recorder().IncPullResult(build.Machine, metrics.ResultSuccess)
	p.recorder().SetPackageCount(build.Machine, len(packages))

	if err := p.Dispatcher.Emit(dispatcher.PostPull, rec, packages, gbpMeta); err != nil {
		p.logger().Warn("postpull subscriber failed",
			logfields.Machine(build.Machine), logfields.BuildID(build.ID), logfields.Error(err))
	}
	return true, nil
}

// rollbackPartialPull removes whatever a failed pull managed to write,
// best-effort. Neither half existing is itself an error.
func (p *Publisher) rollbackPartialPull(build gbp.Build) {
	if err := p.DB.Delete(build); err != nil {
		p.logger().Warn("rollback: delete record failed",
			logfields.Machine(build.Machine), logfields.BuildID(build.ID), logfields.Error(err))
	}
	if err := p.Store.Delete(build); err != nil && !storage.IsNotFound(err) {
		p.logger().Warn("rollback: delete storage failed",
			logfields.Machine(build.Machine), logfields.BuildID(build.ID), logfields.Error(err))
	}
}

func classifyCIErr(err error, build gbp.Build) error {
	var nf ci.NotFoundError
	if stderrors.As(err, &nf) {
		return ferrors.WrapError(err, ferrors.CategoryNotFound, fmt.Sprintf("ci: artifact not found for %s", build)).
			WithContext("build", build.String()).Build()
	}
	return ferrors.WrapError(err, ferrors.CategoryTransport, fmt.Sprintf("ci: request failed for %s", build)).
		Retryable().WithContext("build", build.String()).Build()
}

// Publish pulls build first if needed, then makes it the published build
// for its machine.
func (p *Publisher) Publish(ctx context.Context, build gbp.Build) error {
	if !p.Pulled(build) {
		if _, err := p.Pull(ctx, build, nil, nil); err != nil {
			return err
		}
	}

	var err error
	p.locks.withMachineLock(build.Machine, func() {
		err = p.Store.Publish(build)
	})
	if err != nil {
		return fmt.Errorf("publisher: publish %s: %w", build, err)
	}

	rec, err := p.DB.Get(build)
	if err != nil {
		return fmt.Errorf("publisher: publish %s: reload record: %w", build, err)
	}

	p.recorder().IncPublish(build.Machine)
	if err := p.Dispatcher.Emit(dispatcher.Published, rec); err != nil {
		p.logger().Warn("published subscriber failed",
			logfields.Machine(build.Machine), logfields.BuildID(build.ID), logfields.Error(err))
	}
	return nil
}

// Tag assigns tag to build, replacing whatever build the tag previously
// pointed to for that machine. The empty tag (gbp.PublishedTag) is
// rejected; use Publish instead.
func (p *Publisher) Tag(build gbp.Build, tag string) error {
	if tag == gbp.PublishedTag {
		return ferrors.InvalidTagNameError("tag must not be empty; use Publish for the published tag").Build()
	}
	if err := gbp.ValidateTagName(tag); err != nil {
		return ferrors.InvalidTagNameError(err.Error()).WithContext("tag", tag).Build()
	}

	var err error
	p.locks.withMachineLock(build.Machine, func() {
		err = p.Store.Tag(build, tag)
	})
	if err != nil {
		return fmt.Errorf("publisher: tag %s %q: %w", build, tag, err)
	}

	if err := p.Dispatcher.Emit(dispatcher.Tagged, build, tag); err != nil {
		p.logger().Warn("tagged subscriber failed",
			logfields.Machine(build.Machine), logfields.Tag(tag), logfields.Error(err))
	}
	return nil
}

// Untag removes tag from machine, if present.
func (p *Publisher) Untag(machine, tag string) error {
	var err error
	p.locks.withMachineLock(machine, func() {
		err = p.Store.Untag(machine, tag)
	})
	if err != nil {
		return fmt.Errorf("publisher: untag %s %q: %w", machine, tag, err)
	}

	if err := p.Dispatcher.Emit(dispatcher.Untagged, machine, tag); err != nil {
		p.logger().Warn("untagged subscriber failed",
			logfields.Machine(machine), logfields.Tag(tag), logfields.Error(err))
	}
	return nil
}

// Tags lists build's tags, excluding the published (empty) tag.
func (p *Publisher) Tags(build gbp.Build) ([]string, error) {
	tags, err := p.Store.GetTags(build, false)
	if err != nil {
		return nil, fmt.Errorf("publisher: tags %s: %w", build, err)
	}
	return tags, nil
}

// Delete removes build's record and storage content. Both halves are
// best-effort: a missing record or missing storage tree is not an error,
// since Delete must be safe to retry after a partial prior failure.
func (p *Publisher) Delete(ctx context.Context, build gbp.Build) error {
	if err := p.Dispatcher.Emit(dispatcher.PreDelete, build); err != nil {
		p.logger().Warn("predelete subscriber failed",
			logfields.Machine(build.Machine), logfields.BuildID(build.ID), logfields.Error(err))
	}

	p.locks.withBuildLock(build.String(), func() {
		p.locks.withMachineLock(build.Machine, func() {
			p.deleteLocked(build)
		})
	})
	p.recorder().IncDelete(build.Machine)

	if err := p.Dispatcher.Emit(dispatcher.PostDelete, build); err != nil {
		p.logger().Warn("postdelete subscriber failed",
			logfields.Machine(build.Machine), logfields.BuildID(build.ID), logfields.Error(err))
	}
	return nil
}

func (p *Publisher) deleteLocked(build gbp.Build) {
	if err := p.DB.Delete(build); err != nil {
		p.logger().Warn("delete: record delete failed",
			logfields.Machine(build.Machine), logfields.BuildID(build.ID), logfields.Error(err))
	}
	if err := p.Store.Delete(build); err != nil && !storage.IsNotFound(err) {
		p.logger().Warn("delete: storage delete failed",
			logfields.Machine(build.Machine), logfields.BuildID(build.ID), logfields.Error(err))
	}
}

// Purge removes machine's unkept, untagged, non-published records past
// the retention window computed by internal/purge, keyed on each
// record's Submitted timestamp.
func (p *Publisher) Purge(ctx context.Context, machine string) error {
	var err error
	p.locks.withMachineLock(machine, func() {
		err = p.purgeLocked(machine)
	})
	return err
}

func (p *Publisher) purgeLocked(machine string) error {
	recs, err := p.DB.ForMachine(machine)
	if err != nil {
		return fmt.Errorf("publisher: purge %s: %w", machine, err)
	}

	keyFn := func(r gbp.BuildRecord) time.Time {
		if r.Submitted != nil {
			return r.Submitted.UTC()
		}
		return time.Time{}
	}
	discardable := purge.Apply(recs, keyFn, time.Now().UTC(), nil)

	removed := 0
	for _, r := range discardable {
		if r.Keep {
			continue
		}
		if p.Store.Published(r.Build) {
			continue
		}
		if tags, terr := p.Store.GetTags(r.Build, false); terr == nil && len(tags) > 0 {
			continue
		}
		if err := p.DB.Delete(r.Build); err != nil {
			p.logger().Warn("purge: record delete failed",
				logfields.Machine(machine), logfields.BuildID(r.ID), logfields.Error(err))
			continue
		}
		if err := p.Store.Delete(r.Build); err != nil && !storage.IsNotFound(err) {
			p.logger().Warn("purge: storage delete failed",
				logfields.Machine(machine), logfields.BuildID(r.ID), logfields.Error(err))
		}
		removed++
	}
	p.recorder().IncPurge(machine, removed)
	return nil
}

// LatestBuild returns machine's most recent record, optionally restricted
// to completed pulls.
func (p *Publisher) LatestBuild(machine string, completedOnly bool) (*gbp.BuildRecord, error) {
	r, err := p.DB.Latest(machine, completedOnly)
	if err != nil {
		return nil, fmt.Errorf("publisher: latest build for %s: %w", machine, err)
	}
	return r, nil
}

// Search delegates to the RecordDB's substring search.
func (p *Publisher) Search(machine string, field records.SearchField, key string) ([]gbp.BuildRecord, error) {
	recs, err := p.DB.Search(machine, field, key)
	if err != nil {
		return nil, fmt.Errorf("publisher: search %s %s=%q: %w", machine, field, key, err)
	}
	return recs, nil
}

// BuildMetadata returns build's gbp.json sidecar if Storage already wrote
// one, or synthesizes an equivalent summary from the package index and
// record timestamps otherwise.
func (p *Publisher) BuildMetadata(build gbp.Build) (gbp.GBPMetadata, error) {
	meta, err := p.Store.GetMetadata(build)
	if err == nil {
		return meta, nil
	}
	if !storage.IsNotFound(err) {
		return gbp.GBPMetadata{}, fmt.Errorf("publisher: build metadata %s: %w", build, err)
	}

	packages, err := p.Store.GetPackages(build)
	if err != nil {
		return gbp.GBPMetadata{}, fmt.Errorf("publisher: build metadata %s: %w", build, err)
	}

	var duration int
	if rec, rerr := p.DB.Get(build); rerr == nil && rec.Built != nil && rec.Completed != nil {
		duration = int(rec.Completed.Sub(*rec.Built).Seconds())
	}

	var total int64
	for _, pkg := range packages {
		total += pkg.Size
	}
	return gbp.GBPMetadata{
		BuildDuration: duration,
		Packages:      gbp.PackagesSummary{Total: len(packages), Size: total, Built: packages},
	}, nil
}

// computeGBPMetadata builds the gbp.json sidecar contents from the CI's
// reported duration and the build's package index: "built" is the subset
// of packages whose build time is at or after the CI-reported build
// timestamp, preserving index order; "total"/"size" cover every package.
func computeGBPMetadata(meta ci.BuildMetadata, packages []gbp.Package) gbp.GBPMetadata {
	builtSec := meta.TimestampMS / 1000

	var built []gbp.Package
	var total int64
	for _, pkg := range packages {
		total += pkg.Size
		if pkg.BuildTime >= builtSec {
			built = append(built, pkg)
		}
	}

	return gbp.GBPMetadata{
		BuildDuration: meta.DurationSeconds,
		Packages:      gbp.PackagesSummary{Total: len(packages), Size: total, Built: built},
	}
}
