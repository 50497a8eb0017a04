// Command gbp-worker wires Settings, the RecordDB/Storage/CI
// collaborators and the Publisher facade into a running task worker.
// Argument parsing is deliberately minimal: almost everything is
// configured via BUILD_PUBLISHER_ environment variables (see
// internal/settings), per the CLI non-goal in the specification this
// implements.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/enku/gbp/internal/ci"
	"github.com/enku/gbp/internal/dispatcher"
	ferrors "github.com/enku/gbp/internal/foundation/errors"
	"github.com/enku/gbp/internal/metrics"
	"github.com/enku/gbp/internal/publisher"
	"github.com/enku/gbp/internal/records"
	"github.com/enku/gbp/internal/settings"
	"github.com/enku/gbp/internal/stats"
	"github.com/enku/gbp/internal/storage"
	"github.com/enku/gbp/internal/worker"
)

// Set at build time with: -ldflags "-X main.version=1.0.0"
var version = "dev"

type cli struct {
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`
}

func main() {
	kong.Parse(&cli{}, kong.Name("gbp-worker"),
		kong.Description("Runs the Gentoo Build Publisher task worker."),
		kong.Vars{"version": version})

	if err := run(); err != nil {
		ferrors.NewCLIErrorAdapter(false, slog.Default()).HandleError(err)
	}
}

func run() error {
	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("gbp-worker: load settings: %w", err)
	}

	store, err := storage.New(cfg.StoragePath)
	if err != nil {
		return fmt.Errorf("gbp-worker: init storage: %w", err)
	}

	db, err := openRecordDB(cfg)
	if err != nil {
		return fmt.Errorf("gbp-worker: init records: %w", err)
	}
	defer db.Close()

	ciClient := ci.NewJenkinsClient(cfg.JenkinsBaseURL, cfg.JenkinsArtifactName,
		cfg.JenkinsDownloadChunkSize, cfg.JenkinsUser, cfg.JenkinsAPIKey)

	recorder := openRecorder(cfg)

	disp := dispatcher.New()
	pub := publisher.New(db, store, ciClient, disp,
		publisher.WithRecorder(recorder),
		publisher.WithLogger(slog.Default()))

	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("gbp-worker: init worker backend: %w", err)
	}
	defer backend.Close()

	tasks := &worker.Tasks{Publisher: pub, Backend: backend, EnablePurge: cfg.EnablePurge}
	tasks.RegisterAll(backend)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.EnablePurge {
		sched, err := newPurgeScheduler(backend, cfg, db)
		if err != nil {
			return fmt.Errorf("gbp-worker: init purge scheduler: %w", err)
		}
		sched.Start()
		defer func() {
			if err := sched.Stop(); err != nil {
				slog.Default().Error("purge scheduler stop failed", "error", err)
			}
		}()
	}

	if cfg.WatchTmp {
		checker := &stats.Checker{DB: db, Store: store}
		go func() {
			err := checker.WatchTmp(ctx, 500*time.Millisecond, func(f stats.Finding) {
				slog.Default().Warn("live integrity finding", "check", f.Check, "message", f.Message)
				recorder.IncIntegrityFinding(f.Check, "warning")
			})
			if err != nil {
				slog.Default().Error("tmp watcher stopped", "error", err)
			}
		}()
	}

	if err := backend.Work(ctx); err != nil {
		return fmt.Errorf("gbp-worker: worker stopped: %w", err)
	}
	return nil
}

// openRecorder selects the metrics.Recorder implementation from settings;
// Prometheus collectors are always registered into a fresh registry when
// enabled, so a future HTTP exposition point has something to serve.
func openRecorder(cfg *settings.Settings) metrics.Recorder {
	if !cfg.MetricsEnable {
		return metrics.NoopRecorder{}
	}
	return metrics.NewPrometheusRecorder(nil)
}

// newPurgeScheduler builds a Scheduler that enqueues PurgeMachine on a cron
// schedule for every machine known at startup, mirroring the periodic purge
// task the original Celery-beat deployment ran alongside the per-pull purge
// worker.Tasks already enqueues.
func newPurgeScheduler(backend worker.Backend, cfg *settings.Settings, db records.DB) (*worker.Scheduler, error) {
	sched, err := worker.NewScheduler(backend, slog.Default())
	if err != nil {
		return nil, err
	}
	machines, err := db.ListMachines()
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	if err := sched.SchedulePurge(cfg.PurgeCron, machines); err != nil {
		return nil, err
	}
	return sched, nil
}

func openRecordDB(cfg *settings.Settings) (records.DB, error) {
	switch cfg.RecordsBackend {
	case settings.RecordsBackendSQL:
		return records.OpenSQLite(cfg.StoragePath + "/records.db")
	default:
		return records.NewMemory(), nil
	}
}

func openBackend(cfg *settings.Settings) (worker.Backend, error) {
	switch cfg.WorkerBackend {
	case settings.WorkerBackendThread:
		return worker.NewThread(), nil
	case settings.WorkerBackendQueue:
		return worker.NewNATSQueue(context.Background(), os.Getenv("BUILD_PUBLISHER_NATS_URL"), "gbp-tasks", "gbp")
	default:
		return worker.NewSync(), nil
	}
}
