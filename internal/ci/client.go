// Package ci defines the CI-server client contract and a Jenkins-style
// HTTP implementation. The upstream CI server itself, and its job-creation
// payloads, are out of scope; only the four operations the Publisher needs
// are modelled.
package ci

import (
	"context"
	"io"

	"github.com/enku/gbp/internal/gbp"
)

// BuildMetadata is the (duration, timestamp) pair the CI server reports
// for a finished build.
type BuildMetadata struct {
	DurationSeconds int
	TimestampMS     int64
}

// NotFoundError marks an HTTP 404 from the CI server, distinguished from
// other transport failures because the worker's retry policy treats it as
// terminal (see internal/worker).
type NotFoundError struct {
	Build gbp.Build
}

func (e NotFoundError) Error() string {
	return "ci: build not found: " + e.Build.String()
}

// Client talks to the external CI server. All four operations may fail
// with a transport error; a 404 response must be reported as
// NotFoundError rather than a generic error.
type Client interface {
	// DownloadArtifact streams the build's artifact tar. Callers must
	// Close the returned ReadCloser.
	DownloadArtifact(ctx context.Context, build gbp.Build) (io.ReadCloser, error)

	// GetLogs fetches the captured console log for the build.
	GetLogs(ctx context.Context, build gbp.Build) (string, error)

	// GetMetadata fetches the build's duration and CI-reported timestamp.
	GetMetadata(ctx context.Context, build gbp.Build) (BuildMetadata, error)

	// ScheduleBuild requests a new build for machine with the given
	// parameters, returning an optional queue URL for polling.
	ScheduleBuild(ctx context.Context, machine string, params map[string]string) (queueURL string, err error)
}
