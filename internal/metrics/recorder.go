package metrics

import "time"

// ResultLabel enumerates pull/task outcome categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultSkipped  ResultLabel = "skipped"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for publisher and worker metrics.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for nil receivers when using the NoopRecorder (allowing
// optional injection).
type Recorder interface {
	// ObservePullDuration records how long a Pull took for machine.
	ObservePullDuration(machine string, d time.Duration)
	// IncPullResult counts a completed Pull by outcome.
	IncPullResult(machine string, result ResultLabel)
	// IncPublish counts a successful Publish for machine.
	IncPublish(machine string)
	// IncDelete counts a Delete for machine.
	IncDelete(machine string)
	// IncPurge counts the number of records removed by a Purge run.
	IncPurge(machine string, removed int)
	// SetPackageCount reports the latest pulled build's package count.
	SetPackageCount(machine string, n int)
	// ObserveTaskDuration records a worker task's run time.
	ObserveTaskDuration(task string, d time.Duration)
	// IncTaskResult counts a finished worker task by outcome.
	IncTaskResult(task string, result ResultLabel)
	// IncTaskRetry counts a task requeued after a retryable failure.
	IncTaskRetry(task string)
	// IncTaskRetryExhausted counts a task that ran out of retry attempts.
	IncTaskRetryExhausted(task string)
	// IncIntegrityFinding counts an integrity check finding by check name
	// and severity ("error" or "warning").
	IncIntegrityFinding(check string, severity string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePullDuration(string, time.Duration) {}
func (NoopRecorder) IncPullResult(string, ResultLabel)         {}
func (NoopRecorder) IncPublish(string)                         {}
func (NoopRecorder) IncDelete(string)                          {}
func (NoopRecorder) IncPurge(string, int)                      {}
func (NoopRecorder) SetPackageCount(string, int)               {}
func (NoopRecorder) ObserveTaskDuration(string, time.Duration) {}
func (NoopRecorder) IncTaskResult(string, ResultLabel)         {}
func (NoopRecorder) IncTaskRetry(string)                       {}
func (NoopRecorder) IncTaskRetryExhausted(string)              {}
func (NoopRecorder) IncIntegrityFinding(string, string)        {}
