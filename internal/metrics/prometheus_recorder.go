package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once sync.Once

	pullDuration     *prom.HistogramVec
	pullResults      *prom.CounterVec
	publishes        *prom.CounterVec
	deletes          *prom.CounterVec
	purgedRecords    *prom.CounterVec
	packageCount     *prom.GaugeVec
	taskDuration     *prom.HistogramVec
	taskResults      *prom.CounterVec
	taskRetries      *prom.CounterVec
	taskRetriesSpent *prom.CounterVec
	integrityFindings *prom.CounterVec
}

// NewPrometheusRecorder constructs Prometheus metrics and registers them with
// reg, or with a fresh registry when reg is nil. Every call builds and
// registers a new set of collectors, so a second call with the same registry
// panics on duplicate registration.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.pullDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "gbp",
			Name:      "pull_duration_seconds",
			Help:      "Duration of Publisher.Pull by machine",
			Buckets:   prom.DefBuckets,
		}, []string{"machine"})
		pr.pullResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gbp",
			Name:      "pull_results_total",
			Help:      "Pull outcomes by machine and result",
		}, []string{"machine", "result"})
		pr.publishes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gbp",
			Name:      "publishes_total",
			Help:      "Successful Publish calls by machine",
		}, []string{"machine"})
		pr.deletes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gbp",
			Name:      "deletes_total",
			Help:      "Delete calls by machine",
		}, []string{"machine"})
		pr.purgedRecords = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gbp",
			Name:      "purged_records_total",
			Help:      "Records removed by Purge, by machine",
		}, []string{"machine"})
		pr.packageCount = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "gbp",
			Name:      "latest_package_count",
			Help:      "Package count of the latest pulled build, by machine",
		}, []string{"machine"})
		pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "gbp",
			Name:      "task_duration_seconds",
			Help:      "Worker task run time by task type",
			Buckets:   prom.DefBuckets,
		}, []string{"task"})
		pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gbp",
			Name:      "task_results_total",
			Help:      "Worker task outcomes by task type and result",
		}, []string{"task", "result"})
		pr.taskRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gbp",
			Name:      "task_retries_total",
			Help:      "Worker task retries by task type",
		}, []string{"task"})
		pr.taskRetriesSpent = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gbp",
			Name:      "task_retries_exhausted_total",
			Help:      "Worker tasks that exhausted their retry budget",
		}, []string{"task"})
		pr.integrityFindings = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gbp",
			Name:      "integrity_findings_total",
			Help:      "Integrity check findings by check name and severity",
		}, []string{"check", "severity"})
		reg.MustRegister(
			pr.pullDuration, pr.pullResults, pr.publishes, pr.deletes,
			pr.purgedRecords, pr.packageCount, pr.taskDuration, pr.taskResults,
			pr.taskRetries, pr.taskRetriesSpent, pr.integrityFindings,
		)
	})
	return pr
}

func (p *PrometheusRecorder) ObservePullDuration(machine string, d time.Duration) {
	if p == nil || p.pullDuration == nil {
		return
	}
	p.pullDuration.WithLabelValues(machine).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncPullResult(machine string, result ResultLabel) {
	if p == nil || p.pullResults == nil {
		return
	}
	p.pullResults.WithLabelValues(machine, string(result)).Inc()
}

func (p *PrometheusRecorder) IncPublish(machine string) {
	if p == nil || p.publishes == nil {
		return
	}
	p.publishes.WithLabelValues(machine).Inc()
}

func (p *PrometheusRecorder) IncDelete(machine string) {
	if p == nil || p.deletes == nil {
		return
	}
	p.deletes.WithLabelValues(machine).Inc()
}

func (p *PrometheusRecorder) IncPurge(machine string, removed int) {
	if p == nil || p.purgedRecords == nil || removed <= 0 {
		return
	}
	p.purgedRecords.WithLabelValues(machine).Add(float64(removed))
}

func (p *PrometheusRecorder) SetPackageCount(machine string, n int) {
	if p == nil || p.packageCount == nil {
		return
	}
	p.packageCount.WithLabelValues(machine).Set(float64(n))
}

func (p *PrometheusRecorder) ObserveTaskDuration(task string, d time.Duration) {
	if p == nil || p.taskDuration == nil {
		return
	}
	p.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTaskResult(task string, result ResultLabel) {
	if p == nil || p.taskResults == nil {
		return
	}
	p.taskResults.WithLabelValues(task, string(result)).Inc()
}

func (p *PrometheusRecorder) IncTaskRetry(task string) {
	if p == nil || p.taskRetries == nil {
		return
	}
	p.taskRetries.WithLabelValues(task).Inc()
}

func (p *PrometheusRecorder) IncTaskRetryExhausted(task string) {
	if p == nil || p.taskRetriesSpent == nil {
		return
	}
	p.taskRetriesSpent.WithLabelValues(task).Inc()
}

func (p *PrometheusRecorder) IncIntegrityFinding(check string, severity string) {
	if p == nil || p.integrityFindings == nil {
		return
	}
	p.integrityFindings.WithLabelValues(check, severity).Inc()
}
