package metrics

import (
	"testing"
	"time"
)

func TestTestRecorderTracksPullsAndPurges(t *testing.T) {
	r := newTestRecorder()
	r.ObservePullDuration("babette", 10*time.Millisecond)
	r.IncPullResult("babette", ResultSuccess)
	r.IncPublish("babette")
	r.IncPurge("babette", 3)

	if r.pullDurations != 1 {
		t.Fatalf("expected 1 pull duration observation, got %d", r.pullDurations)
	}
	if r.pullResults["babette"][ResultSuccess] != 1 {
		t.Fatalf("expected 1 success result, got %+v", r.pullResults)
	}
	if r.publishes["babette"] != 1 {
		t.Fatalf("expected 1 publish, got %d", r.publishes["babette"])
	}
	if r.purged["babette"] != 3 {
		t.Fatalf("expected 3 purged, got %d", r.purged["babette"])
	}
}

func TestNoopRecorderSatisfiesInterface(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObservePullDuration("babette", time.Second)
	r.IncPullResult("babette", ResultFailed)
	r.IncPublish("babette")
	r.IncDelete("babette")
	r.IncPurge("babette", 1)
	r.SetPackageCount("babette", 5)
	r.ObserveTaskDuration("gbp.pull_build", time.Second)
	r.IncTaskResult("gbp.pull_build", ResultSuccess)
	r.IncTaskRetry("gbp.pull_build")
	r.IncTaskRetryExhausted("gbp.pull_build")
	r.IncIntegrityFinding("build_content", "error")
}

type testRecorder struct {
	pullDurations int
	pullResults   map[string]map[ResultLabel]int
	publishes     map[string]int
	purged        map[string]int
}

func newTestRecorder() *testRecorder {
	return &testRecorder{
		pullResults: map[string]map[ResultLabel]int{},
		publishes:   map[string]int{},
		purged:      map[string]int{},
	}
}

func (t *testRecorder) ObservePullDuration(string, time.Duration) { t.pullDurations++ }
func (t *testRecorder) IncPullResult(machine string, result ResultLabel) {
	m, ok := t.pullResults[machine]
	if !ok {
		m = map[ResultLabel]int{}
		t.pullResults[machine] = m
	}
	m[result]++
}
func (t *testRecorder) IncPublish(machine string) { t.publishes[machine]++ }
func (t *testRecorder) IncDelete(string)           {}
func (t *testRecorder) IncPurge(machine string, removed int) { t.purged[machine] += removed }
func (t *testRecorder) SetPackageCount(string, int)          {}
func (t *testRecorder) ObserveTaskDuration(string, time.Duration) {}
func (t *testRecorder) IncTaskResult(string, ResultLabel)         {}
func (t *testRecorder) IncTaskRetry(string)                       {}
func (t *testRecorder) IncTaskRetryExhausted(string)              {}
func (t *testRecorder) IncIntegrityFinding(string, string)        {}
