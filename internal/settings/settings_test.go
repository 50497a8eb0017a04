package settings

import "testing"

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	s, err := FromLookup(lookupFrom(map[string]string{
		"BUILD_PUBLISHER_JENKINS_BASE_URL": "https://jenkins.example.com",
		"BUILD_PUBLISHER_STORAGE_PATH":     "/var/lib/gbp",
		"BUILD_PUBLISHER_RECORDS_BACKEND":  "sql",
		"BUILD_PUBLISHER_WORKER_BACKEND":   "thread",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.JenkinsArtifactName != "build.tar.gz" {
		t.Fatalf("artifact name default = %q", s.JenkinsArtifactName)
	}
	if s.JenkinsDownloadChunkSize != 2*1024*1024 {
		t.Fatalf("chunk size default = %d", s.JenkinsDownloadChunkSize)
	}
	if s.RecordsBackend != RecordsBackendSQL {
		t.Fatalf("records backend = %q", s.RecordsBackend)
	}
	if s.WorkerBackend != WorkerBackendThread {
		t.Fatalf("worker backend = %q", s.WorkerBackend)
	}
	if s.EnablePurge {
		t.Fatalf("enable purge should default false")
	}
	if s.PurgeCron != "0 3 * * *" {
		t.Fatalf("purge cron default = %q", s.PurgeCron)
	}
	if s.WatchTmp {
		t.Fatalf("watch tmp should default false")
	}
	if s.MetricsEnable {
		t.Fatalf("metrics enable should default false")
	}
}

func TestFromLookupMissingRequired(t *testing.T) {
	if _, err := FromLookup(lookupFrom(map[string]string{})); err == nil {
		t.Fatalf("expected error when JENKINS_BASE_URL/STORAGE_PATH unset")
	}
}

func TestFromLookupJenkinsAuthPairing(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		"BUILD_PUBLISHER_JENKINS_BASE_URL": "https://jenkins.example.com",
		"BUILD_PUBLISHER_STORAGE_PATH":     "/var/lib/gbp",
		"BUILD_PUBLISHER_JENKINS_USER":     "bob",
		"BUILD_PUBLISHER_RECORDS_BACKEND":  "memory",
		"BUILD_PUBLISHER_WORKER_BACKEND":   "sync",
	}))
	if err == nil {
		t.Fatalf("expected error when only JENKINS_USER is set")
	}
}

func TestFromLookupBooleanGrammar(t *testing.T) {
	cases := map[string]bool{"0": false, "off": false, "No": false, "1": true, "Yes": true, "ON": true}
	for raw, want := range cases {
		s, err := FromLookup(lookupFrom(map[string]string{
			"BUILD_PUBLISHER_JENKINS_BASE_URL": "https://jenkins.example.com",
			"BUILD_PUBLISHER_STORAGE_PATH":     "/var/lib/gbp",
			"BUILD_PUBLISHER_RECORDS_BACKEND":  "memory",
			"BUILD_PUBLISHER_WORKER_BACKEND":   "sync",
			"BUILD_PUBLISHER_ENABLE_PURGE":     raw,
		}))
		if err != nil {
			t.Fatalf("raw=%q: unexpected error: %v", raw, err)
		}
		if s.EnablePurge != want {
			t.Fatalf("raw=%q: EnablePurge = %v, want %v", raw, s.EnablePurge, want)
		}
	}
}

func TestFromLookupRequiresRecordsBackend(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		"BUILD_PUBLISHER_JENKINS_BASE_URL": "https://jenkins.example.com",
		"BUILD_PUBLISHER_STORAGE_PATH":     "/var/lib/gbp",
		"BUILD_PUBLISHER_WORKER_BACKEND":   "sync",
	}))
	if err == nil {
		t.Fatalf("expected error when RECORDS_BACKEND is unset")
	}
}

func TestFromLookupRejectsUnknownWorkerBackend(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		"BUILD_PUBLISHER_JENKINS_BASE_URL": "https://jenkins.example.com",
		"BUILD_PUBLISHER_STORAGE_PATH":     "/var/lib/gbp",
		"BUILD_PUBLISHER_RECORDS_BACKEND":  "memory",
		"BUILD_PUBLISHER_WORKER_BACKEND":   "bogus",
	}))
	if err == nil {
		t.Fatalf("expected error for unrecognized WORKER_BACKEND")
	}
}

func TestFromLookupAPIKeyRequiresKeyWhenEnabled(t *testing.T) {
	_, err := FromLookup(lookupFrom(map[string]string{
		"BUILD_PUBLISHER_JENKINS_BASE_URL": "https://jenkins.example.com",
		"BUILD_PUBLISHER_STORAGE_PATH":     "/var/lib/gbp",
		"BUILD_PUBLISHER_API_KEY_ENABLE":   "true",
		"BUILD_PUBLISHER_RECORDS_BACKEND":  "memory",
		"BUILD_PUBLISHER_WORKER_BACKEND":   "sync",
	}))
	if err == nil {
		t.Fatalf("expected error when API_KEY_ENABLE=true without API_KEY_KEY")
	}
}
