// Package settings loads the typed, environment-sourced configuration
// described by the BUILD_PUBLISHER_ prefix: Jenkins CI connection details,
// storage location, backend selection and the API-key mutation guard.
package settings

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/enku/gbp/internal/foundation/normalization"
)

const envPrefix = "BUILD_PUBLISHER_"

// RecordsBackend selects the RecordDB implementation.
type RecordsBackend string

const (
	RecordsBackendMemory RecordsBackend = "memory"
	RecordsBackendSQL    RecordsBackend = "sql"
)

// WorkerBackend selects the Worker implementation.
type WorkerBackend string

const (
	WorkerBackendSync   WorkerBackend = "sync"
	WorkerBackendThread WorkerBackend = "thread"
	WorkerBackendQueue  WorkerBackend = "queue"
)

// Settings is the fully-typed, validated configuration for a GBP process.
type Settings struct {
	JenkinsBaseURL           string
	JenkinsUser              string
	JenkinsAPIKey            string
	JenkinsArtifactName      string
	JenkinsDownloadChunkSize int

	StoragePath string

	RecordsBackend RecordsBackend
	WorkerBackend  WorkerBackend

	EnablePurge bool
	PurgeCron   string

	WatchTmp bool

	MetricsEnable bool

	APIKeyEnable bool
	APIKeyKey    []byte
	APIKeyLength int
}

var boolNormalizer = normalization.NewNormalizer(map[string]bool{
	"0": false, "f": false, "false": false, "n": false, "no": false, "off": false,
	"1": true, "t": true, "true": true, "y": true, "yes": true, "on": true,
}, false)

var recordsBackendNormalizer = normalization.NewNormalizer(map[string]RecordsBackend{
	"memory": RecordsBackendMemory,
	"sql":    RecordsBackendSQL,
}, RecordsBackendMemory)

var workerBackendNormalizer = normalization.NewNormalizer(map[string]WorkerBackend{
	"sync":   WorkerBackendSync,
	"thread": WorkerBackendThread,
	"queue":  WorkerBackendQueue,
}, WorkerBackendSync)

// Load reads settings from the process environment, with a prefix of
// BUILD_PUBLISHER_. If a .env or .env.local file is present in the working
// directory, its values are loaded first (without overriding variables
// already set in the environment), mirroring the teacher's dev-convenience
// env-file loading but backed by a real godotenv import.
func Load() (*Settings, error) {
	_ = godotenv.Load(".env.local", ".env")
	return FromLookup(os.LookupEnv)
}

// FromLookup builds Settings from an arbitrary env-var lookup function,
// so tests can exercise the parsing/validation logic against an in-memory
// map instead of the real process environment.
func FromLookup(lookup func(string) (string, bool)) (*Settings, error) {
	get := func(key, def string) string {
		if v, ok := lookup(envPrefix + key); ok {
			return v
		}
		return def
	}
	getInt := func(key string, def int) int {
		raw, ok := lookup(envPrefix + key)
		if !ok {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return def
		}
		return n
	}

	s := &Settings{
		JenkinsArtifactName:      get("JENKINS_ARTIFACT_NAME", "build.tar.gz"),
		JenkinsDownloadChunkSize: getInt("JENKINS_DOWNLOAD_CHUNK_SIZE", 2*1024*1024),
		JenkinsUser:              get("JENKINS_USER", ""),
		JenkinsAPIKey:            get("JENKINS_API_KEY", ""),
		JenkinsBaseURL:           get("JENKINS_BASE_URL", ""),
		StoragePath:              get("STORAGE_PATH", ""),
		EnablePurge:              boolNormalizer.Normalize(get("ENABLE_PURGE", "false")),
		// No explicit schedule exists in the original Celery-beat
		// deployment config; daily-at-03:00 is a reasonable default for a
		// background purge and is documented as such in DESIGN.md.
		PurgeCron:     get("PURGE_CRON", "0 3 * * *"),
		WatchTmp:      boolNormalizer.Normalize(get("WATCH_TMP", "false")),
		MetricsEnable: boolNormalizer.Normalize(get("METRICS_ENABLE", "false")),
		APIKeyEnable:  boolNormalizer.Normalize(get("API_KEY_ENABLE", "false")),
		APIKeyLength:  getInt("API_KEY_LENGTH", 32),
	}

	if s.JenkinsBaseURL == "" {
		return nil, fmt.Errorf("settings: %sJENKINS_BASE_URL is required", envPrefix)
	}
	if s.StoragePath == "" {
		return nil, fmt.Errorf("settings: %sSTORAGE_PATH is required", envPrefix)
	}

	// RECORDS_BACKEND and WORKER_BACKEND are required enums (spec section
	// 6); an empty or unrecognized value is a startup error, not a silent
	// fallback to memory/sync.
	recordsBackend, err := recordsBackendNormalizer.NormalizeWithError(get("RECORDS_BACKEND", ""))
	if err != nil {
		return nil, fmt.Errorf("settings: %sRECORDS_BACKEND: %w", envPrefix, err)
	}
	s.RecordsBackend = recordsBackend

	workerBackend, err := workerBackendNormalizer.NormalizeWithError(get("WORKER_BACKEND", ""))
	if err != nil {
		return nil, fmt.Errorf("settings: %sWORKER_BACKEND: %w", envPrefix, err)
	}
	s.WorkerBackend = workerBackend
	if (s.JenkinsUser == "") != (s.JenkinsAPIKey == "") {
		return nil, fmt.Errorf("settings: %sJENKINS_USER and %sJENKINS_API_KEY must be set together", envPrefix, envPrefix)
	}

	if s.APIKeyEnable {
		raw := get("API_KEY_KEY", "")
		if raw == "" {
			return nil, fmt.Errorf("settings: %sAPI_KEY_KEY is required when %sAPI_KEY_ENABLE is set", envPrefix, envPrefix)
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("settings: %sAPI_KEY_KEY is not valid base64: %w", envPrefix, err)
		}
		s.APIKeyKey = key
	}

	return s, nil
}
