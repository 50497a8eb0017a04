// Package logfields provides canonical log field names and helpers for structured logging across GBP.
package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
// These are used for structured logging with slog.
const (
	KeyMachine     = "machine"
	KeyBuildID     = "build_id"
	KeyTag         = "tag"
	KeyEvent       = "event"
	KeyTaskID      = "task_id"
	KeyTaskType    = "task_type"
	KeyAttempt     = "attempt"
	KeyStage       = "stage"
	KeyDurationMS  = "duration_ms"
	KeyScheduleID  = "schedule_id"
	KeySchedule    = "schedule_name"
	KeyPackage     = "package"
	KeySection     = "section"
	KeyError       = "error"
	KeyPath        = "path"
	KeyFile        = "file"
	KeyWorker      = "worker"
	KeyMethod      = "method"
	KeyUserAgent   = "user_agent"
	KeyRemoteAddr  = "remote_addr"
	KeyRequestID   = "request_id"
	KeyStatus      = "status"
	KeyResponseSz  = "response_size"
	KeyCIServer    = "ci_server"
	KeyContentLen  = "content_length"
	KeyName        = "name"
	KeyURL         = "url"
)

// Machine returns a slog.Attr for a machine name.
func Machine(m string) slog.Attr { return slog.String(KeyMachine, m) }

// BuildID returns a slog.Attr for a CI build id.
func BuildID(id string) slog.Attr { return slog.String(KeyBuildID, id) }

// Tag returns a slog.Attr for a tag name.
func Tag(t string) slog.Attr { return slog.String(KeyTag, t) }

// Event returns a slog.Attr for a dispatcher event name.
func Event(e string) slog.Attr { return slog.String(KeyEvent, e) }

// TaskID returns a slog.Attr for a worker task id.
func TaskID(id string) slog.Attr { return slog.String(KeyTaskID, id) }

// TaskType returns a slog.Attr for a worker task type.
func TaskType(t string) slog.Attr { return slog.String(KeyTaskType, t) }

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr { return slog.Int(KeyAttempt, n) }

// Stage returns a slog.Attr for stage name.
func Stage(name string) slog.Attr { return slog.String(KeyStage, name) }

// DurationMS returns a slog.Attr for duration in ms.
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }

// ScheduleID returns a slog.Attr for schedule ID.
func ScheduleID(id string) slog.Attr { return slog.String(KeyScheduleID, id) }

// ScheduleName returns a slog.Attr for schedule name.
func ScheduleName(n string) slog.Attr { return slog.String(KeySchedule, n) }

// Package returns a slog.Attr for a package CPV.
func Package(cpv string) slog.Attr { return slog.String(KeyPackage, cpv) }

// Section returns a slog.Attr for section name.
func Section(s string) slog.Attr { return slog.String(KeySection, s) }

// Path returns a slog.Attr for a file path.
func Path(p string) slog.Attr { return slog.String(KeyPath, p) }

// File returns a slog.Attr for a file name.
func File(f string) slog.Attr { return slog.String(KeyFile, f) }

// Worker returns a slog.Attr for a worker ID.
func Worker(id string) slog.Attr { return slog.String(KeyWorker, id) }

// Method returns a slog.Attr for an HTTP method.
func Method(m string) slog.Attr { return slog.String(KeyMethod, m) }

// UserAgent returns a slog.Attr for a user agent string.
func UserAgent(ua string) slog.Attr { return slog.String(KeyUserAgent, ua) }

// RemoteAddr returns a slog.Attr for a remote address.
func RemoteAddr(a string) slog.Attr { return slog.String(KeyRemoteAddr, a) }

// RequestID returns a slog.Attr for a request ID.
func RequestID(id string) slog.Attr { return slog.String(KeyRequestID, id) }

// Status returns a slog.Attr for an HTTP status code.
func Status(code int) slog.Attr { return slog.Int(KeyStatus, code) }

// ResponseSize returns a slog.Attr for a response size in bytes.
func ResponseSize(sz int) slog.Attr { return slog.Int(KeyResponseSz, sz) }

// CIServer returns a slog.Attr for the CI server kind (e.g. "jenkins").
func CIServer(t string) slog.Attr { return slog.String(KeyCIServer, t) }

// ContentLength returns a slog.Attr for content length in bytes.
func ContentLength(cl int64) slog.Attr { return slog.Int64(KeyContentLen, cl) }

// Name returns a slog.Attr for a generic name field.
func Name(n string) slog.Attr { return slog.String(KeyName, n) }

// URL returns a slog.Attr for a URL field.
func URL(u string) slog.Attr { return slog.String(KeyURL, u) }

// Error returns a slog.Attr for an error, or an empty string if nil.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
