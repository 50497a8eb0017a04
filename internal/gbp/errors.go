package gbp

import "errors"

// Sentinel errors identifying the malformed-input cases that originate in
// this package. Callers wrap these with internal/foundation/errors to
// attach category, severity and retry classification.
var (
	ErrInvalidBuild       = errors.New("invalid build identifier")
	ErrInvalidTagName     = errors.New("invalid tag name")
	ErrInvalidApiKeyName  = errors.New("invalid api key name")
)
