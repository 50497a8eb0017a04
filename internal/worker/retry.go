package worker

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/enku/gbp/internal/ci"
)

// Retryable reports whether err should be retried by a queue backend. A
// 404 (ci.NotFoundError) means the build is already gone -- the publisher
// will have already cleaned up the partial record/storage in its error
// path, so retrying would just repeat the same terminal failure. Every
// other transport-shaped error (connection reset, unexpected EOF, a
// generic net.Error) is considered transient and retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var notFound ci.NotFoundError
	if errors.As(err, &notFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}
