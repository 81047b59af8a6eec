package retry

import "github.com/cockroachdb/errors"

// Task failures split into two classes. Retryable covers throttling,
// timeouts and transient connectivity loss; the policy absorbs these
// until the budget runs out. Fatal covers authentication failures,
// malformed requests and explicit permanent rejections; these surface
// immediately.

var (
	retryableMarker = errors.New("retryable task error")
	fatalMarker     = errors.New("fatal task error")
)

// AsRetryable marks err as a transient failure the policy may retry.
func AsRetryable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, retryableMarker)
}

// AsFatal marks err as permanent. A fatal mark wins over a retryable one,
// which is how an exhausted retry budget converts a transient failure
// into a reported fatal one.
func AsFatal(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, fatalMarker)
}

// IsRetryable reports whether err is transient and not (yet) fatal.
func IsRetryable(err error) bool {
	return errors.Is(err, retryableMarker) && !errors.Is(err, fatalMarker)
}

// IsFatal reports whether err is marked permanent.
func IsFatal(err error) bool {
	return errors.Is(err, fatalMarker)
}
