package bus

import "errors"

// RetryableError wraps an error that a consumer handler wants redelivered
// rather than dead-lettered: network blips, lock contention, a downstream
// dependency being briefly unavailable.
//
// Use for: store/network timeouts, downstream 5xx. Don't use for:
// validation failures or anything that will fail identically on retry.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string { return e.Err.Error() }
func (e RetryableError) Unwrap() error { return e.Err }

// Transient marks err as retryable; the consumer loop will Nack the
// delivery instead of dead-lettering it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// IsRetryable reports whether err was wrapped with Transient.
func IsRetryable(err error) bool {
	var re RetryableError
	return errors.As(err, &re)
}

// DuplicateError marks a delivery as already applied by this consumer
// group. It is not a failure: the consumer loop Acks it without repeating
// the handler's side effect.
type DuplicateError struct{}

func (DuplicateError) Error() string { return "duplicate delivery" }

// ErrDuplicate is returned by a handler (or detected by the consumer loop
// via a ProcessedEvent unique-constraint violation) to signal the message
// was already processed.
var ErrDuplicate = DuplicateError{}

// IsDuplicate reports whether err indicates an already-processed delivery.
func IsDuplicate(err error) bool {
	var de DuplicateError
	return errors.As(err, &de)
}
