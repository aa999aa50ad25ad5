package pacer

import "errors"

var (
	ErrInvalidDelay       = errors.New("pacer: delay must be > 0")
	ErrInvalidConcurrency = errors.New("pacer: max concurrency must be >= 1")
	ErrAlreadyStarted     = errors.New("pacer: engine already started")
	ErrNilTask            = errors.New("pacer: task is nil")
	ErrTaskPanic          = errors.New("pacer: task panicked")
)
