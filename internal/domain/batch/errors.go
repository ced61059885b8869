package batch

import "errors"

// ErrAlreadyRunning is returned by callers that allow a single batch at a time.
var ErrAlreadyRunning = errors.New("a batch is already running")
