package poller

import "errors"

var (
	ErrAlreadyRunning = errors.New("poller is already running")
	ErrNotRunning     = errors.New("poller is not running")
)
