package pacer

import "errors"

var (
	ErrAlreadyRunning = errors.New("pacer is already running")
	ErrNotRunning     = errors.New("pacer is not running")
)
