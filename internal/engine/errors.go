package engine

import "errors"

var (
	ErrAlreadyRunning = errors.New("engine is already running")
	ErrNotRunning     = errors.New("engine is not running")
	ErrNotSignedIn    = errors.New("no signed-in user")
	ErrNotArbiter     = errors.New("only a teacher or admin can do this")
	ErrAlreadyQueued  = errors.New("hand already raised or speaking")
	ErrNothingToEnd   = errors.New("no waiting or live request to end")
	ErrSendTooSoon    = errors.New("sending too fast, wait a moment")
)
