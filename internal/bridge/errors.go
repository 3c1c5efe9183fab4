package bridge

import "errors"

// Domain error kinds. Fatal kinds abort startup; the rest are logged at
// warn level and the triggering request is dropped.
var (
	ErrBadArgs          = errors.New("bridge: bad arguments")
	ErrNoDisplay        = errors.New("bridge: cannot connect to X11 display")
	ErrMissingExtension = errors.New("bridge: required X11 extension not present")
	ErrShmFailure       = errors.New("bridge: shared-memory allocation or attach failed")
	ErrAttachFailed     = errors.New("bridge: shared-memory segment attach to display server failed")
	ErrReadFailure      = errors.New("bridge: pixel read failed")
	ErrOutOfMemory      = errors.New("bridge: allocation failed")
	ErrSpiceInitFailed  = errors.New("bridge: remote protocol library init failed")
	ErrAutoListenFailed = errors.New("bridge: no free port in listen range")
	ErrNoAudit          = errors.New("bridge: audit requested but unavailable")
)
