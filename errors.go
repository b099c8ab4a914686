package volley

import "errors"

var (
	// Configuration errors.
	ErrInvalidConfig = errors.New("volley: invalid config")

	// Wiring errors.
	ErrNoExecutor     = errors.New("volley: no executor configured")
	ErrNoCapacity     = errors.New("volley: no capacity source configured")
	ErrNoTargetSource = errors.New("volley: no target source configured")
	ErrUnknownBackend = errors.New("volley: unknown fleet backend")

	// Fleet errors.
	ErrNodeNotFound         = errors.New("volley: node not found")
	ErrInsufficientCapacity = errors.New("volley: insufficient capacity")
	ErrInvalidThreads       = errors.New("volley: thread count must be positive")
	ErrDispatchNotFound     = errors.New("volley: dispatch not found")

	// Lifecycle errors.
	ErrAlreadyStarted = errors.New("volley: already started")

	// Timing errors.
	ErrAnchorNotLongest = errors.New("volley: stabilize is not the longest operation")
)
