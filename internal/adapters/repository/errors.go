package repository

import "errors"

// Sentinel kinds for identity store errors.
var (
	ErrNotFound            = errors.New("fingerprint not found")
	ErrInvalidFingerprint  = errors.New("invalid fingerprint")
	ErrInvalidIdentity     = errors.New("invalid identity")
	ErrCorruptDurableState = errors.New("corrupt durable state")
	ErrDurableWrite        = errors.New("durable write failed")
	ErrVolatileUnavailable = errors.New("volatile store unavailable")
	ErrNotInitialized      = errors.New("identity store not initialized")
	ErrClosed              = errors.New("identity store closed")
)
