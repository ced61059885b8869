package gameclient

import "errors"

// Sentinel kinds for remote game errors.
var (
	// ErrUnavailable covers transport failures, timeouts and unexpected statuses.
	ErrUnavailable = errors.New("game api unavailable")
	// ErrUnrecognizedShape means a response matched none of the known schemas.
	ErrUnrecognizedShape = errors.New("unrecognized response shape")
	// ErrNoMoreQuestions means the session has nothing left to ask.
	ErrNoMoreQuestions = errors.New("no more questions")
	ErrInvalidBaseURL  = errors.New("invalid api base url")
)
