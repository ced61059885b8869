package api

import (
	"errors"
	"fmt"
)

// ErrBadRequest tags errors caused by the request itself.
var ErrBadRequest = errors.New("bad request")

// wrapKind tags err with an operation and an error kind.
func wrapKind(op string, kind, err error) error {
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}
