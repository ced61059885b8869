package fingerprint

import "errors"

// ErrNoImage is returned when there are no bytes to fingerprint.
var ErrNoImage = errors.New("no image bytes to fingerprint")
