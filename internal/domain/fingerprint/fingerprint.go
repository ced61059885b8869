// Package fingerprint derives the content key under which pictures are learned.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/okian/facequiz/internal/domain/model"
)

// Compute returns the lowercase hex SHA-256 of data.
// Identical bytes always give the same fingerprint; there is no perceptual matching.
func Compute(data []byte) (model.Fingerprint, error) {
	if len(data) == 0 {
		return "", ErrNoImage
	}
	sum := sha256.Sum256(data)
	return model.Fingerprint(hex.EncodeToString(sum[:])), nil
}
