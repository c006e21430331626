package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/fleetsync/server/internal/models"
)

// FingerprintService computes the conditional-fetch token for a state
// document. The token is a pure function of content and version, never of
// wall-clock time, so two reads of unchanged state always produce the same
// value and no separate token storage is needed.
type FingerprintService struct{}

// NewFingerprintService creates a new FingerprintService
func NewFingerprintService() *FingerprintService {
	return &FingerprintService{}
}

// Fingerprint returns the token for a snapshot at a given version
func (s *FingerprintService) Fingerprint(snap models.StateSnapshot, version int64) (string, error) {
	canonical, err := canonicalSnapshot(snap)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]) + "-" + strconv.FormatInt(version, 10), nil
}
