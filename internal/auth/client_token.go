package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

const clientTokenPrefix = "pfw_"

// NewClientToken mints a static client token and its sha256 hash. The plain
// token is shown exactly once; only the hash goes into the config.
//
// Format: pfw_<uuid>_<random_secret>
func NewClientToken() (token, hash string, err error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate token secret: %w", err)
	}

	token = fmt.Sprintf("%s%s_%s", clientTokenPrefix, uuid.New(), hex.EncodeToString(secretBytes))
	return token, HashClientToken(token), nil
}

// HashClientToken is the storable form of a client token.
func HashClientToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// clientTokenSet matches presented tokens against the configured hashes.
// Every entry is compared in constant time.
type clientTokenSet struct {
	hashes [][]byte
}

func newClientTokenSet(hexHashes []string) (*clientTokenSet, error) {
	set := &clientTokenSet{}
	for _, h := range hexHashes {
		raw, err := hex.DecodeString(h)
		if err != nil || len(raw) != sha256.Size {
			return nil, fmt.Errorf("invalid client token hash %q", h)
		}
		set.hashes = append(set.hashes, raw)
	}
	return set, nil
}

func (s *clientTokenSet) contains(token string) bool {
	sum := sha256.Sum256([]byte(token))
	match := false
	for _, h := range s.hashes {
		if subtle.ConstantTimeCompare(h, sum[:]) == 1 {
			match = true
		}
	}
	return match
}
