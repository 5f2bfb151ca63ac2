// Package digest provides the deterministic content hashing used for
// channel identities and token signatures.
package digest

import (
	"crypto/md5" //nolint:gosec // token signatures keep the established wire format
	"crypto/sha256"
	"encoding/hex"
)

// Channel returns the stable channel ID for a display name: the SHA-256
// digest of the name, hex encoded. The ID only changes when the name does.
func Channel(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

// Keyed returns the keyed digest of subject+salt used for token signatures.
// MD5 is retained for wire compatibility with existing clients; tokens are
// access credentials scoped to one process lifetime, not stored secrets.
func Keyed(subject, salt string) string {
	sum := md5.Sum([]byte(subject + salt)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
