// Package fileid provides stable content digests for uploaded documents.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
)

const prefix = "sha256:"

// Checksum returns a digest of content. Identical bytes always yield the same value,
// regardless of the file name they were uploaded under.
func Checksum(content []byte) string {
	hash := sha256.Sum256(content)
	return prefix + hex.EncodeToString(hash[:])
}
