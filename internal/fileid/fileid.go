// Package fileid provides deterministic identifiers for submitted file contents.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

const prefix = "sha256:"

// ContentID returns a stable identifier for content. Identical bytes always
// yield the same ID, so resubmissions of the same file can be detected.
func ContentID(content []byte) string {
	hash := sha256.Sum256(content)
	return prefix + hex.EncodeToString(hash[:])
}

// ReaderID hashes r to EOF and returns the same identifier ContentID would
// return for its bytes, along with the number of bytes read.
func ReaderID(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hash content: %w", err)
	}
	return prefix + hex.EncodeToString(h.Sum(nil)), n, nil
}
