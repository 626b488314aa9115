package store

import (
	"crypto/sha256"
	"fmt"
)

// ContentHash returns the hex sha256 of file content. Ingestion compares it
// with the stored hash to skip unchanged files.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}
