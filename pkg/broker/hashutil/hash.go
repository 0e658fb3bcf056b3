// Package hashutil provides the deterministic hashing used to pick a single
// recipient for Push-targeted messages.
package hashutil

import "github.com/cespare/xxhash/v2"

// Hash64 hashes a raw byte identifier (endpoint address or message id) to a
// uint64. Using xxhash over the identifier's raw bytes rather than a
// language-provided hash keeps the result identical across nodes and
// processes, which Go's built-in map hashing does not guarantee.
func Hash64(id []byte) uint64 {
	return xxhash.Sum64(id)
}
