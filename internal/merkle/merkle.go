// Package merkle builds binary SHA-256 Merkle roots.
//
// Leaves are hashed by the caller. Each level pairs nodes left to right and
// hashes the concatenation of the raw digests. When a level has an odd number
// of nodes the last node is paired with itself. A single leaf is its own root.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

var ErrNoLeaves = errors.New("merkle: no leaves")

// HashLeaf returns the SHA-256 digest of a serialized leaf.
func HashLeaf(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Root computes the Merkle root over leaf digests.
func Root(leaves [][]byte) ([]byte, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}

	level := leaves
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}

	return level[0], nil
}

// RootHex is Root with a lowercase hex result.
func RootHex(leaves [][]byte) (string, error) {
	root, err := Root(leaves)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(root), nil
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
