// Package anchor builds Merkle roots over telemetry snapshots and anchors
// them in an external ledger on a fixed period.
package anchor

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/prahari-ai/sentinel/pkg/messages"
)

// MerkleTree accumulates leaves and computes a root hash.
type MerkleTree struct {
	leaves []string
}

// AddLeaf hashes a data string into the tree.
func (t *MerkleTree) AddLeaf(data string) {
	sum := sha256.Sum256([]byte(data))
	t.leaves = append(t.leaves, hex.EncodeToString(sum[:]))
}

// Root builds the tree and returns the root hash, or "" with no leaves.
// An odd layer duplicates its last node.
func (t *MerkleTree) Root() string {
	if len(t.leaves) == 0 {
		return ""
	}

	layer := t.leaves
	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left := layer[i]
			right := left
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			sum := sha256.Sum256([]byte(left + right))
			next = append(next, hex.EncodeToString(sum[:]))
		}
		layer = next
	}
	return layer[0]
}

// TelemetryRoot produces the Merkle root of a telemetry batch using the same
// canonical leaf representation the devices sign.
func TelemetryRoot(batch []messages.TelemetryReport) string {
	tree := &MerkleTree{}
	for _, r := range batch {
		tree.AddLeaf(messages.CanonicalPayload(r.DeviceID, r.Timestamp, r.Location))
	}
	return tree.Root()
}
