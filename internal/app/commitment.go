/**
 * @description
 * Merkle commitment over a period's allocation set. The root is attached
 * to the round at finalization so the full payout list can later be proven
 * against a single stored hash.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/crypto: Keccak256 hashing.
 */

package app

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/blockquiz/rewards-service/internal/domain"
	"github.com/blockquiz/rewards-service/pkg/units"
)

// AllocationCommitment computes the 0x-prefixed Keccak256 merkle root of a
// period's allocations. Leaves are ordered by recipient id so the root is
// independent of retrieval order; an empty allocation set commits to the
// hash of the bare period id.
func AllocationCommitment(periodID int, allocations []domain.RewardAllocation) string {
	var pid [8]byte
	binary.BigEndian.PutUint64(pid[:], uint64(periodID))

	if len(allocations) == 0 {
		return "0x" + hex.EncodeToString(crypto.Keccak256(pid[:]))
	}

	sorted := make([]domain.RewardAllocation, len(allocations))
	copy(sorted, allocations)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Compare(sorted[i].RecipientID.String(), sorted[j].RecipientID.String()) < 0
	})

	leaves := make([][]byte, len(sorted))
	for i, a := range sorted {
		leaves[i] = allocationLeaf(pid[:], a)
	}
	return "0x" + hex.EncodeToString(merkleRoot(leaves))
}

// allocationLeaf hashes one allocation: period id, recipient id, wallet
// address (lowercased) and the amount left-padded to 32 bytes.
func allocationLeaf(pid []byte, a domain.RewardAllocation) []byte {
	recipient := a.RecipientID
	amount := common.LeftPadBytes(units.MustParse(a.AmountUnits).Bytes(), 32)
	wallet := []byte(strings.ToLower(a.WalletAddress))
	return crypto.Keccak256(pid, recipient[:], wallet, amount)
}

// merkleRoot folds the leaf layer pairwise; an odd node is paired with
// itself.
func merkleRoot(layer [][]byte) []byte {
	for len(layer) > 1 {
		next := make([][]byte, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 < len(layer) {
				next = append(next, crypto.Keccak256(layer[i], layer[i+1]))
			} else {
				next = append(next, crypto.Keccak256(layer[i], layer[i]))
			}
		}
		layer = next
	}
	return layer[0]
}
