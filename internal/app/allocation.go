/**
 * @description
 * Pure allocation arithmetic for reward rounds: splitting a total pool of
 * smallest-unit tokens across an ordered winner list under the equal or
 * weighted policy, with remainder correction so the outputs always sum to
 * the pool exactly.
 *
 * All arithmetic is big-integer; the weighted portion is computed as
 * floor(total * score / sumScores) rather than via a floating-point ratio,
 * which loses precision once pools approach 2^53 smallest units.
 */

package app

import (
	"math/big"

	"github.com/blockquiz/rewards-service/internal/domain"
)

// ComputeAllocations splits totalUnits across winners under the given
// policy. The returned amounts sum to totalUnits exactly; any division
// remainder is added in full to the first winner in input order. An empty
// winner list yields an empty result and leaves the whole pool
// undistributed; callers are expected to detect and report that case.
//
// Winners without a resolvable wallet address must be filtered out before
// calling: dropping them afterwards would change the denominator and break
// the exact-sum invariant.
func ComputeAllocations(totalUnits *big.Int, winners []domain.WinnerEntry, policy domain.AllocationPolicy) []domain.AllocationItem {
	if len(winners) == 0 {
		return []domain.AllocationItem{}
	}

	var amounts []*big.Int
	if policy == domain.PolicyWeighted {
		amounts = weightedAmounts(totalUnits, winners)
	} else {
		amounts = equalAmounts(totalUnits, len(winners))
	}

	out := make([]domain.AllocationItem, len(winners))
	for i, w := range winners {
		out[i] = domain.AllocationItem{
			RecipientID:   w.RecipientID,
			WalletAddress: w.WalletAddress,
			AmountUnits:   amounts[i].String(),
		}
	}
	return out
}

func equalAmounts(total *big.Int, n int) []*big.Int {
	count := big.NewInt(int64(n))
	share := new(big.Int).Quo(total, count)

	amounts := make([]*big.Int, n)
	distributed := new(big.Int)
	for i := range amounts {
		amounts[i] = new(big.Int).Set(share)
		distributed.Add(distributed, share)
	}

	remainder := new(big.Int).Sub(total, distributed)
	amounts[0] = new(big.Int).Add(amounts[0], remainder)
	return amounts
}

func weightedAmounts(total *big.Int, winners []domain.WinnerEntry) []*big.Int {
	sumScores := new(big.Int)
	for _, w := range winners {
		sumScores.Add(sumScores, big.NewInt(w.Score))
	}
	// A zero score sum would divide the pool by nothing; fall back to an
	// equal split, matching the equal policy's remainder handling.
	if sumScores.Sign() == 0 {
		return equalAmounts(total, len(winners))
	}

	amounts := make([]*big.Int, len(winners))
	distributed := new(big.Int)
	for i, w := range winners {
		portion := new(big.Int).Mul(total, big.NewInt(w.Score))
		portion.Quo(portion, sumScores)
		amounts[i] = portion
		distributed.Add(distributed, portion)
	}

	remainder := new(big.Int).Sub(total, distributed)
	amounts[0] = new(big.Int).Add(amounts[0], remainder)
	return amounts
}

// VerifyAllocationSum re-checks the exact-sum invariant over persisted
// allocation rows. A mismatch cannot happen by construction; observing one
// means an internal logic defect, so callers log it loudly rather than
// correcting the stored amounts.
func VerifyAllocationSum(totalUnits *big.Int, items []domain.AllocationItem) bool {
	sum := new(big.Int)
	for _, it := range items {
		v, ok := new(big.Int).SetString(it.AmountUnits, 10)
		if !ok {
			return false
		}
		sum.Add(sum, v)
	}
	return sum.Cmp(totalUnits) == 0
}
