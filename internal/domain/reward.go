/**
 * @description
 * This file defines the core domain models for the rewards-service.
 * These structs represent the reward round and allocation entities and the
 * data transfer objects (DTOs) used by the business logic, database layer,
 * and API layer.
 *
 * @notes
 * - Token amounts are carried as decimal integer strings in their smallest
 *   indivisible unit (wei for ETH, 6dp units for USDC) and parsed into
 *   math/big integers wherever arithmetic happens. Using int64 or floats
 *   for pool-sized amounts would silently truncate.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RewardToken identifies which asset a round pays out in.
type RewardToken string

const (
	TokenUSDC RewardToken = "USDC"
	TokenETH  RewardToken = "ETH"
)

// Decimals returns the number of decimal places for the token's
// human-readable representation.
func (t RewardToken) Decimals() int {
	if t == TokenETH {
		return 18
	}
	return 6
}

// Valid reports whether the token is one of the supported assets.
func (t RewardToken) Valid() bool {
	return t == TokenUSDC || t == TokenETH
}

// AllocationPolicy selects how a round's pool is split between winners.
type AllocationPolicy string

const (
	PolicyEqual    AllocationPolicy = "equal"
	PolicyWeighted AllocationPolicy = "weighted"
)

// RoundStatus is the lifecycle state of a reward round.
type RoundStatus string

const (
	RoundOpen      RoundStatus = "open"
	RoundFinalized RoundStatus = "finalized"
)

// PayoutState is the per-allocation payout state machine.
// pending -> sent (terminal success) or failed (retryable); claimed is set
// by a downstream claim flow, never by the dispatch pipeline.
type PayoutState string

const (
	PayoutPending PayoutState = "pending"
	PayoutSent    PayoutState = "sent"
	PayoutFailed  PayoutState = "failed"
	PayoutClaimed PayoutState = "claimed"
)

// Dispatchable reports whether the dispatch pipeline may act on an
// allocation in this state.
func (s PayoutState) Dispatchable() bool {
	return s == PayoutPending || s == PayoutFailed
}

// Valid reports whether the state is a known payout state.
func (s PayoutState) Valid() bool {
	switch s {
	case PayoutPending, PayoutSent, PayoutFailed, PayoutClaimed:
		return true
	}
	return false
}

// PayoutMode selects which payment rail executes transfers.
type PayoutMode string

const (
	ModeCustodial PayoutMode = "custodial"
	ModeOnchain   PayoutMode = "onchain"
)

// NormalizeMode coerces an arbitrary mode string into a supported mode,
// defaulting to custodial.
func NormalizeMode(raw string) PayoutMode {
	if PayoutMode(raw) == ModeOnchain {
		return ModeOnchain
	}
	return ModeCustodial
}

// RewardRound is the record for one reward period. It maps directly to the
// `reward_rounds` table.
type RewardRound struct {
	PeriodID       int         `json:"period_id"`
	Token          RewardToken `json:"reward_token"`
	TotalPoolUnits string      `json:"total_pool_units"`
	Status         RoundStatus `json:"status"`
	MerkleRoot     *string     `json:"merkle_root,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// RewardAllocation is a committed promise to pay one recipient a fixed
// amount for a period. It maps directly to the `reward_allocations` table.
// WalletAddress is a snapshot taken at allocation time and is NOT re-read
// at send time, so a later address change cannot redirect an in-flight
// payout.
type RewardAllocation struct {
	ID            uuid.UUID   `json:"id"`
	PeriodID      int         `json:"period_id"`
	RecipientID   uuid.UUID   `json:"recipient_id"`
	WalletAddress string      `json:"wallet_address"`
	AmountUnits   string      `json:"amount_units"`
	PayoutState   PayoutState `json:"payout_state"`
	SettlementRef *string     `json:"settlement_ref,omitempty"`
	ClaimedAt     *time.Time  `json:"claimed_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// RankedEntry is one row returned by the external ranking store.
type RankedEntry struct {
	RecipientID uuid.UUID `json:"recipient_id"`
	Score       int64     `json:"score"`
}

// WinnerEntry is a ranked entry with its resolved wallet address, ready
// for allocation.
type WinnerEntry struct {
	RecipientID   uuid.UUID `json:"recipient_id"`
	WalletAddress string    `json:"wallet_address"`
	Score         int64     `json:"score"`
}

// AllocationItem is one computed allocation before persistence.
type AllocationItem struct {
	RecipientID   uuid.UUID `json:"recipient_id"`
	WalletAddress string    `json:"wallet_address"`
	AmountUnits   string    `json:"amount_units"`
}

// DispatchPeriodJob fans a period's allocations out into individual send
// jobs. Deduped on "dispatch:<periodId>".
type DispatchPeriodJob struct {
	PeriodID int        `json:"period_id"`
	Mode     PayoutMode `json:"mode,omitempty"`
}

// SendAllocationJob executes a single money movement. Deduped on
// "alloc:<allocationId>".
type SendAllocationJob struct {
	PeriodID     int        `json:"period_id"`
	AllocationID uuid.UUID  `json:"allocation_id"`
	Mode         PayoutMode `json:"mode,omitempty"`
}

// OpenRoundRequest is the DTO for the admin open-round endpoint.
type OpenRoundRequest struct {
	PeriodID       int         `json:"period_id"`
	Token          RewardToken `json:"reward_token"`
	TotalPoolUnits string      `json:"total_pool_units"`
}

// AllocateRequest is the DTO for the admin replace-allocations endpoint.
type AllocateRequest struct {
	PeriodID    int              `json:"period_id"`
	Allocations []AllocationItem `json:"allocations"`
}

// FinalizeRoundRequest is the DTO for the admin finalize endpoint. An
// empty MerkleRoot asks the service to compute the commitment itself.
type FinalizeRoundRequest struct {
	PeriodID   int    `json:"period_id"`
	MerkleRoot string `json:"merkle_root,omitempty"`
}

// MarkPayoutRequest is the DTO for the admin manual state override.
type MarkPayoutRequest struct {
	PeriodID      int         `json:"period_id"`
	RecipientID   uuid.UUID   `json:"recipient_id"`
	PayoutState   PayoutState `json:"payout_state"`
	SettlementRef *string     `json:"settlement_ref,omitempty"`
}

// DispatchRequest is the DTO for the admin dispatch endpoint.
type DispatchRequest struct {
	PeriodID int    `json:"period_id"`
	Mode     string `json:"mode,omitempty"`
}
