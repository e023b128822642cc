/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the rewards-service needs. Keeping the interface separate from
 * the PostgreSQL implementation decouples the dispatch pipeline from the
 * database and lets tests run against an in-memory fake.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For allocation and recipient identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/blockquiz/rewards-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Reward round methods
	// CreateRewardRound inserts a new open round; returns ErrRoundExists
	// if the period already has one.
	CreateRewardRound(ctx context.Context, round *domain.RewardRound) error
	// UpsertRewardRound creates the round or refreshes its token and pool
	// size, leaving status untouched. Used by the scheduled weekly close.
	UpsertRewardRound(ctx context.Context, periodID int, token domain.RewardToken, totalPoolUnits string) (*domain.RewardRound, error)
	FindRewardRound(ctx context.Context, periodID int) (*domain.RewardRound, error)
	// FinalizeRewardRound attaches the commitment hash and moves the round
	// to finalized.
	FinalizeRewardRound(ctx context.Context, periodID int, merkleRoot string) (*domain.RewardRound, error)

	// Allocation methods
	// ReplaceAllocations deletes the period's allocation rows and inserts
	// the given set inside one transaction, so there is never a window
	// where only part of the winner list has rows.
	ReplaceAllocations(ctx context.Context, periodID int, items []domain.AllocationItem) error
	ListAllocations(ctx context.Context, periodID int) ([]domain.RewardAllocation, error)
	// ListDispatchableAllocations returns the period's allocations still in
	// pending or failed state, i.e. the re-selection set for dispatch.
	ListDispatchableAllocations(ctx context.Context, periodID int) ([]domain.RewardAllocation, error)
	FindAllocationByID(ctx context.Context, id uuid.UUID) (*domain.RewardAllocation, error)
	FindAllocationForRecipient(ctx context.Context, periodID int, recipientID uuid.UUID) (*domain.RewardAllocation, error)
	ListAllocationsForRecipient(ctx context.Context, recipientID uuid.UUID, beforePeriodID int, limit int) ([]domain.RewardAllocation, error)

	// MarkAllocationSent transitions pending/failed -> sent with the
	// settlement reference. Returns false when the allocation was not in a
	// dispatchable state, which is how a racing worker learns it lost.
	MarkAllocationSent(ctx context.Context, id uuid.UUID, settlementRef string) (bool, error)
	// MarkAllocationFailed transitions pending/failed -> failed under the
	// same state guard.
	MarkAllocationFailed(ctx context.Context, id uuid.UUID) (bool, error)
	// OverrideAllocationState is the manual operator escape hatch; it
	// bypasses the dispatch state guard.
	OverrideAllocationState(ctx context.Context, periodID int, recipientID uuid.UUID, state domain.PayoutState, settlementRef *string) (*domain.RewardAllocation, error)
	// AnyAllocationDispatched reports whether any of the period's
	// allocations has left pending; recomputation is refused once true.
	AnyAllocationDispatched(ctx context.Context, periodID int) (bool, error)

	// Identity collaborator
	// ResolveWalletAddresses maps recipient ids to their wallet addresses;
	// recipients without an address are absent from the result.
	ResolveWalletAddresses(ctx context.Context, recipientIDs []uuid.UUID) (map[uuid.UUID]string, error)
}
