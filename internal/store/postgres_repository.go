/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL for the reward_rounds and
 * reward_allocations tables and for wallet address resolution against the
 * users table maintained by the identity service.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Amount columns are NUMERIC(78,0) and are read back as text; the
 *   application layer parses them with math/big. int64 scanning would
 *   overflow on pool-sized wei amounts.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockquiz/rewards-service/internal/domain"
)

var (
	ErrRoundNotFound      = errors.New("reward round not found")
	ErrRoundExists        = errors.New("reward round already exists")
	ErrAllocationNotFound = errors.New("reward allocation not found")
)

const allocationColumns = `id, period_id, recipient_id, wallet_address, amount_units::text, payout_state, settlement_ref, claimed_at, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository
// interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateRewardRound inserts a new open round for the period.
func (r *PostgresRepository) CreateRewardRound(ctx context.Context, round *domain.RewardRound) error {
	query := `
		INSERT INTO reward_rounds (period_id, reward_token, total_pool_units, status)
		VALUES ($1, $2, $3, 'open')
		RETURNING status, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, round.PeriodID, round.Token, round.TotalPoolUnits).
		Scan(&round.Status, &round.CreatedAt, &round.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 unique_violation on the period_id primary key
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrRoundExists
		}
		return err
	}
	return nil
}

// UpsertRewardRound creates the round if missing or refreshes its token
// and pool size. Status is deliberately left alone so a finalized round
// stays finalized.
func (r *PostgresRepository) UpsertRewardRound(ctx context.Context, periodID int, token domain.RewardToken, totalPoolUnits string) (*domain.RewardRound, error) {
	var round domain.RewardRound
	query := `
		INSERT INTO reward_rounds (period_id, reward_token, total_pool_units, status)
		VALUES ($1, $2, $3, 'open')
		ON CONFLICT (period_id) DO UPDATE
		SET reward_token = EXCLUDED.reward_token,
		    total_pool_units = EXCLUDED.total_pool_units,
		    updated_at = now()
		RETURNING period_id, reward_token, total_pool_units::text, status, merkle_root, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, periodID, token, totalPoolUnits).Scan(
		&round.PeriodID, &round.Token, &round.TotalPoolUnits, &round.Status,
		&round.MerkleRoot, &round.CreatedAt, &round.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &round, nil
}

// FindRewardRound retrieves one round by period id.
func (r *PostgresRepository) FindRewardRound(ctx context.Context, periodID int) (*domain.RewardRound, error) {
	var round domain.RewardRound
	query := `
		SELECT period_id, reward_token, total_pool_units::text, status, merkle_root, created_at, updated_at
		FROM reward_rounds WHERE period_id = $1
	`
	err := r.db.QueryRow(ctx, query, periodID).Scan(
		&round.PeriodID, &round.Token, &round.TotalPoolUnits, &round.Status,
		&round.MerkleRoot, &round.CreatedAt, &round.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}
	return &round, nil
}

// FinalizeRewardRound attaches the commitment and flips status to finalized.
func (r *PostgresRepository) FinalizeRewardRound(ctx context.Context, periodID int, merkleRoot string) (*domain.RewardRound, error) {
	var round domain.RewardRound
	query := `
		UPDATE reward_rounds
		SET status = 'finalized', merkle_root = $2, updated_at = now()
		WHERE period_id = $1
		RETURNING period_id, reward_token, total_pool_units::text, status, merkle_root, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, periodID, merkleRoot).Scan(
		&round.PeriodID, &round.Token, &round.TotalPoolUnits, &round.Status,
		&round.MerkleRoot, &round.CreatedAt, &round.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRoundNotFound
		}
		return nil, err
	}
	return &round, nil
}

// ReplaceAllocations wipes and rewrites the period's allocation set in one
// transaction. Every row starts in pending.
func (r *PostgresRepository) ReplaceAllocations(ctx context.Context, periodID int, items []domain.AllocationItem) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin allocation transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM reward_allocations WHERE period_id = $1`, periodID); err != nil {
		return fmt.Errorf("failed to clear previous allocations: %w", err)
	}

	insert := `
		INSERT INTO reward_allocations (id, period_id, recipient_id, wallet_address, amount_units, payout_state)
		VALUES ($1, $2, $3, $4, $5::numeric, 'pending')
	`
	for _, item := range items {
		if _, err := tx.Exec(ctx, insert, uuid.New(), periodID, item.RecipientID, item.WalletAddress, item.AmountUnits); err != nil {
			return fmt.Errorf("failed to insert allocation for recipient %s: %w", item.RecipientID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListAllocations returns the period's allocations ordered by amount
// descending.
func (r *PostgresRepository) ListAllocations(ctx context.Context, periodID int) ([]domain.RewardAllocation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM reward_allocations
		WHERE period_id = $1
		ORDER BY amount_units DESC, recipient_id
	`, allocationColumns)
	rows, err := r.db.Query(ctx, query, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAllocations(rows)
}

// ListDispatchableAllocations returns the period's allocations still in a
// state the dispatch pipeline may act on.
func (r *PostgresRepository) ListDispatchableAllocations(ctx context.Context, periodID int) ([]domain.RewardAllocation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM reward_allocations
		WHERE period_id = $1 AND payout_state IN ('pending', 'failed')
		ORDER BY created_at
	`, allocationColumns)
	rows, err := r.db.Query(ctx, query, periodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAllocations(rows)
}

// FindAllocationByID retrieves a single allocation row.
func (r *PostgresRepository) FindAllocationByID(ctx context.Context, id uuid.UUID) (*domain.RewardAllocation, error) {
	query := fmt.Sprintf(`SELECT %s FROM reward_allocations WHERE id = $1`, allocationColumns)
	alloc, err := scanAllocation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return alloc, nil
}

// FindAllocationForRecipient retrieves the allocation for one recipient in
// one period.
func (r *PostgresRepository) FindAllocationForRecipient(ctx context.Context, periodID int, recipientID uuid.UUID) (*domain.RewardAllocation, error) {
	query := fmt.Sprintf(`SELECT %s FROM reward_allocations WHERE period_id = $1 AND recipient_id = $2`, allocationColumns)
	alloc, err := scanAllocation(r.db.QueryRow(ctx, query, periodID, recipientID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return alloc, nil
}

// ListAllocationsForRecipient pages a recipient's payout history, newest
// period first. beforePeriodID of zero means no cursor.
func (r *PostgresRepository) ListAllocationsForRecipient(ctx context.Context, recipientID uuid.UUID, beforePeriodID int, limit int) ([]domain.RewardAllocation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM reward_allocations
		WHERE recipient_id = $1 AND ($2 = 0 OR period_id < $2)
		ORDER BY period_id DESC
		LIMIT $3
	`, allocationColumns)
	rows, err := r.db.Query(ctx, query, recipientID, beforePeriodID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAllocations(rows)
}

// MarkAllocationSent performs the compare-and-set that makes concurrent
// delivery of the same work item safe: only a pending/failed row can move
// to sent, and only the winner records the settlement reference.
func (r *PostgresRepository) MarkAllocationSent(ctx context.Context, id uuid.UUID, settlementRef string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE reward_allocations
		SET payout_state = 'sent', settlement_ref = $2, updated_at = now()
		WHERE id = $1 AND payout_state IN ('pending', 'failed')
	`, id, settlementRef)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAllocationFailed moves a dispatchable allocation to failed, leaving
// it eligible for a future re-dispatch.
func (r *PostgresRepository) MarkAllocationFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE reward_allocations
		SET payout_state = 'failed', updated_at = now()
		WHERE id = $1 AND payout_state IN ('pending', 'failed')
	`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// OverrideAllocationState is the operator override; claimed additionally
// stamps claimed_at.
func (r *PostgresRepository) OverrideAllocationState(ctx context.Context, periodID int, recipientID uuid.UUID, state domain.PayoutState, settlementRef *string) (*domain.RewardAllocation, error) {
	query := fmt.Sprintf(`
		UPDATE reward_allocations
		SET payout_state = $3,
		    settlement_ref = COALESCE($4, settlement_ref),
		    claimed_at = CASE WHEN $3 = 'claimed' THEN now() ELSE claimed_at END,
		    updated_at = now()
		WHERE period_id = $1 AND recipient_id = $2
		RETURNING %s
	`, allocationColumns)
	alloc, err := scanAllocation(r.db.QueryRow(ctx, query, periodID, recipientID, state, settlementRef))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAllocationNotFound
		}
		return nil, err
	}
	return alloc, nil
}

// AnyAllocationDispatched reports whether dispatch has started for the
// period, i.e. any allocation has left pending.
func (r *PostgresRepository) AnyAllocationDispatched(ctx context.Context, periodID int) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reward_allocations
			WHERE period_id = $1 AND payout_state <> 'pending'
		)
	`, periodID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ResolveWalletAddresses maps recipient ids to wallet addresses from the
// users table. Recipients without an address (NULL or empty) are omitted.
func (r *PostgresRepository) ResolveWalletAddresses(ctx context.Context, recipientIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(recipientIDs))
	if len(recipientIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, wallet_address FROM users
		WHERE id = ANY($1) AND wallet_address IS NOT NULL AND btrim(wallet_address) <> ''
	`, recipientIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id uuid.UUID
		var addr string
		if err := rows.Scan(&id, &addr); err != nil {
			return nil, err
		}
		out[id] = addr
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAllocation(row rowScanner) (*domain.RewardAllocation, error) {
	var a domain.RewardAllocation
	err := row.Scan(
		&a.ID, &a.PeriodID, &a.RecipientID, &a.WalletAddress, &a.AmountUnits,
		&a.PayoutState, &a.SettlementRef, &a.ClaimedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAllocations(rows pgx.Rows) ([]domain.RewardAllocation, error) {
	var out []domain.RewardAllocation
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
