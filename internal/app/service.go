/**
 * @description
 * This file contains the core business logic for the rewards-service: the
 * round lifecycle (open, close, finalize), allocation computation and
 * persistence, manual operator overrides, and the read models served to
 * players. Dispatch orchestration lives in dispatch.go.
 *
 * @dependencies
 * - internal/store: The database repository interface.
 * - internal/domain: The domain models.
 * - pkg/queue: Job submission options.
 * - pkg/payout: The payment rail providers.
 * - pkg/units: Exact smallest-unit arithmetic.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockquiz/rewards-service/internal/domain"
	"github.com/blockquiz/rewards-service/internal/store"
	"github.com/blockquiz/rewards-service/pkg/payout"
	"github.com/blockquiz/rewards-service/pkg/queue"
	"github.com/blockquiz/rewards-service/pkg/units"
)

var (
	// ErrRoundDispatched is returned when a recomputation is requested for a
	// period where at least one allocation has already left pending. Amounts
	// are frozen at that point; only manual overrides may touch them.
	ErrRoundDispatched = errors.New("round allocations already dispatched")
	// ErrRoundFinalized is returned for writes against a finalized round.
	ErrRoundFinalized = errors.New("round is finalized")
	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("validation error")
)

// RankingStore is the read-only view of the externally maintained
// leaderboard. Implemented by pkg/leaderboard against Redis.
type RankingStore interface {
	TopK(ctx context.Context, periodID int, k int) ([]domain.RankedEntry, error)
	Rank(ctx context.Context, periodID int, recipientID uuid.UUID) (int64, bool, error)
	Score(ctx context.Context, periodID int, recipientID uuid.UUID) (int64, bool, error)
}

// JobQueue is the subset of the queue producer the service needs. A nil
// JobQueue puts the service into inline-dispatch mode.
type JobQueue interface {
	Submit(ctx context.Context, jobName string, payload interface{}, opts queue.SubmitOptions) (bool, error)
	Depth(queueName string) (int, error)
}

// ProviderFactory builds a payout provider for a mode. Construction is
// deferred to first use so a service configured for custodial payouts does
// not need on-chain credentials and vice versa.
type ProviderFactory func(mode domain.PayoutMode) (payout.Provider, error)

// Settings carries the reward policy knobs the service operates under.
type Settings struct {
	Token          domain.RewardToken
	TotalPoolUnits string
	Policy         domain.AllocationPolicy
	TopN           int
	DefaultMode    domain.PayoutMode
	MaxAttempts    int
	Backoff        time.Duration
	JobQueueName   string
	WeeklySchedule string
}

// Service provides the core business logic for reward rounds and payouts.
type Service struct {
	repo     store.Repository
	ranking  RankingStore
	queue    JobQueue
	settings Settings

	newProvider ProviderFactory
	providerMu  sync.Mutex
	providers   map[domain.PayoutMode]payout.Provider
}

// NewService creates a new instance of the rewards service. queue may be
// nil (dispatch runs inline); ranking may be nil only in deployments that
// manage allocations exclusively through the admin API.
func NewService(repo store.Repository, ranking RankingStore, q JobQueue, factory ProviderFactory, settings Settings) *Service {
	if settings.TopN <= 0 {
		settings.TopN = 10
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 3
	}
	if settings.Backoff <= 0 {
		settings.Backoff = 5 * time.Second
	}
	if settings.DefaultMode == "" {
		settings.DefaultMode = domain.ModeCustodial
	}
	if settings.Policy == "" {
		settings.Policy = domain.PolicyEqual
	}
	return &Service{
		repo:        repo,
		ranking:     ranking,
		queue:       q,
		settings:    settings,
		newProvider: factory,
		providers:   make(map[domain.PayoutMode]payout.Provider),
	}
}

// provider returns the cached payout provider for the mode, constructing
// it on first use.
func (s *Service) provider(mode domain.PayoutMode) (payout.Provider, error) {
	s.providerMu.Lock()
	defer s.providerMu.Unlock()
	if p, ok := s.providers[mode]; ok {
		return p, nil
	}
	if s.newProvider == nil {
		return nil, fmt.Errorf("%w: no payout provider factory configured", payout.ErrConfig)
	}
	p, err := s.newProvider(mode)
	if err != nil {
		return nil, err
	}
	s.providers[mode] = p
	return p, nil
}

// OpenRound creates an open reward round for an explicit period. Zero
// values in the request fall back to the configured defaults.
func (s *Service) OpenRound(ctx context.Context, req domain.OpenRoundRequest) (*domain.RewardRound, error) {
	periodID := req.PeriodID
	if periodID == 0 {
		periodID = domain.CurrentPeriodID()
	}
	token := req.Token
	if token == "" {
		token = s.settings.Token
	}
	if !token.Valid() {
		return nil, fmt.Errorf("%w: unsupported reward token %q", ErrValidation, token)
	}
	poolUnits := req.TotalPoolUnits
	if poolUnits == "" {
		poolUnits = s.settings.TotalPoolUnits
	}
	if _, err := units.Parse(poolUnits); err != nil {
		return nil, fmt.Errorf("%w: total pool: %v", ErrValidation, err)
	}

	round := &domain.RewardRound{
		PeriodID:       periodID,
		Token:          token,
		TotalPoolUnits: poolUnits,
		Status:         domain.RoundOpen,
	}
	if err := s.repo.CreateRewardRound(ctx, round); err != nil {
		return nil, err
	}
	log.Printf("level=info component=rewards_service op=open_round period_id=%d token=%s pool_units=%s", periodID, token, poolUnits)
	return round, nil
}

// GetRound returns the round record for a period.
func (s *Service) GetRound(ctx context.Context, periodID int) (*domain.RewardRound, error) {
	return s.repo.FindRewardRound(ctx, periodID)
}

// WinnerPreview is the dry-run view of a round close: the winners that
// would be selected and the amounts they would receive.
type WinnerPreview struct {
	PeriodID    int                     `json:"period_id"`
	Policy      domain.AllocationPolicy `json:"policy"`
	Winners     []domain.WinnerEntry    `json:"winners"`
	Allocations []domain.AllocationItem `json:"allocations"`
	// Dropped lists ranked recipients excluded for lacking a wallet address.
	Dropped []uuid.UUID `json:"dropped,omitempty"`
}

// PreviewWinners computes the allocation a close would produce, without
// writing anything.
func (s *Service) PreviewWinners(ctx context.Context, periodID int) (*WinnerPreview, error) {
	poolUnits, err := s.configuredPool()
	if err != nil {
		return nil, err
	}
	winners, dropped, err := s.selectWinners(ctx, periodID)
	if err != nil {
		return nil, err
	}
	return &WinnerPreview{
		PeriodID:    periodID,
		Policy:      s.settings.Policy,
		Winners:     winners,
		Allocations: ComputeAllocations(poolUnits, winners, s.settings.Policy),
		Dropped:     dropped,
	}, nil
}

// CloseResult summarizes one round close.
type CloseResult struct {
	PeriodID       int    `json:"period_id"`
	Winners        int    `json:"winners"`
	TotalPoolUnits string `json:"total_pool_units"`
	// Skipped is true when the period had no eligible winners; the round
	// row exists but no allocations were written and nothing was queued.
	Skipped bool `json:"skipped"`
	// Queued is true when dispatch was handed to the job queue; false means
	// it ran inline or was collapsed as a duplicate.
	Queued bool `json:"queued"`
}

// CloseRound settles a period: ensures its round row exists, selects the
// winners from the leaderboard, computes and persists their allocations,
// and triggers dispatch. Safe to call repeatedly; once any allocation has
// been dispatched the stored amounts are frozen and only dispatch of the
// remaining rows is triggered.
func (s *Service) CloseRound(ctx context.Context, periodID int) (*CloseResult, error) {
	poolUnits, err := s.configuredPool()
	if err != nil {
		return nil, err
	}

	round, err := s.repo.UpsertRewardRound(ctx, periodID, s.settings.Token, poolUnits.String())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert reward round: %w", err)
	}
	if round.Status == domain.RoundFinalized {
		return nil, fmt.Errorf("%w: period %d", ErrRoundFinalized, periodID)
	}

	result := &CloseResult{PeriodID: periodID, TotalPoolUnits: round.TotalPoolUnits}

	dispatched, err := s.repo.AnyAllocationDispatched(ctx, periodID)
	if err != nil {
		return nil, fmt.Errorf("failed to check dispatch state: %w", err)
	}
	if dispatched {
		// Amounts are frozen. Re-running the close only re-triggers dispatch
		// for rows still pending or failed.
		log.Printf("level=info component=rewards_service op=close_round period_id=%d msg=\"allocations frozen; re-triggering dispatch only\"", periodID)
		existing, err := s.repo.ListAllocations(ctx, periodID)
		if err != nil {
			return nil, err
		}
		result.Winners = len(existing)
		result.Queued, err = s.EnqueueDispatch(ctx, periodID, s.settings.DefaultMode)
		return result, err
	}

	winners, dropped, err := s.selectWinners(ctx, periodID)
	if err != nil {
		return nil, err
	}
	for _, id := range dropped {
		log.Printf("level=warn component=rewards_service op=close_round period_id=%d recipient_id=%s msg=\"winner has no wallet address; excluded\"", periodID, id)
	}
	if len(winners) == 0 {
		log.Printf("level=warn component=rewards_service op=close_round period_id=%d msg=\"no eligible winners; round recorded, dispatch skipped\"", periodID)
		result.Skipped = true
		return result, nil
	}

	items := ComputeAllocations(poolUnits, winners, s.settings.Policy)
	if !VerifyAllocationSum(poolUnits, items) {
		// Cannot happen by construction; if it does, the arithmetic is
		// broken and paying out would be wrong.
		log.Printf("level=error component=rewards_service op=close_round period_id=%d msg=\"allocation sum mismatch; aborting close\"", periodID)
		return nil, fmt.Errorf("allocation sum mismatch for period %d", periodID)
	}

	if err := s.repo.ReplaceAllocations(ctx, periodID, items); err != nil {
		return nil, fmt.Errorf("failed to persist allocations: %w", err)
	}
	result.Winners = len(items)
	log.Printf("level=info component=rewards_service op=close_round period_id=%d winners=%d pool_units=%s policy=%s", periodID, len(items), round.TotalPoolUnits, s.settings.Policy)

	result.Queued, err = s.EnqueueDispatch(ctx, periodID, s.settings.DefaultMode)
	return result, err
}

// selectWinners reads the top-N leaderboard entries and resolves their
// wallet addresses, excluding recipients without one. The exclusion
// happens before allocation so the remaining winners split the full pool.
func (s *Service) selectWinners(ctx context.Context, periodID int) ([]domain.WinnerEntry, []uuid.UUID, error) {
	if s.ranking == nil {
		return nil, nil, errors.New("no ranking store configured")
	}
	ranked, err := s.ranking.TopK(ctx, periodID, s.settings.TopN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	if len(ranked) == 0 {
		return nil, nil, nil
	}

	ids := make([]uuid.UUID, len(ranked))
	for i, r := range ranked {
		ids[i] = r.RecipientID
	}
	wallets, err := s.repo.ResolveWalletAddresses(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve wallet addresses: %w", err)
	}

	winners := make([]domain.WinnerEntry, 0, len(ranked))
	var dropped []uuid.UUID
	for _, r := range ranked {
		addr, ok := wallets[r.RecipientID]
		if !ok || addr == "" {
			dropped = append(dropped, r.RecipientID)
			continue
		}
		winners = append(winners, domain.WinnerEntry{RecipientID: r.RecipientID, WalletAddress: addr, Score: r.Score})
	}
	return winners, dropped, nil
}

// CreateAllocations replaces a period's allocation set with an explicit
// list, for manual corrections before anything has been dispatched.
func (s *Service) CreateAllocations(ctx context.Context, req domain.AllocateRequest) ([]domain.RewardAllocation, error) {
	round, err := s.repo.FindRewardRound(ctx, req.PeriodID)
	if err != nil {
		return nil, err
	}
	if round.Status == domain.RoundFinalized {
		return nil, fmt.Errorf("%w: period %d", ErrRoundFinalized, req.PeriodID)
	}
	dispatched, err := s.repo.AnyAllocationDispatched(ctx, req.PeriodID)
	if err != nil {
		return nil, err
	}
	if dispatched {
		return nil, fmt.Errorf("%w: period %d", ErrRoundDispatched, req.PeriodID)
	}

	for i, item := range req.Allocations {
		if item.RecipientID == uuid.Nil {
			return nil, fmt.Errorf("%w: allocation %d missing recipient id", ErrValidation, i)
		}
		if item.WalletAddress == "" {
			return nil, fmt.Errorf("%w: allocation %d missing wallet address", ErrValidation, i)
		}
		if _, err := units.Parse(item.AmountUnits); err != nil {
			return nil, fmt.Errorf("%w: allocation %d amount: %v", ErrValidation, i, err)
		}
	}

	if err := s.repo.ReplaceAllocations(ctx, req.PeriodID, req.Allocations); err != nil {
		return nil, err
	}
	log.Printf("level=info component=rewards_service op=create_allocations period_id=%d count=%d msg=\"allocation set replaced by operator\"", req.PeriodID, len(req.Allocations))
	return s.repo.ListAllocations(ctx, req.PeriodID)
}

// ListAllocations returns a period's allocations.
func (s *Service) ListAllocations(ctx context.Context, periodID int) ([]domain.RewardAllocation, error) {
	return s.repo.ListAllocations(ctx, periodID)
}

// FinalizeRound attaches the commitment hash to a round and marks it
// finalized. When the request carries no root, the service computes the
// commitment over the stored allocations itself.
func (s *Service) FinalizeRound(ctx context.Context, req domain.FinalizeRoundRequest) (*domain.RewardRound, error) {
	root := req.MerkleRoot
	if root == "" {
		allocations, err := s.repo.ListAllocations(ctx, req.PeriodID)
		if err != nil {
			return nil, err
		}
		root = AllocationCommitment(req.PeriodID, allocations)
	}
	round, err := s.repo.FinalizeRewardRound(ctx, req.PeriodID, root)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=rewards_service op=finalize_round period_id=%d merkle_root=%s", req.PeriodID, root)
	return round, nil
}

// MarkPayout is the operator override for a single allocation's payout
// state. It bypasses the dispatch state guard, so it can also repair rows
// whose transfer succeeded but whose state transition was lost.
func (s *Service) MarkPayout(ctx context.Context, req domain.MarkPayoutRequest) (*domain.RewardAllocation, error) {
	if !req.PayoutState.Valid() {
		return nil, fmt.Errorf("%w: unknown payout state %q", ErrValidation, req.PayoutState)
	}
	alloc, err := s.repo.OverrideAllocationState(ctx, req.PeriodID, req.RecipientID, req.PayoutState, req.SettlementRef)
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=rewards_service op=mark_payout period_id=%d recipient_id=%s state=%s msg=\"manual state override\"", req.PeriodID, req.RecipientID, req.PayoutState)
	return alloc, nil
}

// UserSummary is the player-facing view of one reward period.
type UserSummary struct {
	PeriodID int    `json:"period_id"`
	Rank     *int64 `json:"rank,omitempty"`
	Score    *int64 `json:"score,omitempty"`
	// Status is one of: not_ranked, projected, pending, sent, failed,
	// claimed. projected means the recipient currently sits in the winner
	// band but the round has not been closed.
	Status      string  `json:"status"`
	Token       string  `json:"reward_token"`
	AmountUnits *string `json:"amount_units,omitempty"`
	// Amount is the human decimal rendering of AmountUnits. For projected
	// weighted rounds it is absent: the final score denominator is unknown
	// until close, and a guess would be presented as a promise.
	Amount        *string `json:"amount,omitempty"`
	SettlementRef *string `json:"settlement_ref,omitempty"`
}

// UserSummary returns a recipient's standing for one period: rank and
// score from the leaderboard plus the committed allocation if the round
// has closed, or a projection if it has not.
func (s *Service) UserSummary(ctx context.Context, periodID int, recipientID uuid.UUID) (*UserSummary, error) {
	summary := &UserSummary{
		PeriodID: periodID,
		Status:   "not_ranked",
		Token:    string(s.settings.Token),
	}

	var rank int64
	var onBoard bool
	if s.ranking != nil {
		var err error
		rank, onBoard, err = s.ranking.Rank(ctx, periodID, recipientID)
		if err != nil {
			return nil, fmt.Errorf("failed to read leaderboard rank: %w", err)
		}
		if onBoard {
			summary.Rank = &rank
			score, _, err := s.ranking.Score(ctx, periodID, recipientID)
			if err != nil {
				return nil, fmt.Errorf("failed to read leaderboard score: %w", err)
			}
			summary.Score = &score
		}
	}

	alloc, err := s.repo.FindAllocationForRecipient(ctx, periodID, recipientID)
	if err != nil && !errors.Is(err, store.ErrAllocationNotFound) {
		return nil, err
	}
	if alloc != nil {
		summary.Status = string(alloc.PayoutState)
		summary.AmountUnits = &alloc.AmountUnits
		human := units.ToDecimalString(units.MustParse(alloc.AmountUnits), s.settings.Token.Decimals())
		summary.Amount = &human
		summary.SettlementRef = alloc.SettlementRef
		return summary, nil
	}

	if onBoard && rank <= int64(s.settings.TopN) {
		summary.Status = "projected"
		if s.settings.Policy == domain.PolicyEqual {
			if pool, perr := s.configuredPool(); perr == nil {
				share := new(big.Int).Quo(pool, big.NewInt(int64(s.settings.TopN)))
				unitsStr := share.String()
				human := units.ToDecimalString(share, s.settings.Token.Decimals())
				summary.AmountUnits = &unitsStr
				summary.Amount = &human
			}
		}
	}
	return summary, nil
}

// PayoutHistory returns a recipient's allocations across periods, newest
// first, paginated by period id cursor.
func (s *Service) PayoutHistory(ctx context.Context, recipientID uuid.UUID, beforePeriodID int, limit int) ([]domain.RewardAllocation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListAllocationsForRecipient(ctx, recipientID, beforePeriodID, limit)
}

// PolicyInfo is the public description of the reward program's current
// configuration.
type PolicyInfo struct {
	Token          domain.RewardToken      `json:"reward_token"`
	TotalPoolUnits string                  `json:"total_pool_units"`
	TotalPool      string                  `json:"total_pool"`
	Policy         domain.AllocationPolicy `json:"allocation_policy"`
	TopN           int                     `json:"top_n"`
	WeeklySchedule string                  `json:"weekly_schedule"`
	PayoutMode     domain.PayoutMode       `json:"payout_mode"`
}

// Policy returns the active reward policy.
func (s *Service) Policy() PolicyInfo {
	info := PolicyInfo{
		Token:          s.settings.Token,
		TotalPoolUnits: s.settings.TotalPoolUnits,
		Policy:         s.settings.Policy,
		TopN:           s.settings.TopN,
		WeeklySchedule: s.settings.WeeklySchedule,
		PayoutMode:     s.settings.DefaultMode,
	}
	if pool, err := s.configuredPool(); err == nil {
		info.TotalPool = units.ToDecimalString(pool, s.settings.Token.Decimals())
	}
	return info
}

// QueueDepth reports the number of jobs waiting in the payout queue, or
// -1 when the service runs without a queue.
func (s *Service) QueueDepth() int {
	if s.queue == nil {
		return -1
	}
	depth, err := s.queue.Depth(s.settings.JobQueueName)
	if err != nil {
		log.Printf("level=warn component=rewards_service op=queue_depth err=%v", err)
		return -1
	}
	return depth
}

func (s *Service) configuredPool() (*big.Int, error) {
	pool, err := units.Parse(s.settings.TotalPoolUnits)
	if err != nil {
		return nil, fmt.Errorf("invalid configured total pool %q: %w", s.settings.TotalPoolUnits, err)
	}
	return pool, nil
}
