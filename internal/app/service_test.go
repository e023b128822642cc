package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/blockquiz/rewards-service/internal/domain"
	"github.com/blockquiz/rewards-service/internal/store"
	"github.com/blockquiz/rewards-service/pkg/payout"
	"github.com/blockquiz/rewards-service/pkg/queue"
)

// fakeRepo is an in-memory Repository for exercising the service without
// a database.
type fakeRepo struct {
	mu          sync.Mutex
	rounds      map[int]*domain.RewardRound
	allocations map[uuid.UUID]*domain.RewardAllocation
	order       []uuid.UUID
	wallets     map[uuid.UUID]string
	sentCount   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		rounds:      make(map[int]*domain.RewardRound),
		allocations: make(map[uuid.UUID]*domain.RewardAllocation),
		wallets:     make(map[uuid.UUID]string),
	}
}

func (r *fakeRepo) CreateRewardRound(ctx context.Context, round *domain.RewardRound) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rounds[round.PeriodID]; ok {
		return store.ErrRoundExists
	}
	now := time.Now()
	round.CreatedAt = now
	round.UpdatedAt = now
	cp := *round
	r.rounds[round.PeriodID] = &cp
	return nil
}

func (r *fakeRepo) UpsertRewardRound(ctx context.Context, periodID int, token domain.RewardToken, totalPoolUnits string) (*domain.RewardRound, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	round, ok := r.rounds[periodID]
	if !ok {
		round = &domain.RewardRound{
			PeriodID:  periodID,
			Status:    domain.RoundOpen,
			CreatedAt: time.Now(),
		}
		r.rounds[periodID] = round
	}
	round.Token = token
	round.TotalPoolUnits = totalPoolUnits
	round.UpdatedAt = time.Now()
	cp := *round
	return &cp, nil
}

func (r *fakeRepo) FindRewardRound(ctx context.Context, periodID int) (*domain.RewardRound, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	round, ok := r.rounds[periodID]
	if !ok {
		return nil, store.ErrRoundNotFound
	}
	cp := *round
	return &cp, nil
}

func (r *fakeRepo) FinalizeRewardRound(ctx context.Context, periodID int, merkleRoot string) (*domain.RewardRound, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	round, ok := r.rounds[periodID]
	if !ok {
		return nil, store.ErrRoundNotFound
	}
	round.MerkleRoot = &merkleRoot
	round.Status = domain.RoundFinalized
	round.UpdatedAt = time.Now()
	cp := *round
	return &cp, nil
}

func (r *fakeRepo) ReplaceAllocations(ctx context.Context, periodID int, items []domain.AllocationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	for _, id := range r.order {
		if r.allocations[id].PeriodID == periodID {
			delete(r.allocations, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	now := time.Now()
	for _, item := range items {
		id := uuid.New()
		r.allocations[id] = &domain.RewardAllocation{
			ID:            id,
			PeriodID:      periodID,
			RecipientID:   item.RecipientID,
			WalletAddress: item.WalletAddress,
			AmountUnits:   item.AmountUnits,
			PayoutState:   domain.PayoutPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		r.order = append(r.order, id)
	}
	return nil
}

func (r *fakeRepo) listLocked(periodID int, filter func(*domain.RewardAllocation) bool) []domain.RewardAllocation {
	var out []domain.RewardAllocation
	for _, id := range r.order {
		a := r.allocations[id]
		if a.PeriodID != periodID {
			continue
		}
		if filter != nil && !filter(a) {
			continue
		}
		out = append(out, *a)
	}
	return out
}

func (r *fakeRepo) ListAllocations(ctx context.Context, periodID int) ([]domain.RewardAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(periodID, nil), nil
}

func (r *fakeRepo) ListDispatchableAllocations(ctx context.Context, periodID int) ([]domain.RewardAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(periodID, func(a *domain.RewardAllocation) bool {
		return a.PayoutState.Dispatchable()
	}), nil
}

func (r *fakeRepo) FindAllocationByID(ctx context.Context, id uuid.UUID) (*domain.RewardAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.allocations[id]
	if !ok {
		return nil, store.ErrAllocationNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) FindAllocationForRecipient(ctx context.Context, periodID int, recipientID uuid.UUID) (*domain.RewardAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.allocations {
		if a.PeriodID == periodID && a.RecipientID == recipientID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrAllocationNotFound
}

func (r *fakeRepo) ListAllocationsForRecipient(ctx context.Context, recipientID uuid.UUID, beforePeriodID int, limit int) ([]domain.RewardAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RewardAllocation
	for _, a := range r.allocations {
		if a.RecipientID != recipientID {
			continue
		}
		if beforePeriodID > 0 && a.PeriodID >= beforePeriodID {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodID > out[j].PeriodID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeRepo) MarkAllocationSent(ctx context.Context, id uuid.UUID, settlementRef string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.allocations[id]
	if !ok || !a.PayoutState.Dispatchable() {
		return false, nil
	}
	a.PayoutState = domain.PayoutSent
	a.SettlementRef = &settlementRef
	a.UpdatedAt = time.Now()
	r.sentCount++
	return true, nil
}

func (r *fakeRepo) MarkAllocationFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.allocations[id]
	if !ok || !a.PayoutState.Dispatchable() {
		return false, nil
	}
	a.PayoutState = domain.PayoutFailed
	a.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeRepo) OverrideAllocationState(ctx context.Context, periodID int, recipientID uuid.UUID, state domain.PayoutState, settlementRef *string) (*domain.RewardAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.allocations {
		if a.PeriodID == periodID && a.RecipientID == recipientID {
			a.PayoutState = state
			if settlementRef != nil {
				a.SettlementRef = settlementRef
			}
			if state == domain.PayoutClaimed {
				now := time.Now()
				a.ClaimedAt = &now
			}
			a.UpdatedAt = time.Now()
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrAllocationNotFound
}

func (r *fakeRepo) AnyAllocationDispatched(ctx context.Context, periodID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.allocations {
		if a.PeriodID == periodID && a.PayoutState != domain.PayoutPending {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) ResolveWalletAddresses(ctx context.Context, recipientIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]string)
	for _, id := range recipientIDs {
		if addr, ok := r.wallets[id]; ok && addr != "" {
			out[id] = addr
		}
	}
	return out, nil
}

// fakeRanking serves a fixed leaderboard per period.
type fakeRanking struct {
	entries map[int][]domain.RankedEntry
}

func (f *fakeRanking) TopK(ctx context.Context, periodID int, k int) ([]domain.RankedEntry, error) {
	entries := f.entries[periodID]
	if len(entries) > k {
		entries = entries[:k]
	}
	return entries, nil
}

func (f *fakeRanking) Rank(ctx context.Context, periodID int, recipientID uuid.UUID) (int64, bool, error) {
	for i, e := range f.entries[periodID] {
		if e.RecipientID == recipientID {
			return int64(i + 1), true, nil
		}
	}
	return 0, false, nil
}

func (f *fakeRanking) Score(ctx context.Context, periodID int, recipientID uuid.UUID) (int64, bool, error) {
	for _, e := range f.entries[periodID] {
		if e.RecipientID == recipientID {
			return e.Score, true, nil
		}
	}
	return 0, false, nil
}

type submittedJob struct {
	Name      string
	DedupeKey string
	Payload   []byte
}

// fakeQueue records submissions and emulates cross-submission dedupe.
type fakeQueue struct {
	mu   sync.Mutex
	jobs []submittedJob
	held map[string]bool
	err  error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{held: make(map[string]bool)}
}

func (q *fakeQueue) Submit(ctx context.Context, jobName string, payload interface{}, opts queue.SubmitOptions) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	if opts.DedupeKey != "" && q.held[opts.DedupeKey] {
		return false, nil
	}
	if opts.DedupeKey != "" {
		q.held[opts.DedupeKey] = true
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, err
	}
	q.jobs = append(q.jobs, submittedJob{Name: jobName, DedupeKey: opts.DedupeKey, Payload: body})
	return true, nil
}

func (q *fakeQueue) Depth(queueName string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs), nil
}

func (q *fakeQueue) byName(name string) []submittedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []submittedJob
	for _, j := range q.jobs {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

type transferCall struct {
	Token       domain.RewardToken
	Destination string
	Amount      string
}

// fakeProvider records transfers; err makes every transfer fail.
type fakeProvider struct {
	mu    sync.Mutex
	calls []transferCall
	err   error
	delay time.Duration
}

func (p *fakeProvider) Transfer(ctx context.Context, token domain.RewardToken, destination string, amountUnits *big.Int) (string, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.calls = append(p.calls, transferCall{Token: token, Destination: destination, Amount: amountUnits.String()})
	return fmt.Sprintf("tx-%d", len(p.calls)), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

const testPeriod = 202536

func testSettings() Settings {
	return Settings{
		Token:          domain.TokenUSDC,
		TotalPoolUnits: "1000000",
		Policy:         domain.PolicyEqual,
		TopN:           3,
		DefaultMode:    domain.ModeCustodial,
		MaxAttempts:    3,
		Backoff:        5 * time.Second,
		JobQueueName:   "payout_jobs",
	}
}

func newTestService(t *testing.T, settings Settings) (*Service, *fakeRepo, *fakeRanking, *fakeQueue, *fakeProvider) {
	t.Helper()
	repo := newFakeRepo()
	ranking := &fakeRanking{entries: make(map[int][]domain.RankedEntry)}
	q := newFakeQueue()
	provider := &fakeProvider{}
	factory := func(mode domain.PayoutMode) (payout.Provider, error) {
		return provider, nil
	}
	return NewService(repo, ranking, q, factory, settings), repo, ranking, q, provider
}

// seedWinners registers n ranked recipients with wallets and descending
// scores, returning their ids in rank order.
func seedWinners(repo *fakeRepo, ranking *fakeRanking, periodID, n int) []uuid.UUID {
	ids := make([]uuid.UUID, n)
	entries := make([]domain.RankedEntry, n)
	for i := 0; i < n; i++ {
		ids[i] = uuid.New()
		entries[i] = domain.RankedEntry{RecipientID: ids[i], Score: int64(100 - i*10)}
		repo.wallets[ids[i]] = fmt.Sprintf("0x%040d", i+1)
	}
	ranking.entries[periodID] = entries
	return ids
}

func TestCloseRound_ComputesAndQueuesDispatch(t *testing.T) {
	svc, repo, ranking, q, _ := newTestService(t, testSettings())
	ids := seedWinners(repo, ranking, testPeriod, 3)

	result, err := svc.CloseRound(context.Background(), testPeriod)
	if err != nil {
		t.Fatalf("CloseRound: %v", err)
	}
	if result.Winners != 3 || result.Skipped {
		t.Fatalf("result = %+v, want 3 winners, not skipped", result)
	}
	if !result.Queued {
		t.Fatal("dispatch was not queued")
	}

	allocs, err := repo.ListAllocations(context.Background(), testPeriod)
	if err != nil {
		t.Fatalf("ListAllocations: %v", err)
	}
	if len(allocs) != 3 {
		t.Fatalf("allocation count = %d, want 3", len(allocs))
	}
	// 1000000 / 3: remainder goes to the first winner.
	if allocs[0].RecipientID != ids[0] || allocs[0].AmountUnits != "333334" {
		t.Fatalf("first allocation = %s/%s, want %s/333334", allocs[0].RecipientID, allocs[0].AmountUnits, ids[0])
	}
	for _, a := range allocs[1:] {
		if a.AmountUnits != "333333" {
			t.Fatalf("allocation amount = %s, want 333333", a.AmountUnits)
		}
		if a.PayoutState != domain.PayoutPending {
			t.Fatalf("allocation state = %s, want pending", a.PayoutState)
		}
	}

	jobs := q.byName(JobDispatchPeriod)
	if len(jobs) != 1 {
		t.Fatalf("dispatch jobs = %d, want 1", len(jobs))
	}
	if jobs[0].DedupeKey != "dispatch:202536" {
		t.Fatalf("dedupe key = %q", jobs[0].DedupeKey)
	}
}

func TestCloseRound_NoWinnersSkipsDispatch(t *testing.T) {
	svc, repo, _, q, _ := newTestService(t, testSettings())

	result, err := svc.CloseRound(context.Background(), testPeriod)
	if err != nil {
		t.Fatalf("CloseRound: %v", err)
	}
	if !result.Skipped || result.Winners != 0 {
		t.Fatalf("result = %+v, want skipped with 0 winners", result)
	}

	if _, err := repo.FindRewardRound(context.Background(), testPeriod); err != nil {
		t.Fatalf("round row was not recorded: %v", err)
	}
	allocs, _ := repo.ListAllocations(context.Background(), testPeriod)
	if len(allocs) != 0 {
		t.Fatalf("allocations = %d, want 0", len(allocs))
	}
	if len(q.jobs) != 0 {
		t.Fatalf("jobs enqueued = %d, want 0", len(q.jobs))
	}
}

func TestCloseRound_DropsWinnersWithoutWallets(t *testing.T) {
	svc, repo, ranking, _, _ := newTestService(t, testSettings())
	ids := seedWinners(repo, ranking, testPeriod, 3)
	delete(repo.wallets, ids[1])

	result, err := svc.CloseRound(context.Background(), testPeriod)
	if err != nil {
		t.Fatalf("CloseRound: %v", err)
	}
	if result.Winners != 2 {
		t.Fatalf("winners = %d, want 2", result.Winners)
	}

	// The remaining winners split the full pool.
	allocs, _ := repo.ListAllocations(context.Background(), testPeriod)
	sum := new(big.Int)
	for _, a := range allocs {
		if a.RecipientID == ids[1] {
			t.Fatal("walletless recipient received an allocation")
		}
		v, _ := new(big.Int).SetString(a.AmountUnits, 10)
		sum.Add(sum, v)
	}
	if sum.String() != "1000000" {
		t.Fatalf("allocated sum = %s, want 1000000", sum)
	}
}

func TestCloseRound_SecondCloseCollapsesDispatch(t *testing.T) {
	svc, repo, ranking, q, _ := newTestService(t, testSettings())
	seedWinners(repo, ranking, testPeriod, 3)

	if _, err := svc.CloseRound(context.Background(), testPeriod); err != nil {
		t.Fatalf("first close: %v", err)
	}
	result, err := svc.CloseRound(context.Background(), testPeriod)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if result.Queued {
		t.Fatal("second close queued a duplicate dispatch job")
	}
	if jobs := q.byName(JobDispatchPeriod); len(jobs) != 1 {
		t.Fatalf("dispatch jobs = %d, want 1", len(jobs))
	}
	allocs, _ := repo.ListAllocations(context.Background(), testPeriod)
	if len(allocs) != 3 {
		t.Fatalf("allocations = %d, want 3", len(allocs))
	}
}

func TestCloseRound_FreezesAmountsAfterDispatch(t *testing.T) {
	svc, repo, ranking, _, _ := newTestService(t, testSettings())
	ids := seedWinners(repo, ranking, testPeriod, 3)

	if _, err := svc.CloseRound(context.Background(), testPeriod); err != nil {
		t.Fatalf("first close: %v", err)
	}
	allocs, _ := repo.ListAllocations(context.Background(), testPeriod)
	if ok, _ := repo.MarkAllocationSent(context.Background(), allocs[0].ID, "tx-abc"); !ok {
		t.Fatal("seed send failed")
	}

	// The leaderboard moves after the first dispatch; the committed
	// amounts must not.
	ranking.entries[testPeriod] = []domain.RankedEntry{{RecipientID: ids[2], Score: 900}}

	result, err := svc.CloseRound(context.Background(), testPeriod)
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if result.Winners != 3 {
		t.Fatalf("winners = %d, want the original 3", result.Winners)
	}
	after, _ := repo.ListAllocations(context.Background(), testPeriod)
	if len(after) != 3 {
		t.Fatalf("allocations = %d, want 3", len(after))
	}
	for i := range after {
		if after[i].ID != allocs[i].ID || after[i].AmountUnits != allocs[i].AmountUnits {
			t.Fatal("committed allocations were recomputed after dispatch")
		}
	}
}

func TestCloseRound_RefusesFinalizedRound(t *testing.T) {
	svc, repo, ranking, _, _ := newTestService(t, testSettings())
	seedWinners(repo, ranking, testPeriod, 3)
	if _, err := repo.UpsertRewardRound(context.Background(), testPeriod, domain.TokenUSDC, "1000000"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.FinalizeRewardRound(context.Background(), testPeriod, "0xroot"); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.CloseRound(context.Background(), testPeriod); !errors.Is(err, ErrRoundFinalized) {
		t.Fatalf("expected ErrRoundFinalized, got %v", err)
	}
}

func TestOpenRound_Validation(t *testing.T) {
	svc, _, _, _, _ := newTestService(t, testSettings())

	if _, err := svc.OpenRound(context.Background(), domain.OpenRoundRequest{PeriodID: testPeriod, Token: "DOGE", TotalPoolUnits: "100"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad token, got %v", err)
	}
	if _, err := svc.OpenRound(context.Background(), domain.OpenRoundRequest{PeriodID: testPeriod, Token: domain.TokenUSDC, TotalPoolUnits: "12.5"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for fractional pool, got %v", err)
	}

	round, err := svc.OpenRound(context.Background(), domain.OpenRoundRequest{PeriodID: testPeriod})
	if err != nil {
		t.Fatalf("OpenRound with defaults: %v", err)
	}
	if round.Token != domain.TokenUSDC || round.TotalPoolUnits != "1000000" {
		t.Fatalf("round defaults = %s/%s", round.Token, round.TotalPoolUnits)
	}

	if _, err := svc.OpenRound(context.Background(), domain.OpenRoundRequest{PeriodID: testPeriod}); !errors.Is(err, store.ErrRoundExists) {
		t.Fatalf("expected ErrRoundExists, got %v", err)
	}
}

func TestCreateAllocations_RefusedAfterDispatch(t *testing.T) {
	svc, repo, ranking, _, _ := newTestService(t, testSettings())
	seedWinners(repo, ranking, testPeriod, 2)
	if _, err := svc.CloseRound(context.Background(), testPeriod); err != nil {
		t.Fatal(err)
	}
	allocs, _ := repo.ListAllocations(context.Background(), testPeriod)
	repo.MarkAllocationSent(context.Background(), allocs[0].ID, "tx-1")

	req := domain.AllocateRequest{
		PeriodID: testPeriod,
		Allocations: []domain.AllocationItem{
			{RecipientID: uuid.New(), WalletAddress: "0x1", AmountUnits: "1000000"},
		},
	}
	if _, err := svc.CreateAllocations(context.Background(), req); !errors.Is(err, ErrRoundDispatched) {
		t.Fatalf("expected ErrRoundDispatched, got %v", err)
	}
}

func TestFinalizeRound_ComputesCommitment(t *testing.T) {
	svc, repo, ranking, _, _ := newTestService(t, testSettings())
	seedWinners(repo, ranking, testPeriod, 3)
	if _, err := svc.CloseRound(context.Background(), testPeriod); err != nil {
		t.Fatal(err)
	}

	round, err := svc.FinalizeRound(context.Background(), domain.FinalizeRoundRequest{PeriodID: testPeriod})
	if err != nil {
		t.Fatalf("FinalizeRound: %v", err)
	}
	if round.Status != domain.RoundFinalized {
		t.Fatalf("status = %s, want finalized", round.Status)
	}
	if round.MerkleRoot == nil || len(*round.MerkleRoot) != 66 {
		t.Fatalf("merkle root = %v, want 0x-prefixed 32-byte hash", round.MerkleRoot)
	}

	allocs, _ := repo.ListAllocations(context.Background(), testPeriod)
	if want := AllocationCommitment(testPeriod, allocs); *round.MerkleRoot != want {
		t.Fatalf("merkle root = %s, want %s", *round.MerkleRoot, want)
	}
}

func TestMarkPayout_InvalidState(t *testing.T) {
	svc, _, _, _, _ := newTestService(t, testSettings())
	req := domain.MarkPayoutRequest{PeriodID: testPeriod, RecipientID: uuid.New(), PayoutState: "refunded"}
	if _, err := svc.MarkPayout(context.Background(), req); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUserSummary_SettledAllocation(t *testing.T) {
	svc, repo, ranking, _, _ := newTestService(t, testSettings())
	ids := seedWinners(repo, ranking, testPeriod, 3)
	if _, err := svc.CloseRound(context.Background(), testPeriod); err != nil {
		t.Fatal(err)
	}
	allocs, _ := repo.ListAllocations(context.Background(), testPeriod)
	repo.MarkAllocationSent(context.Background(), allocs[0].ID, "tx-9")

	summary, err := svc.UserSummary(context.Background(), testPeriod, ids[0])
	if err != nil {
		t.Fatalf("UserSummary: %v", err)
	}
	if summary.Status != "sent" {
		t.Fatalf("status = %s, want sent", summary.Status)
	}
	if summary.Rank == nil || *summary.Rank != 1 {
		t.Fatalf("rank = %v, want 1", summary.Rank)
	}
	if summary.AmountUnits == nil || *summary.AmountUnits != "333334" {
		t.Fatalf("amount units = %v, want 333334", summary.AmountUnits)
	}
	if summary.Amount == nil || *summary.Amount != "0.333334" {
		t.Fatalf("amount = %v, want 0.333334", summary.Amount)
	}
	if summary.SettlementRef == nil || *summary.SettlementRef != "tx-9" {
		t.Fatalf("settlement ref = %v, want tx-9", summary.SettlementRef)
	}
}

func TestUserSummary_ProjectedEqualVsWeighted(t *testing.T) {
	svc, repo, ranking, _, _ := newTestService(t, testSettings())
	ids := seedWinners(repo, ranking, testPeriod, 3)

	summary, err := svc.UserSummary(context.Background(), testPeriod, ids[1])
	if err != nil {
		t.Fatalf("UserSummary: %v", err)
	}
	if summary.Status != "projected" {
		t.Fatalf("status = %s, want projected", summary.Status)
	}
	// Equal policy: pool / topN is a firm projection.
	if summary.AmountUnits == nil || *summary.AmountUnits != "333333" {
		t.Fatalf("projected units = %v, want 333333", summary.AmountUnits)
	}

	// Weighted policy: the denominator is unknown until close, so no
	// amount is projected.
	weighted := testSettings()
	weighted.Policy = domain.PolicyWeighted
	wsvc := NewService(repo, ranking, nil, nil, weighted)
	wsummary, err := wsvc.UserSummary(context.Background(), testPeriod, ids[1])
	if err != nil {
		t.Fatalf("UserSummary weighted: %v", err)
	}
	if wsummary.Status != "projected" {
		t.Fatalf("weighted status = %s, want projected", wsummary.Status)
	}
	if wsummary.Amount != nil || wsummary.AmountUnits != nil {
		t.Fatalf("weighted projection leaked an amount: %v / %v", wsummary.Amount, wsummary.AmountUnits)
	}
}

func TestUserSummary_NotRanked(t *testing.T) {
	svc, _, _, _, _ := newTestService(t, testSettings())
	summary, err := svc.UserSummary(context.Background(), testPeriod, uuid.New())
	if err != nil {
		t.Fatalf("UserSummary: %v", err)
	}
	if summary.Status != "not_ranked" || summary.Rank != nil || summary.Amount != nil {
		t.Fatalf("summary = %+v, want bare not_ranked", summary)
	}
}

func TestPayoutHistory_CursorPagination(t *testing.T) {
	svc, repo, _, _, _ := newTestService(t, testSettings())
	recipient := uuid.New()
	for _, period := range []int{202534, 202535, 202536} {
		repo.ReplaceAllocations(context.Background(), period, []domain.AllocationItem{
			{RecipientID: recipient, WalletAddress: "0x1", AmountUnits: "100"},
		})
	}

	page, err := svc.PayoutHistory(context.Background(), recipient, 0, 2)
	if err != nil {
		t.Fatalf("PayoutHistory: %v", err)
	}
	if len(page) != 2 || page[0].PeriodID != 202536 || page[1].PeriodID != 202535 {
		t.Fatalf("first page = %+v", page)
	}

	next, err := svc.PayoutHistory(context.Background(), recipient, page[1].PeriodID, 2)
	if err != nil {
		t.Fatalf("PayoutHistory page 2: %v", err)
	}
	if len(next) != 1 || next[0].PeriodID != 202534 {
		t.Fatalf("second page = %+v", next)
	}
}

func TestPolicy_ReportsConfiguration(t *testing.T) {
	svc, _, _, _, _ := newTestService(t, testSettings())
	info := svc.Policy()
	if info.Token != domain.TokenUSDC || info.TopN != 3 || info.Policy != domain.PolicyEqual {
		t.Fatalf("policy = %+v", info)
	}
	if info.TotalPool != "1" {
		t.Fatalf("human pool = %s, want 1", info.TotalPool)
	}
}
