/**
 * @description
 * Dispatch orchestration: fanning a closed period out into one send job
 * per allocation, and executing each send through the payout provider
 * behind the allocation state machine. Jobs are deduplicated on
 * deterministic keys so a re-triggered close cannot double-enqueue, and
 * the pending/failed -> sent transition in the store is the final guard
 * against paying an allocation twice.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/blockquiz/rewards-service/internal/domain"
	"github.com/blockquiz/rewards-service/internal/store"
	"github.com/blockquiz/rewards-service/pkg/queue"
	"github.com/blockquiz/rewards-service/pkg/units"
)

const (
	// JobDispatchPeriod fans a period out into send jobs.
	JobDispatchPeriod = "dispatch.period"
	// JobSendAllocation executes one money movement.
	JobSendAllocation = "send.allocation"
)

// DispatchDedupeKey is the dedupe key for a period-level dispatch job.
func DispatchDedupeKey(periodID int) string {
	return fmt.Sprintf("dispatch:%d", periodID)
}

// AllocationDedupeKey is the dedupe key for a single send job.
func AllocationDedupeKey(id uuid.UUID) string {
	return fmt.Sprintf("alloc:%s", id)
}

// EnqueueDispatch triggers payout dispatch for a period. With a queue
// configured it submits a dispatch.period job and reports whether the job
// was accepted (false means an identical job is already outstanding).
// Without a queue it runs the whole dispatch inline and returns false.
func (s *Service) EnqueueDispatch(ctx context.Context, periodID int, mode domain.PayoutMode) (bool, error) {
	job := domain.DispatchPeriodJob{PeriodID: periodID, Mode: mode}

	if s.queue == nil {
		log.Printf("level=warn component=dispatch op=enqueue period_id=%d msg=\"queue unavailable; dispatching inline\"", periodID)
		return false, s.dispatchPeriod(ctx, job)
	}

	accepted, err := s.queue.Submit(ctx, JobDispatchPeriod, job, queue.SubmitOptions{
		DedupeKey:   DispatchDedupeKey(periodID),
		MaxAttempts: s.settings.MaxAttempts,
		Backoff:     s.settings.Backoff,
	})
	if err != nil {
		return false, fmt.Errorf("failed to enqueue dispatch for period %d: %w", periodID, err)
	}
	return accepted, nil
}

// HandleDispatchPeriod is the queue handler for dispatch.period jobs.
func (s *Service) HandleDispatchPeriod(ctx context.Context, payload []byte) error {
	var job domain.DispatchPeriodJob
	if err := json.Unmarshal(payload, &job); err != nil {
		// Malformed payloads never become valid; dropping beats retrying.
		log.Printf("level=error component=dispatch op=dispatch_period msg=\"malformed payload; dropping\" err=%v", err)
		return nil
	}
	return s.dispatchPeriod(ctx, job)
}

// dispatchPeriod selects the period's still-dispatchable allocations
// (pending and failed rows; sent and claimed are skipped) and hands each
// one to a send job, or sends inline when no queue is configured.
func (s *Service) dispatchPeriod(ctx context.Context, job domain.DispatchPeriodJob) error {
	mode := job.Mode
	if mode == "" {
		mode = s.settings.DefaultMode
	}

	allocations, err := s.repo.ListDispatchableAllocations(ctx, job.PeriodID)
	if err != nil {
		return fmt.Errorf("failed to list dispatchable allocations: %w", err)
	}
	if len(allocations) == 0 {
		log.Printf("level=info component=dispatch op=dispatch_period period_id=%d msg=\"nothing to dispatch\"", job.PeriodID)
		return nil
	}
	log.Printf("level=info component=dispatch op=dispatch_period period_id=%d count=%d mode=%s", job.PeriodID, len(allocations), mode)

	if s.queue == nil {
		for _, alloc := range allocations {
			if err := s.sendAllocation(ctx, alloc.ID, mode); err != nil {
				// Inline mode has no retry schedule; failed rows stay failed
				// and are picked up by the next dispatch.
				log.Printf("level=error component=dispatch op=dispatch_period period_id=%d allocation_id=%s msg=\"inline send failed\" err=%v", job.PeriodID, alloc.ID, err)
			}
		}
		return nil
	}

	var failed int
	for _, alloc := range allocations {
		sendJob := domain.SendAllocationJob{PeriodID: job.PeriodID, AllocationID: alloc.ID, Mode: mode}
		_, err := s.queue.Submit(ctx, JobSendAllocation, sendJob, queue.SubmitOptions{
			DedupeKey:   AllocationDedupeKey(alloc.ID),
			MaxAttempts: s.settings.MaxAttempts,
			Backoff:     s.settings.Backoff,
		})
		if err != nil {
			log.Printf("level=error component=dispatch op=dispatch_period period_id=%d allocation_id=%s msg=\"failed to enqueue send job\" err=%v", job.PeriodID, alloc.ID, err)
			failed++
		}
	}
	if failed > 0 {
		// Retrying the fan-out is safe: already-enqueued sends are collapsed
		// by their allocation dedupe keys.
		return fmt.Errorf("failed to enqueue %d of %d send jobs for period %d", failed, len(allocations), job.PeriodID)
	}
	return nil
}

// HandleSendAllocation is the queue handler for send.allocation jobs.
func (s *Service) HandleSendAllocation(ctx context.Context, payload []byte) error {
	var job domain.SendAllocationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		log.Printf("level=error component=dispatch op=send_allocation msg=\"malformed payload; dropping\" err=%v", err)
		return nil
	}
	mode := job.Mode
	if mode == "" {
		mode = s.settings.DefaultMode
	}
	return s.sendAllocation(ctx, job.AllocationID, mode)
}

// sendAllocation executes one payout. Allocations that have already left
// the dispatchable states are a no-op, which makes redelivered and
// manually re-triggered jobs harmless.
func (s *Service) sendAllocation(ctx context.Context, allocationID uuid.UUID, mode domain.PayoutMode) error {
	alloc, err := s.repo.FindAllocationByID(ctx, allocationID)
	if err != nil {
		if errors.Is(err, store.ErrAllocationNotFound) {
			log.Printf("level=warn component=dispatch op=send_allocation allocation_id=%s msg=\"allocation no longer exists; dropping job\"", allocationID)
			return nil
		}
		return fmt.Errorf("failed to load allocation %s: %w", allocationID, err)
	}
	if !alloc.PayoutState.Dispatchable() {
		log.Printf("level=info component=dispatch op=send_allocation allocation_id=%s state=%s msg=\"already settled; skipping\"", allocationID, alloc.PayoutState)
		return nil
	}

	round, err := s.repo.FindRewardRound(ctx, alloc.PeriodID)
	if err != nil {
		return fmt.Errorf("failed to load round for allocation %s: %w", allocationID, err)
	}

	amount, err := units.Parse(alloc.AmountUnits)
	if err != nil {
		// Stored amounts are validated on write; a parse failure here means
		// corrupted state, not a transient fault.
		log.Printf("level=error component=dispatch op=send_allocation allocation_id=%s msg=\"stored amount unparsable; manual repair required\" amount=%q err=%v", allocationID, alloc.AmountUnits, err)
		return nil
	}

	provider, err := s.provider(mode)
	if err != nil {
		return fmt.Errorf("failed to build %s payout provider: %w", mode, err)
	}

	settlementRef, err := provider.Transfer(ctx, round.Token, alloc.WalletAddress, amount)
	if err != nil {
		if ok, markErr := s.repo.MarkAllocationFailed(ctx, allocationID); markErr != nil {
			log.Printf("level=error component=dispatch op=send_allocation allocation_id=%s msg=\"failed to record failed state\" err=%v", allocationID, markErr)
		} else if !ok {
			log.Printf("level=warn component=dispatch op=send_allocation allocation_id=%s msg=\"state changed mid-send; failure not recorded\"", allocationID)
		}
		return fmt.Errorf("transfer failed for allocation %s: %w", allocationID, err)
	}

	ok, err := s.repo.MarkAllocationSent(ctx, allocationID, settlementRef)
	if err != nil {
		// The money has moved. Returning an error would retry the transfer,
		// so log for manual repair (MarkPayout) and stop here.
		log.Printf("level=error component=dispatch op=send_allocation allocation_id=%s settlement_ref=%s msg=\"TRANSFER SENT BUT STATE UPDATE FAILED; manual override required\" err=%v", allocationID, settlementRef, err)
		return nil
	}
	if !ok {
		// A concurrent actor settled the row between our state check and the
		// transition. Both transfers went out; surface it loudly.
		log.Printf("level=error component=dispatch op=send_allocation allocation_id=%s settlement_ref=%s msg=\"DUPLICATE SEND DETECTED; allocation settled concurrently\"", allocationID, settlementRef)
		return nil
	}

	log.Printf("level=info component=dispatch op=send_allocation allocation_id=%s period_id=%d amount_units=%s settlement_ref=%s msg=\"payout sent\"", allocationID, alloc.PeriodID, alloc.AmountUnits, settlementRef)
	return nil
}
