/**
 * @description
 * This package provides a read-only client for the weekly leaderboard, an
 * externally maintained Redis sorted set keyed by period. The game engine
 * writes scores; the rewards pipeline only reads top-K ranges and
 * individual rank/score lookups.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client library.
 * - github.com/google/uuid: Member ids are recipient UUIDs.
 */
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/blockquiz/rewards-service/internal/domain"
)

// Client reads the weekly leaderboard sorted sets.
type Client struct {
	rdb       *redis.Client
	keyPrefix string
}

// NewClient creates a leaderboard client. keyPrefix defaults to "lb" when
// empty, matching the key layout written by the game engine.
func NewClient(rdb *redis.Client, keyPrefix string) *Client {
	if keyPrefix == "" {
		keyPrefix = "lb"
	}
	return &Client{rdb: rdb, keyPrefix: keyPrefix}
}

// PeriodKey returns the sorted-set key for one reward period.
func (c *Client) PeriodKey(periodID int) string {
	return fmt.Sprintf("%s:weekly:%d", c.keyPrefix, periodID)
}

// TopK returns the period's top k members ordered by descending score.
// Tie order between equal scores is whatever the sorted set yields; the
// pipeline does not redefine it.
func (c *Client) TopK(ctx context.Context, periodID int, k int) ([]domain.RankedEntry, error) {
	if k <= 0 {
		return nil, nil
	}
	members, err := c.rdb.ZRevRangeWithScores(ctx, c.PeriodKey(periodID), 0, int64(k-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard range: %w", err)
	}

	out := make([]domain.RankedEntry, 0, len(members))
	for _, m := range members {
		raw, ok := m.Member.(string)
		if !ok {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			// Foreign members in the set are the game engine's problem;
			// skip rather than fail the whole close.
			log.Printf("level=warn component=leaderboard msg=\"skipping non-uuid member\" period_id=%d member=%q", periodID, raw)
			continue
		}
		out = append(out, domain.RankedEntry{RecipientID: id, Score: int64(m.Score)})
	}
	return out, nil
}

// Rank returns a recipient's 1-based rank for the period, or ok=false when
// the recipient is not on the board.
func (c *Client) Rank(ctx context.Context, periodID int, recipientID uuid.UUID) (int64, bool, error) {
	rank, err := c.rdb.ZRevRank(ctx, c.PeriodKey(periodID), recipientID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return rank + 1, true, nil
}

// Score returns a recipient's score for the period, or ok=false when the
// recipient is not on the board.
func (c *Client) Score(ctx context.Context, periodID int, recipientID uuid.UUID) (int64, bool, error) {
	score, err := c.rdb.ZScore(ctx, c.PeriodKey(periodID), recipientID.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return int64(score), true, nil
}
