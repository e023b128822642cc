/**
 * @description
 * This package provides the job queue used by the payout dispatch
 * pipeline: a RabbitMQ topic exchange with JSON payloads, deterministic
 * dedupe keys backed by Redis, and per-job retry budgets with exponential
 * backoff enforced on the consumer side.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 * - github.com/redis/go-redis/v9: Dedupe key storage (optional).
 */
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	headerDedupeKey   = "x-dedupe-key"
	headerAttempt     = "x-attempt"
	headerMaxAttempts = "x-max-attempts"
	headerBackoffMS   = "x-backoff-ms"
)

// SubmitOptions controls dedupe and retry behavior for one job.
type SubmitOptions struct {
	// DedupeKey collapses duplicate submissions while the first is
	// outstanding. Empty disables dedupe for the job.
	DedupeKey string
	// MaxAttempts is the total attempt budget; zero or less means 1.
	MaxAttempts int
	// Backoff is the delay before the second attempt; it doubles per
	// subsequent attempt.
	Backoff time.Duration
}

func (o SubmitOptions) maxAttempts() int {
	if o.MaxAttempts <= 0 {
		return 1
	}
	return o.MaxAttempts
}

// Producer publishes jobs to the queue exchange.
type Producer struct {
	conn     *amqp091.Connection
	exchange string
	dedupe   *DedupeStore

	mu      sync.Mutex
	channel *amqp091.Channel
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewProducer connects to RabbitMQ and returns a producer bound to the
// given exchange. dedupe may be nil, in which case deduplication degrades
// to nothing (single-process callers still behave correctly because job
// handlers are idempotent).
func NewProducer(amqpURL, exchange string, dedupe *DedupeStore) (*Producer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Producer{conn: conn, channel: ch, exchange: exchange, dedupe: dedupe}, nil
}

// Submit publishes one job. Returns accepted=false (and no error) when the
// dedupe key is already held by an outstanding submission.
func (p *Producer) Submit(ctx context.Context, jobName string, payload interface{}, opts SubmitOptions) (bool, error) {
	if opts.DedupeKey != "" && p.dedupe != nil {
		acquired, err := p.dedupe.Acquire(ctx, opts.DedupeKey)
		if err != nil {
			// Redis being down must not stop payouts; fall through without
			// cross-process dedupe.
			log.Printf("level=warn component=queue_producer msg=\"dedupe check failed; submitting anyway\" job=%s key=%s err=%v", jobName, opts.DedupeKey, err)
		} else if !acquired {
			log.Printf("level=info component=queue_producer msg=\"duplicate submission collapsed\" job=%s key=%s", jobName, opts.DedupeKey)
			return false, nil
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	pub := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
		Headers: amqp091.Table{
			headerDedupeKey:   opts.DedupeKey,
			headerAttempt:     int32(1),
			headerMaxAttempts: int32(opts.maxAttempts()),
			headerBackoffMS:   opts.Backoff.Milliseconds(),
		},
	}

	if err := p.publish(ctx, jobName, pub); err != nil {
		if opts.DedupeKey != "" && p.dedupe != nil {
			p.dedupe.Release(ctx, opts.DedupeKey)
		}
		return false, err
	}
	return true, nil
}

func (p *Producer) publish(ctx context.Context, routingKey string, pub amqp091.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, pub)
	if err == nil {
		return nil
	}

	// One-shot retry: reopen the channel and try again.
	log.Printf("level=warn component=queue_producer msg=\"publish failed; reopening channel\" routing_key=%s err=%v", routingKey, err)
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return err
	}
	p.channel = ch
	if exErr := p.channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); exErr != nil {
		return exErr
	}
	return p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, pub)
}

// Depth reports how many messages are waiting in the named queue, for
// operator introspection.
func (p *Producer) Depth(queueName string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, err := p.channel.QueueDeclarePassive(queueName, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
