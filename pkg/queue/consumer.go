package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one job payload. A non-nil error triggers a retry
// until the job's attempt budget is exhausted.
type Handler func(ctx context.Context, payload []byte) error

// Consumer pulls jobs from a queue and runs them through registered
// handlers with bounded concurrency.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	dedupe *DedupeStore
}

// NewConsumer connects to RabbitMQ for consuming. dedupe may be nil; when
// set, completed or abandoned jobs release their dedupe key so future
// re-dispatches are admitted.
func NewConsumer(amqpURL string, dedupe *DedupeStore) (*Consumer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch, dedupe: dedupe}, nil
}

// Consume binds the queue to the exchange for every registered job name
// and starts processing with at most `concurrency` handlers in flight.
func (c *Consumer) Consume(exchange, queueName string, concurrency int, handlers map[string]Handler) error {
	if len(handlers) == 0 {
		return fmt.Errorf("no handlers provided")
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for jobName := range handlers {
		if err := c.ch.QueueBind(q.Name, jobName, exchange, false, nil); err != nil {
			return err
		}
	}

	if err := c.ch.Qos(concurrency, 0, false); err != nil {
		return err
	}
	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	sem := make(chan struct{}, concurrency)
	go func() {
		for d := range msgs {
			handler, ok := handlers[d.RoutingKey]
			if !ok {
				log.Printf("level=warn component=queue_consumer msg=\"no handler for job; dropping\" job=%s", d.RoutingKey)
				d.Ack(false)
				continue
			}
			sem <- struct{}{}
			go func(d amqp.Delivery, handler Handler) {
				defer func() { <-sem }()
				c.handle(d, handler)
			}(d, handler)
		}
	}()

	return nil
}

func (c *Consumer) handle(d amqp.Delivery, handler Handler) {
	ctx := context.Background()
	attempt := headerInt(d.Headers, headerAttempt, 1)
	maxAttempts := headerInt(d.Headers, headerMaxAttempts, 1)
	dedupeKey, _ := d.Headers[headerDedupeKey].(string)

	err := handler(ctx, d.Body)
	if err == nil {
		c.releaseDedupe(ctx, dedupeKey)
		d.Ack(false)
		return
	}

	if attempt >= maxAttempts {
		log.Printf("level=error component=queue_consumer msg=\"job abandoned after attempt budget\" job=%s attempt=%d max_attempts=%d err=%v", d.RoutingKey, attempt, maxAttempts, err)
		c.releaseDedupe(ctx, dedupeKey)
		d.Ack(false)
		return
	}

	delay := BackoffDelay(time.Duration(headerInt64(d.Headers, headerBackoffMS, 0))*time.Millisecond, attempt)
	log.Printf("level=warn component=queue_consumer msg=\"job failed; scheduling retry\" job=%s attempt=%d max_attempts=%d delay=%s err=%v", d.RoutingKey, attempt, maxAttempts, delay, err)

	// Ack the failed delivery and republish a delayed copy with the
	// attempt counter bumped. A broker-native nack/requeue would retry
	// immediately, defeating the backoff.
	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[headerAttempt] = int32(attempt + 1)
	retry := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         d.Body,
		Headers:      headers,
	}
	exchange := d.Exchange
	routingKey := d.RoutingKey
	d.Ack(false)

	time.AfterFunc(delay, func() {
		if pubErr := c.ch.PublishWithContext(context.Background(), exchange, routingKey, false, false, retry); pubErr != nil {
			log.Printf("level=error component=queue_consumer msg=\"retry publish failed; job lost\" job=%s attempt=%d err=%v", routingKey, attempt+1, pubErr)
			c.releaseDedupe(context.Background(), dedupeKey)
		}
	})
}

func (c *Consumer) releaseDedupe(ctx context.Context, key string) {
	if key != "" && c.dedupe != nil {
		c.dedupe.Release(ctx, key)
	}
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// BackoffDelay computes the delay before retrying a job that has already
// made `attempt` attempts: base, then doubling per attempt.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

func headerInt(h amqp.Table, key string, fallback int) int {
	return int(headerInt64(h, key, int64(fallback)))
}

func headerInt64(h amqp.Table, key string, fallback int64) int64 {
	switch v := h[key].(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	}
	return fallback
}
