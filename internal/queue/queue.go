// Package queue is the durable job queue between webhook intake and the
// worker, backed by RabbitMQ. Delivery is at-least-once: a job can be
// redelivered after a crash or an explicit retry, so exactly-once effects are
// the consumer's responsibility, not the queue's.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const attemptsHeader = "x-attempts"

// Job is one unit of deferred work: re-examine this ticket.
type Job struct {
	ID         string          `json:"id"`
	TicketID   int             `json:"ticketId"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Handler processes one job attempt. Returning true requests a retry; the
// queue republishes the job with an incremented attempt counter. Returning
// false means the attempt was terminal (success, skip, or permanent failure)
// and the delivery is acked.
type Handler func(ctx context.Context, job Job, attempt int) bool

// Queue wraps a durable RabbitMQ queue with manual acks. Constructed once and
// injected; no package-level connection state.
type Queue struct {
	conn *amqp091.Connection
	ch   *amqp091.Channel
	name string
}

// New dials the broker and declares the durable queue. Declaration is
// idempotent, so publisher and consumer can both call it.
func New(url, name string) (*Queue, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open RabbitMQ channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("could not declare queue %s: %w", name, err)
	}

	log.Info().Str("queue", name).Msg("RabbitMQ connection established")
	return &Queue{conn: conn, ch: ch, name: name}, nil
}

// Enqueue publishes a job as a persistent message.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	return q.publish(ctx, job, 1)
}

func (q *Queue) publish(ctx context.Context, job Job, attempt int) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("could not marshal job: %w", err)
	}

	err = q.ch.PublishWithContext(ctx,
		"",     // exchange (default)
		q.name, // routing key = queue
		false,  // mandatory
		false,  // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         body,
			Headers:      amqp091.Table{attemptsHeader: int32(attempt)},
		})
	if err != nil {
		log.Error().Err(err).Str("queue", q.name).Str("jobID", job.ID).Msg("Could not publish job")
		return fmt.Errorf("could not publish to queue %s: %w", q.name, err)
	}

	log.Debug().Str("queue", q.name).Str("jobID", job.ID).Int("ticketID", job.TicketID).Int("attempt", attempt).Msg("Published job")
	return nil
}

// Consume runs `concurrency` workers over the queue until ctx is cancelled.
// Prefetch matches concurrency so no worker hoards deliveries. Each delivery
// goes to exactly one worker; duplicates across distinct deliveries are the
// idempotency store's problem.
func (q *Queue) Consume(ctx context.Context, concurrency int, handle Handler) error {
	if err := q.ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("could not set QoS: %w", err)
	}

	deliveries, err := q.ch.Consume(
		q.name,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("could not start consumer on %s: %w", q.name, err)
	}

	log.Info().Str("queue", q.name).Int("concurrency", concurrency).Msg("Consuming jobs")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				q.handleDelivery(ctx, d, handle)
			}
		}()
	}

	<-ctx.Done()
	// Closing the channel ends the deliveries range; unacked in-flight jobs
	// are requeued by the broker.
	q.ch.Close()
	wg.Wait()
	return nil
}

func (q *Queue) handleDelivery(ctx context.Context, d amqp091.Delivery, handle Handler) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		// Malformed payload is a permanent input error; redelivery cannot fix it.
		log.Error().Err(err).Str("queue", q.name).Msg("Discarding malformed job payload")
		d.Ack(false)
		return
	}

	attempt := attemptFrom(d.Headers)
	if handle(ctx, job, attempt) {
		if err := q.publish(ctx, job, attempt+1); err != nil {
			// Republish failed; leave the original delivery to the broker.
			log.Error().Err(err).Str("jobID", job.ID).Msg("Could not republish job for retry, requeueing delivery")
			d.Nack(false, true)
			return
		}
		log.Warn().Str("jobID", job.ID).Int("ticketID", job.TicketID).Int("nextAttempt", attempt+1).Msg("Job requeued for retry")
	}
	d.Ack(false)
}

func attemptFrom(headers amqp091.Table) int {
	switch v := headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 1
	}
}

// Close tears down the channel and connection.
func (q *Queue) Close() {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		q.conn.Close()
	}
}
