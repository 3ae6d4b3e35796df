package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-engine/internal/config"
	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

const jobField = "job"

// RedisQueue is the production queue implementation on Redis Streams.
// Delivery is at-least-once: entries are claimed through a consumer group,
// and entries idle past the lease are reclaimed from crashed consumers via
// XAUTOCLAIM. Delayed retries park in a sorted set keyed by due time and are
// drained back into the stream on claim.
type RedisQueue struct {
	client *redis.Client
	cfg    config.QueueConfig
	logger *zap.Logger
}

// NewRedisQueue creates the queue and ensures the consumer group exists.
func NewRedisQueue(ctx context.Context, client *redis.Client, cfg config.QueueConfig, logger *zap.Logger) (*RedisQueue, error) {
	q := &RedisQueue{client: client, cfg: cfg, logger: logger}
	err := client.XGroupCreateMkStream(ctx, cfg.Stream, cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *RedisQueue) delayedKey() string {
	return q.cfg.Stream + ":delayed"
}

// Enqueue appends a job to the stream.
func (q *RedisQueue) Enqueue(ctx context.Context, job domain.AssignmentJob) error {
	raw, err := encodeJob(job)
	if err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{jobField: raw},
	}).Err()
}

// Claim returns the next job: reclaimed lease-expired entries first, then
// due delayed retries, then fresh stream entries.
func (q *RedisQueue) Claim(ctx context.Context, consumer string) (*Delivery, error) {
	if d, err := q.reclaim(ctx, consumer); err != nil || d != nil {
		return d, err
	}
	if err := q.promoteDue(ctx); err != nil {
		q.logger.Warn("promote delayed jobs", zap.Error(err))
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    1,
		Block:    q.cfg.ClaimBlock,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			return q.toDelivery(msg)
		}
	}
	return nil, nil
}

func (q *RedisQueue) reclaim(ctx context.Context, consumer string) (*Delivery, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: consumer,
		MinIdle:  q.cfg.Lease,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	q.logger.Info("reclaimed job from expired lease", zap.String("message_id", msgs[0].ID))
	return q.toDelivery(msgs[0])
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 16,
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range due {
		if err := q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.cfg.Stream,
			Values: map[string]any{jobField: raw},
		}).Err(); err != nil {
			return err
		}
		if err := q.client.ZRem(ctx, q.delayedKey(), raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) toDelivery(msg redis.XMessage) (*Delivery, error) {
	raw, ok := msg.Values[jobField].(string)
	if !ok {
		return nil, fmt.Errorf("stream entry %s missing job payload", msg.ID)
	}
	job, err := decodeJob(raw)
	if err != nil {
		return nil, fmt.Errorf("decode job %s: %w", msg.ID, err)
	}
	return &Delivery{MessageID: msg.ID, Job: job}, nil
}

// Ack removes a finished entry from the pending list and the stream.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, d.MessageID).Err(); err != nil {
		return err
	}
	return q.client.XDel(ctx, q.cfg.Stream, d.MessageID).Err()
}

// Retry schedules redelivery with exponential backoff; jobs that exhausted
// their attempts are dead-lettered instead.
func (q *RedisQueue) Retry(ctx context.Context, d *Delivery) error {
	next := d.Job
	next.Attempt++
	if next.Attempt >= q.cfg.MaxAttempts {
		return q.DeadLetter(ctx, d, "retry attempts exhausted")
	}

	raw, err := encodeJob(next)
	if err != nil {
		return err
	}
	due := time.Now().Add(Backoff(next.Attempt, q.cfg.BackoffBase, q.cfg.BackoffCap))
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: raw,
	}).Err(); err != nil {
		return err
	}
	return q.Ack(ctx, d)
}

// DeadLetter parks a job on the dead stream and alerts the operator.
// Dead-lettered jobs never silently vanish; they wait for intervention.
func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	raw, err := encodeJob(d.Job)
	if err != nil {
		return err
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.DeadStream,
		Values: map[string]any{jobField: raw, "reason": reason},
	}).Err(); err != nil {
		return err
	}
	q.logger.Error("assignment job dead-lettered",
		zap.String("ticket_id", d.Job.TicketID),
		zap.String("reason", reason),
		zap.Int("attempt", d.Job.Attempt))
	return q.Ack(ctx, d)
}

// Depth reports queued plus delayed jobs.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	queued, err := q.client.XLen(ctx, q.cfg.Stream).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, err
	}
	return queued + delayed, nil
}
