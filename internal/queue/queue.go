// Package queue implements a small delayed-task queue on Redis sorted sets.
// Tasks become visible at their scheduled time, failed tasks are retried with
// exponential backoff, and tasks that exhaust their attempts land in a
// per-kind dead letter list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/resilience"
)

// Task is one unit of asynchronous work.
type Task struct {
	Kind        string
	Payload     []byte
	Key         string
	Attempt     int
	MaxAttempts int
	Delay       time.Duration
}

type envelope struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"maxAttempts"`
	VisibleAt   int64  `json:"visibleAt"`
}

// Enqueuer publishes tasks. A task carrying a key is deduplicated within the
// configured window; re-enqueueing it is a no-op until the key expires or the
// task is acknowledged.
type Enqueuer struct {
	R        *redis.Client
	Prefix   string
	DedupTTL time.Duration
}

// Enqueue schedules the task. Delay postpones visibility; zero means now.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	if t.Kind == "" {
		return errors.New("queue: task kind is required")
	}
	env := envelope{
		Kind:        t.Kind,
		Key:         t.Key,
		Payload:     t.Payload,
		Attempt:     t.Attempt,
		MaxAttempts: t.MaxAttempts,
		VisibleAt:   time.Now().Add(t.Delay).UnixNano(),
	}
	if env.MaxAttempts <= 0 {
		env.MaxAttempts = 10
	}

	if env.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, dedupKey(e.Prefix, t.Kind, env.Key), "1", ttl).Result()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, readyKey(e.Prefix, t.Kind), redis.Z{
		Score:  float64(env.VisibleAt),
		Member: raw,
	}).Err()
}

// Worker consumes tasks of one kind.
type Worker struct {
	R           *redis.Client
	Prefix      string
	Kind        string
	Concurrency int
	Visibility  time.Duration
	RetryBase   time.Duration
	RetryJitter float64
	Handler     func(context.Context, Task) error
	Log         zerolog.Logger
}

// Run processes tasks until the context is cancelled. In-flight tasks are
// parked in a processing set and redelivered when their visibility deadline
// passes without an ack.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil {
		return errors.New("queue: worker redis client not configured")
	}
	if w.Handler == nil {
		return errors.New("queue: worker handler not configured")
	}
	if w.Kind == "" {
		return errors.New("queue: worker kind is required")
	}
	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	visibility := w.Visibility
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	retryBase := w.RetryBase
	if retryBase <= 0 {
		retryBase = 200 * time.Millisecond
	}

	ready := readyKey(w.Prefix, w.Kind)
	processing := processingKey(w.Prefix, w.Kind)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	redeliver := time.NewTicker(time.Second)
	defer redeliver.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case <-redeliver.C:
			if err := w.redeliverExpired(ctx, ready, processing); err != nil {
				return err
			}
		default:
		}

		res, err := w.R.ZPopMin(ctx, ready, 1).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				wg.Wait()
				return nil
			}
			if errors.Is(err, redis.Nil) {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}
		if len(res) == 0 {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		member, ok := res[0].Member.(string)
		if !ok {
			continue
		}
		env, err := decode(member)
		if err != nil {
			w.Log.Warn().Err(err).Str("kind", w.Kind).Msg("queue_task_undecodable")
			continue
		}

		now := time.Now().UnixNano()
		if env.VisibleAt > now {
			// Not due yet; put it back and wait out the gap.
			w.R.ZAdd(ctx, ready, redis.Z{Score: float64(env.VisibleAt), Member: member})
			gap := time.Duration(env.VisibleAt - now)
			if gap > time.Second {
				gap = time.Second
			}
			time.Sleep(gap)
			continue
		}

		env.Attempt++
		raw, err := json.Marshal(env)
		if err != nil {
			continue
		}
		deadline := time.Now().Add(visibility).UnixNano()
		if err := w.R.ZAdd(ctx, processing, redis.Z{Score: float64(deadline), Member: raw}).Err(); err != nil {
			return err
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(raw string, env envelope) {
			defer wg.Done()
			defer func() { <-sem }()
			task := Task{
				Kind:        env.Kind,
				Payload:     env.Payload,
				Key:         env.Key,
				Attempt:     env.Attempt,
				MaxAttempts: env.MaxAttempts,
			}
			if err := w.Handler(ctx, task); err != nil {
				w.retryOrBury(ctx, ready, processing, raw, env, retryBase, err)
				return
			}
			w.ack(ctx, processing, raw, env)
			ProcessedTotal.WithLabelValues(w.Kind, "ok").Inc()
		}(string(raw), env)
	}
}

func (w Worker) retryOrBury(ctx context.Context, ready, processing, raw string, env envelope, base time.Duration, cause error) {
	_ = w.R.ZRem(ctx, processing, raw).Err()
	if env.Attempt >= env.MaxAttempts {
		buried, err := json.Marshal(env)
		if err != nil {
			return
		}
		_ = w.R.LPush(ctx, deadKey(w.Prefix, env.Kind), buried).Err()
		if env.Key != "" {
			_ = w.R.Del(ctx, dedupKey(w.Prefix, env.Kind, env.Key)).Err()
		}
		ProcessedTotal.WithLabelValues(w.Kind, "dead").Inc()
		w.Log.Error().Err(cause).
			Str("kind", env.Kind).
			Str("key", env.Key).
			Int("attempt", env.Attempt).
			Msg("queue_task_buried")
		return
	}
	env.VisibleAt = time.Now().Add(resilience.Backoff(base, env.Attempt, w.RetryJitter)).UnixNano()
	retried, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = w.R.ZAdd(ctx, ready, redis.Z{Score: float64(env.VisibleAt), Member: retried}).Err()
	ProcessedTotal.WithLabelValues(w.Kind, "retry").Inc()
	w.Log.Warn().Err(cause).
		Str("kind", env.Kind).
		Str("key", env.Key).
		Int("attempt", env.Attempt).
		Msg("queue_task_retried")
}

func (w Worker) ack(ctx context.Context, processing, raw string, env envelope) {
	_ = w.R.ZRem(ctx, processing, raw).Err()
	if env.Key != "" {
		_ = w.R.Del(ctx, dedupKey(w.Prefix, env.Kind, env.Key)).Err()
	}
}

func (w Worker) redeliverExpired(ctx context.Context, ready, processing string) error {
	now := fmt.Sprintf("%f", float64(time.Now().UnixNano()))
	due, err := w.R.ZRangeByScore(ctx, processing, &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range due {
		env, err := decode(raw)
		if err != nil {
			_ = w.R.ZRem(ctx, processing, raw).Err()
			continue
		}
		_ = w.R.ZRem(ctx, processing, raw).Err()
		env.VisibleAt = time.Now().UnixNano()
		encoded, err := json.Marshal(env)
		if err != nil {
			continue
		}
		_ = w.R.ZAdd(ctx, ready, redis.Z{Score: float64(env.VisibleAt), Member: encoded}).Err()
	}
	return nil
}

// DeadTasks returns up to limit buried tasks of the given kind, newest first.
func DeadTasks(ctx context.Context, r *redis.Client, prefix, kind string, limit int64) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}
	raws, err := r.LRange(ctx, deadKey(prefix, kind), 0, limit-1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	tasks := make([]Task, 0, len(raws))
	for _, raw := range raws {
		env, err := decode(raw)
		if err != nil {
			continue
		}
		tasks = append(tasks, Task{
			Kind:        env.Kind,
			Payload:     env.Payload,
			Key:         env.Key,
			Attempt:     env.Attempt,
			MaxAttempts: env.MaxAttempts,
		})
	}
	return tasks, nil
}

func decode(raw string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return envelope{}, err
	}
	return env, nil
}

func readyKey(prefix, kind string) string {
	if prefix == "" {
		return "queue:" + kind
	}
	return prefix + ":queue:" + kind
}

func processingKey(prefix, kind string) string {
	if prefix == "" {
		return "queue:" + kind + ":processing"
	}
	return prefix + ":queue:" + kind + ":processing"
}

func deadKey(prefix, kind string) string {
	if prefix == "" {
		return "queue:" + kind + ":dead"
	}
	return prefix + ":queue:" + kind + ":dead"
}

func dedupKey(prefix, kind, key string) string {
	if prefix == "" {
		return "queue:dedup:" + kind + ":" + key
	}
	return prefix + ":dedup:" + kind + ":" + key
}
