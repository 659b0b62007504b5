package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// TaskPruneStatusLog names the scheduled retention task.
const TaskPruneStatusLog = "upkeep:prune_status_log"

// Upkeep runs the scheduled maintenance tasks of the worker process. It is
// built on asynq so schedules survive restarts and overlapping runs are
// deduplicated by the broker.
type Upkeep struct {
	RedisURL  string
	DB        *pgxpool.Pool
	Retention time.Duration
	PruneCron string
	Log       zerolog.Logger
}

// Run registers the schedule and serves tasks until the context is cancelled.
func (u *Upkeep) Run(ctx context.Context) error {
	opt, err := asynq.ParseRedisURI(u.RedisURL)
	if err != nil {
		return fmt.Errorf("upkeep: parse redis uri: %w", err)
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{})
	if _, err := scheduler.Register(u.PruneCron, asynq.NewTask(TaskPruneStatusLog, nil)); err != nil {
		return fmt.Errorf("upkeep: register prune schedule: %w", err)
	}

	srv := asynq.NewServer(opt, asynq.Config{Concurrency: 1})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskPruneStatusLog, u.pruneStatusLog)

	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("upkeep: start scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("upkeep: start server: %w", err)
	}
	defer srv.Shutdown()

	<-ctx.Done()
	return nil
}

func (u *Upkeep) pruneStatusLog(ctx context.Context, _ *asynq.Task) error {
	cutoff := time.Now().Add(-u.Retention).UTC()
	tag, err := u.DB.Exec(ctx, `DELETE FROM payment_status_log WHERE observed_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("prune status log: %w", err)
	}
	u.Log.Info().
		Int64("rows", tag.RowsAffected()).
		Time("cutoff", cutoff).
		Msg("status_log_pruned")
	return nil
}
