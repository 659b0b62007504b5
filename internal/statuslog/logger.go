// Package statuslog records every observed payment status transition. Writes
// are append-only and best-effort: a failed insert is logged and swallowed so
// status logging never gates the caller's flow.
package statuslog

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/omnikassa"
)

// DB is the subset of pgxpool.Pool the logger depends on.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Logger appends status transitions to the payment_status_log table.
type Logger struct {
	DB  DB
	Log zerolog.Logger
}

const (
	insertSQL = `INSERT INTO payment_status_log (provider, order_id, status, observed_at) VALUES ($1, $2, $3, $4)`
	latestSQL = `SELECT status, observed_at FROM payment_status_log WHERE provider = $1 AND order_id = $2 ORDER BY observed_at DESC LIMIT 1`
)

// Record appends one observed transition. It never returns an error.
func (l *Logger) Record(ctx context.Context, provider, orderID string, status omnikassa.OrderStatus) {
	evt := l.Log.Info().
		Str("provider", provider).
		Str("order_id", orderID).
		Str("status", string(status)).
		Bool("terminal", status.Terminal())
	if l.DB != nil {
		if _, err := l.DB.Exec(ctx, insertSQL, provider, orderID, string(status), time.Now().UTC()); err != nil {
			l.Log.Warn().Err(err).Str("order_id", orderID).Msg("status_log_insert_failed")
		}
	}
	evt.Msg("payment_status")
}

// Entry is the most recent observation for an order.
type Entry struct {
	Status     omnikassa.OrderStatus
	ObservedAt time.Time
}

// ErrNotFound is returned when no transition has been recorded for an order.
var ErrNotFound = errors.New("statuslog: no status recorded")

// Latest returns the most recently observed status for an order.
func (l *Logger) Latest(ctx context.Context, provider, orderID string) (Entry, error) {
	if l == nil || l.DB == nil {
		return Entry{}, errors.New("statuslog: not configured")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Entry{}, errors.New("statuslog: order id is required")
	}
	var (
		status     string
		observedAt time.Time
	)
	err := l.DB.QueryRow(ctx, latestSQL, provider, orderID).Scan(&status, &observedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	return Entry{Status: omnikassa.OrderStatus(status), ObservedAt: observedAt}, nil
}
