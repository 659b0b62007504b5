package statuslog_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/omnikassa"
	"github.com/noah-isme/payment-relay/internal/statuslog"
)

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeDB struct {
	execs   [][]any
	execErr error
	row     fakeRow
}

func (db *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, args)
	return pgconn.CommandTag{}, db.execErr
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return db.row
}

func TestRecordAppendsTransition(t *testing.T) {
	db := &fakeDB{}
	logger := &statuslog.Logger{DB: db, Log: zerolog.Nop()}

	logger.Record(context.Background(), "omnikassa", "order-1", omnikassa.StatusCompleted)

	require.Len(t, db.execs, 1)
	require.Equal(t, "omnikassa", db.execs[0][0])
	require.Equal(t, "order-1", db.execs[0][1])
	require.Equal(t, "COMPLETED", db.execs[0][2])
}

func TestRecordSwallowsInsertFailures(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection lost")}
	logger := &statuslog.Logger{DB: db, Log: zerolog.Nop()}

	require.NotPanics(t, func() {
		logger.Record(context.Background(), "omnikassa", "order-1", omnikassa.StatusExpired)
	})
}

func TestLatest(t *testing.T) {
	observed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	db := &fakeDB{row: fakeRow{scan: func(dest ...any) error {
		*dest[0].(*string) = "COMPLETED"
		*dest[1].(*time.Time) = observed
		return nil
	}}}
	logger := &statuslog.Logger{DB: db, Log: zerolog.Nop()}

	entry, err := logger.Latest(context.Background(), "omnikassa", "order-1")
	require.NoError(t, err)
	require.Equal(t, omnikassa.StatusCompleted, entry.Status)
	require.Equal(t, observed, entry.ObservedAt)
}

func TestLatestNotFound(t *testing.T) {
	db := &fakeDB{row: fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}}
	logger := &statuslog.Logger{DB: db, Log: zerolog.Nop()}

	_, err := logger.Latest(context.Background(), "omnikassa", "order-1")
	require.ErrorIs(t, err, statuslog.ErrNotFound)
}

func TestLatestRequiresOrderID(t *testing.T) {
	logger := &statuslog.Logger{DB: &fakeDB{}, Log: zerolog.Nop()}
	_, err := logger.Latest(context.Background(), "omnikassa", "  ")
	require.Error(t, err)
}
