package credentials_test

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/credentials"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeDB struct {
	row      fakeRow
	lastSQL  string
	lastArgs []any
	execErr  error
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.lastSQL = sql
	db.lastArgs = args
	return db.row
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.lastSQL = sql
	db.lastArgs = args
	return pgconn.NewCommandTag("INSERT 0 1"), db.execErr
}

func sealed(t *testing.T, plaintext string) []byte {
	t.Helper()
	blob, err := credentials.Encrypt(testKey, []byte(plaintext))
	require.NoError(t, err)
	return blob
}

func TestResolve(t *testing.T) {
	signingKey := []byte("super-secret-signing-key")
	signingB64 := base64.StdEncoding.EncodeToString(signingKey)

	refreshBlob := sealed(t, "refresh-token-value")
	signingBlob := sealed(t, signingB64)

	db := &fakeDB{row: fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*[]byte)) = refreshBlob
		*(dest[1].(*[]byte)) = signingBlob
		return nil
	}}}
	store := &credentials.Store{DB: db, Key: testKey}

	creds, err := store.Resolve(context.Background(), "OmniKassa", credentials.EnvironmentTest)
	require.NoError(t, err)
	require.Equal(t, "refresh-token-value", creds.RefreshToken)
	require.Equal(t, signingKey, creds.SigningKey)
	require.Equal(t, []any{"omnikassa", "test"}, db.lastArgs)
}

func TestResolveMissingRowYieldsEmptyCredentials(t *testing.T) {
	db := &fakeDB{row: fakeRow{scan: func(...any) error { return pgx.ErrNoRows }}}
	store := &credentials.Store{DB: db, Key: testKey}

	creds, err := store.Resolve(context.Background(), "omnikassa", credentials.EnvironmentLive)
	require.NoError(t, err)
	require.True(t, creds.Empty())
}

func TestResolveQueryError(t *testing.T) {
	db := &fakeDB{row: fakeRow{scan: func(...any) error { return errors.New("connection reset") }}}
	store := &credentials.Store{DB: db, Key: testKey}

	_, err := store.Resolve(context.Background(), "omnikassa", credentials.EnvironmentLive)
	require.ErrorContains(t, err, "connection reset")
}

func TestResolveWrongKeyFails(t *testing.T) {
	refreshBlob := sealed(t, "refresh-token-value")
	signingBlob := sealed(t, base64.StdEncoding.EncodeToString([]byte("key")))

	db := &fakeDB{row: fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*[]byte)) = refreshBlob
		*(dest[1].(*[]byte)) = signingBlob
		return nil
	}}}
	store := &credentials.Store{DB: db, Key: []byte("ffffffffffffffffffffffffffffffff")}

	_, err := store.Resolve(context.Background(), "omnikassa", credentials.EnvironmentTest)
	require.Error(t, err)
}

func TestResolveRequiresProvider(t *testing.T) {
	store := &credentials.Store{DB: &fakeDB{}, Key: testKey}
	_, err := store.Resolve(context.Background(), "  ", credentials.EnvironmentTest)
	require.Error(t, err)
}

func TestSaveSealsDecryptableBlobs(t *testing.T) {
	db := &fakeDB{}
	store := &credentials.Store{DB: db, Key: testKey}
	signingB64 := base64.StdEncoding.EncodeToString([]byte("signing-key"))

	err := store.Save(context.Background(), "OmniKassa", credentials.EnvironmentTest, " refresh ", signingB64)
	require.NoError(t, err)
	require.Len(t, db.lastArgs, 4)
	require.Equal(t, "omnikassa", db.lastArgs[0])
	require.Equal(t, "test", db.lastArgs[1])

	refresh, err := credentials.Decrypt(testKey, db.lastArgs[2].([]byte))
	require.NoError(t, err)
	require.Equal(t, "refresh", string(refresh))

	signing, err := credentials.Decrypt(testKey, db.lastArgs[3].([]byte))
	require.NoError(t, err)
	require.Equal(t, signingB64, string(signing))
}

func TestSaveRejectsInvalidSigningKey(t *testing.T) {
	store := &credentials.Store{DB: &fakeDB{}, Key: testKey}
	err := store.Save(context.Background(), "omnikassa", credentials.EnvironmentTest, "refresh", "not base64!!!")
	require.ErrorContains(t, err, "base64")
}

func TestEnvironmentFor(t *testing.T) {
	require.Equal(t, credentials.EnvironmentTest, credentials.EnvironmentFor(true))
	require.Equal(t, credentials.EnvironmentLive, credentials.EnvironmentFor(false))
}
