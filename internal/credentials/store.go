package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/noah-isme/payment-relay/internal/omnikassa"
)

// Environment selects which credential set a lookup resolves.
type Environment string

const (
	EnvironmentTest Environment = "test"
	EnvironmentLive Environment = "live"
)

// EnvironmentFor maps the deployment flag onto a credential environment.
func EnvironmentFor(useTest bool) Environment {
	if useTest {
		return EnvironmentTest
	}
	return EnvironmentLive
}

// Source resolves gateway credentials for a provider environment.
type Source interface {
	Resolve(ctx context.Context, provider string, env Environment) (omnikassa.Credentials, error)
}

// Querier is the subset of pgxpool.Pool the store depends on.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store resolves gateway credentials from the settings table. Secrets are
// stored AES-GCM sealed and decrypted at read time; they are never cached.
type Store struct {
	DB  Querier
	Key []byte
}

const resolveSQL = `SELECT refresh_token, signing_key FROM psp_credentials WHERE provider = $1 AND environment = $2`

// Resolve loads the credentials for the provider in the given environment.
// A missing row is not an error: callers receive empty credentials and must
// tolerate them.
func (s *Store) Resolve(ctx context.Context, provider string, env Environment) (omnikassa.Credentials, error) {
	var zero omnikassa.Credentials
	if s == nil || s.DB == nil {
		return zero, errors.New("credentials: store not configured")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return zero, errors.New("credentials: provider is required")
	}

	var refreshSealed, signingSealed []byte
	err := s.DB.QueryRow(ctx, resolveSQL, provider, string(env)).Scan(&refreshSealed, &signingSealed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return zero, nil
		}
		return zero, fmt.Errorf("credentials: resolve %s/%s: %w", provider, env, err)
	}

	refreshToken, err := Decrypt(s.Key, refreshSealed)
	if err != nil {
		return zero, err
	}
	signingB64, err := Decrypt(s.Key, signingSealed)
	if err != nil {
		return zero, err
	}
	// The gateway hands out signing keys base64 encoded; the raw bytes key the HMAC.
	signingKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(signingB64)))
	if err != nil {
		return zero, fmt.Errorf("credentials: signing key is not valid base64: %w", err)
	}

	return omnikassa.Credentials{
		RefreshToken: strings.TrimSpace(string(refreshToken)),
		SigningKey:   signingKey,
	}, nil
}

const saveSQL = `INSERT INTO psp_credentials (provider, environment, refresh_token, signing_key, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (provider, environment)
DO UPDATE SET refresh_token = EXCLUDED.refresh_token, signing_key = EXCLUDED.signing_key, updated_at = now()`

// Save seals and upserts the credentials for one provider environment. The
// signing key is stored in its base64 form, exactly as the gateway hands it
// out.
func (s *Store) Save(ctx context.Context, provider string, env Environment, refreshToken, signingKeyB64 string) error {
	if s == nil || s.DB == nil {
		return errors.New("credentials: store not configured")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return errors.New("credentials: provider is required")
	}
	if _, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signingKeyB64)); err != nil {
		return fmt.Errorf("credentials: signing key is not valid base64: %w", err)
	}

	sealedToken, err := Encrypt(s.Key, []byte(strings.TrimSpace(refreshToken)))
	if err != nil {
		return err
	}
	sealedKey, err := Encrypt(s.Key, []byte(strings.TrimSpace(signingKeyB64)))
	if err != nil {
		return err
	}
	if _, err := s.DB.Exec(ctx, saveSQL, provider, string(env), sealedToken, sealedKey); err != nil {
		return fmt.Errorf("credentials: save %s/%s: %w", provider, env, err)
	}
	return nil
}
