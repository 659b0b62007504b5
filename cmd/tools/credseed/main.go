// credseed seals gateway credentials and writes them to the database. It is
// the only writer of psp_credentials; the service itself only reads.
//
// Usage:
//
//	credseed -provider omnikassa -env test -refresh-token <token> -signing-key <base64>
//	credseed -hash-admin-token <token>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/payment-relay/internal/app"
	"github.com/noah-isme/payment-relay/internal/config"
	"github.com/noah-isme/payment-relay/internal/credentials"
)

func main() {
	provider := flag.String("provider", "omnikassa", "payment provider name")
	env := flag.String("env", "test", "credential environment: test or live")
	refreshToken := flag.String("refresh-token", "", "gateway refresh token")
	signingKey := flag.String("signing-key", "", "base64 encoded gateway signing key")
	adminToken := flag.String("hash-admin-token", "", "print an argon2id hash for the admin token and exit")
	flag.Parse()

	if *adminToken != "" {
		hash, err := app.HashAdminToken(*adminToken)
		if err != nil {
			fatal(err)
		}
		fmt.Println(hash)
		return
	}

	if *refreshToken == "" || *signingKey == "" {
		fatal(fmt.Errorf("both -refresh-token and -signing-key are required"))
	}
	environment := credentials.Environment(*env)
	if environment != credentials.EnvironmentTest && environment != credentials.EnvironmentLive {
		fatal(fmt.Errorf("unknown environment %q", *env))
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	key, err := credentials.ParseKey(cfg.SecretsKey)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(err)
	}
	defer pool.Close()

	store := &credentials.Store{DB: pool, Key: key}
	if err := store.Save(ctx, *provider, environment, *refreshToken, *signingKey); err != nil {
		fatal(err)
	}
	fmt.Printf("stored %s/%s credentials\n", *provider, environment)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "credseed:", err)
	os.Exit(1)
}
