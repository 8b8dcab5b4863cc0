// Package pgprobe checks PostgreSQL reachability.
package pgprobe

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veggerby/ignition/probes"
)

// New returns a check that opens a short-lived pool from connString and
// pings it. Suitable when the service builds its real pool only after
// startup coordination succeeds.
func New(connString string) probes.Check {
	return func(ctx context.Context) error {
		pool, err := pgxpool.New(ctx, connString)
		if err != nil {
			return err
		}
		defer pool.Close()
		return pool.Ping(ctx)
	}
}

// FromPool returns a check that pings an existing pool.
func FromPool(pool *pgxpool.Pool) probes.Check {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}
