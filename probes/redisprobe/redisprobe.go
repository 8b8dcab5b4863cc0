// Package redisprobe checks Redis reachability.
package redisprobe

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/veggerby/ignition/probes"
)

// New returns a check that dials a short-lived client from addr and pings it.
func New(addr string) probes.Check {
	return func(ctx context.Context) error {
		client := redis.NewClient(&redis.Options{Addr: addr})
		defer func() { _ = client.Close() }()
		return client.Ping(ctx).Err()
	}
}

// FromClient returns a check that pings an existing client.
func FromClient(client redis.UniversalClient) probes.Check {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
