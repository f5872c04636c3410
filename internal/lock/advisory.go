package lock

import (
	"context"
	"hash/fnv"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Advisory is a Locker backed by Postgres session advisory locks, for
// deployments where more than one trendwatch process may target the same
// database. The lock is tied to a dedicated pooled connection which is
// held for the lease duration and returned on release.
type Advisory struct {
	pool *pgxpool.Pool
}

// NewAdvisory creates an advisory locker on the given pool.
func NewAdvisory(pool *pgxpool.Pool) *Advisory {
	return &Advisory{pool: pool}
}

// TryAcquire takes pg_try_advisory_lock keyed by a hash of the tenant id.
// The session lock dies with the connection, so a crashed process cannot
// strand a tenant.
func (a *Advisory) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return nil, false, eris.Wrap(err, "lock: acquire connection")
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, keyHash(key)).Scan(&locked); err != nil {
		conn.Release()
		return nil, false, eris.Wrapf(err, "lock: try advisory lock %s", key)
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}

	release := func() {
		// Unlock on the same session; a failed unlock is resolved when the
		// connection is eventually closed.
		if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, keyHash(key)); err != nil {
			zap.L().Warn("lock: advisory unlock failed", zap.String("key", key), zap.Error(err))
		}
		conn.Release()
	}
	return release, true, nil
}

func keyHash(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
