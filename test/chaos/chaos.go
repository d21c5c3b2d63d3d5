// Package chaos injects connection-level faults while the stress actors run.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// KillRandomBackend periodically terminates a random backend session on the
// stress database, forcing actors through their reconnect paths mid-vote and
// mid-approval. Roughly one in five ticks fires.
func KillRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) != 0 {
				continue
			}
			// Any active backend except our own; losing the killer's
			// connection would end the chaos early.
			_, _ = pool.Exec(ctx, `
				SELECT pg_terminate_backend(pid)
				FROM pg_stat_activity
				WHERE datname = current_database() AND pid <> pg_backend_pid()
				ORDER BY random()
				LIMIT 1
			`)
		}
	}
}
