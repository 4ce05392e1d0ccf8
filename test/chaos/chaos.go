package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend now and then kills one backend whose application_name
// matches appName. Backends idle inside a transaction are included: those hold a
// FOR UPDATE lock on an offer between the status check and commit, so a kill
// there must roll back the status change, its event row, its outbox rows and any
// floor raise together. The oracles then catch a transition that half-landed.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, appName string, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(3) == 0 {
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity
                                       WHERE datname = current_database() AND application_name = $1
                                         AND pid <> pg_backend_pid()
                                         AND state IN ('active', 'idle in transaction')
                                       ORDER BY random() LIMIT 1`, appName)
			}
		}
	}
}
