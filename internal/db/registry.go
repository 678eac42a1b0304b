package db

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/afpsql/afpsql/internal/config"
	"github.com/afpsql/afpsql/internal/conn"
)

// Each session pool stays small; the gateway multiplexes many requests over
// few connections and the server enforces its own limits.
const poolMaxConns = 5

// registry maps session names to lazily-created connection pools. Pools
// live until Close; the read path does not serialize against pool creation.
type registry struct {
	mu    sync.RWMutex
	pools map[string]*pgxpool.Pool
}

func newRegistry() *registry {
	return &registry{pools: make(map[string]*pgxpool.Pool)}
}

func (r *registry) get(ctx context.Context, name string, cfg config.Session) (*pgxpool.Pool, error) {
	r.mu.RLock()
	pool := r.pools[name]
	r.mu.RUnlock()
	if pool != nil {
		return pool, nil
	}

	connStr, err := conn.ResolveConnString(cfg)
	if err != nil {
		return nil, connectf("%s", err)
	}
	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, connectf("invalid postgres conn string: %v", err)
	}
	poolCfg.MaxConns = poolMaxConns
	poolCfg.MinConns = 0

	pool, err = pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, connectf("create pool failed: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.pools[name]; existing != nil {
		// lost the race; keep the first pool
		pool.Close()
		return existing, nil
	}
	r.pools[name] = pool
	return pool, nil
}

// Close shuts down every pool. Safe to call once at process exit.
func (r *registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, pool := range r.pools {
		pool.Close()
		delete(r.pools, name)
	}
}
