package store

import (
	"context"
	"fmt"

	mydb "github.com/devrimkaya/flagship/internal/db"
)

// NewStore creates a ConfigStore based on the given store type.
//
// Supported Types:
//   - "memory": In-memory store (data lost on restart, suitable for development/testing)
//   - "postgres": PostgreSQL-backed store (persistent, suitable for production)
//
// For postgres stores, pool creation is lazy: NewStore does not verify
// connectivity, so callers should call Pool.Ping separately if they need
// to fail fast on a bad DSN.
func NewStore(ctx context.Context, storeType, dbDSN string) (ConfigStore, error) {
	switch storeType {
	case "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if dbDSN == "" {
			return nil, fmt.Errorf("database DSN cannot be empty when using postgres store (set DB_DSN environment variable)")
		}
		pool, err := mydb.NewPool(ctx, dbDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s (must be 'memory' or 'postgres')", storeType)
	}
}
