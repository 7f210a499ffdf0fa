package core

import (
	"context"
	"fmt"
	"os"

	"memoctx/internal/infra/persistence/memory"
	"memoctx/internal/infra/persistence/postgres"
	"memoctx/internal/infra/persistence/sqlite"
	"memoctx/pkg/domain"
)

// StorageDriver identifies a concrete store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenStore selects a backend using environment variables.
// Defaults to memory when unset.
//
//	MEMOCTX_STORAGE_DRIVER: memory|sqlite|postgres (default memory)
//	MEMOCTX_SQLITE_PATH: path to sqlite file (default ./memoctx.db)
//	MEMOCTX_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenStore(ctx context.Context) (domain.PersistentStore, error) {
	driver := os.Getenv("MEMOCTX_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageMemory)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		s, err := sqlite.NewStore(os.Getenv("MEMOCTX_SQLITE_PATH"))
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoragePostgres:
		ps, err := postgres.NewStore(ctx, os.Getenv("MEMOCTX_POSTGRES_DSN"))
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
