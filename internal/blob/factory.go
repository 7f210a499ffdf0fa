package blob

import (
	"context"
	"fmt"
	"os"

	infraS3 "memoctx/internal/infra/blob/s3"
)

// Open selects a blob.Store implementation using environment variables.
//
//	MEMOCTX_BLOB_DRIVER: memory|s3 (default memory)
//	(S3 specific variables documented in internal/infra/blob/s3)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("MEMOCTX_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverMemory)
	}
	switch Driver(driver) {
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return infraS3.OpenFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
