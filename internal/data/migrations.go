package data

import (
	"context"
	"database/sql"

	"github.com/complyops/jobrunner/internal/migrate"
)

// RunMigrations sets up the job runner schema by delegating to the migrate package.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrate.Run(ctx, db)
}
