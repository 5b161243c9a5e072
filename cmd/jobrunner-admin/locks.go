package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/complyops/jobrunner/internal/data"
	"github.com/complyops/jobrunner/internal/domain/model"
)

// runListLocks dumps the execution lock table. On the redis lock backend
// this table is unused and the listing comes back empty.
func runListLocks(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("list-locks", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	timeout := defaultCommandTimeout
	fs.DurationVar(&timeout, "timeout", defaultCommandTimeout, "Maximum duration to wait for the command to complete")

	if err := fs.Parse(args); err != nil {
		return err
	}

	return withDatabase(cmdCtx, timeout, func(ctx context.Context, db *sql.DB) error {
		locks, err := data.NewLockRepo(db).ListLocks(ctx)
		if err != nil {
			return err
		}
		return printLockTable(locks, time.Now())
	})
}

func printLockTable(locks []model.ExecutionLock, now time.Time) error {
	if len(locks) == 0 {
		return writef(os.Stdout, "No execution locks found\n")
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if err := writef(w, "JOB\tHOLDER\tACQUIRED\tEXPIRES\tSTATE\n"); err != nil {
		return err
	}
	for _, l := range locks {
		state := "live"
		if l.Expired(now) {
			state = "expired"
		}
		if err := writef(w, "%s\t%s\t%s\t%s\t%s\n",
			l.JobID,
			l.Holder,
			l.AcquiredAt.UTC().Format(time.RFC3339),
			l.ExpiresAt.UTC().Format(time.RFC3339),
			state,
		); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush lock table: %w", err)
	}
	return nil
}
