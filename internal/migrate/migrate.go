// Package migrate evolves the dashboard store across an ordered chain of
// revisions. Each revision pairs structural DDL with row-level rewrites of
// the JSON payload columns, so the data shape at rest always matches what the
// application code of that revision expects.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Revision is one schema/data transform step. Parent names the immediate
// predecessor; the base revision has an empty Parent. Downgrade must be the
// structural and data inverse of Upgrade.
type Revision struct {
	ID        string
	Parent    string
	Upgrade   func(ctx context.Context, tx *sql.Tx) error
	Downgrade func(ctx context.Context, tx *sql.Tx) error
}

// MigrationError wraps a revision failure. Conflict marks the recoverable
// "structural element already exists" class that the runner resolves by
// stamping the revision as applied; everything else is fatal to startup.
type MigrationError struct {
	Revision string
	Conflict bool
	Err      error
}

func (e *MigrationError) Error() string {
	if e.Conflict {
		return fmt.Sprintf("revision %s: structure already exists: %v", e.Revision, e.Err)
	}
	return fmt.Sprintf("revision %s: %v", e.Revision, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Runner walks the revision chain against one database.
type Runner struct {
	db        *sql.DB
	revisions []Revision
}

func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db, revisions: Revisions()}
}

// NewRunnerWith builds a runner over an explicit chain. Tests use it to
// exercise the walk with synthetic revisions.
func NewRunnerWith(db *sql.DB, revisions []Revision) *Runner {
	return &Runner{db: db, revisions: revisions}
}

// Current returns the identifier of the most recently applied revision, or ""
// when the store has never been migrated (or its state is unknown).
func (r *Runner) Current(ctx context.Context) (string, error) {
	if err := r.ensureRevisionTable(ctx); err != nil {
		return "", err
	}
	var revision string
	err := r.db.QueryRowContext(ctx, `SELECT revision FROM schema_revision`).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read current revision: %w", err)
	}
	return revision, nil
}

// Upgrade brings the store to the head revision. With a known current
// revision it applies every later revision in order, each in its own
// transaction, and any failure aborts the run with progress retained up to
// the last committed revision.
//
// Without a current revision the store's state is unknown: the full chain is
// walked from the base, and a revision failing because its structural effect
// already exists is stamped as applied without re-executing its data
// transform. That recovery tolerates schema drift introduced out of band
// while still refusing to continue past a genuine failure.
func (r *Runner) Upgrade(ctx context.Context) error {
	current, err := r.Current(ctx)
	if err != nil {
		return err
	}

	if current != "" {
		start, err := r.indexOf(current)
		if err != nil {
			return err
		}
		for _, revision := range r.revisions[start+1:] {
			log.Printf("applying revision %s", revision.ID)
			if err := r.applyUp(ctx, revision); err != nil {
				return &MigrationError{Revision: revision.ID, Err: err}
			}
		}
		return nil
	}

	for _, revision := range r.revisions {
		log.Printf("attempting revision %s", revision.ID)
		err := r.applyUp(ctx, revision)
		if err == nil {
			continue
		}
		if isStructureExists(err) {
			log.Printf("stamped and skipped revision %s (structure already exists)", revision.ID)
			if stampErr := r.stamp(ctx, revision.ID); stampErr != nil {
				return stampErr
			}
			continue
		}
		return &MigrationError{Revision: revision.ID, Err: err}
	}
	return nil
}

// Downgrade walks the chain in reverse from the current revision down to (and
// excluding) target, restoring the prior structural shape and data encoding
// at each step. An empty target reverts the whole chain.
func (r *Runner) Downgrade(ctx context.Context, target string) error {
	current, err := r.Current(ctx)
	if err != nil {
		return err
	}
	if current == "" {
		return nil
	}
	start, err := r.indexOf(current)
	if err != nil {
		return err
	}
	end := -1
	if target != "" {
		end, err = r.indexOf(target)
		if err != nil {
			return err
		}
	}

	for i := start; i > end; i-- {
		revision := r.revisions[i]
		log.Printf("reverting revision %s", revision.ID)
		if err := r.applyDown(ctx, revision); err != nil {
			return &MigrationError{Revision: revision.ID, Err: err}
		}
	}
	return nil
}

func (r *Runner) applyUp(ctx context.Context, revision Revision) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revision tx: %w", err)
	}
	if err := revision.Upgrade(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := setRevision(ctx, tx, revision.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revision: %w", err)
	}
	return nil
}

func (r *Runner) applyDown(ctx context.Context, revision Revision) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin revision tx: %w", err)
	}
	if err := revision.Downgrade(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if revision.Parent == "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_revision`); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear revision token: %w", err)
		}
	} else if err := setRevision(ctx, tx, revision.Parent); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit revision: %w", err)
	}
	return nil
}

// stamp records a revision as applied without executing its body.
func (r *Runner) stamp(ctx context.Context, revisionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stamp tx: %w", err)
	}
	if err := setRevision(ctx, tx, revisionID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stamp: %w", err)
	}
	return nil
}

func (r *Runner) indexOf(revisionID string) (int, error) {
	for i, revision := range r.revisions {
		if revision.ID == revisionID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown revision %q", revisionID)
}

func (r *Runner) ensureRevisionTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_revision (revision TEXT NOT NULL)`)
	if err != nil {
		return fmt.Errorf("ensure schema_revision: %w", err)
	}
	return nil
}

func setRevision(ctx context.Context, tx *sql.Tx, revisionID string) error {
	result, err := tx.ExecContext(ctx, `UPDATE schema_revision SET revision=$1`, revisionID)
	if err != nil {
		return fmt.Errorf("set revision token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set revision token: %w", err)
	}
	if affected == 0 {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_revision (revision) VALUES ($1)`, revisionID); err != nil {
			return fmt.Errorf("insert revision token: %w", err)
		}
	}
	return nil
}

// isStructureExists distinguishes the "structural element already exists"
// failure class from everything else. Matched by SQLSTATE when the driver
// surfaces one, with a message fallback for wrapped errors.
func isStructureExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P07", "42701", "42710":
			return true
		}
	}
	return strings.Contains(err.Error(), "already exists")
}
