package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// inTx runs fn inside one transaction, committing only when fn returns nil.
// The rollback on every failure path keeps callers from ever observing a
// half-applied operation.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Create persists a dashboard and its grid items in one transaction. When no
// items are supplied a single full-canvas placeholder is created so the
// dashboard is never empty.
func (s *PostgresStore) Create(ctx context.Context, d NewDashboard) (int, error) {
	var id int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := checkOwnerNameFree(ctx, tx, d.Owner, d.Name, 0); err != nil {
			return err
		}

		err := tx.QueryRowContext(ctx, `
			INSERT INTO dashboards (uuid, name, description, notes, owner, access_groups, unrestricted_placement, last_updated)
			VALUES ($1, $2, $3, $4, $5, string_to_array($6, ','), $7, NOW())
			RETURNING id
		`, d.UUID, d.Name, d.Description, d.Notes, d.Owner, joinGroups(d.AccessGroups), d.UnrestrictedPlacement).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert dashboard: %w", err)
		}

		items := d.Items
		if len(items) == 0 {
			items = []GridItemInput{{I: "1", X: 0, Y: 0, W: 20, H: 20, Source: "", ArgsString: "{}", MetadataString: "{}"}}
		}
		for index, item := range items {
			if err := insertGridItem(ctx, tx, id, item, index); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Delete removes an owner's dashboard and its grid items, returning the
// external id so the caller can clean up associated assets. A dashboard owned
// by someone else fails exactly like a missing one.
func (s *PostgresStore) Delete(ctx context.Context, owner string, id int) (string, error) {
	var dashboardUUID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT uuid FROM dashboards WHERE id=$1 AND owner=$2`, id, owner).Scan(&dashboardUUID)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{ID: id}
		}
		if err != nil {
			return fmt.Errorf("lookup dashboard: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM griditems WHERE dashboard_id=$1`, id); err != nil {
			return fmt.Errorf("delete grid items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dashboards WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete dashboard: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return dashboardUUID, nil
}

// Update applies a sparse patch to an owner's dashboard. Renames re-check the
// per-owner rule, and the public rule when the dashboard is (or becomes)
// public. Grid items, when present in the patch, are reconciled against the
// submitted list. The whole patch commits atomically and last_updated is
// stamped on every call.
//
// Concurrent updates to the same dashboard carry no version check: last
// writer wins, and two callers inserting the same new item key can race into
// a unique-index violation surfaced as an unexpected error.
func (s *PostgresStore) Update(ctx context.Context, owner string, id int, patch DashboardPatch) (Dashboard, error) {
	var updated Dashboard
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := getDashboardRow(ctx, tx, id, true)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{ID: id}
		}
		if err != nil {
			return err
		}
		if current.Owner != owner {
			return &NotFoundError{ID: id}
		}

		name := current.Name
		if patch.Name != nil {
			name = *patch.Name
		}
		groups := current.AccessGroups
		if patch.AccessGroups != nil {
			groups = *patch.AccessGroups
		}

		if name != current.Name {
			if err := checkOwnerNameFree(ctx, tx, owner, name, id); err != nil {
				return err
			}
			if containsPublic(groups) {
				if err := checkPublicNameFree(ctx, tx, name, id); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET name=$2 WHERE id=$1`, id, name); err != nil {
				return fmt.Errorf("update name: %w", err)
			}
		}

		if patch.Description != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET description=$2 WHERE id=$1`, id, *patch.Description); err != nil {
				return fmt.Errorf("update description: %w", err)
			}
		}

		if patch.Notes != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET notes=$2 WHERE id=$1`, id, *patch.Notes); err != nil {
				return fmt.Errorf("update notes: %w", err)
			}
		}

		if patch.AccessGroups != nil && !sameGroups(groups, current.AccessGroups) {
			if containsPublic(groups) {
				if err := checkPublicNameFree(ctx, tx, name, id); err != nil {
					return err
				}
			}
			if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET access_groups=string_to_array($2, ',') WHERE id=$1`, id, joinGroups(groups)); err != nil {
				return fmt.Errorf("update access groups: %w", err)
			}
		}

		if patch.UnrestrictedPlacement != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET unrestricted_placement=$2 WHERE id=$1`, id, *patch.UnrestrictedPlacement); err != nil {
				return fmt.Errorf("update unrestricted placement: %w", err)
			}
		}

		if patch.GridItems != nil {
			if err := applyReconcile(ctx, tx, id, current.GridItems, *patch.GridItems); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET last_updated=$2 WHERE id=$1`, id, time.Now().UTC()); err != nil {
			return fmt.Errorf("stamp last_updated: %w", err)
		}

		updated, err = getDashboardRow(ctx, tx, id, true)
		if err != nil {
			return fmt.Errorf("reload dashboard: %w", err)
		}
		return nil
	})
	if err != nil {
		return Dashboard{}, err
	}
	return updated, nil
}

// Copy clones a dashboard and all of its grid items under a new name and
// external id for the given owner. Access groups reset to empty so a copied
// public dashboard starts private. Returns the new surrogate id and the
// source's external id, which callers use to locate a thumbnail to duplicate.
func (s *PostgresStore) Copy(ctx context.Context, owner string, sourceID int, newName, newUUID string) (int, string, error) {
	var newID int
	var sourceUUID string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		source, err := getDashboardRow(ctx, tx, sourceID, true)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{ID: sourceID}
		}
		if err != nil {
			return err
		}
		sourceUUID = source.UUID

		err = tx.QueryRowContext(ctx, `
			INSERT INTO dashboards (uuid, name, description, notes, owner, access_groups, unrestricted_placement, last_updated)
			VALUES ($1, $2, $3, $4, $5, string_to_array('', ','), $6, NOW())
			RETURNING id
		`, newUUID, newName, source.Description, source.Notes, owner, source.UnrestrictedPlacement).Scan(&newID)
		if err != nil {
			return fmt.Errorf("insert copied dashboard: %w", err)
		}

		for index, item := range source.GridItems {
			input := GridItemInput{
				I:              item.I,
				X:              item.X,
				Y:              item.Y,
				W:              item.W,
				H:              item.H,
				Source:         item.Source,
				ArgsString:     item.ArgsString,
				MetadataString: item.MetadataString,
			}
			if err := insertGridItem(ctx, tx, newID, input, index); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, "", err
	}
	return newID, sourceUUID, nil
}

// Get loads one dashboard by surrogate id, with grid items when withItems is
// set. Visibility filtering is the caller's concern.
func (s *PostgresStore) Get(ctx context.Context, id int, withItems bool) (Dashboard, error) {
	var dashboard Dashboard
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		dashboard, err = getDashboardRow(ctx, tx, id, withItems)
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{ID: id}
		}
		return err
	})
	if err != nil {
		return Dashboard{}, err
	}
	return dashboard, nil
}

// ListOwned returns all dashboards belonging to owner.
func (s *PostgresStore) ListOwned(ctx context.Context, owner string, withItems bool) ([]Dashboard, error) {
	return s.list(ctx, `WHERE owner = $1`, owner, withItems)
}

// ListPublic returns dashboards owned by others that carry the public tag.
func (s *PostgresStore) ListPublic(ctx context.Context, owner string, withItems bool) ([]Dashboard, error) {
	return s.list(ctx, `WHERE owner <> $1 AND 'public' = ANY(access_groups)`, owner, withItems)
}

func (s *PostgresStore) list(ctx context.Context, where, owner string, withItems bool) ([]Dashboard, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, name, COALESCE(description, ''), COALESCE(notes, ''), owner,
		       COALESCE(array_to_string(access_groups, ','), ''), COALESCE(unrestricted_placement, FALSE),
		       COALESCE(last_updated, NOW())
		FROM dashboards `+where+` ORDER BY id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list dashboards: %w", err)
	}
	defer rows.Close()

	dashboards := make([]Dashboard, 0)
	for rows.Next() {
		var d Dashboard
		var groups string
		if err := rows.Scan(&d.ID, &d.UUID, &d.Name, &d.Description, &d.Notes, &d.Owner, &groups, &d.UnrestrictedPlacement, &d.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan dashboard: %w", err)
		}
		d.AccessGroups = splitGroups(groups)
		dashboards = append(dashboards, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dashboards: %w", err)
	}

	if withItems {
		for i := range dashboards {
			items, err := listGridItems(ctx, s.db, dashboards[i].ID)
			if err != nil {
				return nil, err
			}
			dashboards[i].GridItems = items
		}
	}
	return dashboards, nil
}

// ListOwnerMapItems returns every Map-source grid item across all of an
// owner's dashboards. The cleanup sweep uses it to derive the reachable set
// of JSON asset references.
func (s *PostgresStore) ListOwnerMapItems(ctx context.Context, owner string) ([]GridItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.dashboard_id, g.i, g.x, g.y, g.w, g.h,
		       COALESCE(g.source, ''), COALESCE(g.args_string, ''), COALESCE(g.metadata_string, ''), g."order"
		FROM griditems g
		JOIN dashboards d ON d.id = g.dashboard_id
		WHERE d.owner = $1 AND g.source = 'Map'
		ORDER BY g.id
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("list map items: %w", err)
	}
	defer rows.Close()
	return scanGridItems(rows)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func getDashboardRow(ctx context.Context, tx *sql.Tx, id int, withItems bool) (Dashboard, error) {
	var d Dashboard
	var groups string
	err := tx.QueryRowContext(ctx, `
		SELECT id, uuid, name, COALESCE(description, ''), COALESCE(notes, ''), owner,
		       COALESCE(array_to_string(access_groups, ','), ''), COALESCE(unrestricted_placement, FALSE),
		       COALESCE(last_updated, NOW())
		FROM dashboards WHERE id=$1
	`, id).Scan(&d.ID, &d.UUID, &d.Name, &d.Description, &d.Notes, &d.Owner, &groups, &d.UnrestrictedPlacement, &d.LastUpdated)
	if err != nil {
		return Dashboard{}, err
	}
	d.AccessGroups = splitGroups(groups)

	if withItems {
		items, err := listGridItems(ctx, tx, d.ID)
		if err != nil {
			return Dashboard{}, err
		}
		d.GridItems = items
	}
	return d, nil
}

func listGridItems(ctx context.Context, q querier, dashboardID int) ([]GridItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, dashboard_id, i, x, y, w, h,
		       COALESCE(source, ''), COALESCE(args_string, ''), COALESCE(metadata_string, ''), "order"
		FROM griditems WHERE dashboard_id=$1 ORDER BY "order"
	`, dashboardID)
	if err != nil {
		return nil, fmt.Errorf("list grid items: %w", err)
	}
	defer rows.Close()
	return scanGridItems(rows)
}

func scanGridItems(rows *sql.Rows) ([]GridItem, error) {
	items := make([]GridItem, 0)
	for rows.Next() {
		var item GridItem
		if err := rows.Scan(&item.ID, &item.DashboardID, &item.I, &item.X, &item.Y, &item.W, &item.H,
			&item.Source, &item.ArgsString, &item.MetadataString, &item.Order); err != nil {
			return nil, fmt.Errorf("scan grid item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grid items: %w", err)
	}
	return items, nil
}

func insertGridItem(ctx context.Context, tx *sql.Tx, dashboardID int, item GridItemInput, order int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO griditems (dashboard_id, i, x, y, w, h, source, args_string, metadata_string, "order")
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, dashboardID, item.I, item.X, item.Y, item.W, item.H, item.Source, item.ArgsString, item.MetadataString, order)
	if err != nil {
		return fmt.Errorf("insert grid item %q: %w", item.I, err)
	}
	return nil
}

// applyReconcile executes a reconciliation plan against one dashboard's grid
// items inside the caller's transaction. Deletes run first to free item keys.
func applyReconcile(ctx context.Context, tx *sql.Tx, dashboardID int, current []GridItem, desired []GridItemInput) error {
	plan := PlanReconcile(current, desired)

	for _, key := range plan.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM griditems WHERE dashboard_id=$1 AND i=$2`, dashboardID, key); err != nil {
			return fmt.Errorf("delete grid item %q: %w", key, err)
		}
	}
	for _, item := range plan.Inserts {
		if err := insertGridItem(ctx, tx, dashboardID, item.GridItemInput, item.Order); err != nil {
			return err
		}
	}
	for _, item := range plan.Updates {
		_, err := tx.ExecContext(ctx, `
			UPDATE griditems
			SET x=$3, y=$4, w=$5, h=$6, source=$7, args_string=$8, metadata_string=$9, "order"=$10
			WHERE dashboard_id=$1 AND i=$2
		`, dashboardID, item.I, item.X, item.Y, item.W, item.H, item.Source, item.ArgsString, item.MetadataString, item.Order)
		if err != nil {
			return fmt.Errorf("update grid item %q: %w", item.I, err)
		}
	}
	return nil
}

func checkOwnerNameFree(ctx context.Context, tx *sql.Tx, owner, name string, excludeID int) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM dashboards WHERE owner=$1 AND name=$2 AND id<>$3)`,
		owner, name, excludeID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check owner names: %w", err)
	}
	if exists {
		return &NameConflictError{Name: name}
	}
	return nil
}

// checkPublicNameFree enforces uniqueness among public dashboards only.
// Collisions with another owner's private dashboard are allowed on purpose;
// only the public namespace is shared.
func checkPublicNameFree(ctx context.Context, tx *sql.Tx, name string, excludeID int) error {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM dashboards WHERE 'public' = ANY(access_groups) AND name=$1 AND id<>$2)`,
		name, excludeID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check public names: %w", err)
	}
	if exists {
		return &NameConflictError{Name: name, Public: true}
	}
	return nil
}

// access_groups travels to and from Postgres as a comma-joined string so the
// store does not depend on driver-specific array codecs. Group tags never
// contain commas.
func joinGroups(groups []string) string {
	return strings.Join(groups, ",")
}

func splitGroups(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, ",")
}

func containsPublic(groups []string) bool {
	for _, group := range groups {
		if group == "public" {
			return true
		}
	}
	return false
}

func sameGroups(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
