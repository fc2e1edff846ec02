package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Revisions returns the full chain in dependency order, base first.
//
// The base revision creates griditems already carrying metadata_string, so on
// a fresh store refresh_rate_to_metadata collides on its ADD COLUMN and is
// stamped by the runner's recovery path. Stores created before the base
// revision was rewritten run it for real.
func Revisions() []Revision {
	return []Revision{
		{
			ID:        "initial_schema",
			Parent:    "",
			Upgrade:   upInitialSchema,
			Downgrade: downInitialSchema,
		},
		{
			ID:        "refresh_rate_to_metadata",
			Parent:    "initial_schema",
			Upgrade:   upRefreshRateToMetadata,
			Downgrade: downRefreshRateToMetadata,
		},
		{
			ID:        "label_to_description",
			Parent:    "refresh_rate_to_metadata",
			Upgrade:   upLabelToDescription,
			Downgrade: downLabelToDescription,
		},
		{
			ID:        "dashboard_uuid",
			Parent:    "label_to_description",
			Upgrade:   upDashboardUUID,
			Downgrade: downDashboardUUID,
		},
		{
			ID:        "placement_and_order",
			Parent:    "dashboard_uuid",
			Upgrade:   upPlacementAndOrder,
			Downgrade: downPlacementAndOrder,
		},
		{
			ID:        "map_args_key_rename",
			Parent:    "placement_and_order",
			Upgrade:   mapItemTransform(func(args map[string]any) bool { return renameTopLevelKeys(args, mapArgsRenames) }),
			Downgrade: mapItemTransform(func(args map[string]any) bool { return renameTopLevelKeys(args, invert(mapArgsRenames)) }),
		},
		{
			ID:        "layer_source_rename",
			Parent:    "map_args_key_rename",
			Upgrade:   mapItemTransform(func(args map[string]any) bool { return renameLayerSourceTypes(args, layerSourceRenames) }),
			Downgrade: mapItemTransform(func(args map[string]any) bool { return renameLayerSourceTypes(args, invert(layerSourceRenames)) }),
		},
		{
			ID:        "view_config_to_map_extent",
			Parent:    "layer_source_rename",
			Upgrade:   mapItemTransform(collapseViewConfig),
			Downgrade: mapItemTransform(expandMapExtent),
		},
		{
			ID:        "map_extent_wrap",
			Parent:    "view_config_to_map_extent",
			Upgrade:   mapItemTransform(wrapMapExtent),
			Downgrade: mapItemTransform(unwrapMapExtent),
		},
	}
}

var mapArgsRenames = map[string]string{
	"additional_layers":   "layers",
	"base_map":            "baseMap",
	"initial_view":        "viewConfig",
	"show_layer_controls": "layerControl",
	"map_config":          "mapConfig",
}

var layerSourceRenames = map[string]string{
	"ImageTile":       "Image Tile",
	"VectorTile":      "Vector Tile",
	"ImageArcGISRest": "ESRI Image and Map Service",
	"ImageWMS":        "WMS",
}

func invert(renames map[string]string) map[string]string {
	inverted := make(map[string]string, len(renames))
	for oldKey, newKey := range renames {
		inverted[newKey] = oldKey
	}
	return inverted
}

func upInitialSchema(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TABLE dashboards (
			id SERIAL PRIMARY KEY,
			label TEXT,
			name TEXT,
			notes TEXT,
			owner TEXT,
			access_groups TEXT[]
		)
	`)
	if err != nil {
		return fmt.Errorf("create dashboards: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		CREATE TABLE griditems (
			id SERIAL PRIMARY KEY,
			dashboard_id INTEGER NOT NULL REFERENCES dashboards(id),
			i TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			w INTEGER NOT NULL,
			h INTEGER NOT NULL,
			source TEXT,
			args_string TEXT,
			metadata_string TEXT,
			CONSTRAINT griditems_dashboard_i_key UNIQUE (dashboard_id, i)
		)
	`)
	if err != nil {
		return fmt.Errorf("create griditems: %w", err)
	}
	return nil
}

func downInitialSchema(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DROP TABLE griditems`); err != nil {
		return fmt.Errorf("drop griditems: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DROP TABLE dashboards`); err != nil {
		return fmt.Errorf("drop dashboards: %w", err)
	}
	return nil
}

func upRefreshRateToMetadata(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE griditems ADD COLUMN metadata_string TEXT`); err != nil {
		return fmt.Errorf("add metadata_string: %w", err)
	}

	type row struct {
		id          int
		refreshRate sql.NullInt64
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, refresh_rate FROM griditems`)
	if err != nil {
		return fmt.Errorf("read refresh rates: %w", err)
	}
	var items []row
	for rows.Next() {
		var item row
		if err := rows.Scan(&item.id, &item.refreshRate); err != nil {
			rows.Close()
			return fmt.Errorf("scan refresh rate: %w", err)
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate refresh rates: %w", err)
	}

	for _, item := range items {
		metadata, err := json.Marshal(map[string]any{"refreshRate": item.refreshRate.Int64})
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE griditems SET metadata_string=$2 WHERE id=$1`, item.id, string(metadata)); err != nil {
			return fmt.Errorf("backfill metadata: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `ALTER TABLE griditems DROP COLUMN refresh_rate`); err != nil {
		return fmt.Errorf("drop refresh_rate: %w", err)
	}
	return nil
}

func downRefreshRateToMetadata(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE griditems ADD COLUMN refresh_rate INTEGER`); err != nil {
		return fmt.Errorf("add refresh_rate: %w", err)
	}

	type row struct {
		id       int
		metadata sql.NullString
	}
	rows, err := tx.QueryContext(ctx, `SELECT id, metadata_string FROM griditems`)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}
	var items []row
	for rows.Next() {
		var item row
		if err := rows.Scan(&item.id, &item.metadata); err != nil {
			rows.Close()
			return fmt.Errorf("scan metadata: %w", err)
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate metadata: %w", err)
	}

	for _, item := range items {
		refreshRate := 0
		if item.metadata.Valid && item.metadata.String != "" {
			var metadata map[string]any
			if err := json.Unmarshal([]byte(item.metadata.String), &metadata); err != nil {
				return fmt.Errorf("decode metadata for item %d: %w", item.id, err)
			}
			if rate, ok := metadata["refreshRate"].(float64); ok {
				refreshRate = int(rate)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE griditems SET refresh_rate=$2 WHERE id=$1`, item.id, refreshRate); err != nil {
			return fmt.Errorf("backfill refresh_rate: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `ALTER TABLE griditems DROP COLUMN metadata_string`); err != nil {
		return fmt.Errorf("drop metadata_string: %w", err)
	}
	return nil
}

func upLabelToDescription(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards ADD COLUMN description TEXT`); err != nil {
		return fmt.Errorf("add description: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET description=label WHERE description IS NULL`); err != nil {
		return fmt.Errorf("copy label to description: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards DROP COLUMN label`); err != nil {
		return fmt.Errorf("drop label: %w", err)
	}
	return nil
}

// downLabelToDescription restores the fixed-width label by truncating the
// freeform description to 20 characters. The forward transform widened the
// field, so the truncation is deliberately lossy.
func downLabelToDescription(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards ADD COLUMN label TEXT`); err != nil {
		return fmt.Errorf("add label: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET label=LEFT(description, 20)`); err != nil {
		return fmt.Errorf("truncate description to label: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards DROP COLUMN description`); err != nil {
		return fmt.Errorf("drop description: %w", err)
	}
	return nil
}

func upDashboardUUID(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards ADD COLUMN uuid VARCHAR(36) UNIQUE`); err != nil {
		return fmt.Errorf("add uuid: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards ADD COLUMN last_updated TIMESTAMP`); err != nil {
		return fmt.Errorf("add last_updated: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT id FROM dashboards WHERE uuid IS NULL`)
	if err != nil {
		return fmt.Errorf("read dashboards without uuid: %w", err)
	}
	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan dashboard id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate dashboard ids: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET uuid=$2 WHERE id=$1`, id, uuid.NewString()); err != nil {
			return fmt.Errorf("backfill uuid: %w", err)
		}
	}
	return nil
}

func downDashboardUUID(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards DROP COLUMN uuid`); err != nil {
		return fmt.Errorf("drop uuid: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards DROP COLUMN last_updated`); err != nil {
		return fmt.Errorf("drop last_updated: %w", err)
	}
	return nil
}

func upPlacementAndOrder(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards ADD COLUMN unrestricted_placement BOOLEAN`); err != nil {
		return fmt.Errorf("add unrestricted_placement: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE dashboards SET unrestricted_placement = FALSE`); err != nil {
		return fmt.Errorf("backfill unrestricted_placement: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `ALTER TABLE griditems ADD COLUMN "order" INTEGER`); err != nil {
		return fmt.Errorf("add order: %w", err)
	}
	// Existing items get a per-dashboard rank in surrogate-id order; new
	// writes assign order from declaration position.
	_, err := tx.ExecContext(ctx, `
		WITH numbered AS (
			SELECT id, ROW_NUMBER() OVER (PARTITION BY dashboard_id ORDER BY id) AS rn
			FROM griditems
		)
		UPDATE griditems
		SET "order" = numbered.rn
		FROM numbered
		WHERE griditems.id = numbered.id
	`)
	if err != nil {
		return fmt.Errorf("backfill order: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE griditems ALTER COLUMN "order" SET NOT NULL`); err != nil {
		return fmt.Errorf("make order non-nullable: %w", err)
	}
	return nil
}

func downPlacementAndOrder(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `ALTER TABLE griditems DROP COLUMN "order"`); err != nil {
		return fmt.Errorf("drop order: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `ALTER TABLE dashboards DROP COLUMN unrestricted_placement`); err != nil {
		return fmt.Errorf("drop unrestricted_placement: %w", err)
	}
	return nil
}

// mapItemTransform lifts a pure args transform into a revision body that
// rewrites every Map grid item whose payload the transform changes.
func mapItemTransform(transform func(args map[string]any) bool) func(ctx context.Context, tx *sql.Tx) error {
	return func(ctx context.Context, tx *sql.Tx) error {
		type row struct {
			id   int
			args string
		}
		rows, err := tx.QueryContext(ctx, `SELECT id, args_string FROM griditems WHERE source = 'Map'`)
		if err != nil {
			return fmt.Errorf("read map items: %w", err)
		}
		var items []row
		for rows.Next() {
			var item row
			var args sql.NullString
			if err := rows.Scan(&item.id, &args); err != nil {
				rows.Close()
				return fmt.Errorf("scan map item: %w", err)
			}
			item.args = args.String
			items = append(items, item)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate map items: %w", err)
		}

		for _, item := range items {
			args, err := decodeArgs(item.args)
			if err != nil {
				return fmt.Errorf("map item %d: %w", item.id, err)
			}
			if args == nil || !transform(args) {
				continue
			}
			encoded, err := encodeArgs(args)
			if err != nil {
				return fmt.Errorf("map item %d: %w", item.id, err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE griditems SET args_string=$2 WHERE id=$1`, item.id, encoded); err != nil {
				return fmt.Errorf("rewrite map item %d: %w", item.id, err)
			}
		}
		return nil
	}
}
