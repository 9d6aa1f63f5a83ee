// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"
)

// PGStore is the Postgres Store. Every entity kind maps to one table in a
// dedicated schema; all tables carry a `deleted` flag and a
// `last_synced_at` timestamp alongside the projected columns.
type PGStore struct {
	pool   *pgxpool.Pool
	schema string
	logger *slog.Logger
}

// NewPGStore creates the store and ensures the schema, tables and indexes
// exist. Initialization is idempotent and safe to run on every startup.
func NewPGStore(ctx context.Context, pool *pgxpool.Pool, schema string, logger *slog.Logger) (*PGStore, error) {
	if schema == "" {
		schema = "stripe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &PGStore{pool: pool, schema: schema, logger: logger}
	if err := s.initializeSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize storage schema: %w", err)
	}
	return s, nil
}

func (s *PGStore) tableIdent(kind EntityKind) string {
	return pgx.Identifier{s.schema, kind.TableName()}.Sanitize()
}

func columnDDLType(t ColumnType) string {
	switch t {
	case ColBool:
		return "boolean"
	case ColBigint:
		return "bigint"
	case ColJSONB:
		return "jsonb"
	default:
		return "text"
	}
}

// initializeSchema creates one table per entity kind with the schema's
// projected columns plus the sidecar `deleted` and `last_synced_at`
// columns, and the indexes the reconciliation queries depend on.
func (s *PGStore) initializeSchema(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`,
			pgx.Identifier{s.schema}.Sanitize())); err != nil {
			return fmt.Errorf("failed to create schema %s: %w", s.schema, err)
		}

		for kind, schema := range entitySchemas {
			var defs []string
			hasDeleted := false
			for _, col := range schema.Columns {
				def := pgx.Identifier{col.Name}.Sanitize() + " " + columnDDLType(col.Type)
				if col.Name == "id" {
					def += " PRIMARY KEY"
				}
				if col.Name == "deleted" {
					hasDeleted = true
				}
				defs = append(defs, def)
			}
			if !hasDeleted {
				defs = append(defs, `"deleted" boolean NOT NULL DEFAULT false`)
			}
			defs = append(defs, `"last_synced_at" timestamptz`)

			ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`,
				s.tableIdent(kind), strings.Join(defs, ", "))
			if _, err := tx.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("failed to create table %s: %w", kind.TableName(), err)
			}
		}

		indexes := []struct {
			name   string
			kind   EntityKind
			column string
		}{
			{"subscription_items_subscription_idx", KindSubscriptionItem, "subscription"},
			{"active_entitlements_customer_idx", KindActiveEntitlement, "customer"},
			{"subscriptions_customer_idx", KindSubscription, "customer"},
			{"invoices_customer_idx", KindInvoice, "customer"},
		}
		for _, idx := range indexes {
			ddl := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
				pgx.Identifier{idx.name}.Sanitize(),
				s.tableIdent(idx.kind),
				pgx.Identifier{idx.column}.Sanitize())
			if _, err := tx.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("failed to create index %s: %w", idx.name, err)
			}
		}

		s.logger.Debug("Storage schema initialized", "schema", s.schema, "tables", len(entitySchemas))
		return nil
	})
}

// UpsertMany writes a batch with the per-row sync-timestamp guard: a row
// already stored with a strictly newer last_synced_at is left untouched,
// which keeps out-of-order and replayed deliveries idempotent.
func (s *PGStore) UpsertMany(ctx context.Context, kind EntityKind, entities []Entity, syncedAt *time.Time) (int64, error) {
	schema, ok := SchemaFor(kind)
	if !ok {
		return 0, fmt.Errorf("no schema registered for kind %q", kind)
	}
	return s.upsertRows(ctx, kind, schema, entities, syncedAt)
}

// SoftDeleteCustomer writes the partial deletion notice through the narrow
// customer-deleted projection so the surviving columns keep their values.
func (s *PGStore) SoftDeleteCustomer(ctx context.Context, entity Entity, syncedAt *time.Time) error {
	if _, ok := entity["deleted"]; !ok {
		entity["deleted"] = true
	}
	_, err := s.upsertRows(ctx, KindCustomer, customerDeletedSchema, []Entity{entity}, syncedAt)
	return err
}

func (s *PGStore) upsertRows(ctx context.Context, kind EntityKind, schema EntitySchema, entities []Entity, syncedAt *time.Time) (int64, error) {
	if len(entities) == 0 {
		return 0, nil
	}

	ts := time.Now().UTC()
	if syncedAt != nil {
		ts = syncedAt.UTC()
	}

	colCount := len(schema.Columns) + 1 // plus last_synced_at
	args := make([]any, 0, len(entities)*colCount)
	valueTuples := make([]string, 0, len(entities))
	for i, entity := range entities {
		if entity.ID() == "" {
			return 0, fmt.Errorf("entity %d of kind %q has no id", i, kind)
		}
		row := projectRow(entity, schema)
		placeholders := make([]string, 0, colCount)
		for _, v := range row {
			args = append(args, v)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		args = append(args, ts)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		valueTuples = append(valueTuples, "("+strings.Join(placeholders, ", ")+")")
	}

	colNames := make([]string, 0, colCount)
	updates := make([]string, 0, colCount)
	for _, col := range schema.Columns {
		name := pgx.Identifier{col.Name}.Sanitize()
		colNames = append(colNames, name)
		if col.Name != "id" {
			updates = append(updates, name+" = EXCLUDED."+name)
		}
	}
	colNames = append(colNames, `"last_synced_at"`)
	updates = append(updates, `"last_synced_at" = EXCLUDED."last_synced_at"`)

	sql := fmt.Sprintf(`
		INSERT INTO %s AS t (%s)
		VALUES %s
		ON CONFLICT (id) DO UPDATE SET %s
		WHERE t.last_synced_at IS NULL OR t.last_synced_at <= EXCLUDED.last_synced_at`,
		s.tableIdent(kind),
		strings.Join(colNames, ", "),
		strings.Join(valueTuples, ", "),
		strings.Join(updates, ", "))

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %d %s rows: %w", len(entities), kind.TableName(), err)
	}
	return tag.RowsAffected(), nil
}

// Delete hard-deletes one row by id.
func (s *PGStore) Delete(ctx context.Context, kind EntityKind, id string) (bool, error) {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tableIdent(kind))
	tag, err := s.pool.Exec(ctx, sql, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w", kind.TableName(), id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindMissingEntries returns the candidate ids with no live row stored.
// Soft-deleted rows do not count as present, so a referenced entity that
// was soft-deleted gets refetched rather than silently skipped.
func (s *PGStore) FindMissingEntries(ctx context.Context, kind EntityKind, ids []string) ([]string, error) {
	ids = lo.Uniq(lo.Filter(ids, func(id string, _ int) bool { return id != "" }))
	if len(ids) == 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(
		`SELECT id FROM %s WHERE id = ANY($1) AND COALESCE(deleted, false) = false`,
		s.tableIdent(kind))
	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query existing %s ids: %w", kind.TableName(), err)
	}
	present, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan existing %s ids: %w", kind.TableName(), err)
	}

	presentSet := lo.SliceToMap(present, func(id string) (string, struct{}) { return id, struct{}{} })
	missing := lo.Filter(ids, func(id string, _ int) bool {
		_, ok := presentSet[id]
		return !ok
	})
	return missing, nil
}

// LiveSubscriptionItemIDs lists the non-deleted item ids stored for one
// subscription.
func (s *PGStore) LiveSubscriptionItemIDs(ctx context.Context, subscriptionID string) ([]string, error) {
	sql := fmt.Sprintf(
		`SELECT id FROM %s WHERE subscription = $1 AND COALESCE(deleted, false) = false`,
		s.tableIdent(KindSubscriptionItem))
	rows, err := s.pool.Query(ctx, sql, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription items for %s: %w", subscriptionID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription item ids: %w", err)
	}
	return ids, nil
}

// MarkSubscriptionItemsDeleted flags items deleted without removing the
// rows, so invoices that reference them keep resolving.
func (s *PGStore) MarkSubscriptionItemsDeleted(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	sql := fmt.Sprintf(`UPDATE %s SET deleted = true WHERE id = ANY($1)`,
		s.tableIdent(KindSubscriptionItem))
	tag, err := s.pool.Exec(ctx, sql, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to mark %d subscription items deleted: %w", len(ids), err)
	}
	return tag.RowsAffected(), nil
}

// DeleteRemovedEntitlements removes a customer's stored entitlement rows
// whose ids are absent from keepIDs. Entitlements carry no history worth
// preserving, so removal is physical.
func (s *PGStore) DeleteRemovedEntitlements(ctx context.Context, customerID string, keepIDs []string) (int64, error) {
	if keepIDs == nil {
		keepIDs = []string{}
	}
	sql := fmt.Sprintf(`DELETE FROM %s WHERE customer = $1 AND NOT (id = ANY($2))`,
		s.tableIdent(KindActiveEntitlement))
	tag, err := s.pool.Exec(ctx, sql, customerID, keepIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to prune entitlements for %s: %w", customerID, err)
	}
	return tag.RowsAffected(), nil
}

// LiveCustomerIDs lists all non-deleted customer ids.
func (s *PGStore) LiveCustomerIDs(ctx context.Context) ([]string, error) {
	sql := fmt.Sprintf(`SELECT id FROM %s WHERE COALESCE(deleted, false) = false ORDER BY id`,
		s.tableIdent(KindCustomer))
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("failed to query customer ids: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan customer ids: %w", err)
	}
	return ids, nil
}
