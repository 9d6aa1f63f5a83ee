// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"time"
)

// Store is the engine's relational persistence contract: idempotent,
// timestamp-guarded upsert/delete/query primitives over one table per
// entity kind. Both the webhook and backfill paths write through this
// interface; correctness under concurrent delivery relies on upsert
// idempotency plus the sync-timestamp guard, not single-writer discipline.
type Store interface {
	// UpsertMany inserts or updates a batch keyed by id. When syncedAt is
	// non-nil, each row is only applied if no stored row carries a strictly
	// newer sync timestamp (per-row comparison). A malformed record fails
	// the whole batch; no partial silent success.
	UpsertMany(ctx context.Context, kind EntityKind, entities []Entity, syncedAt *time.Time) (int64, error)

	// Delete hard-deletes by primary key, reporting whether a row was removed.
	Delete(ctx context.Context, kind EntityKind, id string) (bool, error)

	// SoftDeleteCustomer records a customer deletion notice. The notice is a
	// partial record (id, object, deleted), so only those columns are
	// written; the rest of the stored row is left intact.
	SoftDeleteCustomer(ctx context.Context, entity Entity, syncedAt *time.Time) error

	// FindMissingEntries returns the subset of candidate ids with no live
	// (non-soft-deleted) row stored for the kind.
	FindMissingEntries(ctx context.Context, kind EntityKind, ids []string) ([]string, error)

	// LiveSubscriptionItemIDs lists the non-deleted item ids stored for a
	// subscription, for diff-and-mark reconciliation.
	LiveSubscriptionItemIDs(ctx context.Context, subscriptionID string) ([]string, error)

	// MarkSubscriptionItemsDeleted flags the given item rows deleted=true
	// without removing them; historical billing rows are preserved.
	MarkSubscriptionItemsDeleted(ctx context.Context, ids []string) (int64, error)

	// DeleteRemovedEntitlements physically removes a customer's stored
	// entitlement rows whose ids are absent from keepIDs.
	DeleteRemovedEntitlements(ctx context.Context, customerID string, keepIDs []string) (int64, error)

	// LiveCustomerIDs lists all non-deleted customer ids, driving the
	// per-customer payment-method backfill.
	LiveCustomerIDs(ctx context.Context) ([]string, error)
}
