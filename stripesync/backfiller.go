// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"fmt"
)

// backfillMissing fetches and stores any of the referenced ids that are
// not yet present, so every reference written afterwards resolves. The
// retrieved entities flow back through the kind's own upsert routine,
// which makes the backfill recursive across the reference graph. A fetch
// failure aborts the whole operation rather than leaving a dangling
// reference.
func (e *SyncEngine) backfillMissing(ctx context.Context, kind EntityKind, ids []string, upsert func(context.Context, []Entity) error) error {
	missing, err := e.store.FindMissingEntries(ctx, kind, ids)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	entities := make([]Entity, 0, len(missing))
	for _, id := range missing {
		entity, err := e.source.Retrieve(ctx, kind.apiPath(), id)
		if err != nil {
			e.logger.Error("Failed to backfill", "kind", string(kind), "id", id, "error", err)
			return fmt.Errorf("failed to backfill %s %s: %w", kind, id, err)
		}
		entities = append(entities, entity)
	}
	return upsert(ctx, entities)
}

func (e *SyncEngine) backfillCustomers(ctx context.Context, ids []string) error {
	return e.backfillMissing(ctx, KindCustomer, ids, func(ctx context.Context, entities []Entity) error {
		return e.upsertCustomers(ctx, entities, nil)
	})
}

func (e *SyncEngine) backfillProducts(ctx context.Context, ids []string) error {
	return e.backfillMissing(ctx, KindProduct, ids, func(ctx context.Context, entities []Entity) error {
		return e.upsertProducts(ctx, entities, nil)
	})
}

func (e *SyncEngine) backfillPrices(ctx context.Context, ids []string) error {
	return e.backfillMissing(ctx, KindPrice, ids, func(ctx context.Context, entities []Entity) error {
		return e.upsertPrices(ctx, entities, nil, nil)
	})
}

func (e *SyncEngine) backfillInvoices(ctx context.Context, ids []string) error {
	return e.backfillMissing(ctx, KindInvoice, ids, func(ctx context.Context, entities []Entity) error {
		return e.upsertInvoices(ctx, entities, nil, nil)
	})
}

func (e *SyncEngine) backfillCharges(ctx context.Context, ids []string) error {
	return e.backfillMissing(ctx, KindCharge, ids, func(ctx context.Context, entities []Entity) error {
		return e.upsertCharges(ctx, entities, nil, nil)
	})
}

func (e *SyncEngine) backfillPaymentIntents(ctx context.Context, ids []string) error {
	return e.backfillMissing(ctx, KindPaymentIntent, ids, func(ctx context.Context, entities []Entity) error {
		return e.upsertPaymentIntents(ctx, entities, nil, nil)
	})
}

func (e *SyncEngine) backfillSubscriptions(ctx context.Context, ids []string) error {
	return e.backfillMissing(ctx, KindSubscription, ids, func(ctx context.Context, entities []Entity) error {
		return e.upsertSubscriptions(ctx, entities, nil, nil)
	})
}

func (e *SyncEngine) backfillFeatures(ctx context.Context, ids []string) error {
	return e.backfillMissing(ctx, KindFeature, ids, func(ctx context.Context, entities []Entity) error {
		return e.upsertFeatures(ctx, entities, nil)
	})
}
