package stripesync

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncProducts_ChunksUpserts(t *testing.T) {
	store := newFakeStore()
	source := newFakeSource()

	products := make([]Entity, 551)
	for i := range products {
		products[i] = Entity{"id": fmt.Sprintf("prod_%04d", i), "object": "product"}
	}
	source.addList(KindProduct.apiPath(), nil, products)
	engine := newTestEngine(store, source)

	result, err := engine.SyncProducts(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 551, result.Synced)

	calls := store.callsFor(KindProduct)
	require.Len(t, calls, 3, "551 items upsert as 250+250+51")
	assert.Len(t, calls[0].ids, 250)
	assert.Len(t, calls[1].ids, 250)
	assert.Len(t, calls[2].ids, 51)

	assert.NotNil(t, store.entity(KindProduct, "prod_0000"))
	assert.NotNil(t, store.entity(KindProduct, "prod_0550"))
}

func TestSyncSubscriptions_ListsAllStatuses(t *testing.T) {
	store := newFakeStore()
	source := newFakeSource()
	source.addObject(Entity{"id": "cus_1", "object": "customer"})
	source.addList(KindSubscription.apiPath(), map[string]string{"status": "all"}, []Entity{
		{"id": "sub_1", "object": "subscription", "customer": "cus_1", "status": "canceled"},
	})
	engine := newTestEngine(store, source)

	result, err := engine.SyncSubscriptions(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)
	assert.NotNil(t, store.entity(KindSubscription, "sub_1"))
}

func TestSyncPaymentMethods_IteratesLiveCustomers(t *testing.T) {
	store := newFakeStore()
	source := newFakeSource()
	engine := newTestEngine(store, source)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("cus_%02d", i)
		_, err := store.UpsertMany(ctx, KindCustomer, []Entity{{"id": id, "object": "customer"}}, nil)
		require.NoError(t, err)
		source.addList(KindPaymentMethod.apiPath(), map[string]string{"customer": id}, []Entity{
			{"id": "pm_" + id, "object": "payment_method", "customer": id},
		})
	}
	_, err := store.UpsertMany(ctx, KindCustomer, []Entity{{"id": "cus_dead", "object": "customer"}}, nil)
	require.NoError(t, err)
	require.NoError(t, store.SoftDeleteCustomer(ctx, Entity{"id": "cus_dead", "object": "customer"}, nil))

	result, err := engine.SyncPaymentMethods(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 12, result.Synced, "soft-deleted customers are skipped")
	assert.NotNil(t, store.entity(KindPaymentMethod, "pm_cus_00"))
	assert.Nil(t, store.entity(KindPaymentMethod, "pm_cus_dead"))
}

func TestSyncBackfill_AllRunsDependencyOrder(t *testing.T) {
	store := newFakeStore()
	source := newFakeSource()
	source.addList(KindProduct.apiPath(), nil, []Entity{{"id": "prod_1", "object": "product"}})
	source.addList(KindPrice.apiPath(), nil, []Entity{{"id": "price_1", "object": "price", "product": "prod_1"}})
	source.addList(KindCustomer.apiPath(), nil, []Entity{{"id": "cus_1", "object": "customer"}})
	source.addList(KindSubscription.apiPath(), map[string]string{"status": "all"}, nil)
	engine := newTestEngine(store, source)

	result, err := engine.SyncBackfill(context.Background(), &BackfillParams{Object: "all"})
	require.NoError(t, err)

	require.NotNil(t, result.Products)
	assert.Equal(t, 1, result.Products.Synced)
	require.NotNil(t, result.Prices)
	assert.Equal(t, 1, result.Prices.Synced)
	require.NotNil(t, result.Customers)
	assert.Equal(t, 1, result.Customers.Synced)
	require.NotNil(t, result.Refunds)
	assert.Equal(t, 0, result.Refunds.Synced)

	// Products sync before prices, so the price upsert found its product
	// stored and never fired a per-row fetch.
	assert.Empty(t, source.retrieved)
}

func TestSyncBackfill_SingleObjectAndUnknown(t *testing.T) {
	store := newFakeStore()
	source := newFakeSource()
	source.addList(KindCustomer.apiPath(), nil, []Entity{{"id": "cus_2", "object": "customer"}})
	engine := newTestEngine(store, source)

	result, err := engine.SyncBackfill(context.Background(), &BackfillParams{Object: "customer"})
	require.NoError(t, err)
	require.NotNil(t, result.Customers)
	assert.Equal(t, 1, result.Customers.Synced)
	assert.Nil(t, result.Products)

	_, err = engine.SyncBackfill(context.Background(), &BackfillParams{Object: "space_station"})
	require.Error(t, err)
}

func TestSyncBackfill_CreatedRangeIsForwarded(t *testing.T) {
	store := newFakeStore()
	source := newFakeSource()
	source.addList(KindCharge.apiPath(), nil, nil)
	engine := newTestEngine(store, source)

	_, err := engine.SyncBackfill(context.Background(), &BackfillParams{
		Object:  "charge",
		Created: &RangeQuery{GTE: 1_700_000_000},
	})
	require.NoError(t, err)

	query := encodeListQuery(ListParams{Created: &RangeQuery{GTE: 1_700_000_000}})
	assert.Equal(t, "1700000000", query["created[gte]"])
}

func TestSyncSingleEntity_DispatchesOnPrefix(t *testing.T) {
	store := newFakeStore()
	source := newFakeSource()
	source.addObject(Entity{"id": "cus_1", "object": "customer", "email": "x@example.com"})
	source.addObject(Entity{"id": "prod_1", "object": "product"})
	source.addObject(Entity{"id": "sub_sched_1", "object": "subscription_schedule", "customer": "cus_1"})
	engine := newTestEngine(store, source)
	ctx := context.Background()

	require.NoError(t, engine.SyncSingleEntity(ctx, "cus_1"))
	assert.NotNil(t, store.entity(KindCustomer, "cus_1"))

	require.NoError(t, engine.SyncSingleEntity(ctx, "prod_1"))
	assert.NotNil(t, store.entity(KindProduct, "prod_1"))

	require.NoError(t, engine.SyncSingleEntity(ctx, "sub_sched_1"))
	assert.NotNil(t, store.entity(KindSubscriptionSchedule, "sub_sched_1"),
		"sub_sched_ resolves to schedules, not subscriptions")

	err := engine.SyncSingleEntity(ctx, "zz_unknown")
	require.Error(t, err)
}

func TestSyncSingleEntity_SkipsDeletedCustomer(t *testing.T) {
	store := newFakeStore()
	source := newFakeSource()
	source.addObject(Entity{"id": "cus_gone", "object": "customer", "deleted": true})
	engine := newTestEngine(store, source)

	require.NoError(t, engine.SyncSingleEntity(context.Background(), "cus_gone"))
	assert.Nil(t, store.entity(KindCustomer, "cus_gone"))
}

func TestSyncEntitlements_StampsCustomer(t *testing.T) {
	store := newFakeStore()
	source := newFakeSource()
	source.addObject(Entity{"id": "cus_1", "object": "customer"})
	source.addObject(Entity{"id": "feat_1", "object": "entitlements.feature"})
	source.addList(KindActiveEntitlement.apiPath(), map[string]string{"customer": "cus_1"}, []Entity{
		{"id": "ent_1", "object": "entitlements.active_entitlement", "feature": "feat_1", "livemode": false},
	})
	engine := newTestEngine(store, source)

	result, err := engine.SyncEntitlements(context.Background(), "cus_1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	row := store.entity(KindActiveEntitlement, "ent_1")
	require.NotNil(t, row)
	assert.Equal(t, "cus_1", row.StringField("customer"))
	assert.NotNil(t, store.entity(KindFeature, "feat_1"), "referenced feature is backfilled")
}
