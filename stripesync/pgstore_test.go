package stripesync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPGStore connects to the database named by
// STRIPESYNC_TEST_DATABASE_URL and builds a store in a throwaway schema.
// The test is skipped when the variable is unset so the suite runs
// without a database.
func newTestPGStore(t *testing.T) *PGStore {
	t.Helper()

	dsn := os.Getenv("STRIPESYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("STRIPESYNC_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	schema := fmt.Sprintf("stripe_test_%d", time.Now().UnixNano())
	store, err := NewPGStore(ctx, pool, schema, slog.Default())
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = pool.Exec(ctx, fmt.Sprintf(`DROP SCHEMA %s CASCADE`, pgx.Identifier{schema}.Sanitize()))
		pool.Close()
	})
	return store
}

func TestPGStore_UpsertIsIdempotent(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	product := Entity{"id": "prod_it1", "object": "product", "name": "Gold", "active": true}
	ts := time.Now().UTC()

	for i := 0; i < 2; i++ {
		_, err := store.UpsertMany(ctx, KindProduct, []Entity{product}, &ts)
		require.NoError(t, err)
	}

	var count int
	err := store.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s`, store.tableIdent(KindProduct))).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPGStore_TimestampGuardRejectsStaleWrites(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	newer := time.Now().UTC()
	older := newer.Add(-time.Hour)

	_, err := store.UpsertMany(ctx, KindProduct,
		[]Entity{{"id": "prod_it2", "object": "product", "name": "Current"}}, &newer)
	require.NoError(t, err)

	// Stale write loses.
	_, err = store.UpsertMany(ctx, KindProduct,
		[]Entity{{"id": "prod_it2", "object": "product", "name": "Stale"}}, &older)
	require.NoError(t, err)

	var name string
	err = store.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT name #>> '{}' FROM %s WHERE id = $1`, store.tableIdent(KindProduct)),
		"prod_it2").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "Current", name)

	// An equal timestamp reapplies (idempotent redelivery).
	_, err = store.UpsertMany(ctx, KindProduct,
		[]Entity{{"id": "prod_it2", "object": "product", "name": "Redelivered"}}, &newer)
	require.NoError(t, err)
	err = store.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT name #>> '{}' FROM %s WHERE id = $1`, store.tableIdent(KindProduct)),
		"prod_it2").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "Redelivered", name)
}

func TestPGStore_MalformedRecordFailsWholeBatch(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	_, err := store.UpsertMany(ctx, KindProduct, []Entity{
		{"id": "prod_ok", "object": "product"},
		{"object": "product"}, // no id
	}, nil)
	require.Error(t, err)

	missing, err := store.FindMissingEntries(ctx, KindProduct, []string{"prod_ok"})
	require.NoError(t, err)
	assert.Equal(t, []string{"prod_ok"}, missing, "nothing from the failed batch is stored")
}

func TestPGStore_FindMissingEntriesIgnoresSoftDeleted(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	_, err := store.UpsertMany(ctx, KindCustomer, []Entity{
		{"id": "cus_a", "object": "customer"},
		{"id": "cus_b", "object": "customer"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, store.SoftDeleteCustomer(ctx, Entity{"id": "cus_b", "object": "customer"}, nil))

	missing, err := store.FindMissingEntries(ctx, KindCustomer, []string{"cus_a", "cus_b", "cus_c", "cus_c", ""})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cus_b", "cus_c"}, missing,
		"soft-deleted rows count as missing; duplicates and blanks drop out")
}

func TestPGStore_SoftDeleteCustomerKeepsFields(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	_, err := store.UpsertMany(ctx, KindCustomer, []Entity{
		{"id": "cus_keep", "object": "customer", "email": "keep@example.com"},
	}, nil)
	require.NoError(t, err)
	require.NoError(t, store.SoftDeleteCustomer(ctx, Entity{"id": "cus_keep", "object": "customer"}, nil))

	var email string
	var deleted bool
	err = store.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT email #>> '{}', deleted FROM %s WHERE id = $1`, store.tableIdent(KindCustomer)),
		"cus_keep").Scan(&email, &deleted)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, "keep@example.com", email)
}

func TestPGStore_SubscriptionItemReconciliation(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	_, err := store.UpsertMany(ctx, KindSubscriptionItem, []Entity{
		{"id": "si_1", "object": "subscription_item", "subscription": "sub_1", "deleted": false},
		{"id": "si_2", "object": "subscription_item", "subscription": "sub_1", "deleted": false},
		{"id": "si_other", "object": "subscription_item", "subscription": "sub_2", "deleted": false},
	}, nil)
	require.NoError(t, err)

	live, err := store.LiveSubscriptionItemIDs(ctx, "sub_1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"si_1", "si_2"}, live)

	marked, err := store.MarkSubscriptionItemsDeleted(ctx, []string{"si_2"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), marked)

	live, err = store.LiveSubscriptionItemIDs(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, []string{"si_1"}, live)
}

func TestPGStore_DeleteRemovedEntitlements(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	_, err := store.UpsertMany(ctx, KindActiveEntitlement, []Entity{
		{"id": "ent_x", "object": "entitlements.active_entitlement", "customer": "cus_1", "feature": "feat_1"},
		{"id": "ent_y", "object": "entitlements.active_entitlement", "customer": "cus_1", "feature": "feat_2"},
		{"id": "ent_z", "object": "entitlements.active_entitlement", "customer": "cus_2", "feature": "feat_1"},
	}, nil)
	require.NoError(t, err)

	removed, err := store.DeleteRemovedEntitlements(ctx, "cus_1", []string{"ent_y"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	missing, err := store.FindMissingEntries(ctx, KindActiveEntitlement, []string{"ent_x", "ent_y", "ent_z"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ent_x"}, missing, "other customers' rows are untouched")
}

func TestPGStore_Delete(t *testing.T) {
	store := newTestPGStore(t)
	ctx := context.Background()

	_, err := store.UpsertMany(ctx, KindTaxID, []Entity{{"id": "txi_1", "object": "tax_id"}}, nil)
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, KindTaxID, "txi_1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, KindTaxID, "txi_1")
	require.NoError(t, err)
	assert.False(t, deleted)
}
