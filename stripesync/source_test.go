package stripesync

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeListQuery(t *testing.T) {
	query := encodeListQuery(ListParams{
		Limit:         25,
		StartingAfter: "ch_99",
		Created:       &RangeQuery{GT: 10, LTE: 20},
		Filters:       map[string]string{"status": "all"},
	})
	assert.Equal(t, "25", query["limit"])
	assert.Equal(t, "ch_99", query["starting_after"])
	assert.Equal(t, "10", query["created[gt]"])
	assert.Equal(t, "20", query["created[lte]"])
	assert.Equal(t, "all", query["status"])
	_, hasGTE := query["created[gte]"]
	assert.False(t, hasGTE, "zero bounds are omitted")

	query = encodeListQuery(ListParams{})
	assert.Equal(t, "100", query["limit"], "the page limit defaults to the API maximum")
}

func TestForEachListItem_DrainsPagination(t *testing.T) {
	source := newFakeSource()
	items := make([]Entity, 237)
	for i := range items {
		items[i] = Entity{"id": fmt.Sprintf("ch_%04d", i)}
	}
	source.addList("/v1/charges", nil, items)

	var got []string
	err := forEachListItem(context.Background(), source, "/v1/charges", ListParams{}, func(item Entity) error {
		got = append(got, item.ID())
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 237)
	assert.Equal(t, "ch_0000", got[0])
	assert.Equal(t, "ch_0236", got[236])
	assert.Len(t, source.listCalls, 3, "237 items drain in three pages of up to 100")
}

func TestForEachListItem_CallbackErrorStops(t *testing.T) {
	source := newFakeSource()
	source.addList("/v1/charges", nil, []Entity{{"id": "ch_1"}, {"id": "ch_2"}})

	calls := 0
	err := forEachListItem(context.Background(), source, "/v1/charges", ListParams{}, func(Entity) error {
		calls++
		return fmt.Errorf("stop")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestListAll(t *testing.T) {
	source := newFakeSource()
	source.addList("/v1/refunds", map[string]string{"charge": "ch_1"}, []Entity{
		{"id": "re_1"}, {"id": "re_2"},
	})

	items, err := listAll(context.Background(), source, "/v1/refunds", ListParams{
		Filters: map[string]string{"charge": "ch_1"},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "re_1", items[0].ID())
}
