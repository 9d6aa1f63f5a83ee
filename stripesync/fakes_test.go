package stripesync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// upsertCall records one store write for assertions on batching and
// timestamps.
type upsertCall struct {
	kind     EntityKind
	ids      []string
	syncedAt *time.Time
}

// fakeStore is an in-memory Store mirroring the Postgres semantics the
// engine relies on: id-keyed rows, the sync-timestamp guard, soft-delete
// visibility.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[EntityKind]map[string]Entity
	syncedAt map[EntityKind]map[string]time.Time
	calls    []upsertCall
	deletes  []string

	failUpsert map[EntityKind]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:       make(map[EntityKind]map[string]Entity),
		syncedAt:   make(map[EntityKind]map[string]time.Time),
		failUpsert: make(map[EntityKind]error),
	}
}

func (s *fakeStore) kindRows(kind EntityKind) map[string]Entity {
	if s.rows[kind] == nil {
		s.rows[kind] = make(map[string]Entity)
		s.syncedAt[kind] = make(map[string]time.Time)
	}
	return s.rows[kind]
}

func (s *fakeStore) UpsertMany(_ context.Context, kind EntityKind, entities []Entity, syncedAt *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failUpsert[kind]; err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(entities))
	for _, entity := range entities {
		ids = append(ids, entity.ID())
	}
	s.calls = append(s.calls, upsertCall{kind: kind, ids: ids, syncedAt: syncedAt})

	ts := time.Now().UTC()
	if syncedAt != nil {
		ts = syncedAt.UTC()
	}

	rows := s.kindRows(kind)
	var applied int64
	for _, entity := range entities {
		id := entity.ID()
		if id == "" {
			return 0, fmt.Errorf("entity of kind %q has no id", kind)
		}
		if stored, ok := s.syncedAt[kind][id]; ok && stored.After(ts) {
			continue
		}
		rows[id] = entity
		s.syncedAt[kind][id] = ts
		applied++
	}
	return applied, nil
}

func (s *fakeStore) SoftDeleteCustomer(_ context.Context, entity Entity, syncedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := time.Now().UTC()
	if syncedAt != nil {
		ts = syncedAt.UTC()
	}
	id := entity.ID()
	if stored, ok := s.syncedAt[KindCustomer][id]; ok && stored.After(ts) {
		return nil
	}

	rows := s.kindRows(KindCustomer)
	row, ok := rows[id]
	if !ok {
		row = Entity{"id": id, "object": "customer"}
	}
	row["deleted"] = true
	rows[id] = row
	s.syncedAt[KindCustomer][id] = ts
	return nil
}

func (s *fakeStore) Delete(_ context.Context, kind EntityKind, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletes = append(s.deletes, string(kind)+"/"+id)
	rows := s.kindRows(kind)
	if _, ok := rows[id]; !ok {
		return false, nil
	}
	delete(rows, id)
	delete(s.syncedAt[kind], id)
	return true, nil
}

func (s *fakeStore) FindMissingEntries(_ context.Context, kind EntityKind, ids []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.kindRows(kind)
	var missing []string
	seen := make(map[string]struct{})
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		row, ok := rows[id]
		if !ok || row.BoolField("deleted") {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (s *fakeStore) LiveSubscriptionItemIDs(_ context.Context, subscriptionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, row := range s.kindRows(KindSubscriptionItem) {
		if row.StringField("subscription") == subscriptionID && !row.BoolField("deleted") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *fakeStore) MarkSubscriptionItemsDeleted(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.kindRows(KindSubscriptionItem)
	var marked int64
	for _, id := range ids {
		if row, ok := rows[id]; ok {
			row["deleted"] = true
			marked++
		}
	}
	return marked, nil
}

func (s *fakeStore) DeleteRemovedEntitlements(_ context.Context, customerID string, keepIDs []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keep := make(map[string]struct{}, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = struct{}{}
	}

	rows := s.kindRows(KindActiveEntitlement)
	var removed int64
	for id, row := range rows {
		if row.StringField("customer") != customerID {
			continue
		}
		if _, ok := keep[id]; !ok {
			delete(rows, id)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeStore) LiveCustomerIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, row := range s.kindRows(KindCustomer) {
		if !row.BoolField("deleted") {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// entity returns the stored row, nil if absent.
func (s *fakeStore) entity(kind EntityKind, id string) Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kindRows(kind)[id]
}

// callsFor filters recorded upsert batches by kind.
func (s *fakeStore) callsFor(kind EntityKind) []upsertCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []upsertCall
	for _, call := range s.calls {
		if call.kind == kind {
			out = append(out, call)
		}
	}
	return out
}

// fakeSource is an in-memory SourceClient with id-keyed objects and
// path-keyed listings, paginated like the real API.
type fakeSource struct {
	mu          sync.Mutex
	objects     map[string]Entity   // id → object
	lists       map[string][]Entity // listKey(path, filters) → items
	retrieveErr map[string]error

	retrieved []string
	listCalls []string
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		objects:     make(map[string]Entity),
		lists:       make(map[string][]Entity),
		retrieveErr: make(map[string]error),
	}
}

func (f *fakeSource) addObject(entity Entity) {
	f.objects[entity.ID()] = entity
}

func listKey(path string, filters map[string]string) string {
	key := path
	filterKeys := make([]string, 0, len(filters))
	for k := range filters {
		filterKeys = append(filterKeys, k)
	}
	sort.Strings(filterKeys)
	for _, k := range filterKeys {
		key += "?" + k + "=" + filters[k]
	}
	return key
}

func (f *fakeSource) addList(path string, filters map[string]string, items []Entity) {
	f.lists[listKey(path, filters)] = items
}

func (f *fakeSource) Retrieve(_ context.Context, path, id string) (Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.retrieved = append(f.retrieved, path+"/"+id)
	if err := f.retrieveErr[id]; err != nil {
		return nil, err
	}
	entity, ok := f.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return entity, nil
}

func (f *fakeSource) List(_ context.Context, path string, params ListParams) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := listKey(path, params.Filters)
	f.listCalls = append(f.listCalls, key)
	items := f.lists[key]

	start := 0
	if params.StartingAfter != "" {
		for i, item := range items {
			if item.ID() == params.StartingAfter {
				start = i + 1
				break
			}
		}
	}

	limit := params.Limit
	if limit <= 0 {
		limit = listPageLimit
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return &Page{Data: items[start:end], HasMore: end < len(items)}, nil
}

// newTestEngine wires an engine over the fakes with backfill and list
// expansion on, matching the recommended defaults.
func newTestEngine(store *fakeStore, source *fakeSource) *SyncEngine {
	cfg := DefaultConfig("sk_test_123", "whsec_test")
	return NewSyncEngineWith(store, source, cfg)
}
