// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Entity is an untyped Stripe object as delivered by the API or a webhook
// payload: a field-name → value map. The engine never depends on fields
// outside a kind's declared schema.
type Entity map[string]any

// ID returns the entity's external identifier, or "" when absent.
func (e Entity) ID() string {
	id, _ := e["id"].(string)
	return id
}

// StringField returns the field as a string. Expanded sub-objects collapse
// to their own id, matching how reference fields are persisted.
func (e Entity) StringField(name string) string {
	return refID(e[name])
}

// BoolField returns the field as a bool, false when absent or not a bool.
func (e Entity) BoolField(name string) bool {
	b, _ := e[name].(bool)
	return b
}

// refID collapses a reference-shaped value to an id string: either the
// value itself (already an id) or the "id" of an expanded object.
func refID(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		id, _ := val["id"].(string)
		return id
	case Entity:
		return val.ID()
	default:
		return ""
	}
}

// asInt64 coerces Stripe numeric payload values (decoded as float64 or
// json.Number, occasionally numeric strings) to int64.
func asInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int64:
		return val, true
	case int:
		return int64(val), true
	case float64:
		return int64(val), true
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			f, ferr := val.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case string:
		if val == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// uniqueIDs extracts the distinct, non-empty reference ids under key from
// a batch of entities, preserving first-seen order.
func uniqueIDs(entities []Entity, key string) []string {
	seen := make(map[string]struct{}, len(entities))
	var ids []string
	for _, entity := range entities {
		id := refID(entity[key])
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// embeddedList reads a paginated sub-collection ({"data": [...], "has_more": b})
// embedded on an entity. Returns nil, false when the property is not list-shaped.
func embeddedList(entity Entity, property string) ([]Entity, bool, bool) {
	raw, ok := entity[property].(map[string]any)
	if !ok {
		return nil, false, false
	}
	data, ok := raw["data"].([]any)
	if !ok {
		return nil, false, false
	}
	items := make([]Entity, 0, len(data))
	for _, item := range data {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, false, false
		}
		items = append(items, Entity(m))
	}
	hasMore, _ := raw["has_more"].(bool)
	return items, hasMore, true
}

// decodeEntity parses a raw JSON object into an Entity.
func decodeEntity(raw []byte) (Entity, error) {
	var entity Entity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil, fmt.Errorf("failed to decode entity payload: %w", err)
	}
	return entity, nil
}
