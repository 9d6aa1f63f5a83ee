// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"fmt"
)

// expandLists completes truncated embedded sub-collections. Stripe embeds
// only the first page of lists like a subscription's items; when
// AutoExpandLists is on and the embedded list reports has_more, the full
// collection is fetched and swapped in with has_more cleared, so the
// stored jsonb never silently misses rows.
func (e *SyncEngine) expandLists(ctx context.Context, entities []Entity, property string, fetchAll func(context.Context, string) ([]Entity, error)) error {
	if !e.cfg.AutoExpandLists {
		return nil
	}
	for _, entity := range entities {
		raw, ok := entity[property].(map[string]any)
		if !ok {
			continue
		}
		if hasMore, _ := raw["has_more"].(bool); !hasMore {
			continue
		}

		items, err := fetchAll(ctx, entity.ID())
		if err != nil {
			return fmt.Errorf("failed to expand %s of %s: %w", property, entity.ID(), err)
		}

		data := make([]any, len(items))
		for i, item := range items {
			data[i] = map[string]any(item)
		}
		expanded := make(map[string]any, len(raw))
		for k, v := range raw {
			expanded[k] = v
		}
		expanded["data"] = data
		expanded["has_more"] = false
		entity[property] = expanded
	}
	return nil
}
