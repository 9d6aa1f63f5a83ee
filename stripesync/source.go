// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"strconv"
)

// listPageLimit is the page size requested from the source API's own
// pagination. The source caps pages at 100.
const listPageLimit = 100

// RangeQuery filters a listing by creation time (Unix seconds).
type RangeQuery struct {
	GT  int64 `json:"gt,omitempty"`
	GTE int64 `json:"gte,omitempty"`
	LT  int64 `json:"lt,omitempty"`
	LTE int64 `json:"lte,omitempty"`
}

// ListParams shapes one page request against a source collection.
type ListParams struct {
	Limit         int
	StartingAfter string
	Created       *RangeQuery
	// Filters carries collection-specific query params (e.g. status=all,
	// customer=cus_x, charge=ch_x).
	Filters map[string]string
}

// Page is one page of a source listing.
type Page struct {
	Data    []Entity
	HasMore bool
}

// SourceClient is the engine's contract with the source platform API:
// an opaque typed object store reachable by id and by filtered listing.
type SourceClient interface {
	// Retrieve fetches a single object. A missing resource is reported
	// as an error matching ErrNotFound via errors.Is.
	Retrieve(ctx context.Context, path, id string) (Entity, error)

	// List fetches one page of a collection.
	List(ctx context.Context, path string, params ListParams) (*Page, error)
}

// encodeListQuery flattens ListParams into query parameters.
func encodeListQuery(params ListParams) map[string]string {
	query := make(map[string]string, 4+len(params.Filters))
	limit := params.Limit
	if limit <= 0 {
		limit = listPageLimit
	}
	query["limit"] = strconv.Itoa(limit)
	if params.StartingAfter != "" {
		query["starting_after"] = params.StartingAfter
	}
	if created := params.Created; created != nil {
		if created.GT != 0 {
			query["created[gt]"] = strconv.FormatInt(created.GT, 10)
		}
		if created.GTE != 0 {
			query["created[gte]"] = strconv.FormatInt(created.GTE, 10)
		}
		if created.LT != 0 {
			query["created[lt]"] = strconv.FormatInt(created.LT, 10)
		}
		if created.LTE != 0 {
			query["created[lte]"] = strconv.FormatInt(created.LTE, 10)
		}
	}
	for key, value := range params.Filters {
		query[key] = value
	}
	return query
}

// forEachListItem drains a collection through the source's pagination,
// invoking fn per item. Memory stays bounded to one page at a time.
func forEachListItem(ctx context.Context, source SourceClient, path string, params ListParams, fn func(Entity) error) error {
	for {
		page, err := source.List(ctx, path, params)
		if err != nil {
			return err
		}
		for _, item := range page.Data {
			if err := fn(item); err != nil {
				return err
			}
		}
		if !page.HasMore || len(page.Data) == 0 {
			return nil
		}
		params.StartingAfter = page.Data[len(page.Data)-1].ID()
	}
}

// listAll drains a collection into memory. Used only for sub-collections
// that are bounded in practice (line items, refunds under one charge).
func listAll(ctx context.Context, source SourceClient, path string, params ListParams) ([]Entity, error) {
	var items []Entity
	err := forEachListItem(ctx, source, path, params, func(item Entity) error {
		items = append(items, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}
