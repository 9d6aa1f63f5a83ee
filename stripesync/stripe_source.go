// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/form"
)

// StripeClient implements SourceClient on the Stripe API. It uses the
// SDK's raw transport rather than the per-resource typed clients because
// the engine operates on schema-projected field maps, not SDK structs.
type StripeClient struct {
	backend stripe.Backend
	key     string
}

// NewStripeClient creates a source client authenticated with the given
// secret key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.SetAppInfo(&stripe.AppInfo{Name: "wizarr-stripe-sync"})
	return &StripeClient{
		backend: stripe.GetBackend(stripe.APIBackend),
		key:     apiKey,
	}
}

// NewStripeClientWithBackend creates a source client on a caller-supplied
// backend (custom base URL, HTTP client, retries).
func NewStripeClientWithBackend(apiKey string, backend stripe.Backend) *StripeClient {
	return &StripeClient{backend: backend, key: apiKey}
}

// rawObject captures an arbitrary API object without a typed schema.
type rawObject struct {
	stripe.APIResource
	Fields Entity
}

func (o *rawObject) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &o.Fields)
}

// rawList captures a paginated list response.
type rawList struct {
	stripe.APIResource
	Data    []Entity `json:"data"`
	HasMore bool     `json:"has_more"`
}

// Retrieve fetches one object by id. Missing resources are reported as
// ErrNotFound so callers can distinguish deletion from transport failure.
func (c *StripeClient) Retrieve(ctx context.Context, path, id string) (Entity, error) {
	var obj rawObject
	err := c.backend.CallRaw(http.MethodGet, path+"/"+id, c.key, &form.Values{}, &stripe.Params{Context: ctx}, &obj)
	if err != nil {
		if isStripeNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to retrieve %s/%s: %w", path, id, err)
	}
	return obj.Fields, nil
}

// List fetches one page of a collection.
func (c *StripeClient) List(ctx context.Context, path string, params ListParams) (*Page, error) {
	values := &form.Values{}
	for key, value := range encodeListQuery(params) {
		values.Add(key, value)
	}
	var list rawList
	err := c.backend.CallRaw(http.MethodGet, path, c.key, values, &stripe.Params{Context: ctx}, &list)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}
	return &Page{Data: list.Data, HasMore: list.HasMore}, nil
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
	}
	return false
}
