// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config controls a SyncEngine. The zero value disables the optional
// behaviors; use DefaultConfig for the recommended defaults.
type Config struct {
	// APIKey is the Stripe secret key used for refetches and backfills.
	APIKey string

	// WebhookSecret verifies webhook signatures. Required for
	// ProcessWebhook; ProcessEvent works without it.
	WebhookSecret string

	// Schema is the Postgres schema holding the mirror tables.
	// Defaults to "stripe".
	Schema string

	// AutoExpandLists fetches the remaining pages of truncated embedded
	// lists (e.g. a subscription's items) instead of persisting only the
	// first page.
	AutoExpandLists bool

	// BackfillRelatedEntities fetches referenced entities that are not
	// yet stored before persisting a record, so foreign references
	// always resolve.
	BackfillRelatedEntities bool

	// RevalidateObjects refetches each webhook object from the API
	// instead of trusting the event payload. Costs one API call per
	// event; protects against out-of-order deliveries of stale payloads.
	RevalidateObjects bool

	Logger *slog.Logger
}

// DefaultConfig returns the recommended configuration: list expansion and
// related-entity backfill on, payload revalidation off.
func DefaultConfig(apiKey, webhookSecret string) Config {
	return Config{
		APIKey:                  apiKey,
		WebhookSecret:           webhookSecret,
		Schema:                  "stripe",
		AutoExpandLists:         true,
		BackfillRelatedEntities: true,
	}
}

// SyncEngine mirrors Stripe objects into Postgres. It ingests events from
// webhooks (ProcessWebhook/ProcessEvent) and from paginated backfills
// (SyncBackfill and the per-kind Sync methods); both paths converge on the
// same timestamp-guarded upserts, so they can run concurrently.
type SyncEngine struct {
	store  Store
	source SourceClient
	cfg    Config
	logger *slog.Logger
}

// NewSyncEngine builds an engine over a pgxpool connection and the Stripe
// API, ensuring the mirror schema exists. The pool remains owned by the
// caller.
func NewSyncEngine(ctx context.Context, pool *pgxpool.Pool, cfg Config) (*SyncEngine, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("config: APIKey is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	store, err := NewPGStore(ctx, pool, cfg.Schema, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return NewSyncEngineWith(store, NewStripeClient(cfg.APIKey), cfg), nil
}

// NewSyncEngineWith builds an engine over explicit store and source
// implementations. Used for tests and for callers that manage their own
// storage.
func NewSyncEngineWith(store Store, source SourceClient, cfg Config) *SyncEngine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SyncEngine{
		store:  store,
		source: source,
		cfg:    cfg,
		logger: cfg.Logger,
	}
}
