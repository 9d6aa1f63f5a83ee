// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
)

const (
	// backfillChunkSize is how many fetched entities are accumulated
	// before each upsert batch.
	backfillChunkSize = 250

	// paymentMethodCustomerChunk bounds how many customers are worked
	// through between progress checkpoints of the payment-method sync.
	paymentMethodCustomerChunk = 10
)

// BackfillParams scopes a backfill run.
type BackfillParams struct {
	// Object selects what to sync: "all" or a single object name
	// ("customer", "invoice", ...).
	Object string

	// Created restricts listings to a creation-time range where the
	// source listing supports it.
	Created *RangeQuery

	// BackfillRelatedEntities overrides the engine default for this run.
	BackfillRelatedEntities *bool
}

// SyncResult reports how many entities one sync pass fetched and stored.
type SyncResult struct {
	Synced int `json:"synced"`
}

// SyncBackfillResult aggregates per-kind results; kinds not part of the
// run stay nil.
type SyncBackfillResult struct {
	Products              *SyncResult `json:"products,omitempty"`
	Prices                *SyncResult `json:"prices,omitempty"`
	Plans                 *SyncResult `json:"plans,omitempty"`
	Customers             *SyncResult `json:"customers,omitempty"`
	Subscriptions         *SyncResult `json:"subscriptions,omitempty"`
	SubscriptionSchedules *SyncResult `json:"subscription_schedules,omitempty"`
	Invoices              *SyncResult `json:"invoices,omitempty"`
	Charges               *SyncResult `json:"charges,omitempty"`
	SetupIntents          *SyncResult `json:"setup_intents,omitempty"`
	PaymentMethods        *SyncResult `json:"payment_methods,omitempty"`
	PaymentIntents        *SyncResult `json:"payment_intents,omitempty"`
	TaxIDs                *SyncResult `json:"tax_ids,omitempty"`
	CreditNotes           *SyncResult `json:"credit_notes,omitempty"`
	Disputes              *SyncResult `json:"disputes,omitempty"`
	EarlyFraudWarnings    *SyncResult `json:"early_fraud_warnings,omitempty"`
	Refunds               *SyncResult `json:"refunds,omitempty"`
	CheckoutSessions      *SyncResult `json:"checkout_sessions,omitempty"`
}

func (p *BackfillParams) listParams() ListParams {
	if p == nil {
		return ListParams{}
	}
	return ListParams{Created: p.Created}
}

func (p *BackfillParams) backfillOverride() *bool {
	if p == nil {
		return nil
	}
	return p.BackfillRelatedEntities
}

// fetchAndUpsert drains a source listing, accumulating entities into
// chunks and upserting each full chunk, so memory stays bounded on large
// accounts and a partial run still leaves complete chunks stored.
func (e *SyncEngine) fetchAndUpsert(ctx context.Context, path string, params ListParams, upsert func(context.Context, []Entity) error) (*SyncResult, error) {
	chunk := make([]Entity, 0, backfillChunkSize)
	synced := 0

	err := forEachListItem(ctx, e.source, path, params, func(item Entity) error {
		chunk = append(chunk, item)
		synced++
		if synced%1000 == 0 {
			e.logger.Info("Sync progress", "path", path, "synced", synced)
		}
		if len(chunk) >= backfillChunkSize {
			if err := upsert(ctx, chunk); err != nil {
				return err
			}
			chunk = make([]Entity, 0, backfillChunkSize)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(chunk) > 0 {
		if err := upsert(ctx, chunk); err != nil {
			return nil, err
		}
	}

	e.logger.Info("Upserted items", "path", path, "synced", synced)
	return &SyncResult{Synced: synced}, nil
}

// SyncProducts backfills all products, optionally bounded by creation time.
func (e *SyncEngine) SyncProducts(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing products")
	return e.fetchAndUpsert(ctx, KindProduct.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertProducts(ctx, items, nil)
	})
}

// SyncPrices backfills all prices.
func (e *SyncEngine) SyncPrices(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing prices")
	return e.fetchAndUpsert(ctx, KindPrice.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertPrices(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncPlans backfills all plans.
func (e *SyncEngine) SyncPlans(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing plans")
	return e.fetchAndUpsert(ctx, KindPlan.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertPlans(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncCustomers backfills all customers.
func (e *SyncEngine) SyncCustomers(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing customers")
	return e.fetchAndUpsert(ctx, KindCustomer.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertCustomers(ctx, items, nil)
	})
}

// SyncSubscriptions backfills subscriptions in every status.
func (e *SyncEngine) SyncSubscriptions(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing subscriptions")
	listParams := params.listParams()
	listParams.Filters = map[string]string{"status": "all"}
	return e.fetchAndUpsert(ctx, KindSubscription.apiPath(), listParams, func(ctx context.Context, items []Entity) error {
		return e.upsertSubscriptions(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncSubscriptionSchedules backfills all subscription schedules.
func (e *SyncEngine) SyncSubscriptionSchedules(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing subscription schedules")
	return e.fetchAndUpsert(ctx, KindSubscriptionSchedule.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertSubscriptionSchedules(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncInvoices backfills all invoices.
func (e *SyncEngine) SyncInvoices(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing invoices")
	return e.fetchAndUpsert(ctx, KindInvoice.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertInvoices(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncCharges backfills all charges.
func (e *SyncEngine) SyncCharges(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing charges")
	return e.fetchAndUpsert(ctx, KindCharge.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertCharges(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncSetupIntents backfills all setup intents.
func (e *SyncEngine) SyncSetupIntents(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing setup intents")
	return e.fetchAndUpsert(ctx, KindSetupIntent.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertSetupIntents(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncPaymentIntents backfills all payment intents.
func (e *SyncEngine) SyncPaymentIntents(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing payment intents")
	return e.fetchAndUpsert(ctx, KindPaymentIntent.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertPaymentIntents(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncTaxIDs backfills all tax ids. The listing has no creation filter.
func (e *SyncEngine) SyncTaxIDs(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing tax ids")
	return e.fetchAndUpsert(ctx, KindTaxID.apiPath(), ListParams{}, func(ctx context.Context, items []Entity) error {
		return e.upsertTaxIDs(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncPaymentMethods backfills payment methods. They are only listable per
// customer, so the stored live customers drive the iteration, worked
// through in small chunks.
func (e *SyncEngine) SyncPaymentMethods(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing payment methods")

	customerIDs, err := e.store.LiveCustomerIDs(ctx)
	if err != nil {
		return nil, err
	}
	e.logger.Info("Fetching payment methods", "customers", len(customerIDs))

	synced := 0
	for _, chunk := range lo.Chunk(customerIDs, paymentMethodCustomerChunk) {
		for _, customerID := range chunk {
			result, err := e.fetchAndUpsert(ctx, KindPaymentMethod.apiPath(), ListParams{
				Filters: map[string]string{"customer": customerID},
			}, func(ctx context.Context, items []Entity) error {
				return e.upsertPaymentMethods(ctx, items, params.backfillOverride(), nil)
			})
			if err != nil {
				return nil, err
			}
			synced += result.Synced
		}
	}
	return &SyncResult{Synced: synced}, nil
}

// SyncDisputes backfills all disputes.
func (e *SyncEngine) SyncDisputes(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing disputes")
	return e.fetchAndUpsert(ctx, KindDispute.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertDisputes(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncEarlyFraudWarnings backfills all early fraud warnings.
func (e *SyncEngine) SyncEarlyFraudWarnings(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing early fraud warnings")
	return e.fetchAndUpsert(ctx, KindEarlyFraudWarning.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertEarlyFraudWarnings(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncRefunds backfills all refunds.
func (e *SyncEngine) SyncRefunds(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing refunds")
	return e.fetchAndUpsert(ctx, KindRefund.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertRefunds(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncCreditNotes backfills all credit notes.
func (e *SyncEngine) SyncCreditNotes(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing credit notes")
	return e.fetchAndUpsert(ctx, KindCreditNote.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertCreditNotes(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncCheckoutSessions backfills all checkout sessions and their line items.
func (e *SyncEngine) SyncCheckoutSessions(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing checkout sessions")
	return e.fetchAndUpsert(ctx, KindCheckoutSession.apiPath(), params.listParams(), func(ctx context.Context, items []Entity) error {
		return e.upsertCheckoutSessions(ctx, items, params.backfillOverride(), nil)
	})
}

// SyncFeatures backfills all entitlement features.
func (e *SyncEngine) SyncFeatures(ctx context.Context, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing features")
	return e.fetchAndUpsert(ctx, KindFeature.apiPath(), ListParams{}, func(ctx context.Context, items []Entity) error {
		return e.upsertFeatures(ctx, items, nil)
	})
}

// SyncEntitlements backfills one customer's active entitlements.
func (e *SyncEngine) SyncEntitlements(ctx context.Context, customerID string, params *BackfillParams) (*SyncResult, error) {
	e.logger.Info("Syncing entitlements", "customer", customerID)
	return e.fetchAndUpsert(ctx, KindActiveEntitlement.apiPath(), ListParams{
		Filters: map[string]string{"customer": customerID},
	}, func(ctx context.Context, items []Entity) error {
		return e.upsertActiveEntitlements(ctx, customerID, items, params.backfillOverride(), nil)
	})
}

// SyncBackfill runs a backfill for one object name, or for everything in
// dependency-aware order when Object is "all" (referenced kinds before
// the kinds that reference them, so the per-row backfill rarely fires).
func (e *SyncEngine) SyncBackfill(ctx context.Context, params *BackfillParams) (*SyncBackfillResult, error) {
	object := ""
	if params != nil {
		object = params.Object
	}

	result := &SyncBackfillResult{}
	var err error

	switch object {
	case "all":
		steps := []struct {
			slot **SyncResult
			run  func(context.Context, *BackfillParams) (*SyncResult, error)
		}{
			{&result.Products, e.SyncProducts},
			{&result.Prices, e.SyncPrices},
			{&result.Plans, e.SyncPlans},
			{&result.Customers, e.SyncCustomers},
			{&result.Subscriptions, e.SyncSubscriptions},
			{&result.SubscriptionSchedules, e.SyncSubscriptionSchedules},
			{&result.Invoices, e.SyncInvoices},
			{&result.Charges, e.SyncCharges},
			{&result.SetupIntents, e.SyncSetupIntents},
			{&result.PaymentMethods, e.SyncPaymentMethods},
			{&result.PaymentIntents, e.SyncPaymentIntents},
			{&result.TaxIDs, e.SyncTaxIDs},
			{&result.CreditNotes, e.SyncCreditNotes},
			{&result.Disputes, e.SyncDisputes},
			{&result.EarlyFraudWarnings, e.SyncEarlyFraudWarnings},
			{&result.Refunds, e.SyncRefunds},
			{&result.CheckoutSessions, e.SyncCheckoutSessions},
		}
		for _, step := range steps {
			if *step.slot, err = step.run(ctx, params); err != nil {
				return nil, err
			}
		}
	case "product":
		result.Products, err = e.SyncProducts(ctx, params)
	case "price":
		result.Prices, err = e.SyncPrices(ctx, params)
	case "plan":
		result.Plans, err = e.SyncPlans(ctx, params)
	case "customer":
		result.Customers, err = e.SyncCustomers(ctx, params)
	case "subscription":
		result.Subscriptions, err = e.SyncSubscriptions(ctx, params)
	case "subscription_schedule", "subscription_schedules":
		result.SubscriptionSchedules, err = e.SyncSubscriptionSchedules(ctx, params)
	case "invoice":
		result.Invoices, err = e.SyncInvoices(ctx, params)
	case "charge":
		result.Charges, err = e.SyncCharges(ctx, params)
	case "setup_intent":
		result.SetupIntents, err = e.SyncSetupIntents(ctx, params)
	case "payment_method":
		result.PaymentMethods, err = e.SyncPaymentMethods(ctx, params)
	case "payment_intent":
		result.PaymentIntents, err = e.SyncPaymentIntents(ctx, params)
	case "tax_id":
		result.TaxIDs, err = e.SyncTaxIDs(ctx, params)
	case "credit_note":
		result.CreditNotes, err = e.SyncCreditNotes(ctx, params)
	case "dispute":
		result.Disputes, err = e.SyncDisputes(ctx, params)
	case "early_fraud_warning":
		result.EarlyFraudWarnings, err = e.SyncEarlyFraudWarnings(ctx, params)
	case "refund":
		result.Refunds, err = e.SyncRefunds(ctx, params)
	case "checkout_session", "checkout_sessions":
		result.CheckoutSessions, err = e.SyncCheckoutSessions(ctx, params)
	default:
		return nil, fmt.Errorf("unknown backfill object %q", object)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SyncSingleEntity fetches and stores one object, resolved from its id
// prefix. Deleted customers are skipped rather than stored.
func (e *SyncEngine) SyncSingleEntity(ctx context.Context, stripeID string) error {
	kind := kindForStripeID(stripeID)
	if kind == "" || kind.apiPath() == "" {
		return fmt.Errorf("unrecognized id %q", stripeID)
	}

	entity, err := e.source.Retrieve(ctx, kind.apiPath(), stripeID)
	if err != nil {
		return err
	}

	var syncedAt *time.Time

	switch kind {
	case KindProduct:
		return e.upsertProducts(ctx, []Entity{entity}, syncedAt)
	case KindPrice:
		return e.upsertPrices(ctx, []Entity{entity}, nil, syncedAt)
	case KindPlan:
		return e.upsertPlans(ctx, []Entity{entity}, nil, syncedAt)
	case KindCustomer:
		if entity.BoolField("deleted") {
			return nil
		}
		return e.upsertCustomers(ctx, []Entity{entity}, syncedAt)
	case KindSubscription:
		return e.upsertSubscriptions(ctx, []Entity{entity}, nil, syncedAt)
	case KindSubscriptionSchedule:
		return e.upsertSubscriptionSchedules(ctx, []Entity{entity}, nil, syncedAt)
	case KindInvoice:
		return e.upsertInvoices(ctx, []Entity{entity}, nil, syncedAt)
	case KindInvoicePayment:
		return e.upsertInvoicePayments(ctx, []Entity{entity}, nil, syncedAt)
	case KindCharge:
		backfill := true
		return e.upsertCharges(ctx, []Entity{entity}, &backfill, syncedAt)
	case KindPaymentIntent:
		return e.upsertPaymentIntents(ctx, []Entity{entity}, nil, syncedAt)
	case KindPaymentMethod:
		return e.upsertPaymentMethods(ctx, []Entity{entity}, nil, syncedAt)
	case KindSetupIntent:
		return e.upsertSetupIntents(ctx, []Entity{entity}, nil, syncedAt)
	case KindDispute:
		return e.upsertDisputes(ctx, []Entity{entity}, nil, syncedAt)
	case KindRefund:
		return e.upsertRefunds(ctx, []Entity{entity}, nil, syncedAt)
	case KindReview:
		return e.upsertReviews(ctx, []Entity{entity}, nil, syncedAt)
	case KindEarlyFraudWarning:
		return e.upsertEarlyFraudWarnings(ctx, []Entity{entity}, nil, syncedAt)
	case KindTaxID:
		return e.upsertTaxIDs(ctx, []Entity{entity}, nil, syncedAt)
	case KindCreditNote:
		return e.upsertCreditNotes(ctx, []Entity{entity}, nil, syncedAt)
	case KindCheckoutSession:
		return e.upsertCheckoutSessions(ctx, []Entity{entity}, nil, syncedAt)
	case KindFeature:
		return e.upsertFeatures(ctx, []Entity{entity}, syncedAt)
	default:
		return fmt.Errorf("kind %q cannot be synced individually", kind)
	}
}
