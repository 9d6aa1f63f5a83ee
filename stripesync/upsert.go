// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// Per-kind upsert routines. Each one runs the kind's referential backfill
// (unless overridden), expands truncated embedded lists, and writes the
// batch through the timestamp-guarded store. The webhook router and the
// backfill orchestrator both land here, so one-row webhook batches and
// 250-row backfill chunks take the same path.

// shouldBackfill resolves the per-call override against the configured
// default.
func (e *SyncEngine) shouldBackfill(override *bool) bool {
	if override != nil {
		return *override
	}
	return e.cfg.BackfillRelatedEntities
}

func (e *SyncEngine) upsertProducts(ctx context.Context, products []Entity, syncedAt *time.Time) error {
	_, err := e.store.UpsertMany(ctx, KindProduct, products, syncedAt)
	return err
}

func (e *SyncEngine) upsertPrices(ctx context.Context, prices []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillProducts(ctx, uniqueIDs(prices, "product")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindPrice, prices, syncedAt)
	return err
}

func (e *SyncEngine) upsertPlans(ctx context.Context, plans []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillProducts(ctx, uniqueIDs(plans, "product")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindPlan, plans, syncedAt)
	return err
}

// upsertCustomers splits live records from deletion notices: live ones go
// through the full projection, deletion notices through the narrow one so
// they don't blank out previously stored fields.
func (e *SyncEngine) upsertCustomers(ctx context.Context, customers []Entity, syncedAt *time.Time) error {
	live := lo.Filter(customers, func(c Entity, _ int) bool { return !c.BoolField("deleted") })
	deleted := lo.Filter(customers, func(c Entity, _ int) bool { return c.BoolField("deleted") })

	if _, err := e.store.UpsertMany(ctx, KindCustomer, live, syncedAt); err != nil {
		return err
	}
	for _, customer := range deleted {
		if err := e.store.SoftDeleteCustomer(ctx, customer, syncedAt); err != nil {
			return err
		}
	}
	return nil
}

// upsertSubscriptions persists the subscriptions, their items, and then
// reconciles: items previously stored live for a subscription but absent
// from the current item set are marked deleted rather than removed, so
// historical invoice lines keep resolving.
func (e *SyncEngine) upsertSubscriptions(ctx context.Context, subscriptions []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(subscriptions, "customer")); err != nil {
			return err
		}
	}

	err := e.expandLists(ctx, subscriptions, "items", func(ctx context.Context, id string) ([]Entity, error) {
		return listAll(ctx, e.source, KindSubscriptionItem.apiPath(), ListParams{
			Filters: map[string]string{"subscription": id},
		})
	})
	if err != nil {
		return err
	}

	if _, err := e.store.UpsertMany(ctx, KindSubscription, subscriptions, syncedAt); err != nil {
		return err
	}

	var allItems []Entity
	for _, subscription := range subscriptions {
		items, _, ok := embeddedList(subscription, "items")
		if !ok {
			continue
		}
		allItems = append(allItems, items...)
	}
	if err := e.upsertSubscriptionItems(ctx, allItems, syncedAt); err != nil {
		return err
	}

	for _, subscription := range subscriptions {
		items, _, _ := embeddedList(subscription, "items")
		currentIDs := lo.Map(items, func(item Entity, _ int) string { return item.ID() })
		if err := e.markRemovedSubscriptionItems(ctx, subscription.ID(), currentIDs); err != nil {
			return err
		}
	}
	return nil
}

// upsertSubscriptionItems flattens the expanded price object to its id
// and defaults the deleted flag before storing.
func (e *SyncEngine) upsertSubscriptionItems(ctx context.Context, items []Entity, syncedAt *time.Time) error {
	if len(items) == 0 {
		return nil
	}
	flattened := make([]Entity, 0, len(items))
	for _, item := range items {
		modified := make(Entity, len(item)+1)
		for k, v := range item {
			modified[k] = v
		}
		modified["price"] = item.StringField("price")
		if _, ok := modified["deleted"]; !ok {
			modified["deleted"] = false
		}
		flattened = append(flattened, modified)
	}
	_, err := e.store.UpsertMany(ctx, KindSubscriptionItem, flattened, syncedAt)
	return err
}

// markRemovedSubscriptionItems flags stored live items that are no longer
// part of the subscription's current item set.
func (e *SyncEngine) markRemovedSubscriptionItems(ctx context.Context, subscriptionID string, currentIDs []string) error {
	stored, err := e.store.LiveSubscriptionItemIDs(ctx, subscriptionID)
	if err != nil {
		return err
	}
	current := lo.SliceToMap(currentIDs, func(id string) (string, struct{}) { return id, struct{}{} })
	removed := lo.Filter(stored, func(id string, _ int) bool {
		_, ok := current[id]
		return !ok
	})
	if len(removed) == 0 {
		return nil
	}
	marked, err := e.store.MarkSubscriptionItemsDeleted(ctx, removed)
	if err != nil {
		return err
	}
	e.logger.Debug("Marked removed subscription items deleted",
		"subscription", subscriptionID, "count", marked)
	return nil
}

func (e *SyncEngine) upsertSubscriptionSchedules(ctx context.Context, schedules []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(schedules, "customer")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindSubscriptionSchedule, schedules, syncedAt)
	return err
}

func (e *SyncEngine) upsertInvoices(ctx context.Context, invoices []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(invoices, "customer")); err != nil {
			return err
		}
		if err := e.backfillSubscriptions(ctx, uniqueIDs(invoices, "subscription")); err != nil {
			return err
		}
	}

	err := e.expandLists(ctx, invoices, "lines", func(ctx context.Context, id string) ([]Entity, error) {
		return listAll(ctx, e.source, "/v1/invoices/"+id+"/lines", ListParams{})
	})
	if err != nil {
		return err
	}

	_, err = e.store.UpsertMany(ctx, KindInvoice, invoices, syncedAt)
	return err
}

// upsertInvoicePayments backfills the invoice plus whichever side of the
// payment union (payment_intent or charge) each record carries.
func (e *SyncEngine) upsertInvoicePayments(ctx context.Context, payments []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		var paymentIntentIDs, chargeIDs []string
		for _, record := range payments {
			payment, ok := record["payment"].(map[string]any)
			if !ok {
				continue
			}
			switch payment["type"] {
			case "payment_intent":
				if id := refID(payment["payment_intent"]); id != "" {
					paymentIntentIDs = append(paymentIntentIDs, id)
				}
			case "charge":
				if id := refID(payment["charge"]); id != "" {
					chargeIDs = append(chargeIDs, id)
				}
			}
		}
		if err := e.backfillInvoices(ctx, uniqueIDs(payments, "invoice")); err != nil {
			return err
		}
		if err := e.backfillPaymentIntents(ctx, lo.Uniq(paymentIntentIDs)); err != nil {
			return err
		}
		if err := e.backfillCharges(ctx, lo.Uniq(chargeIDs)); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindInvoicePayment, payments, syncedAt)
	return err
}

func (e *SyncEngine) upsertCharges(ctx context.Context, charges []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(charges, "customer")); err != nil {
			return err
		}
		if err := e.backfillInvoices(ctx, uniqueIDs(charges, "invoice")); err != nil {
			return err
		}
	}

	err := e.expandLists(ctx, charges, "refunds", func(ctx context.Context, id string) ([]Entity, error) {
		return listAll(ctx, e.source, KindRefund.apiPath(), ListParams{
			Filters: map[string]string{"charge": id},
		})
	})
	if err != nil {
		return err
	}

	_, err = e.store.UpsertMany(ctx, KindCharge, charges, syncedAt)
	return err
}

func (e *SyncEngine) upsertPaymentIntents(ctx context.Context, paymentIntents []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(paymentIntents, "customer")); err != nil {
			return err
		}
		if err := e.backfillInvoices(ctx, uniqueIDs(paymentIntents, "invoice")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindPaymentIntent, paymentIntents, syncedAt)
	return err
}

func (e *SyncEngine) upsertPaymentMethods(ctx context.Context, paymentMethods []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(paymentMethods, "customer")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindPaymentMethod, paymentMethods, syncedAt)
	return err
}

func (e *SyncEngine) upsertSetupIntents(ctx context.Context, setupIntents []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(setupIntents, "customer")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindSetupIntent, setupIntents, syncedAt)
	return err
}

func (e *SyncEngine) upsertTaxIDs(ctx context.Context, taxIDs []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(taxIDs, "customer")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindTaxID, taxIDs, syncedAt)
	return err
}

func (e *SyncEngine) upsertDisputes(ctx context.Context, disputes []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCharges(ctx, uniqueIDs(disputes, "charge")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindDispute, disputes, syncedAt)
	return err
}

func (e *SyncEngine) upsertRefunds(ctx context.Context, refunds []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillPaymentIntents(ctx, uniqueIDs(refunds, "payment_intent")); err != nil {
			return err
		}
		if err := e.backfillCharges(ctx, uniqueIDs(refunds, "charge")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindRefund, refunds, syncedAt)
	return err
}

func (e *SyncEngine) upsertReviews(ctx context.Context, reviews []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillPaymentIntents(ctx, uniqueIDs(reviews, "payment_intent")); err != nil {
			return err
		}
		if err := e.backfillCharges(ctx, uniqueIDs(reviews, "charge")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindReview, reviews, syncedAt)
	return err
}

func (e *SyncEngine) upsertEarlyFraudWarnings(ctx context.Context, warnings []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillPaymentIntents(ctx, uniqueIDs(warnings, "payment_intent")); err != nil {
			return err
		}
		if err := e.backfillCharges(ctx, uniqueIDs(warnings, "charge")); err != nil {
			return err
		}
	}
	_, err := e.store.UpsertMany(ctx, KindEarlyFraudWarning, warnings, syncedAt)
	return err
}

func (e *SyncEngine) upsertCreditNotes(ctx context.Context, creditNotes []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(creditNotes, "customer")); err != nil {
			return err
		}
		if err := e.backfillInvoices(ctx, uniqueIDs(creditNotes, "invoice")); err != nil {
			return err
		}
	}

	err := e.expandLists(ctx, creditNotes, "lines", func(ctx context.Context, id string) ([]Entity, error) {
		return listAll(ctx, e.source, "/v1/credit_notes/"+id+"/lines", ListParams{})
	})
	if err != nil {
		return err
	}

	_, err = e.store.UpsertMany(ctx, KindCreditNote, creditNotes, syncedAt)
	return err
}

// upsertCheckoutSessions stores the sessions, then fetches and stores each
// session's line items through the session's line-item listing, since line
// items are not listable on their own.
func (e *SyncEngine) upsertCheckoutSessions(ctx context.Context, sessions []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(sessions, "customer")); err != nil {
			return err
		}
		if err := e.backfillSubscriptions(ctx, uniqueIDs(sessions, "subscription")); err != nil {
			return err
		}
		if err := e.backfillPaymentIntents(ctx, uniqueIDs(sessions, "payment_intent")); err != nil {
			return err
		}
		if err := e.backfillInvoices(ctx, uniqueIDs(sessions, "invoice")); err != nil {
			return err
		}
	}

	if _, err := e.store.UpsertMany(ctx, KindCheckoutSession, sessions, syncedAt); err != nil {
		return err
	}

	for _, session := range sessions {
		lineItems, err := listAll(ctx, e.source, "/v1/checkout/sessions/"+session.ID()+"/line_items", ListParams{})
		if err != nil {
			return fmt.Errorf("failed to list line items for %s: %w", session.ID(), err)
		}
		if err := e.upsertCheckoutSessionLineItems(ctx, lineItems, session.ID(), syncedAt); err != nil {
			return err
		}
	}
	return nil
}

// upsertCheckoutSessionLineItems flattens each line item's price to an id,
// stamps the parent session, and backfills the referenced prices first.
func (e *SyncEngine) upsertCheckoutSessionLineItems(ctx context.Context, lineItems []Entity, sessionID string, syncedAt *time.Time) error {
	if len(lineItems) == 0 {
		return nil
	}
	if err := e.backfillPrices(ctx, uniqueIDs(lineItems, "price")); err != nil {
		return err
	}

	flattened := make([]Entity, 0, len(lineItems))
	for _, item := range lineItems {
		modified := make(Entity, len(item)+1)
		for k, v := range item {
			modified[k] = v
		}
		modified["price"] = item.StringField("price")
		modified["checkout_session"] = sessionID
		flattened = append(flattened, modified)
	}
	_, err := e.store.UpsertMany(ctx, KindCheckoutSessionLineItem, flattened, syncedAt)
	return err
}

func (e *SyncEngine) upsertFeatures(ctx context.Context, features []Entity, syncedAt *time.Time) error {
	_, err := e.store.UpsertMany(ctx, KindFeature, features, syncedAt)
	return err
}

// upsertActiveEntitlements normalizes the entitlement records (flattened
// feature id, parent customer stamped on) before storing. Callers prune
// removed entitlements before calling this.
func (e *SyncEngine) upsertActiveEntitlements(ctx context.Context, customerID string, entitlements []Entity, backfill *bool, syncedAt *time.Time) error {
	if e.shouldBackfill(backfill) {
		if err := e.backfillCustomers(ctx, uniqueIDs(entitlements, "customer")); err != nil {
			return err
		}
		if err := e.backfillFeatures(ctx, uniqueIDs(entitlements, "feature")); err != nil {
			return err
		}
	}

	normalized := make([]Entity, 0, len(entitlements))
	for _, entitlement := range entitlements {
		normalized = append(normalized, Entity{
			"id":         entitlement.ID(),
			"object":     entitlement["object"],
			"feature":    entitlement.StringField("feature"),
			"customer":   customerID,
			"livemode":   entitlement["livemode"],
			"lookup_key": entitlement["lookup_key"],
		})
	}
	_, err := e.store.UpsertMany(ctx, KindActiveEntitlement, normalized, syncedAt)
	return err
}
