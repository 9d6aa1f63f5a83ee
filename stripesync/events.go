// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
)

// eventRoute wires a family of webhook event types to one entity kind:
// the terminal predicate short-circuits refetching for objects that can
// no longer change, apply hands the resolved object to the kind's upsert.
type eventRoute struct {
	kind     EntityKind
	terminal func(Entity) bool
	apply    func(*SyncEngine, context.Context, Entity, *time.Time) error
}

func statusIn(statuses ...string) func(Entity) bool {
	return func(entity Entity) bool {
		status := entity.StringField("status")
		for _, s := range statuses {
			if status == s {
				return true
			}
		}
		return false
	}
}

var eventRoutes = buildEventRoutes()

func buildEventRoutes() map[string]eventRoute {
	routes := make(map[string]eventRoute)
	register := func(route eventRoute, eventTypes ...string) {
		for _, t := range eventTypes {
			routes[t] = route
		}
	}

	register(eventRoute{
		kind:     KindCharge,
		terminal: statusIn("failed", "succeeded"),
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertCharges(ctx, []Entity{entity}, nil, ts)
		},
	},
		"charge.captured", "charge.expired", "charge.failed", "charge.pending",
		"charge.refunded", "charge.succeeded", "charge.updated")

	register(eventRoute{
		kind: KindCheckoutSession,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertCheckoutSessions(ctx, []Entity{entity}, nil, ts)
		},
	},
		"checkout.session.async_payment_failed", "checkout.session.async_payment_succeeded",
		"checkout.session.completed", "checkout.session.expired")

	register(eventRoute{
		kind:     KindCustomer,
		terminal: func(entity Entity) bool { return entity.BoolField("deleted") },
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertCustomers(ctx, []Entity{entity}, ts)
		},
	},
		"customer.created", "customer.updated")

	register(eventRoute{
		kind:     KindSubscription,
		terminal: statusIn("canceled", "incomplete_expired"),
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertSubscriptions(ctx, []Entity{entity}, nil, ts)
		},
	},
		"customer.subscription.created", "customer.subscription.deleted",
		"customer.subscription.paused", "customer.subscription.pending_update_applied",
		"customer.subscription.pending_update_expired", "customer.subscription.trial_will_end",
		"customer.subscription.resumed", "customer.subscription.updated")

	register(eventRoute{
		kind: KindTaxID,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertTaxIDs(ctx, []Entity{entity}, nil, ts)
		},
	},
		"customer.tax_id.created", "customer.tax_id.updated")

	register(eventRoute{
		kind:     KindInvoice,
		terminal: statusIn("void"),
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertInvoices(ctx, []Entity{entity}, nil, ts)
		},
	},
		"invoice.created", "invoice.deleted", "invoice.finalized",
		"invoice.finalization_failed", "invoice.paid", "invoice.payment_action_required",
		"invoice.payment_failed", "invoice.payment_succeeded", "invoice.upcoming",
		"invoice.sent", "invoice.voided", "invoice.marked_uncollectible", "invoice.updated")

	register(eventRoute{
		kind: KindInvoicePayment,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertInvoicePayments(ctx, []Entity{entity}, nil, ts)
		},
	},
		"invoice_payment.paid")

	register(eventRoute{
		kind: KindProduct,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertProducts(ctx, []Entity{entity}, ts)
		},
	},
		"product.created", "product.updated")

	register(eventRoute{
		kind: KindPrice,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertPrices(ctx, []Entity{entity}, nil, ts)
		},
	},
		"price.created", "price.updated")

	register(eventRoute{
		kind: KindPlan,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertPlans(ctx, []Entity{entity}, nil, ts)
		},
	},
		"plan.created", "plan.updated")

	register(eventRoute{
		kind:     KindSetupIntent,
		terminal: statusIn("canceled", "succeeded"),
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertSetupIntents(ctx, []Entity{entity}, nil, ts)
		},
	},
		"setup_intent.canceled", "setup_intent.created", "setup_intent.requires_action",
		"setup_intent.setup_failed", "setup_intent.succeeded")

	register(eventRoute{
		kind:     KindSubscriptionSchedule,
		terminal: statusIn("canceled", "completed"),
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertSubscriptionSchedules(ctx, []Entity{entity}, nil, ts)
		},
	},
		"subscription_schedule.aborted", "subscription_schedule.canceled",
		"subscription_schedule.completed", "subscription_schedule.created",
		"subscription_schedule.expiring", "subscription_schedule.released",
		"subscription_schedule.updated")

	register(eventRoute{
		kind: KindPaymentMethod,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertPaymentMethods(ctx, []Entity{entity}, nil, ts)
		},
	},
		"payment_method.attached", "payment_method.automatically_updated",
		"payment_method.detached", "payment_method.updated")

	register(eventRoute{
		kind:     KindDispute,
		terminal: statusIn("won", "lost"),
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertDisputes(ctx, []Entity{entity}, nil, ts)
		},
	},
		"charge.dispute.created", "charge.dispute.funds_reinstated",
		"charge.dispute.funds_withdrawn", "charge.dispute.updated", "charge.dispute.closed")

	register(eventRoute{
		kind:     KindPaymentIntent,
		terminal: statusIn("canceled", "succeeded"),
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertPaymentIntents(ctx, []Entity{entity}, nil, ts)
		},
	},
		"payment_intent.amount_capturable_updated", "payment_intent.canceled",
		"payment_intent.created", "payment_intent.partially_funded",
		"payment_intent.payment_failed", "payment_intent.processing",
		"payment_intent.requires_action", "payment_intent.succeeded")

	register(eventRoute{
		kind:     KindCreditNote,
		terminal: statusIn("void"),
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertCreditNotes(ctx, []Entity{entity}, nil, ts)
		},
	},
		"credit_note.created", "credit_note.updated", "credit_note.voided")

	register(eventRoute{
		kind: KindEarlyFraudWarning,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertEarlyFraudWarnings(ctx, []Entity{entity}, nil, ts)
		},
	},
		"radar.early_fraud_warning.created", "radar.early_fraud_warning.updated")

	register(eventRoute{
		kind: KindRefund,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertRefunds(ctx, []Entity{entity}, nil, ts)
		},
	},
		"refund.created", "refund.failed", "refund.updated", "charge.refund.updated")

	register(eventRoute{
		kind: KindReview,
		apply: func(e *SyncEngine, ctx context.Context, entity Entity, ts *time.Time) error {
			return e.upsertReviews(ctx, []Entity{entity}, nil, ts)
		},
	},
		"review.closed", "review.opened")

	return routes
}

// ProcessWebhook verifies the signature over the raw payload bytes and
// processes the event. A verification failure is reported as
// ErrSignatureVerification so callers can answer with a non-retryable
// status.
func (e *SyncEngine) ProcessWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, e.cfg.WebhookSecret)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	return e.ProcessEvent(ctx, &event)
}

// ProcessEvent routes one event to the matching upsert or delete. Unknown
// event types return ErrUnhandledEventType; the webhook endpoint maps that
// to a retryable status so a misconfigured subscription surfaces instead
// of being silently dropped.
func (e *SyncEngine) ProcessEvent(ctx context.Context, event *stripe.Event) error {
	entity, err := decodeEntity(event.Data.Raw)
	if err != nil {
		return fmt.Errorf("event %s: %w", event.ID, err)
	}
	eventType := string(event.Type)

	switch eventType {
	case "customer.deleted":
		e.logEvent(event, KindCustomer, entity.ID())
		notice := Entity{"id": entity.ID(), "object": "customer", "deleted": true}
		return e.upsertCustomers(ctx, []Entity{notice}, e.eventSyncTime(event, false))

	case "customer.tax_id.deleted":
		e.logEvent(event, KindTaxID, entity.ID())
		_, err := e.store.Delete(ctx, KindTaxID, entity.ID())
		return err

	case "product.deleted":
		e.logEvent(event, KindProduct, entity.ID())
		_, err := e.store.Delete(ctx, KindProduct, entity.ID())
		return err

	case "price.deleted":
		e.logEvent(event, KindPrice, entity.ID())
		_, err := e.store.Delete(ctx, KindPrice, entity.ID())
		return err

	case "plan.deleted":
		e.logEvent(event, KindPlan, entity.ID())
		_, err := e.store.Delete(ctx, KindPlan, entity.ID())
		return err

	case "entitlements.active_entitlement_summary.updated":
		return e.processEntitlementSummary(ctx, event, entity)
	}

	route, ok := eventRoutes[eventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnhandledEventType, eventType)
	}

	resolved, refetched, err := e.fetchOrUseWebhookData(ctx, entity, route.kind, route.terminal)
	if err != nil {
		// A product, price or plan deleted upstream surfaces here as a
		// failed refetch; mirror the deletion instead of failing.
		if errors.Is(err, ErrNotFound) {
			switch route.kind {
			case KindProduct, KindPrice, KindPlan:
				e.logger.Info("Source object gone, deleting local row",
					"event", event.ID, "type", eventType, "id", entity.ID())
				_, derr := e.store.Delete(ctx, route.kind, entity.ID())
				return derr
			}
		}
		return err
	}

	e.logEvent(event, route.kind, resolved.ID())
	return route.apply(e, ctx, resolved, e.eventSyncTime(event, refetched))
}

// processEntitlementSummary reconciles a customer's full entitlement set:
// removed entitlements are pruned first, then the current set is upserted.
func (e *SyncEngine) processEntitlementSummary(ctx context.Context, event *stripe.Event, summary Entity) error {
	customerID := summary.StringField("customer")
	entitlements, _, ok := embeddedList(summary, "entitlements")
	refetched := false

	if e.cfg.RevalidateObjects {
		fetched, err := listAll(ctx, e.source, KindActiveEntitlement.apiPath(), ListParams{
			Filters: map[string]string{"customer": customerID},
		})
		if err != nil {
			return err
		}
		entitlements = fetched
		refetched = true
	} else if !ok {
		// A summary without its entitlement list cannot be distinguished
		// from an empty set; pruning on it would wipe the customer's rows.
		return fmt.Errorf("event %s: entitlement summary for %s has no entitlements list", event.ID, customerID)
	}

	e.logEvent(event, KindActiveEntitlement, customerID)

	keep := make([]string, 0, len(entitlements))
	for _, entitlement := range entitlements {
		keep = append(keep, entitlement.ID())
	}
	if _, err := e.store.DeleteRemovedEntitlements(ctx, customerID, keep); err != nil {
		return err
	}
	return e.upsertActiveEntitlements(ctx, customerID, entitlements, nil, e.eventSyncTime(event, refetched))
}

// fetchOrUseWebhookData decides between trusting the delivered payload and
// refetching the object. Payloads without an id and objects already in a
// terminal state are never refetched.
func (e *SyncEngine) fetchOrUseWebhookData(ctx context.Context, entity Entity, kind EntityKind, terminal func(Entity) bool) (Entity, bool, error) {
	if entity.ID() == "" {
		return entity, false, nil
	}
	if terminal != nil && terminal(entity) {
		return entity, false, nil
	}
	if !e.cfg.RevalidateObjects {
		return entity, false, nil
	}
	fetched, err := e.source.Retrieve(ctx, kind.apiPath(), entity.ID())
	if err != nil {
		return nil, false, err
	}
	return fetched, true, nil
}

// eventSyncTime is the sync timestamp recorded for an event's writes:
// wall clock when the object was refetched (the fetch reflects state now),
// the event's creation time when the payload was trusted as-is.
func (e *SyncEngine) eventSyncTime(event *stripe.Event, refetched bool) *time.Time {
	var ts time.Time
	if refetched {
		ts = time.Now().UTC()
	} else {
		ts = time.Unix(event.Created, 0).UTC()
	}
	return &ts
}

func (e *SyncEngine) logEvent(event *stripe.Event, kind EntityKind, id string) {
	e.logger.Info("Received webhook",
		"event", event.ID, "type", string(event.Type), "kind", string(kind), "id", id)
}
