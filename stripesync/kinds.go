// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import "strings"

// EntityKind identifies one of the fixed set of mirrored Stripe object types.
type EntityKind string

const (
	KindProduct                 EntityKind = "product"
	KindPrice                   EntityKind = "price"
	KindPlan                    EntityKind = "plan"
	KindCustomer                EntityKind = "customer"
	KindSubscription            EntityKind = "subscription"
	KindSubscriptionItem        EntityKind = "subscription_item"
	KindSubscriptionSchedule    EntityKind = "subscription_schedule"
	KindInvoice                 EntityKind = "invoice"
	KindInvoicePayment          EntityKind = "invoice_payment"
	KindCharge                  EntityKind = "charge"
	KindPaymentIntent           EntityKind = "payment_intent"
	KindPaymentMethod           EntityKind = "payment_method"
	KindSetupIntent             EntityKind = "setup_intent"
	KindDispute                 EntityKind = "dispute"
	KindRefund                  EntityKind = "refund"
	KindReview                  EntityKind = "review"
	KindEarlyFraudWarning       EntityKind = "early_fraud_warning"
	KindTaxID                   EntityKind = "tax_id"
	KindCreditNote              EntityKind = "credit_note"
	KindCheckoutSession         EntityKind = "checkout_session"
	KindCheckoutSessionLineItem EntityKind = "checkout_session_line_item"
	KindFeature                 EntityKind = "feature"
	KindActiveEntitlement       EntityKind = "active_entitlement"
)

// kindSpec carries the static wiring for one entity kind: where its rows
// live, where the source API serves it, and which id prefixes select it.
type kindSpec struct {
	Table    string
	Path     string // collection path on the source API, e.g. "/v1/charges"
	Prefixes []string
}

var kindSpecs = map[EntityKind]kindSpec{
	KindProduct:                 {Table: "products", Path: "/v1/products", Prefixes: []string{"prod_"}},
	KindPrice:                   {Table: "prices", Path: "/v1/prices", Prefixes: []string{"price_"}},
	KindPlan:                    {Table: "plans", Path: "/v1/plans", Prefixes: []string{"plan_"}},
	KindCustomer:                {Table: "customers", Path: "/v1/customers", Prefixes: []string{"cus_"}},
	KindSubscription:            {Table: "subscriptions", Path: "/v1/subscriptions", Prefixes: []string{"sub_"}},
	KindSubscriptionItem:        {Table: "subscription_items", Path: "/v1/subscription_items", Prefixes: []string{"si_"}},
	KindSubscriptionSchedule:    {Table: "subscription_schedules", Path: "/v1/subscription_schedules", Prefixes: []string{"sub_sched_"}},
	KindInvoice:                 {Table: "invoices", Path: "/v1/invoices", Prefixes: []string{"in_"}},
	KindInvoicePayment:          {Table: "invoice_payments", Path: "/v1/invoice_payments", Prefixes: []string{"inpay_"}},
	KindCharge:                  {Table: "charges", Path: "/v1/charges", Prefixes: []string{"ch_"}},
	KindPaymentIntent:           {Table: "payment_intents", Path: "/v1/payment_intents", Prefixes: []string{"pi_"}},
	KindPaymentMethod:           {Table: "payment_methods", Path: "/v1/payment_methods", Prefixes: []string{"pm_"}},
	KindSetupIntent:             {Table: "setup_intents", Path: "/v1/setup_intents", Prefixes: []string{"seti_"}},
	KindDispute:                 {Table: "disputes", Path: "/v1/disputes", Prefixes: []string{"dp_", "du_"}},
	KindRefund:                  {Table: "refunds", Path: "/v1/refunds", Prefixes: []string{"re_"}},
	KindReview:                  {Table: "reviews", Path: "/v1/reviews", Prefixes: []string{"prv_"}},
	KindEarlyFraudWarning:       {Table: "early_fraud_warnings", Path: "/v1/radar/early_fraud_warnings", Prefixes: []string{"issfr_"}},
	KindTaxID:                   {Table: "tax_ids", Path: "/v1/tax_ids", Prefixes: []string{"txi_"}},
	KindCreditNote:              {Table: "credit_notes", Path: "/v1/credit_notes", Prefixes: []string{"cn_"}},
	KindCheckoutSession:         {Table: "checkout_sessions", Path: "/v1/checkout/sessions", Prefixes: []string{"cs_"}},
	KindCheckoutSessionLineItem: {Table: "checkout_session_line_items", Path: "", Prefixes: []string{"li_"}},
	KindFeature:                 {Table: "features", Path: "/v1/entitlements/features", Prefixes: []string{"feat_"}},
	KindActiveEntitlement:       {Table: "active_entitlements", Path: "/v1/entitlements/active_entitlements", Prefixes: []string{"ent_"}},
}

// TableName returns the table a kind's rows are stored in.
func (k EntityKind) TableName() string {
	return kindSpecs[k].Table
}

// apiPath returns the source API collection path for a kind. Empty for
// kinds only reachable through a parent listing (checkout session line items).
func (k EntityKind) apiPath() string {
	return kindSpecs[k].Path
}

// kindForStripeID resolves a kind from a Stripe id by prefix convention,
// mirroring the ids the single-entity sync accepts. Returns "" when the
// prefix is unknown.
func kindForStripeID(stripeID string) EntityKind {
	// sub_sched_ must win over sub_
	if strings.HasPrefix(stripeID, "sub_sched_") {
		return KindSubscriptionSchedule
	}
	for kind, spec := range kindSpecs {
		for _, prefix := range spec.Prefixes {
			if strings.HasPrefix(stripeID, prefix) {
				return kind
			}
		}
	}
	return ""
}
