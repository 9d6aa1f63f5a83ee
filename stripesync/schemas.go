// Copyright 2025 Wizarr Contributors
// SPDX-License-Identifier: Apache-2.0

package stripesync

import "encoding/json"

// Entity schemas: per-kind field projections. A schema declares exactly
// which properties of the source payload are persisted, in column order;
// unknown or future fields are dropped rather than stored opaquely.
//
// Column types are deliberately coarse: ids, references and status strings
// are text, Unix times and amounts are bigint, flags are boolean, and
// everything structured lands in jsonb.

// ColumnType is the storage type of a projected column.
type ColumnType int

const (
	ColText ColumnType = iota
	ColBool
	ColBigint
	ColJSONB
)

// Column is one projected field of an entity kind.
type Column struct {
	Name string
	Type ColumnType
}

// EntitySchema is the ordered projection for one entity kind. The first
// column is always the primary-key id.
type EntitySchema struct {
	Columns []Column
}

func text(name string) Column   { return Column{Name: name, Type: ColText} }
func flag(name string) Column   { return Column{Name: name, Type: ColBool} }
func bigint(name string) Column { return Column{Name: name, Type: ColBigint} }
func jsonb(name string) Column  { return Column{Name: name, Type: ColJSONB} }

var productSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), flag("active"), text("default_price"),
	jsonb("description"), jsonb("metadata"), jsonb("name"), bigint("created"),
	jsonb("images"), jsonb("marketing_features"), flag("livemode"),
	jsonb("package_dimensions"), flag("shippable"), jsonb("statement_descriptor"),
	jsonb("unit_label"), bigint("updated"), jsonb("url"),
}}

var priceSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), flag("active"), text("billing_scheme"),
	bigint("created"), text("currency"), flag("livemode"), jsonb("lookup_key"),
	jsonb("metadata"), jsonb("nickname"), text("product"), jsonb("recurring"),
	text("tax_behavior"), jsonb("tiers_mode"), jsonb("transform_quantity"),
	text("type"), bigint("unit_amount"), jsonb("unit_amount_decimal"),
}}

var planSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), flag("active"), bigint("amount"),
	bigint("created"), text("product"), text("currency"), text("interval"),
	flag("livemode"), jsonb("metadata"), jsonb("nickname"), jsonb("tiers_mode"),
	text("usage_type"), text("billing_scheme"), bigint("interval_count"),
	jsonb("aggregate_usage"), jsonb("transform_usage"), bigint("trial_period_days"),
}}

var customerSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), jsonb("address"), jsonb("description"),
	jsonb("email"), jsonb("metadata"), jsonb("name"), jsonb("phone"),
	jsonb("shipping"), bigint("balance"), bigint("created"), text("currency"),
	text("default_source"), flag("delinquent"), jsonb("discount"),
	jsonb("invoice_prefix"), jsonb("invoice_settings"), flag("livemode"),
	bigint("next_invoice_sequence"), jsonb("preferred_locales"), jsonb("tax_exempt"),
}}

// customerDeletedSchema is the minimal record a customer.deleted event
// carries; it shares the customers table with the full schema.
var customerDeletedSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), flag("deleted"),
}}

var subscriptionSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), flag("cancel_at_period_end"),
	bigint("current_period_end"), bigint("current_period_start"),
	text("default_payment_method"), jsonb("items"), jsonb("metadata"),
	text("pending_setup_intent"), jsonb("pending_update"), text("status"),
	jsonb("application_fee_percent"), bigint("billing_cycle_anchor"),
	jsonb("billing_thresholds"), bigint("cancel_at"), bigint("canceled_at"),
	text("collection_method"), bigint("created"), bigint("days_until_due"),
	text("default_source"), jsonb("default_tax_rates"), jsonb("discount"),
	bigint("ended_at"), flag("livemode"), jsonb("pause_collection"),
	jsonb("payment_settings"), jsonb("pending_invoice_item_interval"),
	bigint("start_date"), jsonb("transfer_data"), bigint("trial_end"),
	bigint("trial_start"), text("schedule"), text("customer"),
	text("latest_invoice"), jsonb("plan"),
}}

var subscriptionItemSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), jsonb("billing_thresholds"), bigint("created"),
	flag("deleted"), jsonb("metadata"), bigint("quantity"), text("price"),
	text("subscription"), jsonb("tax_rates"), bigint("current_period_end"),
	bigint("current_period_start"),
}}

var subscriptionScheduleSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), text("application"), bigint("canceled_at"),
	bigint("completed_at"), bigint("created"), jsonb("current_phase"),
	text("customer"), jsonb("default_settings"), text("end_behavior"),
	flag("livemode"), jsonb("metadata"), jsonb("phases"), bigint("released_at"),
	text("released_subscription"), text("status"), text("subscription"),
	text("test_clock"), jsonb("billing_mode"),
}}

var invoiceSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), flag("auto_advance"), text("collection_method"),
	text("currency"), jsonb("description"), jsonb("hosted_invoice_url"),
	jsonb("lines"), jsonb("metadata"), bigint("period_end"), bigint("period_start"),
	text("status"), bigint("total"), jsonb("account_country"), jsonb("account_name"),
	jsonb("account_tax_ids"), bigint("amount_due"), bigint("amount_paid"),
	bigint("amount_remaining"), bigint("application_fee_amount"),
	bigint("attempt_count"), flag("attempted"), text("billing_reason"),
	text("charge"), bigint("created"), text("customer"), jsonb("custom_fields"),
	jsonb("customer_address"), jsonb("customer_email"), jsonb("customer_name"),
	jsonb("customer_phone"), jsonb("customer_shipping"), jsonb("customer_tax_exempt"),
	jsonb("customer_tax_ids"), text("default_payment_method"),
	text("default_source"), jsonb("default_tax_rates"), jsonb("discount"),
	jsonb("discounts"), bigint("due_date"), bigint("ending_balance"),
	jsonb("footer"), jsonb("invoice_pdf"), jsonb("last_finalization_error"),
	flag("livemode"), bigint("next_payment_attempt"), jsonb("number"),
	flag("paid"), text("payment_intent"), bigint("post_payment_credit_notes_amount"),
	bigint("pre_payment_credit_notes_amount"), jsonb("receipt_number"),
	bigint("starting_balance"), jsonb("statement_descriptor"),
	jsonb("status_transitions"), text("subscription"), bigint("subtotal"),
	bigint("tax"), jsonb("total_discount_amounts"), jsonb("total_tax_amounts"),
	jsonb("transfer_data"), bigint("webhooks_delivered_at"),
}}

var invoicePaymentSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("amount_paid"), bigint("amount_requested"),
	bigint("created"), text("currency"), text("invoice"), flag("is_default"),
	flag("livemode"), jsonb("payment"), text("status"), jsonb("status_transitions"),
}}

var chargeSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("amount"), bigint("amount_captured"),
	bigint("amount_refunded"), text("application"), text("application_fee"),
	bigint("application_fee_amount"), text("balance_transaction"),
	jsonb("billing_details"), jsonb("calculated_statement_descriptor"),
	flag("captured"), bigint("created"), text("currency"), text("customer"),
	jsonb("description"), flag("disputed"), jsonb("failure_code"),
	jsonb("failure_message"), jsonb("fraud_details"), text("invoice"),
	flag("livemode"), jsonb("metadata"), jsonb("outcome"), flag("paid"),
	text("payment_intent"), text("payment_method"), jsonb("payment_method_details"),
	jsonb("receipt_email"), jsonb("receipt_number"), jsonb("receipt_url"),
	flag("refunded"), jsonb("refunds"), text("review"), jsonb("shipping"),
	jsonb("statement_descriptor"), text("status"), jsonb("transfer_data"),
	jsonb("transfer_group"),
}}

var paymentIntentSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("amount"), bigint("amount_capturable"),
	bigint("amount_received"), text("application"), bigint("application_fee_amount"),
	jsonb("automatic_payment_methods"), bigint("canceled_at"),
	jsonb("cancellation_reason"), text("capture_method"), text("confirmation_method"),
	bigint("created"), text("currency"), text("customer"), jsonb("description"),
	text("invoice"), jsonb("last_payment_error"), text("latest_charge"),
	flag("livemode"), jsonb("metadata"), jsonb("next_action"), text("on_behalf_of"),
	text("payment_method"), jsonb("payment_method_options"),
	jsonb("payment_method_types"), jsonb("processing"), jsonb("receipt_email"),
	jsonb("setup_future_usage"), jsonb("shipping"), jsonb("statement_descriptor"),
	jsonb("statement_descriptor_suffix"), text("status"), jsonb("transfer_data"),
	jsonb("transfer_group"),
}}

var paymentMethodSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("created"), text("customer"),
	text("type"), jsonb("billing_details"), jsonb("metadata"), jsonb("card"),
}}

var setupIntentSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("created"), text("customer"),
	jsonb("description"), text("payment_method"), text("status"), text("usage"),
	jsonb("cancellation_reason"), text("latest_attempt"), text("mandate"),
	text("single_use_mandate"), text("on_behalf_of"),
}}

var disputeSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("amount"), jsonb("balance_transactions"),
	text("charge"), bigint("created"), text("currency"), jsonb("evidence"),
	jsonb("evidence_details"), flag("is_charge_refundable"), flag("livemode"),
	jsonb("metadata"), text("payment_intent"), text("reason"), text("status"),
}}

var refundSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("amount"), text("balance_transaction"),
	text("charge"), bigint("created"), text("currency"),
	jsonb("destination_details"), jsonb("metadata"), text("payment_intent"),
	jsonb("reason"), jsonb("receipt_number"), text("source_transfer_reversal"),
	text("status"), text("transfer_reversal"),
}}

var reviewSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), jsonb("billing_zip"), bigint("created"),
	text("charge"), jsonb("closed_reason"), flag("livemode"), jsonb("ip_address"),
	jsonb("ip_address_location"), flag("open"), jsonb("opened_reason"),
	text("payment_intent"), text("reason"), jsonb("session"),
}}

var earlyFraudWarningSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), flag("actionable"), text("charge"),
	bigint("created"), text("fraud_type"), flag("livemode"), text("payment_intent"),
}}

var taxIDSchema = EntitySchema{Columns: []Column{
	text("id"), text("country"), text("customer"), text("type"), text("value"),
	text("object"), bigint("created"), flag("livemode"), jsonb("owner"),
}}

var creditNoteSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("amount"), bigint("amount_shipping"),
	bigint("created"), text("currency"), text("customer"),
	text("customer_balance_transaction"), bigint("discount_amount"),
	jsonb("discount_amounts"), text("invoice"), jsonb("lines"), flag("livemode"),
	jsonb("memo"), jsonb("metadata"), jsonb("number"), bigint("out_of_band_amount"),
	jsonb("pdf"), jsonb("reason"), text("refund"), jsonb("shipping_cost"),
	text("status"), bigint("subtotal"), bigint("subtotal_excluding_tax"),
	jsonb("tax_amounts"), bigint("total"), bigint("total_excluding_tax"),
	text("type"), bigint("voided_at"),
}}

var checkoutSessionSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("amount_subtotal"), bigint("amount_total"),
	jsonb("automatic_tax"), jsonb("billing_address_collection"),
	jsonb("cancel_url"), jsonb("client_reference_id"), bigint("created"),
	text("currency"), text("customer"), jsonb("customer_details"),
	jsonb("customer_email"), bigint("expires_at"), flag("livemode"),
	jsonb("locale"), jsonb("metadata"), text("mode"), text("payment_intent"),
	jsonb("payment_method_types"), text("payment_status"), text("status"),
	text("subscription"), jsonb("success_url"), jsonb("url"),
}}

var checkoutSessionLineItemSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), bigint("amount_discount"), bigint("amount_subtotal"),
	bigint("amount_tax"), bigint("amount_total"), text("currency"),
	jsonb("description"), text("price"), bigint("quantity"), text("checkout_session"),
}}

var featureSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), flag("active"), flag("livemode"),
	jsonb("lookup_key"), jsonb("metadata"), jsonb("name"),
}}

var activeEntitlementSchema = EntitySchema{Columns: []Column{
	text("id"), text("object"), text("feature"), jsonb("lookup_key"),
	flag("livemode"), text("customer"),
}}

// entitySchemas maps each kind to its primary projection.
var entitySchemas = map[EntityKind]EntitySchema{
	KindProduct:                 productSchema,
	KindPrice:                   priceSchema,
	KindPlan:                    planSchema,
	KindCustomer:                customerSchema,
	KindSubscription:            subscriptionSchema,
	KindSubscriptionItem:        subscriptionItemSchema,
	KindSubscriptionSchedule:    subscriptionScheduleSchema,
	KindInvoice:                 invoiceSchema,
	KindInvoicePayment:          invoicePaymentSchema,
	KindCharge:                  chargeSchema,
	KindPaymentIntent:           paymentIntentSchema,
	KindPaymentMethod:           paymentMethodSchema,
	KindSetupIntent:             setupIntentSchema,
	KindDispute:                 disputeSchema,
	KindRefund:                  refundSchema,
	KindReview:                  reviewSchema,
	KindEarlyFraudWarning:       earlyFraudWarningSchema,
	KindTaxID:                   taxIDSchema,
	KindCreditNote:              creditNoteSchema,
	KindCheckoutSession:         checkoutSessionSchema,
	KindCheckoutSessionLineItem: checkoutSessionLineItemSchema,
	KindFeature:                 featureSchema,
	KindActiveEntitlement:       activeEntitlementSchema,
}

// SchemaFor returns the primary projection for a kind.
func SchemaFor(kind EntityKind) (EntitySchema, bool) {
	schema, ok := entitySchemas[kind]
	return schema, ok
}

// projectRow shapes an entity into values matching the schema's column
// order, substituting nil for absent fields. This is column selection,
// not validation: values that cannot be coerced to the column type also
// become nil rather than failing the row.
func projectRow(entity Entity, schema EntitySchema) []any {
	row := make([]any, len(schema.Columns))
	for i, col := range schema.Columns {
		value, ok := entity[col.Name]
		if !ok || value == nil {
			continue
		}
		switch col.Type {
		case ColText:
			if s := refID(value); s != "" {
				row[i] = s
			}
		case ColBool:
			if b, ok := value.(bool); ok {
				row[i] = b
			}
		case ColBigint:
			if n, ok := asInt64(value); ok {
				row[i] = n
			}
		case ColJSONB:
			// pgx writes a plain Go string to jsonb verbatim, so every
			// value is marshaled to guarantee valid JSON on the wire.
			if encoded, err := json.Marshal(value); err == nil {
				row[i] = json.RawMessage(encoded)
			}
		}
	}
	return row
}
