package billing

import (
	"context"

	"github.com/stripe/stripe-go/v81"
)

// Service is the provider surface the HTTP handlers and the usage reporter
// depend on. Client is the real implementation; tests substitute a mock.
type Service interface {
	// Customers and payment methods
	CreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*stripe.PaymentMethod, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*stripe.Customer, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, in UpdateSubscriptionInput) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID string) (*stripe.SubscriptionList, error)
	GetSubscription(ctx context.Context, subscriptionID string, expand ...string) (*stripe.Subscription, error)
	SetSubscriptionDefaultPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID string) (*stripe.Subscription, error)
	GetSubscriptionInformation(ctx context.Context, subscriptionID string) (*SubscriptionInformation, error)

	// Invoices
	PreviewInvoice(ctx context.Context, in PreviewInvoiceInput) (*InvoicePreview, error)
	RetryInvoice(ctx context.Context, in RetryInvoiceInput) (*stripe.Invoice, error)

	// Prices
	ListPrices(ctx context.Context, lookupKeys []string) ([]*stripe.Price, error)
	CreateMeteredPrice(ctx context.Context, in CreateMeteredPriceInput) (*stripe.Price, error)

	// Metering and usage
	CreateMeter(ctx context.Context, in CreateMeterInput) (*stripe.BillingMeter, error)
	CreateMeterEvent(ctx context.Context, in MeterEventInput) (*stripe.BillingMeterEvent, error)
	ReportUsageRecord(ctx context.Context, in UsageRecordInput) (*stripe.UsageRecord, error)

	// Payment intents (webhook handlers resolve the paying method through these)
	GetPaymentIntent(ctx context.Context, paymentIntentID string) (*stripe.PaymentIntent, error)
}

// CreateSubscriptionInput describes a new subscription. PaymentMethodID is
// optional; when present it is attached and made the customer default before
// the subscription is created. Quantity zero means "not a quantity price".
type CreateSubscriptionInput struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	Quantity        int64
}

// UpdateSubscriptionInput describes a price or seat-count change on an
// existing subscription
type UpdateSubscriptionInput struct {
	SubscriptionID string
	NewPriceID     string
	Quantity       int64
}

// PreviewInvoiceInput describes an upcoming-invoice query. SubscriptionID
// empty means "customer has no subscription yet": the preview prices the new
// items from scratch. Non-empty means "hypothetical change to this
// subscription".
type PreviewInvoiceInput struct {
	CustomerID     string
	SubscriptionID string
	NewPriceID     string
	Quantity       int64
}

// InvoicePreview is an upcoming invoice plus, for subscription changes, the
// amount split at the current period boundary: what would be charged now
// versus what rolls into the next regular invoice.
type InvoicePreview struct {
	Invoice        *stripe.Invoice
	ImmediateTotal int64
	NextInvoiceSum int64
}

// RetryInvoiceInput describes a payment retry with a fresh payment method
type RetryInvoiceInput struct {
	CustomerID      string
	PaymentMethodID string
	InvoiceID       string
}

// SubscriptionInformation is the composite the account page renders: the
// card on file, what is being bought, and the latest and upcoming invoices
type SubscriptionInformation struct {
	Card            *stripe.PaymentMethodCard
	ProductName     string
	Price           *stripe.Price
	Quantity        int64
	LatestInvoice   *stripe.Invoice
	UpcomingInvoice *stripe.Invoice
}

// CreateMeterInput describes a new billing meter
type CreateMeterInput struct {
	DisplayName        string
	EventName          string
	AggregationFormula string
}

// CreateMeteredPriceInput describes a recurring price billed from a meter
type CreateMeteredPriceInput struct {
	ProductName string
	Currency    string
	UnitAmount  int64
	MeterID     string
}

// MeterEventInput is one usage observation. Identifier, when set, is the
// provider-side deduplication key: two events with the same identifier count
// once.
type MeterEventInput struct {
	EventName  string
	CustomerID string
	Value      int64
	Identifier string
}

// UsageRecordInput is one legacy usage record against a subscription item.
// IdempotencyKey makes retries of the same logical report count once.
type UsageRecordInput struct {
	SubscriptionItemID string
	Quantity           int64
	Timestamp          int64
	Action             string
	IdempotencyKey     string
}
