package webhooks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"

	"github.com/subgate/subgate/pkg/billing"
)

// RegisterDefaultHandlers wires the event handlers every deployment wants:
// lifecycle logging for subscriptions and invoices, plus pinning the paying
// payment method as the subscription default after the first successful
// invoice.
func RegisterDefaultHandlers(p *Processor, svc billing.Service, logger *logrus.Logger) {
	p.Handle("invoice.payment_succeeded", PaymentSucceededHandler(svc, logger))
	p.Handle("invoice.payment_failed", invoiceLogHandler(logger, "Invoice payment failed"))
	p.Handle("invoice.paid", invoiceLogHandler(logger, "Invoice paid"))
	p.Handle("invoice.finalized", invoiceLogHandler(logger, "Invoice finalized"))
	p.Handle("customer.subscription.created", subscriptionLogHandler(logger, "Subscription created"))
	p.Handle("customer.subscription.updated", subscriptionLogHandler(logger, "Subscription updated"))
	p.Handle("customer.subscription.deleted", subscriptionLogHandler(logger, "Subscription deleted"))
	p.Handle("customer.subscription.trial_will_end", subscriptionLogHandler(logger, "Subscription trial ending"))
}

// PaymentSucceededHandler makes the payment method that settled a
// subscription's first invoice the subscription default. Without this, a
// subscription created payment_behavior=default_incomplete has no default
// and every renewal would fail.
func PaymentSucceededHandler(svc billing.Service, logger *logrus.Logger) Handler {
	return func(ctx context.Context, event stripe.Event) error {
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("%w: invoice: %v", ErrDecode, err)
		}

		// Only the invoice that created the subscription carries a payment
		// confirmed client-side; later invoices charge the stored default.
		if inv.BillingReason != stripe.InvoiceBillingReasonSubscriptionCreate {
			return nil
		}
		if inv.PaymentIntent == nil || inv.Subscription == nil {
			return nil
		}

		pi, err := svc.GetPaymentIntent(ctx, inv.PaymentIntent.ID)
		if err != nil {
			return fmt.Errorf("resolving payment intent: %w", err)
		}
		if pi.PaymentMethod == nil {
			return nil
		}

		if _, err := svc.SetSubscriptionDefaultPaymentMethod(ctx, inv.Subscription.ID, pi.PaymentMethod.ID); err != nil {
			return fmt.Errorf("pinning default payment method: %w", err)
		}

		logger.WithFields(logrus.Fields{
			"subscription_id":   inv.Subscription.ID,
			"payment_method_id": pi.PaymentMethod.ID,
		}).Info("Pinned subscription default payment method")
		return nil
	}
}

func invoiceLogHandler(logger *logrus.Logger, message string) Handler {
	return func(ctx context.Context, event stripe.Event) error {
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("%w: invoice: %v", ErrDecode, err)
		}
		logger.WithFields(logrus.Fields{
			"invoice_id": inv.ID,
			"customer":   customerID(inv.Customer),
			"amount_due": inv.AmountDue,
		}).Info(message)
		return nil
	}
}

func subscriptionLogHandler(logger *logrus.Logger, message string) Handler {
	return func(ctx context.Context, event stripe.Event) error {
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("%w: subscription: %v", ErrDecode, err)
		}
		logger.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"customer":        customerID(sub.Customer),
			"status":          sub.Status,
		}).Info(message)
		return nil
	}
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}
