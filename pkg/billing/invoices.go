package billing

import (
	"context"

	"github.com/stripe/stripe-go/v81"
)

// PreviewInvoice returns the upcoming invoice for a hypothetical price or
// quantity change.
//
// With no subscription id the preview prices the new items from scratch (the
// customer has nothing yet). With one, the current item is swapped the same
// way UpdateSubscription would swap it, and the line items are split at the
// current period boundary into an immediate total (charged on confirmation)
// and the sum rolling into the next regular invoice.
func (c *Client) PreviewInvoice(ctx context.Context, in PreviewInvoiceInput) (*InvoicePreview, error) {
	const op = "preview invoice"
	if in.CustomerID == "" {
		return nil, badRequest(op, "customer id is required")
	}
	if in.NewPriceID == "" {
		return nil, badRequest(op, "new price id is required")
	}

	params := &stripe.InvoiceUpcomingParams{
		Customer: stripe.String(in.CustomerID),
	}

	var current *stripe.Subscription
	if in.SubscriptionID != "" {
		s, err := c.GetSubscription(ctx, in.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if len(s.Items.Data) == 0 {
			return nil, badRequest(op, "subscription has no items")
		}
		current = s

		item := s.Items.Data[0]
		if item.Price != nil && item.Price.ID == in.NewPriceID {
			swap := &stripe.SubscriptionItemsParams{
				ID: stripe.String(item.ID),
			}
			if in.Quantity > 0 {
				swap.Quantity = stripe.Int64(in.Quantity)
			}
			params.SubscriptionItems = []*stripe.SubscriptionItemsParams{swap}
		} else {
			replacement := &stripe.SubscriptionItemsParams{
				Price: stripe.String(in.NewPriceID),
			}
			if in.Quantity > 0 {
				replacement.Quantity = stripe.Int64(in.Quantity)
			}
			params.SubscriptionItems = []*stripe.SubscriptionItemsParams{
				{
					ID:      stripe.String(item.ID),
					Deleted: stripe.Bool(true),
				},
				replacement,
			}
		}
		params.Subscription = stripe.String(in.SubscriptionID)
	} else {
		item := &stripe.SubscriptionItemsParams{
			Price: stripe.String(in.NewPriceID),
		}
		if in.Quantity > 0 {
			item.Quantity = stripe.Int64(in.Quantity)
		}
		params.SubscriptionItems = []*stripe.SubscriptionItemsParams{item}
	}
	params.Context = ctx

	inv, err := c.api.Invoices.Upcoming(params)
	if err != nil {
		return nil, wrapErr(op, err)
	}

	preview := &InvoicePreview{Invoice: inv}
	if current != nil && inv.Lines != nil {
		for _, line := range inv.Lines.Data {
			if line.Period != nil && line.Period.End == current.CurrentPeriodEnd {
				preview.ImmediateTotal += line.Amount
			} else {
				preview.NextInvoiceSum += line.Amount
			}
		}
	}
	return preview, nil
}

// RetryInvoice attaches a fresh payment method, makes it the customer
// default, and returns the open invoice with its payment intent expanded so
// the frontend can confirm payment again
func (c *Client) RetryInvoice(ctx context.Context, in RetryInvoiceInput) (*stripe.Invoice, error) {
	const op = "retry invoice"
	if in.CustomerID == "" || in.PaymentMethodID == "" || in.InvoiceID == "" {
		return nil, badRequest(op, "customer id, payment method id and invoice id are required")
	}

	pm, err := c.AttachPaymentMethod(ctx, in.PaymentMethodID, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if _, err := c.SetDefaultPaymentMethod(ctx, in.CustomerID, pm.ID); err != nil {
		return nil, err
	}

	params := &stripe.InvoiceParams{}
	params.AddExpand("payment_intent")
	params.Context = ctx

	inv, err := c.api.Invoices.Get(in.InvoiceID, params)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return inv, nil
}

// GetPaymentIntent fetches a payment intent by id
func (c *Client) GetPaymentIntent(ctx context.Context, paymentIntentID string) (*stripe.PaymentIntent, error) {
	const op = "get payment intent"
	if paymentIntentID == "" {
		return nil, badRequest(op, "payment intent id is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.api.PaymentIntents.Get(paymentIntentID, params)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return pi, nil
}

// upcomingInvoice is the raw upcoming-invoice call shared by the preview and
// subscription-information paths
func (c *Client) upcomingInvoice(ctx context.Context, params *stripe.InvoiceUpcomingParams) (*stripe.Invoice, error) {
	params.Context = ctx
	inv, err := c.api.Invoices.Upcoming(params)
	if err != nil {
		return nil, wrapErr("upcoming invoice", err)
	}
	return inv, nil
}
