package billing

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
)

// CreateSubscription creates a subscription for a customer.
//
// When a payment method is supplied it is attached and promoted to the
// customer's invoice default first; both must succeed before the
// subscription exists, otherwise the first renewal would have nothing to
// charge. Without a payment method the subscription is created
// payment_behavior=default_incomplete and the caller confirms the first
// invoice's payment intent client-side.
//
// latest_invoice.payment_intent is always expanded so the response carries
// the client secret the frontend needs.
func (c *Client) CreateSubscription(ctx context.Context, in CreateSubscriptionInput) (*stripe.Subscription, error) {
	const op = "create subscription"
	if in.CustomerID == "" {
		return nil, badRequest(op, "customer id is required")
	}
	if in.PriceID == "" {
		return nil, badRequest(op, "price id is required")
	}

	if in.PaymentMethodID != "" {
		pm, err := c.AttachPaymentMethod(ctx, in.PaymentMethodID, in.CustomerID)
		if err != nil {
			return nil, err
		}
		if _, err := c.SetDefaultPaymentMethod(ctx, in.CustomerID, pm.ID); err != nil {
			return nil, err
		}
	}

	item := &stripe.SubscriptionItemsParams{
		Price: stripe.String(in.PriceID),
	}
	if in.Quantity > 0 {
		item.Quantity = stripe.Int64(in.Quantity)
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items:    []*stripe.SubscriptionItemsParams{item},
	}
	if in.PaymentMethodID == "" {
		params.PaymentBehavior = stripe.String("default_incomplete")
	}
	params.AddExpand("latest_invoice.payment_intent")
	params.Context = ctx

	s, err := c.api.Subscriptions.New(params)
	if err != nil {
		return nil, wrapErr(op, err)
	}

	c.logger.WithFields(logrus.Fields{
		"subscription_id": s.ID,
		"customer_id":     in.CustomerID,
		"price_id":        in.PriceID,
	}).Info("Created subscription")
	return s, nil
}

// UpdateSubscription moves a subscription to a new price or seat count.
//
// The subscription is fetched first to compare prices: if the target price
// matches the current one, only the item quantity changes; otherwise the
// current item is deleted and an item on the new price is added in the same
// update, so proration is computed in one pass.
func (c *Client) UpdateSubscription(ctx context.Context, in UpdateSubscriptionInput) (*stripe.Subscription, error) {
	const op = "update subscription"
	if in.SubscriptionID == "" {
		return nil, badRequest(op, "subscription id is required")
	}
	if in.NewPriceID == "" {
		return nil, badRequest(op, "new price id is required")
	}

	s, err := c.GetSubscription(ctx, in.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if len(s.Items.Data) == 0 {
		return nil, badRequest(op, "subscription has no items")
	}
	current := s.Items.Data[0]

	params := &stripe.SubscriptionParams{}
	if current.Price != nil && current.Price.ID == in.NewPriceID {
		item := &stripe.SubscriptionItemsParams{
			ID: stripe.String(current.ID),
		}
		if in.Quantity > 0 {
			item.Quantity = stripe.Int64(in.Quantity)
		}
		params.Items = []*stripe.SubscriptionItemsParams{item}
	} else {
		replacement := &stripe.SubscriptionItemsParams{
			Price: stripe.String(in.NewPriceID),
		}
		if in.Quantity > 0 {
			replacement.Quantity = stripe.Int64(in.Quantity)
		}
		params.Items = []*stripe.SubscriptionItemsParams{
			{
				ID:      stripe.String(current.ID),
				Deleted: stripe.Bool(true),
			},
			replacement,
		}
	}
	params.AddExpand("latest_invoice.payment_intent")
	params.Context = ctx

	updated, err := c.api.Subscriptions.Update(in.SubscriptionID, params)
	if err != nil {
		return nil, wrapErr(op, err)
	}

	c.logger.WithFields(logrus.Fields{
		"subscription_id": updated.ID,
		"price_id":        in.NewPriceID,
	}).Info("Updated subscription")
	return updated, nil
}

// CancelSubscription cancels a subscription immediately
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	const op = "cancel subscription"
	if subscriptionID == "" {
		return nil, badRequest(op, "subscription id is required")
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx

	s, err := c.api.Subscriptions.Cancel(subscriptionID, params)
	if err != nil {
		return nil, wrapErr(op, err)
	}

	c.logger.WithField("subscription_id", subscriptionID).Info("Canceled subscription")
	return s, nil
}

// ListSubscriptions returns all of a customer's subscriptions regardless of
// status, with each default payment method expanded
func (c *Client) ListSubscriptions(ctx context.Context, customerID string) (*stripe.SubscriptionList, error) {
	const op = "list subscriptions"
	if customerID == "" {
		return nil, badRequest(op, "customer id is required")
	}

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.AddExpand("data.default_payment_method")
	params.Context = ctx

	iter := c.api.Subscriptions.List(params)
	list := iter.SubscriptionList()
	if err := iter.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return list, nil
}

// GetSubscription fetches a subscription with optional expansions
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string, expand ...string) (*stripe.Subscription, error) {
	const op = "get subscription"
	if subscriptionID == "" {
		return nil, badRequest(op, "subscription id is required")
	}

	params := &stripe.SubscriptionParams{}
	for _, e := range expand {
		params.AddExpand(e)
	}
	params.Context = ctx

	s, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return s, nil
}

// SetSubscriptionDefaultPaymentMethod pins a payment method as the
// subscription's own default, overriding the customer default
func (c *Client) SetSubscriptionDefaultPaymentMethod(ctx context.Context, subscriptionID, paymentMethodID string) (*stripe.Subscription, error) {
	const op = "set subscription default payment method"

	params := &stripe.SubscriptionParams{
		DefaultPaymentMethod: stripe.String(paymentMethodID),
	}
	params.Context = ctx

	s, err := c.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return s, nil
}

// GetSubscriptionInformation assembles the account-page view of a
// subscription: card on file, product being bought, current price and seat
// count, and the latest plus upcoming invoices.
func (c *Client) GetSubscriptionInformation(ctx context.Context, subscriptionID string) (*SubscriptionInformation, error) {
	s, err := c.GetSubscription(ctx, subscriptionID,
		"latest_invoice",
		"customer.invoice_settings.default_payment_method",
		"items.data.price.product",
	)
	if err != nil {
		return nil, err
	}

	upcoming, err := c.upcomingInvoice(ctx, &stripe.InvoiceUpcomingParams{
		Subscription: stripe.String(subscriptionID),
	})
	if err != nil {
		return nil, err
	}

	info := &SubscriptionInformation{
		LatestInvoice:   s.LatestInvoice,
		UpcomingInvoice: upcoming,
	}
	if s.Customer != nil && s.Customer.InvoiceSettings != nil && s.Customer.InvoiceSettings.DefaultPaymentMethod != nil {
		info.Card = s.Customer.InvoiceSettings.DefaultPaymentMethod.Card
	}
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		info.Price = item.Price
		info.Quantity = item.Quantity
		if item.Price != nil && item.Price.Product != nil {
			info.ProductName = item.Price.Product.Name
		}
	}
	return info, nil
}
