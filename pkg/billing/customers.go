package billing

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
)

// CreateCustomer creates a provider customer record
func (c *Client) CreateCustomer(ctx context.Context, email, name string) (*stripe.Customer, error) {
	const op = "create customer"
	if email == "" {
		return nil, badRequest(op, "email is required")
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.Context = ctx

	cust, err := c.api.Customers.New(params)
	if err != nil {
		return nil, wrapErr(op, err)
	}

	c.logger.WithFields(logrus.Fields{
		"customer_id": cust.ID,
		"email":       email,
	}).Info("Created customer")
	return cust, nil
}

// AttachPaymentMethod attaches a payment method to a customer. Attachment
// must happen before the method can be a customer or subscription default.
func (c *Client) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*stripe.PaymentMethod, error) {
	const op = "attach payment method"
	if paymentMethodID == "" || customerID == "" {
		return nil, badRequest(op, "payment method id and customer id are required")
	}

	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	pm, err := c.api.PaymentMethods.Attach(paymentMethodID, params)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return pm, nil
}

// SetDefaultPaymentMethod makes an already-attached payment method the
// customer's invoice default
func (c *Client) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) (*stripe.Customer, error) {
	const op = "set default payment method"

	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	cust, err := c.api.Customers.Update(customerID, params)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return cust, nil
}
