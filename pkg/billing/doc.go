// Package billing wraps the Stripe SDK behind a narrow service interface.
//
// # Overview
//
// Every provider operation the handlers need is one method on Client, which
// owns an explicitly constructed stripe client.API. The API key lives on the
// client, never on the SDK's process-wide global, so two clients with two
// keys can coexist in one process (and in tests).
//
// # Usage Example
//
// Create a subscription with a payment method:
//
//	client := billing.NewClient(billing.Config{SecretKey: key}, logger)
//	sub, err := client.CreateSubscription(ctx, billing.CreateSubscriptionInput{
//		CustomerID:      "cus_123",
//		PriceID:         "price_123",
//		PaymentMethodID: "pm_123",
//	})
//
// Errors coming back from the provider are wrapped into *billing.Error with a
// kind the HTTP layer maps onto status codes; see errors.go.
//
// # Related Packages
//
//   - pkg/webhooks: inbound event verification and dispatch
//   - pkg/usage: metered usage reporting built on this client
package billing
