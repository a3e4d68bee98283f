package api

import (
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v81"

	"github.com/subgate/subgate/pkg/billing"
	"github.com/subgate/subgate/pkg/httputil"
	"github.com/subgate/subgate/pkg/observability"
)

// writeBillingError maps service errors onto the response contract: caller
// mistakes and provider rejections are 400s with the provider's message,
// provider unavailability is a 502.
func (s *Server) writeBillingError(w http.ResponseWriter, r *http.Request, err error) {
	observability.FromContext(r.Context()).WithError(err).Warn("Billing operation failed")

	if be, ok := billing.AsError(err); ok {
		if be.Kind == billing.KindUnavailable {
			httputil.WriteBadGateway(w, be.Message)
			return
		}
		httputil.WriteBadRequest(w, be.Message)
		return
	}
	httputil.WriteInternalError(w, err)
}

// withCustomer resolves the acting customer and tags the request context so
// downstream log lines carry the customer id. An explicit id in the request
// wins, otherwise the session cookie is consulted.
func withCustomer(r *http.Request, explicit string) (*http.Request, string) {
	id := explicit
	if id == "" {
		if cookie, err := r.Cookie(customerCookie); err == nil {
			id = cookie.Value
		}
	}
	if id == "" {
		return r, ""
	}
	return r.WithContext(observability.WithCustomerID(r.Context(), id)), id
}

// resolvePrice turns either a raw price id or a configured lookup key into a
// provider price id, writing the error response itself on failure
func (s *Server) resolvePrice(w http.ResponseWriter, r *http.Request, lookupKey, priceID string) (string, bool) {
	ref := lookupKey
	if ref == "" {
		ref = priceID
	}
	id, err := s.resolver.Resolve(r.Context(), ref)
	if err != nil {
		s.writeBillingError(w, r, err)
		return "", false
	}
	return id, true
}

// getConfig returns the publishable key and the prices behind the
// configured lookup keys, everything a frontend needs to render a paywall
func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		PublishableKey string          `json:"publishableKey"`
		Prices         []*stripe.Price `json:"prices"`
	}{
		PublishableKey: s.cfg.Stripe.PublishableKey,
		Prices:         []*stripe.Price{},
	}

	if keys := s.cfg.Prices.LookupKeys(); len(keys) > 0 {
		prices, err := s.svc.ListPrices(r.Context(), keys)
		if err != nil {
			s.writeBillingError(w, r, err)
			return
		}
		resp.Prices = prices
	}

	httputil.WriteSuccess(w, resp)
}

func (s *Server) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	cust, err := s.svc.CreateCustomer(r.Context(), req.Email, req.Name)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	// The customer id would live in the deployment's own user store; the
	// cookie simulates that session linkage for the sample frontends
	http.SetCookie(w, &http.Cookie{
		Name:     customerCookie,
		Value:    cust.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	httputil.WriteSuccess(w, struct {
		Customer *stripe.Customer `json:"customer"`
	}{Customer: cust})
}

func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PriceID         string `json:"priceId"`
		PriceLookupKey  string `json:"priceLookupKey"`
		CustomerID      string `json:"customerId"`
		PaymentMethodID string `json:"paymentMethodId"`
		Quantity        int64  `json:"quantity"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	r, custID := withCustomer(r, req.CustomerID)
	if !httputil.RequireNonEmpty(w, custID, "customerId") {
		return
	}
	priceID, ok := s.resolvePrice(w, r, req.PriceLookupKey, req.PriceID)
	if !ok {
		return
	}

	sub, err := s.svc.CreateSubscription(r.Context(), billing.CreateSubscriptionInput{
		CustomerID:      custID,
		PriceID:         priceID,
		PaymentMethodID: req.PaymentMethodID,
		Quantity:        req.Quantity,
	})
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	var clientSecret string
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		clientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}

	httputil.WriteSuccess(w, struct {
		SubscriptionID string               `json:"subscriptionId"`
		ClientSecret   string               `json:"clientSecret"`
		Subscription   *stripe.Subscription `json:"subscription"`
	}{
		SubscriptionID: sub.ID,
		ClientSecret:   clientSecret,
		Subscription:   sub,
	})
}

func (s *Server) updateSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID    string `json:"subscriptionId"`
		NewPriceLookupKey string `json:"newPriceLookupKey"`
		NewPriceID        string `json:"newPriceId"`
		Quantity          int64  `json:"quantity"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !httputil.RequireNonEmpty(w, req.SubscriptionID, "subscriptionId") {
		return
	}
	priceID, ok := s.resolvePrice(w, r, req.NewPriceLookupKey, req.NewPriceID)
	if !ok {
		return
	}

	sub, err := s.svc.UpdateSubscription(r.Context(), billing.UpdateSubscriptionInput{
		SubscriptionID: req.SubscriptionID,
		NewPriceID:     priceID,
		Quantity:       req.Quantity,
	})
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, struct {
		Subscription *stripe.Subscription `json:"subscription"`
	}{Subscription: sub})
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.SubscriptionID, "subscriptionId") {
		return
	}

	sub, err := s.svc.CancelSubscription(r.Context(), req.SubscriptionID)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, struct {
		Subscription *stripe.Subscription `json:"subscription"`
	}{Subscription: sub})
}

func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	r, custID := withCustomer(r, "")
	if !httputil.RequireNonEmpty(w, custID, "customer") {
		return
	}

	subs, err := s.svc.ListSubscriptions(r.Context(), custID)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, struct {
		Subscriptions *stripe.SubscriptionList `json:"subscriptions"`
	}{Subscriptions: subs})
}

func (s *Server) invoicePreview(w http.ResponseWriter, r *http.Request) {
	r, custID := withCustomer(r, "")
	if !httputil.RequireNonEmpty(w, custID, "customer") {
		return
	}

	subscriptionID := httputil.ParseQueryString(r, "subscriptionId", "")
	if !httputil.RequireNonEmpty(w, subscriptionID, "subscriptionId") {
		return
	}
	quantity, err := httputil.ParseQueryInt64(r, "quantity", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	priceID, ok := s.resolvePrice(w, r,
		httputil.ParseQueryString(r, "newPriceLookupKey", ""),
		httputil.ParseQueryString(r, "newPriceId", ""))
	if !ok {
		return
	}

	preview, err := s.svc.PreviewInvoice(r.Context(), billing.PreviewInvoiceInput{
		CustomerID:     custID,
		SubscriptionID: subscriptionID,
		NewPriceID:     priceID,
		Quantity:       quantity,
	})
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, struct {
		Invoice *stripe.Invoice `json:"invoice"`
	}{Invoice: preview.Invoice})
}

func (s *Server) retrieveUpcomingInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID        string `json:"customerId"`
		SubscriptionID    string `json:"subscriptionId"`
		NewPriceLookupKey string `json:"newPriceLookupKey"`
		NewPriceID        string `json:"newPriceId"`
		Quantity          int64  `json:"quantity"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	r, custID := withCustomer(r, req.CustomerID)
	if !httputil.RequireNonEmpty(w, custID, "customerId") {
		return
	}
	priceID, ok := s.resolvePrice(w, r, req.NewPriceLookupKey, req.NewPriceID)
	if !ok {
		return
	}

	preview, err := s.svc.PreviewInvoice(r.Context(), billing.PreviewInvoiceInput{
		CustomerID:     custID,
		SubscriptionID: req.SubscriptionID,
		NewPriceID:     priceID,
		Quantity:       req.Quantity,
	})
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	// Without an existing subscription there is nothing to split; the whole
	// preview is the first invoice
	if req.SubscriptionID == "" {
		httputil.WriteSuccess(w, struct {
			Invoice *stripe.Invoice `json:"invoice"`
		}{Invoice: preview.Invoice})
		return
	}

	httputil.WriteSuccess(w, struct {
		ImmediateTotal int64           `json:"immediate_total"`
		NextInvoiceSum int64           `json:"next_invoice_sum"`
		Invoice        *stripe.Invoice `json:"invoice"`
	}{
		ImmediateTotal: preview.ImmediateTotal,
		NextInvoiceSum: preview.NextInvoiceSum,
		Invoice:        preview.Invoice,
	})
}

func (s *Server) retrieveSubscriptionInformation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriptionID string `json:"subscriptionId"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.SubscriptionID, "subscriptionId") {
		return
	}

	info, err := s.svc.GetSubscriptionInformation(r.Context(), req.SubscriptionID)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	var currentPrice string
	if info.Price != nil {
		currentPrice = info.Price.ID
	}

	httputil.WriteSuccess(w, struct {
		Card            *stripe.PaymentMethodCard `json:"card"`
		Description     string                    `json:"product_description"`
		CurrentPrice    string                    `json:"current_price"`
		CurrentQuantity int64                     `json:"current_quantity"`
		LatestInvoice   *stripe.Invoice           `json:"latest_invoice"`
		UpcomingInvoice *stripe.Invoice           `json:"upcoming_invoice"`
	}{
		Card:            info.Card,
		Description:     info.ProductName,
		CurrentPrice:    currentPrice,
		CurrentQuantity: info.Quantity,
		LatestInvoice:   info.LatestInvoice,
		UpcomingInvoice: info.UpcomingInvoice,
	})
}

func (s *Server) retryInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID      string `json:"customerId"`
		PaymentMethodID string `json:"paymentMethodId"`
		InvoiceID       string `json:"invoiceId"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	r, custID := withCustomer(r, req.CustomerID)
	inv, err := s.svc.RetryInvoice(r.Context(), billing.RetryInvoiceInput{
		CustomerID:      custID,
		PaymentMethodID: req.PaymentMethodID,
		InvoiceID:       req.InvoiceID,
	})
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, struct {
		Invoice *stripe.Invoice `json:"invoice"`
	}{Invoice: inv})
}

func (s *Server) createMeter(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName        string `json:"displayName"`
		EventName          string `json:"eventName"`
		AggregationFormula string `json:"aggregationFormula"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	meter, err := s.svc.CreateMeter(r.Context(), billing.CreateMeterInput{
		DisplayName:        req.DisplayName,
		EventName:          req.EventName,
		AggregationFormula: req.AggregationFormula,
	})
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, struct {
		Meter *stripe.BillingMeter `json:"meter"`
	}{Meter: meter})
}

func (s *Server) createPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductName string `json:"productName"`
		Currency    string `json:"currency"`
		Amount      int64  `json:"amount"`
		MeterID     string `json:"meterId"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	price, err := s.svc.CreateMeteredPrice(r.Context(), billing.CreateMeteredPriceInput{
		ProductName: req.ProductName,
		Currency:    req.Currency,
		UnitAmount:  req.Amount,
		MeterID:     req.MeterID,
	})
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, struct {
		Price *stripe.Price `json:"price"`
	}{Price: price})
}

func (s *Server) createMeterEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventName  string `json:"eventName"`
		CustomerID string `json:"customerId"`
		Value      int64  `json:"value"`
		Identifier string `json:"identifier"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	r, custID := withCustomer(r, req.CustomerID)
	event, err := s.svc.CreateMeterEvent(r.Context(), billing.MeterEventInput{
		EventName:  req.EventName,
		CustomerID: custID,
		Value:      req.Value,
		Identifier: req.Identifier,
	})
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, struct {
		MeterEvent *stripe.BillingMeterEvent `json:"meterEvent"`
	}{MeterEvent: event})
}

// handleWebhook verifies and dispatches a provider delivery. A bad signature
// is a bare 400; anything verified is a 200 so the provider stops retrying.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := s.processor.Process(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}
