package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"

	"github.com/subgate/subgate/pkg/billing"
	"github.com/subgate/subgate/pkg/config"
	"github.com/subgate/subgate/pkg/httputil"
	"github.com/subgate/subgate/pkg/observability"
	"github.com/subgate/subgate/pkg/webhooks"
)

// mockService overrides only the billing operations a test exercises; calling
// anything else panics through the embedded nil interface, which is exactly
// the failure we want from an unexpected provider call.
type mockService struct {
	billing.Service

	createCustomerFn     func(email, name string) (*stripe.Customer, error)
	createSubscriptionFn func(in billing.CreateSubscriptionInput) (*stripe.Subscription, error)
	updateSubscriptionFn func(in billing.UpdateSubscriptionInput) (*stripe.Subscription, error)
	cancelSubscriptionFn func(id string) (*stripe.Subscription, error)
	listSubscriptionsFn  func(customerID string) (*stripe.SubscriptionList, error)
	previewInvoiceFn     func(in billing.PreviewInvoiceInput) (*billing.InvoicePreview, error)
	listPricesFn         func(keys []string) ([]*stripe.Price, error)
	subscriptionInfoFn   func(id string) (*billing.SubscriptionInformation, error)
	createMeterEventFn   func(in billing.MeterEventInput) (*stripe.BillingMeterEvent, error)
}

func (m *mockService) CreateCustomer(_ context.Context, email, name string) (*stripe.Customer, error) {
	return m.createCustomerFn(email, name)
}

func (m *mockService) CreateSubscription(_ context.Context, in billing.CreateSubscriptionInput) (*stripe.Subscription, error) {
	return m.createSubscriptionFn(in)
}

func (m *mockService) UpdateSubscription(_ context.Context, in billing.UpdateSubscriptionInput) (*stripe.Subscription, error) {
	return m.updateSubscriptionFn(in)
}

func (m *mockService) CancelSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	return m.cancelSubscriptionFn(id)
}

func (m *mockService) ListSubscriptions(_ context.Context, customerID string) (*stripe.SubscriptionList, error) {
	return m.listSubscriptionsFn(customerID)
}

func (m *mockService) PreviewInvoice(_ context.Context, in billing.PreviewInvoiceInput) (*billing.InvoicePreview, error) {
	return m.previewInvoiceFn(in)
}

func (m *mockService) ListPrices(_ context.Context, keys []string) ([]*stripe.Price, error) {
	return m.listPricesFn(keys)
}

func (m *mockService) GetSubscriptionInformation(_ context.Context, id string) (*billing.SubscriptionInformation, error) {
	return m.subscriptionInfoFn(id)
}

func (m *mockService) CreateMeterEvent(_ context.Context, in billing.MeterEventInput) (*stripe.BillingMeterEvent, error) {
	return m.createMeterEventFn(in)
}

func newTestServer(t *testing.T, svc billing.Service, cfg *config.Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{Prices: config.NewPriceTable()}
	}
	if cfg.Prices == nil {
		cfg.Prices = config.NewPriceTable()
	}
	return NewServer(cfg, svc, nil, nil, nil)
}

func postJSON(srv http.Handler, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		r.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	return rec
}

func customerCookieFor(id string) *http.Cookie {
	return &http.Cookie{Name: customerCookie, Value: id}
}

func TestCreateCustomerSetsCookie(t *testing.T) {
	svc := &mockService{
		createCustomerFn: func(email, name string) (*stripe.Customer, error) {
			assert.Equal(t, "jenny@example.com", email)
			return &stripe.Customer{ID: "cus_123", Email: email}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := postJSON(srv, "/create-customer", `{"email":"jenny@example.com"}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == customerCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "customer cookie not set")
	assert.Equal(t, "cus_123", cookie.Value)
	assert.True(t, cookie.HttpOnly)

	var body struct {
		Customer struct {
			ID string `json:"id"`
		} `json:"customer"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "cus_123", body.Customer.ID)
}

func TestCreateSubscriptionUsesCookieCustomer(t *testing.T) {
	var got billing.CreateSubscriptionInput
	svc := &mockService{
		createSubscriptionFn: func(in billing.CreateSubscriptionInput) (*stripe.Subscription, error) {
			got = in
			return &stripe.Subscription{
				ID: "sub_1",
				LatestInvoice: &stripe.Invoice{
					PaymentIntent: &stripe.PaymentIntent{ClientSecret: "pi_secret_9"},
				},
			}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := postJSON(srv, "/create-subscription",
		`{"priceId":"price_basic9","quantity":3}`,
		customerCookieFor("cus_7"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cus_7", got.CustomerID)
	assert.Equal(t, "price_basic9", got.PriceID)
	assert.Equal(t, int64(3), got.Quantity)

	var body struct {
		SubscriptionID string `json:"subscriptionId"`
		ClientSecret   string `json:"clientSecret"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sub_1", body.SubscriptionID)
	assert.Equal(t, "pi_secret_9", body.ClientSecret)
}

func TestCreateSubscriptionResolvesLookupKey(t *testing.T) {
	prices := config.NewPriceTable()
	prices.Set("premium", "price_prem_1")

	var got billing.CreateSubscriptionInput
	svc := &mockService{
		createSubscriptionFn: func(in billing.CreateSubscriptionInput) (*stripe.Subscription, error) {
			got = in
			return &stripe.Subscription{ID: "sub_2"}, nil
		},
	}
	srv := newTestServer(t, svc, &config.Config{Prices: prices})

	rec := postJSON(srv, "/create-subscription",
		`{"priceLookupKey":"PREMIUM","customerId":"cus_9"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "price_prem_1", got.PriceID)
}

func TestCreateSubscriptionWithoutCustomerIs400(t *testing.T) {
	srv := newTestServer(t, &mockService{}, nil)

	rec := postJSON(srv, "/create-subscription", `{"priceId":"price_1"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error.Message, "customerId")
}

func TestProviderRejectionReturns400Envelope(t *testing.T) {
	svc := &mockService{
		createSubscriptionFn: func(billing.CreateSubscriptionInput) (*stripe.Subscription, error) {
			return nil, &billing.Error{
				Kind:    billing.KindProviderRejected,
				Op:      "create subscription",
				Message: "Your card was declined.",
			}
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := postJSON(srv, "/create-subscription",
		`{"priceId":"price_1","customerId":"cus_1"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Your card was declined.", resp.Error.Message)
}

func TestProviderOutageReturns502(t *testing.T) {
	svc := &mockService{
		cancelSubscriptionFn: func(string) (*stripe.Subscription, error) {
			return nil, &billing.Error{
				Kind:    billing.KindUnavailable,
				Op:      "cancel subscription",
				Message: "billing provider unavailable",
			}
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := postJSON(srv, "/cancel-subscription", `{"subscriptionId":"sub_1"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUpdateSubscriptionDelegates(t *testing.T) {
	var got billing.UpdateSubscriptionInput
	svc := &mockService{
		updateSubscriptionFn: func(in billing.UpdateSubscriptionInput) (*stripe.Subscription, error) {
			got = in
			return &stripe.Subscription{ID: in.SubscriptionID}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := postJSON(srv, "/update-subscription",
		`{"subscriptionId":"sub_5","newPriceId":"price_up","quantity":8}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, billing.UpdateSubscriptionInput{
		SubscriptionID: "sub_5",
		NewPriceID:     "price_up",
		Quantity:       8,
	}, got)

	var body struct {
		Subscription struct {
			ID string `json:"id"`
		} `json:"subscription"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "sub_5", body.Subscription.ID)
}

func TestListSubscriptionsRequiresCookie(t *testing.T) {
	srv := newTestServer(t, &mockService{}, nil)

	r := httptest.NewRequest("GET", "/subscriptions", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListSubscriptions(t *testing.T) {
	svc := &mockService{
		listSubscriptionsFn: func(customerID string) (*stripe.SubscriptionList, error) {
			assert.Equal(t, "cus_list", customerID)
			return &stripe.SubscriptionList{
				Data: []*stripe.Subscription{{ID: "sub_a"}, {ID: "sub_b"}},
			}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	r := httptest.NewRequest("GET", "/subscriptions", nil)
	r.AddCookie(customerCookieFor("cus_list"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Subscriptions struct {
			Data []struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"subscriptions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Subscriptions.Data, 2)
	assert.Equal(t, "sub_a", body.Subscriptions.Data[0].ID)
}

func TestInvoicePreviewQuery(t *testing.T) {
	var got billing.PreviewInvoiceInput
	svc := &mockService{
		previewInvoiceFn: func(in billing.PreviewInvoiceInput) (*billing.InvoicePreview, error) {
			got = in
			return &billing.InvoicePreview{
				Invoice: &stripe.Invoice{AmountDue: 1900},
			}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	r := httptest.NewRequest("GET",
		"/invoice-preview?subscriptionId=sub_3&newPriceId=price_next&quantity=4", nil)
	r.AddCookie(customerCookieFor("cus_3"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, billing.PreviewInvoiceInput{
		CustomerID:     "cus_3",
		SubscriptionID: "sub_3",
		NewPriceID:     "price_next",
		Quantity:       4,
	}, got)
}

func TestRetrieveUpcomingInvoiceSplit(t *testing.T) {
	svc := &mockService{
		previewInvoiceFn: func(in billing.PreviewInvoiceInput) (*billing.InvoicePreview, error) {
			return &billing.InvoicePreview{
				Invoice:        &stripe.Invoice{AmountDue: 1900},
				ImmediateTotal: 400,
				NextInvoiceSum: 1500,
			}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := postJSON(srv, "/retrieve-upcoming-invoice",
		`{"customerId":"cus_1","subscriptionId":"sub_1","newPriceId":"price_2"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		ImmediateTotal int64 `json:"immediate_total"`
		NextInvoiceSum int64 `json:"next_invoice_sum"`
		Invoice        struct {
			AmountDue int64 `json:"amount_due"`
		} `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(400), body.ImmediateTotal)
	assert.Equal(t, int64(1500), body.NextInvoiceSum)
	assert.Equal(t, int64(1900), body.Invoice.AmountDue)
}

func TestRetrieveUpcomingInvoiceWithoutSubscription(t *testing.T) {
	svc := &mockService{
		previewInvoiceFn: func(in billing.PreviewInvoiceInput) (*billing.InvoicePreview, error) {
			assert.Empty(t, in.SubscriptionID)
			return &billing.InvoicePreview{Invoice: &stripe.Invoice{AmountDue: 999}}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := postJSON(srv, "/retrieve-upcoming-invoice",
		`{"customerId":"cus_1","newPriceId":"price_2"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "immediate_total")
}

func TestRetrieveSubscriptionInformation(t *testing.T) {
	svc := &mockService{
		subscriptionInfoFn: func(id string) (*billing.SubscriptionInformation, error) {
			assert.Equal(t, "sub_info", id)
			return &billing.SubscriptionInformation{
				Card:        &stripe.PaymentMethodCard{Last4: "4242"},
				ProductName: "Pro Plan",
				Price:       &stripe.Price{ID: "price_pro"},
				Quantity:    12,
			}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := postJSON(srv, "/retrieve-subscription-information",
		`{"subscriptionId":"sub_info"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Card struct {
			Last4 string `json:"last4"`
		} `json:"card"`
		Description     string `json:"product_description"`
		CurrentPrice    string `json:"current_price"`
		CurrentQuantity int64  `json:"current_quantity"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "4242", body.Card.Last4)
	assert.Equal(t, "Pro Plan", body.Description)
	assert.Equal(t, "price_pro", body.CurrentPrice)
	assert.Equal(t, int64(12), body.CurrentQuantity)
}

func TestGetConfigListsPrices(t *testing.T) {
	prices := config.NewPriceTable()
	prices.Set("basic", "price_b")
	prices.Set("premium", "price_p")

	svc := &mockService{
		listPricesFn: func(keys []string) ([]*stripe.Price, error) {
			assert.Equal(t, []string{"basic", "premium"}, keys)
			return []*stripe.Price{
				{ID: "price_b", LookupKey: "basic"},
				{ID: "price_p", LookupKey: "premium"},
			}, nil
		},
	}
	srv := newTestServer(t, svc, &config.Config{
		Stripe: config.StripeConfig{PublishableKey: "pk_test_1"},
		Prices: prices,
	})

	r := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		PublishableKey string `json:"publishableKey"`
		Prices         []struct {
			ID string `json:"id"`
		} `json:"prices"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "pk_test_1", body.PublishableKey)
	assert.Len(t, body.Prices, 2)
}

func TestGetConfigWithoutPriceKeys(t *testing.T) {
	srv := newTestServer(t, &mockService{}, &config.Config{
		Stripe: config.StripeConfig{PublishableKey: "pk_test_1"},
	})

	r := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"prices":[]`)
}

func TestCreateMeterEventUsesCookieCustomer(t *testing.T) {
	var got billing.MeterEventInput
	svc := &mockService{
		createMeterEventFn: func(in billing.MeterEventInput) (*stripe.BillingMeterEvent, error) {
			got = in
			return &stripe.BillingMeterEvent{EventName: in.EventName}, nil
		},
	}
	srv := newTestServer(t, svc, nil)

	rec := postJSON(srv, "/create-meter-event",
		`{"eventName":"alpaca_ai_tokens","value":27}`,
		customerCookieFor("cus_meter"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alpaca_ai_tokens", got.EventName)
	assert.Equal(t, "cus_meter", got.CustomerID)
	assert.Equal(t, int64(27), got.Value)
}

func TestWebhookBadSignatureIsBare400(t *testing.T) {
	processor := webhooks.NewProcessor("whsec_test", time.Minute, nil, discardLogrus(), nil)
	srv := NewServer(&config.Config{Prices: config.NewPriceTable()}, &mockService{}, processor, nil, nil)

	r := httptest.NewRequest("POST", "/webhook", strings.NewReader(`{"id":"evt_1"}`))
	r.Header.Set("Stripe-Signature", "t=123,v1=deadbeef")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestWebhookValidSignatureAcked(t *testing.T) {
	const secret = "whsec_test"
	processor := webhooks.NewProcessor(secret, time.Minute, nil, discardLogrus(), nil)
	srv := NewServer(&config.Config{Prices: config.NewPriceTable()}, &mockService{}, processor, nil, nil)

	payload := `{"id":"evt_2","type":"invoice.paid","data":{"object":{"object":"invoice"}}}`
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	sig := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	r := httptest.NewRequest("POST", "/webhook", strings.NewReader(payload))
	r.Header.Set("Stripe-Signature", sig)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMalformedJSONIs400(t *testing.T) {
	srv := newTestServer(t, &mockService{}, nil)

	rec := postJSON(srv, "/create-subscription", `{"priceId":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ctxRecordingService captures the context a handler hands the billing layer
type ctxRecordingService struct {
	billing.Service
	ctx context.Context
}

func (s *ctxRecordingService) ListSubscriptions(ctx context.Context, customerID string) (*stripe.SubscriptionList, error) {
	s.ctx = ctx
	return &stripe.SubscriptionList{}, nil
}

func TestCookieCustomerTagsRequestContext(t *testing.T) {
	svc := &ctxRecordingService{}
	srv := newTestServer(t, svc, nil)

	r := httptest.NewRequest("GET", "/subscriptions", nil)
	r.AddCookie(customerCookieFor("cus_ctx1"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cus_ctx1", observability.GetCustomerID(svc.ctx))
}

func TestHandlerAnswersCORSPreflightWhenConfigured(t *testing.T) {
	cfg := &config.Config{Prices: config.NewPriceTable()}
	cfg.Server.CORSOrigins = []string{"https://checkout.example.com"}
	srv := newTestServer(t, &mockService{}, cfg)

	r := httptest.NewRequest("OPTIONS", "/subscriptions", nil)
	r.Header.Set("Origin", "https://checkout.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://checkout.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	r = httptest.NewRequest("OPTIONS", "/subscriptions", nil)
	r.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandlerLeavesCORSOffByDefault(t *testing.T) {
	srv := newTestServer(t, &mockService{listSubscriptionsFn: func(string) (*stripe.SubscriptionList, error) {
		return &stripe.SubscriptionList{}, nil
	}}, nil)

	r := httptest.NewRequest("GET", "/subscriptions", nil)
	r.Header.Set("Origin", "https://checkout.example.com")
	r.AddCookie(customerCookieFor("cus_cors"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func discardLogrus() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
