package billing

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/subgate/subgate/pkg/observability"
)

// Config holds everything needed to construct a Client. The key is scoped to
// the client instance; the SDK's package-level key is never set.
type Config struct {
	// SecretKey authenticates every API call
	SecretKey string

	// BaseURL overrides the provider endpoint, used by tests to point the
	// client at a local stub. Empty means the real endpoint.
	BaseURL string

	// HTTPClient overrides the SDK's default transport when non-nil
	HTTPClient *http.Client

	// MaxNetworkRetries bounds the SDK's idempotent retry behavior
	MaxNetworkRetries int64

	// Metrics, when non-nil, observes every provider API call by operation
	// and outcome
	Metrics *observability.Metrics
}

// Client implements Service against the Stripe API
type Client struct {
	api    *client.API
	key    string
	logger *logrus.Logger
}

// NewClient constructs a billing client from explicit configuration
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}

	httpClient := cfg.HTTPClient
	if cfg.Metrics != nil {
		base := http.RoundTripper(http.DefaultTransport)
		timeout := time.Duration(0)
		if httpClient != nil {
			timeout = httpClient.Timeout
			if httpClient.Transport != nil {
				base = httpClient.Transport
			}
		}
		httpClient = &http.Client{
			Transport: &metricsTransport{base: base, metrics: cfg.Metrics},
			Timeout:   timeout,
		}
	}

	var backends *stripe.Backends
	if cfg.BaseURL != "" || httpClient != nil || cfg.MaxNetworkRetries > 0 {
		bc := &stripe.BackendConfig{
			HTTPClient:    httpClient,
			LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelError},
		}
		if cfg.BaseURL != "" {
			bc.URL = stripe.String(cfg.BaseURL)
		}
		if cfg.MaxNetworkRetries > 0 {
			bc.MaxNetworkRetries = stripe.Int64(cfg.MaxNetworkRetries)
		}
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &Client{
		api:    api,
		key:    cfg.SecretKey,
		logger: logger,
	}
}

// metricsTransport observes provider calls at the HTTP layer, where the SDK's
// retries are already collapsed into one logical call per round trip.
type metricsTransport struct {
	base    http.RoundTripper
	metrics *observability.Metrics
}

func (t *metricsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)

	callErr := err
	if callErr == nil && resp.StatusCode >= 400 {
		callErr = fmt.Errorf("provider returned %s", resp.Status)
	}
	t.metrics.ObserveProviderCall(operationLabel(req), callErr, time.Since(start))
	return resp, err
}

// operationLabel reduces a request to a bounded-cardinality metric label:
// the method plus the API version and resource segments, ids dropped
func operationLabel(req *http.Request) string {
	segments := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 3)
	if len(segments) > 2 {
		segments = segments[:2]
	}
	return req.Method + " /" + strings.Join(segments, "/")
}
