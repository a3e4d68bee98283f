package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/subgate/subgate/pkg/billing"
	"github.com/subgate/subgate/pkg/config"
	"github.com/subgate/subgate/pkg/httputil"
	"github.com/subgate/subgate/pkg/observability"
	"github.com/subgate/subgate/pkg/webhooks"
)

// customerCookie names the cookie simulating an authenticated session
const customerCookie = "customer"

// Server represents the billing API server
type Server struct {
	svc       billing.Service
	resolver  *billing.Resolver
	processor *webhooks.Processor
	cfg       *config.Config
	router    *mux.Router
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewServer creates a new API server. processor and metrics may be nil in
// tests; the webhook route is only mounted when a processor is present.
func NewServer(cfg *config.Config, svc billing.Service, processor *webhooks.Processor, logger *observability.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	var table billing.LookupTable
	if cfg.Prices != nil {
		table = cfg.Prices
	}

	s := &Server{
		svc:       svc,
		resolver:  billing.NewResolver(svc, table, metrics),
		processor: processor,
		cfg:       cfg,
		router:    mux.NewRouter(),
		logger:    logger,
		metrics:   metrics,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/config", s.getConfig).Methods("GET")
	s.router.HandleFunc("/create-customer", s.createCustomer).Methods("POST")

	// Subscription lifecycle
	s.router.HandleFunc("/create-subscription", s.createSubscription).Methods("POST")
	s.router.HandleFunc("/update-subscription", s.updateSubscription).Methods("POST")
	s.router.HandleFunc("/cancel-subscription", s.cancelSubscription).Methods("POST")
	s.router.HandleFunc("/subscriptions", s.listSubscriptions).Methods("GET")

	// Invoices
	s.router.HandleFunc("/invoice-preview", s.invoicePreview).Methods("GET")
	s.router.HandleFunc("/retrieve-upcoming-invoice", s.retrieveUpcomingInvoice).Methods("POST")
	s.router.HandleFunc("/retrieve-subscription-information", s.retrieveSubscriptionInformation).Methods("POST")
	s.router.HandleFunc("/retry-invoice", s.retryInvoice).Methods("POST")

	// Metered billing
	s.router.HandleFunc("/create-meter", s.createMeter).Methods("POST")
	s.router.HandleFunc("/create-price", s.createPrice).Methods("POST")
	s.router.HandleFunc("/create-meter-event", s.createMeterEvent).Methods("POST")

	if s.processor != nil {
		s.router.HandleFunc("/webhook", s.handleWebhook).Methods("POST")
	}

	// The sample frontend, when one is configured
	if s.cfg.Server.StaticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.Server.StaticDir)))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler wraps the router with the standard middleware stack and, when
// tracing is enabled, otelhttp instrumentation.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.MaxBytesMiddleware(1 << 20),
	}
	if len(s.cfg.Server.CORSOrigins) > 0 {
		middlewares = append(middlewares, httputil.CORSMiddleware(s.cfg.Server.CORSOrigins))
	}
	if s.metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(s.metrics))
	}

	var handler http.Handler = httputil.Chain(middlewares...)(s.router)
	if s.cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "subgate")
	}
	return handler
}
