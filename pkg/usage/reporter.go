package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"

	"github.com/subgate/subgate/pkg/billing"
	"github.com/subgate/subgate/pkg/observability"
)

// Reporter sends usage to the billing provider. logger and metrics may be
// nil; a nil logger is replaced with a default one.
type Reporter struct {
	svc     billing.Service
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// NewReporter creates a usage reporter
func NewReporter(svc billing.Service, logger *logrus.Logger, metrics *observability.Metrics) *Reporter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reporter{
		svc:     svc,
		logger:  logger,
		metrics: metrics,
	}
}

// ReportUsage records quantity against a subscription item as of ts. The
// token is forwarded as the provider idempotency key: retrying with the same
// token never double-counts.
func (r *Reporter) ReportUsage(ctx context.Context, subscriptionItemID string, quantity int64, ts time.Time, token string) (*stripe.UsageRecord, error) {
	record, err := r.svc.ReportUsageRecord(ctx, billing.UsageRecordInput{
		SubscriptionItemID: subscriptionItemID,
		Quantity:           quantity,
		Timestamp:          ts.Unix(),
		IdempotencyKey:     token,
	})
	r.observe(err)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"subscription_item": subscriptionItemID,
			"token":             token,
		}).WithError(err).Error("Failed to report usage record")
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"subscription_item": subscriptionItemID,
		"quantity":          quantity,
		"token":             token,
	}).Info("Reported usage record")
	return record, nil
}

// ReportMeterEvent records one meter event. The token becomes the event
// identifier, which the provider deduplicates on.
func (r *Reporter) ReportMeterEvent(ctx context.Context, eventName, customerID string, value int64, token string) (*stripe.BillingMeterEvent, error) {
	event, err := r.svc.CreateMeterEvent(ctx, billing.MeterEventInput{
		EventName:  eventName,
		CustomerID: customerID,
		Value:      value,
		Identifier: token,
	})
	r.observe(err)
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"event_name": eventName,
			"customer":   customerID,
			"token":      token,
		}).WithError(err).Error("Failed to report meter event")
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"event_name": eventName,
		"customer":   customerID,
		"value":      value,
		"token":      token,
	}).Info("Reported meter event")
	return event, nil
}

func (r *Reporter) observe(err error) {
	if r.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.metrics.UsageReportsTotal.WithLabelValues(outcome).Inc()
}

// WindowToken derives the idempotency token for a scheduled report: the item
// reference plus the start of the window the report covers. Two runs over
// the same window produce the same token.
func WindowToken(itemRef string, ts time.Time, window time.Duration) string {
	return fmt.Sprintf("%s-%d", itemRef, ts.Truncate(window).Unix())
}

// RandomToken returns a fresh token for reports with no natural key
func RandomToken() string {
	return uuid.NewString()
}
