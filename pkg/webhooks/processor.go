package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/subgate/subgate/pkg/observability"
)

// ErrSignature means the payload failed signature verification and must be
// rejected without dispatch
var ErrSignature = errors.New("webhook signature verification failed")

// ErrDecode marks an event whose payload did not match the expected object
// shape, usually API version skew between the provider and the SDK. Handlers
// wrap decode failures with this so the processor can count them separately
// from real handler failures.
var ErrDecode = errors.New("webhook event decode mismatch")

// Handler processes one verified event
type Handler func(ctx context.Context, event stripe.Event) error

// Deduper remembers event ids across deliveries. Seen reports whether the id
// was already recorded, recording it as a side effect.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// Processor verifies, dedups and dispatches provider events
type Processor struct {
	secret    string
	tolerance time.Duration
	dedup     Deduper
	handlers  map[stripe.EventType]Handler
	logger    *logrus.Logger
	metrics   *observability.Metrics
}

// NewProcessor creates a processor. dedup and metrics may be nil; without a
// deduper every delivery dispatches.
func NewProcessor(secret string, tolerance time.Duration, dedup Deduper, logger *logrus.Logger, metrics *observability.Metrics) *Processor {
	if logger == nil {
		logger = logrus.New()
	}
	return &Processor{
		secret:    secret,
		tolerance: tolerance,
		dedup:     dedup,
		handlers:  make(map[stripe.EventType]Handler),
		logger:    logger,
		metrics:   metrics,
	}
}

// Handle registers the handler for an event type, replacing any previous
// registration. Not safe to call once Process is being served.
func (p *Processor) Handle(eventType stripe.EventType, h Handler) {
	p.handlers[eventType] = h
}

// Process verifies a delivery and dispatches it.
//
// A non-nil return always wraps ErrSignature; any payload that passes
// verification is acknowledged regardless of what happens next, so the
// provider does not redeliver events we merely failed to handle.
func (p *Processor) Process(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithTolerance(payload, signature, p.secret, p.tolerance)
	if err != nil {
		p.logger.WithError(err).Warn("Rejected webhook delivery")
		p.count("", "rejected")
		return fmt.Errorf("%w: %v", ErrSignature, err)
	}

	log := p.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if p.dedup != nil {
		seen, err := p.dedup.Seen(ctx, event.ID)
		if err != nil {
			// Dedup is an aid, not a gate; on store trouble we still dispatch
			log.WithError(err).Warn("Webhook dedup unavailable")
		} else if seen {
			log.Debug("Skipping duplicate webhook delivery")
			p.count(string(event.Type), "duplicate")
			return nil
		}
	}

	handler, ok := p.handlers[event.Type]
	if !ok {
		log.Debug("Unhandled webhook event type")
		p.count(string(event.Type), "unhandled")
		return nil
	}

	if err := p.dispatch(ctx, handler, event); err != nil {
		outcome := "error"
		if errors.Is(err, ErrDecode) {
			outcome = "decode_mismatch"
		}
		log.WithError(err).Error("Webhook handler failed")
		p.count(string(event.Type), outcome)
		return nil
	}

	log.Info("Processed webhook event")
	p.count(string(event.Type), "handled")
	return nil
}

// dispatch runs a handler, converting a handler panic into an error so one
// bad event cannot take the delivery endpoint down
func (p *Processor) dispatch(ctx context.Context, handler Handler, event stripe.Event) (err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
	}()
	return handler(ctx, event)
}

func (p *Processor) count(eventType, outcome string) {
	if p.metrics == nil {
		return
	}
	p.metrics.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}
