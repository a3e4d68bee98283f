package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/subgate/subgate/pkg/billing"
	"github.com/subgate/subgate/pkg/usage"
)

var (
	secretKey = flag.String("stripe-key", os.Getenv("STRIPE_SECRET_KEY"), "Billing provider secret key")

	itemID   = flag.String("item", "", "Subscription item id to report usage records against")
	quantity = flag.Int64("quantity", 1, "Quantity to report per run")

	eventName  = flag.String("event-name", "", "Meter event name to report (newer metering surface)")
	customerID = flag.String("customer", "", "Customer id for meter events")
	value      = flag.Int64("value", 1, "Meter event value per run")

	window   = flag.Duration("window", time.Hour, "Reporting window; runs in the same window share one idempotency token")
	schedule = flag.String("schedule", "0 * * * *", "Cron schedule for reporting (default: hourly)")
	runOnce  = flag.Bool("run-once", false, "Report once and exit")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if *secretKey == "" {
		logger.Fatal("STRIPE_SECRET_KEY (or -stripe-key) is required")
	}
	if *itemID == "" && *eventName == "" {
		logger.Fatal("one of -item or -event-name is required")
	}
	if *eventName != "" && *customerID == "" {
		logger.Fatal("-customer is required with -event-name")
	}

	svc := billing.NewClient(billing.Config{SecretKey: *secretKey}, logger)
	reporter := usage.NewReporter(svc, logger, nil)

	if *runOnce {
		if err := report(reporter); err != nil {
			logger.WithError(err).Fatal("Report failed")
		}
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(*schedule, func() {
		if err := report(reporter); err != nil {
			logger.WithError(err).Error("Scheduled report failed")
		}
	}); err != nil {
		logger.WithError(err).Fatal("Invalid cron schedule")
	}

	c.Start()
	logger.WithField("schedule", *schedule).Info("Usage reporter started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down")
	<-c.Stop().Done()
}

// report sends one observation. The token is derived from the target and the
// current window start, so a rerun inside the same window cannot double-count.
func report(reporter *usage.Reporter) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC()

	if *itemID != "" {
		token := usage.WindowToken(*itemID, now, *window)
		if _, err := reporter.ReportUsage(ctx, *itemID, *quantity, now, token); err != nil {
			return err
		}
	}

	if *eventName != "" {
		token := usage.WindowToken(*eventName+"-"+*customerID, now, *window)
		if _, err := reporter.ReportMeterEvent(ctx, *eventName, *customerID, *value, token); err != nil {
			return err
		}
	}

	return nil
}
