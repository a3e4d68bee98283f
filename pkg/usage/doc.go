// Package usage reports metered consumption to the billing provider.
//
// # Overview
//
// Reporter wraps the two provider reporting surfaces: legacy usage records
// against a subscription item, and meter events against a billing meter.
// Every report carries an idempotency token so a retried report of the same
// logical observation counts once on the provider side.
//
// Tokens are caller-supplied. WindowToken derives a stable token from the
// item reference and the start of the reporting window, which is what the
// scheduled reporter binary uses; RandomToken covers one-off reports with no
// natural key.
package usage
