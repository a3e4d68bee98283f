// Package webhooks verifies and dispatches inbound billing provider events.
//
// # Overview
//
// The provider signs every delivery with an HMAC over the raw payload and a
// timestamp. Processor verifies the signature within a configured tolerance
// window, decodes the event envelope, drops redeliveries it has already seen
// (Redis-backed, optional), and dispatches to the handler registered for the
// event type. Handlers are registered once at startup; adding a new event
// type is one Handle call.
//
// Verification failures are the only errors Process surfaces. Everything
// after a valid signature, including handler failures, is acknowledged so
// the provider stops redelivering; failures are logged and counted instead.
package webhooks
