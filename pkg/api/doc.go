// Package api exposes the subscription billing HTTP surface.
//
// # Overview
//
// One handler per endpoint, routed with gorilla/mux. Handlers translate
// JSON requests into billing service calls and map service errors onto the
// error envelope: provider rejections and caller mistakes are 400s carrying
// {"error":{"message":...}}, provider unavailability is a 502.
//
// Customer identity is correlated through a "customer" cookie set by
// /create-customer. This stands in for real authentication the same way the
// hosted sample frontends expect; a production deployment would look the
// customer id up from its own session instead.
//
// # Related Packages
//
//   - pkg/billing: the provider operations behind every endpoint
//   - pkg/webhooks: inbound event processing behind POST /webhook
package api
