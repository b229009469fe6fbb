// Package httpserver exposes the daemon's control API: endpoints triggering
// the two enablement operations, mapping status, and the usual liveness,
// readiness, and drain diagnostics.
//
// The enablement operations run synchronously on the request; the caller is
// expected to be the init system or an operator, one request at a time. The
// server never accepts or returns key material.
package httpserver
