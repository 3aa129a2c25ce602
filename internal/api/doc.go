// Package api is the network edge of the gateway: an HTTP server that
// upgrades clients to WebSocket and drives them through the gateway
// handshake, plus a small HTTP surface for probes and operators.
//
// This package provides:
//   - The WebSocket channel: connect.challenge, handshake, request loop
//   - A hub that fans gateway events out to authenticated sessions
//   - Middleware (request ID, logging, recovery, per-IP upgrade throttle)
//   - /healthz, /metrics and the admin pairing endpoint
//   - TLS support for production deployments
//
// # Connection Lifecycle
//
// On upgrade the server sends a connect.challenge event carrying a fresh
// nonce, then waits up to websocket.handshake_timeout for the connect
// request. A rejected handshake gets one error response followed by a close
// frame; an accepted one gets hello-ok and joins the hub. After that each
// request frame is handled in order on the connection's read goroutine.
//
// # Client Addresses
//
// Forwarding headers (X-Forwarded-For, X-Real-IP) are only honoured when the
// TCP peer is listed in security.trusted_proxies. A connection is local when
// the resolved address is loopback and it did not arrive through an
// untrusted forwarder.
package api
