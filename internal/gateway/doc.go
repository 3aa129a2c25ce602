// Package gateway implements the connection handshake and the post-handshake
// request path of the gateway channel.
//
// A connection is driven through
//
//	AwaitingConnect → NegotiatingAuth → (PendingPairing) → Connected | Failed
//
// by Gateway.Handshake, which runs the first frame through a fixed pipeline
// of steps (parse, protocol, role, scopes, origin, authenticate, clamp,
// pair, finalize). Each step takes the handshake state by value and returns
// the next state or a *Rejection; the first rejection ends the connection.
//
// After hello-ok, every request frame goes through Gateway.Handle, which
// authorizes the method for the session's security role before dispatching.
//
// The package is transport-agnostic: it consumes and produces frames, and
// package api owns the WebSocket that carries them.
package gateway
