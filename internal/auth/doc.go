// Package auth provides the gateway's role and permission model.
//
// It implements a 4-tier security role hierarchy (admin > operator > viewer >
// chat-only) with:
//   - Static role-permission mapping (compile-time, no database lookup)
//   - A method→permission map consulted for every post-handshake request
//   - Lifecycle methods that bypass role checks entirely
//   - Audit-on-deny through a best-effort sink
//   - Shared-secret verification (constant-time token compare or Argon2id)
//
// Methods absent from the method map are allowed for every role. This is
// deliberate; UnmappedMethods lists them so tests can pin the set.
//
// The security role is distinct from the coarse connection role
// (operator|node) negotiated in the handshake.
package auth
