// Package pairing persists paired device identities, their pairing requests
// and the device-bound tokens issued to them.
//
// A device is identified by the fingerprint of its ed25519 public key (see
// package deviceid). Unknown devices produce a pairing request; approving it
// creates the paired device record. Each (device, connection role) pair has at
// most one live device token, a signed JWT that the gateway hands out in
// hello-ok and accepts on later connections in place of the shared secret.
//
// SQLiteStore is the production implementation and the only one.
package pairing
