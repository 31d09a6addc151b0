// Package loopback tags local connection endpoints with the credential of
// the profile that created them and validates those credentials when
// traffic arrives at another endpoint.
//
// Endpoints live in a side table addressed by Handle. A credential copied
// into an in-flight Packet stays valid after the sending endpoint is closed
// or its process exits, so arrival checks never dereference the sender.
package loopback
