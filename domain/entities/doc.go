// Package entities provides the core domain types of the access-control engine:
// profiles and their capability flags, syscall filter tables, process
// identities, loopback socket credentials and audit records.
// These types carry no enforcement logic; see domain/policy and loopback.
package entities
