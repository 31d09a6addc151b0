// Package policystore persists compiled policy bundles and loads
// per-executable overrides from the filesystem.
package policystore
