// Package ports defines the interfaces the engine consumes from its
// collaborators: auditing, violation notification, syscall inspection,
// process termination, executable classification and override parsing.
// Domain logic depends on these abstractions; infrastructure adapters
// implement them.
package ports
