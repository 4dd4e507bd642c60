// Package storage defines the entities and interfaces for persisting
// OAuth clients, tokens, and authorization artifacts. It supports
// multiple backend implementations; in-memory and Valkey backends ship
// in subpackages.
package storage
