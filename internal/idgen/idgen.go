// Package idgen provides injectable identifier generation.
package idgen

import "github.com/google/uuid"

// Generator produces unique identifiers.
type Generator interface {
	NewID() string
}

// UUID generates random (v4) UUIDs.
type UUID struct{}

// NewID returns a new UUID v4 string.
func (UUID) NewID() string {
	return uuid.New().String()
}

// Func adapts a plain function to Generator. Handy for deterministic tests.
type Func func() string

func (f Func) NewID() string {
	return f()
}
