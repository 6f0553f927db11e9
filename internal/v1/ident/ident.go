// Package ident generates the unique identifiers handed to clients and rooms.
//
// Identifiers are canonical UUIDv4 strings: 36 characters, hyphenated hex,
// version nibble fixed at 4 and the variant nibble in {8,9,a,b}. Uniqueness
// is statistical; there is no collision recovery anywhere in the server.
package ident

import "github.com/google/uuid"

// Length is the canonical identifier length in bytes.
const Length = 36

// New returns a fresh identifier.
func New() string {
	return uuid.NewString()
}

// Valid reports whether s parses as a canonical hyphenated identifier.
// Inbound room and target IDs are opaque lookup keys, so the registries never
// require this; it exists for logging and diagnostics.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
