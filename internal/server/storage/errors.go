package storage

import "errors"

// Common storage errors
var (
	// ErrRecordNotFound indicates that record was not found in storage
	ErrRecordNotFound = errors.New("record not found")

	// ErrInvalidFilter indicates that list filter field is not a plain identifier
	ErrInvalidFilter = errors.New("invalid filter field")

	// ErrMissingID indicates that a write has no record id
	ErrMissingID = errors.New("record id is required")
)
