package repository

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert hits a uniqueness constraint.
	// Under concurrency this is the expected at-most-once signal, not a
	// system error: callers treat it as "already materialized" or
	// "already completed".
	ErrDuplicate = errors.New("record already exists")
)
