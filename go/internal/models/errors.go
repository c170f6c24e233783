package models

import "errors"

var (
	// ErrNotFound is returned when a topic, participant or card does not exist
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a topic secret is missing or does not match
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid is returned for malformed commands
	ErrInvalid = errors.New("invalid")
)
