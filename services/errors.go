package services

import "errors"

var (
	// ErrValidation rejects input before anything is stored or broadcast.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound reports an operation on a conversation that has no messages.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps any failure of the message store. Callers surface it without retrying.
	ErrPersistence = errors.New("persistence failure")
	// ErrForbidden rejects actions the verified caller may not perform.
	ErrForbidden = errors.New("forbidden")
)
