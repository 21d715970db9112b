package domain

import "errors"

var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("not found")
	// ErrAuthRequired is returned by operations that need a session token the
	// caller does not have.
	ErrAuthRequired = errors.New("please log in to add items to cart")
	// ErrNoSession means no signed-in identity is known.
	ErrNoSession = errors.New("not signed in")
	// ErrInvalidTransition is returned for a checkout step out of order.
	ErrInvalidTransition = errors.New("invalid checkout transition")
	// ErrConfirmInFlight rejects a second confirmation while one is running.
	ErrConfirmInFlight = errors.New("order confirmation already in progress")
)
