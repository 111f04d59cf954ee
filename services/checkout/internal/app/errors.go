package app

import "errors"

var (
	// ErrMissingFields is returned when a checkout request lacks a required field.
	ErrMissingFields = errors.New("required: priceId, userId, userEmail")
	// ErrEmailRequired is returned by email keyed lookups called without one.
	ErrEmailRequired = errors.New("userEmail is required")
	// ErrCustomerNotFound means the provider has no customer for the email.
	ErrCustomerNotFound = errors.New("no subscription found for this email")
)
