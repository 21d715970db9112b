package checkout

import (
	"strings"
	"unicode/utf8"

	"imi-storefront/internal/domain"
)

// UserError is a short, step-scoped failure meant to be shown to the user.
// Field is set when a single input is at fault.
type UserError struct {
	Step    State
	Field   string
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Field != "" {
		return string(e.Step) + ": " + e.Field + ": " + e.Message
	}
	return string(e.Step) + ": " + e.Message
}

func (e *UserError) Unwrap() error { return e.Err }

func fieldError(field, msg string) *UserError {
	return &UserError{Step: StateAddress, Field: field, Message: msg}
}

// ValidateAddress checks mandatory fields in display order and reports the
// first one at fault. AddressLine2 and Country are optional.
func ValidateAddress(a domain.ShippingAddress) error {
	switch {
	case strings.TrimSpace(a.FullName) == "":
		return fieldError("fullName", "Please enter your full name")
	case utf8.RuneCountInString(strings.TrimSpace(a.Phone)) < 10:
		return fieldError("phone", "Please enter a valid phone number (at least 10 digits)")
	case strings.TrimSpace(a.AddressLine1) == "":
		return fieldError("addressLine1", "Please enter your address")
	case strings.TrimSpace(a.City) == "":
		return fieldError("city", "Please enter your city")
	case strings.TrimSpace(a.State) == "":
		return fieldError("state", "Please enter your state")
	case utf8.RuneCountInString(strings.TrimSpace(a.PostalCode)) < 5:
		return fieldError("postalCode", "Please enter a valid postal code")
	}
	return nil
}

func normalizeAddress(a domain.ShippingAddress) domain.ShippingAddress {
	return domain.ShippingAddress{
		FullName:     strings.TrimSpace(a.FullName),
		Phone:        strings.TrimSpace(a.Phone),
		AddressLine1: strings.TrimSpace(a.AddressLine1),
		AddressLine2: strings.TrimSpace(a.AddressLine2),
		City:         strings.TrimSpace(a.City),
		State:        strings.TrimSpace(a.State),
		PostalCode:   strings.TrimSpace(a.PostalCode),
		Country:      strings.TrimSpace(a.Country),
	}
}
