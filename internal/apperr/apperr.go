// Package apperr is the error vocabulary shared by services and the chat layer.
// Store and provider errors are translated into an *Error before they leave a service.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	InvalidInput      Code = "INVALID_INPUT"
	NotFound          Code = "NOT_FOUND"
	InsufficientFunds Code = "INSUFFICIENT_FUNDS"
	UnknownUser       Code = "UNKNOWN_USER"
	ProviderError     Code = "PROVIDER_ERROR"
	Conflict          Code = "CONFLICT"
	NoActiveFlow      Code = "NO_ACTIVE_FLOW"
	Forbidden         Code = "FORBIDDEN"
	Internal          Code = "INTERNAL"
)

// Reasons carried by InvalidInput and Conflict errors.
const (
	ReasonInvalidAmount   = "invalid_amount"
	ReasonInvalidProduct  = "invalid_product"
	ReasonEmptyCart       = "empty_cart"
	ReasonSelfReferral    = "self_referral"
	ReasonAlreadyReferred = "already_referred"
)

type Error struct {
	Code   Code
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("apperr: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("apperr: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}

// ReasonOf returns the reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Transient reports whether the caller may retry the same call later.
func Transient(err error) bool {
	switch CodeOf(err) {
	case ProviderError, Conflict:
		return true
	}
	return false
}

// UserMessage renders err for the chat user. Validation and business failures get a
// corrective message; everything else gets a generic one.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch CodeOf(err) {
	case InvalidInput:
		switch ReasonOf(err) {
		case ReasonInvalidAmount:
			return "The amount must be a positive number with at most two decimals."
		case ReasonInvalidProduct:
			return "Every product field is required and the price must be positive."
		case ReasonEmptyCart:
			return "Your cart is empty."
		case ReasonSelfReferral:
			return "You cannot use your own referral code."
		}
		return "The input is not valid, please try again."
	case NotFound:
		return "Nothing was found for that request."
	case InsufficientFunds:
		return "Not enough funds on the balance."
	case NoActiveFlow:
		return "There is nothing in progress. Pick an action from the menu."
	case Forbidden:
		return "This action is not available to you."
	case ProviderError:
		return "The payment service is not responding, try again later."
	case Conflict:
		if ReasonOf(err) == ReasonAlreadyReferred {
			return "A referral code has already been applied to your account."
		}
	}
	return "Something went wrong, try again."
}
