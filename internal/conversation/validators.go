package conversation

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/TURRA7/BotShop/internal/entity"
)

// Rejection is the message shown to the user when a step refuses its input.
type Rejection string

func (r Rejection) Error() string { return string(r) }

// NonEmptyText accepts any text with at least one non-space character.
func NonEmptyText(rejection string) Validator {
	return func(in Input) (string, error) {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			return "", Rejection(rejection)
		}
		return text, nil
	}
}

// Amount accepts a positive decimal with at most two fractional digits, up to max.
// A comma is accepted as the decimal separator.
func Amount(max decimal.Decimal) Validator {
	return func(in Input) (string, error) {
		raw := strings.ReplaceAll(strings.TrimSpace(in.Text), ",", ".")
		d, err := decimal.NewFromString(raw)
		if err != nil || !entity.ValidAmount(d) {
			return "", Rejection("Enter a positive amount with at most two decimals, for example 150 or 99.90.")
		}
		if d.GreaterThan(max) {
			return "", Rejection("The amount is too large, the maximum is " + max.StringFixed(2) + ".")
		}
		return d.StringFixed(2), nil
	}
}

// PositiveID accepts an integer greater than zero.
func PositiveID(in Input) (string, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(in.Text), 10, 64)
	if err != nil || n <= 0 {
		return "", Rejection("Enter a numeric user id.")
	}
	return strconv.FormatInt(n, 10), nil
}

// Image accepts only inputs that carry an image reference.
func Image(in Input) (string, error) {
	ref := strings.TrimSpace(in.ImageRef)
	if ref == "" {
		return "", Rejection("Send a picture of the product.")
	}
	return ref, nil
}

// ReferralCode accepts a code shaped like the ones handed out to users.
func ReferralCode(in Input) (string, error) {
	code := strings.TrimSpace(in.Text)
	if !entity.IsReferralCode(code) {
		return "", Rejection("A referral code is 8 letters and digits.")
	}
	return code, nil
}
