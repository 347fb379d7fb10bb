package entity

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	referralAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	redemptionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	ReferralCodeLength   = 8
	redemptionGroups     = 4
	redemptionGroupWidth = 4
)

// NewReferralCode returns a random 8 character alphanumeric code.
func NewReferralCode() (string, error) {
	return randomString(referralAlphabet, ReferralCodeLength)
}

// NewRedemptionCode returns a random code formatted as XXXX-XXXX-XXXX-XXXX.
func NewRedemptionCode() (string, error) {
	raw, err := randomString(redemptionAlphabet, redemptionGroups*redemptionGroupWidth)
	if err != nil {
		return "", err
	}
	groups := make([]string, 0, redemptionGroups)
	for i := 0; i < len(raw); i += redemptionGroupWidth {
		groups = append(groups, raw[i:i+redemptionGroupWidth])
	}
	return strings.Join(groups, "-"), nil
}

// IsReferralCode reports whether s has the referral code shape.
func IsReferralCode(s string) bool {
	return len(s) == ReferralCodeLength && onlyFrom(s, referralAlphabet)
}

// IsRedemptionCode reports whether s has the redemption code shape.
func IsRedemptionCode(s string) bool {
	groups := strings.Split(s, "-")
	if len(groups) != redemptionGroups {
		return false
	}
	for _, g := range groups {
		if len(g) != redemptionGroupWidth || !onlyFrom(g, redemptionAlphabet) {
			return false
		}
	}
	return true
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random source: %w", err)
		}
		b[i] = alphabet[idx.Int64()]
	}
	return string(b), nil
}

func onlyFrom(s, alphabet string) bool {
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}
