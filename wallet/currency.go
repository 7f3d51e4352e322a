/*
currency.go - Currency registry and minor-unit conversion

PURPOSE:
  The ledger core works in int64 minor units and treats currency codes
  as opaque strings. This file owns the mapping between display amounts
  ("0.5" BTC) and minor units (50000000 satoshi), per-currency.

REGISTRY:
  The default set mirrors the wallets provisioned at signup. Unknown
  crypto codes are registered on first deposit with the default crypto
  exponent, so depositing an unlisted token creates a usable wallet.
*/
package wallet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Currency describes how a code's amounts map to minor units.
type Currency struct {
	Code     string `json:"code"`
	Exponent int32  `json:"exponent"` // decimal places in the display amount
	Crypto   bool   `json:"crypto"`
}

// defaultCryptoExponent is used when an unknown code is registered on
// first deposit.
const defaultCryptoExponent = 8

// DefaultCurrencies is the wallet set provisioned at signup.
var DefaultCurrencies = []Currency{
	{Code: "USD", Exponent: 2},
	{Code: "ZMW", Exponent: 2},
	{Code: "NGN", Exponent: 2},
	{Code: "BTC", Exponent: 8, Crypto: true},
	{Code: "USDT", Exponent: 6, Crypto: true},
}

// DefaultCurrencyCodes returns the codes of DefaultCurrencies.
func DefaultCurrencyCodes() []string {
	codes := make([]string, len(DefaultCurrencies))
	for i, c := range DefaultCurrencies {
		codes[i] = c.Code
	}
	return codes
}

// Registry maps currency codes to their minor-unit exponents. Safe for
// concurrent use.
type Registry struct {
	mu         sync.RWMutex
	currencies map[string]Currency
}

// NewRegistry returns a registry seeded with DefaultCurrencies.
func NewRegistry() *Registry {
	r := &Registry{currencies: make(map[string]Currency)}
	for _, c := range DefaultCurrencies {
		r.currencies[c.Code] = c
	}
	return r
}

// NormalizeCode upper-cases and trims a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Get returns the currency for a code, if registered.
func (r *Registry) Get(code string) (Currency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.currencies[NormalizeCode(code)]
	return c, ok
}

// GetOrRegister returns the currency for a code, registering unknown
// codes as crypto with the default exponent. Mirrors the deposit path's
// create-on-first-use behavior.
func (r *Registry) GetOrRegister(code string) Currency {
	code = NormalizeCode(code)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.currencies[code]; ok {
		return c
	}
	c := Currency{Code: code, Exponent: defaultCryptoExponent, Crypto: true}
	r.currencies[code] = c
	return c
}

// =============================================================================
// AMOUNT CONVERSION
// =============================================================================

// ParseAmount converts a display amount to minor units.
//
// "12.34" USD -> 1234; "0.5" BTC -> 50000000. Rejects zero, negatives,
// and amounts with more precision than the currency carries.
func (c Currency) ParseAmount(display string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(display))
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrBadAmount, display)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", ErrBadAmount)
	}

	minor := d.Shift(c.Exponent)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s carries at most %d decimal places", ErrBadAmount, c.Code, c.Exponent)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: amount out of range", ErrBadAmount)
	}
	return minor.IntPart(), nil
}

// FormatAmount renders minor units as a display amount.
func (c Currency) FormatAmount(minor int64) string {
	return decimal.NewFromInt(minor).Shift(-c.Exponent).StringFixed(c.Exponent)
}
