package models

import "github.com/shopspring/decimal"

// BalanceInfo holds the wallet balances returned by an exchange, keyed by
// currency short code ("BTC", "USD", ...). Either map may be nil when the
// exchange does not report that view. A currency missing from a non-nil
// map means a zero balance, not an error.
type BalanceInfo struct {
	Available map[string]decimal.Decimal `json:"available"`
	OnHold    map[string]decimal.Decimal `json:"on_hold"`
}

// AvailableFor returns the available balance for the given currency and
// whether the currency was present in the available map at all.
func (b BalanceInfo) AvailableFor(currency string) (decimal.Decimal, bool) {
	if b.Available == nil {
		return decimal.Decimal{}, false
	}
	v, ok := b.Available[currency]
	return v, ok
}
