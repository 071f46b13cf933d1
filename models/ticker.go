package models

import "github.com/shopspring/decimal"

// Ticker is a point-in-time snapshot of market prices. Not every
// exchange reports every field; fields the exchange does not support are
// left as the decimal zero value. Timestamp is seconds since epoch.
type Ticker struct {
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Low       decimal.Decimal `json:"low"`
	High      decimal.Decimal `json:"high"`
	Open      decimal.Decimal `json:"open"`
	Volume    decimal.Decimal `json:"volume"`
	Vwap      decimal.Decimal `json:"vwap"`
	Timestamp int64           `json:"timestamp"`
}
