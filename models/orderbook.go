package models

import "github.com/shopspring/decimal"

// MarketOrder is a single price level of a public order book. Total is
// the exchange-reported price * quantity and is not recomputed locally.
type MarketOrder struct {
	Type     OrderType       `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Total    decimal.Decimal `json:"total"`
}

// MarketOrderBook is a snapshot of the public order book for one market.
// SellOrders are ascending by price and BuyOrders descending, by exchange
// convention. Some exchanges have been observed to return an empty side;
// callers must not assume either slice is non-empty.
type MarketOrderBook struct {
	MarketID   string        `json:"market_id"`
	SellOrders []MarketOrder `json:"sell_orders"`
	BuyOrders  []MarketOrder `json:"buy_orders"`
}
