package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpenOrder is an order the bot has placed that is still resting on the
// exchange. ID is the exchange-assigned id and is treated as an opaque
// string. Quantity is the remaining (unfilled) amount.
type OpenOrder struct {
	ID               string          `json:"id"`
	CreationDate     time.Time       `json:"creation_date"`
	MarketID         string          `json:"market_id"`
	Type             OrderType       `json:"type"`
	Price            decimal.Decimal `json:"price"`
	Quantity         decimal.Decimal `json:"quantity"`
	OriginalQuantity decimal.Decimal `json:"original_quantity"`
	Total            decimal.Decimal `json:"total"`
}

// Equal compares every field, not just the id. Two orders that share an
// id but differ in any other field are not equal.
func (o OpenOrder) Equal(other OpenOrder) bool {
	return o.ID == other.ID &&
		o.CreationDate.Equal(other.CreationDate) &&
		o.MarketID == other.MarketID &&
		o.Type == other.Type &&
		o.Price.Equal(other.Price) &&
		o.Quantity.Equal(other.Quantity) &&
		o.OriginalQuantity.Equal(other.OriginalQuantity) &&
		o.Total.Equal(other.Total)
}
