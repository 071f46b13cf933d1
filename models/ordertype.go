package models

// OrderType is the side of an order, both for levels of a public order
// book and for orders placed by the bot.
type OrderType string

const (
	// OrderTypeBuy is a bid.
	OrderTypeBuy OrderType = "BUY"
	// OrderTypeSell is an ask.
	OrderTypeSell OrderType = "SELL"
)

// String returns the string representation.
func (t OrderType) String() string {
	return string(t)
}

// IsValid checks if the OrderType value is valid.
func (t OrderType) IsValid() bool {
	return t == OrderTypeBuy || t == OrderTypeSell
}

// Opposite returns the other side. It returns the zero value for an
// invalid OrderType.
func (t OrderType) Opposite() OrderType {
	switch t {
	case OrderTypeBuy:
		return OrderTypeSell
	case OrderTypeSell:
		return OrderTypeBuy
	}
	return ""
}
