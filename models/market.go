package models

// Market is the immutable identity of a tradeable currency pair on one
// exchange. ID is the exchange-specific market id and is the only field
// that participates in equality; Name is for display only.
type Market struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	BaseCurrency    string `json:"base_currency"`
	CounterCurrency string `json:"counter_currency"`
}

// Equal reports whether two markets identify the same tradeable pair.
// Markets are compared by ID only.
func (m Market) Equal(other Market) bool {
	return m.ID == other.ID
}

// String returns the display name when set, otherwise the id.
func (m Market) String() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}
