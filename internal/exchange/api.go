// Package exchange defines the contract every exchange integration
// implements: the TradingAPI interface, the configuration handed to an
// adapter at construction time, the error taxonomy that separates
// retryable network faults from fatal API faults, and the registry that
// resolves a configured adapter id to an implementation.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"tradeflow/models"
)

// TradingAPI normalizes one exchange's REST semantics into the canonical
// trading model. Every method returns either a *NetworkError (transient,
// safe to retry on the next trade cycle) or an *APIError (protocol or
// logic fault, fatal to the engine) on failure; see errors.go.
//
// CreateOrder and CancelOrder have real financial effect and are never
// retried by the adapter itself. Retry policy for order mutations belongs
// to the caller.
type TradingAPI interface {
	// Name identifies the adapter in logs and alert messages.
	Name() string

	// GetTicker returns a fresh price snapshot for the market.
	GetTicker(ctx context.Context, marketID string) (models.Ticker, error)

	// GetMarketOrders returns a snapshot of the public order book.
	// Either side may legitimately be empty.
	GetMarketOrders(ctx context.Context, marketID string) (models.MarketOrderBook, error)

	// GetLatestMarketPrice returns the price of the most recent trade.
	GetLatestMarketPrice(ctx context.Context, marketID string) (decimal.Decimal, error)

	// GetBalanceInfo returns the wallet balances. Authenticated.
	GetBalanceInfo(ctx context.Context) (models.BalanceInfo, error)

	// GetOpenOrders returns the bot's resting orders on the given
	// market. Authenticated.
	GetOpenOrders(ctx context.Context, marketID string) ([]models.OpenOrder, error)

	// CreateOrder places a limit order and returns the exchange-assigned
	// order id. Authenticated.
	CreateOrder(ctx context.Context, marketID string, orderType models.OrderType, quantity, price decimal.Decimal) (string, error)

	// CancelOrder cancels a resting order. It returns false when the
	// exchange no longer knows the order. Authenticated.
	CancelOrder(ctx context.Context, orderID, marketID string) (bool, error)

	// GetBuyOrderFeePercentage returns the fee taken from a buy order,
	// as a fraction (0.001 == 0.1%).
	GetBuyOrderFeePercentage(ctx context.Context, marketID string) (decimal.Decimal, error)

	// GetSellOrderFeePercentage is the sell-side equivalent.
	GetSellOrderFeePercentage(ctx context.Context, marketID string) (decimal.Decimal, error)
}
