// Package strategy defines the contract a trading algorithm implements
// and the registry that resolves a configured strategy id to an
// implementation.
package strategy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeflow/internal/exchange"
	"tradeflow/models"
)

// Config holds the free-form configuration items for one strategy
// instance, as name -> value strings.
type Config map[string]string

// Item returns the named item or an error when it is missing or empty.
func (c Config) Item(name string) (string, error) {
	v, ok := c[name]
	if !ok || v == "" {
		return "", fmt.Errorf("missing mandatory strategy config item %q", name)
	}
	return v, nil
}

// DecimalItem returns the named item parsed as a decimal.
func (c Config) DecimalItem(name string) (decimal.Decimal, error) {
	v, err := c.Item(name)
	if err != nil {
		return decimal.Decimal{}, err
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("strategy config item %q is not a decimal: %q", name, v)
	}
	return d, nil
}

// Strategy is a pluggable trading algorithm bound to one market.
// Instances are long-lived: Init is called once at engine startup and
// Execute once per trade cycle, so a strategy may keep order-tracking
// state across cycles in its own fields.
//
// Execute runs synchronously inside the shared control loop and must not
// sleep. Its failure contract: a retryable network fault from the trading
// API is swallowed (log and hold until next cycle); any other fault is
// wrapped in *Error, telling the engine the strategy cannot safely
// continue.
type Strategy interface {
	Init(api exchange.TradingAPI, market models.Market, cfg Config) error
	Execute(ctx context.Context) error
}

// Error is a strategy fault: the strategy cannot safely continue and the
// engine must halt trading. It is always fatal.
type Error struct {
	StrategyID string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("strategy %s cannot continue: %v", e.StrategyID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
