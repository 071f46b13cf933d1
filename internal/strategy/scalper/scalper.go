// Package scalper is the reference strategy implementation: a basic
// scalping bot that buys a configured amount of counter currency, waits
// for the buy to fill, then sells at the buy price plus the exchange fees
// and a configured minimum gain, and repeats.
package scalper

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tradeflow/internal/exchange"
	"tradeflow/internal/strategy"
	"tradeflow/logger"
	"tradeflow/models"
)

const (
	// StrategyID is the id this implementation registers under.
	StrategyID = "scalper"

	// Mandatory config items: how much counter currency (e.g. USD) each
	// buy order spends, and the percentage gain (e.g. "1" for 1%) a sell
	// must realize on top of the round-trip exchange fees.
	itemBuyAmount = "counter-currency-buying-order-amount"
	itemMinGain   = "minimum-percentage-gain"

	// Order quantities are sent with 8 decimal places, the de facto
	// crypto exchange maximum.
	amountScale = 8
)

func init() {
	strategy.Register(StrategyID, func() strategy.Strategy {
		return &Scalper{}
	})
}

type phase int

const (
	phaseNone phase = iota
	phaseBuyPending
	phaseSellPending
)

// lastOrder tracks the order placed in the previous phase. It is owned
// exclusively by this strategy instance and mutated only inside Execute.
type lastOrder struct {
	id        string
	orderType models.OrderType
	price     decimal.Decimal
	quantity  decimal.Decimal
}

// Scalper is one strategy instance, bound to a single market at Init.
type Scalper struct {
	api    exchange.TradingAPI
	market models.Market
	log    *logger.Entry

	counterBuyAmount decimal.Decimal
	minimumGain      decimal.Decimal // fraction, e.g. 0.01 for 1%

	phase phase
	last  lastOrder
}

// Init implements strategy.Strategy. It validates the configuration and
// fails fast on missing or malformed items.
func (s *Scalper) Init(api exchange.TradingAPI, market models.Market, cfg strategy.Config) error {
	buyAmount, err := cfg.DecimalItem(itemBuyAmount)
	if err != nil {
		return fmt.Errorf("scalper init for %s: %w", market.ID, err)
	}
	if !buyAmount.IsPositive() {
		return fmt.Errorf("scalper init for %s: %s must be positive", market.ID, itemBuyAmount)
	}

	gainPct, err := cfg.DecimalItem(itemMinGain)
	if err != nil {
		return fmt.Errorf("scalper init for %s: %w", market.ID, err)
	}
	if gainPct.IsNegative() {
		return fmt.Errorf("scalper init for %s: %s must not be negative", market.ID, itemMinGain)
	}

	s.api = api
	s.market = market
	s.counterBuyAmount = buyAmount
	s.minimumGain = gainPct.Div(decimal.NewFromInt(100))
	s.log = logger.GetLogger().WithComponent("scalper").WithFields(logger.Fields{
		"market": market.ID,
	})

	s.log.WithFields(logger.Fields{
		"buy_amount":   buyAmount.String(),
		"minimum_gain": gainPct.String() + "%",
	}).Info("scalper initialized")
	return nil
}

// Execute implements strategy.Strategy: one pass of the NONE -> BUY
// pending -> SELL pending -> BUY pending state machine. Network faults
// from the trading API are swallowed, holding the current phase until the
// next cycle; everything else comes back as a *strategy.Error.
func (s *Scalper) Execute(ctx context.Context) error {
	book, err := s.api.GetMarketOrders(ctx, s.market.ID)
	if err != nil {
		return s.escalate(err)
	}

	// Some exchanges legitimately return an empty side. Nothing sane can
	// be priced off half a book, so hold this cycle.
	if len(book.BuyOrders) == 0 || len(book.SellOrders) == 0 {
		s.log.WithFields(logger.Fields{
			"buy_levels":  len(book.BuyOrders),
			"sell_levels": len(book.SellOrders),
		}).Warn("order book has an empty side, holding this cycle")
		return nil
	}

	bid := book.BuyOrders[0].Price
	ask := book.SellOrders[0].Price

	switch s.phase {
	case phaseNone:
		err = s.placeBuyOrder(ctx, bid)
	case phaseBuyPending:
		err = s.checkBuyOrder(ctx)
	case phaseSellPending:
		err = s.checkSellOrder(ctx, bid, ask)
	}
	if err != nil {
		return s.escalate(err)
	}
	return nil
}

// placeBuyOrder opens the round: buy at the current bid, spending the
// configured amount of counter currency.
func (s *Scalper) placeBuyOrder(ctx context.Context, bid decimal.Decimal) error {
	if !bid.IsPositive() {
		return fmt.Errorf("current bid price %s is not positive", bid)
	}
	quantity := s.counterBuyAmount.Div(bid).Round(amountScale)

	id, err := s.api.CreateOrder(ctx, s.market.ID, models.OrderTypeBuy, quantity, bid)
	if err != nil {
		return err
	}

	s.last = lastOrder{id: id, orderType: models.OrderTypeBuy, price: bid, quantity: quantity}
	s.phase = phaseBuyPending
	s.log.WithFields(logger.Fields{
		"order_id": id,
		"price":    bid.String(),
		"quantity": quantity.String(),
	}).Info("buy order placed, waiting for fill")
	return nil
}

// checkBuyOrder watches the resting buy. Present in the open orders means
// hold; absent means filled, so place the sell side of the round.
func (s *Scalper) checkBuyOrder(ctx context.Context) error {
	resting, err := s.orderStillOpen(ctx, s.last.id)
	if err != nil {
		return err
	}
	if resting {
		s.log.WithFields(logger.Fields{"order_id": s.last.id}).Debug("buy order still open, holding")
		return nil
	}

	sellPrice, err := s.sellPriceFor(ctx, s.last.price)
	if err != nil {
		return err
	}

	id, err := s.api.CreateOrder(ctx, s.market.ID, models.OrderTypeSell, s.last.quantity, sellPrice)
	if err != nil {
		return err
	}

	s.log.WithFields(logger.Fields{
		"order_id":  id,
		"buy_price": s.last.price.String(),
		"price":     sellPrice.String(),
		"quantity":  s.last.quantity.String(),
	}).Info("buy filled, sell order placed")
	s.last = lastOrder{id: id, orderType: models.OrderTypeSell, price: sellPrice, quantity: s.last.quantity}
	s.phase = phaseSellPending
	return nil
}

// checkSellOrder watches the resting sell. Once it fills, the next buy
// opens a fresh round at the current bid.
func (s *Scalper) checkSellOrder(ctx context.Context, bid, ask decimal.Decimal) error {
	resting, err := s.orderStillOpen(ctx, s.last.id)
	if err != nil {
		return err
	}
	if resting {
		if ask.LessThan(s.last.price) {
			s.log.WithFields(logger.Fields{
				"order_id":   s.last.id,
				"sell_price": s.last.price.String(),
				"ask":        ask.String(),
			}).Debug("market moved below sell price, holding")
		}
		return nil
	}

	s.log.WithFields(logger.Fields{"order_id": s.last.id}).Info("sell filled, round complete")
	return s.placeBuyOrder(ctx, bid)
}

// sellPriceFor computes the price the fill must be resold at: the buy
// price marked up by both exchange fees plus the configured minimum gain.
func (s *Scalper) sellPriceFor(ctx context.Context, buyPrice decimal.Decimal) (decimal.Decimal, error) {
	buyFee, err := s.api.GetBuyOrderFeePercentage(ctx, s.market.ID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	sellFee, err := s.api.GetSellOrderFeePercentage(ctx, s.market.ID)
	if err != nil {
		return decimal.Decimal{}, err
	}

	markup := decimal.NewFromInt(1).Add(buyFee).Add(sellFee).Add(s.minimumGain)
	return buyPrice.Mul(markup).Round(amountScale), nil
}

func (s *Scalper) orderStillOpen(ctx context.Context, orderID string) (bool, error) {
	open, err := s.api.GetOpenOrders(ctx, s.market.ID)
	if err != nil {
		return false, err
	}
	for _, o := range open {
		if o.ID == orderID {
			return true, nil
		}
	}
	return false, nil
}

// escalate applies the strategy failure contract: swallow retryable
// network faults, wrap everything else as a fatal strategy fault.
func (s *Scalper) escalate(err error) error {
	if exchange.IsNetworkError(err) {
		s.log.WithError(err).Warn("transient network fault, holding until next cycle")
		return nil
	}
	return &strategy.Error{
		StrategyID: fmt.Sprintf("%s[%s]", StrategyID, s.market.ID),
		Err:        err,
	}
}
