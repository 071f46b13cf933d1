// Package binance implements the exchange.TradingAPI contract for the
// Binance spot REST API using the adshao/go-binance client.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"tradeflow/internal/exchange"
	"tradeflow/logger"
	"tradeflow/models"
)

const (
	// AdapterID is the id this adapter registers under.
	AdapterID = "binance"

	authItemKey    = "key"
	authItemSecret = "secret"

	// OtherConfig knobs. Fees are fractions: "0.001" is 0.1%.
	otherItemBuyFee  = "buy-fee"
	otherItemSellFee = "sell-fee"
	otherItemRPS     = "requests-per-second"

	defaultTimeout   = 30 * time.Second
	defaultRPS       = 10
	defaultBookLimit = 100

	// Binance error code for cancelling an order it no longer knows.
	codeUnknownOrder = -2011
)

func init() {
	exchange.Register(AdapterID, func(cfg exchange.AdapterConfig) (exchange.TradingAPI, error) {
		return New(cfg)
	})
}

// Adapter talks to the Binance spot REST API. All requests pass through a
// token-bucket rate limiter so a tight trade cycle cannot trip the
// exchange's request-weight limits.
type Adapter struct {
	client     *binance.Client
	classifier *exchange.Classifier
	limiter    *rate.Limiter
	log        *logger.Entry

	buyFee  decimal.Decimal
	sellFee decimal.Decimal
	// feeOverride is set when fees come from OtherConfig instead of the
	// trade-fee endpoint.
	feeOverride bool
}

// New constructs the adapter. Missing mandatory authentication items fail
// here, not on first use.
func New(cfg exchange.AdapterConfig) (*Adapter, error) {
	key, err := cfg.Authentication.Item(authItemKey)
	if err != nil {
		return nil, fmt.Errorf("binance adapter: %w", err)
	}
	secret, err := cfg.Authentication.Item(authItemSecret)
	if err != nil {
		return nil, fmt.Errorf("binance adapter: %w", err)
	}

	timeout := cfg.Network.ConnectionTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	rps := defaultRPS
	if v, ok := cfg.Other.Item(otherItemRPS); ok {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("binance adapter: invalid %s %q", otherItemRPS, v)
		}
		rps = parsed
	}

	client := binance.NewClient(key, secret)
	client.HTTPClient = &http.Client{Timeout: timeout}

	a := &Adapter{
		client:     client,
		classifier: exchange.NewClassifier(cfg.Network),
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		log:        logger.GetLogger().WithComponent("binance_adapter"),
	}

	if v, ok := cfg.Other.Item(otherItemBuyFee); ok {
		fee, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("binance adapter: invalid %s %q", otherItemBuyFee, v)
		}
		a.buyFee = fee
		a.feeOverride = true
	}
	if v, ok := cfg.Other.Item(otherItemSellFee); ok {
		fee, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("binance adapter: invalid %s %q", otherItemSellFee, v)
		}
		a.sellFee = fee
		if !a.feeOverride {
			return nil, fmt.Errorf("binance adapter: %s requires %s as well", otherItemSellFee, otherItemBuyFee)
		}
	}

	a.log.WithFields(logger.Fields{
		"timeout":             timeout.String(),
		"requests_per_second": rps,
		"fee_override":        a.feeOverride,
	}).Info("binance adapter initialized")

	return a, nil
}

// Name implements exchange.TradingAPI.
func (a *Adapter) Name() string { return AdapterID }

// GetTicker implements exchange.TradingAPI.
func (a *Adapter) GetTicker(ctx context.Context, marketID string) (models.Ticker, error) {
	const op = "GetTicker"
	if err := a.wait(ctx); err != nil {
		return models.Ticker{}, a.classify(op, err)
	}

	stats, err := a.client.NewListPriceChangeStatsService().Symbol(marketID).Do(ctx)
	if err != nil {
		return models.Ticker{}, a.classify(op, err)
	}
	if len(stats) == 0 {
		return models.Ticker{}, &exchange.APIError{Op: op, Err: fmt.Errorf("no ticker stats for %s", marketID)}
	}
	s := stats[0]

	ticker := models.Ticker{Timestamp: s.CloseTime / 1000}
	for _, f := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{s.LastPrice, &ticker.Last},
		{s.BidPrice, &ticker.Bid},
		{s.AskPrice, &ticker.Ask},
		{s.LowPrice, &ticker.Low},
		{s.HighPrice, &ticker.High},
		{s.OpenPrice, &ticker.Open},
		{s.Volume, &ticker.Volume},
		{s.WeightedAvgPrice, &ticker.Vwap},
	} {
		v, err := parseDecimal(op, f.raw)
		if err != nil {
			return models.Ticker{}, err
		}
		*f.dest = v
	}
	return ticker, nil
}

// GetMarketOrders implements exchange.TradingAPI.
func (a *Adapter) GetMarketOrders(ctx context.Context, marketID string) (models.MarketOrderBook, error) {
	const op = "GetMarketOrders"
	if err := a.wait(ctx); err != nil {
		return models.MarketOrderBook{}, a.classify(op, err)
	}

	depth, err := a.client.NewDepthService().Symbol(marketID).Limit(defaultBookLimit).Do(ctx)
	if err != nil {
		return models.MarketOrderBook{}, a.classify(op, err)
	}

	book := models.MarketOrderBook{MarketID: marketID}
	for _, ask := range depth.Asks {
		order, err := toMarketOrder(op, models.OrderTypeSell, ask.Price, ask.Quantity)
		if err != nil {
			return models.MarketOrderBook{}, err
		}
		book.SellOrders = append(book.SellOrders, order)
	}
	for _, bid := range depth.Bids {
		order, err := toMarketOrder(op, models.OrderTypeBuy, bid.Price, bid.Quantity)
		if err != nil {
			return models.MarketOrderBook{}, err
		}
		book.BuyOrders = append(book.BuyOrders, order)
	}
	return book, nil
}

// GetLatestMarketPrice implements exchange.TradingAPI.
func (a *Adapter) GetLatestMarketPrice(ctx context.Context, marketID string) (decimal.Decimal, error) {
	const op = "GetLatestMarketPrice"
	if err := a.wait(ctx); err != nil {
		return decimal.Decimal{}, a.classify(op, err)
	}

	prices, err := a.client.NewListPricesService().Symbol(marketID).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, a.classify(op, err)
	}
	if len(prices) == 0 {
		return decimal.Decimal{}, &exchange.APIError{Op: op, Err: fmt.Errorf("no price for %s", marketID)}
	}
	return parseDecimal(op, prices[0].Price)
}

// GetBalanceInfo implements exchange.TradingAPI.
func (a *Adapter) GetBalanceInfo(ctx context.Context) (models.BalanceInfo, error) {
	const op = "GetBalanceInfo"
	if err := a.wait(ctx); err != nil {
		return models.BalanceInfo{}, a.classify(op, err)
	}

	account, err := a.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return models.BalanceInfo{}, a.classify(op, err)
	}

	info := models.BalanceInfo{
		Available: make(map[string]decimal.Decimal, len(account.Balances)),
		OnHold:    make(map[string]decimal.Decimal, len(account.Balances)),
	}
	for _, b := range account.Balances {
		free, err := parseDecimal(op, b.Free)
		if err != nil {
			return models.BalanceInfo{}, err
		}
		locked, err := parseDecimal(op, b.Locked)
		if err != nil {
			return models.BalanceInfo{}, err
		}
		info.Available[b.Asset] = free
		info.OnHold[b.Asset] = locked
	}
	return info, nil
}

// GetOpenOrders implements exchange.TradingAPI.
func (a *Adapter) GetOpenOrders(ctx context.Context, marketID string) ([]models.OpenOrder, error) {
	const op = "GetOpenOrders"
	if err := a.wait(ctx); err != nil {
		return nil, a.classify(op, err)
	}

	raw, err := a.client.NewListOpenOrdersService().Symbol(marketID).Do(ctx)
	if err != nil {
		return nil, a.classify(op, err)
	}

	orders := make([]models.OpenOrder, 0, len(raw))
	for _, o := range raw {
		price, err := parseDecimal(op, o.Price)
		if err != nil {
			return nil, err
		}
		orig, err := parseDecimal(op, o.OrigQuantity)
		if err != nil {
			return nil, err
		}
		executed, err := parseDecimal(op, o.ExecutedQuantity)
		if err != nil {
			return nil, err
		}

		var orderType models.OrderType
		switch o.Side {
		case binance.SideTypeBuy:
			orderType = models.OrderTypeBuy
		case binance.SideTypeSell:
			orderType = models.OrderTypeSell
		default:
			return nil, &exchange.APIError{Op: op, Err: fmt.Errorf("unexpected order side %q", o.Side)}
		}

		orders = append(orders, models.OpenOrder{
			ID:               strconv.FormatInt(o.OrderID, 10),
			CreationDate:     time.Unix(0, o.Time*int64(time.Millisecond)).UTC(),
			MarketID:         marketID,
			Type:             orderType,
			Price:            price,
			Quantity:         orig.Sub(executed),
			OriginalQuantity: orig,
			Total:            price.Mul(orig),
		})
	}
	return orders, nil
}

// CreateOrder implements exchange.TradingAPI. Only limit orders are
// placed; the engine-side retry policy, if any, belongs to the strategy.
func (a *Adapter) CreateOrder(ctx context.Context, marketID string, orderType models.OrderType, quantity, price decimal.Decimal) (string, error) {
	const op = "CreateOrder"
	if !orderType.IsValid() {
		return "", &exchange.APIError{Op: op, Err: fmt.Errorf("invalid order type %q", orderType)}
	}
	if err := a.wait(ctx); err != nil {
		return "", a.classify(op, err)
	}

	side := binance.SideTypeBuy
	if orderType == models.OrderTypeSell {
		side = binance.SideTypeSell
	}

	resp, err := a.client.NewCreateOrderService().
		Symbol(marketID).
		Side(side).
		Type(binance.OrderTypeLimit).
		TimeInForce(binance.TimeInForceTypeGTC).
		Quantity(quantity.String()).
		Price(price.String()).
		Do(ctx)
	if err != nil {
		return "", a.classify(op, err)
	}

	orderID := strconv.FormatInt(resp.OrderID, 10)
	a.log.WithFields(logger.Fields{
		"market":   marketID,
		"type":     orderType.String(),
		"quantity": quantity.String(),
		"price":    price.String(),
		"order_id": orderID,
	}).Info("order placed")
	return orderID, nil
}

// CancelOrder implements exchange.TradingAPI. An order the exchange no
// longer knows returns false without an error.
func (a *Adapter) CancelOrder(ctx context.Context, orderID, marketID string) (bool, error) {
	const op = "CancelOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, &exchange.APIError{Op: op, Err: fmt.Errorf("malformed order id %q", orderID)}
	}
	if err := a.wait(ctx); err != nil {
		return false, a.classify(op, err)
	}

	if _, err := a.client.NewCancelOrderService().Symbol(marketID).OrderID(id).Do(ctx); err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder {
			a.log.WithFields(logger.Fields{"order_id": orderID, "market": marketID}).
				Warn("cancel requested for unknown order")
			return false, nil
		}
		return false, a.classify(op, err)
	}

	a.log.WithFields(logger.Fields{"order_id": orderID, "market": marketID}).Info("order cancelled")
	return true, nil
}

// GetBuyOrderFeePercentage implements exchange.TradingAPI.
func (a *Adapter) GetBuyOrderFeePercentage(ctx context.Context, marketID string) (decimal.Decimal, error) {
	if a.feeOverride {
		return a.buyFee, nil
	}
	_, taker, err := a.tradeFees(ctx, marketID)
	return taker, err
}

// GetSellOrderFeePercentage implements exchange.TradingAPI.
func (a *Adapter) GetSellOrderFeePercentage(ctx context.Context, marketID string) (decimal.Decimal, error) {
	if a.feeOverride {
		return a.sellFee, nil
	}
	_, taker, err := a.tradeFees(ctx, marketID)
	return taker, err
}

func (a *Adapter) tradeFees(ctx context.Context, marketID string) (maker, taker decimal.Decimal, err error) {
	const op = "GetTradeFees"
	if err := a.wait(ctx); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, a.classify(op, err)
	}

	fees, err := a.client.NewTradeFeeService().Symbol(marketID).Do(ctx)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, a.classify(op, err)
	}
	if len(fees) == 0 {
		return decimal.Decimal{}, decimal.Decimal{}, &exchange.APIError{Op: op, Err: fmt.Errorf("no trade fee for %s", marketID)}
	}

	maker, err = parseDecimal(op, fees[0].MakerCommission)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	taker, err = parseDecimal(op, fees[0].TakerCommission)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return maker, taker, nil
}

func (a *Adapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// classify maps an error from the binance client onto the adapter error
// taxonomy. Errors the exchange reported with a code go through the
// configured non-fatal code list exactly as given; everything else is
// transport-level.
func (a *Adapter) classify(op string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return a.classifier.ClassifyStatus(op, int(apiErr.Code), apiErr.Message)
	}
	return a.classifier.ClassifyTransport(op, err)
}

func parseDecimal(op, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, &exchange.APIError{Op: op, Err: fmt.Errorf("malformed decimal %q", raw)}
	}
	return v, nil
}

func toMarketOrder(op string, orderType models.OrderType, rawPrice, rawQty string) (models.MarketOrder, error) {
	price, err := parseDecimal(op, rawPrice)
	if err != nil {
		return models.MarketOrder{}, err
	}
	qty, err := parseDecimal(op, rawQty)
	if err != nil {
		return models.MarketOrder{}, err
	}
	return models.MarketOrder{
		Type:     orderType,
		Price:    price,
		Quantity: qty,
		Total:    price.Mul(qty),
	}, nil
}
