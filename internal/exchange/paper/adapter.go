// Package paper implements exchange.TradingAPI against an in-memory
// simulated exchange. It exists for dry runs: strategies and the engine
// run exactly as they would against a real venue, but fills come from a
// configured price instead of a matching engine and no money moves.
package paper

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradeflow/internal/exchange"
	"tradeflow/logger"
	"tradeflow/models"
)

const (
	// AdapterID is the id this adapter registers under.
	AdapterID = "paper"

	// OtherConfig keys: "balance.<CURRENCY>" seeds an available balance,
	// "price.<MARKET_ID>" sets the market price, "market.<MARKET_ID>"
	// declares the pair as "BASE/COUNTER" so fills know which balances
	// to move. Fees are fractions and default to 0.1%.
	otherPrefixBalance = "balance."
	otherPrefixPrice   = "price."
	otherPrefixMarket  = "market."
	otherItemBuyFee    = "buy-fee"
	otherItemSellFee   = "sell-fee"

	bookLevels = 5
)

func init() {
	exchange.Register(AdapterID, func(cfg exchange.AdapterConfig) (exchange.TradingAPI, error) {
		return New(cfg)
	})
}

type pair struct {
	base    string
	counter string
}

// Adapter is the simulated exchange. A single mutex guards all state;
// the engine itself is single-threaded but SetPrice may be driven from
// another goroutine (e.g. a replay feed or a test).
type Adapter struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	onHold   map[string]decimal.Decimal
	prices   map[string]decimal.Decimal
	markets  map[string]pair
	orders   map[string]models.OpenOrder

	buyFee  decimal.Decimal
	sellFee decimal.Decimal
	log     *logger.Entry
}

// New constructs the simulated exchange from OtherConfig. No
// authentication items are required.
func New(cfg exchange.AdapterConfig) (*Adapter, error) {
	a := &Adapter{
		balances: make(map[string]decimal.Decimal),
		onHold:   make(map[string]decimal.Decimal),
		prices:   make(map[string]decimal.Decimal),
		markets:  make(map[string]pair),
		orders:   make(map[string]models.OpenOrder),
		buyFee:   decimal.RequireFromString("0.001"),
		sellFee:  decimal.RequireFromString("0.001"),
		log:      logger.GetLogger().WithComponent("paper_adapter"),
	}

	for key, raw := range cfg.Other {
		switch {
		case strings.HasPrefix(key, otherPrefixBalance):
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("paper adapter: invalid %s %q", key, raw)
			}
			a.balances[strings.TrimPrefix(key, otherPrefixBalance)] = v
		case strings.HasPrefix(key, otherPrefixPrice):
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("paper adapter: invalid %s %q", key, raw)
			}
			a.prices[strings.TrimPrefix(key, otherPrefixPrice)] = v
		case strings.HasPrefix(key, otherPrefixMarket):
			base, counter, ok := strings.Cut(raw, "/")
			if !ok || base == "" || counter == "" {
				return nil, fmt.Errorf("paper adapter: %s must be BASE/COUNTER, got %q", key, raw)
			}
			a.markets[strings.TrimPrefix(key, otherPrefixMarket)] = pair{base: base, counter: counter}
		case key == otherItemBuyFee:
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("paper adapter: invalid %s %q", key, raw)
			}
			a.buyFee = v
		case key == otherItemSellFee:
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return nil, fmt.Errorf("paper adapter: invalid %s %q", key, raw)
			}
			a.sellFee = v
		}
	}

	if len(a.markets) == 0 {
		return nil, fmt.Errorf("paper adapter: at least one %s<id> entry is required", otherPrefixMarket)
	}
	for id := range a.markets {
		if _, ok := a.prices[id]; !ok {
			return nil, fmt.Errorf("paper adapter: no %s%s configured", otherPrefixPrice, id)
		}
	}

	a.log.WithFields(logger.Fields{
		"markets":  len(a.markets),
		"balances": len(a.balances),
	}).Info("paper adapter initialized")
	return a, nil
}

// SetPrice moves the simulated market price. Resting orders crossed by
// the new price fill on the next GetOpenOrders call.
func (a *Adapter) SetPrice(marketID string, price decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prices[marketID] = price
}

// Name implements exchange.TradingAPI.
func (a *Adapter) Name() string { return AdapterID }

// GetTicker implements exchange.TradingAPI.
func (a *Adapter) GetTicker(_ context.Context, marketID string) (models.Ticker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	price, err := a.priceLocked("GetTicker", marketID)
	if err != nil {
		return models.Ticker{}, err
	}
	spread := price.Div(decimal.NewFromInt(1000))
	return models.Ticker{
		Last:      price,
		Bid:       price.Sub(spread),
		Ask:       price.Add(spread),
		Low:       price,
		High:      price,
		Open:      price,
		Timestamp: time.Now().Unix(),
	}, nil
}

// GetMarketOrders implements exchange.TradingAPI. The book is synthetic:
// a few levels either side of the configured price.
func (a *Adapter) GetMarketOrders(_ context.Context, marketID string) (models.MarketOrderBook, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	price, err := a.priceLocked("GetMarketOrders", marketID)
	if err != nil {
		return models.MarketOrderBook{}, err
	}

	book := models.MarketOrderBook{MarketID: marketID}
	step := price.Div(decimal.NewFromInt(1000))
	qty := decimal.NewFromInt(1)
	for i := 1; i <= bookLevels; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i)))
		ask := price.Add(offset)
		bid := price.Sub(offset)
		book.SellOrders = append(book.SellOrders, models.MarketOrder{
			Type: models.OrderTypeSell, Price: ask, Quantity: qty, Total: ask.Mul(qty),
		})
		book.BuyOrders = append(book.BuyOrders, models.MarketOrder{
			Type: models.OrderTypeBuy, Price: bid, Quantity: qty, Total: bid.Mul(qty),
		})
	}
	return book, nil
}

// GetLatestMarketPrice implements exchange.TradingAPI.
func (a *Adapter) GetLatestMarketPrice(_ context.Context, marketID string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.priceLocked("GetLatestMarketPrice", marketID)
}

// GetBalanceInfo implements exchange.TradingAPI.
func (a *Adapter) GetBalanceInfo(_ context.Context) (models.BalanceInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	info := models.BalanceInfo{
		Available: make(map[string]decimal.Decimal, len(a.balances)),
		OnHold:    make(map[string]decimal.Decimal, len(a.onHold)),
	}
	for cur, v := range a.balances {
		info.Available[cur] = v
	}
	for cur, v := range a.onHold {
		info.OnHold[cur] = v
	}
	return info, nil
}

// GetOpenOrders implements exchange.TradingAPI. Fill simulation happens
// here: any resting order crossed by the current price is filled before
// the remaining orders are returned.
func (a *Adapter) GetOpenOrders(_ context.Context, marketID string) ([]models.OpenOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.markets[marketID]; !ok {
		return nil, a.unknownMarket("GetOpenOrders", marketID)
	}
	a.fillCrossedLocked(marketID)

	orders := make([]models.OpenOrder, 0)
	for _, o := range a.orders {
		if o.MarketID == marketID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreationDate.Before(orders[j].CreationDate) })
	return orders, nil
}

// CreateOrder implements exchange.TradingAPI. Funds are moved on hold
// immediately, the way a real venue locks them.
func (a *Adapter) CreateOrder(_ context.Context, marketID string, orderType models.OrderType, quantity, price decimal.Decimal) (string, error) {
	const op = "CreateOrder"
	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.markets[marketID]
	if !ok {
		return "", a.unknownMarket(op, marketID)
	}
	if !orderType.IsValid() {
		return "", &exchange.APIError{Op: op, Err: fmt.Errorf("invalid order type %q", orderType)}
	}
	if !quantity.IsPositive() || !price.IsPositive() {
		return "", &exchange.APIError{Op: op, Err: fmt.Errorf("quantity and price must be positive")}
	}

	holdCurrency := p.counter
	holdAmount := price.Mul(quantity)
	if orderType == models.OrderTypeSell {
		holdCurrency = p.base
		holdAmount = quantity
	}
	if a.balances[holdCurrency].LessThan(holdAmount) {
		return "", &exchange.APIError{Op: op, Err: fmt.Errorf(
			"insufficient %s balance: have %s, need %s",
			holdCurrency, a.balances[holdCurrency], holdAmount)}
	}
	a.balances[holdCurrency] = a.balances[holdCurrency].Sub(holdAmount)
	a.onHold[holdCurrency] = a.onHold[holdCurrency].Add(holdAmount)

	order := models.OpenOrder{
		ID:               uuid.NewString(),
		CreationDate:     time.Now().UTC(),
		MarketID:         marketID,
		Type:             orderType,
		Price:            price,
		Quantity:         quantity,
		OriginalQuantity: quantity,
		Total:            price.Mul(quantity),
	}
	a.orders[order.ID] = order

	a.log.WithFields(logger.Fields{
		"market":   marketID,
		"type":     orderType.String(),
		"price":    price.String(),
		"quantity": quantity.String(),
		"order_id": order.ID,
	}).Info("paper order placed")
	return order.ID, nil
}

// CancelOrder implements exchange.TradingAPI.
func (a *Adapter) CancelOrder(_ context.Context, orderID, marketID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	order, ok := a.orders[orderID]
	if !ok || order.MarketID != marketID {
		return false, nil
	}

	p := a.markets[order.MarketID]
	holdCurrency := p.counter
	holdAmount := order.Price.Mul(order.Quantity)
	if order.Type == models.OrderTypeSell {
		holdCurrency = p.base
		holdAmount = order.Quantity
	}
	a.onHold[holdCurrency] = a.onHold[holdCurrency].Sub(holdAmount)
	a.balances[holdCurrency] = a.balances[holdCurrency].Add(holdAmount)
	delete(a.orders, orderID)
	return true, nil
}

// GetBuyOrderFeePercentage implements exchange.TradingAPI.
func (a *Adapter) GetBuyOrderFeePercentage(context.Context, string) (decimal.Decimal, error) {
	return a.buyFee, nil
}

// GetSellOrderFeePercentage implements exchange.TradingAPI.
func (a *Adapter) GetSellOrderFeePercentage(context.Context, string) (decimal.Decimal, error) {
	return a.sellFee, nil
}

func (a *Adapter) priceLocked(op, marketID string) (decimal.Decimal, error) {
	price, ok := a.prices[marketID]
	if !ok {
		return decimal.Decimal{}, a.unknownMarket(op, marketID)
	}
	return price, nil
}

func (a *Adapter) unknownMarket(op, marketID string) error {
	return &exchange.APIError{Op: op, Err: fmt.Errorf("unknown market %q", marketID)}
}

// fillCrossedLocked fills every resting order the current price has
// crossed: buys at or above the price, sells at or below it.
func (a *Adapter) fillCrossedLocked(marketID string) {
	price := a.prices[marketID]
	p := a.markets[marketID]

	for id, order := range a.orders {
		if order.MarketID != marketID {
			continue
		}
		crossed := (order.Type == models.OrderTypeBuy && price.LessThanOrEqual(order.Price)) ||
			(order.Type == models.OrderTypeSell && price.GreaterThanOrEqual(order.Price))
		if !crossed {
			continue
		}

		if order.Type == models.OrderTypeBuy {
			spent := order.Price.Mul(order.Quantity)
			a.onHold[p.counter] = a.onHold[p.counter].Sub(spent)
			bought := order.Quantity.Sub(order.Quantity.Mul(a.buyFee))
			a.balances[p.base] = a.balances[p.base].Add(bought)
		} else {
			a.onHold[p.base] = a.onHold[p.base].Sub(order.Quantity)
			proceeds := order.Price.Mul(order.Quantity)
			proceeds = proceeds.Sub(proceeds.Mul(a.sellFee))
			a.balances[p.counter] = a.balances[p.counter].Add(proceeds)
		}
		delete(a.orders, id)

		a.log.WithFields(logger.Fields{
			"market":   marketID,
			"type":     order.Type.String(),
			"price":    order.Price.String(),
			"quantity": order.Quantity.String(),
			"order_id": id,
		}).Info("paper order filled")
	}
}
