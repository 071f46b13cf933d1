package scalper

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/exchange"
	"tradeflow/internal/exchange/paper"
	"tradeflow/internal/strategy"
	"tradeflow/models"
)

var testMarket = models.Market{ID: "btcusd", Name: "BTC/USD", BaseCurrency: "BTC", CounterCurrency: "USD"}

func testConfig() strategy.Config {
	return strategy.Config{
		"counter-currency-buying-order-amount": "2000",
		"minimum-percentage-gain":              "1",
	}
}

// stubAPI lets tests script the trading API responses the scalper sees.
type stubAPI struct {
	book       models.MarketOrderBook
	bookErr    error
	openOrders []models.OpenOrder
	openErr    error
	created    []models.OpenOrder
	createErr  error
	nextID     int
}

func (s *stubAPI) Name() string { return "stub" }

func (s *stubAPI) GetTicker(context.Context, string) (models.Ticker, error) {
	return models.Ticker{}, nil
}

func (s *stubAPI) GetMarketOrders(context.Context, string) (models.MarketOrderBook, error) {
	return s.book, s.bookErr
}

func (s *stubAPI) GetLatestMarketPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal{}, nil
}

func (s *stubAPI) GetBalanceInfo(context.Context) (models.BalanceInfo, error) {
	return models.BalanceInfo{}, nil
}

func (s *stubAPI) GetOpenOrders(context.Context, string) ([]models.OpenOrder, error) {
	return s.openOrders, s.openErr
}

func (s *stubAPI) CreateOrder(_ context.Context, marketID string, orderType models.OrderType, quantity, price decimal.Decimal) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextID++
	order := models.OpenOrder{
		ID:       string(rune('a' + s.nextID)),
		MarketID: marketID,
		Type:     orderType,
		Price:    price,
		Quantity: quantity,
	}
	s.created = append(s.created, order)
	return order.ID, nil
}

func (s *stubAPI) CancelOrder(context.Context, string, string) (bool, error) { return false, nil }

func (s *stubAPI) GetBuyOrderFeePercentage(context.Context, string) (decimal.Decimal, error) {
	return decimal.RequireFromString("0.001"), nil
}

func (s *stubAPI) GetSellOrderFeePercentage(context.Context, string) (decimal.Decimal, error) {
	return decimal.RequireFromString("0.002"), nil
}

func twoSidedBook(bid, ask string) models.MarketOrderBook {
	return models.MarketOrderBook{
		MarketID: testMarket.ID,
		BuyOrders: []models.MarketOrder{
			{Type: models.OrderTypeBuy, Price: decimal.RequireFromString(bid), Quantity: decimal.NewFromInt(1)},
		},
		SellOrders: []models.MarketOrder{
			{Type: models.OrderTypeSell, Price: decimal.RequireFromString(ask), Quantity: decimal.NewFromInt(1)},
		},
	}
}

func TestInitValidatesConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  strategy.Config
	}{
		{"missing buy amount", strategy.Config{"minimum-percentage-gain": "1"}},
		{"missing gain", strategy.Config{"counter-currency-buying-order-amount": "2000"}},
		{"negative gain", strategy.Config{
			"counter-currency-buying-order-amount": "2000",
			"minimum-percentage-gain":              "-1",
		}},
		{"malformed amount", strategy.Config{
			"counter-currency-buying-order-amount": "lots",
			"minimum-percentage-gain":              "1",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Scalper{}
			require.Error(t, s.Init(&stubAPI{}, testMarket, tc.cfg))
		})
	}
}

func TestFirstCyclePlacesBuyAtBid(t *testing.T) {
	api := &stubAPI{book: twoSidedBook("20000", "20010")}
	s := &Scalper{}
	require.NoError(t, s.Init(api, testMarket, testConfig()))

	require.NoError(t, s.Execute(context.Background()))

	require.Len(t, api.created, 1)
	order := api.created[0]
	assert.Equal(t, models.OrderTypeBuy, order.Type)
	assert.True(t, order.Price.Equal(decimal.RequireFromString("20000")))
	// 2000 USD at 20000 buys 0.1 BTC.
	assert.True(t, order.Quantity.Equal(decimal.RequireFromString("0.1")))
}

func TestHoldsWhileBuyOrderRests(t *testing.T) {
	api := &stubAPI{book: twoSidedBook("20000", "20010")}
	s := &Scalper{}
	require.NoError(t, s.Init(api, testMarket, testConfig()))
	require.NoError(t, s.Execute(context.Background()))
	require.Len(t, api.created, 1)

	// The buy is still in the open orders: nothing new gets placed.
	api.openOrders = []models.OpenOrder{api.created[0]}
	require.NoError(t, s.Execute(context.Background()))
	assert.Len(t, api.created, 1)
}

func TestSellPlacedWithFeesAndGain(t *testing.T) {
	api := &stubAPI{book: twoSidedBook("20000", "20010")}
	s := &Scalper{}
	require.NoError(t, s.Init(api, testMarket, testConfig()))
	require.NoError(t, s.Execute(context.Background()))

	// Buy no longer open: filled. The sell must mark up the buy price by
	// buy fee (0.1%) + sell fee (0.2%) + minimum gain (1%) = 1.3%.
	api.openOrders = nil
	require.NoError(t, s.Execute(context.Background()))

	require.Len(t, api.created, 2)
	sell := api.created[1]
	assert.Equal(t, models.OrderTypeSell, sell.Type)
	assert.True(t, sell.Price.Equal(decimal.RequireFromString("20260")),
		"expected 20000 * 1.013 = 20260, got %s", sell.Price)
	assert.True(t, sell.Quantity.Equal(decimal.RequireFromString("0.1")))
}

func TestEmptyBookSideHoldsCycle(t *testing.T) {
	api := &stubAPI{book: models.MarketOrderBook{MarketID: testMarket.ID}}
	s := &Scalper{}
	require.NoError(t, s.Init(api, testMarket, testConfig()))

	require.NoError(t, s.Execute(context.Background()))
	assert.Empty(t, api.created, "no order may be placed off an empty book")
}

func TestNetworkFaultIsSwallowed(t *testing.T) {
	api := &stubAPI{bookErr: &exchange.NetworkError{Op: "GetMarketOrders", Err: errors.New("timeout")}}
	s := &Scalper{}
	require.NoError(t, s.Init(api, testMarket, testConfig()))

	assert.NoError(t, s.Execute(context.Background()), "network faults hold the cycle, not kill the bot")
}

func TestAPIFaultBecomesStrategyError(t *testing.T) {
	api := &stubAPI{
		book:      twoSidedBook("20000", "20010"),
		createErr: &exchange.APIError{Op: "CreateOrder", Err: errors.New("auth rejected")},
	}
	s := &Scalper{}
	require.NoError(t, s.Init(api, testMarket, testConfig()))

	err := s.Execute(context.Background())
	require.Error(t, err)
	var stratErr *strategy.Error
	require.True(t, errors.As(err, &stratErr))
	assert.Contains(t, stratErr.StrategyID, StrategyID)
}

func TestFullRoundAgainstPaperExchange(t *testing.T) {
	venue, err := paper.New(exchange.AdapterConfig{
		Other: exchange.OtherConfig{
			"market.btcusd": "BTC/USD",
			"price.btcusd":  "20000",
			"balance.USD":   "10000",
			"buy-fee":       "0",
			"sell-fee":      "0",
		},
	})
	require.NoError(t, err)

	s := &Scalper{}
	require.NoError(t, s.Init(venue, testMarket, testConfig()))
	ctx := context.Background()

	// Cycle 1: buy placed at the synthetic bid (below the last price), so
	// it rests.
	require.NoError(t, s.Execute(ctx))
	open, err := venue.GetOpenOrders(ctx, "btcusd")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.OrderTypeBuy, open[0].Type)

	// Price drops through the buy: cycle 2 sees the fill and places the
	// sell side of the round.
	venue.SetPrice("btcusd", decimal.RequireFromString("19000"))
	require.NoError(t, s.Execute(ctx))
	open, err = venue.GetOpenOrders(ctx, "btcusd")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.OrderTypeSell, open[0].Type)

	// Price rallies through the sell: cycle 3 completes the round and
	// opens the next one with a fresh buy.
	venue.SetPrice("btcusd", open[0].Price.Add(decimal.NewFromInt(100)))
	require.NoError(t, s.Execute(ctx))
	open, err = venue.GetOpenOrders(ctx, "btcusd")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.OrderTypeBuy, open[0].Type)
}
