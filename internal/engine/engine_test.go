package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeflow/internal/exchange"
	"tradeflow/internal/strategy"
	"tradeflow/models"
)

var testMarket = models.Market{ID: "btcusd", Name: "BTC/USD", BaseCurrency: "BTC", CounterCurrency: "USD"}

// fakeAPI scripts GetBalanceInfo per call; every other method is inert.
type fakeAPI struct {
	mu           sync.Mutex
	balanceCalls int
	balanceFn    func(call int) (models.BalanceInfo, error)
}

func balances(currency, available string) models.BalanceInfo {
	return models.BalanceInfo{Available: map[string]decimal.Decimal{
		currency: decimal.RequireFromString(available),
	}}
}

func (f *fakeAPI) Name() string { return "fake-exchange" }

func (f *fakeAPI) GetBalanceInfo(context.Context) (models.BalanceInfo, error) {
	f.mu.Lock()
	f.balanceCalls++
	call := f.balanceCalls
	fn := f.balanceFn
	f.mu.Unlock()
	if fn == nil {
		return balances("BTC", "1"), nil
	}
	return fn(call)
}

func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

func (f *fakeAPI) GetTicker(context.Context, string) (models.Ticker, error) {
	return models.Ticker{}, nil
}

func (f *fakeAPI) GetMarketOrders(context.Context, string) (models.MarketOrderBook, error) {
	return models.MarketOrderBook{}, nil
}

func (f *fakeAPI) GetLatestMarketPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal{}, nil
}

func (f *fakeAPI) GetOpenOrders(context.Context, string) ([]models.OpenOrder, error) {
	return nil, nil
}

func (f *fakeAPI) CreateOrder(context.Context, string, models.OrderType, decimal.Decimal, decimal.Decimal) (string, error) {
	return "1", nil
}

func (f *fakeAPI) CancelOrder(context.Context, string, string) (bool, error) { return true, nil }

func (f *fakeAPI) GetBuyOrderFeePercentage(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal{}, nil
}

func (f *fakeAPI) GetSellOrderFeePercentage(context.Context, string) (decimal.Decimal, error) {
	return decimal.Decimal{}, nil
}

// fakeStrategy counts executions and optionally fails or panics.
type fakeStrategy struct {
	executions atomic.Int64
	execFn     func(call int64) error
}

func (s *fakeStrategy) Init(exchange.TradingAPI, models.Market, strategy.Config) error { return nil }

func (s *fakeStrategy) Execute(context.Context) error {
	n := s.executions.Add(1)
	if s.execFn != nil {
		return s.execFn(n)
	}
	return nil
}

// fakeAlerter records every alert it is asked to deliver.
type fakeAlerter struct {
	mu    sync.Mutex
	sent  []string
	calls int
}

func (a *fakeAlerter) SendMessage(subject, body string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	a.sent = append(a.sent, subject+"\n"+body)
	return nil
}

func (a *fakeAlerter) sendCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func (a *fakeAlerter) lastAlert() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.sent) == 0 {
		return ""
	}
	return a.sent[len(a.sent)-1]
}

func testConfig() Config {
	return Config{
		TradeCycleInterval:    10 * time.Millisecond,
		EmergencyStopCurrency: "BTC",
		EmergencyStopBalance:  decimal.RequireFromString("0.5"),
	}
}

func newTestEngine(t *testing.T, cfg Config, api *fakeAPI, strat *fakeStrategy, alerter *fakeAlerter) *Engine {
	t.Helper()
	e, err := New(cfg, api, []Binding{{Market: testMarket, Strategy: strat}}, alerter)
	require.NoError(t, err)
	return e
}

func waitForState(t *testing.T, e *Engine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return e.State() == want },
		2*time.Second, time.Millisecond, "engine never reached state %s", want)
}

func TestNewValidation(t *testing.T) {
	_, err := New(testConfig(), nil, []Binding{{Market: testMarket, Strategy: &fakeStrategy{}}}, nil)
	require.Error(t, err)

	_, err = New(Config{}, &fakeAPI{}, []Binding{{Market: testMarket, Strategy: &fakeStrategy{}}}, nil)
	require.Error(t, err, "zero cycle interval must be rejected")

	_, err = New(testConfig(), &fakeAPI{}, nil, nil)
	require.Error(t, err, "an engine without markets is useless")
}

func TestDoubleStartRejected(t *testing.T) {
	api := &fakeAPI{balanceFn: func(int) (models.BalanceInfo, error) { return balances("BTC", "1"), nil }}
	strat := &fakeStrategy{}
	e := newTestEngine(t, testConfig(), api, strat, &fakeAlerter{})

	require.NoError(t, e.Start(context.Background()))
	defer e.Shutdown()

	err := e.Start(context.Background())
	require.Error(t, err, "starting a running engine must fail")

	// The running loop is undisturbed by the rejected start.
	require.Eventually(t, func() bool { return strat.executions.Load() >= 2 },
		2*time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, e.State())
}

func TestNormalTwoCycleRunThenShutdown(t *testing.T) {
	// Balance exactly at the floor: b == t must proceed, the comparison
	// is strict less-than.
	api := &fakeAPI{balanceFn: func(int) (models.BalanceInfo, error) { return balances("BTC", "0.5"), nil }}
	strat := &fakeStrategy{}
	alerter := &fakeAlerter{}
	e := newTestEngine(t, testConfig(), api, strat, alerter)

	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool { return strat.executions.Load() >= 2 },
		2*time.Second, time.Millisecond, "expected at least 2 strategy executions")
	assert.True(t, e.IsRunning())
	assert.Zero(t, alerter.sendCount(), "a clean run must never alert")

	e.Shutdown()
	assert.Equal(t, StateStopped, e.State())
	assert.False(t, e.IsRunning())
}

func TestEmergencyStopBreachHaltsBeforeStrategy(t *testing.T) {
	api := &fakeAPI{balanceFn: func(int) (models.BalanceInfo, error) {
		return balances("BTC", "0.49999999"), nil
	}}
	strat := &fakeStrategy{}
	alerter := &fakeAlerter{}
	e := newTestEngine(t, testConfig(), api, strat, alerter)

	require.NoError(t, e.Start(context.Background()))
	waitForState(t, e, StateStopped)

	assert.Zero(t, strat.executions.Load(), "no strategy may execute after a breach")
	require.Equal(t, 1, alerter.sendCount(), "exactly one alert per fatal halt")

	body := alerter.lastAlert()
	assert.Contains(t, body, "0.49999999")
	assert.Contains(t, body, "0.5")
	assert.Contains(t, body, "fake-exchange")
}

func TestMissingEmergencyStopCurrencyIsFatal(t *testing.T) {
	api := &fakeAPI{balanceFn: func(int) (models.BalanceInfo, error) {
		return balances("USD", "1000000"), nil
	}}
	strat := &fakeStrategy{}
	alerter := &fakeAlerter{}
	e := newTestEngine(t, testConfig(), api, strat, alerter)

	require.NoError(t, e.Start(context.Background()))
	waitForState(t, e, StateStopped)

	assert.Zero(t, strat.executions.Load())
	require.Equal(t, 1, alerter.sendCount())
	assert.Contains(t, alerter.lastAlert(), "missing from exchange balance response")
}

func TestTransientFaultThenRecovery(t *testing.T) {
	api := &fakeAPI{balanceFn: func(call int) (models.BalanceInfo, error) {
		if call == 2 {
			return models.BalanceInfo{}, &exchange.NetworkError{
				Op: "GetBalanceInfo", Err: errors.New("connection reset"),
			}
		}
		return balances("BTC", "1"), nil
	}}
	strat := &fakeStrategy{}
	alerter := &fakeAlerter{}
	e := newTestEngine(t, testConfig(), api, strat, alerter)

	require.NoError(t, e.Start(context.Background()))

	// Cycle 2's balance fetch fails; cycle 3 must still run its strategy.
	require.Eventually(t, func() bool { return api.calls() >= 3 },
		2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return strat.executions.Load() >= 2 },
		2*time.Second, time.Millisecond, "strategy must run on the cycles around the fault")

	assert.True(t, e.IsRunning(), "a network fault must not stop the engine")
	assert.Zero(t, alerter.sendCount(), "a network fault must not alert")
	e.Shutdown()
}

func TestStrategyFaultHaltsWithOneAlert(t *testing.T) {
	api := &fakeAPI{}
	strat := &fakeStrategy{execFn: func(int64) error {
		return &strategy.Error{StrategyID: "scalper[btcusd]", Err: errors.New("auth rejected")}
	}}
	alerter := &fakeAlerter{}
	e := newTestEngine(t, testConfig(), api, strat, alerter)

	require.NoError(t, e.Start(context.Background()))
	waitForState(t, e, StateStopped)

	require.Equal(t, 1, alerter.sendCount())
	alertText := alerter.lastAlert()
	assert.Contains(t, alertText, "fake-exchange")
	assert.Contains(t, alertText, "auth rejected")
	assert.Contains(t, alertText, "Stack trace")
}

func TestStrategyNetworkFaultRetriesNextCycle(t *testing.T) {
	api := &fakeAPI{}
	strat := &fakeStrategy{execFn: func(call int64) error {
		if call == 1 {
			return &exchange.NetworkError{Op: "GetMarketOrders", Err: errors.New("timeout")}
		}
		return nil
	}}
	alerter := &fakeAlerter{}
	e := newTestEngine(t, testConfig(), api, strat, alerter)

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return strat.executions.Load() >= 3 },
		2*time.Second, time.Millisecond)

	assert.True(t, e.IsRunning())
	assert.Zero(t, alerter.sendCount())
	e.Shutdown()
}

func TestPanicInStrategyIsCaughtAndFatal(t *testing.T) {
	api := &fakeAPI{}
	strat := &fakeStrategy{execFn: func(int64) error {
		panic("index out of range")
	}}
	alerter := &fakeAlerter{}
	e := newTestEngine(t, testConfig(), api, strat, alerter)

	require.NoError(t, e.Start(context.Background()))
	waitForState(t, e, StateStopped)

	require.Equal(t, 1, alerter.sendCount())
	assert.Contains(t, alerter.lastAlert(), "index out of range")
}

func TestStrategiesExecuteInConfigurationOrder(t *testing.T) {
	api := &fakeAPI{}
	alerter := &fakeAlerter{}

	var mu sync.Mutex
	var order []string
	mkStrategy := func(name string) *fakeStrategy {
		return &fakeStrategy{execFn: func(int64) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}}
	}

	bindings := []Binding{
		{Market: models.Market{ID: "btcusd"}, Strategy: mkStrategy("btcusd")},
		{Market: models.Market{ID: "ethusd"}, Strategy: mkStrategy("ethusd")},
		{Market: models.Market{ID: "ltcusd"}, Strategy: mkStrategy("ltcusd")},
	}
	e, err := New(testConfig(), api, bindings, alerter)
	require.NoError(t, err)

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) >= 6
	}, 2*time.Second, time.Millisecond)
	e.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i+2 < len(order); i += 3 {
		assert.Equal(t, []string{"btcusd", "ethusd", "ltcusd"}, order[i:i+3],
			"cycle %d executed out of configuration order", i/3)
	}
}

func TestShutdownInterruptsSleep(t *testing.T) {
	cfg := testConfig()
	cfg.TradeCycleInterval = time.Hour

	api := &fakeAPI{}
	strat := &fakeStrategy{}
	e := newTestEngine(t, cfg, api, strat, &fakeAlerter{})

	require.NoError(t, e.Start(context.Background()))
	require.Eventually(t, func() bool { return strat.executions.Load() >= 1 },
		2*time.Second, time.Millisecond)

	start := time.Now()
	e.Shutdown()
	assert.Less(t, time.Since(start), 5*time.Second, "shutdown must not wait out the sleep")
	assert.Equal(t, StateStopped, e.State())
}

func TestStoppedEngineCannotRestart(t *testing.T) {
	api := &fakeAPI{}
	strat := &fakeStrategy{}
	e := newTestEngine(t, testConfig(), api, strat, &fakeAlerter{})

	require.NoError(t, e.Start(context.Background()))
	e.Shutdown()

	require.Error(t, e.Start(context.Background()), "Stopped is terminal")
}

func TestContextCancellationStopsLoop(t *testing.T) {
	api := &fakeAPI{}
	strat := &fakeStrategy{}
	e := newTestEngine(t, testConfig(), api, strat, &fakeAlerter{})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	require.Eventually(t, func() bool { return strat.executions.Load() >= 1 },
		2*time.Second, time.Millisecond)

	cancel()
	waitForState(t, e, StateStopped)
}
