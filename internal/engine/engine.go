// Package engine drives the trading bot: one control loop that runs the
// emergency stop check and every bound strategy once per trade cycle,
// escalating faults according to a strict policy. Anything that is not
// recognized network flakiness halts trading and sends one critical
// alert, because silent partial failure in a trading system compounds
// into financial loss faster than a human can react.
package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradeflow/internal/alert"
	"tradeflow/internal/exchange"
	"tradeflow/internal/strategy"
	"tradeflow/logger"
	"tradeflow/models"
)

// State is the engine lifecycle state. Stopped is terminal; a stopped
// engine is not restarted, the process is.
type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateRunning    State = "RUNNING"
	StateStopped    State = "STOPPED"
)

// Config is the engine-level configuration snapshot taken at startup.
type Config struct {
	// TradeCycleInterval is the sleep between trade cycles.
	TradeCycleInterval time.Duration
	// EmergencyStopCurrency is the currency whose available balance the
	// guard watches. Empty disables the guard (paper trading only).
	EmergencyStopCurrency string
	// EmergencyStopBalance is the floor the available balance must stay
	// at or above. The comparison is strict less-than: a balance equal
	// to the floor trades on.
	EmergencyStopBalance decimal.Decimal
}

// Binding ties one enabled market to its initialized strategy instance.
// Bindings execute in configuration order within a cycle.
type Binding struct {
	Market   models.Market
	Strategy strategy.Strategy
}

// EmergencyStopError is the fatal fault raised when the guard trips,
// either because the watched balance fell below the floor or because the
// currency was missing from the balance response entirely.
type EmergencyStopError struct {
	Currency  string
	Available decimal.Decimal
	Threshold decimal.Decimal
	Missing   bool
}

func (e *EmergencyStopError) Error() string {
	if e.Missing {
		return fmt.Sprintf(
			"emergency stop currency %s missing from exchange balance response", e.Currency)
	}
	return fmt.Sprintf(
		"emergency stop triggered: available %s balance %s is below configured minimum %s",
		e.Currency, e.Available, e.Threshold)
}

// Engine owns the exchange adapter and the strategy instances for the
// lifetime of the process and runs them from a single goroutine; no
// strategy or adapter call ever runs concurrently with another.
type Engine struct {
	cfg      Config
	api      exchange.TradingAPI
	bindings []Binding
	alerter  alert.Alerter
	log      *logger.Entry

	mu     sync.Mutex
	state  State
	stopCh chan struct{}
	done   chan struct{}
}

// New wires an engine. The adapter and every binding must already be
// initialized. A nil alerter falls back to log-only alerts.
func New(cfg Config, api exchange.TradingAPI, bindings []Binding, alerter alert.Alerter) (*Engine, error) {
	if api == nil {
		return nil, fmt.Errorf("engine: trading api is required")
	}
	if cfg.TradeCycleInterval <= 0 {
		return nil, fmt.Errorf("engine: trade cycle interval must be positive")
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("engine: at least one market binding is required")
	}
	if alerter == nil {
		alerter = alert.LogAlerter{}
	}
	return &Engine{
		cfg:      cfg,
		api:      api,
		bindings: bindings,
		alerter:  alerter,
		log:      logger.GetLogger().WithComponent("engine"),
		state:    StateNotStarted,
	}, nil
}

// Start launches the control loop. It is rejected when the engine is
// already running or has been stopped; Stopped is terminal.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		return fmt.Errorf("engine already running")
	case StateStopped:
		return fmt.Errorf("engine has been stopped and cannot be restarted")
	}

	e.state = StateRunning
	e.stopCh = make(chan struct{})
	e.done = make(chan struct{})

	e.log.WithFields(logger.Fields{
		"adapter":        e.api.Name(),
		"markets":        len(e.bindings),
		"cycle_interval": e.cfg.TradeCycleInterval.String(),
		"stop_currency":  e.cfg.EmergencyStopCurrency,
		"stop_balance":   e.cfg.EmergencyStopBalance.String(),
	}).Info("starting trading engine")

	go e.run(ctx)
	return nil
}

// Shutdown cooperatively stops the loop: it interrupts any in-progress
// sleep and waits for the loop to observe the flag and exit. A strategy
// call already in progress is allowed to return normally first.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	done := e.done
	e.mu.Unlock()

	<-done
	e.log.Info("trading engine stopped")
}

// IsRunning reports whether the control loop is live.
func (e *Engine) IsRunning() bool {
	return e.State() == StateRunning
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) run(ctx context.Context) {
	defer func() {
		e.mu.Lock()
		e.state = StateStopped
		e.mu.Unlock()
		close(e.done)
	}()

	for {
		if e.stopRequested(ctx) {
			return
		}

		fatalErr := e.cycle(ctx)
		if fatalErr != nil {
			e.fatal(fatalErr)
			return
		}

		if !e.sleep(ctx) {
			return
		}
	}
}

// cycle runs one trade cycle and returns nil for a clean or retryable
// cycle, or the fault that must halt the engine. A panic anywhere in the
// cycle is the defensive catch-all: it is treated exactly like a
// strategy fault.
func (e *Engine) cycle(ctx context.Context) (fatalErr error) {
	defer func() {
		if r := recover(); r != nil {
			fatalErr = fmt.Errorf("unexpected panic in trade cycle: %v", r)
		}
	}()

	if err := e.checkEmergencyStop(ctx); err != nil {
		if exchange.IsNetworkError(err) {
			e.log.WithError(err).Error("network fault fetching balances, retrying next cycle")
			return nil
		}
		return err
	}

	for _, binding := range e.bindings {
		if e.stopRequested(ctx) {
			return nil
		}
		if err := binding.Strategy.Execute(ctx); err != nil {
			// Strategies swallow network faults themselves, but if one
			// leaks through it is still only network flakiness.
			if exchange.IsNetworkError(err) {
				e.log.WithError(err).WithFields(logger.Fields{
					"market": binding.Market.ID,
				}).Error("network fault during strategy execution, retrying next cycle")
				return nil
			}
			return fmt.Errorf("market %s: %w", binding.Market.ID, err)
		}
	}
	return nil
}

// checkEmergencyStop queries the available balance of the configured
// emergency stop currency before any strategy trades. A missing currency
// is a configuration/integrity fault, not a zero balance.
func (e *Engine) checkEmergencyStop(ctx context.Context) error {
	if e.cfg.EmergencyStopCurrency == "" {
		return nil
	}

	info, err := e.api.GetBalanceInfo(ctx)
	if err != nil {
		return err
	}

	available, ok := info.AvailableFor(e.cfg.EmergencyStopCurrency)
	if !ok {
		return &EmergencyStopError{Currency: e.cfg.EmergencyStopCurrency, Missing: true}
	}
	if available.LessThan(e.cfg.EmergencyStopBalance) {
		return &EmergencyStopError{
			Currency:  e.cfg.EmergencyStopCurrency,
			Available: available,
			Threshold: e.cfg.EmergencyStopBalance,
		}
	}

	e.log.WithFields(logger.Fields{
		"currency":  e.cfg.EmergencyStopCurrency,
		"available": available.String(),
		"minimum":   e.cfg.EmergencyStopBalance.String(),
	}).Debug("emergency stop check passed")
	return nil
}

// fatal logs the halt and sends exactly one critical alert. The engine is
// the single place that alerts and halts; no other component does either.
func (e *Engine) fatal(cause error) {
	e.log.WithError(cause).Error("FATAL: halting trading")

	subject, body := alert.FatalMessage(e.api.Name(), time.Now(), cause, debug.Stack())
	if err := e.alerter.SendMessage(subject, body); err != nil {
		e.log.WithError(err).Error("failed to deliver critical alert")
	}
}

// sleep waits out the trade cycle interval. It returns false when the
// engine was asked to stop during the wait.
func (e *Engine) sleep(ctx context.Context) bool {
	timer := time.NewTimer(e.cfg.TradeCycleInterval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-e.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) stopRequested(ctx context.Context) bool {
	select {
	case <-e.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
