package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tradeflow/config"
	"tradeflow/internal/alert"
	"tradeflow/internal/engine"
	"tradeflow/internal/exchange"
	"tradeflow/internal/strategy"
	"tradeflow/logger"

	// Registered exchange adapters.
	_ "tradeflow/internal/exchange/binance"
	_ "tradeflow/internal/exchange/paper"

	// Registered strategies.
	_ "tradeflow/internal/strategy/scalper"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Tradeflow.Name,
		"version": cfg.Tradeflow.Version,
	}).Info("starting tradeflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerter := buildAlerter(ctx, cfg, log)

	api, err := exchange.New(cfg.Exchange.Adapter, exchange.AdapterConfig{
		Authentication: exchange.AuthenticationConfig(cfg.Exchange.Authentication),
		Network: exchange.NetworkConfig{
			ConnectionTimeout:     cfg.Exchange.Network.ConnectionTimeout(),
			NonFatalErrorCodes:    cfg.Exchange.Network.NonFatalErrorCodes,
			NonFatalErrorMessages: cfg.Exchange.Network.NonFatalErrorMessages,
		},
		Other: exchange.OtherConfig(cfg.Exchange.Other),
	})
	if err != nil {
		log.WithError(err).Error("failed to create exchange adapter")
		os.Exit(1)
	}

	bindings, err := buildBindings(cfg, api)
	if err != nil {
		log.WithError(err).Error("failed to build market bindings")
		os.Exit(1)
	}

	eng, err := engine.New(engine.Config{
		TradeCycleInterval:    cfg.Engine.TradeCycleInterval(),
		EmergencyStopCurrency: cfg.Engine.EmergencyStopCurrency,
		EmergencyStopBalance:  cfg.Engine.EmergencyStopBalanceDecimal(),
	}, api, bindings, alerter)
	if err != nil {
		log.WithError(err).Error("failed to create engine")
		os.Exit(1)
	}

	if err := eng.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start engine")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"adapter": api.Name(),
		"markets": len(bindings),
	}).Info("engine started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	eng.Shutdown()

	log.Info("tradeflow stopped")
}

// buildAlerter assembles the configured alert sinks. With no sink
// enabled, fatal alerts still land in the log.
func buildAlerter(ctx context.Context, cfg *config.Config, log *logger.Log) alert.Alerter {
	var sinks alert.Multi

	if cfg.Alerts.SMTP.Enabled {
		smtp, err := alert.NewSMTPAlerter(alert.SMTPConfig{
			Host:     cfg.Alerts.SMTP.Host,
			Port:     cfg.Alerts.SMTP.Port,
			Username: cfg.Alerts.SMTP.Username,
			Password: cfg.Alerts.SMTP.Password,
			From:     cfg.Alerts.SMTP.From,
			To:       cfg.Alerts.SMTP.To,
		})
		if err != nil {
			log.WithError(err).Error("failed to create SMTP alerter")
			os.Exit(1)
		}
		sinks = append(sinks, smtp)
	}

	if cfg.Alerts.CloudWatch.Enabled {
		cw, err := alert.NewCloudWatchAlerter(ctx, alert.CloudWatchConfig{
			Region:          cfg.Alerts.CloudWatch.Region,
			Namespace:       cfg.Alerts.CloudWatch.Namespace,
			AccessKeyID:     cfg.Alerts.CloudWatch.AccessKeyID,
			SecretAccessKey: cfg.Alerts.CloudWatch.SecretAccessKey,
		})
		if err != nil {
			log.WithError(err).Error("failed to create CloudWatch alerter")
			os.Exit(1)
		}
		sinks = append(sinks, cw)
	}

	if len(sinks) == 0 {
		return alert.LogAlerter{}
	}
	return sinks
}

// buildBindings creates one initialized strategy instance per enabled
// market, in configuration order.
func buildBindings(cfg *config.Config, api exchange.TradingAPI) ([]engine.Binding, error) {
	var bindings []engine.Binding
	for _, m := range cfg.EnabledMarkets() {
		sc, _ := cfg.StrategyByID(m.Strategy)
		s, err := strategy.New(sc.Impl)
		if err != nil {
			return nil, err
		}
		if err := s.Init(api, m.Market(), strategy.Config(sc.Config)); err != nil {
			return nil, err
		}
		bindings = append(bindings, engine.Binding{Market: m.Market(), Strategy: s})
	}
	return bindings, nil
}
