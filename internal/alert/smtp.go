package alert

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"tradeflow/logger"
)

// SMTPConfig configures email alert delivery.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// SMTPAlerter delivers alerts by email. Sends are retried with
// exponential backoff: an alert only goes out when the bot is dying, so
// it is worth fighting a flaky mail server for.
type SMTPAlerter struct {
	cfg  SMTPConfig
	log  *logger.Entry
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPAlerter validates the configuration and returns the alerter.
func NewSMTPAlerter(cfg SMTPConfig) (*SMTPAlerter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp alerter: host is required")
	}
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("smtp alerter: port is required")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, fmt.Errorf("smtp alerter: from and to addresses are required")
	}
	return &SMTPAlerter{
		cfg:  cfg,
		log:  logger.GetLogger().WithComponent("smtp_alerter"),
		send: smtp.SendMail,
	}, nil
}

// SendMessage implements Alerter.
func (a *SMTPAlerter) SendMessage(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", a.cfg.Host, a.cfg.Port)

	var auth smtp.Auth
	if a.cfg.Username != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.Host)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		a.cfg.From, strings.Join(a.cfg.To, ", "), subject, body)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		return a.send(addr, auth, a.cfg.From, a.cfg.To, []byte(msg))
	}, policy)
	if err != nil {
		a.log.WithError(err).WithFields(logger.Fields{"host": a.cfg.Host}).
			Error("failed to deliver alert email")
		return fmt.Errorf("smtp alerter: %w", err)
	}

	a.log.WithFields(logger.Fields{"subject": subject, "recipients": len(a.cfg.To)}).
		Info("alert email delivered")
	return nil
}
