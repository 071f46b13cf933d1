// Package alert delivers critical notifications. The engine sends
// exactly one alert per fatal halt; everything else goes through the
// normal logs.
package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeflow/logger"
)

// Alerter is the sink the engine notifies on fatal conditions only.
type Alerter interface {
	SendMessage(subject, body string) error
}

// FatalMessage renders the standard critical-alert body: the adapter the
// bot was trading through, when it died, why, and the stack at the fatal
// site.
func FatalMessage(adapterName string, at time.Time, cause error, stack []byte) (subject, body string) {
	subject = fmt.Sprintf("CRITICAL: trading bot halted (%s)", adapterName)

	var b strings.Builder
	fmt.Fprintf(&b, "Event ID: %s\n", uuid.NewString())
	fmt.Fprintf(&b, "Exchange adapter: %s\n", adapterName)
	fmt.Fprintf(&b, "Event time: %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Cause: %v\n", cause)
	if len(stack) > 0 {
		fmt.Fprintf(&b, "\nStack trace:\n%s", stack)
	}
	return subject, b.String()
}

// LogAlerter writes alerts to the structured log only. It is the fallback
// when no delivery transport is configured, so a fatal halt is always
// visible somewhere.
type LogAlerter struct{}

// SendMessage implements Alerter.
func (LogAlerter) SendMessage(subject, body string) error {
	logger.GetLogger().WithComponent("alerter").WithFields(logger.Fields{
		"subject": subject,
		"body":    body,
	}).Error("critical alert")
	return nil
}

// Multi fans one alert out to several sinks. Delivery failures are
// collected so one broken sink cannot mute the others.
type Multi []Alerter

// SendMessage implements Alerter.
func (m Multi) SendMessage(subject, body string) error {
	var errs []error
	for _, a := range m {
		if err := a.SendMessage(subject, body); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("alert delivery failed on %d of %d sinks: %v", len(errs), len(m), errs)
	}
	return nil
}
