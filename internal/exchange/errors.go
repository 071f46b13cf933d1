package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// NetworkError is a transient transport fault: a timeout, a connection
// reset, or a response matching the adapter's configured non-fatal
// codes/messages. The control loop recovers from it by retrying on the
// next trade cycle.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network fault: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is any other adapter-reported failure: rejected
// authentication, a malformed response, or an unexpected status that is
// not in the non-fatal list. It is always fatal at the engine level.
type APIError struct {
	Op  string
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: exchange api fault: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsNetworkError reports whether err (anywhere in its chain) is a
// retryable network fault.
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsAPIError reports whether err (anywhere in its chain) is a fatal
// exchange API fault.
func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}

// Classifier decides whether a failure from an exchange is retryable,
// based on the adapter's NetworkConfig. Misclassification is dangerous in
// both directions: a fatal condition flagged transient retries forever
// against a broken exchange, while a transient blip flagged fatal kills
// the bot for nothing. The configured code and substring lists are used
// exactly as given.
type Classifier struct {
	cfg NetworkConfig
}

// NewClassifier creates a Classifier for the given network configuration.
func NewClassifier(cfg NetworkConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// ClassifyTransport wraps a transport-level error. Timeouts, connection
// resets and errors whose text matches a configured non-fatal message are
// retryable; anything else is fatal.
func (c *Classifier) ClassifyTransport(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) || isConnectionFault(err) || c.matchesMessage(err.Error()) {
		return &NetworkError{Op: op, Err: err}
	}
	return &APIError{Op: op, Err: err}
}

// ClassifyStatus wraps a failure the exchange reported through an
// HTTP-like status code. Codes in the configured non-fatal list, and
// messages matching a configured substring, are retryable.
func (c *Classifier) ClassifyStatus(op string, status int, message string) error {
	err := fmt.Errorf("status %d: %s", status, message)
	for _, code := range c.cfg.NonFatalErrorCodes {
		if code == status {
			return &NetworkError{Op: op, Err: err}
		}
	}
	if c.matchesMessage(message) {
		return &NetworkError{Op: op, Err: err}
	}
	return &APIError{Op: op, Err: err}
}

func (c *Classifier) matchesMessage(msg string) bool {
	for _, substr := range c.cfg.NonFatalErrorMessages {
		if substr != "" && strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionFault(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, net.ErrClosed)
}
