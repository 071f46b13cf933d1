package exchange

import (
	"fmt"
	"time"
)

// AuthenticationConfig holds named credential items (API key, secret, ...)
// as opaque strings. Values must never be logged.
type AuthenticationConfig map[string]string

// Item returns the named credential or an error when it is missing or
// empty. Adapters call this in their constructor so that a missing
// mandatory item fails at startup, not on first use.
func (a AuthenticationConfig) Item(name string) (string, error) {
	v, ok := a[name]
	if !ok || v == "" {
		return "", fmt.Errorf("missing mandatory authentication item %q", name)
	}
	return v, nil
}

// NetworkConfig carries the transport settings shared by all adapters.
// NonFatalErrorCodes lists HTTP-like status codes that should be retried
// on the next trade cycle instead of killing the bot; NonFatalErrorMessages
// are substrings matched against low-level transport error text (e.g.
// "Connection reset"). Both lists are treated as configuration data
// exactly as given.
type NetworkConfig struct {
	ConnectionTimeout     time.Duration
	NonFatalErrorCodes    []int
	NonFatalErrorMessages []string
}

// OtherConfig holds free-form adapter-specific settings, such as fee
// overrides or request rate limits.
type OtherConfig map[string]string

// Item returns the named setting and whether it was present.
func (o OtherConfig) Item(name string) (string, bool) {
	v, ok := o[name]
	return v, ok && v != ""
}

// AdapterConfig is everything an adapter receives at construction time.
// Any of the three sections may be empty, in which case the adapter uses
// its defaults.
type AdapterConfig struct {
	Authentication AuthenticationConfig
	Network        NetworkConfig
	Other          OtherConfig
}
