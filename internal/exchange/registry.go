package exchange

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a TradingAPI from its configuration. A factory must fail
// fast on missing mandatory items (e.g. an absent API key) rather than
// failing on first use.
type Factory func(cfg AdapterConfig) (TradingAPI, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an adapter available under the given configuration id.
// Adapter packages call this from init, database/sql driver style.
// Registering the same id twice panics; that is a programming error.
func Register(id string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("exchange: Register called with nil factory")
	}
	if _, dup := registry[id]; dup {
		panic(fmt.Sprintf("exchange: adapter %q registered twice", id))
	}
	registry[id] = factory
}

// New resolves the configured adapter id and constructs the adapter.
// An unknown id is a configuration fault.
func New(id string, cfg AdapterConfig) (TradingAPI, error) {
	registryMu.RLock()
	factory, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown exchange adapter %q (registered: %v)", id, registeredIDs())
	}
	return factory(cfg)
}

func registeredIDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
