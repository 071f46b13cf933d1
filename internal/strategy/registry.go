package strategy

import (
	"fmt"
	"sort"
	"sync"
)

// Factory creates a fresh, uninitialized strategy instance. Each market
// binding gets its own instance so per-market state never aliases.
type Factory func() Strategy

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a strategy implementation available under the given
// configuration id. Implementation packages call this from init.
func Register(id string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if factory == nil {
		panic("strategy: Register called with nil factory")
	}
	if _, dup := registry[id]; dup {
		panic(fmt.Sprintf("strategy: %q registered twice", id))
	}
	registry[id] = factory
}

// New resolves the configured implementation id to a new instance. An
// unknown id is a configuration fault.
func New(id string) (Strategy, error) {
	registryMu.RLock()
	factory, ok := registry[id]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy implementation %q (registered: %v)", id, registeredIDs())
	}
	return factory(), nil
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
