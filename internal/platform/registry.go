package platform

import (
	"fmt"
	"io"
	"sort"
	"sync"
)

// FactoryOpts carries what a client factory may need.
type FactoryOpts struct {
	Out io.Writer
}

// Factory builds a Client.
type Factory func(opts FactoryOpts) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a client factory available under name. It panics on
// duplicate registration.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic("platform: duplicate registration for " + name)
	}
	registry[name] = f
}

// New builds the client registered under name.
func New(name string, opts FactoryOpts) (Client, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("platform: unknown platform %q (available: %v)", name, Names())
	}
	c, err := f(opts)
	if err != nil {
		return nil, fmt.Errorf("platform: build %s client: %w", name, err)
	}
	return c, nil
}

// Names lists the registered platform names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register("dryrun", func(opts FactoryOpts) (Client, error) {
		return NewDryRun(opts.Out), nil
	})
	Register("mock", func(FactoryOpts) (Client, error) {
		return NewMockClient(), nil
	})
}
