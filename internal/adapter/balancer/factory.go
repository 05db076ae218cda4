// Package balancer hosts endpoint selection: the smooth weighted round
// robin strategy and the pool manager that feeds it with available
// candidates.
package balancer

import (
	"fmt"
	"sync"

	"github.com/poolgate/poolgate/internal/core/ports"
)

const DefaultBalancerSmoothWeighted = "smooth-weighted-round-robin"

type Factory struct {
	creators map[string]func() ports.EndpointSelector
	mu       sync.RWMutex
}

func NewFactory() *Factory {
	factory := &Factory{
		creators: make(map[string]func() ports.EndpointSelector),
	}

	factory.Register(DefaultBalancerSmoothWeighted, func() ports.EndpointSelector {
		return NewSmoothWeightedSelector()
	})

	return factory
}

func (f *Factory) Register(name string, creator func() ports.EndpointSelector) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[name] = creator
}

func (f *Factory) Create(name string) (ports.EndpointSelector, error) {
	f.mu.RLock()
	creator, exists := f.creators[name]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown balancer strategy: %s", name)
	}

	return creator(), nil
}

func (f *Factory) AvailableStrategies() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	strategies := make([]string, 0, len(f.creators))
	for name := range f.creators {
		strategies = append(strategies, name)
	}
	return strategies
}
