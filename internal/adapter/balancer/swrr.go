package balancer

import (
	"context"
	"sort"
	"sync"

	"github.com/poolgate/poolgate/internal/core/domain"
)

// SmoothWeightedSelector implements nginx-style smooth weighted round
// robin. Each endpoint carries a signed running weight per pool; every
// pick raises all running weights by their effective weight, takes the
// largest, and lowers the winner by the weight total. Mixed weights
// interleave smoothly instead of bursting on the heavy endpoint
// (weights {5,1,1} dispatch A,A,B,A,C,A,A,...).
type SmoothWeightedSelector struct {
	state map[domain.PoolType]map[int64]int
	mu    sync.Mutex
}

func NewSmoothWeightedSelector() *SmoothWeightedSelector {
	return &SmoothWeightedSelector{
		state: make(map[domain.PoolType]map[int64]int),
	}
}

func (s *SmoothWeightedSelector) Name() string {
	return DefaultBalancerSmoothWeighted
}

// Select picks the next endpoint for the pool. Candidates are assumed
// pre-filtered for availability; ties break on the lowest endpoint id so
// iteration order is stable across calls. Running-weight entries for
// endpoints no longer in the candidate set are pruned on every call,
// otherwise deleted or parked endpoints would leak state.
func (s *SmoothWeightedSelector) Select(ctx context.Context, pool domain.PoolType, candidates []*domain.SelectedEndpoint) (*domain.SelectedEndpoint, error) {
	if len(candidates) == 0 {
		return nil, &domain.NoEndpointError{Pool: pool}
	}

	ordered := make([]*domain.SelectedEndpoint, len(candidates))
	copy(ordered, candidates)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].EndpointID < ordered[j].EndpointID
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state[pool]
	if !ok {
		current = make(map[int64]int, len(ordered))
		s.state[pool] = current
	}

	available := make(map[int64]struct{}, len(ordered))
	for _, c := range ordered {
		available[c.EndpointID] = struct{}{}
	}
	for id := range current {
		if _, ok := available[id]; !ok {
			delete(current, id)
		}
	}

	total := 0
	var best *domain.SelectedEndpoint
	for _, c := range ordered {
		w := c.EffectiveWeight()
		total += w
		current[c.EndpointID] += w
		if best == nil || current[c.EndpointID] > current[best.EndpointID] {
			best = c
		}
	}
	current[best.EndpointID] -= total

	return best, nil
}

// Reset drops all running-weight state, for tests and admin resets.
func (s *SmoothWeightedSelector) Reset() {
	s.mu.Lock()
	s.state = make(map[domain.PoolType]map[int64]int)
	s.mu.Unlock()
}
