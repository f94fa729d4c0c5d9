package resourcemgr

import (
	"sort"

	"github.com/swarmguard/taskcore/internal/taskerr"
	"github.com/swarmguard/taskcore/internal/taskmodel"
)

// plan orders a request set per the active strategy before the
// transactional availability check runs. Ordering never changes
// whether a request set succeeds (the check is all-or-nothing
// regardless of order) — it changes which kind is reported first when
// a set can't be satisfied, and which pool absorbs contention under
// load_balanced/optimized when amounts are equal across kinds.
func (m *Manager) plan(requests []taskmodel.ResourceRequest) ([]taskmodel.ResourceRequest, error) {
	if len(requests) == 0 {
		return nil, nil
	}
	for _, req := range requests {
		if req.Amount < 0 {
			return nil, &taskerr.InsufficientResourcesError{Kind: req.Kind, Requested: req.Amount, Available: 0}
		}
	}

	ordered := append([]taskmodel.ResourceRequest(nil), requests...)

	switch m.strategy {
	case StrategyBestFit:
		// Tightest headroom first: the kind with the least amount
		// currently available (the requested amount is not subtracted)
		// is the one most likely to be the binding constraint, so
		// surface it first.
		sort.SliceStable(ordered, func(i, j int) bool {
			return m.headroom(ordered[i]) < m.headroom(ordered[j])
		})
	case StrategyWorstFit:
		// Placeholder: identical to first_fit pending a real
		// fragmentation-minimizing variant.
		fallthrough
	case StrategyFirstFit:
		// Declaration order, unmodified.
	case StrategyLoadBalanced:
		// Most available headroom first, spreading contention away from
		// the tightest pools.
		sort.SliceStable(ordered, func(i, j int) bool {
			return m.headroom(ordered[i]) > m.headroom(ordered[j])
		})
	case StrategyOptimized:
		// Cost-weighted: kinds are ordered cheapest-per-unit first, so
		// an unsatisfiable set reports the cheapest kind that cannot be
		// met, not the most expensive one.
		sort.SliceStable(ordered, func(i, j int) bool {
			return m.unitCost(ordered[i].Kind) < m.unitCost(ordered[j].Kind)
		})
	default:
		// Unknown strategy behaves as first_fit.
	}
	return ordered, nil
}

func (m *Manager) headroom(req taskmodel.ResourceRequest) float64 {
	k, ok := m.kinds[req.Kind]
	if !ok {
		return 0
	}
	return k.available()
}

func (m *Manager) unitCost(kind string) float64 {
	k, ok := m.kinds[kind]
	if !ok || k.cost == 0 {
		return 1
	}
	return k.cost
}
