// Package resourcemgr implements the multi-dimensional resource pool
// and its allocation strategies. Allocation is always transactional:
// either every requested kind is reserved together, or none are.
package resourcemgr

import (
	"sync"

	"github.com/swarmguard/taskcore/internal/taskerr"
	"github.com/swarmguard/taskcore/internal/taskmodel"
)

// Strategy selects how a Manager decides whether/how to satisfy an
// allocation request.
type Strategy string

const (
	StrategyFirstFit      Strategy = "first_fit"
	StrategyBestFit       Strategy = "best_fit"
	StrategyWorstFit      Strategy = "worst_fit"
	StrategyLoadBalanced  Strategy = "load_balanced"
	StrategyOptimized     Strategy = "optimized"
)

// kindState tracks one resource dimension.
type kindState struct {
	total     float64
	allocated float64
	cost      float64 // per-unit weighting used by optimized
}

func (k kindState) available() float64 { return k.total - k.allocated }

// Allocation is a granted reservation held by a running task.
type Allocation struct {
	ID       string
	TaskID   string
	Requests []taskmodel.ResourceRequest
}

// Manager is the single-writer actor owning the resource pool.
// External callers only ever see Snapshot() results.
type Manager struct {
	mu       sync.Mutex
	kinds    map[string]*kindState
	strategy Strategy

	allocations map[string]*Allocation
	nextID      int

	warnings int // releasing an unknown allocation id is a no-op that bumps this
}

// NewManager constructs a pool with the given total capacity per kind
// and allocation strategy.
func NewManager(totals map[string]float64, strategy Strategy) *Manager {
	kinds := make(map[string]*kindState, len(totals))
	for k, v := range totals {
		kinds[k] = &kindState{total: v}
	}
	return &Manager{kinds: kinds, strategy: strategy, allocations: make(map[string]*Allocation)}
}

// SetKindCost assigns a per-unit cost weighting used by the optimized
// strategy; kinds without an explicit cost default to 1.
func (m *Manager) SetKindCost(kind string, cost float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.kinds[kind]
	if !ok {
		k = &kindState{}
		m.kinds[kind] = k
	}
	k.cost = cost
}

// SetStrategy switches the active allocation strategy.
func (m *Manager) SetStrategy(s Strategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = s
}

// Allocate grants the requested (kind, amount) pairs atomically, or
// returns InsufficientResourcesError for the first unmet request.
func (m *Manager) Allocate(taskID string, requests []taskmodel.ResourceRequest) (*Allocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered, err := m.plan(requests)
	if err != nil {
		return nil, err
	}

	// Transactional check: every kind must have enough available before
	// any is reserved.
	for _, req := range ordered {
		k, ok := m.kinds[req.Kind]
		if !ok {
			return nil, &taskerr.InsufficientResourcesError{Kind: req.Kind, Requested: req.Amount, Available: 0}
		}
		if req.Amount < 0 || k.available() < req.Amount {
			avail := 0.0
			if ok {
				avail = k.available()
			}
			return nil, &taskerr.InsufficientResourcesError{Kind: req.Kind, Requested: req.Amount, Available: avail}
		}
	}

	for _, req := range ordered {
		m.kinds[req.Kind].allocated += req.Amount
	}

	m.nextID++
	alloc := &Allocation{ID: allocID(m.nextID), TaskID: taskID, Requests: append([]taskmodel.ResourceRequest(nil), requests...)}
	m.allocations[alloc.ID] = alloc
	return alloc, nil
}

// Release returns an allocation's reservations to the pool. Releasing
// an unknown or already-released id is an idempotent no-op.
func (m *Manager) Release(allocationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	alloc, ok := m.allocations[allocationID]
	if !ok {
		m.warnings++
		return
	}
	for _, req := range alloc.Requests {
		if k, ok := m.kinds[req.Kind]; ok {
			k.allocated -= req.Amount
			if k.allocated < 0 {
				k.allocated = 0
			}
		}
	}
	delete(m.allocations, allocationID)
}

// ReleaseWarnings returns the number of no-op releases observed;
// callers surface it as a warning metric without this package taking
// a metrics dependency.
func (m *Manager) ReleaseWarnings() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.warnings
}

// KindSnapshot is a read-only view of one resource dimension.
type KindSnapshot struct {
	Kind      string
	Total     float64
	Allocated float64
	Available float64
}

// Snapshot returns the current state of every known kind.
func (m *Manager) Snapshot() []KindSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]KindSnapshot, 0, len(m.kinds))
	for kind, k := range m.kinds {
		out = append(out, KindSnapshot{Kind: kind, Total: k.total, Allocated: k.allocated, Available: k.available()})
	}
	return out
}

func allocID(n int) string {
	const prefix = "alloc-"
	digits := make([]byte, 0, 12)
	if n == 0 {
		digits = append(digits, '0')
	}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return prefix + string(digits)
}
