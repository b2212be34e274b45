package market

import (
	"math/rand"
	"sort"
)

// System holds all markets of a session plus the per-step pending-flow
// accumulator. Flows recorded during a step are applied in one batch so the
// bank/market cycle is broken by phase ordering rather than references.
type System struct {
	markets      map[string]*Market
	pendingFlows map[string]float64
}

// NewSystem creates an empty market system.
func NewSystem() *System {
	return &System{
		markets:      make(map[string]*Market),
		pendingFlows: make(map[string]float64),
	}
}

// Add registers a market. Replaces any market with the same id.
func (s *System) Add(m *Market) {
	s.markets[m.ID] = m
	s.pendingFlows[m.ID] = 0
}

// Get returns the market with the given id, or nil.
func (s *System) Get(id string) *Market {
	return s.markets[id]
}

// IDs returns the market ids in stable sorted order.
func (s *System) IDs() []string {
	ids := make([]string, 0, len(s.markets))
	for id := range s.markets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of markets.
func (s *System) Len() int {
	return len(s.markets)
}

// RecordFlow accumulates a pending flow against a market. Unknown ids are a
// no-op.
func (s *System) RecordFlow(id string, amount float64) {
	if _, ok := s.pendingFlows[id]; ok {
		s.pendingFlows[id] += amount
	}
}

// ApplyAllFlows applies each market's accumulated net flow once, in stable id
// order, then zeroes the accumulators.
func (s *System) ApplyAllFlows(rng *rand.Rand) {
	for _, id := range s.IDs() {
		s.markets[id].ApplyFlow(s.pendingFlows[id], rng)
		s.pendingFlows[id] = 0
	}
}

// AverageMomentum returns the mean momentum across markets, zero when none
// exist. Used by the margin phase.
func (s *System) AverageMomentum() float64 {
	if len(s.markets) == 0 {
		return 0
	}
	var sum float64
	for _, m := range s.markets {
		sum += m.Momentum()
	}
	return sum / float64(len(s.markets))
}

// Snapshots returns per-market snapshots in stable id order.
func (s *System) Snapshots() []Snapshot {
	out := make([]Snapshot, 0, len(s.markets))
	for _, id := range s.IDs() {
		out = append(out, s.markets[id].Snapshot())
	}
	return out
}

// NewDefaultSystem creates the standard two-index system used when a session
// config does not specify markets.
func NewDefaultSystem() *System {
	s := NewSystem()
	s.Add(New("BANK_INDEX", "Bank Sector Index", DefaultInitialPrice))
	s.Add(New("FIN_SERVICES", "Financial Services Index", DefaultInitialPrice))
	return s
}
