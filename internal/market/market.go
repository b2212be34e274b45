// Package market models the tradable indices banks invest in. Prices respond
// to aggregate net flow plus a volatility draw plus short-term momentum.
package market

import (
	"math/rand"
)

// Default price-formation constants.
const (
	DefaultPriceSensitivity = 0.002
	DefaultVolatility       = 0.03
	DefaultInitialPrice     = 100.0

	// Prices never fall below this floor.
	PriceFloor = 1.0

	momentumWeight = 0.1
)

// Market is a single tradable index. It is not a strategic agent: it only
// reacts to the net flow recorded against it each step.
type Market struct {
	ID            string
	Name          string
	InitialPrice  float64
	Price         float64
	TotalInvested float64

	PriceHistory []float64
	FlowHistory  []float64

	PriceSensitivity float64
	Volatility       float64

	// pendingImpact accumulates forced-liquidation price pressure that lands
	// on the next flow application.
	pendingImpact float64
}

// New creates a market at its initial price.
func New(id, name string, initialPrice float64) *Market {
	if initialPrice <= 0 {
		initialPrice = DefaultInitialPrice
	}
	return &Market{
		ID:               id,
		Name:             name,
		InitialPrice:     initialPrice,
		Price:            initialPrice,
		PriceHistory:     []float64{initialPrice},
		PriceSensitivity: DefaultPriceSensitivity,
		Volatility:       DefaultVolatility,
	}
}

// Momentum returns the short-term price momentum term: a fraction of the move
// between the last price and the price two observations before it. Zero until
// three prices exist.
func (m *Market) Momentum() float64 {
	n := len(m.PriceHistory)
	if n < 3 {
		return 0
	}
	return momentumWeight * (m.PriceHistory[n-1] - m.PriceHistory[n-3])
}

// RecordImpact queues price pressure (e.g. from a fire sale) to be applied on
// the next flow application.
func (m *Market) RecordImpact(delta float64) {
	m.pendingImpact += delta
}

// ApplyFlow moves the price in response to the step's net flow. The update is
// net·sensitivity + uniform(−vol, +vol)·price + momentum, floored at PriceFloor.
func (m *Market) ApplyFlow(net float64, rng *rand.Rand) {
	noise := (rng.Float64()*2 - 1) * m.Volatility * m.Price
	delta := net*m.PriceSensitivity + noise + m.Momentum() + m.pendingImpact
	m.pendingImpact = 0

	m.Price += delta
	if m.Price < PriceFloor {
		m.Price = PriceFloor
	}

	m.TotalInvested += net
	m.PriceHistory = append(m.PriceHistory, m.Price)
	m.FlowHistory = append(m.FlowHistory, net)
}

// Return is the cumulative return relative to the initial price.
func (m *Market) Return() float64 {
	return (m.Price - m.InitialPrice) / m.InitialPrice
}

// Snapshot captures the market state for step_end events.
type Snapshot struct {
	MarketID      string  `json:"market_id"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	TotalInvested float64 `json:"total_invested"`
	Return        float64 `json:"return"`
}

// Snapshot returns the current observable market state.
func (m *Market) Snapshot() Snapshot {
	return Snapshot{
		MarketID:      m.ID,
		Name:          m.Name,
		Price:         m.Price,
		TotalInvested: m.TotalInvested,
		Return:        m.Return(),
	}
}
