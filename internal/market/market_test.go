package market

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarket_ApplyFlowMovesPriceAndHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	m := New("BANK_INDEX", "Bank Sector Index", 100.0)

	m.ApplyFlow(500, rng)

	require.Len(t, m.PriceHistory, 2)
	assert.Equal(t, 100.0, m.PriceHistory[0], "history starts with the initial price")
	assert.InDelta(t, 500.0, m.TotalInvested, 1e-9)
	assert.Len(t, m.FlowHistory, 1)
}

func TestMarket_PriceFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	m := New("X", "X", 2.0)

	// Massive outflow pushes the price well below the floor.
	for i := 0; i < 10; i++ {
		m.ApplyFlow(-1e6, rng)
		assert.GreaterOrEqual(t, m.Price, PriceFloor)
	}
}

func TestMarket_MomentumNeedsThreePoints(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	m := New("X", "X", 100.0)
	assert.Zero(t, m.Momentum())

	m.ApplyFlow(100, rng)
	assert.Zero(t, m.Momentum(), "two points are not enough")

	m.ApplyFlow(100, rng)
	n := len(m.PriceHistory)
	want := 0.1 * (m.PriceHistory[n-1] - m.PriceHistory[n-3])
	assert.InDelta(t, want, m.Momentum(), 1e-12)
}

func TestMarket_ReturnRelativeToInitial(t *testing.T) {
	m := New("X", "X", 100.0)
	m.Price = 110.0
	assert.InDelta(t, 0.10, m.Return(), 1e-12)

	m.Price = 90.0
	assert.InDelta(t, -0.10, m.Return(), 1e-12)
}

func TestMarket_Determinism(t *testing.T) {
	run := func() []float64 {
		rng := rand.New(rand.NewSource(99))
		m := New("X", "X", 100.0)
		for i := 0; i < 20; i++ {
			m.ApplyFlow(float64(i*10-50), rng)
		}
		return m.PriceHistory
	}
	assert.Equal(t, run(), run(), "same seed must give the same price path")
}

func TestSystem_RecordAndApplyFlows(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	s := NewDefaultSystem()

	s.RecordFlow("BANK_INDEX", 100)
	s.RecordFlow("BANK_INDEX", 50)
	s.RecordFlow("NO_SUCH_MARKET", 1e9) // ignored

	s.ApplyAllFlows(rng)

	assert.InDelta(t, 150.0, s.Get("BANK_INDEX").TotalInvested, 1e-9)
	assert.InDelta(t, 0.0, s.Get("FIN_SERVICES").TotalInvested, 1e-9)

	// Accumulators reset after application.
	s.ApplyAllFlows(rng)
	assert.InDelta(t, 150.0, s.Get("BANK_INDEX").TotalInvested, 1e-9)
}

func TestSystem_StableIDOrder(t *testing.T) {
	s := NewSystem()
	s.Add(New("ZULU", "Z", 100))
	s.Add(New("ALPHA", "A", 100))
	s.Add(New("MIKE", "M", 100))
	assert.Equal(t, []string{"ALPHA", "MIKE", "ZULU"}, s.IDs())
}

func TestMarket_PendingImpactAppliedOnce(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	m := New("X", "X", 100.0)
	m.Volatility = 0 // isolate the impact term

	m.RecordImpact(-10)
	m.ApplyFlow(0, rng)
	assert.InDelta(t, 90.0, m.Price, 1e-9)

	m.ApplyFlow(0, rng)
	assert.InDelta(t, 90.0, m.Price, 1e-9, "impact must not repeat")
}
