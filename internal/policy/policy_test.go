package policy

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemiq/banknet/internal/bank"
)

func healthyObs() bank.Observation {
	return bank.Observation{
		BankID:         1,
		Equity:         100,
		Cash:           120,
		Leverage:       2.0,
		LiquidityRatio: 0.5,
		RiskAppetite:   0.5,
		HasMarkets:     true,
	}
}

func TestRuleBasedOracle_DecisionTable(t *testing.T) {
	oracle := RuleBasedOracle{}

	cases := []struct {
		name string
		obs  bank.Observation
		want bank.Priority
	}{
		{"high stress", bank.Observation{LocalStress: 0.6, Cash: 100, Equity: 100}, bank.PriorityStability},
		{"thin equity", bank.Observation{Equity: 10, Cash: 100, LiquidityRatio: 0.5}, bank.PriorityLiquidity},
		{"thin cash", bank.Observation{Equity: 100, Cash: 10, LiquidityRatio: 0.5}, bank.PriorityLiquidity},
		{"over-levered", bank.Observation{Equity: 100, Cash: 100, Leverage: 6, LiquidityRatio: 0.5}, bank.PriorityStability},
		{"illiquid", bank.Observation{Equity: 100, Cash: 100, Leverage: 2, LiquidityRatio: 0.1}, bank.PriorityLiquidity},
		{"aggressive", bank.Observation{Equity: 20, Cash: 20, Leverage: 2, LiquidityRatio: 0.5, RiskAppetite: 0.7}, bank.PriorityProfit},
		{"healthy", healthyObs(), bank.PriorityProfit},
		{"moderate stress", bank.Observation{Equity: 100, Cash: 100, Leverage: 4, LiquidityRatio: 0.5}, bank.PriorityStability},
		{"borderline", bank.Observation{Equity: 10, Cash: 20, Leverage: 2, LiquidityRatio: 0.5}, bank.PriorityLiquidity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := oracle.Priority(tc.obs)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

type countingOracle struct {
	calls int
	fail  bool
}

func (c *countingOracle) Priority(bank.Observation) (bank.Priority, error) {
	c.calls++
	if c.fail {
		return "", errors.New("upstream unavailable")
	}
	return bank.PriorityProfit, nil
}

func TestCachedOracle_HitsWithinTTL(t *testing.T) {
	inner := &countingOracle{}
	cached := NewCachedOracle(inner, 30*time.Second)

	obs := healthyObs()
	_, err := cached.Priority(obs)
	require.NoError(t, err)

	// Small drift stays in the same buckets.
	obs.Cash += 3
	_, err = cached.Priority(obs)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedOracle_ExpiryAndErrors(t *testing.T) {
	inner := &countingOracle{}
	cached := NewCachedOracle(inner, time.Minute)
	now := time.Now()
	cached.now = func() time.Time { return now }

	obs := healthyObs()
	_, err := cached.Priority(obs)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = cached.Priority(obs)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls, "expired entry must re-consult")

	inner.fail = true
	now = now.Add(2 * time.Minute)
	_, err = cached.Priority(obs)
	assert.Error(t, err, "errors pass through uncached")
}

func TestPayoffMatrix_DistressFlipsToHoard(t *testing.T) {
	// Stable market with low stress favours lending.
	stable := buildPayoffMatrix(100, 2.0, 0.5, 0.0, marketStable)
	action, _ := stable.bestResponse(0.7)
	assert.Equal(t, gameLend, action)

	// Heavy stress in a distressed market favours hoarding.
	distressed := buildPayoffMatrix(100, 4.0, 0.1, 1.0, marketDistressed)
	action, _ = distressed.bestResponse(0.15)
	assert.Equal(t, gameHoard, action)
}

func TestEstimateMarketCondition(t *testing.T) {
	assert.Equal(t, marketStable, estimateMarketCondition(0, 0, 0.5))
	assert.Equal(t, marketDistressed, estimateMarketCondition(0.8, 0.3, 0.2))
}

func TestEstimateOthersLendProb_Clamped(t *testing.T) {
	assert.InDelta(t, 0.7, estimateOthersLendProb(marketStable, 0), 1e-9)
	assert.InDelta(t, 0.3, estimateOthersLendProb(marketDistressed, 0), 1e-9)
	assert.InDelta(t, 0.15, estimateOthersLendProb(marketDistressed, 1.0), 1e-9)
	assert.GreaterOrEqual(t, estimateOthersLendProb(marketDistressed, 1.0), 0.1)
}

func TestEngine_HeuristicEmergencyRules(t *testing.T) {
	e := NewEngine(false, rand.New(rand.NewSource(1)))

	obs := bank.Observation{Cash: 5, Equity: 50, MarketExposure: 0.2, TotalInvested: 1}
	action, reason := e.SelectAction(obs, "", 0)
	assert.Equal(t, bank.DivestMarket, action)
	assert.Contains(t, reason, "emergency")

	obs = bank.Observation{Cash: 5, Equity: 50, MarketExposure: 0.0}
	action, _ = e.SelectAction(obs, "", 0)
	assert.Equal(t, bank.DecreaseLending, action)
}

func TestEngine_HeuristicHoardsWithoutMarkets(t *testing.T) {
	e := NewEngine(false, rand.New(rand.NewSource(1)))
	obs := bank.Observation{Cash: 100, Equity: 100, LiquidityRatio: 0.8, HasMarkets: false}
	action, _ := e.SelectAction(obs, "", 0)
	assert.Equal(t, bank.HoardCash, action)
}

func TestEngine_StabilityPriorityNeverZerosInvestment(t *testing.T) {
	// Over many draws a STABILITY-priority bank must still invest sometimes.
	e := NewEngine(false, rand.New(rand.NewSource(7)))
	obs := healthyObs()
	obs.RiskAppetite = 0.9

	invested := false
	for i := 0; i < 500; i++ {
		action, _ := e.SelectAction(obs, bank.PriorityStability, 0)
		if action == bank.InvestMarket {
			invested = true
			break
		}
	}
	assert.True(t, invested, "STABILITY scales investment probability, never zeroes it")
}

func TestEngine_ProfitTakingUrge(t *testing.T) {
	e := NewEngine(false, rand.New(rand.NewSource(11)))
	obs := healthyObs()
	obs.TotalInvested = 50
	obs.BestMarketReturn = 0.25
	obs.LiquidityRatio = 0.15 // pushes p up

	divested := false
	for i := 0; i < 100; i++ {
		action, reason := e.SelectAction(obs, bank.PriorityLiquidity, 0)
		if action == bank.DivestMarket {
			assert.Contains(t, reason, "Profit-taking")
			divested = true
			break
		}
	}
	assert.True(t, divested)
}

func TestEngine_GameBranchHoardsWhenCashThin(t *testing.T) {
	e := NewEngine(true, rand.New(rand.NewSource(3)))
	obs := healthyObs()
	obs.Cash = 10
	obs.LiquidityRatio = 0.5

	action, _ := e.SelectAction(obs, "", 0)
	assert.Equal(t, bank.HoardCash, action)
}

func TestEngine_GameBranchDistressedUnwinds(t *testing.T) {
	e := NewEngine(true, rand.New(rand.NewSource(5)))
	obs := bank.Observation{
		Equity: 100, Cash: 100, Leverage: 4.0,
		LiquidityRatio: 0.1, LocalStress: 1.0,
		LoansGiven: 40, HasMarkets: true,
	}

	action, reason := e.SelectAction(obs, "", 0.5)
	assert.Contains(t, []bank.Action{bank.DivestMarket, bank.DecreaseLending, bank.HoardCash}, action)
	assert.Contains(t, reason, "HOARD")
}

func TestEngine_Determinism(t *testing.T) {
	run := func() []bank.Action {
		e := NewEngine(true, rand.New(rand.NewSource(42)))
		obs := healthyObs()
		var out []bank.Action
		for i := 0; i < 50; i++ {
			a, _ := e.SelectAction(obs, bank.PriorityProfit, 0.1)
			out = append(out, a)
		}
		return out
	}
	assert.Equal(t, run(), run())
}
