package policy

import (
	"fmt"
	"math/rand"

	"github.com/systemiq/banknet/internal/bank"
)

// Profit-taking thresholds per branch.
const (
	gameProfitThreshold      = 0.05
	heuristicProfitThreshold = 0.03
	minHeldForProfitTaking   = 5.0
)

// Engine selects one action per bank per step. All stochastic draws flow
// through the injected rand source so identically seeded sessions replay
// identically.
type Engine struct {
	UseGameTheory bool
	rng           *rand.Rand
}

// NewEngine creates a policy engine bound to the session RNG.
func NewEngine(useGameTheory bool, rng *rand.Rand) *Engine {
	return &Engine{UseGameTheory: useGameTheory, rng: rng}
}

// SelectAction returns the bank's action for this step plus a reason string
// for the audit trail. An empty priority means no oracle hint was available.
func (e *Engine) SelectAction(obs bank.Observation, priority bank.Priority, networkDefaultRate float64) (bank.Action, string) {
	threshold := heuristicProfitThreshold
	if e.UseGameTheory {
		threshold = gameProfitThreshold
	}
	if action, reason, ok := e.profitTakingUrge(obs, priority, threshold); ok {
		return action, reason
	}

	if e.UseGameTheory {
		return e.selectGameTheoretic(obs, priority, networkDefaultRate)
	}
	return e.selectHeuristic(obs, priority)
}

// profitTakingUrge is the shared prologue: with material holdings and a
// positive best-market return, sample a divestment whose probability grows
// with the return and with liquidity pressure.
func (e *Engine) profitTakingUrge(obs bank.Observation, priority bank.Priority, threshold float64) (bank.Action, string, bool) {
	if obs.TotalInvested <= minHeldForProfitTaking || obs.BestMarketReturn <= threshold {
		return "", "", false
	}

	p := 0.30 + 2.0*obs.BestMarketReturn
	switch {
	case obs.RiskAppetite < 0.4:
		p += 0.15
	case obs.RiskAppetite > 0.7:
		p -= 0.15
	}
	if obs.LocalStress > 0.2 {
		p += 0.25
	}
	if obs.LiquidityRatio < 0.2 {
		p += 0.20
	}
	switch priority {
	case bank.PriorityProfit:
		p += 0.10
	case bank.PriorityLiquidity:
		p += 0.20
	}
	p = clamp(p, 0.1, 0.9)

	if e.rng.Float64() < p {
		reason := fmt.Sprintf("Profit-taking: best return %.1f%% on $%.0f held", obs.BestMarketReturn*100, obs.TotalInvested)
		return bank.DivestMarket, reason, true
	}
	return "", "", false
}

// selectGameTheoretic computes the Nash best response in the 2x2 lending
// game, then maps it onto a concrete balance-sheet action.
func (e *Engine) selectGameTheoretic(obs bank.Observation, priority bank.Priority, networkDefaultRate float64) (bank.Action, string) {
	cond := estimateMarketCondition(obs.LocalStress, networkDefaultRate, obs.LiquidityRatio)
	matrix := buildPayoffMatrix(obs.Equity, obs.Leverage, obs.LiquidityRatio, obs.LocalStress, cond)
	othersLend := estimateOthersLendProb(cond, obs.LocalStress)
	response, _ := matrix.bestResponse(othersLend)

	condDesc := "stable"
	if cond == marketDistressed {
		condDesc = "distressed"
	}

	if response == gameLend {
		if obs.Cash < 20 {
			return bank.HoardCash, fmt.Sprintf("Nash-BR: LEND in %s market but cash=$%.0f too thin", condDesc, obs.Cash)
		}
		if obs.HasMarkets && e.rng.Float64() < e.investProbability(obs, priority) {
			return bank.InvestMarket, fmt.Sprintf("Nash-BR: LEND in %s market (others %.0f%% lending, equity=$%.0f, stress=%.2f)",
				condDesc, othersLend*100, obs.Equity, obs.LocalStress)
		}
		return bank.IncreaseLending, fmt.Sprintf("Nash-BR: LEND in %s market (others %.0f%% lending, equity=$%.0f, stress=%.2f)",
			condDesc, othersLend*100, obs.Equity, obs.LocalStress)
	}

	// HOARD best response.
	if obs.TotalInvested > 0 && e.rng.Float64() < 0.5 {
		return bank.DivestMarket, fmt.Sprintf("Nash-BR: HOARD in %s market, unwinding positions (cash=$%.0f, stress=%.2f)",
			condDesc, obs.Cash, obs.LocalStress)
	}
	if obs.LoansGiven > 0 {
		return bank.DecreaseLending, fmt.Sprintf("Nash-BR: HOARD in %s market, recalling loans (cash=$%.0f, stress=%.2f)",
			condDesc, obs.Cash, obs.LocalStress)
	}
	return bank.HoardCash, fmt.Sprintf("Nash-BR: HOARD in %s market (cash=$%.0f, stress=%.2f)", condDesc, obs.Cash, obs.LocalStress)
}

// investProbability turns a LEND best response into the market-vs-interbank
// split. Priorities scale the probability but never zero it out.
func (e *Engine) investProbability(obs bank.Observation, priority bank.Priority) float64 {
	p := 0.20 + 0.65*obs.RiskAppetite
	switch priority {
	case bank.PriorityProfit:
		p *= 1.3
	case bank.PriorityLiquidity:
		p *= 0.5
	case bank.PriorityStability:
		p *= 0.3
	}
	if obs.LiquidityRatio > 0.6 {
		p *= 1.4
	}
	if obs.LocalStress > 0.3 {
		p *= 0.4
	}
	if obs.MarketExposure > 0.4 {
		p *= 0.5
	}
	return clamp(p, 0.0, 0.95)
}

// selectHeuristic is the non-strategic branch: layered guard rules, then
// productive deployment, then hoarding.
func (e *Engine) selectHeuristic(obs bank.Observation, priority bank.Priority) (bank.Action, string) {
	// Emergency rules.
	if obs.Cash < 10 || obs.Equity < 5 {
		if obs.MarketExposure > 0.03 {
			return bank.DivestMarket, e.reason(obs, priority, "emergency liquidation")
		}
		return bank.DecreaseLending, e.reason(obs, priority, "emergency loan recall")
	}
	if obs.LocalStress > 0.5 && obs.LiquidityRatio < 0.2 {
		if obs.TotalInvested > 0 {
			return bank.DivestMarket, e.reason(obs, priority, "severe stress, raising cash")
		}
		return bank.DecreaseLending, e.reason(obs, priority, "severe stress, recalling loans")
	}

	// Productive deployment.
	if obs.Cash > 15 && obs.HasMarkets && obs.MarketExposure < 0.55 {
		p := clamp(0.25+0.55*obs.RiskAppetite, 0.05, 0.95)
		switch priority {
		case bank.PriorityProfit:
			p *= 1.3
		case bank.PriorityLiquidity:
			p *= 0.3
		case bank.PriorityStability:
			p *= 0.25
		}
		if obs.LocalStress > 0.3 {
			p *= 0.5
		}
		if obs.Cash > 80 {
			p += 0.10
		}
		if e.rng.Float64() < p {
			return bank.InvestMarket, e.reason(obs, priority, "deploying excess cash to markets")
		}
		return bank.IncreaseLending, e.reason(obs, priority, "deploying excess cash to lending")
	}

	return bank.HoardCash, e.reason(obs, priority, "preserving liquidity")
}

func (e *Engine) reason(obs bank.Observation, priority bank.Priority, note string) string {
	if priority != "" {
		return fmt.Sprintf("%s (priority=%s, cash=$%.0f, eq=$%.0f, lev=%.1fx)", note, priority, obs.Cash, obs.Equity, obs.Leverage)
	}
	return fmt.Sprintf("%s (cash=$%.0f, eq=$%.0f, lev=%.1fx)", note, obs.Cash, obs.Equity, obs.Leverage)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
