package policy

// gameAction is a strategic move in the 2x2 interbank lending game.
type gameAction int

const (
	gameLend gameAction = iota
	gameHoard
)

// marketCondition classifies the environment the game is played in.
type marketCondition int

const (
	marketStable marketCondition = iota
	marketDistressed
)

// payoffMatrix holds this bank's payoffs over {LEND, HOARD} x {LEND, HOARD}.
// Rows are the bank's own action, columns the representative opponent's.
type payoffMatrix struct {
	lendLend   float64
	lendHoard  float64
	hoardLend  float64
	hoardHoard float64
}

// Base payoff parameters for the lending game.
const (
	lendingReturn     = 0.05
	hoardingCost      = 0.01
	coordinationBonus = 0.02
	distressThreshold = 0.4
)

// bestResponse picks the action maximising expected payoff against an
// opponent who plays LEND with probability lendProb.
func (m payoffMatrix) bestResponse(lendProb float64) (gameAction, float64) {
	evLend := lendProb*m.lendLend + (1-lendProb)*m.lendHoard
	evHoard := lendProb*m.hoardLend + (1-lendProb)*m.hoardHoard
	if evLend > evHoard {
		return gameLend, evLend
	}
	return gameHoard, evHoard
}

// distressScore blends local stress, the network default rate, and the
// bank's own liquidity into a single market-state signal.
func distressScore(localStress, networkDefaultRate, liquidityRatio float64) float64 {
	return 0.5*localStress + 0.3*networkDefaultRate + 0.2*(1.0-liquidityRatio)
}

// estimateMarketCondition maps the distress score onto the two regimes.
func estimateMarketCondition(localStress, networkDefaultRate, liquidityRatio float64) marketCondition {
	if distressScore(localStress, networkDefaultRate, liquidityRatio) > distressThreshold {
		return marketDistressed
	}
	return marketStable
}

// buildPayoffMatrix constructs the bank's payoff matrix. Payoffs are
// normalised to the bank's equity scale and modulated by market condition,
// liquidity, and leverage.
func buildPayoffMatrix(equity, leverage, liquidityRatio, localStress float64, cond marketCondition) payoffMatrix {
	ret := lendingReturn
	risk := 0.02 + 0.10*localStress
	cost := hoardingCost

	if cond == marketDistressed {
		risk *= 2.5
		ret *= 0.7
		cost *= 0.5
	}

	scale := equity
	if scale < 1.0 {
		scale = 1.0
	}

	m := payoffMatrix{
		lendLend:   (ret + coordinationBonus - risk) * scale,
		lendHoard:  (ret*0.7 - risk*1.3) * scale,
		hoardLend:  (-cost * 0.5) * scale,
		hoardHoard: (-cost * 1.5) * scale,
	}

	if liquidityRatio < 0.2 {
		m.lendLend *= 0.5
		m.lendHoard *= 0.3
		m.hoardLend *= 1.2
		m.hoardHoard *= 1.1
	}
	if leverage > 3.0 {
		m.lendLend *= 0.6
		m.lendHoard *= 0.4
	}
	return m
}

// estimateOthersLendProb estimates the probability that a representative
// neighbour lends: most banks lend in stable markets and hoard in distressed
// ones, scaled down by local stress.
func estimateOthersLendProb(cond marketCondition, localStress float64) float64 {
	base := 0.7
	if cond == marketDistressed {
		base = 0.3
	}
	p := base * (1.0 - 0.5*localStress)
	if p < 0.1 {
		return 0.1
	}
	if p > 0.9 {
		return 0.9
	}
	return p
}
