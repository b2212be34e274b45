// Package bank models the strategic agents of the simulation: their balance
// sheets, observable state, and the discrete actions they can execute.
package bank

// ratioEpsilon floors denominators so ratios stay finite for degenerate
// balance sheets.
const ratioEpsilon = 0.01

// BalanceSheet holds a bank's asset and liability state. All figures are in
// millions. The position maps must stay consistent with the scalar totals:
// Investments == sum(InvestmentPositions) and LoansGiven == sum(LoanPositions).
type BalanceSheet struct {
	Cash        float64
	Investments float64
	LoansGiven  float64
	Borrowed    float64

	InvestmentPositions map[string]float64
	LoanPositions       map[int]float64
}

// NewBalanceSheet creates a balance sheet with initialized position maps.
func NewBalanceSheet(cash, investments, loansGiven, borrowed float64) *BalanceSheet {
	return &BalanceSheet{
		Cash:                cash,
		Investments:         investments,
		LoansGiven:          loansGiven,
		Borrowed:            borrowed,
		InvestmentPositions: make(map[string]float64),
		LoanPositions:       make(map[int]float64),
	}
}

// TotalAssets is cash plus investments plus loans given.
func (b *BalanceSheet) TotalAssets() float64 {
	return b.Cash + b.Investments + b.LoansGiven
}

// Equity is total assets minus borrowed funds. A bank defaults when this goes
// negative.
func (b *BalanceSheet) Equity() float64 {
	return b.TotalAssets() - b.Borrowed
}

// Insolvent reports whether the default predicate holds.
func (b *BalanceSheet) Insolvent() bool {
	return b.Equity() < 0
}

// Ratios holds the derived balance-sheet ratios.
type Ratios struct {
	Leverage       float64 `json:"leverage"`
	CapitalRatio   float64 `json:"capital_ratio"`
	LiquidityRatio float64 `json:"liquidity_ratio"`
	MarketExposure float64 `json:"market_exposure"`
	LoanExposure   float64 `json:"loan_exposure"`
}

// ComputeRatios derives the standard ratios with epsilon-floored denominators.
func (b *BalanceSheet) ComputeRatios() Ratios {
	equity := b.Equity()
	if equity < ratioEpsilon {
		equity = ratioEpsilon
	}
	total := b.TotalAssets()
	if total < ratioEpsilon {
		total = ratioEpsilon
	}
	return Ratios{
		Leverage:       b.TotalAssets() / equity,
		CapitalRatio:   b.Equity() / total,
		LiquidityRatio: b.Cash / total,
		MarketExposure: b.Investments / total,
		LoanExposure:   b.LoansGiven / total,
	}
}

// Snapshot is the wire form of a balance sheet.
type Snapshot struct {
	Cash        float64 `json:"cash"`
	Investments float64 `json:"investments"`
	LoansGiven  float64 `json:"loans_given"`
	Borrowed    float64 `json:"borrowed"`
	Equity      float64 `json:"equity"`
	IsDefaulted bool    `json:"is_defaulted"`
	Ratios      Ratios  `json:"ratios"`
}

// Snapshot returns the current balance-sheet state.
func (b *BalanceSheet) Snapshot() Snapshot {
	return Snapshot{
		Cash:        b.Cash,
		Investments: b.Investments,
		LoansGiven:  b.LoansGiven,
		Borrowed:    b.Borrowed,
		Equity:      b.Equity(),
		IsDefaulted: b.Insolvent(),
		Ratios:      b.ComputeRatios(),
	}
}
