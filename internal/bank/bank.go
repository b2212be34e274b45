package bank

import (
	"fmt"

	"github.com/systemiq/banknet/internal/ledger"
	"github.com/systemiq/banknet/internal/market"
)

// Action is one of the discrete moves a bank can make in a step.
type Action string

const (
	IncreaseLending Action = "INCREASE_LENDING"
	DecreaseLending Action = "DECREASE_LENDING"
	InvestMarket    Action = "INVEST_MARKET"
	DivestMarket    Action = "DIVEST_MARKET"
	HoardCash       Action = "HOARD_CASH"
)

// Priority is the external strategic hint consulted before action selection.
type Priority string

const (
	PriorityProfit    Priority = "PROFIT"
	PriorityLiquidity Priority = "LIQUIDITY"
	PriorityStability Priority = "STABILITY"
)

// Risk-appetite bounds. The per-step health update keeps the value inside
// this range.
const (
	RiskAppetiteMin = 0.05
	RiskAppetiteMax = 0.95
)

// Targets are the balance-sheet targets a bank steers toward.
type Targets struct {
	TargetLeverage       float64 `json:"target_leverage"`
	TargetLiquidity      float64 `json:"target_liquidity"`
	TargetMarketExposure float64 `json:"target_market_exposure"`
}

// DefaultTargets returns the balanced-profile targets.
func DefaultTargets() Targets {
	return Targets{TargetLeverage: 3.0, TargetLiquidity: 0.3, TargetMarketExposure: 0.2}
}

// Bank is one financial institution in the network.
type Bank struct {
	ID    int
	Name  string
	Sheet *BalanceSheet

	Targets Targets

	// RiskAppetite evolves each step toward a health score; it drives
	// investment probability in the policy engine.
	RiskAppetite float64
	// RiskFactor is the static configured appetite used for action sizing.
	RiskFactor float64

	IsDefaulted bool
	DefaultStep *int

	LastAction   Action
	LastPriority Priority

	PastDefaults int

	ledger *ledger.Ledger
}

// New creates a bank bound to a session ledger.
func New(id int, name string, sheet *BalanceSheet, targets Targets, riskFactor float64, led *ledger.Ledger) *Bank {
	if name == "" {
		name = fmt.Sprintf("Bank_%d", id)
	}
	ra := riskFactor
	if ra < RiskAppetiteMin {
		ra = RiskAppetiteMin
	}
	if ra > RiskAppetiteMax {
		ra = RiskAppetiteMax
	}
	return &Bank{
		ID:           id,
		Name:         name,
		Sheet:        sheet,
		Targets:      targets,
		RiskAppetite: ra,
		RiskFactor:   riskFactor,
		ledger:       led,
	}
}

// Observation is a bank's view of its own state plus local network and market
// signals. It is a fixed record: every field has an explicit value, there is
// no dynamic lookup with defaults.
type Observation struct {
	BankID int

	Equity      float64
	Cash        float64
	Investments float64
	LoansGiven  float64
	Borrowed    float64

	Leverage       float64
	LiquidityRatio float64
	MarketExposure float64
	CapitalRatio   float64

	LeverageGap  float64
	LiquidityGap float64
	ExposureGap  float64

	NeighborDefaults int
	LocalStress      float64

	IsDefaulted  bool
	PastDefaults int
	RiskAppetite float64

	HasMarkets         bool
	BestMarketID       string
	BestMarketReturn   float64
	BestMarketPosition float64
	TotalInvested      float64
}

// Observe builds the bank's local observation. Pure: no state is mutated.
func (bk *Bank) Observe(neighborDefaults int, markets *market.System) Observation {
	ratios := bk.Sheet.ComputeRatios()

	obs := Observation{
		BankID:           bk.ID,
		Equity:           bk.Sheet.Equity(),
		Cash:             bk.Sheet.Cash,
		Investments:      bk.Sheet.Investments,
		LoansGiven:       bk.Sheet.LoansGiven,
		Borrowed:         bk.Sheet.Borrowed,
		Leverage:         ratios.Leverage,
		LiquidityRatio:   ratios.LiquidityRatio,
		MarketExposure:   ratios.MarketExposure,
		CapitalRatio:     ratios.CapitalRatio,
		LeverageGap:      ratios.Leverage - bk.Targets.TargetLeverage,
		LiquidityGap:     bk.Targets.TargetLiquidity - ratios.LiquidityRatio,
		ExposureGap:      ratios.MarketExposure - bk.Targets.TargetMarketExposure,
		NeighborDefaults: neighborDefaults,
		LocalStress:      localStress(neighborDefaults),
		IsDefaulted:      bk.IsDefaulted,
		PastDefaults:     bk.PastDefaults,
		RiskAppetite:     bk.RiskAppetite,
	}

	if markets != nil && markets.Len() > 0 {
		obs.HasMarkets = true
		for _, id := range markets.IDs() {
			m := markets.Get(id)
			pos := bk.Sheet.InvestmentPositions[id]
			obs.TotalInvested += pos
			if obs.BestMarketID == "" || m.Return() > obs.BestMarketReturn {
				obs.BestMarketID = id
				obs.BestMarketReturn = m.Return()
				obs.BestMarketPosition = pos
			}
		}
	}

	return obs
}

func localStress(neighborDefaults int) float64 {
	s := float64(neighborDefaults) / 5.0
	if s > 1 {
		return 1
	}
	return s
}

// ExecuteAction applies the selected action to the balance sheet and logs the
// transaction. Amounts are pre-clamped to at most half the bank's cash.
// Defaulted banks do nothing. Returns the logged transaction, or nil when the
// action degenerated to a no-op.
func (bk *Bank) ExecuteAction(action Action, step int, counterpartyID *int, marketID string, amount float64, reason string) *ledger.Transaction {
	if bk.IsDefaulted {
		return nil
	}

	if amount < 0 {
		amount = 0
	}
	if limit := bk.Sheet.Cash * 0.5; amount > limit {
		amount = limit
	}

	var tx *ledger.Transaction

	switch action {
	case IncreaseLending:
		if counterpartyID != nil && amount > 0 {
			bk.Sheet.Cash -= amount
			bk.Sheet.LoansGiven += amount
			bk.Sheet.LoanPositions[*counterpartyID] += amount
			t := bk.log(step, counterpartyID, ledger.CounterpartyBank, fmt.Sprintf("Bank_%d", *counterpartyID), ledger.Loan, amount, orDefault(reason, "Increase lending"))
			tx = &t
		}

	case DecreaseLending:
		if counterpartyID != nil {
			reduce := min(amount, bk.Sheet.LoanPositions[*counterpartyID])
			if reduce > 0 {
				bk.Sheet.Cash += reduce
				bk.Sheet.LoansGiven -= reduce
				bk.Sheet.LoanPositions[*counterpartyID] -= reduce
				t := bk.log(step, counterpartyID, ledger.CounterpartyBank, fmt.Sprintf("Bank_%d", *counterpartyID), ledger.Repay, reduce, orDefault(reason, "Reduce lending"))
				tx = &t
			}
		}

	case InvestMarket:
		if marketID != "" && amount > 0 {
			bk.Sheet.Cash -= amount
			bk.Sheet.Investments += amount
			bk.Sheet.InvestmentPositions[marketID] += amount
			t := bk.log(step, nil, ledger.CounterpartyMarket, marketID, ledger.Invest, amount, orDefault(reason, "Market investment"))
			tx = &t
		}

	case DivestMarket:
		if marketID != "" {
			div := min(amount, bk.Sheet.InvestmentPositions[marketID])
			if div > 0 {
				bk.Sheet.Cash += div
				bk.Sheet.Investments -= div
				bk.Sheet.InvestmentPositions[marketID] -= div
				t := bk.log(step, nil, ledger.CounterpartyMarket, marketID, ledger.Divest, div, orDefault(reason, "Market divestment"))
				tx = &t
			}
		}

	case HoardCash:
		// Zero-amount marker so every action leaves an audit trail.
		t := bk.log(step, nil, ledger.CounterpartySelf, "SELF", ledger.Repay, 0, orDefault(reason, "Hoarding cash - no action"))
		tx = &t
	}

	bk.LastAction = action
	return tx
}

// ApplyLoss drains up to the bank's available cash and logs a DEFAULT_LOSS.
// Returns the amount actually absorbed.
func (bk *Bank) ApplyLoss(amount float64, step int, source string) float64 {
	actual := min(amount, bk.Sheet.Cash)
	bk.Sheet.Cash -= actual
	bk.log(step, nil, ledger.CounterpartySystem, source, ledger.DefaultLoss, actual, fmt.Sprintf("Loss from %s", source))
	return actual
}

// CheckDefault transitions the bank to defaulted when the balance-sheet
// predicate trips. The transition is one-way; returns true only on the
// transition itself.
func (bk *Bank) CheckDefault(step int) bool {
	if bk.Sheet.Insolvent() && !bk.IsDefaulted {
		bk.IsDefaulted = true
		bk.PastDefaults++
		s := step
		bk.DefaultStep = &s
		return true
	}
	return false
}

// BookInvestmentProfit marks every held position to market, crediting the
// return on each position to cash. Book value of the positions is unchanged.
// Returns the total profit (negative for losses).
func (bk *Bank) BookInvestmentProfit(markets *market.System, step int) float64 {
	if bk.IsDefaulted || markets == nil {
		return 0
	}

	var total float64
	for _, id := range markets.IDs() {
		invested := bk.Sheet.InvestmentPositions[id]
		if invested <= 0 {
			continue
		}
		m := markets.Get(id)
		profit := invested * m.Return()
		if profit == 0 {
			continue
		}
		bk.Sheet.Cash += profit
		total += profit

		kind := ledger.Invest
		if profit < 0 {
			kind = ledger.Divest
		}
		bk.log(step, nil, ledger.CounterpartyMarket, id, kind, abs(profit),
			fmt.Sprintf("Profit booking: %.1f%% return", m.Return()*100))
	}
	return total
}

// StateSnapshot is the per-bank record published in step_end events.
type StateSnapshot struct {
	BankID      int     `json:"bank_id"`
	Capital     float64 `json:"capital"`
	Cash        float64 `json:"cash"`
	Investments float64 `json:"investments"`
	LoansGiven  float64 `json:"loans_given"`
	Borrowed    float64 `json:"borrowed"`
	Leverage    float64 `json:"leverage"`
	IsDefaulted bool    `json:"is_defaulted"`
}

// StateSnapshot returns the bank's current observable state.
func (bk *Bank) StateSnapshot() StateSnapshot {
	ratios := bk.Sheet.ComputeRatios()
	return StateSnapshot{
		BankID:      bk.ID,
		Capital:     bk.Sheet.Equity(),
		Cash:        bk.Sheet.Cash,
		Investments: bk.Sheet.Investments,
		LoansGiven:  bk.Sheet.LoansGiven,
		Borrowed:    bk.Sheet.Borrowed,
		Leverage:    ratios.Leverage,
		IsDefaulted: bk.IsDefaulted,
	}
}

func (bk *Bank) log(step int, cpID *int, cpType ledger.CounterpartyType, cpName string, kind ledger.TransactionType, amount float64, reason string) ledger.Transaction {
	return bk.ledger.Append(ledger.Transaction{
		TimeStep:         step,
		InitiatorID:      bk.ID,
		CounterpartyID:   cpID,
		CounterpartyType: cpType,
		CounterpartyName: cpName,
		Type:             kind,
		Amount:           amount,
		Reason:           reason,
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
