package kernel

import (
	"fmt"
	"math"
	"sort"

	"github.com/systemiq/banknet/internal/bank"
	"github.com/systemiq/banknet/internal/events"
	"github.com/systemiq/banknet/internal/ledger"
)

// Dynamic amount model bounds.
const (
	amountFloor   = 3.0
	amountCeiling = 80.0

	// Realised divestment gains below this threshold are not worth an event.
	gainEventThreshold = 0.5

	// Margin calls fire when the variation margin exceeds this share of cash.
	marginCashShare = 0.1

	// Forced liquidations recover this fraction of book value.
	fireSaleRecovery = 0.85

	// Price pressure per unit of fire-sold assets.
	fireSaleImpact = 1e-4

	// Loan servicing terms per step.
	interestRate       = 0.05
	principalRate      = 0.10
	repaymentCashShare = 0.30
)

// actionAmount draws the dynamic transaction size for an action.
func (k *StepExecutor) actionAmount(d decision) float64 {
	cash := d.bank.Sheet.Cash
	equity := d.bank.Sheet.Equity()
	ratios := d.bank.Sheet.ComputeRatios()

	basePct := k.uniform(0.05, 0.20)
	caution := math.Max(0.3, 1.0-0.15*float64(d.neighborDefaults))
	risk := 0.5 + 1.5*d.bank.RiskFactor
	sentiment := k.uniform(0.7, 1.3)

	var amt float64
	switch d.action {
	case bank.InvestMarket:
		amt = cash * basePct * risk * sentiment * 1.5
	case bank.DivestMarket:
		stressFactor := 1.0
		if ratios.LiquidityRatio < 0.25 {
			stressFactor = 2.0
		}
		amt = cash * basePct * stressFactor * 1.2
	case bank.IncreaseLending:
		amt = cash * basePct * risk * caution * 1.3
	case bank.DecreaseLending:
		urgency := 1.0
		if ratios.Leverage > 3.0 {
			urgency = 2.0
		}
		amt = cash * basePct * urgency * 0.8
	default: // HOARD_CASH
		amt = k.uniform(0.01, 0.05) * cash
	}

	amt *= k.uniform(0.8, 1.2)
	amt = math.Max(amountFloor, math.Min(amountCeiling, amt))
	return math.Min(amt, equity*0.4)
}

func (k *StepExecutor) uniform(lo, hi float64) float64 {
	return lo + k.rng.Float64()*(hi-lo)
}

// executeActions is phase 4: size each decision, run it against the balance
// sheet, record pending market flows, and emit transaction events.
func (k *StepExecutor) executeActions(step int, decisions []decision, emit EmitFunc) {
	for _, d := range decisions {
		amount := k.actionAmount(d)
		cashBefore := d.bank.Sheet.Cash

		tx := d.bank.ExecuteAction(d.action, step, d.counterpartyID, d.marketID, amount, d.reason)
		if tx == nil {
			continue
		}

		switch d.action {
		case bank.InvestMarket:
			k.Markets.RecordFlow(d.marketID, tx.Amount)
		case bank.DivestMarket:
			k.Markets.RecordFlow(d.marketID, -tx.Amount)
			// Realised gain on the divested amount, settled in cash.
			m := k.Markets.Get(d.marketID)
			if m != nil {
				gain := tx.Amount * m.Return()
				d.bank.Sheet.Cash += gain
				if math.Abs(gain) > gainEventThreshold {
					emit(&events.MarketGainData{
						Step:           step,
						BankID:         d.bank.ID,
						MarketID:       d.marketID,
						DivestedAmount: tx.Amount,
						MarketReturn:   m.Return(),
						RealizedGain:   gain,
						NewCash:        d.bank.Sheet.Cash,
					})
				}
			}
		}

		cashAfter := d.bank.Sheet.Cash
		emit(&events.TransactionData{
			Step:       step,
			FromBank:   d.bank.ID,
			ToBank:     tx.CounterpartyID,
			MarketID:   d.marketID,
			Action:     string(d.action),
			Amount:     tx.Amount,
			Reason:     tx.Reason,
			CashBefore: cashBefore,
			CashAfter:  cashAfter,
			CashChange: cashAfter - cashBefore,
		})
	}
}

// marginCall records a bank whose variation margin exceeds its cash buffer.
type marginCall struct {
	bank     *bank.Bank
	required float64
}

// checkMargins is phase 5: variation margin is average market momentum
// magnitude times the bank's market exposure.
func (k *StepExecutor) checkMargins() []marginCall {
	avgMomentum := 0.0
	if k.Markets != nil {
		avgMomentum = k.Markets.AverageMomentum()
	}

	var calls []marginCall
	for _, bk := range k.Banks {
		if bk.IsDefaulted {
			continue
		}
		exposure := bk.Sheet.ComputeRatios().MarketExposure
		margin := math.Abs(avgMomentum) * exposure
		if margin > marginCashShare*bk.Sheet.Cash {
			calls = append(calls, marginCall{bank: bk, required: margin})
		}
	}
	return calls
}

// settleMarginCalls is phase 6: banks that cannot cover a call fire-sell
// holdings at a discount, pressuring the market's next price update.
func (k *StepExecutor) settleMarginCalls(step int, calls []marginCall) {
	for _, call := range calls {
		bk := call.bank
		if bk.Sheet.Cash >= call.required {
			continue
		}
		target := math.Min(bk.Sheet.Investments, 1.2*call.required)
		if target <= 0 {
			continue
		}
		k.forceLiquidate(step, bk, target)
	}
}

// forceLiquidate sells holdings across markets until the target is covered.
// Proceeds land at the fire-sale discount; each market absorbs price
// pressure proportional to what was sold into it.
func (k *StepExecutor) forceLiquidate(step int, bk *bank.Bank, target float64) {
	remaining := target
	for _, id := range k.Markets.IDs() {
		if remaining <= 0 {
			break
		}
		held := bk.Sheet.InvestmentPositions[id]
		if held <= 0 {
			continue
		}
		sold := math.Min(held, remaining)
		remaining -= sold

		bk.Sheet.InvestmentPositions[id] -= sold
		bk.Sheet.Investments -= sold
		bk.Sheet.Cash += sold * fireSaleRecovery

		// Price pressure lands through the impact term only; fire sales do
		// not join the flow accumulator.
		k.Markets.Get(id).RecordImpact(-sold * fireSaleImpact)

		k.Ledger.Append(ledger.Transaction{
			TimeStep:         step,
			InitiatorID:      bk.ID,
			CounterpartyType: ledger.CounterpartyMarket,
			CounterpartyName: id,
			Type:             ledger.Divest,
			Amount:           sold,
			Reason:           "Forced liquidation to meet margin call",
		})
	}
	k.log.Warn().Int("bank", bk.ID).Float64("liquidated", target-remaining).Msg("forced liquidation")
}

// updateMarkets is phase 7: apply accumulated flows, sweep auto
// profit-taking, book mark-to-market profits every fifth step, and flag
// large moves.
func (k *StepExecutor) updateMarkets(step int, emit EmitFunc) {
	if k.Markets == nil || k.Markets.Len() == 0 {
		return
	}

	// Sales deferred from the previous step join this step's accumulator.
	for id, flow := range k.deferredFlows {
		k.Markets.RecordFlow(id, flow)
	}
	k.deferredFlows = make(map[string]float64)

	oldPrices := make(map[string]float64)
	for _, id := range k.Markets.IDs() {
		oldPrices[id] = k.Markets.Get(id).Price
	}

	k.Markets.ApplyAllFlows(k.rng)

	for _, id := range k.Markets.IDs() {
		m := k.Markets.Get(id)
		old := oldPrices[id]
		if old <= 0 {
			continue
		}
		changePct := (m.Price - old) / old * 100
		if math.Abs(changePct) > 2 {
			emit(&events.MarketMovementData{
				Step:      step,
				MarketID:  id,
				OldPrice:  old,
				NewPrice:  m.Price,
				ChangePct: changePct,
			})
		}
	}

	k.autoTakeProfits(step, emit)

	if step%5 == 0 {
		for _, bk := range k.Banks {
			if bk.IsDefaulted {
				continue
			}
			profit := bk.BookInvestmentProfit(k.Markets, step)
			if math.Abs(profit) > 0.1 {
				emit(&events.ProfitBookingData{Step: step, BankID: bk.ID, Profit: profit})
			}
		}
	}
}

// autoTakeProfits sweeps held positions: winners are trimmed in tiers by
// return, losers past the stop-loss are cut, and conservative banks take
// profits early. Sales settle in cash now but hit prices next step.
func (k *StepExecutor) autoTakeProfits(step int, emit EmitFunc) {
	for _, bk := range k.Banks {
		if bk.IsDefaulted {
			continue
		}
		for _, id := range k.Markets.IDs() {
			held := bk.Sheet.InvestmentPositions[id]
			if held <= 0 {
				continue
			}
			m := k.Markets.Get(id)
			r := m.Return()

			var fraction float64
			switch {
			case r < -0.10:
				fraction = k.uniform(0.4, 0.7) // stop-loss
			case r > 0.30:
				fraction = k.uniform(0.5, 0.7)
			case r > 0.20:
				fraction = k.uniform(0.4, 0.6)
			case r > 0.10:
				fraction = k.uniform(0.3, 0.5)
			case bk.RiskAppetite < 0.4 && r > 0.05:
				fraction = k.uniform(0.15, 0.30)
			default:
				continue
			}

			sold := held * fraction
			gain := sold * r
			cashBefore := bk.Sheet.Cash

			bk.Sheet.InvestmentPositions[id] -= sold
			bk.Sheet.Investments -= sold
			bk.Sheet.Cash += sold + gain
			k.deferredFlows[id] -= sold

			reason := fmt.Sprintf("Profit-taking: sold %.0f%% at %.1f%% return", fraction*100, r*100)
			if r < 0 {
				reason = fmt.Sprintf("Stop-loss: sold %.0f%% at %.1f%% return", fraction*100, r*100)
			}
			k.Ledger.Append(ledger.Transaction{
				TimeStep:         step,
				InitiatorID:      bk.ID,
				CounterpartyType: ledger.CounterpartyMarket,
				CounterpartyName: id,
				Type:             ledger.Divest,
				Amount:           sold,
				Reason:           reason,
			})
			emit(&events.TransactionData{
				Step:       step,
				FromBank:   bk.ID,
				MarketID:   id,
				Action:     string(bank.DivestMarket),
				Amount:     sold,
				Reason:     reason,
				CashBefore: cashBefore,
				CashAfter:  bk.Sheet.Cash,
				CashChange: bk.Sheet.Cash - cashBefore,
			})
			if math.Abs(gain) > gainEventThreshold {
				emit(&events.MarketGainData{
					Step:           step,
					BankID:         bk.ID,
					MarketID:       id,
					DivestedAmount: sold,
					MarketReturn:   r,
					RealizedGain:   gain,
					NewCash:        bk.Sheet.Cash,
				})
			}
		}
	}
}

// contagionCheck is phase 8: detect fresh defaults, then propagate losses
// through the loan graph for at most five rounds.
func (k *StepExecutor) contagionCheck(step int, emit EmitFunc) []int {
	var stepDefaults []int

	// First pass plus any force-defaulted banks seeded by control commands.
	seeded := append([]int{}, k.pendingCascade...)
	k.pendingCascade = nil
	frontier := append([]int{}, seeded...)

	for _, bk := range k.Banks {
		if bk.CheckDefault(step) {
			stepDefaults = append(stepDefaults, bk.ID)
			frontier = append(frontier, bk.ID)
			emit(&events.DefaultData{Step: step, BankID: bk.ID, Equity: bk.Sheet.Equity()})
		}
	}

	// Seeded defaults started this cascade just as much as fresh ones.
	initial := append(seeded, stepDefaults...)
	cascadeCount := 0

	for round := 0; round < 5 && len(frontier) > 0; round++ {
		var next []int
		for _, defaultedID := range frontier {
			for _, lender := range k.Banks {
				if lender.IsDefaulted {
					continue
				}
				exposure := lender.Sheet.LoanPositions[defaultedID]
				if exposure <= 0 {
					continue
				}
				lender.ApplyLoss(exposure, step, fmt.Sprintf("Bank_%d_default", defaultedID))
				lender.Sheet.LoansGiven -= exposure
				delete(lender.Sheet.LoanPositions, defaultedID)
				if lender.CheckDefault(step) {
					next = append(next, lender.ID)
					stepDefaults = append(stepDefaults, lender.ID)
					cascadeCount++
					emit(&events.DefaultData{Step: step, BankID: lender.ID, Equity: lender.Sheet.Equity()})
				}
			}
		}
		frontier = next
	}

	if cascadeCount > 0 {
		emit(&events.CascadeData{Step: step, InitialDefaults: initial, CascadeCount: cascadeCount})
	}
	return stepDefaults
}

// finishStep is phase 9: evolve risk appetite toward a health score, service
// interbank loans, and emit the step summary.
func (k *StepExecutor) finishStep(step int, emit EmitFunc) {
	neighborDefaults := k.countNeighborDefaults()

	for _, bk := range k.Banks {
		if bk.IsDefaulted {
			continue
		}
		ratios := bk.Sheet.ComputeRatios()
		localStress := math.Min(1.0, float64(neighborDefaults[bk.ID])/5.0)

		leverageScore := math.Max(0, 1.0-ratios.Leverage/8.0)
		liquidityScore := math.Min(1.0, ratios.LiquidityRatio/0.5)
		equityScore := math.Min(1.0, bk.Sheet.Equity()/100.0)

		health := (leverageScore*0.3 + liquidityScore*0.3 + equityScore*0.3) * (1.0 - 0.5*localStress)
		ra := 0.8*bk.RiskAppetite + 0.2*health
		bk.RiskAppetite = math.Min(bank.RiskAppetiteMax, math.Max(bank.RiskAppetiteMin, ra))
	}

	k.serviceLoans(step, emit)

	totalDefaults := k.totalDefaults()
	var totalEquity float64
	bankStates := make([]events.BankState, 0, len(k.Banks))
	for _, bk := range k.Banks {
		if !bk.IsDefaulted {
			totalEquity += bk.Sheet.Equity()
		}
		snap := bk.StateSnapshot()
		bankStates = append(bankStates, events.BankState{
			BankID:      snap.BankID,
			Capital:     snap.Capital,
			Cash:        snap.Cash,
			Investments: snap.Investments,
			LoansGiven:  snap.LoansGiven,
			Borrowed:    snap.Borrowed,
			Leverage:    snap.Leverage,
			IsDefaulted: snap.IsDefaulted,
		})
	}

	var marketStates []events.MarketState
	if k.Markets != nil {
		for _, s := range k.Markets.Snapshots() {
			marketStates = append(marketStates, events.MarketState{
				MarketID:      s.MarketID,
				Name:          s.Name,
				Price:         s.Price,
				TotalInvested: s.TotalInvested,
				Return:        s.Return,
			})
		}
	}

	emit(&events.StepEndData{
		Step:          step,
		TotalDefaults: totalDefaults,
		TotalEquity:   totalEquity,
		BankStates:    bankStates,
		MarketStates:  marketStates,
	})
}

// serviceLoans runs the per-step interest and principal flow on every
// outstanding interbank loan, in stable lender-then-borrower order.
func (k *StepExecutor) serviceLoans(step int, emit EmitFunc) {
	banksByID := make(map[int]*bank.Bank, len(k.Banks))
	for _, bk := range k.Banks {
		banksByID[bk.ID] = bk
	}

	for _, lender := range k.Banks {
		if lender.IsDefaulted {
			continue
		}
		var borrowerIDs []int
		for id, amt := range lender.Sheet.LoanPositions {
			if amt > 0 {
				borrowerIDs = append(borrowerIDs, id)
			}
		}
		sort.Ints(borrowerIDs)

		for _, borrowerID := range borrowerIDs {
			loan := lender.Sheet.LoanPositions[borrowerID]
			borrower := banksByID[borrowerID]
			if borrower == nil || borrower.IsDefaulted {
				continue
			}

			interest := loan * interestRate
			if borrower.Sheet.Cash >= interest {
				borrower.Sheet.Cash -= interest
				lender.Sheet.Cash += interest
				emit(&events.InterestPaymentData{
					Step:        step,
					FromBank:    borrowerID,
					ToBank:      lender.ID,
					Amount:      interest,
					LoanBalance: loan,
				})
			}

			repayment := math.Min(loan*principalRate, borrower.Sheet.Cash*repaymentCashShare)
			if repayment > 0 {
				borrower.Sheet.Cash -= repayment
				// Loans originated in-sim are one-sided: the borrower's
				// liability was never credited, so the decrement is capped
				// to keep borrowed non-negative.
				borrower.Sheet.Borrowed = math.Max(0, borrower.Sheet.Borrowed-repayment)
				lender.Sheet.Cash += repayment
				lender.Sheet.LoansGiven -= repayment
				lender.Sheet.LoanPositions[borrowerID] -= repayment
				emit(&events.LoanRepaymentData{
					Step:             step,
					FromBank:         borrowerID,
					ToBank:           lender.ID,
					Amount:           repayment,
					RemainingBalance: loan - repayment,
				})
			}
		}
	}
}
