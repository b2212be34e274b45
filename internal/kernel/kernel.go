// Package kernel implements the nine-phase step executor that drives a
// simulation session: observation, strategy selection, action execution,
// margining, settlement, market formation, contagion, and bookkeeping.
package kernel

import (
	"math/rand"
	"sort"

	"github.com/rs/zerolog"

	"github.com/systemiq/banknet/internal/bank"
	"github.com/systemiq/banknet/internal/events"
	"github.com/systemiq/banknet/internal/ledger"
	"github.com/systemiq/banknet/internal/market"
	"github.com/systemiq/banknet/internal/policy"
)

// EmitFunc publishes one event to the session stream.
type EmitFunc func(events.EventData)

// StepExecutor advances a session one step at a time. It is single-threaded:
// the session worker is the only caller.
type StepExecutor struct {
	Banks   []*bank.Bank
	Markets *market.System
	Ledger  *ledger.Ledger
	Policy  *policy.Engine
	Oracle  policy.Oracle

	TotalSteps int

	// ControlHook runs after phase 1 so queued control commands land between
	// step_start and information_update.
	ControlHook func()

	rng      *rand.Rand
	fallback policy.RuleBasedOracle
	log      zerolog.Logger
	emit     EmitFunc

	currentStep int

	// deferredFlows carries auto profit-taking sales into the next step's
	// flow accumulator.
	deferredFlows map[string]float64

	// pendingCascade holds banks force-defaulted by control commands; they
	// seed the next contagion check.
	pendingCascade []int
}

// New creates a step executor over an initialised network.
func New(banks []*bank.Bank, markets *market.System, led *ledger.Ledger, eng *policy.Engine, oracle policy.Oracle, totalSteps int, rng *rand.Rand, log zerolog.Logger, emit EmitFunc) *StepExecutor {
	return &StepExecutor{
		Banks:         banks,
		Markets:       markets,
		Ledger:        led,
		Policy:        eng,
		Oracle:        oracle,
		TotalSteps:    totalSteps,
		rng:           rng,
		log:           log.With().Str("component", "kernel").Logger(),
		emit:          emit,
		deferredFlows: make(map[string]float64),
	}
}

// CurrentStep returns the number of completed steps.
func (k *StepExecutor) CurrentStep() int { return k.currentStep }

// SeedCascade marks a bank as force-defaulted so the next contagion check
// propagates its failure.
func (k *StepExecutor) SeedCascade(bankID int) {
	k.pendingCascade = append(k.pendingCascade, bankID)
}

// Summary reports the observable outcome of one step.
type Summary struct {
	Step            int      `json:"step"`
	Events          []string `json:"events"`
	Defaults        []int    `json:"defaults"`
	SystemLiquidity float64  `json:"system_liquidity"`
	Completed       bool     `json:"-"`
}

// decision is one bank's selected move for the step, fixed up for missing
// counterparties or markets.
type decision struct {
	bank             *bank.Bank
	action           bank.Action
	counterpartyID   *int
	marketID         string
	reason           string
	neighborDefaults int
}

// ExecuteStep runs the nine phases in strict order and returns the step
// summary. The caller must ensure the session is RUNNING and the step budget
// is not exhausted.
func (k *StepExecutor) ExecuteStep() Summary {
	k.currentStep++
	step := k.currentStep

	var emitted []string
	emit := func(data events.EventData) {
		emitted = append(emitted, string(data.EventType()))
		k.emit(data)
	}

	// Phase 1: step_start.
	emit(&events.StepStartData{Step: step})
	if k.ControlHook != nil {
		k.ControlHook()
	}

	// Phase 2: information_update.
	neighborDefaults := k.countNeighborDefaults()

	// Phase 3: strategy_selection.
	decisions := k.selectStrategies(neighborDefaults)

	// Phase 4: action_execution.
	k.executeActions(step, decisions, emit)

	// Phase 5: margin_and_constraints.
	calls := k.checkMargins()

	// Phase 6: settlement_and_clearing.
	k.settleMarginCalls(step, calls)

	// Phase 7: market_update.
	k.updateMarkets(step, emit)

	// Phase 8: contagion_check.
	stepDefaults := k.contagionCheck(step, emit)

	// Phase 9: step_end.
	k.finishStep(step, emit)

	summary := Summary{
		Step:            step,
		Events:          emitted,
		Defaults:        stepDefaults,
		SystemLiquidity: k.systemLiquidity(),
	}
	if k.totalDefaults() >= len(k.Banks) || step >= k.TotalSteps {
		summary.Completed = true
	}
	return summary
}

// countNeighborDefaults scans every solvent bank's loan book against the
// defaulted set.
func (k *StepExecutor) countNeighborDefaults() map[int]int {
	defaulted := make(map[int]bool)
	for _, bk := range k.Banks {
		if bk.IsDefaulted {
			defaulted[bk.ID] = true
		}
	}
	out := make(map[int]int)
	for _, bk := range k.Banks {
		if bk.IsDefaulted {
			continue
		}
		n := 0
		for cp := range bk.Sheet.LoanPositions {
			if defaulted[cp] {
				n++
			}
		}
		out[bk.ID] = n
	}
	return out
}

// selectStrategies builds observations, consults the oracle, asks the policy
// engine, and fixes up counterparty and market assignments.
func (k *StepExecutor) selectStrategies(neighborDefaults map[int]int) []decision {
	defaultRate := 0.0
	if len(k.Banks) > 0 {
		defaultRate = float64(k.totalDefaults()) / float64(len(k.Banks))
	}

	var decisions []decision
	for _, bk := range k.Banks {
		if bk.IsDefaulted {
			continue
		}

		obs := bk.Observe(neighborDefaults[bk.ID], k.Markets)

		var priority bank.Priority
		if k.Oracle != nil {
			p, err := k.Oracle.Priority(obs)
			if err != nil {
				k.log.Debug().Int("bank", bk.ID).Err(err).Msg("oracle unavailable, using fallback")
				p, _ = k.fallback.Priority(obs)
			}
			priority = p
			bk.LastPriority = p
		}

		action, reason := k.Policy.SelectAction(obs, priority, defaultRate)
		d := decision{
			bank:             bk,
			action:           action,
			reason:           reason,
			neighborDefaults: neighborDefaults[bk.ID],
		}
		k.assignTargets(&d)
		decisions = append(decisions, d)
	}
	return decisions
}

// assignTargets picks counterparties and markets for the chosen action and
// applies the no-target fixups.
func (k *StepExecutor) assignTargets(d *decision) {
	hasMarkets := k.Markets != nil && k.Markets.Len() > 0

	switch d.action {
	case bank.IncreaseLending:
		if cp := k.randomCounterparty(d.bank); cp != nil {
			d.counterpartyID = cp
			return
		}
	case bank.DecreaseLending:
		if cp := k.randomLoanPosition(d.bank); cp != nil {
			d.counterpartyID = cp
			return
		}
	case bank.InvestMarket:
		if hasMarkets {
			ids := k.Markets.IDs()
			d.marketID = ids[k.rng.Intn(len(ids))]
			return
		}
	case bank.DivestMarket:
		if hasMarkets {
			d.marketID = k.largestPosition(d.bank)
			return
		}
	default:
		return
	}

	// Fixups: the chosen action has no viable target.
	switch d.action {
	case bank.IncreaseLending, bank.DecreaseLending:
		if hasMarkets && d.bank.Sheet.Cash > 30 {
			d.action = bank.InvestMarket
			ids := k.Markets.IDs()
			d.marketID = ids[k.rng.Intn(len(ids))]
			d.reason = "No interbank counterparty available, deploying to markets"
			return
		}
	case bank.InvestMarket, bank.DivestMarket:
		if cp := k.randomCounterparty(d.bank); cp != nil && d.bank.Sheet.Cash > 30 {
			d.action = bank.IncreaseLending
			d.counterpartyID = cp
			d.reason = "No markets available, deploying to interbank lending"
			return
		}
	}
	d.action = bank.HoardCash
	d.reason = "No viable counterparty or market - hoarding"
}

// randomCounterparty picks a random solvent other bank, nil when none exist.
func (k *StepExecutor) randomCounterparty(bk *bank.Bank) *int {
	var candidates []int
	for _, other := range k.Banks {
		if other.ID != bk.ID && !other.IsDefaulted {
			candidates = append(candidates, other.ID)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	id := candidates[k.rng.Intn(len(candidates))]
	return &id
}

// randomLoanPosition picks a random outstanding borrower, nil when the loan
// book is empty. Keys are sorted first so the draw is reproducible.
func (k *StepExecutor) randomLoanPosition(bk *bank.Bank) *int {
	var ids []int
	for cp, amt := range bk.Sheet.LoanPositions {
		if amt > 0 {
			ids = append(ids, cp)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Ints(ids)
	id := ids[k.rng.Intn(len(ids))]
	return &id
}

// largestPosition returns the market with the biggest held position, or any
// market when nothing is held.
func (k *StepExecutor) largestPosition(bk *bank.Bank) string {
	best := ""
	bestAmt := 0.0
	for _, id := range k.Markets.IDs() {
		if amt := bk.Sheet.InvestmentPositions[id]; amt > bestAmt {
			best = id
			bestAmt = amt
		}
	}
	if best == "" {
		return k.Markets.IDs()[0]
	}
	return best
}

func (k *StepExecutor) totalDefaults() int {
	n := 0
	for _, bk := range k.Banks {
		if bk.IsDefaulted {
			n++
		}
	}
	return n
}

// systemLiquidity is aggregate solvent cash over aggregate solvent liquid
// assets.
func (k *StepExecutor) systemLiquidity() float64 {
	var cash, assets float64
	for _, bk := range k.Banks {
		if bk.IsDefaulted {
			continue
		}
		cash += bk.Sheet.Cash
		assets += bk.Sheet.Cash + bk.Sheet.Investments
	}
	if assets <= 0 {
		return 0
	}
	return cash / assets
}
