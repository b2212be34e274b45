package bank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemiq/banknet/internal/ledger"
	"github.com/systemiq/banknet/internal/market"
)

func newTestBank(t *testing.T) (*Bank, *ledger.Ledger) {
	t.Helper()
	led := ledger.New()
	sheet := NewBalanceSheet(100, 0, 0, 50)
	return New(1, "Bank_1", sheet, DefaultTargets(), 0.5, led), led
}

func TestBalanceSheet_EquityAndDefault(t *testing.T) {
	b := NewBalanceSheet(100, 50, 30, 120)
	assert.InDelta(t, 180.0, b.TotalAssets(), 1e-9)
	assert.InDelta(t, 60.0, b.Equity(), 1e-9)
	assert.False(t, b.Insolvent())

	b.Borrowed = 200
	assert.True(t, b.Insolvent())
}

func TestBalanceSheet_RatiosDegenerateSheet(t *testing.T) {
	b := NewBalanceSheet(0, 0, 0, 0)
	r := b.ComputeRatios()
	assert.False(t, r.Leverage != r.Leverage, "leverage must not be NaN")
	assert.Zero(t, r.LiquidityRatio)
}

func TestExecuteAction_LendingMovesCashAndPositions(t *testing.T) {
	bk, led := newTestBank(t)
	cp := 2

	tx := bk.ExecuteAction(IncreaseLending, 1, &cp, "", 40, "")
	require.NotNil(t, tx)
	assert.Equal(t, ledger.Loan, tx.Type)
	assert.InDelta(t, 60.0, bk.Sheet.Cash, 1e-9)
	assert.InDelta(t, 40.0, bk.Sheet.LoansGiven, 1e-9)
	assert.InDelta(t, 40.0, bk.Sheet.LoanPositions[cp], 1e-9)
	assert.Equal(t, 1, led.Len())
}

func TestExecuteAction_AmountClampedToHalfCash(t *testing.T) {
	bk, _ := newTestBank(t)
	cp := 2

	tx := bk.ExecuteAction(IncreaseLending, 1, &cp, "", 500, "")
	require.NotNil(t, tx)
	assert.InDelta(t, 50.0, tx.Amount, 1e-9, "clamped to cash/2")
	assert.InDelta(t, 50.0, bk.Sheet.Cash, 1e-9)
}

func TestExecuteAction_DecreaseLendingCappedByPosition(t *testing.T) {
	bk, _ := newTestBank(t)
	cp := 2
	bk.Sheet.LoansGiven = 10
	bk.Sheet.LoanPositions[cp] = 10

	tx := bk.ExecuteAction(DecreaseLending, 2, &cp, "", 30, "")
	require.NotNil(t, tx)
	assert.InDelta(t, 10.0, tx.Amount, 1e-9)
	assert.InDelta(t, 0.0, bk.Sheet.LoanPositions[cp], 1e-9)
	assert.InDelta(t, 110.0, bk.Sheet.Cash, 1e-9)
}

func TestExecuteAction_InvestAndDivest(t *testing.T) {
	bk, _ := newTestBank(t)

	require.NotNil(t, bk.ExecuteAction(InvestMarket, 1, nil, "BANK_INDEX", 30, ""))
	assert.InDelta(t, 30.0, bk.Sheet.InvestmentPositions["BANK_INDEX"], 1e-9)
	assert.InDelta(t, 30.0, bk.Sheet.Investments, 1e-9)

	tx := bk.ExecuteAction(DivestMarket, 2, nil, "BANK_INDEX", 1000, "")
	require.NotNil(t, tx)
	assert.InDelta(t, 30.0, tx.Amount, 1e-9, "capped by held position")
	assert.InDelta(t, 0.0, bk.Sheet.Investments, 1e-9)
}

func TestExecuteAction_HoardIsZeroAmountMarker(t *testing.T) {
	bk, led := newTestBank(t)

	tx := bk.ExecuteAction(HoardCash, 3, nil, "", 0, "")
	require.NotNil(t, tx)
	assert.Equal(t, ledger.Repay, tx.Type)
	assert.Equal(t, ledger.CounterpartySelf, tx.CounterpartyType)
	assert.Zero(t, tx.Amount)
	assert.Equal(t, 1, led.Len())
}

func TestExecuteAction_DefaultedBankIsInert(t *testing.T) {
	bk, led := newTestBank(t)
	bk.IsDefaulted = true
	cp := 2

	assert.Nil(t, bk.ExecuteAction(IncreaseLending, 1, &cp, "", 10, ""))
	assert.Zero(t, led.Len())
	assert.InDelta(t, 100.0, bk.Sheet.Cash, 1e-9)
}

func TestApplyLoss_CappedByCash(t *testing.T) {
	bk, _ := newTestBank(t)

	absorbed := bk.ApplyLoss(250, 4, "Bank_9")
	assert.InDelta(t, 100.0, absorbed, 1e-9)
	assert.Zero(t, bk.Sheet.Cash)
}

func TestCheckDefault_OneWayTransition(t *testing.T) {
	bk, _ := newTestBank(t)
	bk.Sheet.Borrowed = 500

	assert.True(t, bk.CheckDefault(7))
	require.NotNil(t, bk.DefaultStep)
	assert.Equal(t, 7, *bk.DefaultStep)
	assert.Equal(t, 1, bk.PastDefaults)

	// Repeated checks do not re-fire.
	assert.False(t, bk.CheckDefault(8))
	assert.Equal(t, 1, bk.PastDefaults)
	assert.Equal(t, 7, *bk.DefaultStep)
}

func TestBookInvestmentProfit_CreditsReturnToCash(t *testing.T) {
	bk, led := newTestBank(t)
	ms := market.NewSystem()
	m := market.New("X", "X", 100)
	m.Price = 110
	ms.Add(m)

	bk.Sheet.Investments = 50
	bk.Sheet.InvestmentPositions["X"] = 50

	profit := bk.BookInvestmentProfit(ms, 5)
	assert.InDelta(t, 5.0, profit, 1e-9)
	assert.InDelta(t, 105.0, bk.Sheet.Cash, 1e-9)
	assert.InDelta(t, 50.0, bk.Sheet.Investments, 1e-9, "book value unchanged")
	assert.Equal(t, 1, led.Len())
}

func TestObserve_GapsAndLocalStress(t *testing.T) {
	bk, _ := newTestBank(t)
	ms := market.NewDefaultSystem()

	obs := bk.Observe(2, ms)
	assert.Equal(t, 1, obs.BankID)
	assert.InDelta(t, 0.4, obs.LocalStress, 1e-9)
	assert.Equal(t, 2, obs.NeighborDefaults)
	assert.True(t, obs.HasMarkets)
	assert.InDelta(t, bk.Targets.TargetLiquidity-1.0, obs.LiquidityGap, 1e-9, "all-cash sheet overshoots liquidity target")

	obs = bk.Observe(10, nil)
	assert.InDelta(t, 1.0, obs.LocalStress, 1e-9, "stress saturates at 1")
	assert.False(t, obs.HasMarkets)
}
