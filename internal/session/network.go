package session

import (
	"fmt"
	"sort"

	"github.com/systemiq/banknet/internal/bank"
	"github.com/systemiq/banknet/internal/market"
)

// Initial balance-sheet split for generated banks. Investments are spread
// evenly across markets; without markets the whole allocation stays in cash.
const (
	initialCashShare   = 0.7
	initialInvestShare = 0.3
)

// buildNetwork constructs banks, markets, and initial interbank loans from
// the session config. Caller holds the session lock.
func (s *Session) buildNetwork() {
	s.markets = s.buildMarkets()

	if len(s.cfg.Banks) > 0 {
		for i, bc := range s.cfg.Banks {
			s.banks = append(s.banks, s.buildConfiguredBank(i, bc))
		}
	} else {
		for i := 0; i < s.cfg.NumBanks; i++ {
			s.banks = append(s.banks, s.buildGeneratedBank(i))
		}
	}

	for _, cc := range s.cfg.Connections {
		s.connect(cc.From, cc.To, cc.Amount)
	}
	if s.cfg.ConnectionDensity > 0 {
		s.wireRandomConnections()
	}
}

func (s *Session) buildMarkets() *market.System {
	if s.cfg.Markets == nil {
		return market.NewDefaultSystem()
	}
	if len(s.cfg.Markets) == 0 {
		return market.NewSystem()
	}
	sys := market.NewSystem()
	for _, mc := range s.cfg.Markets {
		sys.Add(market.New(mc.ID, mc.Name, mc.InitialPrice))
	}
	return sys
}

func (s *Session) buildGeneratedBank(id int) *bank.Bank {
	capital := s.cfg.InitialCapital
	cash := capital * initialCashShare
	invest := capital * initialInvestShare

	sheet := bank.NewBalanceSheet(cash, 0, 0, 0)
	s.spreadInvestments(sheet, invest)

	riskFactor := 0.2 + s.rng.Float64()*0.6
	return bank.New(id, fmt.Sprintf("Bank_%d", id), sheet, bank.DefaultTargets(), riskFactor, s.led)
}

func (s *Session) buildConfiguredBank(id int, bc BankConfig) *bank.Bank {
	sheet := bank.NewBalanceSheet(bc.Cash, 0, 0, bc.Borrowed)
	s.spreadInvestments(sheet, bc.Investments)

	rf := bc.RiskFactor
	if rf <= 0 {
		rf = 0.5
	}
	return bank.New(id, bc.Name, sheet, bank.DefaultTargets(), rf, s.led)
}

// spreadInvestments splits an investment allocation evenly across markets,
// keeping the position map consistent with the scalar total. Without markets
// the allocation folds back into cash.
func (s *Session) spreadInvestments(sheet *bank.BalanceSheet, total float64) {
	if total <= 0 {
		return
	}
	ids := s.markets.IDs()
	if len(ids) == 0 {
		sheet.Cash += total
		return
	}
	per := total / float64(len(ids))
	for _, id := range ids {
		sheet.InvestmentPositions[id] += per
	}
	sheet.Investments += total
}

// connect books one disbursed interbank loan: cash moves from lender to
// borrower against a loan asset and a liability, so both equities are
// unchanged.
func (s *Session) connect(fromID, toID int, amount float64) {
	if amount <= 0 || fromID == toID {
		return
	}
	lender := s.bankByID(fromID)
	borrower := s.bankByID(toID)
	if lender == nil || borrower == nil {
		return
	}
	lender.Sheet.Cash -= amount
	lender.Sheet.LoansGiven += amount
	lender.Sheet.LoanPositions[toID] += amount
	borrower.Sheet.Borrowed += amount
	borrower.Sheet.Cash += amount
}

// wireRandomConnections adds a loan between each ordered bank pair with
// probability equal to the configured density. Loan sizes are capped by the
// lender's remaining cash so dense graphs stay funded.
func (s *Session) wireRandomConnections() {
	for _, lender := range s.banks {
		for _, borrower := range s.banks {
			if lender.ID == borrower.ID {
				continue
			}
			if s.rng.Float64() >= s.cfg.ConnectionDensity {
				continue
			}
			amount := 5 + s.rng.Float64()*10
			if limit := lender.Sheet.Cash * 0.25; amount > limit {
				amount = limit
			}
			if amount < 1 {
				continue
			}
			s.connect(lender.ID, borrower.ID, amount)
		}
	}
}

func (s *Session) bankByID(id int) *bank.Bank {
	for _, bk := range s.banks {
		if bk.ID == id {
			return bk
		}
	}
	return nil
}

func sortInts(v []int) { sort.Ints(v) }
