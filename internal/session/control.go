package session

import (
	"fmt"

	"github.com/systemiq/banknet/internal/bank"
	"github.com/systemiq/banknet/internal/events"
)

// CommandType identifies a control command.
type CommandType string

const (
	CmdPause           CommandType = "pause"
	CmdResume          CommandType = "resume"
	CmdStop            CommandType = "stop"
	CmdDeleteBank      CommandType = "delete_bank"
	CmdAddCapital      CommandType = "add_capital"
	CmdTriggerDefault  CommandType = "trigger_default"
	CmdFinancialCrisis CommandType = "financial_crisis"
)

// Command is one queued control instruction. BankID and Amount are read only
// by the commands that need them.
type Command struct {
	Type   CommandType `json:"type"`
	BankID int         `json:"bank_id"`
	Amount float64     `json:"amount"`
}

// Crisis shock parameters for the financial_crisis command.
const (
	crisisMarketShock = 0.15 // fraction of price knocked off each market
	crisisCashShock   = 0.10 // fraction of cash drained from each bank
)

// applyCommandLocked executes one control command. Caller holds the session
// lock; commands land between phases 1 and 2 when applied via the kernel's
// control hook.
func (s *Session) applyCommandLocked(cmd Command) {
	step := 0
	if s.exec != nil {
		step = s.exec.CurrentStep()
	}

	switch cmd.Type {
	case CmdPause:
		if s.state == Running {
			s.state = Paused
			s.emit(&events.LifecycleData{Kind: events.Paused, Step: step})
		}

	case CmdResume:
		if s.state == Paused {
			s.state = Running
			s.emit(&events.LifecycleData{Kind: events.Resumed, Step: step})
			s.signalWake()
		}

	case CmdStop:
		if s.state == Running || s.state == Paused {
			s.stopLocked()
		}

	case CmdTriggerDefault:
		s.forceDefaultLocked(cmd.BankID, step)

	case CmdDeleteBank:
		if bk := s.bankByID(cmd.BankID); bk != nil && !bk.IsDefaulted {
			s.forceDefaultLocked(cmd.BankID, step)
		}
		s.emit(&events.BankDeletedData{Step: step, BankID: cmd.BankID})

	case CmdAddCapital:
		if bk := s.bankByID(cmd.BankID); bk != nil && cmd.Amount > 0 {
			bk.Sheet.Cash += cmd.Amount
			s.emit(&events.CapitalAddedData{
				Step:       step,
				BankID:     cmd.BankID,
				Amount:     cmd.Amount,
				NewCapital: bk.Sheet.Equity(),
			})
		}

	case CmdFinancialCrisis:
		s.applyCrisisLocked(step)

	default:
		s.log.Warn().Str("command", string(cmd.Type)).Msg("unknown control command dropped")
	}
}

// forceDefaultLocked marks a bank defaulted and seeds the next contagion
// check so its lenders absorb the loss in phase 8.
func (s *Session) forceDefaultLocked(bankID, step int) {
	bk := s.bankByID(bankID)
	if bk == nil || bk.IsDefaulted {
		return
	}
	bk.IsDefaulted = true
	bk.PastDefaults++
	st := step
	bk.DefaultStep = &st
	s.exec.SeedCascade(bankID)
	s.emit(&events.DefaultData{Step: step, BankID: bankID, Equity: bk.Sheet.Equity()})
	s.log.Info().Int("bank", bankID).Msg("forced default")
}

// applyCrisisLocked shocks every market price and drains a slice of each
// solvent bank's cash.
func (s *Session) applyCrisisLocked(step int) {
	if s.markets != nil {
		for _, id := range s.markets.IDs() {
			m := s.markets.Get(id)
			m.RecordImpact(-crisisMarketShock * m.Price)
		}
	}
	for _, bk := range s.banks {
		if bk.IsDefaulted {
			continue
		}
		bk.ApplyLoss(crisisCashShock*bk.Sheet.Cash, step, "financial_crisis")
	}
	s.log.Warn().Int("step", step).Msg("financial crisis applied")
}

// CreateBank adds a bank while the session is INITIALIZED.
func (s *Session) CreateBank(bc BankConfig) (*bank.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Initialized {
		return nil, precondition("create_bank requires INITIALIZED", s.state)
	}
	id := len(s.banks)
	bk := s.buildConfiguredBank(id, bc)
	s.banks = append(s.banks, bk)
	s.rebindKernelLocked()
	return bk, nil
}

// UpdateBank adjusts a bank's configurable fields while INITIALIZED.
func (s *Session) UpdateBank(id int, bc BankConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Initialized {
		return precondition("update_bank requires INITIALIZED", s.state)
	}
	bk := s.bankByID(id)
	if bk == nil {
		return notFound(fmt.Sprintf("unknown bank %d", id), s.state)
	}
	if bc.Name != "" {
		bk.Name = bc.Name
	}
	if bc.Cash > 0 {
		bk.Sheet.Cash = bc.Cash
	}
	if bc.Borrowed > 0 {
		bk.Sheet.Borrowed = bc.Borrowed
	}
	if bc.RiskFactor > 0 {
		bk.RiskFactor = bc.RiskFactor
	}
	return nil
}

// CreateConnection books an interbank loan while INITIALIZED.
func (s *Session) CreateConnection(cc ConnectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Initialized {
		return precondition("create_connection requires INITIALIZED", s.state)
	}
	if s.bankByID(cc.From) == nil || s.bankByID(cc.To) == nil {
		return notFound(fmt.Sprintf("unknown bank in connection %d->%d", cc.From, cc.To), s.state)
	}
	s.connect(cc.From, cc.To, cc.Amount)
	return nil
}

// rebindKernelLocked refreshes the executor's bank slice after setup-time
// mutations.
func (s *Session) rebindKernelLocked() {
	if s.exec != nil {
		s.exec.Banks = s.banks
	}
}
