package session

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(t *testing.T) *Session {
	t.Helper()
	return New("test-session", Options{}, zerolog.Nop())
}

type wireEvent map[string]any

func decodeHistory(t *testing.T, s *Session) []wireEvent {
	t.Helper()
	var out []wireEvent
	for _, raw := range s.History() {
		var e wireEvent
		require.NoError(t, json.Unmarshal(raw, &e))
		out = append(out, e)
	}
	return out
}

func eventTypes(evs []wireEvent) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e["type"].(string))
	}
	return out
}

func TestLifecycle_IllegalTransitions(t *testing.T) {
	s := newSession(t)

	err := s.Start()
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindPrecondition, serr.Kind)
	assert.Equal(t, Uninitialized, serr.StateBefore)

	require.NoError(t, s.Init(Config{NumBanks: 2, TotalSteps: 3, Seed: 1}))
	assert.Equal(t, Initialized, s.State())

	_, err = s.Step()
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindPrecondition, serr.Kind)
	assert.Equal(t, Initialized, serr.StateBefore)

	assert.Error(t, s.Pause(), "pause requires RUNNING")
	assert.Error(t, s.Resume(), "resume requires PAUSED")
	assert.Error(t, s.Init(Config{NumBanks: 2}), "double init")

	require.NoError(t, s.Start())
	assert.Equal(t, Running, s.State())
	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())
	require.NoError(t, s.Stop())
	assert.Equal(t, Stopped, s.State())
}

func TestScenario_SingleBankNoMarketsHoards(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Init(Config{
		NumBanks:   1,
		Markets:    []MarketConfig{},
		TotalSteps: 3,
		Seed:       7,
	}))
	require.NoError(t, s.Start())

	for i := 0; i < 3; i++ {
		_, err := s.Step()
		require.NoError(t, err)
	}

	for _, e := range decodeHistory(t, s) {
		switch e["type"] {
		case "transaction":
			assert.Equal(t, "HOARD_CASH", e["action"], "no counterparty and no market leaves only hoarding")
		case "step_end":
			assert.EqualValues(t, 0, e["total_defaults"])
		case "default":
			t.Fatalf("unexpected default event: %v", e)
		}
	}
	assert.Equal(t, Completed, s.State())
}

func TestScenario_ForcedDefaultCascadesToLender(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Init(Config{
		Banks: []BankConfig{
			{Name: "A", Cash: 100},
			{Name: "B", Cash: 100},
		},
		Connections: []ConnectionConfig{{From: 0, To: 1, Amount: 30}},
		Markets:     []MarketConfig{},
		TotalSteps:  5,
		Seed:        3,
	}))
	lender := s.Banks()[0]
	assert.InDelta(t, 30.0, lender.Sheet.LoansGiven, 1e-9)

	require.NoError(t, s.Start())
	_, err := s.Step()
	require.NoError(t, err)

	require.NoError(t, s.Control(Command{Type: CmdTriggerDefault, BankID: 1}))
	_, err = s.Step()
	require.NoError(t, err)

	assert.True(t, s.Banks()[1].IsDefaulted)
	assert.InDelta(t, 0.0, lender.Sheet.LoansGiven, 1e-9)
	assert.Zero(t, lender.Sheet.LoanPositions[1])

	var sawDefault bool
	for _, e := range decodeHistory(t, s) {
		if e["type"] == "default" && e["bank_id"].(float64) == 1 {
			sawDefault = true
			assert.EqualValues(t, 2, e["step"], "command lands between phases 1 and 2 of step 2")
		}
	}
	assert.True(t, sawDefault)
}

func TestScenario_RisingMarketProfitTaking(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Init(Config{
		Banks: []BankConfig{
			{Name: "A", Cash: 60, Investments: 50},
			{Name: "B", Cash: 60, Investments: 50},
			{Name: "C", Cash: 60, Investments: 50},
		},
		Markets:    []MarketConfig{{ID: "IDX", Name: "Index", InitialPrice: 100}},
		TotalSteps: 4,
		Seed:       11,
	}))
	require.NoError(t, s.Start())

	// A strong rally: the phase-7 sweep must start taking profits.
	s.Markets().Get("IDX").Price = 120
	_, err := s.Step()
	require.NoError(t, err)

	var sawProfitTaking, sawGain bool
	for _, e := range decodeHistory(t, s) {
		if e["type"] == "transaction" {
			if reason, _ := e["reason"].(string); strings.Contains(reason, "Profit-taking") {
				sawProfitTaking = true
			}
		}
		if e["type"] == "market_gain" && e["realized_gain"].(float64) > 0 {
			sawGain = true
		}
	}
	assert.True(t, sawProfitTaking, "expected a Profit-taking divestment")
	assert.True(t, sawGain, "expected a positive realised gain")
}

func TestScenario_PauseResumePreservesDeterminism(t *testing.T) {
	run := func(interrupt bool) []json.RawMessage {
		s := newSession(t)
		require.NoError(t, s.Init(Config{NumBanks: 4, TotalSteps: 10, Seed: 42}))
		require.NoError(t, s.Start())
		for i := 0; i < 10; i++ {
			if interrupt && i == 5 {
				require.NoError(t, s.Pause())
				require.NoError(t, s.Resume())
			}
			_, err := s.Step()
			require.NoError(t, err)
		}
		return s.History()
	}

	interrupted := run(true)
	straight := run(false)

	// Drop the paused/resumed markers; everything else must be byte-identical.
	var filtered []json.RawMessage
	for _, raw := range interrupted {
		var e wireEvent
		require.NoError(t, json.Unmarshal(raw, &e))
		if e["type"] == "paused" || e["type"] == "resumed" {
			continue
		}
		filtered = append(filtered, raw)
	}

	require.Equal(t, len(straight), len(filtered))
	for i := range straight {
		assert.Equal(t, string(straight[i]), string(filtered[i]))
	}
}

func TestScenario_PausedThenResumedWithoutInterveningStep(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Init(Config{NumBanks: 2, TotalSteps: 10, Seed: 1}))
	require.NoError(t, s.Start())
	for i := 0; i < 5; i++ {
		_, err := s.Step()
		require.NoError(t, err)
	}
	require.NoError(t, s.Pause())
	require.NoError(t, s.Resume())

	types := eventTypes(decodeHistory(t, s))
	for i, ty := range types {
		if ty == "paused" {
			require.Less(t, i+1, len(types))
			assert.Equal(t, "resumed", types[i+1])
		}
	}
}

func TestScenario_CascadeBounded(t *testing.T) {
	cfg := Config{
		NumBanks:          12,
		ConnectionDensity: 1.0,
		Markets:           []MarketConfig{},
		TotalSteps:        5,
		Seed:              5,
	}
	s := newSession(t)
	require.NoError(t, s.Init(cfg))

	// Force-default the biggest lender.
	biggest, most := 0, 0.0
	for _, bk := range s.Banks() {
		if bk.Sheet.LoansGiven > most {
			most = bk.Sheet.LoansGiven
			biggest = bk.ID
		}
	}
	require.NoError(t, s.Start())
	require.NoError(t, s.Control(Command{Type: CmdTriggerDefault, BankID: biggest}))
	_, err := s.Step()
	require.NoError(t, err)

	for _, e := range decodeHistory(t, s) {
		if e["type"] == "cascade" {
			count := int(e["cascade_count"].(float64))
			assert.LessOrEqual(t, count, len(s.Banks())-1,
				"cascade cannot default more banks than were solvent")
		}
	}
}

func TestScenario_StopIdempotence(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Init(Config{NumBanks: 2, TotalSteps: 10, Seed: 1}))
	require.NoError(t, s.Start())

	require.NoError(t, s.Stop())
	err := s.Stop()
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindPrecondition, serr.Kind)

	stopped := 0
	for _, ty := range eventTypes(decodeHistory(t, s)) {
		if ty == "stopped" {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped)
}

func TestControl_AddCapital(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Init(Config{NumBanks: 2, TotalSteps: 5, Seed: 1}))
	require.NoError(t, s.Start())

	before := s.Banks()[0].Sheet.Cash
	require.NoError(t, s.Control(Command{Type: CmdAddCapital, BankID: 0, Amount: 50}))
	_, err := s.Step()
	require.NoError(t, err)

	// The credit lands before phase 2, then phase 4 may spend from it; the
	// capital_added event records the post-credit equity.
	var saw bool
	for _, e := range decodeHistory(t, s) {
		if e["type"] == "capital_added" {
			saw = true
			assert.EqualValues(t, 0, e["bank_id"])
			assert.EqualValues(t, 50, e["amount"])
		}
	}
	assert.True(t, saw)
	assert.Greater(t, s.Banks()[0].Sheet.Cash+s.Banks()[0].Sheet.Investments+s.Banks()[0].Sheet.LoansGiven, before)
}

func TestControl_InboxFull(t *testing.T) {
	s := New("x", Options{ControlBuffer: 1}, zerolog.Nop())
	require.NoError(t, s.Init(Config{NumBanks: 1, TotalSteps: 5, Seed: 1}))
	require.NoError(t, s.Start())

	require.NoError(t, s.Control(Command{Type: CmdAddCapital, BankID: 0, Amount: 1}))
	err := s.Control(Command{Type: CmdAddCapital, BankID: 0, Amount: 1})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindExhausted, serr.Kind)
}

func TestSubscribe_StreamEndsOnStop(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Init(Config{NumBanks: 2, TotalSteps: 5, Seed: 1}))
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Start())
	_, err := s.Step()
	require.NoError(t, err)
	require.NoError(t, s.Stop())

	var last wireEvent
	for raw := range ch {
		var e wireEvent
		require.NoError(t, json.Unmarshal(raw, &e))
		last = e
	}
	require.NotNil(t, last)
	assert.Equal(t, "stopped", last["type"])
}

func TestSubscribe_LateSubscriberReplaysFullHistory(t *testing.T) {
	s := New("late", Options{EventBuffer: 4}, zerolog.Nop())
	require.NoError(t, s.Init(Config{NumBanks: 3, TotalSteps: 5, Seed: 11}))
	require.NoError(t, s.Start())
	for i := 0; i < 5; i++ {
		_, err := s.Step()
		require.NoError(t, err)
	}
	require.True(t, s.State().Terminal())

	history := s.History()
	require.Greater(t, len(history), 4, "history must exceed the live buffer")

	ch, cancel := s.Subscribe()
	defer cancel()

	var got []json.RawMessage
	for raw := range ch {
		got = append(got, raw)
	}
	require.Equal(t, history, got, "late subscriber sees every event in order")
}

func TestAutoRun_RunsToCompletion(t *testing.T) {
	s := New("auto", Options{}, zerolog.Nop())
	require.NoError(t, s.Init(Config{NumBanks: 3, TotalSteps: 4, Seed: 9, AutoRun: true}))
	ch, cancel := s.Subscribe()
	defer cancel()

	require.NoError(t, s.Start())

	var last wireEvent
	timeout := time.After(10 * time.Second)
	for {
		select {
		case raw, ok := <-ch:
			if !ok {
				require.NotNil(t, last)
				assert.Equal(t, "complete", last["type"])
				assert.Equal(t, Completed, s.State())
				return
			}
			var e wireEvent
			require.NoError(t, json.Unmarshal(raw, &e))
			last = e
		case <-timeout:
			t.Fatal("auto-run session did not complete")
		}
	}
}

func TestSetupMutations_OnlyWhileInitialized(t *testing.T) {
	s := newSession(t)
	require.NoError(t, s.Init(Config{NumBanks: 2, TotalSteps: 5, Seed: 1}))

	bk, err := s.CreateBank(BankConfig{Name: "late", Cash: 80})
	require.NoError(t, err)
	assert.Equal(t, 2, bk.ID)
	require.NoError(t, s.CreateConnection(ConnectionConfig{From: 2, To: 0, Amount: 10}))
	require.NoError(t, s.UpdateBank(2, BankConfig{RiskFactor: 0.8}))

	err = s.UpdateBank(99, BankConfig{})
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindNotFound, serr.Kind)

	require.NoError(t, s.Start())
	_, err = s.CreateBank(BankConfig{Name: "too-late"})
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindPrecondition, serr.Kind)
}

func TestManager_Registry(t *testing.T) {
	m := NewManager(Options{}, zerolog.Nop())

	s := m.Create()
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, m.Len())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Get("missing")
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindNotFound, serr.Kind)

	require.NoError(t, m.Destroy(s.ID))
	assert.Zero(t, m.Len())
	assert.Error(t, m.Destroy(s.ID))
}

func TestManager_ReapTerminal(t *testing.T) {
	m := NewManager(Options{}, zerolog.Nop())
	s := m.Create()
	require.NoError(t, s.Init(Config{NumBanks: 1, TotalSteps: 5, Seed: 1}))
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())

	assert.Zero(t, m.ReapTerminal(time.Hour), "fresh terminal session survives")
	assert.Equal(t, 1, m.ReapTerminal(0), "expired terminal session is reaped")
	assert.Zero(t, m.Len())
}

func TestOnTerminal_RecordDelivered(t *testing.T) {
	recs := make(chan Record, 1)
	s := New("rec", Options{OnTerminal: func(r Record) { recs <- r }}, zerolog.Nop())
	require.NoError(t, s.Init(Config{NumBanks: 2, TotalSteps: 1, Seed: 1}))
	require.NoError(t, s.Start())
	_, err := s.Step()
	require.NoError(t, err)

	select {
	case r := <-recs:
		assert.Equal(t, "rec", r.SessionID)
		assert.Equal(t, Completed, r.State)
		assert.Equal(t, 1, r.CurrentStep)
		assert.Len(t, r.BankStates, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("terminal record not delivered")
	}
}
