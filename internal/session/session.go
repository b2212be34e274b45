package session

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/systemiq/banknet/internal/bank"
	"github.com/systemiq/banknet/internal/events"
	"github.com/systemiq/banknet/internal/kernel"
	"github.com/systemiq/banknet/internal/ledger"
	"github.com/systemiq/banknet/internal/market"
	"github.com/systemiq/banknet/internal/policy"
)

// Config is the network a session is initialised with. A nil Markets slice
// means the default two-index system; an explicit empty slice means no
// markets at all.
type Config struct {
	NumBanks          int     `json:"num_banks"`
	InitialCapital    float64 `json:"initial_capital"`
	TotalSteps        int     `json:"total_steps"`
	Seed              int64   `json:"seed"`
	UseGameTheory     bool    `json:"use_game_theory"`
	UseOracle         bool    `json:"use_oracle"`
	AutoRun           bool    `json:"auto_run"`
	ConnectionDensity float64 `json:"connection_density"`

	Banks       []BankConfig       `json:"banks,omitempty"`
	Markets     []MarketConfig     `json:"markets"`
	Connections []ConnectionConfig `json:"connections,omitempty"`
}

// BankConfig describes one explicitly configured bank.
type BankConfig struct {
	Name        string  `json:"name"`
	Cash        float64 `json:"cash"`
	Investments float64 `json:"investments"`
	Borrowed    float64 `json:"borrowed"`
	RiskFactor  float64 `json:"risk_factor"`
}

// MarketConfig describes one market.
type MarketConfig struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	InitialPrice float64 `json:"initial_price"`
}

// ConnectionConfig describes one initial interbank loan.
type ConnectionConfig struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Amount float64 `json:"amount"`
}

// subscriber is one bounded event stream reader.
type subscriber struct {
	ch   chan json.RawMessage
	quit chan struct{}
}

// Session is one configured simulation with its own worker, banks, markets,
// ledger, and event stream.
type Session struct {
	ID string

	mu    sync.Mutex
	state State
	cfg   Config

	banks   []*bank.Bank
	markets *market.System
	led     *ledger.Ledger
	exec    *kernel.StepExecutor
	rng     *rand.Rand

	control chan Command
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once

	subscribers map[int]*subscriber
	nextSub     int
	streamOver  bool

	// history retains every encoded event in emit order.
	history []json.RawMessage

	stepDelay   time.Duration
	eventBuffer int
	oracleTTL   time.Duration

	// terminalAt marks when the session reached a terminal state; the
	// manager's reaper uses it.
	terminalAt time.Time

	// onTerminal receives the final record when the session reaches a
	// terminal state. Called outside the session lock.
	onTerminal func(Record)

	log zerolog.Logger
}

// Options tunes per-session buffers and pacing.
type Options struct {
	ControlBuffer int
	EventBuffer   int
	StepDelay     time.Duration
	OracleTTL     time.Duration
	OnTerminal    func(Record)
}

// New creates an uninitialised session.
func New(id string, opts Options, log zerolog.Logger) *Session {
	if opts.ControlBuffer < 1 {
		opts.ControlBuffer = 32
	}
	if opts.EventBuffer < 1 {
		opts.EventBuffer = 256
	}
	return &Session{
		ID:          id,
		state:       Uninitialized,
		control:     make(chan Command, opts.ControlBuffer),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		subscribers: make(map[int]*subscriber),
		stepDelay:   opts.StepDelay,
		eventBuffer: opts.EventBuffer,
		oracleTTL:   opts.OracleTTL,
		onTerminal:  opts.OnTerminal,
		log:         log.With().Str("component", "session").Str("session_id", id).Logger(),
	}
}

// Init builds the network from the config and moves the session to
// INITIALIZED. Requires UNINITIALIZED.
func (s *Session) Init(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Uninitialized {
		return precondition("init requires UNINITIALIZED", s.state)
	}
	if cfg.NumBanks <= 0 && len(cfg.Banks) == 0 {
		return precondition("config names no banks", s.state)
	}
	if cfg.TotalSteps <= 0 {
		cfg.TotalSteps = 20
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = 100
	}

	s.cfg = cfg
	s.rng = rand.New(rand.NewSource(cfg.Seed))
	s.led = ledger.New()

	s.buildNetwork()

	eng := policy.NewEngine(cfg.UseGameTheory, s.rng)
	var oracle policy.Oracle
	if cfg.UseOracle {
		oracle = policy.RuleBasedOracle{}
		if s.oracleTTL > 0 {
			oracle = policy.NewCachedOracle(oracle, s.oracleTTL)
		}
	}
	s.exec = kernel.New(s.banks, s.markets, s.led, eng, oracle, cfg.TotalSteps, s.rng, s.log, s.emit)
	s.exec.ControlHook = s.drainControlLocked

	s.state = Initialized
	s.emit(s.initEvent())
	s.log.Info().Int("banks", len(s.banks)).Int("total_steps", cfg.TotalSteps).Msg("session initialised")
	return nil
}

// Start moves INITIALIZED to RUNNING and, in auto-run mode, launches the
// step-loop worker.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Initialized {
		return precondition("start requires INITIALIZED", s.state)
	}
	s.state = Running
	if s.cfg.AutoRun {
		go s.worker()
	}
	return nil
}

// Pause suspends the step loop between steps. Requires RUNNING.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return precondition("pause requires RUNNING", s.state)
	}
	s.state = Paused
	s.emit(&events.LifecycleData{Kind: events.Paused, Step: s.exec.CurrentStep()})
	return nil
}

// Resume restarts a paused session. Requires PAUSED.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Paused {
		return precondition("resume requires PAUSED", s.state)
	}
	s.state = Running
	s.emit(&events.LifecycleData{Kind: events.Resumed, Step: s.exec.CurrentStep()})
	s.signalWake()
	return nil
}

// Stop terminates the session. Requires RUNNING or PAUSED; a second stop
// fails with a precondition error.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running && s.state != Paused {
		return precondition("stop requires RUNNING or PAUSED", s.state)
	}
	s.stopLocked()
	return nil
}

// Step synchronously executes one step. Requires RUNNING.
func (s *Session) Step() (kernel.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Running {
		return kernel.Summary{}, precondition("step requires RUNNING", s.state)
	}
	summary := s.exec.ExecuteStep()
	if summary.Completed && !s.state.Terminal() {
		s.completeLocked()
	}
	return summary, nil
}

// Control enqueues a command; it is applied between phases 1 and 2 of the
// next step, or immediately while PAUSED in auto-run mode.
func (s *Session) Control(cmd Command) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == Uninitialized || state.Terminal() {
		return precondition("control requires an active session", state)
	}
	select {
	case s.control <- cmd:
		return nil
	default:
		return &Error{Kind: KindExhausted, Reason: "control inbox full", StateBefore: state}
	}
}

// Subscribe attaches a bounded event stream. The returned cancel function
// detaches it; the channel is closed when the stream ends.
func (s *Session) Subscribe() (<-chan json.RawMessage, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The channel holds the full history on top of the live buffer so a
	// late subscriber never sees a gapped stream.
	sub := &subscriber{
		ch:   make(chan json.RawMessage, s.eventBuffer+len(s.history)),
		quit: make(chan struct{}),
	}
	id := s.nextSub
	s.nextSub++

	for _, e := range s.history {
		sub.ch <- e
	}

	if s.streamOver {
		close(sub.ch)
		return sub.ch, func() {}
	}
	s.subscribers[id] = sub

	cancel := func() {
		close(sub.quit)
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Status is the session's observable summary.
type Status struct {
	SessionID      string `json:"session_id"`
	State          State  `json:"state"`
	CurrentStep    int    `json:"current_step"`
	TotalSteps     int    `json:"total_steps"`
	BanksCount     int    `json:"banks_count"`
	Defaults       int    `json:"defaults"`
	SurvivingBanks int    `json:"surviving_banks"`
}

// Status returns the current observable state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() Status {
	st := Status{
		SessionID:  s.ID,
		State:      s.state,
		TotalSteps: s.cfg.TotalSteps,
		BanksCount: len(s.banks),
	}
	if s.exec != nil {
		st.CurrentStep = s.exec.CurrentStep()
	}
	for _, bk := range s.banks {
		if bk.IsDefaulted {
			st.Defaults++
		}
	}
	st.SurvivingBanks = st.BanksCount - st.Defaults
	return st
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentStep returns the number of completed steps.
func (s *Session) CurrentStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exec == nil {
		return 0
	}
	return s.exec.CurrentStep()
}

// History returns the encoded events emitted so far, in order.
func (s *Session) History() []json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]json.RawMessage, len(s.history))
	copy(out, s.history)
	return out
}

// Ledger returns the session ledger. The caller must treat it as read-only
// while the session is live.
func (s *Session) Ledger() *ledger.Ledger { return s.led }

// Banks returns the session's banks. Read-only for callers.
func (s *Session) Banks() []*bank.Bank {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.banks
}

// Markets returns the session's market system, nil when the session runs
// without markets.
func (s *Session) Markets() *market.System {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markets
}

// Destroy frees the session, unblocking subscribers with a stopped event if
// the session is still live.
func (s *Session) Destroy() {
	s.mu.Lock()
	if !s.state.Terminal() && s.state != Uninitialized {
		s.stopLocked()
	} else if !s.streamOver {
		s.closeStreamLocked()
	}
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

// worker is the auto-run step loop: advance while RUNNING, drain controls
// while PAUSED, exit on terminal states.
func (s *Session) worker() {
	for {
		s.mu.Lock()
		state := s.state
		s.mu.Unlock()

		switch state {
		case Running:
			if _, err := s.Step(); err != nil {
				// State moved under us (pause or stop); re-read it.
				continue
			}
			if s.stepDelay > 0 {
				select {
				case <-time.After(s.stepDelay):
				case <-s.done:
					return
				}
			}
		case Paused:
			select {
			case cmd := <-s.control:
				s.mu.Lock()
				s.applyCommandLocked(cmd)
				s.mu.Unlock()
			case <-s.wake:
			case <-s.done:
				return
			}
		default:
			return
		}
	}
}

func (s *Session) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// drainControlLocked applies all queued commands. Runs inside the kernel's
// control hook with the session lock held.
func (s *Session) drainControlLocked() {
	for {
		select {
		case cmd := <-s.control:
			s.applyCommandLocked(cmd)
		default:
			return
		}
	}
}

// stopLocked is the terminal stop transition.
func (s *Session) stopLocked() {
	s.state = Stopped
	step := 0
	if s.exec != nil {
		step = s.exec.CurrentStep()
	}
	s.emit(&events.LifecycleData{Kind: events.Stopped, Step: step})
	s.finishLocked()
}

// completeLocked is the terminal completion transition.
func (s *Session) completeLocked() {
	s.state = Completed
	st := s.statusLocked()
	s.emit(&events.CompleteData{
		TotalSteps:     st.CurrentStep,
		TotalDefaults:  st.Defaults,
		SurvivingBanks: st.SurvivingBanks,
	})
	s.finishLocked()
}

// finishLocked closes the stream and hands the final record to the archive
// callback.
func (s *Session) finishLocked() {
	s.terminalAt = time.Now()
	s.closeStreamLocked()
	s.log.Info().Str("state", string(s.state)).Msg("session finished")
	if s.onTerminal != nil {
		rec := s.recordLocked()
		go s.onTerminal(rec)
	}
}

func (s *Session) closeStreamLocked() {
	s.streamOver = true
	for id, sub := range s.subscribers {
		close(sub.ch)
		delete(s.subscribers, id)
	}
}

// emit encodes one event, appends it to history, and publishes it to every
// subscriber. A full subscriber channel blocks the kernel (no event loss);
// a cancelled or destroyed subscriber is skipped.
func (s *Session) emit(data events.EventData) {
	raw, err := events.Encode(data)
	if err != nil {
		s.log.Error().Err(err).Str("type", string(data.EventType())).Msg("event encoding failed")
		return
	}
	s.history = append(s.history, raw)
	if s.streamOver {
		return
	}
	for _, sub := range s.subscribers {
		select {
		case sub.ch <- raw:
		case <-sub.quit:
		case <-s.done:
			return
		}
	}
}

// initEvent snapshots the freshly built network.
func (s *Session) initEvent() *events.InitData {
	data := &events.InitData{}
	for _, bk := range s.banks {
		data.Banks = append(data.Banks, events.BankSummary{
			ID:          bk.ID,
			Name:        bk.Name,
			Capital:     bk.Sheet.Equity(),
			Cash:        bk.Sheet.Cash,
			IsDefaulted: bk.IsDefaulted,
		})
		var borrowerIDs []int
		for id, amt := range bk.Sheet.LoanPositions {
			if amt > 0 {
				borrowerIDs = append(borrowerIDs, id)
			}
		}
		sortInts(borrowerIDs)
		for _, id := range borrowerIDs {
			data.Connections = append(data.Connections, events.ConnectionSummary{
				From:   bk.ID,
				To:     id,
				Amount: bk.Sheet.LoanPositions[id],
			})
		}
	}
	if s.markets != nil {
		for _, snap := range s.markets.Snapshots() {
			data.Markets = append(data.Markets, events.MarketSummary{
				ID:            snap.MarketID,
				Name:          snap.Name,
				Price:         snap.Price,
				TotalInvested: snap.TotalInvested,
			})
		}
	}
	return data
}
