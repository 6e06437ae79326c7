package governance

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Directive lifecycle states.
const (
	DirectiveInitialized       = "INITIALIZED"
	DirectivePreflightComplete = "PREFLIGHT_COMPLETE"
	DirectiveSemanticallyValid = "PREFLIGHT_COMPLETE_SEMANTICALLY_VALID"
	DirectiveSymbolRunsDone    = "SYMBOL_RUNS_COMPLETE"
	DirectivePortfolioComplete = "PORTFOLIO_COMPLETE"
	DirectiveFailed            = "FAILED"
)

// Run lifecycle states.
const (
	RunIdle              = "IDLE"
	RunPreflightComplete = "PREFLIGHT_COMPLETE"
	RunSemanticallyValid = "PREFLIGHT_COMPLETE_SEMANTICALLY_VALID"
	RunStage1Complete    = "STAGE_1_COMPLETE"
	RunStage2Complete    = "STAGE_2_COMPLETE"
	RunStage3Complete    = "STAGE_3_COMPLETE"
	RunStage3AComplete   = "STAGE_3A_COMPLETE"
	RunComplete          = "COMPLETE"
	RunFailed            = "FAILED"
)

// directiveTransitions is the forward-only allow-list for directive states.
// PORTFOLIO_COMPLETE is terminal; FAILED resets only through Initialize.
var directiveTransitions = map[string][]string{
	DirectiveInitialized:       {DirectivePreflightComplete, DirectiveFailed},
	DirectivePreflightComplete: {DirectiveSemanticallyValid, DirectiveFailed},
	DirectiveSemanticallyValid: {DirectiveSymbolRunsDone, DirectiveFailed},
	DirectiveSymbolRunsDone:    {DirectivePortfolioComplete, DirectiveFailed},
	DirectivePortfolioComplete: {},
	DirectiveFailed:            {DirectiveInitialized},
}

// runTransitions is the forward-only allow-list for per-symbol run states.
var runTransitions = map[string][]string{
	RunIdle:              {RunPreflightComplete, RunFailed},
	RunPreflightComplete: {RunSemanticallyValid, RunFailed},
	RunSemanticallyValid: {RunStage1Complete, RunFailed},
	RunStage1Complete:    {RunStage2Complete, RunFailed},
	RunStage2Complete:    {RunStage3Complete, RunFailed},
	RunStage3Complete:    {RunStage3AComplete, RunFailed},
	RunStage3AComplete:   {RunComplete, RunFailed},
	RunComplete:          {},
	RunFailed:            {RunIdle},
}

// runStateRank orders run states along the pipeline. FAILED is outside the
// forward order and ranks lowest.
var runStateRank = map[string]int{
	RunFailed:            -1,
	RunIdle:              0,
	RunPreflightComplete: 1,
	RunSemanticallyValid: 2,
	RunStage1Complete:    3,
	RunStage2Complete:    4,
	RunStage3Complete:    5,
	RunStage3AComplete:   6,
	RunComplete:          7,
}

// RunStateAtLeast reports whether state has reached the given milestone.
func RunStateAtLeast(state, milestone string) bool {
	return runStateRank[state] >= runStateRank[milestone]
}

// IsTerminalRunState reports whether a run state accepts no transitions.
func IsTerminalRunState(state string) bool {
	return state == RunComplete || state == RunFailed
}

// HistoryEntry records one state change.
type HistoryEntry struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

type stateFile struct {
	State     string         `json:"state"`
	UpdatedAt time.Time      `json:"updated_at"`
	History   []HistoryEntry `json:"history"`
}

// Machine is a forward-only state machine persisted as a JSON state file.
// One machine instance owns one state file; no other writer touches it.
type Machine struct {
	subject     string
	path        string
	initial     string
	transitions map[string][]string
	current     string
	history     []HistoryEntry
	audit       *AuditLog
}

// NewDirectiveMachine creates the lifecycle machine for a directive, persisted
// at dir/directive_state.json.
func NewDirectiveMachine(subject, dir string, audit *AuditLog) (*Machine, error) {
	return newMachine(subject, filepath.Join(dir, "directive_state.json"),
		DirectiveInitialized, directiveTransitions, audit)
}

// NewRunMachine creates the lifecycle machine for a per-symbol run, persisted
// at dir/run_state.json.
func NewRunMachine(subject, dir string, audit *AuditLog) (*Machine, error) {
	return newMachine(subject, filepath.Join(dir, "run_state.json"),
		RunIdle, runTransitions, audit)
}

func newMachine(subject, path, initial string, transitions map[string][]string, audit *AuditLog) (*Machine, error) {
	m := &Machine{
		subject:     subject,
		path:        path,
		initial:     initial,
		transitions: transitions,
		current:     initial,
		history:     nil,
		audit:       audit,
	}

	if err := m.load(); err != nil {
		return nil, err
	}

	return m, nil
}

// Current returns the in-memory state.
func (m *Machine) Current() string {
	return m.current
}

// History returns a copy of the recorded transitions.
func (m *Machine) History() []HistoryEntry {
	out := make([]HistoryEntry, len(m.history))
	copy(out, m.history)

	return out
}

// load reads the persisted state if present. A missing file leaves the
// machine at its initial state without persisting anything.
func (m *Machine) load() error {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return errors.Wrap(errors.KindStateCorruption, m.subject, "state file unreadable", err)
	}

	var sf stateFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return errors.Wrap(errors.KindStateCorruption, m.subject, "state file does not parse", err)
	}

	if _, known := m.transitions[sf.State]; !known {
		return errors.Newf(errors.KindStateCorruption, m.subject,
			"state file holds unknown state %q", sf.State)
	}

	m.current = sf.State
	m.history = sf.History

	return nil
}

func (m *Machine) persist() error {
	sf := stateFile{
		State:     m.current,
		UpdatedAt: time.Now().UTC(),
		History:   m.history,
	}

	raw, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindStateCorruption, m.subject, "cannot render state file", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return errors.Wrap(errors.KindStateCorruption, m.subject, "cannot create state dir", err)
	}

	if err := os.WriteFile(m.path, raw, 0o644); err != nil {
		return errors.Wrap(errors.KindStateCorruption, m.subject, "cannot write state file", err)
	}

	return nil
}

// TransitionTo advances the machine to next. Transitions outside the current
// state's allow-list fail with KindIllegalTransition and change nothing.
func (m *Machine) TransitionTo(next string) error {
	allowed := m.transitions[m.current]
	if !containsState(allowed, next) {
		return errors.Newf(errors.KindIllegalTransition, m.subject,
			"illegal transition %s -> %s", m.current, next)
	}

	prior := m.current
	m.current = next
	m.history = append(m.history, HistoryEntry{From: prior, To: next, At: time.Now().UTC()})

	if err := m.persist(); err != nil {
		m.current = prior
		m.history = m.history[:len(m.history)-1]

		return err
	}

	if m.audit != nil {
		m.audit.Transition(prior, next)
	}

	return nil
}

// Initialize resets the machine to its initial state, recording the prior
// state as exactly one history entry. Initializing an already-initial machine
// records nothing.
func (m *Machine) Initialize() error {
	if m.current == m.initial {
		return m.persist()
	}

	prior := m.current
	m.current = m.initial
	m.history = append(m.history, HistoryEntry{From: prior, To: m.initial, At: time.Now().UTC()})

	if err := m.persist(); err != nil {
		return err
	}

	if m.audit != nil {
		m.audit.Transition(prior, m.initial)
	}

	return nil
}

// VerifyState checks the persisted state against an expectation. Both a
// mismatch and a missing state file are governance violations, reported as
// errors and never as process termination.
func (m *Machine) VerifyState(expected string) error {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return errors.Newf(errors.KindStateCorruption, m.subject,
			"state file missing while expecting %q", expected)
	}

	if err != nil {
		return errors.Wrap(errors.KindStateCorruption, m.subject, "state file unreadable", err)
	}

	var sf stateFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return errors.Wrap(errors.KindStateCorruption, m.subject, "state file does not parse", err)
	}

	if sf.State != expected {
		return errors.Newf(errors.KindStateCorruption, m.subject,
			"on-disk state %q, expected %q", sf.State, expected)
	}

	return nil
}

func containsState(list []string, state string) bool {
	for _, s := range list {
		if s == state {
			return true
		}
	}

	return false
}
