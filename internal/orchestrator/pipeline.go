// Package orchestrator drives the pipeline end to end: preflight, semantic
// validation, per-symbol execution, manifest binding and verification, and
// portfolio aggregation. Execution is strictly sequential; symbols run in the
// directive's declared order and every stage advance goes through the
// governance state machines.
package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kitealert7-source/tradescan/internal/broker"
	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/emitter"
	"github.com/kitealert7-source/tradescan/internal/engine"
	"github.com/kitealert7-source/tradescan/internal/governance"
	"github.com/kitealert7-source/tradescan/internal/indicator"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/manifest"
	"github.com/kitealert7-source/tradescan/internal/marketdata"
	"github.com/kitealert7-source/tradescan/internal/signature"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/internal/validate"
	"github.com/kitealert7-source/tradescan/internal/version"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

const defaultReferenceCapital = 10000.0

// Pipeline owns the stateless services and drives directives through the
// stage sequence. One Pipeline serves many directives.
type Pipeline struct {
	layout    Layout
	data      marketdata.Service
	brokers   *broker.SpecService
	registry  strategy.Registry
	provision *signature.Provisioner
	emit      *emitter.Emitter
	binder    *manifest.Binder
	engineCfg engine.Config
	log       *logger.Logger

	// Progress reporting during stage 1, swapped out in tests.
	progress func(total int) func()
}

// NewPipeline wires a pipeline onto a project root.
func NewPipeline(layout Layout, registry strategy.Registry, engineCfg engine.Config,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		layout:    layout,
		data:      marketdata.NewFileService(layout.MarketDataDir(), log),
		brokers:   broker.NewSpecService(layout.BrokerSpecsDir()),
		registry:  registry,
		provision: signature.NewProvisioner(registry, layout.StrategiesDir(), log),
		emit:      emitter.NewEmitter(log),
		binder:    manifest.NewBinder(log),
		engineCfg: engineCfg.Normalize(),
		log:       log,
		progress:  stderrProgress,
	}
}

// symbolRun tracks one per-symbol run through the stages.
type symbolRun struct {
	symbol  string
	runID   string
	dir     string
	machine *governance.Machine
	audit   *governance.AuditLog
}

// Run drives one directive through the full stage sequence. force permits
// re-running a directive that is already terminal.
func (p *Pipeline) Run(directiveID string, force bool) error {
	c, raw, err := p.canonical(directiveID)
	if err != nil {
		return err
	}

	contentHash, err := signature.ContentHash(c)
	if err != nil {
		return err
	}

	govDir := p.layout.GovernanceDir(directiveID)

	audit, err := governance.NewAuditLog(govDir)
	if err != nil {
		return err
	}

	dm, err := governance.NewDirectiveMachine(directiveID, govDir, audit)
	if err != nil {
		return err
	}

	switch dm.Current() {
	case governance.DirectivePortfolioComplete:
		if !force {
			return errors.Newf(errors.KindResumeRefused, directiveID,
				"directive already PORTFOLIO_COMPLETE; re-run requires force")
		}

		_ = audit.Event(governance.EventReset, map[string]any{"reason": "forced re-run"})

		if err := dm.Initialize(); err != nil {
			return err
		}
	case governance.DirectiveFailed:
		if !force {
			return errors.Newf(errors.KindResumeRefused, directiveID,
				"directive is FAILED; resume requires force")
		}

		if err := dm.TransitionTo(governance.DirectiveInitialized); err != nil {
			return err
		}
	}

	runs, err := p.symbolRuns(c, contentHash)
	if err != nil {
		return err
	}

	if err := p.execute(directiveID, c, raw, contentHash, dm, runs); err != nil {
		p.failSafe(dm, runs)

		return err
	}

	return nil
}

// execute is the stage sequence proper. Any returned error triggers the
// caller's fail-safe sweep.
func (p *Pipeline) execute(directiveID string, c *directive.Canonical, raw []byte,
	contentHash string, dm *governance.Machine, runs []*symbolRun,
) error {
	// A directive past its symbol runs only needs verification and the
	// portfolio stage.
	if dm.Current() == governance.DirectiveSymbolRunsDone {
		if err := p.verifyManifests(c, runs); err != nil {
			return err
		}

		return p.portfolioStage(dm)
	}

	impl, err := p.provision.Provision(c)
	if err != nil {
		return err
	}

	if dm.Current() == governance.DirectiveInitialized {
		if err := p.preflight(directiveID, c, runs); err != nil {
			return err
		}

		if err := dm.TransitionTo(governance.DirectivePreflightComplete); err != nil {
			return err
		}
	}

	if dm.Current() == governance.DirectivePreflightComplete {
		if err := p.semanticStage(c, impl, runs); err != nil {
			return err
		}

		if err := dm.TransitionTo(governance.DirectiveSemanticallyValid); err != nil {
			return err
		}
	}

	if err := p.stage1(directiveID, c, raw, contentHash, impl, runs); err != nil {
		return err
	}

	if err := p.stage2(c, runs); err != nil {
		return err
	}

	if err := p.stage3(c, impl, runs); err != nil {
		return err
	}

	if err := dm.TransitionTo(governance.DirectiveSymbolRunsDone); err != nil {
		return err
	}

	if err := p.verifyManifests(c, runs); err != nil {
		return err
	}

	return p.portfolioStage(dm)
}

// canonical reads and canonicalizes the directive.
func (p *Pipeline) canonical(directiveID string) (*directive.Canonical, []byte, error) {
	raw, err := p.layout.ReadDirective(directiveID)
	if err != nil {
		return nil, nil, err
	}

	res, err := directive.Canonicalize(raw)
	if err != nil {
		return nil, nil, err
	}

	for _, v := range res.Violations {
		p.log.Info("canonicalization note",
			zap.String("directive", directiveID), zap.String("note", v.String()))
	}

	return res.Canonical, raw, nil
}

// symbolRuns builds the per-symbol run tracking in declared symbol order.
func (p *Pipeline) symbolRuns(c *directive.Canonical, contentHash string) ([]*symbolRun, error) {
	runs := make([]*symbolRun, 0, len(c.Symbols))

	for _, symbol := range c.Symbols {
		runID := governance.RunID(contentHash, symbol, c.Timeframe, c.Broker, version.GetVersion())
		dir := p.layout.RunDir(runID)

		audit, err := governance.NewAuditLog(dir)
		if err != nil {
			return nil, err
		}

		machine, err := governance.NewRunMachine(runID, dir, audit)
		if err != nil {
			return nil, err
		}

		runs = append(runs, &symbolRun{
			symbol:  symbol,
			runID:   runID,
			dir:     dir,
			machine: machine,
			audit:   audit,
		})
	}

	return runs, nil
}

// preflight runs the once-per-directive gates and moves every run to
// PREFLIGHT_COMPLETE.
func (p *Pipeline) preflight(directiveID string, c *directive.Canonical, runs []*symbolRun) error {
	if err := p.checkScope(directiveID, c); err != nil {
		return err
	}

	if err := p.engineGate(directiveID); err != nil {
		return err
	}

	for _, sr := range runs {
		// A failed run re-enters the pipeline through IDLE.
		if sr.machine.Current() == governance.RunFailed {
			if err := sr.machine.TransitionTo(governance.RunIdle); err != nil {
				return err
			}
		}

		if sr.machine.Current() != governance.RunIdle {
			continue
		}

		_ = sr.audit.Event(governance.EventRunInitialized, map[string]any{
			"symbol": sr.symbol, "directive": directiveID,
		})

		if err := sr.machine.TransitionTo(governance.RunPreflightComplete); err != nil {
			return err
		}
	}

	return nil
}

// semanticStage runs the read-only semantic check and advances the runs.
func (p *Pipeline) semanticStage(c *directive.Canonical, impl strategy.Strategy, runs []*symbolRun) error {
	findings, err := validate.Semantic(c, impl)
	if err != nil {
		for _, f := range findings {
			p.log.Error("semantic finding",
				zap.String("strategy", c.StrategyName), zap.String("finding", f.String()))
		}

		return err
	}

	for _, sr := range runs {
		if sr.machine.Current() != governance.RunPreflightComplete {
			continue
		}

		if err := sr.machine.TransitionTo(governance.RunSemanticallyValid); err != nil {
			return err
		}
	}

	return nil
}

// checkScope re-verifies the resolved scope the canonicalizer produced.
func (p *Pipeline) checkScope(directiveID string, c *directive.Canonical) error {
	switch {
	case c.Broker == "":
		return errors.New(errors.KindPreflightFailed, directiveID, "directive resolves no broker")
	case c.Timeframe == "":
		return errors.New(errors.KindPreflightFailed, directiveID, "directive resolves no timeframe")
	case len(c.Symbols) == 0:
		return errors.New(errors.KindPreflightFailed, directiveID, "directive resolves no symbols")
	case c.DateRange.From == "" || c.DateRange.To == "":
		return errors.New(errors.KindPreflightFailed, directiveID, "directive resolves no date range")
	}

	for _, ref := range c.Indicators {
		if !indicator.Exists(ref) {
			return errors.Newf(errors.KindPreflightFailed, directiveID,
				"declared indicator %q does not exist", ref)
		}
	}

	return nil
}

// engineGate pins the engine version a directive first ran under and refuses
// major or minor drift on resume.
func (p *Pipeline) engineGate(directiveID string) error {
	path := filepath.Join(p.layout.GovernanceDir(directiveID), "engine_version")

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return errors.Wrap(errors.KindPreflightFailed, directiveID,
				"cannot create governance dir", mkErr)
		}

		if wErr := os.WriteFile(path, []byte(version.GetVersion()), 0o644); wErr != nil {
			return errors.Wrap(errors.KindPreflightFailed, directiveID,
				"cannot pin engine version", wErr)
		}

		return nil
	}

	if err != nil {
		return errors.Wrap(errors.KindPreflightFailed, directiveID,
			"engine version pin unreadable", err)
	}

	return version.CheckCompatibility(version.GetVersion(), string(raw))
}

// verifyManifests re-hashes every bound artifact of every surviving run and
// moves runs past STAGE_3A to COMPLETE.
func (p *Pipeline) verifyManifests(c *directive.Canonical, runs []*symbolRun) error {
	for _, sr := range runs {
		if sr.machine.Current() == governance.RunFailed {
			continue
		}

		if !governance.RunStateAtLeast(sr.machine.Current(), governance.RunStage3AComplete) {
			return errors.Newf(errors.KindStageFailed, sr.runID,
				"run in state %s cannot be verified", sr.machine.Current())
		}

		expected, err := p.manifestArtifacts(c.StrategyName, sr)
		if err != nil {
			return err
		}

		if err := p.binder.Verify(sr.dir, sr.runID, expected); err != nil {
			if tErr := sr.machine.TransitionTo(governance.RunFailed); tErr != nil {
				p.log.Warn("cannot fail run after verification failure",
					zap.String("run_id", sr.runID), zap.Error(tErr))
			}

			return err
		}

		_ = sr.audit.Event(governance.EventSnapshotVerified, nil)

		if sr.machine.Current() == governance.RunStage3AComplete {
			if err := sr.machine.TransitionTo(governance.RunComplete); err != nil {
				return err
			}

			_ = sr.audit.Event(governance.EventRunComplete, nil)
		}
	}

	return nil
}

// failSafe forces every non-terminal run and the directive to FAILED.
// Cleanup failures are warnings; the original error is what surfaces.
func (p *Pipeline) failSafe(dm *governance.Machine, runs []*symbolRun) {
	for _, sr := range runs {
		if governance.IsTerminalRunState(sr.machine.Current()) {
			continue
		}

		if err := sr.machine.TransitionTo(governance.RunFailed); err != nil {
			p.log.Warn("fail-safe cleanup could not fail run",
				zap.String("run_id", sr.runID), zap.Error(err))

			continue
		}

		_ = sr.audit.Event(governance.EventFailed, nil)
	}

	state := dm.Current()
	if state == governance.DirectivePortfolioComplete || state == governance.DirectiveFailed {
		return
	}

	if err := dm.TransitionTo(governance.DirectiveFailed); err != nil {
		p.log.Warn("fail-safe cleanup could not fail directive", zap.Error(err))
	}
}

// Reset returns a directive to INITIALIZED with a mandatory operator reason.
// With toStage4 the per-symbol run states are preserved so the next invocation
// skips straight to manifest verification and the portfolio stage.
func (p *Pipeline) Reset(directiveID, reason string, toStage4 bool) error {
	if reason == "" {
		return errors.New(errors.KindResumeRefused, directiveID,
			"reset requires a reason")
	}

	c, _, err := p.canonical(directiveID)
	if err != nil {
		return err
	}

	contentHash, err := signature.ContentHash(c)
	if err != nil {
		return err
	}

	govDir := p.layout.GovernanceDir(directiveID)

	audit, err := governance.NewAuditLog(govDir)
	if err != nil {
		return err
	}

	dm, err := governance.NewDirectiveMachine(directiveID, govDir, audit)
	if err != nil {
		return err
	}

	if err := audit.Event(governance.EventReset, map[string]any{
		"reason": reason, "to_stage4": toStage4,
	}); err != nil {
		return err
	}

	runs, err := p.symbolRuns(c, contentHash)
	if err != nil {
		return err
	}

	if toStage4 {
		// Preserve run states; the directive re-enters at manifest
		// verification as long as every run already finished its stages.
		for _, sr := range runs {
			if !governance.RunStateAtLeast(sr.machine.Current(), governance.RunStage3AComplete) {
				return errors.Newf(errors.KindResumeRefused, directiveID,
					"stage-4 reset requires all runs past STAGE_3A, %s is %s",
					sr.runID, sr.machine.Current())
			}
		}

		return dm.Initialize()
	}

	if err := dm.Initialize(); err != nil {
		return err
	}

	for _, sr := range runs {
		_ = sr.audit.Event(governance.EventReset, map[string]any{"reason": reason})

		if err := sr.machine.Initialize(); err != nil {
			return err
		}
	}

	return nil
}

// Preflight runs the read-only preflight gates without touching any state
// machine. Used by the operator-facing preflight command.
func (p *Pipeline) Preflight(directiveID string) error {
	c, _, err := p.canonical(directiveID)
	if err != nil {
		return err
	}

	if err := p.checkScope(directiveID, c); err != nil {
		return err
	}

	if _, err := p.provision.Provision(c); err != nil {
		return err
	}

	return nil
}

// metadata assembles the run metadata artifact for one symbol run.
func (p *Pipeline) metadata(directiveID string, c *directive.Canonical, sr *symbolRun,
	spec *broker.Spec, contentHash string, raw []byte, fingerprint string,
) types.RunMetadata {
	capital := spec.ReferenceCapitalUSD
	if capital <= 0 {
		capital = defaultReferenceCapital
	}

	sizingBase := "fixed_lot"
	if p.engineCfg.RiskPerTradeUSD > 0 {
		sizingBase = "risk_usd"
	}

	return types.RunMetadata{
		RunID:              sr.runID,
		StrategyName:       c.StrategyName,
		Symbol:             sr.symbol,
		Timeframe:          c.Timeframe,
		DateFrom:           c.DateRange.From,
		DateTo:             c.DateRange.To,
		ExecutedAt:         time.Now().UTC(),
		EngineName:         version.EngineName,
		EngineVersion:      version.GetVersion(),
		DirectiveHash:      shortHash(raw),
		EngineHash:         shortHash([]byte(version.EngineName + version.GetVersion())),
		DataFingerprint:    fingerprint,
		SchemaVersion:      1,
		Broker:             c.Broker,
		ReferenceCapital:   capital,
		PositionSizingBase: sizingBase,
		ContentHash:        contentHash,
		Lineage:            directiveID,
	}
}

func shortHash(raw []byte) string {
	return fullHash(raw)[:12]
}

func fullHash(raw []byte) string {
	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:])
}

// manifestArtifacts lists the emitted artifacts of a run relative to its
// governance directory, as bound into the manifest.
func (p *Pipeline) manifestArtifacts(strategyName string, sr *symbolRun) ([]string, error) {
	artifactDir := p.layout.ArtifactDir(strategyName, sr.runID)

	out := make([]string, 0, len(emitter.RequiredArtifacts()))

	for _, rel := range emitter.RequiredArtifacts() {
		relToRun, err := filepath.Rel(sr.dir, filepath.Join(artifactDir, rel))
		if err != nil {
			return nil, errors.Wrap(errors.KindStageFailed, sr.runID,
				"cannot relativize artifact path", err)
		}

		out = append(out, relToRun)
	}

	return out, nil
}
