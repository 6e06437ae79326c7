package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/kitealert7-source/tradescan/internal/broker"
	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/emitter"
	"github.com/kitealert7-source/tradescan/internal/engine"
	"github.com/kitealert7-source/tradescan/internal/fx"
	"github.com/kitealert7-source/tradescan/internal/governance"
	"github.com/kitealert7-source/tradescan/internal/portfolio"
	"github.com/kitealert7-source/tradescan/internal/robustness"
	"github.com/kitealert7-source/tradescan/internal/signature"
	"github.com/kitealert7-source/tradescan/internal/store"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// stage1 runs the execution driver and emitter for every symbol still short
// of STAGE_1_COMPLETE. Data failures fail the affected run and move on to the
// next symbol; everything else halts the directive.
func (p *Pipeline) stage1(directiveID string, c *directive.Canonical, raw []byte,
	contentHash string, impl strategy.Strategy, runs []*symbolRun,
) error {
	p.invalidateSummary(directiveID, runs)

	step := p.progress(len(runs))

	for _, sr := range runs {
		if governance.RunStateAtLeast(sr.machine.Current(), governance.RunStage1Complete) {
			step()

			continue
		}

		if sr.machine.Current() != governance.RunSemanticallyValid {
			return errors.Newf(errors.KindStageFailed, sr.runID,
				"run in state %s is not ready for stage 1", sr.machine.Current())
		}

		if err := p.runStage1(directiveID, c, raw, contentHash, impl, sr); err != nil {
			if tErr := sr.machine.TransitionTo(governance.RunFailed); tErr != nil {
				p.log.Warn("cannot fail run after stage 1 failure",
					zap.String("run_id", sr.runID), zap.Error(tErr))
			}

			_ = sr.audit.Event(governance.EventFailed, map[string]any{"error": err.Error()})

			if isDataFailure(err) {
				p.log.Error("stage 1 data failure, continuing with next symbol",
					zap.String("run_id", sr.runID),
					zap.String("symbol", sr.symbol),
					zap.Error(err))
				step()

				continue
			}

			return err
		}

		if err := sr.machine.TransitionTo(governance.RunStage1Complete); err != nil {
			return err
		}

		step()
	}

	return nil
}

// runStage1 executes one symbol: load data, walk bars, persist trades, emit
// artifacts, append the batch summary row.
func (p *Pipeline) runStage1(directiveID string, c *directive.Canonical, raw []byte,
	contentHash string, impl strategy.Strategy, sr *symbolRun,
) error {
	frame, err := p.data.Load(sr.symbol, c.Broker, c.Timeframe, c.DateRange)
	if err != nil {
		return err
	}

	spec, err := p.brokers.Get(c.Broker, sr.symbol)
	if err != nil {
		return err
	}

	converter := fx.NewConverter(p.data, c.Broker, c.Timeframe, c.DateRange, p.log)
	driver := engine.NewDriver(p.engineCfg, p.log)

	trades, err := driver.Run(sr.symbol, frame, impl, spec, converter)
	if err != nil {
		return err
	}

	st, err := store.NewTradeStore(p.log)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			p.log.Warn("trade store close failed",
				zap.String("run_id", sr.runID), zap.Error(closeErr))
		}
	}()

	if err := st.Insert(trades); err != nil {
		return err
	}

	summary, err := st.Summary()
	if err != nil {
		return err
	}

	meta := p.metadata(directiveID, c, sr, spec, contentHash, raw, dataFingerprint(sr.symbol, frame))

	if err := p.emit.Emit(emitter.Emission{
		Destination:   p.layout.ArtifactDir(c.StrategyName, sr.runID),
		Trades:        trades,
		Store:         st,
		Metadata:      meta,
		DirectiveText: []byte(c.Serialize()),
	}); err != nil {
		return err
	}

	// Zero-trade runs have no equity path to analyze.
	if len(trades) > 0 {
		if err := p.emitRobustness(c, sr, spec, trades, summary); err != nil {
			return err
		}
	}

	return p.appendSummary(directiveID, sr, summary)
}

// emitRobustness writes the deployability report beside the run's artifacts.
// It is analysis output, not a bound deliverable, so it stays outside the
// manifest.
func (p *Pipeline) emitRobustness(c *directive.Canonical, sr *symbolRun, spec *broker.Spec,
	trades []types.TradeRecord, summary store.SummaryMetrics,
) error {
	capital := spec.ReferenceCapitalUSD
	if capital <= 0 {
		capital = defaultReferenceCapital
	}

	report, err := robustness.Analyze(robustness.Input{
		Trades:         trades,
		DailyEquity:    robustness.DailyEquity(trades, capital),
		Summary:        summary,
		InitialCapital: capital,
		Timeframe:      c.Timeframe,
	}, robustness.Config{})
	if err != nil {
		return err
	}

	raw, err := report.Serialize()
	if err != nil {
		return err
	}

	dir := filepath.Join(p.layout.ArtifactDir(c.StrategyName, sr.runID), "analysis")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.KindStageFailed, sr.runID, "cannot create analysis dir", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "robustness.json"), raw, 0o644); err != nil {
		return errors.Wrap(errors.KindStageFailed, sr.runID, "cannot write robustness report", err)
	}

	return nil
}

// invalidateSummary deletes the batch summary when any symbol still has to
// run stage 1; a batch whose symbols are all done keeps its summary.
func (p *Pipeline) invalidateSummary(directiveID string, runs []*symbolRun) {
	for _, sr := range runs {
		if governance.RunStateAtLeast(sr.machine.Current(), governance.RunStage1Complete) {
			continue
		}

		path := p.layout.SummaryCSV(directiveID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.log.Warn("cannot invalidate batch summary",
				zap.String("path", path), zap.Error(err))
		}

		return
	}
}

// appendSummary appends one row to the batch summary CSV, writing the header
// on first use.
func (p *Pipeline) appendSummary(directiveID string, sr *symbolRun, summary store.SummaryMetrics) error {
	path := p.layout.SummaryCSV(directiveID)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.KindStageFailed, sr.runID, "cannot create backtests dir", err)
	}

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(errors.KindStageFailed, sr.runID, "cannot open batch summary", err)
	}
	defer f.Close()

	if fresh {
		if _, err := fmt.Fprintln(f, "run_id,symbol,trade_count,net_pnl_usd"); err != nil {
			return errors.Wrap(errors.KindStageFailed, sr.runID, "cannot write batch summary header", err)
		}
	}

	_, err = fmt.Fprintf(f, "%s,%s,%d,%.2f\n",
		sr.runID, sr.symbol, summary.TradeCount, summary.NetPnlUSD)
	if err != nil {
		return errors.Wrap(errors.KindStageFailed, sr.runID, "cannot append batch summary row", err)
	}

	return nil
}

// stage2 verifies the emitted artifact set exists before advancing each run.
func (p *Pipeline) stage2(c *directive.Canonical, runs []*symbolRun) error {
	for _, sr := range runs {
		if sr.machine.Current() != governance.RunStage1Complete {
			continue
		}

		artifactDir := p.layout.ArtifactDir(c.StrategyName, sr.runID)

		for _, rel := range emitter.RequiredArtifacts() {
			if _, err := os.Stat(filepath.Join(artifactDir, rel)); err != nil {
				return errors.Newf(errors.KindStageFailed, sr.runID,
					"required artifact %s missing after stage 1", rel)
			}
		}

		if err := sr.machine.TransitionTo(governance.RunStage2Complete); err != nil {
			return err
		}
	}

	return nil
}

// stage3 snapshots the strategy into each run directory, verifies the
// snapshot against the persisted descriptor and binds the manifest.
func (p *Pipeline) stage3(c *directive.Canonical, impl strategy.Strategy, runs []*symbolRun) error {
	desc := descriptorOf(impl)

	sourceHash, err := p.persistStrategy(desc)
	if err != nil {
		return err
	}

	for _, sr := range runs {
		if sr.machine.Current() != governance.RunStage2Complete {
			continue
		}

		snapshotHash, err := p.binder.Snapshot(sr.dir, desc)
		if err != nil {
			return err
		}

		if snapshotHash != sourceHash {
			return errors.Newf(errors.KindSnapshotDrift, sr.runID,
				"strategy snapshot drifted from persisted descriptor of %q", desc.StrategyName)
		}

		if err := sr.machine.TransitionTo(governance.RunStage3Complete); err != nil {
			return err
		}

		expected, err := p.manifestArtifacts(c.StrategyName, sr)
		if err != nil {
			return err
		}

		if _, err := p.binder.Bind(sr.dir, sr.runID, snapshotHash, expected); err != nil {
			return err
		}

		_ = sr.audit.Event(governance.EventArtifactBound, map[string]any{
			"artifacts": len(expected) + 1,
		})

		if err := sr.machine.TransitionTo(governance.RunStage3AComplete); err != nil {
			return err
		}
	}

	return nil
}

// persistStrategy makes sure the strategy descriptor is persisted under the
// strategies tree and returns its SHA-256. An already persisted descriptor is
// left untouched so drift remains detectable.
func (p *Pipeline) persistStrategy(desc *strategy.Descriptor) (string, error) {
	dir := filepath.Join(p.layout.StrategiesDir(), desc.StrategyName)
	path := filepath.Join(dir, "strategy.yaml")

	if err := p.retireStub(path); err != nil {
		return "", err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		raw, err := desc.MarshalSnapshot()
		if err != nil {
			return "", errors.Wrap(errors.KindStageFailed, desc.StrategyName,
				"cannot render strategy descriptor", err)
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", errors.Wrap(errors.KindStageFailed, desc.StrategyName,
				"cannot create strategy dir", err)
		}

		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return "", errors.Wrap(errors.KindStageFailed, desc.StrategyName,
				"cannot persist strategy descriptor", err)
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(errors.KindStageFailed, desc.StrategyName,
			"persisted strategy descriptor unreadable", err)
	}

	return fullHash(raw), nil
}

// retireStub removes a hollow provisioning stub so the implemented
// descriptor can replace it. Implemented descriptors are never removed; any
// divergence from them is drift.
func (p *Pipeline) retireStub(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return errors.Wrap(errors.KindStageFailed, path, "persisted strategy descriptor unreadable", err)
	}

	persisted, err := strategy.UnmarshalSnapshot(raw)
	if err != nil || persisted.Filled {
		return nil
	}

	if err := os.Remove(path); err != nil {
		return errors.Wrap(errors.KindStageFailed, path, "cannot retire provisioning stub", err)
	}

	return nil
}

// aggregate appends completed runs to the portfolio index.
func (p *Pipeline) aggregate() (int, error) {
	agg := portfolio.NewAggregator(p.layout.BacktestsDir(), p.layout.StrategiesDir(), p.log)

	return agg.Index(p.layout.IndexPath())
}

// portfolioStage assembles the portfolio index and closes out the directive.
func (p *Pipeline) portfolioStage(dm *governance.Machine) error {
	indexed, err := p.aggregate()
	if err != nil {
		return err
	}

	p.log.Info("portfolio index assembled", zap.Int("runs_indexed", indexed))

	return dm.TransitionTo(governance.DirectivePortfolioComplete)
}

// Stage1 runs exactly one symbol's stage 1 for an operator. The run id must
// match the deterministic id derived from the directive.
func (p *Pipeline) Stage1(directiveID, symbol, runID string) error {
	c, raw, err := p.canonical(directiveID)
	if err != nil {
		return err
	}

	contentHash, err := signature.ContentHash(c)
	if err != nil {
		return err
	}

	if !containsSymbol(c.Symbols, symbol) {
		return errors.Newf(errors.KindResumeRefused, directiveID,
			"symbol %s is not declared by the directive", symbol)
	}

	impl, err := p.provision.Provision(c)
	if err != nil {
		return err
	}

	runs, err := p.symbolRuns(c, contentHash)
	if err != nil {
		return err
	}

	for _, sr := range runs {
		if sr.symbol != symbol {
			continue
		}

		if sr.runID != runID {
			return errors.Newf(errors.KindResumeRefused, runID,
				"run id does not match; expected %s", sr.runID)
		}

		if sr.machine.Current() != governance.RunSemanticallyValid {
			return errors.Newf(errors.KindStageFailed, sr.runID,
				"run in state %s is not ready for stage 1", sr.machine.Current())
		}

		if err := p.runStage1(directiveID, c, raw, contentHash, impl, sr); err != nil {
			if tErr := sr.machine.TransitionTo(governance.RunFailed); tErr != nil {
				p.log.Warn("cannot fail run after stage 1 failure",
					zap.String("run_id", sr.runID), zap.Error(tErr))
			}

			return err
		}

		return sr.machine.TransitionTo(governance.RunStage1Complete)
	}

	return errors.Newf(errors.KindStageFailed, runID, "run not found for symbol %s", symbol)
}

func descriptorOf(impl strategy.Strategy) *strategy.Descriptor {
	return &strategy.Descriptor{
		StrategyName:      impl.Name(),
		StrategyTimeframe: impl.Timeframe(),
		IndicatorPaths:    impl.Indicators(),
		Filled:            impl.Implemented(),
		BoundSignature:    impl.Signature(),
	}
}

// isDataFailure reports whether an error is a per-symbol data failure that
// should not halt the whole directive.
func isDataFailure(err error) bool {
	return errors.HasKind(err, errors.KindDataMissing) ||
		errors.HasKind(err, errors.KindMissingConversionData) ||
		errors.HasKind(err, errors.KindBrokerSpecInvalid)
}

func dataFingerprint(symbol string, frame *types.Frame) string {
	first := frame.Bar(0).Time
	last := frame.Bar(frame.Len() - 1).Time

	return shortHash([]byte(fmt.Sprintf("%s|%d|%d|%d",
		symbol, frame.Len(), first.UnixNano(), last.UnixNano())))
}

func containsSymbol(symbols []string, symbol string) bool {
	for _, s := range symbols {
		if s == symbol {
			return true
		}
	}

	return false
}

func stderrProgress(total int) func() {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("stage 1"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)

	return func() {
		_ = bar.Add(1)
	}
}
