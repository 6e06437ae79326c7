package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/engine"
	"github.com/kitealert7-source/tradescan/internal/governance"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/manifest"
	"github.com/kitealert7-source/tradescan/internal/signature"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/internal/version"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

type PipelineTestSuite struct {
	suite.Suite
	root     string
	layout   Layout
	registry strategy.Registry
	pipe     *Pipeline
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineTestSuite))
}

func (suite *PipelineTestSuite) SetupTest() {
	suite.root = suite.T().TempDir()
	suite.layout = Layout{Root: suite.root}
	suite.registry = strategy.NewRegistry()
	suite.pipe = NewPipeline(suite.layout, suite.registry, engine.Config{}, logger.NewTestLogger())
	suite.pipe.progress = func(int) func() { return func() {} }
}

func directiveText(strategyName string, symbols, indicators []string) string {
	var sb strings.Builder

	sb.WriteString("strategy_name: " + strategyName + "\n")
	sb.WriteString("strategy_family: validation\n")
	sb.WriteString("timeframe: H4\n")
	sb.WriteString("broker: icmarkets\n")
	sb.WriteString("date_range:\n  from: 2022-01-01\n  to: 2022-12-31\n")
	sb.WriteString("symbols:\n")

	for _, s := range symbols {
		sb.WriteString("  - " + s + "\n")
	}

	sb.WriteString("indicators:\n")

	for _, i := range indicators {
		sb.WriteString("  - " + i + "\n")
	}

	sb.WriteString("execution_rules:\n")
	sb.WriteString("  entry_logic: scripted\n")
	sb.WriteString("  exit_logic: scripted\n")
	sb.WriteString("  stop_loss: fixed\n")

	return sb.String()
}

func (suite *PipelineTestSuite) writeDirective(id, text string) {
	dir := suite.layout.DirectivesDir()
	suite.Require().NoError(os.MkdirAll(dir, 0o755))
	suite.Require().NoError(os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(text), 0o644))
}

func (suite *PipelineTestSuite) writeMarketData(symbol string) {
	dir := filepath.Join(suite.layout.MarketDataDir(), "icmarkets", "H4", symbol)
	suite.Require().NoError(os.MkdirAll(dir, 0o755))

	var sb strings.Builder

	sb.WriteString("# exported fixture\n")
	sb.WriteString("time,open,high,low,close,volume\n")

	start := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		ts := start.Add(time.Duration(i) * 4 * time.Hour)
		sb.WriteString(fmt.Sprintf("%s,100,100.5,99.5,100,100\n", ts.Format("2006-01-02 15:04:05")))
	}

	suite.Require().NoError(os.WriteFile(filepath.Join(dir, "2022.csv"), []byte(sb.String()), 0o644))
}

func (suite *PipelineTestSuite) writeBrokerSpec(symbol string) {
	dir := filepath.Join(suite.layout.BrokerSpecsDir(), "icmarkets")
	suite.Require().NoError(os.MkdirAll(dir, 0o755))

	spec := "contract_size: 100000\n" +
		"min_lot: 0.01\n" +
		"calibration:\n" +
		"  usd_pnl_per_price_unit_0p01: 1000\n" +
		"reference_capital_usd: 10000\n"

	suite.Require().NoError(os.WriteFile(filepath.Join(dir, symbol+".yaml"), []byte(spec), 0o644))
}

// registerProbe registers a scripted strategy whose identity and signature
// match the given directive text exactly.
func (suite *PipelineTestSuite) registerProbe(text string) *directive.Canonical {
	res, err := directive.Canonicalize([]byte(text))
	suite.Require().NoError(err)

	sig, err := signature.Build(res.Canonical)
	suite.Require().NoError(err)

	probe := strategy.NewScripted("H4", []strategy.ScriptedAction{
		{EntryIndex: 1, ExitIndex: 5, Direction: types.DirectionLong, StopPrice: optional.Some(99.0)},
	})
	probe.StrategyName = res.Canonical.StrategyName
	probe.IndicatorPaths = res.Canonical.Indicators
	probe.BoundSignature = sig

	suite.Require().NoError(suite.registry.Register(probe))

	return res.Canonical
}

// fixture prepares a complete single-symbol setup and returns the run id.
func (suite *PipelineTestSuite) fixture(id string) string {
	text := directiveText("scripted_probe", []string{"EURUSD"}, []string{"indicators.atr"})
	suite.writeDirective(id, text)
	suite.writeMarketData("EURUSD")
	suite.writeBrokerSpec("EURUSD")

	c := suite.registerProbe(text)

	hash, err := signature.ContentHash(c)
	suite.Require().NoError(err)

	return governance.RunID(hash, "EURUSD", "H4", "icmarkets", version.GetVersion())
}

func (suite *PipelineTestSuite) directiveState(id string) string {
	m, err := governance.NewDirectiveMachine(id, suite.layout.GovernanceDir(id), nil)
	suite.Require().NoError(err)

	return m.Current()
}

func (suite *PipelineTestSuite) runState(runID string) string {
	m, err := governance.NewRunMachine(runID, suite.layout.RunDir(runID), nil)
	suite.Require().NoError(err)

	return m.Current()
}

func (suite *PipelineTestSuite) TestFullPipelineCompletes() {
	runID := suite.fixture("alpha")

	suite.Require().NoError(suite.pipe.Run("alpha", false))

	suite.Equal(governance.DirectivePortfolioComplete, suite.directiveState("alpha"))
	suite.Equal(governance.RunComplete, suite.runState(runID))

	artifactDir := suite.layout.ArtifactDir("scripted_probe", runID)
	suite.FileExists(filepath.Join(artifactDir, "execution", "results_tradelevel.csv"))
	suite.FileExists(filepath.Join(artifactDir, "execution", "results_standard.csv"))
	suite.FileExists(filepath.Join(artifactDir, "metadata", "run_metadata.json"))
	suite.FileExists(filepath.Join(artifactDir, "analysis", "robustness.json"))

	suite.FileExists(filepath.Join(suite.layout.RunDir(runID), manifest.ManifestFile))
	suite.FileExists(filepath.Join(suite.layout.RunDir(runID), manifest.SnapshotFile))
	suite.FileExists(suite.layout.SummaryCSV("alpha"))

	index, err := os.ReadFile(suite.layout.IndexPath())
	suite.Require().NoError(err)
	suite.Contains(string(index), runID)

	// The strategy descriptor was persisted for the portfolio persistence
	// check.
	suite.FileExists(filepath.Join(suite.layout.StrategiesDir(), "scripted_probe", "strategy.yaml"))
}

func (suite *PipelineTestSuite) TestRerunRefusedWithoutForce() {
	suite.fixture("alpha")
	suite.Require().NoError(suite.pipe.Run("alpha", false))

	err := suite.pipe.Run("alpha", false)
	suite.Require().Error(err)
	suite.True(errors.HasKind(err, errors.KindResumeRefused))
}

func (suite *PipelineTestSuite) TestForcedRerunPreservesRuns() {
	runID := suite.fixture("alpha")
	suite.Require().NoError(suite.pipe.Run("alpha", false))
	suite.Require().NoError(suite.pipe.Run("alpha", true))

	suite.Equal(governance.DirectivePortfolioComplete, suite.directiveState("alpha"))
	suite.Equal(governance.RunComplete, suite.runState(runID))

	// The index stays idempotent across the forced re-run.
	index, err := os.ReadFile(suite.layout.IndexPath())
	suite.Require().NoError(err)
	suite.Equal(1, strings.Count(string(index), runID))
}

func (suite *PipelineTestSuite) TestTamperDetectedOnForcedRerun() {
	runID := suite.fixture("alpha")
	suite.Require().NoError(suite.pipe.Run("alpha", false))

	tradeLevel := filepath.Join(suite.layout.ArtifactDir("scripted_probe", runID),
		"execution", "results_tradelevel.csv")

	f, err := os.OpenFile(tradeLevel, os.O_APPEND|os.O_WRONLY, 0o644)
	suite.Require().NoError(err)
	_, err = f.WriteString("tampered\n")
	suite.Require().NoError(err)
	suite.Require().NoError(f.Close())

	err = suite.pipe.Run("alpha", true)
	suite.Require().Error(err)
	suite.True(errors.HasKind(err, errors.KindArtifactTampering))
	suite.Equal(governance.DirectiveFailed, suite.directiveState("alpha"))
}

func (suite *PipelineTestSuite) TestPreflightRejectsUnknownIndicator() {
	text := directiveText("bogus_probe", []string{"EURUSD"}, []string{"indicators.does_not_exist"})
	suite.writeDirective("bravo", text)
	suite.writeMarketData("EURUSD")
	suite.writeBrokerSpec("EURUSD")
	suite.registerProbe(text)

	err := suite.pipe.Run("bravo", false)
	suite.Require().Error(err)
	suite.True(errors.HasKind(err, errors.KindPreflightFailed))
	suite.Equal(governance.DirectiveFailed, suite.directiveState("bravo"))
}

func (suite *PipelineTestSuite) TestUnregisteredStrategyProvisionsStub() {
	text := directiveText("unbuilt", []string{"EURUSD"}, []string{"indicators.atr"})
	suite.writeDirective("charlie", text)
	suite.writeMarketData("EURUSD")
	suite.writeBrokerSpec("EURUSD")

	err := suite.pipe.Run("charlie", false)
	suite.Require().Error(err)
	suite.True(errors.HasKind(err, errors.KindStrategyHollow))
	suite.FileExists(filepath.Join(suite.layout.StrategiesDir(), "unbuilt", "strategy.yaml"))
	suite.Equal(governance.DirectiveFailed, suite.directiveState("charlie"))
}

func (suite *PipelineTestSuite) TestDataFailureFailsRunAndContinues() {
	text := directiveText("scripted_probe", []string{"EURUSD", "GBPUSD"}, []string{"indicators.atr"})
	suite.writeDirective("delta", text)
	suite.writeMarketData("EURUSD")
	suite.writeBrokerSpec("EURUSD")
	suite.writeBrokerSpec("GBPUSD")

	c := suite.registerProbe(text)

	hash, err := signature.ContentHash(c)
	suite.Require().NoError(err)

	suite.Require().NoError(suite.pipe.Run("delta", false))
	suite.Equal(governance.DirectivePortfolioComplete, suite.directiveState("delta"))

	okRun := governance.RunID(hash, "EURUSD", "H4", "icmarkets", version.GetVersion())
	badRun := governance.RunID(hash, "GBPUSD", "H4", "icmarkets", version.GetVersion())

	suite.Equal(governance.RunComplete, suite.runState(okRun))
	suite.Equal(governance.RunFailed, suite.runState(badRun))
}

func (suite *PipelineTestSuite) TestResetRequiresReason() {
	suite.fixture("alpha")

	err := suite.pipe.Reset("alpha", "", false)
	suite.Require().Error(err)
	suite.True(errors.HasKind(err, errors.KindResumeRefused))
}

func (suite *PipelineTestSuite) TestResetReinitializesStates() {
	runID := suite.fixture("alpha")
	suite.Require().NoError(suite.pipe.Run("alpha", false))

	suite.Require().NoError(suite.pipe.Reset("alpha", "operator requested rerun", false))
	suite.Equal(governance.DirectiveInitialized, suite.directiveState("alpha"))
	suite.Equal(governance.RunIdle, suite.runState(runID))

	// The reason lands in the audit log.
	audit, err := governance.NewAuditLog(suite.layout.GovernanceDir("alpha"))
	suite.Require().NoError(err)

	records, err := audit.Read()
	suite.Require().NoError(err)

	found := false

	for _, r := range records {
		if r.Event == governance.EventReset && r.Payload["reason"] == "operator requested rerun" {
			found = true
		}
	}

	suite.True(found)
}

func (suite *PipelineTestSuite) TestStage4ResetKeepsRunStates() {
	runID := suite.fixture("alpha")
	suite.Require().NoError(suite.pipe.Run("alpha", false))

	suite.Require().NoError(suite.pipe.Reset("alpha", "portfolio rebuild", true))
	suite.Equal(governance.DirectiveInitialized, suite.directiveState("alpha"))
	suite.Equal(governance.RunComplete, suite.runState(runID))
}

func (suite *PipelineTestSuite) TestStage1Command() {
	runID := suite.fixture("echo")

	// Stand the run up at the stage-1 entry state.
	rm, err := governance.NewRunMachine(runID, suite.layout.RunDir(runID), nil)
	suite.Require().NoError(err)
	suite.Require().NoError(rm.TransitionTo(governance.RunPreflightComplete))
	suite.Require().NoError(rm.TransitionTo(governance.RunSemanticallyValid))

	suite.Require().NoError(suite.pipe.Stage1("echo", "EURUSD", runID))
	suite.Equal(governance.RunStage1Complete, suite.runState(runID))

	artifactDir := suite.layout.ArtifactDir("scripted_probe", runID)
	suite.FileExists(filepath.Join(artifactDir, "execution", "results_tradelevel.csv"))
}

func (suite *PipelineTestSuite) TestStage1CommandRejectsWrongRunID() {
	suite.fixture("echo")

	err := suite.pipe.Stage1("echo", "EURUSD", "000000000000")
	suite.Require().Error(err)
	suite.True(errors.HasKind(err, errors.KindResumeRefused))
}

func (suite *PipelineTestSuite) TestPreflightCommand() {
	suite.fixture("alpha")
	suite.Require().NoError(suite.pipe.Preflight("alpha"))

	err := suite.pipe.Preflight("missing")
	suite.Require().Error(err)
	suite.True(errors.HasKind(err, errors.KindPreflightFailed))
}
