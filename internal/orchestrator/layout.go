package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Layout maps the pipeline's persisted state onto a project root. Every path
// the orchestrator touches derives from here; nothing else hard-codes
// directory names.
type Layout struct {
	Root string
}

// DirectivesDir holds the active directive files.
func (l Layout) DirectivesDir() string {
	return filepath.Join(l.Root, "backtest_directives", "active")
}

// GovernanceDir holds a directive's state file, audit log and engine pin.
func (l Layout) GovernanceDir(directiveID string) string {
	return filepath.Join(l.Root, "runs", directiveID)
}

// RunDir holds a run's state file, audit log, snapshot and manifest.
func (l Layout) RunDir(runID string) string {
	return filepath.Join(l.Root, "runs", runID)
}

// BacktestsDir holds the emitted artifact folders and batch summaries.
func (l Layout) BacktestsDir() string {
	return filepath.Join(l.Root, "backtests")
}

// ArtifactDir is one run's emitted artifact folder.
func (l Layout) ArtifactDir(strategyName, runID string) string {
	return filepath.Join(l.BacktestsDir(), strategyName+"_"+runID)
}

// SummaryCSV is the per-directive batch summary.
func (l Layout) SummaryCSV(directiveID string) string {
	return filepath.Join(l.BacktestsDir(), "batch_summary_"+directiveID+".csv")
}

// IndexPath is the portfolio index.
func (l Layout) IndexPath() string {
	return filepath.Join(l.BacktestsDir(), "portfolio_index.csv")
}

// StrategiesDir holds the persisted strategy descriptors.
func (l Layout) StrategiesDir() string {
	return filepath.Join(l.Root, "strategies")
}

// MarketDataDir is the read-only market data tree.
func (l Layout) MarketDataDir() string {
	return filepath.Join(l.Root, "master_data")
}

// BrokerSpecsDir is the read-only broker spec tree.
func (l Layout) BrokerSpecsDir() string {
	return filepath.Join(l.Root, "broker_specs")
}

// ReadDirective loads the raw directive text. Both .yaml and the legacy .txt
// extension are accepted.
func (l Layout) ReadDirective(directiveID string) ([]byte, error) {
	for _, ext := range []string{".yaml", ".txt"} {
		path := filepath.Join(l.DirectivesDir(), directiveID+ext)

		raw, err := os.ReadFile(path)
		if err == nil {
			return raw, nil
		}

		if !os.IsNotExist(err) {
			return nil, errors.Wrap(errors.KindPreflightFailed, directiveID,
				"directive file unreadable", err)
		}
	}

	return nil, errors.Newf(errors.KindPreflightFailed, directiveID,
		"no directive file under %s", l.DirectivesDir())
}
