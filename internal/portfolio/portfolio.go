// Package portfolio aggregates completed runs into the portfolio index. A
// run qualifies when its metadata validates and its presentation sheet
// exists; metric extraction is exact-label only and a run already indexed is
// skipped.
package portfolio

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kitealert7-source/tradescan/internal/emitter"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// IndexFile is the portfolio index artifact name.
const IndexFile = "portfolio_index.csv"

// requiredMetrics is the fixed column set pulled from the presentation sheet.
var requiredMetrics = []string{
	emitter.LabelTradeCount,
	emitter.LabelWinRate,
	emitter.LabelAvgWinUSD,
	emitter.LabelAvgLossUSD,
	emitter.LabelPayoffRatio,
	emitter.LabelExpectancy,
	emitter.LabelProfitFactor,
	emitter.LabelNetPnlUSD,
}

// Run is one discovered completed run.
type Run struct {
	Dir      string
	Metadata types.RunMetadata
	Metrics  map[string]string
}

// Aggregator builds and maintains the portfolio index.
type Aggregator struct {
	runsDir       string
	strategiesDir string
	validate      *validator.Validate
	log           *logger.Logger
}

// NewAggregator creates an aggregator over the runs and strategies trees.
func NewAggregator(runsDir, strategiesDir string, log *logger.Logger) *Aggregator {
	return &Aggregator{
		runsDir:       runsDir,
		strategiesDir: strategiesDir,
		validate:      validator.New(),
		log:           log,
	}
}

// Discover scans the runs tree for completed runs, sorted by run id. Run
// directories without valid metadata or without a presentation sheet are
// skipped silently; they are not completed runs.
func (a *Aggregator) Discover() ([]Run, error) {
	entries, err := os.ReadDir(a.runsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, errors.Wrap(errors.KindStageFailed, a.runsDir, "cannot scan runs", err)
	}

	var out []Run

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		dir := filepath.Join(a.runsDir, e.Name())

		meta, err := a.readMetadata(dir)
		if err != nil {
			continue
		}

		sheet := filepath.Join(dir, emitter.DirExecution, emitter.FileStandard)
		if _, err := os.Stat(sheet); err != nil {
			continue
		}

		metrics, err := extractMetrics(sheet)
		if err != nil {
			return nil, err
		}

		out = append(out, Run{Dir: dir, Metadata: *meta, Metrics: metrics})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Metadata.RunID < out[j].Metadata.RunID
	})

	return out, nil
}

func (a *Aggregator) readMetadata(dir string) (*types.RunMetadata, error) {
	raw, err := os.ReadFile(filepath.Join(dir, emitter.DirMetadata, emitter.FileMetadata))
	if err != nil {
		return nil, err
	}

	var meta types.RunMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}

	if err := a.validate.Struct(&meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// Index appends every newly discovered run to the portfolio index. Runs whose
// run id is already present are skipped, so repeated calls are idempotent.
// Returns the number of rows appended.
func (a *Aggregator) Index(indexPath string) (int, error) {
	runs, err := a.Discover()
	if err != nil {
		return 0, err
	}

	existing, err := indexedRunIDs(indexPath)
	if err != nil {
		return 0, err
	}

	appended := 0

	for _, run := range runs {
		if existing[run.Metadata.RunID] {
			continue
		}

		for _, label := range requiredMetrics {
			if _, ok := run.Metrics[label]; !ok {
				return appended, errors.Newf(errors.KindValidationFailed, run.Metadata.RunID,
					"presentation sheet missing metric %q", label)
			}
		}

		if err := a.checkStrategyPersistence(run.Metadata.StrategyName); err != nil {
			return appended, err
		}

		if err := appendIndexRow(indexPath, run); err != nil {
			return appended, err
		}

		existing[run.Metadata.RunID] = true
		appended++
	}

	a.log.Info("portfolio index updated",
		zap.Int("discovered", len(runs)), zap.Int("appended", appended))

	return appended, nil
}

// checkStrategyPersistence enforces that the strategy folder exists and holds
// exactly the strategy descriptor.
func (a *Aggregator) checkStrategyPersistence(name string) error {
	dir := filepath.Join(a.strategiesDir, name)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(errors.KindStrategyNotFound, name, err,
			"strategy folder missing for indexed run")
	}

	if len(entries) != 1 || entries[0].Name() != "strategy.yaml" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}

		return errors.Newf(errors.KindStrategyNotFound, name,
			"strategy folder must contain exactly strategy.yaml, found %v", names)
	}

	return nil
}

// extractMetrics reads a presentation sheet into a label -> value map.
func extractMetrics(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindStageFailed, path, "cannot open presentation sheet", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(errors.KindStageFailed, path, "presentation sheet does not parse", err)
	}

	out := make(map[string]string)

	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}

		out[row[0]] = row[1]
	}

	return out, nil
}

func indexedRunIDs(indexPath string) (map[string]bool, error) {
	out := make(map[string]bool)

	f, err := os.Open(indexPath)
	if os.IsNotExist(err) {
		return out, nil
	}

	if err != nil {
		return nil, errors.Wrap(errors.KindStageFailed, indexPath, "cannot open portfolio index", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, errors.Wrap(errors.KindStageFailed, indexPath, "portfolio index does not parse", err)
	}

	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}

		out[row[0]] = true
	}

	return out, nil
}

func appendIndexRow(indexPath string, run Run) error {
	_, statErr := os.Stat(indexPath)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(indexPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(errors.KindStageFailed, indexPath, "cannot open portfolio index", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if fresh {
		header := append([]string{"run_id", "strategy_name", "symbol", "timeframe", "broker"},
			requiredMetrics...)
		if err := w.Write(header); err != nil {
			return errors.Wrap(errors.KindStageFailed, indexPath, "cannot write index header", err)
		}
	}

	row := []string{
		run.Metadata.RunID,
		run.Metadata.StrategyName,
		run.Metadata.Symbol,
		run.Metadata.Timeframe,
		run.Metadata.Broker,
	}
	for _, label := range requiredMetrics {
		row = append(row, run.Metrics[label])
	}

	if err := w.Write(row); err != nil {
		return errors.Wrap(errors.KindStageFailed, indexPath, "cannot append index row", err)
	}

	w.Flush()

	return w.Error()
}
