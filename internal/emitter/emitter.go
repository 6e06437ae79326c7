// Package emitter writes a run's artifact set atomically. Everything goes
// into a hidden staging directory first; the staging directory is renamed to
// the final run directory only after every artifact and gate has passed, and
// purged on any failure.
package emitter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/store"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Artifact file names inside the run directory.
const (
	DirExecution = "execution"
	DirMetadata  = "metadata"

	FileTradeLevel = "results_tradelevel.csv"
	FileStandard   = "results_standard.csv"
	FileRisk       = "results_risk.csv"
	FileYearwise   = "results_yearwise.csv"
	FileGlossary   = "results_glossary.csv"
	FileMetadata   = "run_metadata.json"
	FileDirective  = "directive.yaml"
)

// Emission is everything the emitter needs to produce one run directory.
type Emission struct {
	Destination   string
	Trades        []types.TradeRecord
	Store         *store.TradeStore
	Metadata      types.RunMetadata
	DirectiveText []byte
}

// Emitter owns atomic artifact emission for runs.
type Emitter struct {
	validate *validator.Validate
	log      *logger.Logger
	random   func() string
}

// NewEmitter creates an emitter.
func NewEmitter(log *logger.Logger) *Emitter {
	return &Emitter{
		validate: validator.New(),
		log:      log,
		random:   randomSuffix,
	}
}

// Emit validates the emission, writes all artifacts into a staging directory
// and atomically renames it to the destination. An existing destination is
// left untouched.
func (e *Emitter) Emit(em Emission) error {
	if _, err := os.Stat(em.Destination); err == nil {
		return errors.Newf(errors.KindFolderExists, em.Destination,
			"run directory already exists")
	}

	if err := e.gate(em); err != nil {
		return err
	}

	parent := filepath.Dir(em.Destination)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrap(errors.KindStageFailed, em.Destination, "cannot create runs parent", err)
	}

	staging := filepath.Join(parent,
		fmt.Sprintf(".staging_%s_%s", em.Metadata.StrategyName, e.random()))

	if err := e.write(staging, em); err != nil {
		if purgeErr := os.RemoveAll(staging); purgeErr != nil {
			e.log.Warn("staging purge failed",
				zap.String("staging", staging), zap.Error(purgeErr))
		}

		return err
	}

	if err := os.Rename(staging, em.Destination); err != nil {
		if purgeErr := os.RemoveAll(staging); purgeErr != nil {
			e.log.Warn("staging purge failed",
				zap.String("staging", staging), zap.Error(purgeErr))
		}

		return errors.Wrap(errors.KindStageFailed, em.Destination, "cannot finalize run directory", err)
	}

	e.log.Info("run artifacts emitted",
		zap.String("run_id", em.Metadata.RunID),
		zap.String("destination", em.Destination),
		zap.Int("trades", len(em.Trades)))

	return nil
}

// gate runs the validation gates: trade record completeness, timestamp
// sanity, decimal-percentage ranges and metadata completeness.
func (e *Emitter) gate(em Emission) error {
	for i, t := range em.Trades {
		if violations := t.Validate(); len(violations) != 0 {
			return errors.Newf(errors.KindValidationFailed, em.Metadata.RunID,
				"trade %d violates contract: %v", i, violations)
		}

		if t.EntryTime.IsZero() || t.ExitTime.IsZero() {
			return errors.Newf(errors.KindValidationFailed, em.Metadata.RunID,
				"trade %d carries a zero timestamp", i)
		}

		if t.ExitTime.Before(t.EntryTime) {
			return errors.Newf(errors.KindValidationFailed, em.Metadata.RunID,
				"trade %d exits before it enters", i)
		}
	}

	summary, err := em.Store.Summary()
	if err != nil {
		return err
	}

	for name, v := range map[string]float64{"win_rate": summary.WinRate} {
		if v < 0 || v > 1 {
			return errors.Newf(errors.KindValidationFailed, em.Metadata.RunID,
				"%s %f outside [0, 1]", name, v)
		}
	}

	if err := e.validate.Struct(&em.Metadata); err != nil {
		return errors.Wrap(errors.KindValidationFailed, em.Metadata.RunID,
			"run metadata incomplete", err)
	}

	if len(em.DirectiveText) == 0 {
		return errors.New(errors.KindValidationFailed, em.Metadata.RunID,
			"directive text empty")
	}

	return nil
}

func (e *Emitter) write(staging string, em Emission) error {
	execDir := filepath.Join(staging, DirExecution)
	metaDir := filepath.Join(staging, DirMetadata)

	for _, dir := range []string{execDir, metaDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(errors.KindStageFailed, staging, "cannot create staging dirs", err)
		}
	}

	if err := em.Store.ExportCSV(filepath.Join(execDir, FileTradeLevel)); err != nil {
		return err
	}

	summary, err := em.Store.Summary()
	if err != nil {
		return err
	}

	if err := writeStandardCSV(filepath.Join(execDir, FileStandard), summary); err != nil {
		return err
	}

	if err := writeRiskCSV(filepath.Join(execDir, FileRisk), em.Trades); err != nil {
		return err
	}

	years, err := em.Store.Yearwise()
	if err != nil {
		return err
	}

	if err := writeYearwiseCSV(filepath.Join(execDir, FileYearwise), years); err != nil {
		return err
	}

	if err := writeGlossaryCSV(filepath.Join(execDir, FileGlossary)); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(em.Metadata, "", "  ")
	if err != nil {
		return errors.Wrap(errors.KindStageFailed, em.Metadata.RunID, "cannot render metadata", err)
	}

	if err := os.WriteFile(filepath.Join(metaDir, FileMetadata), raw, 0o644); err != nil {
		return errors.Wrap(errors.KindStageFailed, em.Metadata.RunID, "cannot write metadata", err)
	}

	if err := os.WriteFile(filepath.Join(staging, FileDirective), em.DirectiveText, 0o644); err != nil {
		return errors.Wrap(errors.KindStageFailed, em.Metadata.RunID, "cannot write directive copy", err)
	}

	return nil
}

// RequiredArtifacts lists the artifact paths every completed run must carry,
// relative to the run directory.
func RequiredArtifacts() []string {
	return []string{
		filepath.Join(DirExecution, FileTradeLevel),
		filepath.Join(DirExecution, FileStandard),
		filepath.Join(DirExecution, FileRisk),
		filepath.Join(DirExecution, FileYearwise),
		filepath.Join(DirExecution, FileGlossary),
		filepath.Join(DirMetadata, FileMetadata),
		FileDirective,
	}
}

func timestampISO(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
