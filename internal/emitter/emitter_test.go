package emitter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/store"
	"github.com/kitealert7-source/tradescan/internal/types"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

type EmitterTestSuite struct {
	suite.Suite
	emitter *Emitter
	store   *store.TradeStore
	dir     string
}

func TestEmitterSuite(t *testing.T) {
	suite.Run(t, new(EmitterTestSuite))
}

func (suite *EmitterTestSuite) SetupTest() {
	suite.emitter = NewEmitter(logger.NewTestLogger())
	suite.dir = suite.T().TempDir()

	s, err := store.NewTradeStore(logger.NewTestLogger())
	suite.Require().NoError(err)
	suite.store = s
}

func (suite *EmitterTestSuite) TearDownTest() {
	suite.NoError(suite.store.Close())
}

func (suite *EmitterTestSuite) metadata() types.RunMetadata {
	return types.RunMetadata{
		RunID:              "a1b2c3d4e5f6",
		StrategyName:       "atr_channel_breakout",
		Symbol:             "EURUSD",
		Timeframe:          "H4",
		DateFrom:           "2020-01-01",
		DateTo:             "2022-12-31",
		ExecutedAt:         time.Date(2023, 1, 5, 9, 0, 0, 0, time.UTC),
		EngineName:         "tradescan",
		EngineVersion:      "1.2.0",
		DirectiveHash:      "0123456789ab",
		EngineHash:         "deadbeef",
		DataFingerprint:    "fp-2020-2022",
		SchemaVersion:      3,
		Broker:             "icmarkets",
		ReferenceCapital:   10000,
		PositionSizingBase: "fixed_1_lot",
		ContentHash:        "a1b2c3d4e5f6",
		Lineage:            "directive:a1b2c3d4e5f6",
	}
}

func (suite *EmitterTestSuite) trade() types.TradeRecord {
	exit := time.Date(2021, 3, 1, 12, 0, 0, 0, time.UTC)

	return types.TradeRecord{
		StrategyName:     "atr_channel_breakout",
		ParentTradeID:    1,
		SequenceIndex:    1,
		Symbol:           "EURUSD",
		EntryTime:        exit.Add(-8 * time.Hour),
		ExitTime:         exit,
		Direction:        types.DirectionLong,
		EntryPrice:       1.10,
		ExitPrice:        1.11,
		BarsHeld:         2,
		PnlUSD:           100,
		TradeHigh:        1.115,
		TradeLow:         1.095,
		ATREntry:         0.004,
		PositionUnits:    100000,
		NotionalUSD:      110000,
		MFEPrice:         0.015,
		MAEPrice:         0.005,
		InitialStopPrice: 1.09,
		RiskDistance:     0.01,
		MFER:             1.5,
		MAER:             0.5,
		RMultiple:        1.0,
		VolatilityRegime: types.VolatilityNormal,
		TrendRegime:      1,
		TrendScore:       2,
		TrendLabel:       types.TrendLabelWeakUp,
	}
}

func (suite *EmitterTestSuite) emission() Emission {
	trades := []types.TradeRecord{suite.trade()}
	suite.Require().NoError(suite.store.Insert(trades))

	return Emission{
		Destination:   filepath.Join(suite.dir, "runs", "a1b2c3d4e5f6"),
		Trades:        trades,
		Store:         suite.store,
		Metadata:      suite.metadata(),
		DirectiveText: []byte("strategy_name: atr_channel_breakout\n"),
	}
}

func (suite *EmitterTestSuite) TestEmitWritesAllArtifacts() {
	em := suite.emission()
	suite.Require().NoError(suite.emitter.Emit(em))

	for _, rel := range RequiredArtifacts() {
		_, err := os.Stat(filepath.Join(em.Destination, rel))
		suite.NoError(err, rel)
	}
}

func (suite *EmitterTestSuite) TestNoStagingLeftBehind() {
	em := suite.emission()
	suite.Require().NoError(suite.emitter.Emit(em))

	entries, err := os.ReadDir(filepath.Join(suite.dir, "runs"))
	suite.Require().NoError(err)

	for _, e := range entries {
		suite.False(strings.HasPrefix(e.Name(), ".staging_"), e.Name())
	}
}

func (suite *EmitterTestSuite) TestDestinationExists() {
	em := suite.emission()
	suite.Require().NoError(os.MkdirAll(em.Destination, 0o755))
	marker := filepath.Join(em.Destination, "keep.txt")
	suite.Require().NoError(os.WriteFile(marker, []byte("x"), 0o644))

	err := suite.emitter.Emit(em)
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindFolderExists))

	// The existing directory is untouched.
	_, err = os.Stat(marker)
	suite.NoError(err)
}

func (suite *EmitterTestSuite) TestIncompleteMetadataRejected() {
	em := suite.emission()
	em.Metadata.ContentHash = ""

	err := suite.emitter.Emit(em)
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindValidationFailed))

	_, statErr := os.Stat(em.Destination)
	suite.True(os.IsNotExist(statErr))
}

func (suite *EmitterTestSuite) TestBrokenTradeRejected() {
	em := suite.emission()
	em.Trades[0].RiskDistance = 0

	err := suite.emitter.Emit(em)
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindValidationFailed))
}

func (suite *EmitterTestSuite) TestExitBeforeEntryRejected() {
	em := suite.emission()
	em.Trades[0].ExitTime = em.Trades[0].EntryTime.Add(-time.Hour)

	err := suite.emitter.Emit(em)
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindValidationFailed))
}

func (suite *EmitterTestSuite) TestStandardSheetLabels() {
	em := suite.emission()
	suite.Require().NoError(suite.emitter.Emit(em))

	raw, err := os.ReadFile(filepath.Join(em.Destination, DirExecution, FileStandard))
	suite.Require().NoError(err)

	content := string(raw)
	for _, label := range []string{
		LabelTradeCount, LabelWinRate, LabelProfitFactor, LabelNetPnlUSD,
	} {
		suite.Contains(content, label)
	}
}
