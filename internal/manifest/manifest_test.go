package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

type ManifestTestSuite struct {
	suite.Suite
	binder *Binder
	runDir string
}

func TestManifestSuite(t *testing.T) {
	suite.Run(t, new(ManifestTestSuite))
}

func (suite *ManifestTestSuite) SetupTest() {
	suite.binder = NewBinder(logger.NewTestLogger())
	suite.runDir = suite.T().TempDir()
}

func (suite *ManifestTestSuite) descriptor() *strategy.Descriptor {
	return &strategy.Descriptor{
		StrategyName:      "atr_channel_breakout",
		StrategyTimeframe: "H4",
		IndicatorPaths:    []string{"indicators.atr", "indicators.donchian_channel"},
		Filled:            true,
		BoundSignature:    map[string]any{"signature_version": 3},
	}
}

func (suite *ManifestTestSuite) writeArtifact(rel, content string) {
	path := filepath.Join(suite.runDir, rel)
	suite.Require().NoError(os.MkdirAll(filepath.Dir(path), 0o755))
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
}

func (suite *ManifestTestSuite) bind(artifacts ...string) string {
	hash, err := suite.binder.Snapshot(suite.runDir, suite.descriptor())
	suite.Require().NoError(err)

	_, err = suite.binder.Bind(suite.runDir, "a1b2c3d4e5f6", hash, artifacts)
	suite.Require().NoError(err)

	return hash
}

func (suite *ManifestTestSuite) TestBindAndVerify() {
	suite.writeArtifact("execution/results_tradelevel.csv", "header\nrow\n")
	suite.bind("execution/results_tradelevel.csv")

	suite.NoError(suite.binder.Verify(suite.runDir, "a1b2c3d4e5f6",
		[]string{"execution/results_tradelevel.csv"}))
}

func (suite *ManifestTestSuite) TestSnapshotRoundTrip() {
	_, err := suite.binder.Snapshot(suite.runDir, suite.descriptor())
	suite.Require().NoError(err)

	raw, err := os.ReadFile(filepath.Join(suite.runDir, SnapshotFile))
	suite.Require().NoError(err)

	desc, err := strategy.UnmarshalSnapshot(raw)
	suite.Require().NoError(err)
	suite.Equal("atr_channel_breakout", desc.StrategyName)
	suite.True(desc.Filled)
}

func (suite *ManifestTestSuite) TestTamperedArtifactDetected() {
	suite.writeArtifact("execution/results_tradelevel.csv", "header\nrow\n")
	suite.bind("execution/results_tradelevel.csv")

	suite.writeArtifact("execution/results_tradelevel.csv", "header\ntampered\n")

	err := suite.binder.Verify(suite.runDir, "a1b2c3d4e5f6",
		[]string{"execution/results_tradelevel.csv"})
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindArtifactTampering))
}

func (suite *ManifestTestSuite) TestMissingManifestKey() {
	suite.writeArtifact("execution/results_tradelevel.csv", "header\nrow\n")
	suite.bind("execution/results_tradelevel.csv")

	err := suite.binder.Verify(suite.runDir, "a1b2c3d4e5f6",
		[]string{"execution/results_tradelevel.csv", "execution/results_standard.csv"})
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindManifestMismatch))
}

func (suite *ManifestTestSuite) TestExtraManifestKey() {
	suite.writeArtifact("execution/results_tradelevel.csv", "header\nrow\n")
	suite.writeArtifact("execution/stray.csv", "x\n")
	suite.bind("execution/results_tradelevel.csv", "execution/stray.csv")

	err := suite.binder.Verify(suite.runDir, "a1b2c3d4e5f6",
		[]string{"execution/results_tradelevel.csv"})
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindManifestMismatch))
}

func (suite *ManifestTestSuite) TestManifestIsWriteOnce() {
	suite.writeArtifact("execution/results_tradelevel.csv", "header\nrow\n")
	hash := suite.bind("execution/results_tradelevel.csv")

	_, err := suite.binder.Bind(suite.runDir, "a1b2c3d4e5f6", hash,
		[]string{"execution/results_tradelevel.csv"})
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindManifestMismatch))
}

func (suite *ManifestTestSuite) TestWrongRunID() {
	suite.writeArtifact("execution/results_tradelevel.csv", "header\nrow\n")
	suite.bind("execution/results_tradelevel.csv")

	err := suite.binder.Verify(suite.runDir, "ffffffffffff",
		[]string{"execution/results_tradelevel.csv"})
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindManifestMismatch))
}
