package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) TestLoadMissingFileYieldsDefaults() {
	cfg, err := LoadConfig(filepath.Join(suite.T().TempDir(), "absent.yaml"))
	suite.Require().NoError(err)

	suite.Equal(".", cfg.Root)
	suite.Equal(1.0, cfg.Engine.Lots)
	suite.Equal(2.0, cfg.Engine.ATRStopMultiplier)
}

func (suite *ConfigTestSuite) TestLoadParsesOverrides() {
	path := filepath.Join(suite.T().TempDir(), "tradescan.yaml")
	text := "root: /data/projects/fx\nengine:\n  lots: 0.5\n  risk_per_trade_usd: 200\n"
	suite.Require().NoError(os.WriteFile(path, []byte(text), 0o644))

	cfg, err := LoadConfig(path)
	suite.Require().NoError(err)

	suite.Equal("/data/projects/fx", cfg.Root)
	suite.Equal(0.5, cfg.Engine.Lots)
	suite.Equal(200.0, cfg.Engine.RiskPerTradeUSD)
}

func (suite *ConfigTestSuite) TestLoadRejectsBadYaml() {
	path := filepath.Join(suite.T().TempDir(), "tradescan.yaml")
	suite.Require().NoError(os.WriteFile(path, []byte("root: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	suite.Require().Error(err)
}

func (suite *ConfigTestSuite) TestGenerateSchemaJSON() {
	schemaJSON, err := EmptyConfig().GenerateSchemaJSON()
	suite.Require().NoError(err)

	suite.Contains(schemaJSON, "tradescan-config")
	suite.Contains(schemaJSON, "risk_per_trade_usd")
	suite.Contains(schemaJSON, "Project Root")
}
