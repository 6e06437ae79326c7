package validate

import (
	"testing"

	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type SemanticTestSuite struct {
	suite.Suite
}

func TestSemanticSuite(t *testing.T) {
	suite.Run(t, new(SemanticTestSuite))
}

func (suite *SemanticTestSuite) canonical(indicators string) *directive.Canonical {
	raw := `
strategy_name: atr_channel_breakout
strategy_family: breakout
timeframe: H4
broker: icmarkets
date_range:
  from: 2018-01-01
  to: 2023-12-31
symbols:
  - EURUSD
indicators:
` + indicators + `
execution_rules:
  entry_logic: channel_break
  exit_logic: opposite_signal
  stop_loss: atr_multiple
`

	result, err := directive.Canonicalize([]byte(raw))
	suite.Require().NoError(err)

	return result.Canonical
}

func (suite *SemanticTestSuite) TestExactMatch() {
	c := suite.canonical("  - indicators.atr\n  - indicators.donchian_channel")
	impl := strategy.NewATRChannelBreakout("H4", nil)

	findings, err := Semantic(c, impl)
	suite.NoError(err)
	suite.Empty(findings)
}

func (suite *SemanticTestSuite) TestNormalizationEquivalence() {
	// Path separators, legacy suffixes and a missing library prefix all
	// normalize to the same dotted path.
	c := suite.canonical("  - indicators/atr.py\n  - donchian_channel")
	impl := strategy.NewATRChannelBreakout("H4", nil)

	findings, err := Semantic(c, impl)
	suite.NoError(err)
	suite.Empty(findings)
}

func (suite *SemanticTestSuite) TestMissingImport() {
	c := suite.canonical("  - indicators.atr\n  - indicators.donchian_channel\n  - indicators.rsi")
	impl := strategy.NewATRChannelBreakout("H4", nil)

	findings, err := Semantic(c, impl)
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindSemanticMismatch))
	suite.Len(findings, 1)
	suite.Equal(CodeMissingIndicatorImport, findings[0].Code)
}

func (suite *SemanticTestSuite) TestUndeclaredImport() {
	c := suite.canonical("  - indicators.atr")
	impl := strategy.NewATRChannelBreakout("H4", nil)

	findings, err := Semantic(c, impl)
	suite.Error(err)
	suite.Len(findings, 1)
	suite.Equal(CodeUndeclaredIndicatorImport, findings[0].Code)
}

func (suite *SemanticTestSuite) TestIdentityMismatch() {
	c := suite.canonical("  - indicators.atr\n  - indicators.donchian_channel")
	impl := strategy.NewATRChannelBreakout("D1", nil)

	findings, err := Semantic(c, impl)
	suite.Error(err)
	suite.Len(findings, 1)
	suite.Equal(CodeIdentityMismatch, findings[0].Code)
}
