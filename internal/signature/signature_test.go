package signature

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type SignatureTestSuite struct {
	suite.Suite
}

func TestSignatureSuite(t *testing.T) {
	suite.Run(t, new(SignatureTestSuite))
}

const baseDirective = `
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
  - indicators.atr
  - indicators.donchian_channel
execution_rules:
  entry_logic: channel_break
  exit_logic: opposite_signal
  stop_loss: atr_multiple
`

func (suite *SignatureTestSuite) canonical(raw string) *directive.Canonical {
	result, err := directive.Canonicalize([]byte(raw))
	suite.Require().NoError(err)

	return result.Canonical
}

func (suite *SignatureTestSuite) TestBuildExcludesIdentity() {
	sig, err := Build(suite.canonical(baseDirective))
	suite.NoError(err)

	suite.NotContains(sig, "strategy_name")
	suite.NotContains(sig, "symbols")
	suite.NotContains(sig, "date_range")
	suite.NotContains(sig, "broker")
	suite.NotContains(sig, "timeframe")
	suite.Contains(sig, "indicators")
	suite.Contains(sig, "execution_rules")
	suite.Equal(SignatureVersion, sig["signature_version"])
}

func (suite *SignatureTestSuite) TestBuildInjectsDefaults() {
	sig, err := Build(suite.canonical(baseDirective))
	suite.NoError(err)

	rules := sig["execution_rules"].(map[string]any)
	suite.Equal(false, rules["pyramiding"])
	suite.Equal(true, rules["reset_on_exit"])

	placement := rules["order_placement"].(map[string]any)
	suite.Equal("market_on_close", placement["type"])
}

func (suite *SignatureTestSuite) TestContentHashShape() {
	hash, err := ContentHash(suite.canonical(baseDirective))
	suite.NoError(err)
	suite.Len(hash, 12)
	suite.Regexp("^[0-9a-f]{12}$", hash)
}

func (suite *SignatureTestSuite) TestContentHashStableUnderKeyOrder() {
	reordered := `
broker: icmarkets
timeframe: H4
strategy_family: breakout
strategy_name: atr_channel_breakout
indicators:
  - indicators.atr
  - indicators.donchian_channel
symbols:
  - EURUSD
date_range:
  to: 2023-12-31
  from: 2018-01-01
execution_rules:
  stop_loss: atr_multiple
  exit_logic: opposite_signal
  entry_logic: channel_break
`

	a, err := ContentHash(suite.canonical(baseDirective))
	suite.NoError(err)

	b, err := ContentHash(suite.canonical(reordered))
	suite.NoError(err)

	suite.Equal(a, b)
}

func (suite *SignatureTestSuite) TestContentHashChangesWithRules() {
	changed := `
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
  - indicators.atr
  - indicators.donchian_channel
execution_rules:
  entry_logic: channel_break
  exit_logic: time_stop
  stop_loss: atr_multiple
`

	a, err := ContentHash(suite.canonical(baseDirective))
	suite.NoError(err)

	b, err := ContentHash(suite.canonical(changed))
	suite.NoError(err)

	suite.NotEqual(a, b)
}

func (suite *SignatureTestSuite) TestProvisionUnregisteredWritesStub() {
	dir := suite.T().TempDir()
	registry := strategy.NewRegistry()
	prov := NewProvisioner(registry, dir, logger.NewTestLogger())

	_, err := prov.Provision(suite.canonical(baseDirective))
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindStrategyHollow))

	raw, readErr := os.ReadFile(filepath.Join(dir, "atr_channel_breakout", "strategy.yaml"))
	suite.NoError(readErr)

	stub, parseErr := strategy.UnmarshalSnapshot(raw)
	suite.NoError(parseErr)
	suite.False(stub.Implemented())
	suite.Equal("atr_channel_breakout", stub.Name())
}

func (suite *SignatureTestSuite) TestProvisionRegisteredMatch() {
	c := suite.canonical(baseDirective)
	derived, err := Build(c)
	suite.Require().NoError(err)

	registry := strategy.NewRegistry()
	suite.Require().NoError(registry.Register(strategy.NewATRChannelBreakout("H4", derived)))

	prov := NewProvisioner(registry, suite.T().TempDir(), logger.NewTestLogger())

	impl, err := prov.Provision(c)
	suite.NoError(err)
	suite.Equal("atr_channel_breakout", impl.Name())
}

func (suite *SignatureTestSuite) TestProvisionSignatureMismatch() {
	c := suite.canonical(baseDirective)

	registry := strategy.NewRegistry()
	wrong := map[string]any{"signature_version": SignatureVersion, "execution_rules": map[string]any{"entry_logic": "other"}}
	suite.Require().NoError(registry.Register(strategy.NewATRChannelBreakout("H4", wrong)))

	prov := NewProvisioner(registry, suite.T().TempDir(), logger.NewTestLogger())

	_, err := prov.Provision(c)
	suite.Error(err)
	suite.True(errors.HasKind(err, errors.KindSignatureMismatch))
}

func (suite *SignatureTestSuite) TestProvisionHollowRejected() {
	c := suite.canonical(baseDirective)
	derived, err := Build(c)
	suite.Require().NoError(err)

	hollow := strategy.NewATRChannelBreakout("H4", derived)
	hollow.Filled = false

	registry := strategy.NewRegistry()
	suite.Require().NoError(registry.Register(hollow))

	prov := NewProvisioner(registry, suite.T().TempDir(), logger.NewTestLogger())

	_, provErr := prov.Provision(c)
	suite.Error(provErr)
	suite.True(errors.HasKind(provErr, errors.KindStrategyHollow))
}
