package signature

import (
	"os"
	"path/filepath"

	"github.com/kitealert7-source/tradescan/internal/directive"
	"github.com/kitealert7-source/tradescan/internal/logger"
	"github.com/kitealert7-source/tradescan/internal/strategy"
	"github.com/kitealert7-source/tradescan/pkg/errors"
	"go.uber.org/zap"
)

// Provisioner binds directives to strategy implementations. When no
// implementation exists it writes a stub descriptor for a developer to fill
// in; when one exists it verifies the embedded signature matches the derived
// one and that the implementation is not hollow.
type Provisioner struct {
	registry      strategy.Registry
	strategiesDir string
	log           *logger.Logger
}

// NewProvisioner creates a provisioner writing stubs under strategiesDir.
func NewProvisioner(registry strategy.Registry, strategiesDir string, log *logger.Logger) *Provisioner {
	return &Provisioner{
		registry:      registry,
		strategiesDir: strategiesDir,
		log:           log,
	}
}

// Provision resolves the directive's strategy. It returns the registered
// strategy on success. Missing implementations produce a stub descriptor and
// a KindStrategyHollow error; signature drift produces KindSignatureMismatch.
func (p *Provisioner) Provision(c *directive.Canonical) (strategy.Strategy, error) {
	derived, err := Build(c)
	if err != nil {
		return nil, err
	}

	impl, err := p.registry.Get(c.StrategyName)
	if err != nil {
		if stubErr := p.writeStub(c, derived); stubErr != nil {
			return nil, stubErr
		}

		p.log.Warn("Strategy not registered, stub provisioned",
			zap.String("strategy", c.StrategyName),
			zap.String("dir", p.strategiesDir),
		)

		return nil, errors.Newf(errors.KindStrategyHollow, c.StrategyName,
			"no implementation registered; stub written under %s", p.strategiesDir)
	}

	if !impl.Implemented() {
		return nil, errors.Newf(errors.KindStrategyHollow, c.StrategyName,
			"strategy %q is a provisioned stub that has not been filled in", c.StrategyName)
	}

	if !Equal(impl.Signature(), derived) {
		return nil, errors.Newf(errors.KindSignatureMismatch, c.StrategyName,
			"embedded signature does not match directive signature")
	}

	return impl, nil
}

// writeStub persists a hollow descriptor so the next registration has the
// exact signature to embed.
func (p *Provisioner) writeStub(c *directive.Canonical, derived map[string]any) error {
	stub := &strategy.Descriptor{
		StrategyName:      c.StrategyName,
		StrategyTimeframe: c.Timeframe,
		IndicatorPaths:    c.Indicators,
		Filled:            false,
		BoundSignature:    derived,
	}

	raw, err := stub.MarshalSnapshot()
	if err != nil {
		return errors.Wrap(errors.KindStrategyHollow, c.StrategyName, "cannot render stub descriptor", err)
	}

	dir := filepath.Join(p.strategiesDir, c.StrategyName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.KindStrategyHollow, c.StrategyName, "cannot create strategy dir", err)
	}

	path := filepath.Join(dir, "strategy.yaml")
	if _, statErr := os.Stat(path); statErr == nil {
		// Never overwrite an existing descriptor, hollow or not.
		return nil
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return errors.Wrap(errors.KindStrategyHollow, c.StrategyName, "cannot write stub descriptor", err)
	}

	return nil
}
