// Package broker loads per-symbol broker contract specifications. A spec is
// the execution-side source of truth for contract size, lot granularity and
// the calibration constants used for position sizing.
package broker

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Calibration holds the empirically measured dollar response of one symbol.
type Calibration struct {
	// USDPnlPerPriceUnit0p01 is the USD PnL produced by a 0.01 price-unit
	// move at one standard lot.
	USDPnlPerPriceUnit0p01 float64 `yaml:"usd_pnl_per_price_unit_0p01" validate:"gt=0"`
}

// Spec is one symbol's broker contract.
type Spec struct {
	Symbol             string      `yaml:"symbol" validate:"required"`
	ContractSize       float64     `yaml:"contract_size" validate:"gt=0"`
	MinLot             float64     `yaml:"min_lot" validate:"gt=0"`
	Calibration        Calibration `yaml:"calibration" validate:"required"`
	ReferenceCapitalUSD float64    `yaml:"reference_capital_usd" validate:"gte=0"`
}

// SpecService loads and validates broker specs from
// <root>/<broker>/<symbol>.yaml. Specs are cached after first load.
type SpecService struct {
	root     string
	validate *validator.Validate
	cache    map[string]*Spec
}

// NewSpecService creates a spec service rooted at the broker spec directory.
func NewSpecService(root string) *SpecService {
	return &SpecService{
		root:     root,
		validate: validator.New(),
		cache:    make(map[string]*Spec),
	}
}

// Get returns the validated spec for a symbol under a broker.
func (s *SpecService) Get(broker, symbol string) (*Spec, error) {
	key := broker + "/" + symbol
	if spec, ok := s.cache[key]; ok {
		return spec, nil
	}

	path := filepath.Join(s.root, broker, strings.ToUpper(symbol)+".yaml")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.KindBrokerSpecInvalid, symbol, err,
			"no broker spec at %s", path)
	}

	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, errors.Wrap(errors.KindBrokerSpecInvalid, symbol, "spec does not parse", err)
	}

	if spec.Symbol == "" {
		spec.Symbol = strings.ToUpper(symbol)
	}

	if err := s.validate.Struct(&spec); err != nil {
		return nil, errors.Wrap(errors.KindBrokerSpecInvalid, symbol, "spec fails validation", err)
	}

	if !strings.EqualFold(spec.Symbol, symbol) {
		return nil, errors.Newf(errors.KindBrokerSpecInvalid, symbol,
			"spec declares symbol %q", spec.Symbol)
	}

	s.cache[key] = &spec

	return &spec, nil
}
