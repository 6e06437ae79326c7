package orchestrator

import (
	"encoding/json"
	"os"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/kitealert7-source/tradescan/internal/engine"
	"github.com/kitealert7-source/tradescan/pkg/errors"
)

// Config is the operator-facing pipeline configuration file.
type Config struct {
	// Root is the project root every layout path derives from.
	Root string `yaml:"root" json:"root" jsonschema:"title=Project Root,description=Directory holding directives and market data and emitted artifacts"`
	// Engine holds the execution driver parameters.
	Engine engine.Config `yaml:"engine" json:"engine" jsonschema:"title=Engine,description=Execution driver parameters"`
}

// EmptyConfig returns a config with driver defaults filled in, suitable as a
// sample file.
func EmptyConfig() Config {
	return Config{
		Root:   ".",
		Engine: engine.Config{}.Normalize(),
	}
}

// LoadConfig reads a pipeline config file. A missing path yields the defaults
// so the CLI works out of the box in a prepared project root.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return EmptyConfig(), nil
	}

	if err != nil {
		return Config{}, errors.Wrap(errors.KindValidationFailed, path, "cannot read config", err)
	}

	cfg := EmptyConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.KindValidationFailed, path, "config is not valid yaml", err)
	}

	if cfg.Root == "" {
		cfg.Root = "."
	}

	return cfg, nil
}

// GenerateSchema builds a JSON schema for the pipeline config.
func (c Config) GenerateSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}

	schema := reflector.Reflect(&c)
	schema.Title = "tradescan-config"
	schema.Description = "Configuration schema for the tradescan pipeline"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema
}

// GenerateSchemaJSON renders the schema as indented JSON.
func (c Config) GenerateSchemaJSON() (string, error) {
	out, err := json.MarshalIndent(c.GenerateSchema(), "", "  ")
	if err != nil {
		return "", errors.Wrap(errors.KindValidationFailed, "config", "cannot marshal schema", err)
	}

	return string(out), nil
}
