package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	pkgerrors "github.com/c360/asyncflow/errors"
)

// Load reads a configuration file, validates it against the embedded
// schema, and unmarshals it over DefaultConfig so the file only has to
// name the fields it changes. The format is chosen by extension: .yaml
// and .yml are YAML, everything else is JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "Config", "Load", "read config file")
	}

	jsonData, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}

	if err := validateAgainstSchema(jsonData); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(jsonData, cfg); err != nil {
		return nil, pkgerrors.WrapInvalid(err, "Config", "Load", "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// toJSON normalizes file contents to JSON. YAML documents are decoded
// and re-encoded so one schema check covers both formats.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, pkgerrors.WrapInvalid(err, "Config", "Load", "parse YAML")
		}
		if raw == nil {
			return []byte("{}"), nil
		}
		jsonData, err := json.Marshal(raw)
		if err != nil {
			return nil, pkgerrors.WrapInvalid(err, "Config", "Load", "convert YAML to JSON")
		}
		return jsonData, nil
	default:
		return data, nil
	}
}

// validateAgainstSchema checks the JSON document against the embedded
// draft-07 schema before unmarshaling, catching typos and type errors
// with field-level messages.
func validateAgainstSchema(jsonData []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(configSchema)
	documentLoader := gojsonschema.NewBytesLoader(jsonData)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return pkgerrors.WrapInvalid(err, "Config", "Load", "run schema validation")
	}

	if !result.Valid() {
		errMsg := "config schema validation failed:"
		for _, desc := range result.Errors() {
			errMsg += fmt.Sprintf("\n  - %s: %s", desc.Field(), desc.Description())
		}
		return pkgerrors.WrapInvalid(fmt.Errorf("%s", errMsg), "Config", "Load", "validate against schema")
	}

	return nil
}
