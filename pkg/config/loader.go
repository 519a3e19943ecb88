package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ConfigError represents a configuration file error with location info.
type ConfigError struct {
	Path    string
	Line    int
	Message string
}

func (e *ConfigError) Error() string {
	if e.Line > 0 {
		return e.Path + " (line " + strconv.Itoa(e.Line) + "): " + e.Message
	}
	return e.Path + ": " + e.Message
}

// LoadFile loads a Config from a YAML file. Only keys present in the file are
// set; SetFields records which ones.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse decodes YAML config data. path is only used in error messages.
func Parse(path string, data []byte) (*Config, error) {
	cfg := Config{
		Sources:   make(map[string]string),
		SetFields: make(map[string]bool),
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &cfg, nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, yamlError(path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, yamlError(path, err)
	}

	cfg.Sources = make(map[string]string)
	cfg.SetFields = presentKeys(&node)
	return &cfg, nil
}

// yamlLine matches the position prefix of yaml.v3 error messages.
var yamlLine = regexp.MustCompile(`^(?:yaml: )?line (\d+): (.*)$`)

func yamlError(path string, err error) error {
	msg := err.Error()
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) && len(typeErr.Errors) > 0 {
		msg = typeErr.Errors[0]
	}
	cfgErr := &ConfigError{Path: path, Message: msg}
	if m := yamlLine.FindStringSubmatch(msg); m != nil {
		cfgErr.Line, _ = strconv.Atoi(m[1])
		cfgErr.Message = m[2]
	}
	return cfgErr
}

// presentKeys walks the top two levels of a YAML document and returns the
// dotted key paths it defines.
func presentKeys(doc *yaml.Node) map[string]bool {
	keys := make(map[string]bool)
	if doc == nil || len(doc.Content) == 0 {
		return keys
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return keys
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		keys[name] = true
		value := root.Content[i+1]
		if value.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(value.Content); j += 2 {
			keys[name+"."+value.Content[j].Value] = true
		}
	}
	return keys
}

// Load builds the effective configuration from defaults, the optional config
// file, and the environment. Flags are applied afterwards by the caller.
// An empty path falls back to CAPSTREAM_CONFIG.
func Load(path string) (*Config, error) {
	cfg := NewDefault()

	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		Merge(cfg, fileCfg, SourceFile)
	}

	if err := LoadEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
