package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Load reads, schema-checks and normalizes a configuration file. The format
// is chosen by extension: .yaml/.yml is converted to JSON first, everything
// else is treated as JSON.
//
// Load does not run semantic validation; call Config.Validate for that. This
// lets the caller disable individual broken hotfolders instead of refusing
// the whole file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return LoadBytes(data, ext == ".yaml" || ext == ".yml")
}

// LoadBytes parses configuration data. When isYAML is set the data is
// converted to JSON before schema validation.
func LoadBytes(data []byte, isYAML bool) (*Config, error) {
	if isYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, err
		}
		data = converted
	}

	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	return &cfg, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert yaml to json: %w", err)
	}
	return out, nil
}

// validateSchema unifies the JSON document with the embedded CUE schema.
// Shape errors, unknown fields and bad enum values are reported with their
// field paths.
func validateSchema(jsonData []byte) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	root := schema.LookupPath(cue.ParsePath("#Config"))
	if err := root.Err(); err != nil {
		return fmt.Errorf("lookup config schema root: %w", err)
	}

	doc := ctx.CompileBytes(jsonData, cue.Filename("config.json"))
	if err := doc.Err(); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if err := root.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config:\n%s", cueerrors.Details(err, nil))
	}
	return nil
}

// Defaults applied during normalization.
const (
	DefaultDebounce   = 2 * time.Second
	DefaultOnSuccess  = "archive"
	defaultErrorDir   = "error"
	defaultArchiveDir = "archive"
)

// DefaultRetry is used for destinations that do not configure their own.
func DefaultRetry() Retry {
	return Retry{
		MaxAttempts:     3,
		InitialInterval: Duration(1 * time.Second),
		MaxInterval:     Duration(30 * time.Second),
		Multiplier:      2.0,
	}
}

// normalize fills in defaults and folds the deprecated single `export` block
// into the exports list.
func (c *Config) normalize() {
	for i := range c.Hotfolders {
		h := &c.Hotfolders[i]

		if len(h.Patterns) == 0 {
			h.Patterns = []string{"*.pdf"}
		}
		if h.Debounce == 0 {
			h.Debounce = Duration(DefaultDebounce)
		}
		if h.ErrorDir == "" {
			h.ErrorDir = filepath.Join(h.Path, defaultErrorDir)
		}
		if h.OnSuccess == "" {
			h.OnSuccess = DefaultOnSuccess
		}
		if h.OnSuccess == "archive" && h.ArchiveDir == "" {
			h.ArchiveDir = filepath.Join(h.Path, defaultArchiveDir)
		}

		if h.Export != nil {
			h.Exports = append([]Export{*h.Export}, h.Exports...)
			h.Export = nil
		}
		for j := range h.Exports {
			e := &h.Exports[j]
			if e.Retry == nil {
				r := DefaultRetry()
				e.Retry = &r
			} else {
				d := DefaultRetry()
				if e.Retry.MaxAttempts == 0 {
					e.Retry.MaxAttempts = d.MaxAttempts
				}
				if e.Retry.InitialInterval == 0 {
					e.Retry.InitialInterval = d.InitialInterval
				}
				if e.Retry.MaxInterval == 0 {
					e.Retry.MaxInterval = d.MaxInterval
				}
				if e.Retry.Multiplier == 0 {
					e.Retry.Multiplier = d.Multiplier
				}
			}
		}
	}
}
