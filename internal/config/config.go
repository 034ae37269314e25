// Package config loads convlog settings from YAML or CUE files.
//
// YAML files are decoded strictly: unknown keys are errors. CUE files are
// unified with an embedded schema and must be concrete. Either way the
// file is layered over Default and the result is validated.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/convlog/internal/notify"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full set of runtime settings.
type Config struct {
	Log              LogConfig     `yaml:"log" json:"log"`
	Self             string        `yaml:"self" json:"self"`
	SubscriberBuffer int           `yaml:"subscriber_buffer" json:"subscriber_buffer"`
	MaxAncestorWalk  int           `yaml:"max_ancestor_walk" json:"max_ancestor_walk"`
	Archive          ArchiveConfig `yaml:"archive" json:"archive"`
	NATS             NATSConfig    `yaml:"nats" json:"nats"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ArchiveConfig points at the SQLite archive. An empty path disables it.
type ArchiveConfig struct {
	Path string `yaml:"path" json:"path"`
}

// NATSConfig configures the relay. An empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url" json:"url"`
	Name          string `yaml:"name" json:"name"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		SubscriberBuffer: notify.DefaultBuffer,
		NATS: NATSConfig{
			Name:          "convlog",
			SubjectPrefix: "convlog",
		},
	}
}

// Error is a configuration problem, with a source position when the file
// format provides one.
type Error struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// Load reads path and layers it over Default. Files ending in .cue are
// read as CUE, everything else as YAML.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		err = decodeCUE(path, data, &cfg)
	} else {
		err = decodeYAML(path, data, &cfg)
	}
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, &Error{Path: path, Message: err.Error()}
	}
	return cfg, nil
}

func decodeYAML(path string, data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			// empty file: defaults only
			return nil
		}
		return &Error{Path: path, Message: err.Error()}
	}
	return nil
}

func decodeCUE(path string, data []byte, cfg *Config) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return formatCUEError(path, err)
	}

	unified := schema.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(path, err)
	}
	if err := unified.Decode(cfg); err != nil {
		return formatCUEError(path, err)
	}
	return nil
}

// formatCUEError reports the first CUE error with its position in the
// config file, skipping positions inside the embedded schema.
func formatCUEError(path string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Path: path, Message: err.Error()}
	}

	first := errs[0]
	out := &Error{Path: path, Message: first.Error()}
	for _, pos := range cueerrors.Positions(first) {
		if pos.IsValid() && pos.Filename() == path {
			setPosition(out, pos)
			break
		}
	}
	return out
}

func setPosition(e *Error, pos token.Pos) {
	e.Line = pos.Line()
	e.Column = pos.Column()
}

// Validate checks value ranges that the YAML path cannot express.
func (c Config) Validate() error {
	var errs []error

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, fmt.Errorf("subscriber_buffer must be positive, got %d", c.SubscriberBuffer))
	}
	if c.MaxAncestorWalk < 0 {
		errs = append(errs, fmt.Errorf("max_ancestor_walk must not be negative, got %d", c.MaxAncestorWalk))
	}
	if c.NATS.URL != "" && c.NATS.SubjectPrefix == "" {
		errs = append(errs, fmt.Errorf("nats.subject_prefix is required when nats.url is set"))
	}
	return errors.Join(errs...)
}
