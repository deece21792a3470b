// Package config loads observer and journal settings from YAML or TOML
// files and translates them into functional options.
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/syssam/bindgraph/binding"
	"github.com/syssam/bindgraph/dialect"
	"github.com/syssam/bindgraph/dialect/sql"
	"github.com/syssam/bindgraph/entityinfo"
	"github.com/syssam/bindgraph/journal"
)

var (
	// ErrUnknownFormat is returned for files that are neither YAML nor TOML.
	ErrUnknownFormat = errors.New("config: unknown file format")
	// ErrJournalDisabled is returned by OpenJournal when no DSN is configured.
	ErrJournalDisabled = errors.New("config: journal is not configured")
)

// Entity set naming schemes.
const (
	NamingPlural = "plural"
	NamingType   = "type"
	NamingNone   = "none"
)

// Config is the file representation of the tracking settings.
type Config struct {
	// MovePolicy is "ignore" or "reject".
	MovePolicy string `yaml:"move_policy" toml:"move_policy"`
	// EntitySetNaming is "plural", "type" or "none".
	EntitySetNaming string `yaml:"entity_set_naming" toml:"entity_set_naming"`
	// LogLevel is a slog level name.
	LogLevel string  `yaml:"log_level" toml:"log_level"`
	Journal  Journal `yaml:"journal" toml:"journal"`
}

// Journal configures the SQL journal sink.
type Journal struct {
	Dialect string `yaml:"dialect" toml:"dialect"`
	DSN     string `yaml:"dsn" toml:"dsn"`
	Table   string `yaml:"table" toml:"table"`
	// Debug logs every journal statement at debug level.
	Debug bool `yaml:"debug" toml:"debug"`
}

// Enabled reports whether a journal database is configured.
func (j Journal) Enabled() bool {
	return j.DSN != ""
}

// Default returns the configuration used for missing keys.
func Default() *Config {
	return &Config{
		MovePolicy:      binding.MoveIgnore.String(),
		EntitySetNaming: NamingPlural,
		LogLevel:        "info",
		Journal: Journal{
			Dialect: dialect.SQLite,
			Table:   journal.DefaultTable,
		},
	}
}

// Load reads the file at path. The format is chosen by extension: .yaml and
// .yml are YAML, .toml is TOML. Keys missing from the file keep their
// default values; unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data in the given format ("yaml", "yml" or "toml", with or
// without a leading dot) over the defaults and validates the result.
func Parse(data []byte, format string) (*Config, error) {
	cfg := Default()
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case "toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, err
		}
		if keys := meta.Undecoded(); len(keys) > 0 {
			return nil, fmt.Errorf("unknown key %q", keys[0].String())
		}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting.
func (c *Config) Validate() error {
	var errs []error
	if _, err := binding.ParseMovePolicy(c.MovePolicy); err != nil {
		errs = append(errs, err)
	}
	switch c.EntitySetNaming {
	case NamingPlural, NamingType, NamingNone:
	default:
		errs = append(errs, fmt.Errorf("config: unknown entity_set_naming %q", c.EntitySetNaming))
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	if c.Journal.Enabled() {
		if !dialect.Supported(c.Journal.Dialect) {
			errs = append(errs, fmt.Errorf("config: unsupported journal dialect %q", c.Journal.Dialect))
		}
		if !sql.ValidIdentifier(c.Journal.Table) {
			errs = append(errs, fmt.Errorf("config: invalid journal table %q", c.Journal.Table))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return l, nil
}

// Logger returns a text logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	l, err := c.level()
	if err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// ClassifierOptions translates the entity set naming scheme.
func (c *Config) ClassifierOptions() []entityinfo.Option {
	switch c.EntitySetNaming {
	case NamingType:
		return []entityinfo.Option{entityinfo.WithSetNaming(entityinfo.TypeSetName)}
	case NamingNone:
		return []entityinfo.Option{entityinfo.NoSetNaming()}
	default:
		return nil
	}
}

// ObserverOptions returns the binding options for the configuration. The
// observer gets its own classifier when the naming scheme is not the
// default one.
func (c *Config) ObserverOptions(l *slog.Logger) ([]binding.Option, error) {
	p, err := binding.ParseMovePolicy(c.MovePolicy)
	if err != nil {
		return nil, err
	}
	opts := []binding.Option{binding.WithMovePolicy(p)}
	if l != nil {
		opts = append(opts, binding.WithLogger(l))
	}
	if co := c.ClassifierOptions(); len(co) > 0 {
		opts = append(opts, binding.WithClassifier(entityinfo.New(co...)))
	}
	return opts, nil
}

// OpenJournal opens the configured journal database and creates its table.
func (c *Config) OpenJournal(ctx context.Context, l *slog.Logger) (*journal.Sink, error) {
	j := c.Journal
	if !j.Enabled() {
		return nil, ErrJournalDisabled
	}
	if l == nil {
		l = slog.Default()
	}
	drv, err := sql.Open(j.Dialect, j.DSN)
	if err != nil {
		return nil, fmt.Errorf("config: open journal: %w", err)
	}
	var d dialect.Driver = drv
	if j.Debug {
		d = sql.Debug(drv, l)
	}
	opts := []journal.Option{journal.WithTable(j.Table), journal.WithLogger(l)}
	if co := c.ClassifierOptions(); len(co) > 0 {
		opts = append(opts, journal.WithClassifier(entityinfo.New(co...)))
	}
	s, err := journal.New(d, opts...)
	if err != nil {
		return nil, errors.Join(err, drv.Close())
	}
	if err := s.EnsureTable(ctx); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return s, nil
}
