package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	DefaultWidth   = 800
	DefaultHeight  = 800
	DefaultQuality = 80
	DefaultWorkers = 1
)

// DefaultPatterns are the image extensions mirrored when no patterns are configured.
var DefaultPatterns = []string{"*.gif", "*.jpg", "*.jpeg", "*.png", "*.tif", "*.jfif"}

// Config represents the complete imgmirror configuration
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Sync    SyncConfig    `yaml:"sync"`
	Resize  ResizeConfig  `yaml:"resize"`
	Log     LogConfig     `yaml:"log"`
	History HistoryConfig `yaml:"history"`
}

// PathsConfig configures the two tree roots
type PathsConfig struct {
	Source string `yaml:"source"`
	Dest   string `yaml:"dest"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Patterns []string `yaml:"patterns"`
	Workers  int      `yaml:"workers"`
	DryRun   bool     `yaml:"dry_run"`
}

// ResizeConfig configures image normalization of copied files
type ResizeConfig struct {
	// Disabled turns imgmirror into a plain mirror.
	Disabled bool `yaml:"disabled"`
	Size     Size `yaml:"size"`
	Square   bool `yaml:"square"`
	Quality  int  `yaml:"quality"`
}

// LogConfig configures the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// HistoryConfig configures the run history store
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// Size is a width x height bounding box in pixels.
type Size struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// UnmarshalYAML accepts either a {width, height} mapping or a "WxH" scalar.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseSize(value.Value)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	var raw struct {
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*s = Size{Width: raw.Width, Height: raw.Height}
	return nil
}

// ParseSize accepts "800x600", "800X600" or "800,600".
func ParseSize(v string) (Size, error) {
	sep := strings.IndexAny(v, "xX,")
	if sep < 0 {
		return Size{}, fmt.Errorf("%w: size %q must be WIDTHxHEIGHT", ErrInvalid, v)
	}
	w, err := strconv.Atoi(strings.TrimSpace(v[:sep]))
	if err != nil {
		return Size{}, fmt.Errorf("%w: size width %q: %v", ErrInvalid, v[:sep], err)
	}
	h, err := strconv.Atoi(strings.TrimSpace(v[sep+1:]))
	if err != nil {
		return Size{}, fmt.Errorf("%w: size height %q: %v", ErrInvalid, v[sep+1:], err)
	}
	s := Size{Width: w, Height: h}
	if err := s.validate(); err != nil {
		return Size{}, err
	}
	return s, nil
}

func (s Size) validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("%w: size must be positive, got %s", ErrInvalid, s)
	}
	return nil
}

// Default returns a configuration with every default applied and no paths set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	return &cfg, nil
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Paths.Source = os.ExpandEnv(c.Paths.Source)
	c.Paths.Dest = os.ExpandEnv(c.Paths.Dest)
	c.Log.File = os.ExpandEnv(c.Log.File)
	c.History.DBPath = os.ExpandEnv(c.History.DBPath)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if len(c.Sync.Patterns) == 0 {
		c.Sync.Patterns = append([]string(nil), DefaultPatterns...)
	}
	if c.Sync.Workers == 0 {
		c.Sync.Workers = DefaultWorkers
	}
	if c.Resize.Size == (Size{}) {
		c.Resize.Size = Size{Width: DefaultWidth, Height: DefaultHeight}
	}
	if c.Resize.Quality == 0 {
		c.Resize.Quality = DefaultQuality
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks the configuration for errors. It runs before any action is
// planned; every error it returns is fatal.
func (c *Config) Validate() error {
	if c.Paths.Source == "" {
		return fmt.Errorf("%w: paths.source is required", ErrInvalid)
	}
	if c.Paths.Dest == "" {
		return fmt.Errorf("%w: paths.dest is required", ErrInvalid)
	}

	info, err := os.Stat(c.Paths.Source)
	if err != nil {
		return fmt.Errorf("%w: source root: %v", ErrInvalid, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: source root %s is not a directory", ErrInvalid, c.Paths.Source)
	}

	src, err := filepath.Abs(c.Paths.Source)
	if err != nil {
		return fmt.Errorf("%w: source root: %v", ErrInvalid, err)
	}
	dst, err := filepath.Abs(c.Paths.Dest)
	if err != nil {
		return fmt.Errorf("%w: dest root: %v", ErrInvalid, err)
	}
	if src == dst {
		return fmt.Errorf("%w: source and dest must differ (%s)", ErrInvalid, src)
	}

	if len(c.Sync.Patterns) == 0 {
		return fmt.Errorf("%w: sync.patterns must not be empty", ErrInvalid)
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("%w: sync.workers must be at least 1, got %d", ErrInvalid, c.Sync.Workers)
	}

	if err := c.Resize.Size.validate(); err != nil {
		return err
	}
	if c.Resize.Quality < 1 || c.Resize.Quality > 100 {
		return fmt.Errorf("%w: resize.quality must be in 1..100, got %d", ErrInvalid, c.Resize.Quality)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
		// valid
	default:
		return fmt.Errorf("%w: invalid log.format %q (must be text or json)", ErrInvalid, c.Log.Format)
	}

	return nil
}

// ResizeEnabled reports whether copied files are normalized.
func (c *Config) ResizeEnabled() bool {
	return !c.Resize.Disabled
}
