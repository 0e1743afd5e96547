// Package config loads the settings shared by the command-line tools: a YAML
// file, overridden by environment variables prefixed with XV6FS_.
package config

import (
	"bytes"
	"io"
	"log/slog"
	"os"

	"github.com/dargueta/xv6fs/bcache"
	"github.com/dargueta/xv6fs/disks"
	"github.com/dargueta/xv6fs/errors"
	"github.com/dargueta/xv6fs/fs"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "XV6FS"

// Config holds the settings for opening an image.
type Config struct {
	Image       string `envconfig:"IMAGE"        yaml:"image"`
	Geometry    string `envconfig:"GEOMETRY"     yaml:"geometry"`
	CacheSlots  int    `envconfig:"CACHE_SLOTS"  yaml:"cacheSlots"`
	CachePolicy string `envconfig:"CACHE_POLICY" yaml:"cachePolicy"`
	InodeSlots  int    `envconfig:"INODE_SLOTS"  yaml:"inodeSlots"`
	FileSlots   int    `envconfig:"FILE_SLOTS"   yaml:"fileSlots"`
	LogLevel    string `envconfig:"LOG_LEVEL"    yaml:"logLevel"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Image:       "xv6.img",
		Geometry:    disks.DefaultSlug,
		CacheSlots:  bcache.DefaultSlots,
		CachePolicy: "lru",
		InodeSlots:  fs.DefaultInodeSlots,
		FileSlots:   fs.DefaultFileSlots,
		LogLevel:    "warn",
	}
}

// Load starts from [Default], applies the YAML file at `path` if `path` isn't
// empty, then applies environment variables. Unknown keys in the file are an
// error.
func Load(path string) (Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return Config{}, errors.ErrNotFound.WithMessage(
					"config file " + path + " does not exist")
			}
			return Config{}, errors.ErrIOFailed.Wrap(err)
		}
		if err = Decode(bytes.NewReader(data), &c); err != nil {
			return Config{}, err
		}
	}

	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return Config{}, errors.ErrInvalidArgument.Wrap(err)
	}
	return c, c.Validate()
}

// Decode overlays YAML settings read from `r` onto `c`.
func Decode(r io.Reader, c *Config) error {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	err := decoder.Decode(c)
	if err != nil && err != io.EOF {
		return errors.ErrInvalidArgument.Wrap(err)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return errors.Errorf(errors.EINVAL, field+": "+format, args...)
}

// Validate checks that every setting is usable.
func (c Config) Validate() error {
	if c.Image == "" {
		return invalid("image", "no image path given")
	}
	if _, err := disks.GetPredefinedGeometry(c.Geometry); err != nil {
		return invalid("geometry", "unknown geometry %q, expected one of %v", c.Geometry, disks.Slugs())
	}
	if c.CacheSlots < 1 {
		return invalid("cacheSlots", "must be at least 1, got %d", c.CacheSlots)
	}
	if _, err := bcache.ParsePolicy(c.CachePolicy); err != nil {
		return invalid("cachePolicy", "%s", err)
	}
	if c.InodeSlots < 2 {
		return invalid("inodeSlots", "must be at least 2, got %d", c.InodeSlots)
	}
	if c.FileSlots < 1 {
		return invalid("fileSlots", "must be at least 1, got %d", c.FileSlots)
	}
	if _, err := c.Level(); err != nil {
		return invalid("logLevel", "%s", err)
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	return level, err
}

// Policy returns the configured buffer recycling policy.
func (c Config) Policy() bcache.Policy {
	policy, _ := bcache.ParsePolicy(c.CachePolicy)
	return policy
}

// NewLogger returns a text logger writing to `w` at the configured level.
// An invalid level falls back to warnings.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
