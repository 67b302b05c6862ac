// Package config loads the viewer settings. Later sources override earlier
// ones: defaults, the YAML file, a .env file, the process environment and
// finally command line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ssbc/ssb-viewer/api/validator"
)

// EnvPrefix prefixes the environment variable of every setting.
const EnvPrefix = "SSB_VIEWER_"

// Config holds the settings of one viewer process.
type Config struct {
	Listen        string `yaml:"listen" validate:"required,listenaddr"`
	MetricsListen string `yaml:"metrics_listen" validate:"omitempty,listenaddr"`

	Base      string `yaml:"base" validate:"omitempty,urlprefix"`
	MsgBase   string `yaml:"msg_base" validate:"omitempty,urlprefix"`
	FeedBase  string `yaml:"feed_base" validate:"omitempty,urlprefix"`
	BlobBase  string `yaml:"blob_base" validate:"omitempty,urlprefix"`
	ImgBase   string `yaml:"img_base" validate:"omitempty,urlprefix"`
	EmojiBase string `yaml:"emoji_base" validate:"omitempty,urlprefix"`

	// Postgres is the DSN of the message store. Without it the log is
	// kept in memory.
	Postgres string `yaml:"postgres"`
	// Redis is the address of the blob store. Without it blobs are kept
	// with the messages in memory.
	Redis string `yaml:"redis"`

	StaticDir string `yaml:"static_dir"`
	EmojiDir  string `yaml:"emoji_dir"`

	CacheSize   int `yaml:"cache_size" validate:"gte=0"`
	Concurrency int `yaml:"concurrency" validate:"gte=0"`
	ScanLimit   int `yaml:"scan_limit" validate:"gte=0"`

	LogLevel        string        `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat       string        `yaml:"log_format" validate:"oneof=text json"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Listen:          "[::]:8807",
		CacheSize:       100,
		Concurrency:     8,
		ScanLimit:       2000,
		LogLevel:        "info",
		LogFormat:       "text",
		ShutdownTimeout: 10 * time.Second,
	}
}

type setting struct {
	key   string
	usage string
	field func(*Config) any
}

var settings = []setting{
	{"listen", "HTTP listen address", func(c *Config) any { return &c.Listen }},
	{"metrics_listen", "listen address for /metrics, disabled when empty", func(c *Config) any { return &c.MetricsListen }},
	{"base", "prefix of generated links", func(c *Config) any { return &c.Base }},
	{"msg_base", "prefix of message links", func(c *Config) any { return &c.MsgBase }},
	{"feed_base", "prefix of feed links", func(c *Config) any { return &c.FeedBase }},
	{"blob_base", "prefix of blob links", func(c *Config) any { return &c.BlobBase }},
	{"img_base", "prefix of image sources", func(c *Config) any { return &c.ImgBase }},
	{"emoji_base", "prefix of emoji images", func(c *Config) any { return &c.EmojiBase }},
	{"postgres", "PostgreSQL DSN of the message store", func(c *Config) any { return &c.Postgres }},
	{"redis", "Redis address of the blob store", func(c *Config) any { return &c.Redis }},
	{"static_dir", "directory served under /static/", func(c *Config) any { return &c.StaticDir }},
	{"emoji_dir", "directory served under /emoji/", func(c *Config) any { return &c.EmojiDir }},
	{"cache_size", "entries per lookup cache", func(c *Config) any { return &c.CacheSize }},
	{"concurrency", "messages enriched in parallel per request", func(c *Config) any { return &c.Concurrency }},
	{"scan_limit", "log entries examined for channel and subscription pages, 0 for all", func(c *Config) any { return &c.ScanLimit }},
	{"log_level", "debug, info, warn or error", func(c *Config) any { return &c.LogLevel }},
	{"log_format", "text or json", func(c *Config) any { return &c.LogFormat }},
	{"shutdown_timeout", "time allowed for open requests on shutdown", func(c *Config) any { return &c.ShutdownTimeout }},
}

func (s setting) flag() string { return strings.ReplaceAll(s.key, "_", "-") }

func (s setting) env() string { return EnvPrefix + strings.ToUpper(s.key) }

func (s setting) set(c *Config, v string) error {
	switch p := s.field(c).(type) {
	case *string:
		*p = v
	case *int:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
		*p = n
	case *time.Duration:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", s.key, err)
		}
		*p = d
	}
	return nil
}

// Sources names where settings come from. Empty paths are skipped and
// missing files are not an error.
type Sources struct {
	File   string
	DotEnv string
	// LookupEnv reads the process environment; os.LookupEnv when nil.
	LookupEnv func(string) (string, bool)
	Flags     *pflag.FlagSet
}

// Load merges the sources over Default and validates the result.
func Load(src Sources) (Config, error) {
	cfg := Default()
	if src.File != "" {
		if err := loadFile(src.File, &cfg); err != nil {
			return Config{}, err
		}
	}

	dotenv := map[string]string{}
	if src.DotEnv != "" {
		m, err := godotenv.Read(src.DotEnv)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("read %s: %w", src.DotEnv, err)
		}
		if m != nil {
			dotenv = m
		}
	}
	lookup := src.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	for _, s := range settings {
		v, ok := lookup(s.env())
		if !ok {
			v, ok = dotenv[s.env()]
		}
		if !ok {
			continue
		}
		if err := s.set(&cfg, v); err != nil {
			return Config{}, fmt.Errorf("env %s: %w", s.env(), err)
		}
	}

	if src.Flags != nil {
		for _, s := range settings {
			f := src.Flags.Lookup(s.flag())
			if f == nil || !f.Changed {
				continue
			}
			if err := s.set(&cfg, f.Value.String()); err != nil {
				return Config{}, fmt.Errorf("flag --%s: %w", s.flag(), err)
			}
		}
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// AddFlags registers a flag for every setting. Only flags given on the
// command line override other sources.
func AddFlags(flags *pflag.FlagSet) {
	def := Default()
	for _, s := range settings {
		var value string
		switch p := s.field(&def).(type) {
		case *string:
			value = *p
		case *int:
			value = strconv.Itoa(*p)
		case *time.Duration:
			value = p.String()
		}
		flags.String(s.flag(), value, s.usage)
	}
}

// Validate checks cfg with the same rules as request parameters.
func Validate(cfg Config) error {
	errs := validator.New().ValidateStruct(cfg)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
