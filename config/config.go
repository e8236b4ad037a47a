// Package config handles configuration loading from CLI flags, environment
// variables and TOML or YAML settings files.
package config

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfig names the settings file; the build_pca child finds its
// configuration through it.
const EnvConfig = "ZOOTRACER_CONFIG"

const DefaultPath = "zootracer.toml"

// Config holds the pipeline settings plus process-level options.
type Config struct {
	Settings `yaml:",inline"`
	Log      LogConfig    `toml:"log" yaml:"log"`
	Server   ServerConfig `toml:"server" yaml:"server"`
	Index    IndexConfig  `toml:"index" yaml:"index"`

	// Path is the settings file this config was read from and is saved to.
	Path string `toml:"-" yaml:"-"`
}

type LogConfig struct {
	Level string `toml:"level" yaml:"level"` // "debug", "info", "warn", "error"
}

type ServerConfig struct {
	Listen string `toml:"listen" yaml:"listen"` // empty disables the HTTP server
}

type IndexConfig struct {
	Workers int `toml:"workers" yaml:"workers"` // 0 means DefaultWorkers()
}

func DefaultConfig() *Config {
	return &Config{
		Settings: Defaults(),
		Log:      LogConfig{Level: "info"},
		Path:     DefaultPath,
	}
}

// DefaultWorkers leaves one processor free for interactive work.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()-1)
}

func (c *Config) Workers() int {
	if c.Index.Workers > 0 {
		return c.Index.Workers
	}
	return DefaultWorkers()
}

// setFlags collects repeated -set key=value flags.
type setFlags []string

func (s *setFlags) String() string {
	return strings.Join(*s, ",")
}

func (s *setFlags) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Load loads configuration from CLI flags, environment variables and the
// settings file. Priority: CLI flags > env vars > settings file > defaults.
// The remaining positional arguments are returned.
func Load(args []string) (*Config, []string, error) {
	cfg := DefaultConfig()

	fs := flag.NewFlagSet("zootracer", flag.ContinueOnError)
	path := fs.String("config", "", "Settings file (TOML, or YAML by extension)")
	video := fs.String("video", "", "Video file to open")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	listen := fs.String("listen", "", "HTTP listen address for metrics and state")
	workers := fs.Int("workers", 0, "Index worker count (0 = processors-1)")
	var sets setFlags
	fs.Var(&sets, "set", "Override a setting, key=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if v := os.Getenv(EnvConfig); v != "" {
		cfg.Path = v
	}
	if *path != "" {
		cfg.Path = *path
	}
	if err := cfg.loadFile(cfg.Path); err != nil && !os.IsNotExist(err) {
		return nil, nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, nil, err
	}

	if *video != "" {
		cfg.VideoFilePath = *video
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *workers != 0 {
		cfg.Index.Workers = *workers
	}
	for _, kv := range sets {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, nil, fmt.Errorf("-set expects key=value, got %q", kv)
		}
		if err := cfg.Set(strings.TrimSpace(key), value); err != nil {
			return nil, nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

// LoadFile reads defaults, then the settings file, then env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func (c *Config) loadFile(path string) error {
	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(data, c)
	}
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies ZOOTRACER_* overrides; every setting key is accepted
// upper-cased, e.g. ZOOTRACER_PATCH_SIZE.
func (c *Config) applyEnv() error {
	if v := os.Getenv("ZOOTRACER_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("ZOOTRACER_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("ZOOTRACER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Index.Workers = n
		}
	}
	for _, key := range Keys() {
		if v, ok := os.LookupEnv("ZOOTRACER_" + strings.ToUpper(key)); ok && v != "" {
			if err := c.Set(key, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Save writes the config to c.Path via a temporary file and a rename, so a
// concurrent reader never sees a partial file.
func (c *Config) Save() error {
	var buf bytes.Buffer
	if isYAML(c.Path) {
		enc := yaml.NewEncoder(&buf)
		if err := enc.Encode(c); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	} else if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return err
	}

	dir := filepath.Dir(c.Path)
	tmp, err := os.CreateTemp(dir, filepath.Base(c.Path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.Path)
}
