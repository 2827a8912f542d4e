// Package config loads the widget bridge server configuration.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/widgetbridge/pkg/notebook"
	"github.com/go-go-golems/widgetbridge/pkg/redisstream"
)

const (
	TransportWebSocket = "websocket"
	TransportWatermill = "watermill"
)

type Server struct {
	Addr         string        `yaml:"addr,omitempty"`
	WriteTimeout time.Duration `yaml:"write-timeout,omitempty"`
	// DebugRoutes mounts the /api/debug endpoints driving the in-memory
	// session and editor services.
	DebugRoutes bool `yaml:"debug-routes,omitempty"`
}

type Renderers struct {
	Default string            `yaml:"default,omitempty"`
	ByMime  map[string]string `yaml:"by-mime,omitempty"`
}

// Resolver returns the renderer resolver described by r.
func (r Renderers) Resolver() notebook.StaticRendererResolver {
	byMime := make(map[string]string, len(r.ByMime))
	for mime, id := range r.ByMime {
		byMime[strings.ToLower(strings.TrimSpace(mime))] = id
	}
	return notebook.StaticRendererResolver{Default: r.Default, ByMime: byMime}
}

type Config struct {
	Server    Server               `yaml:"server"`
	Transport string               `yaml:"transport,omitempty"`
	Redis     redisstream.Settings `yaml:"redis"`
	// PlotStore is a sqlite file path or DSN; empty keeps plots in memory.
	PlotStore string    `yaml:"plot-store,omitempty"`
	Renderers Renderers `yaml:"renderers"`
	LogLevel  string    `yaml:"log-level,omitempty"`
}

func Default() Config {
	return Config{
		Server: Server{
			Addr:         ":8090",
			WriteTimeout: 5 * time.Second,
		},
		Transport: TransportWebSocket,
		Redis:     redisstream.DefaultSettings(),
		Renderers: Renderers{Default: "widgetbridge-ipywidgets"},
		LogLevel:  "info",
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "open config %s", path)
	}
	defer func() { _ = f.Close() }()
	cfg, err := Parse(f)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	b, err := io.ReadAll(r)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}
	if len(bytes.TrimSpace(b)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, errors.Wrap(err, "decode config")
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))
	switch c.Transport {
	case "":
		c.Transport = TransportWebSocket
	case TransportWebSocket, TransportWatermill:
	default:
		return errors.Errorf("unknown transport %q (expected %s or %s)", c.Transport, TransportWebSocket, TransportWatermill)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.WriteTimeout < 0 {
		return errors.New("server.write-timeout must not be negative")
	}
	if c.Redis.Enabled {
		if c.Transport != TransportWatermill {
			return errors.New("redis requires the watermill transport")
		}
		if strings.TrimSpace(c.Redis.Addr) == "" || strings.TrimSpace(c.Redis.Group) == "" || strings.TrimSpace(c.Redis.Consumer) == "" {
			return errors.New("redis.addr, redis.group and redis.consumer are required when redis is enabled")
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel; empty means info.
func (c Config) Level() (zerolog.Level, error) {
	if strings.TrimSpace(c.LogLevel) == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "invalid log-level %q", c.LogLevel)
	}
	return lvl, nil
}
