package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/txreplay/internal/capture"
	"github.com/SmitUplenchwar2687/txreplay/internal/limiter"
	"github.com/SmitUplenchwar2687/txreplay/internal/logging"
	"github.com/SmitUplenchwar2687/txreplay/internal/replay"
	"github.com/SmitUplenchwar2687/txreplay/internal/storage"
	"github.com/SmitUplenchwar2687/txreplay/internal/transport"
)

// Config is the top-level configuration for a txreplay process.
type Config struct {
	Capture   CaptureConfig  `json:"capture" yaml:"capture"`
	Listen    ListenConfig   `json:"listen" yaml:"listen"`
	HTTP      HTTPConfig     `json:"http" yaml:"http"`
	Pacing    replay.Pacing  `json:"pacing" yaml:"pacing"`
	Log       logging.Config `json:"log" yaml:"log"`
	Storage   storage.Config `json:"storage" yaml:"storage"`
	Admission limiter.Config `json:"admission" yaml:"admission"`
	NATS      NATSConfig     `json:"nats" yaml:"nats"`
}

// CaptureConfig locates and decodes the capture file.
type CaptureConfig struct {
	File     string   `json:"file" yaml:"file"`
	Encoding string   `json:"encoding" yaml:"encoding"`
	Skip     []string `json:"skip" yaml:"skip"`
}

// ListenConfig holds the TCP listener settings.
type ListenConfig struct {
	Host             string        `json:"host" yaml:"host"`
	Port             int           `json:"port" yaml:"port"`
	AuthKey          string        `json:"auth_key" yaml:"auth_key"` // empty disables the handshake
	HandshakeTimeout time.Duration `json:"handshake_timeout" yaml:"handshake_timeout"`
}

// Addr returns host:port.
func (l ListenConfig) Addr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// HTTPConfig holds the optional HTTP/WebSocket listener.
type HTTPConfig struct {
	Addr string `json:"addr" yaml:"addr"` // empty disables it
}

// NATSConfig holds the publish target.
type NATSConfig struct {
	URL     string `json:"url" yaml:"url"`
	Subject string `json:"subject" yaml:"subject"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Capture: CaptureConfig{
			Encoding: capture.DefaultEncoding,
			Skip:     append([]string(nil), capture.DefaultSkip...),
		},
		Listen: ListenConfig{
			Host:             "localhost",
			Port:             7070,
			AuthKey:          "secret phrase",
			HandshakeTimeout: transport.DefaultHandshakeTimeout,
		},
		Pacing: replay.DefaultPacing(),
		Log:    logging.Default(),
		Storage: storage.Config{
			Backend: storage.BackendMemory,
			Redis: storage.RedisConfig{
				Host:        "localhost",
				Port:        6379,
				PoolSize:    10,
				MaxRetries:  3,
				DialTimeout: 5 * time.Second,
				KeyPrefix:   "txreplay:",
			},
		},
		Admission: limiter.Config{
			Algorithm: limiter.AlgorithmTokenBucket,
			Window:    time.Minute,
		},
		NATS: NATSConfig{
			URL:     "nats://127.0.0.1:4222",
			Subject: "txreplay.xdf",
		},
	}
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	if _, err := capture.LookupEncoding(c.Capture.Encoding); err != nil {
		return err
	}
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port out of range: %d", c.Listen.Port)
	}
	if c.Listen.HandshakeTimeout < 0 {
		return fmt.Errorf("listen.handshake_timeout must not be negative, got %s", c.Listen.HandshakeTimeout)
	}
	if err := c.Pacing.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.Admission.Validate()
}

// Settings returns the replay settings shared by every session.
func (c Config) Settings() replay.Settings {
	return replay.Settings{
		File:     c.Capture.File,
		Encoding: c.Capture.Encoding,
		Skip:     append([]string(nil), c.Capture.Skip...),
		Pacing:   c.Pacing,
	}
}

// LoadFile reads a YAML config file and merges it with defaults.
// Fields not specified in the file retain their default values.
// JSON files load too, JSON being a subset of YAML.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	// Use a raw intermediate struct to handle duration parsing.
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if raw.Capture.File != "" {
		cfg.Capture.File = raw.Capture.File
	}
	if raw.Capture.Encoding != "" {
		cfg.Capture.Encoding = raw.Capture.Encoding
	}
	if raw.Capture.Skip != nil {
		cfg.Capture.Skip = raw.Capture.Skip
	}

	if raw.Listen.Host != "" {
		cfg.Listen.Host = raw.Listen.Host
	}
	if raw.Listen.Port > 0 {
		cfg.Listen.Port = raw.Listen.Port
	}
	if raw.Listen.AuthKey != nil {
		cfg.Listen.AuthKey = *raw.Listen.AuthKey
	}
	if err := parseDuration(raw.Listen.HandshakeTimeout, "listen.handshake_timeout", &cfg.Listen.HandshakeTimeout); err != nil {
		return cfg, err
	}

	if raw.HTTP.Addr != "" {
		cfg.HTTP.Addr = raw.HTTP.Addr
	}

	if raw.Pacing.Mode != "" {
		cfg.Pacing.Mode = replay.PacingMode(raw.Pacing.Mode)
	}
	if err := parseDuration(raw.Pacing.Delay, "pacing.delay", &cfg.Pacing.Delay); err != nil {
		return cfg, err
	}
	if raw.Pacing.Speed != nil {
		cfg.Pacing.Speed = *raw.Pacing.Speed
	}

	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}
	if raw.Log.Format != "" {
		cfg.Log.Format = raw.Log.Format
	}

	if raw.Storage.Backend != "" {
		cfg.Storage.Backend = raw.Storage.Backend
	}
	r := raw.Storage.Redis
	if r.Host != "" {
		cfg.Storage.Redis.Host = r.Host
	}
	if r.Port > 0 {
		cfg.Storage.Redis.Port = r.Port
	}
	if r.Password != "" {
		cfg.Storage.Redis.Password = r.Password
	}
	if r.DB > 0 {
		cfg.Storage.Redis.DB = r.DB
	}
	if r.PoolSize > 0 {
		cfg.Storage.Redis.PoolSize = r.PoolSize
	}
	if r.MaxRetries > 0 {
		cfg.Storage.Redis.MaxRetries = r.MaxRetries
	}
	if err := parseDuration(r.DialTimeout, "storage.redis.dial_timeout", &cfg.Storage.Redis.DialTimeout); err != nil {
		return cfg, err
	}
	if r.KeyPrefix != "" {
		cfg.Storage.Redis.KeyPrefix = r.KeyPrefix
	}

	if raw.Admission.Algorithm != "" {
		cfg.Admission.Algorithm = limiter.Algorithm(raw.Admission.Algorithm)
	}
	if raw.Admission.Rate > 0 {
		cfg.Admission.Rate = raw.Admission.Rate
	}
	if err := parseDuration(raw.Admission.Window, "admission.window", &cfg.Admission.Window); err != nil {
		return cfg, err
	}
	if raw.Admission.Burst > 0 {
		cfg.Admission.Burst = raw.Admission.Burst
	}

	if raw.NATS.URL != "" {
		cfg.NATS.URL = raw.NATS.URL
	}
	if raw.NATS.Subject != "" {
		cfg.NATS.Subject = raw.NATS.Subject
	}

	return cfg, nil
}

func parseDuration(s, field string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = d
	return nil
}

// rawConfig is the file representation with string durations.
type rawConfig struct {
	Capture struct {
		File     string   `yaml:"file"`
		Encoding string   `yaml:"encoding"`
		Skip     []string `yaml:"skip"`
	} `yaml:"capture"`
	Listen struct {
		Host             string  `yaml:"host"`
		Port             int     `yaml:"port"`
		AuthKey          *string `yaml:"auth_key"`
		HandshakeTimeout string  `yaml:"handshake_timeout"`
	} `yaml:"listen"`
	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`
	Pacing struct {
		Mode  string   `yaml:"mode"`
		Delay string   `yaml:"delay"`
		Speed *float64 `yaml:"speed"`
	} `yaml:"pacing"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Storage struct {
		Backend string `yaml:"backend"`
		Redis   struct {
			Host        string `yaml:"host"`
			Port        int    `yaml:"port"`
			Password    string `yaml:"password"`
			DB          int    `yaml:"db"`
			PoolSize    int    `yaml:"pool_size"`
			MaxRetries  int    `yaml:"max_retries"`
			DialTimeout string `yaml:"dial_timeout"`
			KeyPrefix   string `yaml:"key_prefix"`
		} `yaml:"redis"`
	} `yaml:"storage"`
	Admission struct {
		Algorithm string `yaml:"algorithm"`
		Rate      int    `yaml:"rate"`
		Window    string `yaml:"window"`
		Burst     int    `yaml:"burst"`
	} `yaml:"admission"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
}

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	example := `capture:
  file: xdf.log
  encoding: windows-1251
  skip: ["<pits>", "<securities>", "<sec_info_upd>"]

listen:
  host: localhost
  port: 7070
  auth_key: secret phrase
  handshake_timeout: 10s

http:
  addr: ""            # e.g. ":8080" to serve /health, /api/stats and /ws

pacing:
  mode: fixed         # fixed | timestamp
  delay: 500ms
  speed: 1            # timestamp mode: 1 = real time, 0 = no wait

log:
  level: debug
  format: text

storage:
  backend: memory     # memory | redis
  redis:
    host: localhost
    port: 6379
    key_prefix: "txreplay:"

admission:
  algorithm: token_bucket
  rate: 0             # sessions per window per host, 0 = unbounded
  window: 1m

nats:
  url: nats://127.0.0.1:4222
  subject: txreplay.xdf
`
	return os.WriteFile(path, []byte(example), 0o644)
}
