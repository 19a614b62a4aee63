package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/txreplay/internal/config"
	"github.com/SmitUplenchwar2687/txreplay/internal/replay"
	"github.com/SmitUplenchwar2687/txreplay/internal/storage"
)

// runOptions are the flags shared by every command that replays a capture.
type runOptions struct {
	configPath string
	file       string
	encoding   string
	skip       []string
	pacing     string
	delay      time.Duration
	speed      float64
	logLevel   string
	logFormat  string
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().StringVar(&o.configPath, "config", "", "path to YAML or JSON config file")
	cmd.Flags().StringVar(&o.file, "file", "", "capture file to replay")
	cmd.Flags().StringVar(&o.encoding, "encoding", def.Capture.Encoding, "capture file encoding (IANA name)")
	cmd.Flags().StringSliceVar(&o.skip, "skip", def.Capture.Skip, "payload prefixes never delivered")
	cmd.Flags().StringVar(&o.pacing, "pacing", string(def.Pacing.Mode), "pacing mode (fixed, timestamp)")
	cmd.Flags().DurationVar(&o.delay, "delay", def.Pacing.Delay, "wait before each delivery (fixed pacing)")
	cmd.Flags().Float64Var(&o.speed, "speed", def.Pacing.Speed, "timestamp pacing speed (0=instant, 1=real-time, 10=10x)")
	cmd.Flags().StringVar(&o.logLevel, "log-level", def.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&o.logFormat, "log-format", def.Log.Format, "log format (text, json)")
}

// load reads the config file, if any, and applies explicitly set flags on top.
func (o *runOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		var err error
		cfg, err = config.LoadFile(o.configPath)
		if err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("file") {
		cfg.Capture.File = o.file
	}
	if flags.Changed("encoding") {
		cfg.Capture.Encoding = o.encoding
	}
	if flags.Changed("skip") {
		cfg.Capture.Skip = o.skip
	}
	if flags.Changed("pacing") {
		cfg.Pacing.Mode = replay.PacingMode(o.pacing)
	}
	if flags.Changed("delay") {
		cfg.Pacing.Delay = o.delay
	}
	if flags.Changed("speed") {
		cfg.Pacing.Speed = o.speed
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}

	if cfg.Capture.File == "" {
		return cfg, fmt.Errorf("--file is required (or capture.file in --config)")
	}
	return cfg, nil
}

type storageOptions struct {
	backend       string
	redisHost     string
	redisPort     int
	redisPassword string
	redisDB       int
	redisPrefix   string
}

func (o *storageOptions) addFlags(cmd *cobra.Command) {
	def := config.Default().Storage
	cmd.Flags().StringVar(&o.backend, "storage", def.Backend, "statistics backend (memory, redis)")
	cmd.Flags().StringVar(&o.redisHost, "redis-host", def.Redis.Host, "redis host (or host:port)")
	cmd.Flags().IntVar(&o.redisPort, "redis-port", def.Redis.Port, "redis port")
	cmd.Flags().StringVar(&o.redisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&o.redisDB, "redis-db", 0, "redis database index")
	cmd.Flags().StringVar(&o.redisPrefix, "redis-key-prefix", def.Redis.KeyPrefix, "prefix for every redis key")
}

// apply overrides cfg with explicitly set flags.
func (o *storageOptions) apply(cmd *cobra.Command, cfg *storage.Config) error {
	flags := cmd.Flags()
	if flags.Changed("storage") {
		cfg.Backend = o.backend
	}
	if flags.Changed("redis-host") {
		cfg.Redis.Host = o.redisHost
	}
	if flags.Changed("redis-port") {
		cfg.Redis.Port = o.redisPort
	}
	if flags.Changed("redis-password") {
		cfg.Redis.Password = o.redisPassword
	}
	if flags.Changed("redis-db") {
		cfg.Redis.DB = o.redisDB
	}
	if flags.Changed("redis-key-prefix") {
		cfg.Redis.KeyPrefix = o.redisPrefix
	}

	host, port, err := normalizeRedisHostPort(cfg.Redis.Host, cfg.Redis.Port)
	if err != nil {
		return err
	}
	cfg.Redis.Host = host
	cfg.Redis.Port = port
	return nil
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}
