// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig defines the parameters for per-connection frame rate
// limiting. A zero Burst disables limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// LogConfig selects the log level and output format ("json" or "console").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the server configuration settings.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// AdminAddr is where health, room listing, metrics and the live room
	// feed are served. Empty disables the admin surface.
	AdminAddr string `yaml:"admin_addr"`

	MaxRooms          int           `yaml:"max_rooms"`
	InboxSize         int           `yaml:"inbox_size"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	PollWindow        time.Duration `yaml:"poll_window"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	MaxRoomNameLength int           `yaml:"max_room_name_length"`
	MaxPayloadSize    uint32        `yaml:"max_payload_size"`
	// MaxQueuedFrames caps a connection's outbound queue. Zero disables it.
	MaxQueuedFrames int `yaml:"max_queued_frames"`
	// IdleRoomTimeout retires a room that has been empty this long. Zero
	// keeps rooms for the lifetime of the process.
	IdleRoomTimeout time.Duration `yaml:"idle_room_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Log            LogConfig       `yaml:"log"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":7000",
		AdminAddr:         ":8080",
		MaxRooms:          16,
		InboxSize:         16,
		TickInterval:      10 * time.Millisecond,
		PollWindow:        time.Millisecond,
		HandshakeTimeout:  10 * time.Second,
		MaxRoomNameLength: 64,
		MaxPayloadSize:    1 << 20,
		MaxQueuedFrames:   1024,
		ShutdownTimeout:   5 * time.Second,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		RateLimit: RateLimitConfig{
			RefillInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// sanitizeConfig replaces unusable values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = def.ListenAddr
	}
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = def.MaxRooms
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.PollWindow <= 0 {
		cfg.PollWindow = def.PollWindow
	}
	if cfg.HandshakeTimeout < 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.MaxRoomNameLength <= 0 {
		cfg.MaxRoomNameLength = def.MaxRoomNameLength
	}
	if cfg.MaxQueuedFrames < 0 {
		cfg.MaxQueuedFrames = 0
	}
	if cfg.IdleRoomTimeout < 0 {
		cfg.IdleRoomTimeout = 0
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.RateLimit.Burst < 0 {
		cfg.RateLimit.Burst = 0
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := NewConfig()
	ApplyEnv(cfg)
	return cfg
}

// LoadConfigFile reads a YAML configuration file on top of the defaults.
// Keys missing from the file keep their default value.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any TLVCHAT_* environment variables that are set.
func ApplyEnv(cfg *Config) {
	if addr, ok := os.LookupEnv("TLVCHAT_LISTEN_ADDR"); ok && addr != "" {
		cfg.ListenAddr = addr
	}

	// An explicitly empty admin address disables the admin surface.
	if addr, ok := os.LookupEnv("TLVCHAT_ADMIN_ADDR"); ok {
		cfg.AdminAddr = addr
	}

	if rooms := os.Getenv("TLVCHAT_MAX_ROOMS"); rooms != "" {
		cfg.MaxRooms = parseIntValue(rooms, cfg.MaxRooms)
	}

	if tick := os.Getenv("TLVCHAT_TICK_INTERVAL"); tick != "" {
		cfg.TickInterval = parseDuration(tick, cfg.TickInterval)
	}

	if timeout := os.Getenv("TLVCHAT_HANDSHAKE_TIMEOUT"); timeout != "" {
		cfg.HandshakeTimeout = parseDuration(timeout, cfg.HandshakeTimeout)
	}

	if idle := os.Getenv("TLVCHAT_IDLE_ROOM_TIMEOUT"); idle != "" {
		cfg.IdleRoomTimeout = parseDuration(idle, cfg.IdleRoomTimeout)
	}

	if maxSize := os.Getenv("TLVCHAT_MAX_PAYLOAD_SIZE"); maxSize != "" {
		cfg.MaxPayloadSize = parseMaxPayloadSize(maxSize, cfg.MaxPayloadSize)
	}

	if queued := os.Getenv("TLVCHAT_MAX_QUEUED_FRAMES"); queued != "" {
		cfg.MaxQueuedFrames = parseIntValue(queued, cfg.MaxQueuedFrames)
	}

	if origins := os.Getenv("TLVCHAT_ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if burst := os.Getenv("TLVCHAT_RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("TLVCHAT_RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if level := os.Getenv("TLVCHAT_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if format := os.Getenv("TLVCHAT_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxPayloadSize(value string, defaultValue uint32) uint32 {
	if size, err := strconv.ParseUint(value, 10, 32); err == nil && size > 0 {
		return uint32(size)
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("250ms") and, like the older
// RATE_LIMIT_REFILL_INTERVAL setting, bare integers meaning seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
