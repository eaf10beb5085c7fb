package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the config file
const (
	EnvUDPPort       = "ARENA_UDP_PORT"
	EnvBindAddress   = "ARENA_BIND_ADDRESS"
	EnvHTTPPort      = "ARENA_HTTP_PORT"
	EnvLogLevel      = "ARENA_LOG_LEVEL"
	EnvHighscorePath = "ARENA_HIGHSCORE_PATH"
)

// PlayerPaletteSize is the number of player colours the client ships with.
// Session ids index that palette, so it bounds max_players.
const PlayerPaletteSize = 4

// Wire record sizes used to check that a full snapshot fits in one datagram
const (
	snapshotHeaderSize = 4
	shipRecordSize     = 15
	asteroidRecordSize = 12
)

// Config represents the complete server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Game      GameConfig      `yaml:"game"`
	Asteroids AsteroidsConfig `yaml:"asteroids"`
	Network   NetworkConfig   `yaml:"network"`
	Highscore HighscoreConfig `yaml:"highscore"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains UDP server configuration
type ServerConfig struct {
	UDPPort          int    `yaml:"udp_port" json:"udp_port"`
	BindAddress      string `yaml:"bind_address" json:"bind_address"`
	BufferSize       int    `yaml:"buffer_size" json:"buffer_size"`               // largest datagram in bytes
	IngressQueueSize int    `yaml:"ingress_queue_size" json:"ingress_queue_size"` // datagrams
	MaxPlayers       int    `yaml:"max_players" json:"max_players"`
}

// HTTPConfig contains admin API configuration
type HTTPConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	Address       string `yaml:"address" json:"address"`
	Port          int    `yaml:"port" json:"port"`
	MaxSpectators int    `yaml:"max_spectators" json:"max_spectators"`
}

// GameConfig contains playfield and match tuning
type GameConfig struct {
	TickRate          int     `yaml:"tick_rate" json:"tick_rate"` // Hz
	Width             float32 `yaml:"width" json:"width"`
	Height            float32 `yaml:"height" json:"height"`
	MatchDuration     int     `yaml:"match_duration" json:"match_duration"` // seconds
	StartLives        int     `yaml:"start_lives" json:"start_lives"`
	ShipRadius        float32 `yaml:"ship_radius" json:"ship_radius"`
	BulletRadius      float32 `yaml:"bullet_radius" json:"bullet_radius"`
	SpawnX            float32 `yaml:"spawn_x" json:"spawn_x"`
	SpawnY            float32 `yaml:"spawn_y" json:"spawn_y"`
	SpawnRotation     float32 `yaml:"spawn_rotation" json:"spawn_rotation"` // degrees
	MaxTickDeltaMs    int     `yaml:"max_tick_delta_ms" json:"max_tick_delta_ms"`
	BulletDedupWindow int     `yaml:"bullet_dedup_window" json:"bullet_dedup_window"`
}

// AsteroidsConfig contains asteroid spawning parameters
type AsteroidsConfig struct {
	SpawnIntervalMs int     `yaml:"spawn_interval_ms" json:"spawn_interval_ms"`
	MaxCount        int     `yaml:"max_count" json:"max_count"`
	MinRadius       float32 `yaml:"min_radius" json:"min_radius"`
	MaxRadius       float32 `yaml:"max_radius" json:"max_radius"`
	MinSpeed        float32 `yaml:"min_speed" json:"min_speed"` // units per second
	MaxSpeed        float32 `yaml:"max_speed" json:"max_speed"`
}

// NetworkConfig contains dispatcher, liveness and reliable delivery timing
type NetworkConfig struct {
	DispatchIntervalMs       int     `yaml:"dispatch_interval_ms" json:"dispatch_interval_ms"`
	KeepAliveTimeoutMs       int     `yaml:"keepalive_timeout_ms" json:"keepalive_timeout_ms"`
	KeepAliveSweepIntervalMs int     `yaml:"keepalive_sweep_interval_ms" json:"keepalive_sweep_interval_ms"`
	RetryIntervalMs          int     `yaml:"retry_interval_ms" json:"retry_interval_ms"`
	DisconnectTimeoutMs      int     `yaml:"disconnect_timeout_ms" json:"disconnect_timeout_ms"`
	MaxPendingTasks          int     `yaml:"max_pending_tasks" json:"max_pending_tasks"`
	MaxConcurrentTasks       int     `yaml:"max_concurrent_tasks" json:"max_concurrent_tasks"`
	JoinRatePerSecond        float64 `yaml:"join_rate_per_second" json:"join_rate_per_second"`
	JoinBurst                int     `yaml:"join_burst" json:"join_burst"`
}

// HighscoreConfig contains leaderboard persistence settings
type HighscoreConfig struct {
	Backend string `yaml:"backend" json:"backend"` // file or sqlite
	Path    string `yaml:"path" json:"path"`
	Limit   int    `yaml:"limit" json:"limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns the configuration used for any value the file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			UDPPort:          4444,
			BindAddress:      "0.0.0.0",
			BufferSize:       1000,
			IngressQueueSize: 100,
			MaxPlayers:       4,
		},
		HTTP: HTTPConfig{
			Enabled:       true,
			Address:       "127.0.0.1",
			Port:          8080,
			MaxSpectators: 16,
		},
		Game: GameConfig{
			TickRate:          120,
			Width:             1600,
			Height:            900,
			MatchDuration:     60,
			StartLives:        3,
			ShipRadius:        5,
			BulletRadius:      2,
			SpawnX:            800,
			SpawnY:            450,
			SpawnRotation:     0,
			MaxTickDeltaMs:    100,
			BulletDedupWindow: 1024,
		},
		Asteroids: AsteroidsConfig{
			SpawnIntervalMs: 1000,
			MaxCount:        20,
			MinRadius:       5,
			MaxRadius:       20,
			MinSpeed:        80,
			MaxSpeed:        80,
		},
		Network: NetworkConfig{
			DispatchIntervalMs:       5,
			KeepAliveTimeoutMs:       5000,
			KeepAliveSweepIntervalMs: 1000,
			RetryIntervalMs:          200,
			DisconnectTimeoutMs:      15000,
			MaxPendingTasks:          64,
			MaxConcurrentTasks:       16,
			JoinRatePerSecond:        2,
			JoinBurst:                5,
		},
		Highscore: HighscoreConfig{
			Backend: "file",
			Path:    "highscores.csv",
			Limit:   5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides (including a .env file next to the config or in the working
// directory) and validates the result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// loadDotEnv loads every .env file that exists. Variables already set in the
// process environment win.
func loadDotEnv(paths ...string) error {
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if _, err := os.Stat(abs); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", abs, err)
		}
	}
	return nil
}

// ApplyEnv overrides config values from ARENA_* environment variables
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvUDPPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got '%s'", EnvUDPPort, v)
		}
		c.Server.UDPPort = port
	}

	if v, ok := os.LookupEnv(EnvBindAddress); ok {
		c.Server.BindAddress = v
	}

	if v, ok := os.LookupEnv(EnvHTTPPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer, got '%s'", EnvHTTPPort, v)
		}
		c.HTTP.Port = port
	}

	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Logging.Level = v
	}

	if v, ok := os.LookupEnv(EnvHighscorePath); ok {
		c.Highscore.Path = v
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Game.Validate(); err != nil {
		return fmt.Errorf("game config: %w", err)
	}

	if err := c.Asteroids.Validate(); err != nil {
		return fmt.Errorf("asteroids config: %w", err)
	}

	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}

	if err := c.Highscore.Validate(); err != nil {
		return fmt.Errorf("highscore config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	// ships and asteroids are never trimmed from a snapshot
	minSnapshot := snapshotHeaderSize + c.Server.MaxPlayers*shipRecordSize + c.Asteroids.MaxCount*asteroidRecordSize
	if minSnapshot > c.Server.BufferSize {
		return fmt.Errorf("buffer_size %d cannot hold %d ships and %d asteroids (%d bytes)",
			c.Server.BufferSize, c.Server.MaxPlayers, c.Asteroids.MaxCount, minSnapshot)
	}

	if c.Game.SpawnX < 0 || c.Game.SpawnX > c.Game.Width || c.Game.SpawnY < 0 || c.Game.SpawnY > c.Game.Height {
		return fmt.Errorf("spawn point (%.1f, %.1f) is outside the %.0fx%.0f playfield",
			c.Game.SpawnX, c.Game.SpawnY, c.Game.Width, c.Game.Height)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 64 || s.BufferSize > 65507 {
		return fmt.Errorf("buffer_size must be between 64 and 65507 bytes, got %d", s.BufferSize)
	}

	if s.IngressQueueSize < 1 {
		return fmt.Errorf("ingress_queue_size must be at least 1, got %d", s.IngressQueueSize)
	}

	if s.MaxPlayers < 1 || s.MaxPlayers > PlayerPaletteSize {
		return fmt.Errorf("max_players must be between 1 and %d, got %d", PlayerPaletteSize, s.MaxPlayers)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.MaxSpectators < 0 {
		return fmt.Errorf("max_spectators cannot be negative, got %d", h.MaxSpectators)
	}

	return nil
}

// Validate validates game configuration
func (g *GameConfig) Validate() error {
	if g.TickRate < 1 || g.TickRate > 1000 {
		return fmt.Errorf("tick_rate must be between 1 and 1000 Hz, got %d", g.TickRate)
	}

	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("width and height must be positive, got %.1fx%.1f", g.Width, g.Height)
	}

	if g.MatchDuration < 1 {
		return fmt.Errorf("match_duration must be at least 1 second, got %d", g.MatchDuration)
	}

	if g.StartLives < 1 || g.StartLives > 255 {
		return fmt.Errorf("start_lives must be between 1 and 255, got %d", g.StartLives)
	}

	if g.ShipRadius <= 0 {
		return fmt.Errorf("ship_radius must be positive, got %f", g.ShipRadius)
	}

	if g.BulletRadius <= 0 {
		return fmt.Errorf("bullet_radius must be positive, got %f", g.BulletRadius)
	}

	if g.MaxTickDeltaMs < 1 {
		return fmt.Errorf("max_tick_delta_ms must be at least 1, got %d", g.MaxTickDeltaMs)
	}

	if g.BulletDedupWindow < 1 {
		return fmt.Errorf("bullet_dedup_window must be at least 1, got %d", g.BulletDedupWindow)
	}

	return nil
}

// Validate validates asteroid configuration
func (a *AsteroidsConfig) Validate() error {
	if a.SpawnIntervalMs < 1 {
		return fmt.Errorf("spawn_interval_ms must be at least 1, got %d", a.SpawnIntervalMs)
	}

	if a.MaxCount < 0 || a.MaxCount > 255 {
		return fmt.Errorf("max_count must be between 0 and 255, got %d", a.MaxCount)
	}

	if a.MinRadius <= 0 {
		return fmt.Errorf("min_radius must be positive, got %f", a.MinRadius)
	}

	if a.MaxRadius < a.MinRadius {
		return fmt.Errorf("max_radius (%f) must not be less than min_radius (%f)", a.MaxRadius, a.MinRadius)
	}

	if a.MinSpeed < 0 {
		return fmt.Errorf("min_speed cannot be negative, got %f", a.MinSpeed)
	}

	if a.MaxSpeed < a.MinSpeed {
		return fmt.Errorf("max_speed (%f) must not be less than min_speed (%f)", a.MaxSpeed, a.MinSpeed)
	}

	return nil
}

// Validate validates network timing configuration
func (n *NetworkConfig) Validate() error {
	if n.DispatchIntervalMs < 1 {
		return fmt.Errorf("dispatch_interval_ms must be at least 1, got %d", n.DispatchIntervalMs)
	}

	if n.KeepAliveTimeoutMs < 1 {
		return fmt.Errorf("keepalive_timeout_ms must be at least 1, got %d", n.KeepAliveTimeoutMs)
	}

	if n.KeepAliveSweepIntervalMs < 1 {
		return fmt.Errorf("keepalive_sweep_interval_ms must be at least 1, got %d", n.KeepAliveSweepIntervalMs)
	}

	if n.RetryIntervalMs < 1 {
		return fmt.Errorf("retry_interval_ms must be at least 1, got %d", n.RetryIntervalMs)
	}

	if n.DisconnectTimeoutMs <= n.RetryIntervalMs {
		return fmt.Errorf("disconnect_timeout_ms (%d) must be greater than retry_interval_ms (%d)",
			n.DisconnectTimeoutMs, n.RetryIntervalMs)
	}

	if n.MaxPendingTasks < 1 {
		return fmt.Errorf("max_pending_tasks must be at least 1, got %d", n.MaxPendingTasks)
	}

	if n.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be at least 1, got %d", n.MaxConcurrentTasks)
	}

	if n.JoinRatePerSecond <= 0 {
		return fmt.Errorf("join_rate_per_second must be positive, got %f", n.JoinRatePerSecond)
	}

	if n.JoinBurst < 1 {
		return fmt.Errorf("join_burst must be at least 1, got %d", n.JoinBurst)
	}

	return nil
}

// Validate validates highscore configuration
func (h *HighscoreConfig) Validate() error {
	validBackends := map[string]bool{"file": true, "sqlite": true}
	if !validBackends[h.Backend] {
		return fmt.Errorf("backend must be 'file' or 'sqlite', got '%s'", h.Backend)
	}

	if h.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if h.Limit < 1 || h.Limit > 255 {
		return fmt.Errorf("limit must be between 1 and 255, got %d", h.Limit)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// anything other than stdout/stderr is a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetTickInterval returns the time between simulation ticks
func (g *GameConfig) GetTickInterval() time.Duration {
	return time.Second / time.Duration(g.TickRate)
}

// GetMatchDuration returns the match length as a time.Duration
func (g *GameConfig) GetMatchDuration() time.Duration {
	return time.Duration(g.MatchDuration) * time.Second
}

// GetMaxTickDelta returns the longest step a single tick may simulate
func (g *GameConfig) GetMaxTickDelta() time.Duration {
	return time.Duration(g.MaxTickDeltaMs) * time.Millisecond
}

// GetSpawnInterval returns the asteroid spawn cadence
func (a *AsteroidsConfig) GetSpawnInterval() time.Duration {
	return time.Duration(a.SpawnIntervalMs) * time.Millisecond
}

// GetDispatchInterval returns how often the dispatcher drains the ingress queue
func (n *NetworkConfig) GetDispatchInterval() time.Duration {
	return time.Duration(n.DispatchIntervalMs) * time.Millisecond
}

// GetKeepAliveTimeout returns how long a session may stay silent
func (n *NetworkConfig) GetKeepAliveTimeout() time.Duration {
	return time.Duration(n.KeepAliveTimeoutMs) * time.Millisecond
}

// GetKeepAliveSweepInterval returns how often silent sessions are swept
func (n *NetworkConfig) GetKeepAliveSweepInterval() time.Duration {
	return time.Duration(n.KeepAliveSweepIntervalMs) * time.Millisecond
}

// GetRetryInterval returns the reliable retransmission interval
func (n *NetworkConfig) GetRetryInterval() time.Duration {
	return time.Duration(n.RetryIntervalMs) * time.Millisecond
}

// GetDisconnectTimeout returns how long a reliable delivery waits before evicting
func (n *NetworkConfig) GetDisconnectTimeout() time.Duration {
	return time.Duration(n.DisconnectTimeoutMs) * time.Millisecond
}
