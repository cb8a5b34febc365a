package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"liveroom/internal/engine"
	"liveroom/internal/pacer"
	"liveroom/internal/poller"
	dbconfig "liveroom/pkg/database"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LIVEROOM_"

// Config is the server and client configuration
// ARCHITECTURAL DISCOVERY: one struct feeds both the store server and the
// engine cadence so a deployment tunes everything from one file
type Config struct {
	Database  *DatabaseConfig
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Redis     *RedisConfig
	Sync      *SyncConfig
	Display   *DisplayConfig
	Send      *SendConfig
	Log       *LogConfig
}

type DatabaseConfig struct {
	Path            string
	MaxConnections  int
	WriteTimeout    time.Duration
	WriteRetryDelay time.Duration
}

// HTTPConfig also carries the per-user write budget of the API.
type HTTPConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	WritesPerMinute    int
	RateLimiterCleanup time.Duration
}

type WebSocketConfig struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// RedisConfig enables cross-instance change fan-out when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Enabled reports whether a redis address was configured.
func (r *RedisConfig) Enabled() bool {
	return r != nil && r.Addr != ""
}

type SyncConfig struct {
	ActiveInterval time.Duration
	IdleInterval   time.Duration
	HiddenInterval time.Duration
	ActivityWindow time.Duration
	PageSize       int
	FetchTimeout   time.Duration
}

type DisplayConfig struct {
	ChunkSize     int
	FrameInterval time.Duration
}

type SendConfig struct {
	Debounce time.Duration
}

type LogConfig struct {
	Mode  string
	Level string
}

// DefaultConfig mirrors the engine defaults: 3s/10s/60s polling, 3 messages
// per 16ms frame, 500ms send debounce.
func DefaultConfig() *Config {
	db := dbconfig.DefaultConfig()
	sync := poller.DefaultConfig()
	display := pacer.DefaultConfig()
	return &Config{
		Database: &DatabaseConfig{
			Path:            db.DatabasePath,
			MaxConnections:  db.MaxConnections,
			WriteTimeout:    db.WriteTimeout,
			WriteRetryDelay: db.WriteRetryDelay,
		},
		HTTP: &HTTPConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeout:        30 * time.Second,
			WriteTimeout:       30 * time.Second,
			WritesPerMinute:    100,
			RateLimiterCleanup: 5 * time.Minute,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Redis: &RedisConfig{
			Channel: "liveroom:changes",
		},
		Sync: &SyncConfig{
			ActiveInterval: sync.ActiveInterval,
			IdleInterval:   sync.IdleInterval,
			HiddenInterval: sync.HiddenInterval,
			ActivityWindow: sync.ActivityWindow,
			PageSize:       sync.PageSize,
			FetchTimeout:   sync.FetchTimeout,
		},
		Display: &DisplayConfig{
			ChunkSize:     display.ChunkSize,
			FrameInterval: display.FrameInterval,
		},
		Send: &SendConfig{
			Debounce: engine.DefaultConfig().SendDebounce,
		},
		Log: &LogConfig{
			Mode:  "prod",
			Level: "info",
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil || c.HTTP == nil || c.WebSocket == nil || c.Redis == nil ||
		c.Sync == nil || c.Display == nil || c.Send == nil || c.Log == nil {
		return fmt.Errorf("every configuration section is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}
	if c.Database.WriteTimeout <= 0 {
		return fmt.Errorf("database write timeout must be positive")
	}
	if c.Database.WriteRetryDelay < 0 {
		return fmt.Errorf("database write retry delay cannot be negative")
	}

	// 0 asks the kernel for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.WritesPerMinute <= 0 {
		return fmt.Errorf("HTTP writes per minute must be positive")
	}
	if c.HTTP.RateLimiterCleanup <= 0 {
		return fmt.Errorf("HTTP rate limiter cleanup must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Redis.Enabled() && c.Redis.Channel == "" {
		return fmt.Errorf("redis channel cannot be empty")
	}

	if c.Sync.ActiveInterval <= 0 || c.Sync.IdleInterval <= 0 || c.Sync.HiddenInterval <= 0 {
		return fmt.Errorf("sync intervals must be positive")
	}
	if c.Sync.ActivityWindow <= 0 {
		return fmt.Errorf("sync activity window must be positive")
	}
	if c.Sync.PageSize <= 0 || c.Sync.PageSize > 200 {
		return fmt.Errorf("sync page size must be between 1 and 200")
	}
	if c.Sync.FetchTimeout < 0 {
		return fmt.Errorf("sync fetch timeout cannot be negative")
	}

	if c.Display.ChunkSize <= 0 {
		return fmt.Errorf("display chunk size must be positive")
	}
	if c.Display.FrameInterval <= 0 {
		return fmt.Errorf("display frame interval must be positive")
	}
	if c.Send.Debounce <= 0 {
		return fmt.Errorf("send debounce must be positive")
	}

	switch c.Log.Mode {
	case "dev", "prod":
	default:
		return fmt.Errorf("log mode must be dev or prod")
	}
	return nil
}

// DatabaseSettings converts the database section for pkg/database.
func (c *Config) DatabaseSettings() *dbconfig.Config {
	db := dbconfig.DefaultConfig()
	db.DatabasePath = c.Database.Path
	db.MaxConnections = c.Database.MaxConnections
	db.WriteTimeout = c.Database.WriteTimeout
	db.WriteRetryDelay = c.Database.WriteRetryDelay
	return db
}

// EngineSettings converts the sync, display and send sections for the engine.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		Sync: poller.Config{
			ActiveInterval: c.Sync.ActiveInterval,
			IdleInterval:   c.Sync.IdleInterval,
			HiddenInterval: c.Sync.HiddenInterval,
			ActivityWindow: c.Sync.ActivityWindow,
			PageSize:       c.Sync.PageSize,
			FetchTimeout:   c.Sync.FetchTimeout,
		},
		Display: pacer.Config{
			ChunkSize:     c.Display.ChunkSize,
			FrameInterval: c.Display.FrameInterval,
		},
		SendDebounce: c.Send.Debounce,
	}
}

// Address is host:port for the HTTP listener.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv applies LIVEROOM_* overrides on top of the defaults.
// Unparseable values are reported rather than ignored.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func applyEnv(c *Config) error {
	e := envReader{}

	e.str("DATABASE_PATH", &c.Database.Path)
	e.num("DATABASE_MAX_CONNECTIONS", &c.Database.MaxConnections)
	e.duration("DATABASE_WRITE_TIMEOUT", &c.Database.WriteTimeout)
	e.duration("DATABASE_WRITE_RETRY_DELAY", &c.Database.WriteRetryDelay)

	e.str("HTTP_HOST", &c.HTTP.Host)
	e.num("HTTP_PORT", &c.HTTP.Port)
	e.duration("HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout)
	e.duration("HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout)
	e.num("HTTP_WRITES_PER_MINUTE", &c.HTTP.WritesPerMinute)

	e.duration("WEBSOCKET_PING_INTERVAL", &c.WebSocket.PingInterval)
	e.duration("WEBSOCKET_READ_TIMEOUT", &c.WebSocket.ReadTimeout)
	e.duration("WEBSOCKET_WRITE_TIMEOUT", &c.WebSocket.WriteTimeout)
	e.num("WEBSOCKET_BUFFER_SIZE", &c.WebSocket.BufferSize)

	e.str("REDIS_ADDR", &c.Redis.Addr)
	e.str("REDIS_PASSWORD", &c.Redis.Password)
	e.num("REDIS_DB", &c.Redis.DB)
	e.str("REDIS_CHANNEL", &c.Redis.Channel)

	e.duration("SYNC_ACTIVE_INTERVAL", &c.Sync.ActiveInterval)
	e.duration("SYNC_IDLE_INTERVAL", &c.Sync.IdleInterval)
	e.duration("SYNC_HIDDEN_INTERVAL", &c.Sync.HiddenInterval)
	e.duration("SYNC_ACTIVITY_WINDOW", &c.Sync.ActivityWindow)
	e.num("SYNC_PAGE_SIZE", &c.Sync.PageSize)

	e.num("DISPLAY_CHUNK_SIZE", &c.Display.ChunkSize)
	e.duration("DISPLAY_FRAME_INTERVAL", &c.Display.FrameInterval)
	e.duration("SEND_DEBOUNCE", &c.Send.Debounce)

	e.str("LOG_MODE", &c.Log.Mode)
	e.str("LOG_LEVEL", &c.Log.Level)

	return e.err
}

// envReader records the first parse failure and skips the rest.
type envReader struct {
	err error
}

func (e *envReader) lookup(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := os.LookupEnv(EnvPrefix + key)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) num(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.err = fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
			return
		}
		*dst = d
	}
}

// ConfigFile is the on-disk shape
// FUNCTIONAL DISCOVERY: durations are written as strings ("3s", "16ms") in
// both JSON and YAML, so the file shape keeps them as strings
type ConfigFile struct {
	Database *struct {
		Path            string `json:"path" yaml:"path"`
		MaxConnections  int    `json:"max_connections" yaml:"max_connections"`
		WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
		WriteRetryDelay string `json:"write_retry_delay" yaml:"write_retry_delay"`
	} `json:"database" yaml:"database"`
	HTTP *struct {
		Host            string `json:"host" yaml:"host"`
		Port            int    `json:"port" yaml:"port"`
		ReadTimeout     string `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
		WritesPerMinute int    `json:"writes_per_minute" yaml:"writes_per_minute"`
	} `json:"http" yaml:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval" yaml:"ping_interval"`
		ReadTimeout  string `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout string `json:"write_timeout" yaml:"write_timeout"`
		BufferSize   int    `json:"buffer_size" yaml:"buffer_size"`
	} `json:"websocket" yaml:"websocket"`
	Redis *struct {
		Addr     string `json:"addr" yaml:"addr"`
		Password string `json:"password" yaml:"password"`
		DB       int    `json:"db" yaml:"db"`
		Channel  string `json:"channel" yaml:"channel"`
	} `json:"redis" yaml:"redis"`
	Sync *struct {
		ActiveInterval string `json:"active_interval" yaml:"active_interval"`
		IdleInterval   string `json:"idle_interval" yaml:"idle_interval"`
		HiddenInterval string `json:"hidden_interval" yaml:"hidden_interval"`
		ActivityWindow string `json:"activity_window" yaml:"activity_window"`
		PageSize       int    `json:"page_size" yaml:"page_size"`
	} `json:"sync" yaml:"sync"`
	Display *struct {
		ChunkSize     int    `json:"chunk_size" yaml:"chunk_size"`
		FrameInterval string `json:"frame_interval" yaml:"frame_interval"`
	} `json:"display" yaml:"display"`
	Send *struct {
		Debounce string `json:"debounce" yaml:"debounce"`
	} `json:"send" yaml:"send"`
	Log *struct {
		Mode  string `json:"mode" yaml:"mode"`
		Level string `json:"level" yaml:"level"`
	} `json:"log" yaml:"log"`
}

// LoadFromFile reads a .json, .yaml or .yml file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &file)
	case ".json":
		err = json.Unmarshal(data, &file)
	default:
		return fmt.Errorf("unsupported config file extension %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	f := fileMerger{}
	if d := file.Database; d != nil {
		f.str(d.Path, &c.Database.Path)
		f.num(d.MaxConnections, &c.Database.MaxConnections)
		f.duration("database.write_timeout", d.WriteTimeout, &c.Database.WriteTimeout)
		f.duration("database.write_retry_delay", d.WriteRetryDelay, &c.Database.WriteRetryDelay)
	}
	if h := file.HTTP; h != nil {
		f.str(h.Host, &c.HTTP.Host)
		f.num(h.Port, &c.HTTP.Port)
		f.duration("http.read_timeout", h.ReadTimeout, &c.HTTP.ReadTimeout)
		f.duration("http.write_timeout", h.WriteTimeout, &c.HTTP.WriteTimeout)
		f.num(h.WritesPerMinute, &c.HTTP.WritesPerMinute)
	}
	if w := file.WebSocket; w != nil {
		f.duration("websocket.ping_interval", w.PingInterval, &c.WebSocket.PingInterval)
		f.duration("websocket.read_timeout", w.ReadTimeout, &c.WebSocket.ReadTimeout)
		f.duration("websocket.write_timeout", w.WriteTimeout, &c.WebSocket.WriteTimeout)
		f.num(w.BufferSize, &c.WebSocket.BufferSize)
	}
	if r := file.Redis; r != nil {
		f.str(r.Addr, &c.Redis.Addr)
		f.str(r.Password, &c.Redis.Password)
		f.num(r.DB, &c.Redis.DB)
		f.str(r.Channel, &c.Redis.Channel)
	}
	if s := file.Sync; s != nil {
		f.duration("sync.active_interval", s.ActiveInterval, &c.Sync.ActiveInterval)
		f.duration("sync.idle_interval", s.IdleInterval, &c.Sync.IdleInterval)
		f.duration("sync.hidden_interval", s.HiddenInterval, &c.Sync.HiddenInterval)
		f.duration("sync.activity_window", s.ActivityWindow, &c.Sync.ActivityWindow)
		f.num(s.PageSize, &c.Sync.PageSize)
	}
	if d := file.Display; d != nil {
		f.num(d.ChunkSize, &c.Display.ChunkSize)
		f.duration("display.frame_interval", d.FrameInterval, &c.Display.FrameInterval)
	}
	if s := file.Send; s != nil {
		f.duration("send.debounce", s.Debounce, &c.Send.Debounce)
	}
	if l := file.Log; l != nil {
		f.str(l.Mode, &c.Log.Mode)
		f.str(l.Level, &c.Log.Level)
	}
	if f.err != nil {
		return fmt.Errorf("invalid value in %s: %w", path, f.err)
	}
	return nil
}

// fileMerger only overwrites fields the file actually sets.
type fileMerger struct {
	err error
}

func (f *fileMerger) str(v string, dst *string) {
	if v != "" {
		*dst = v
	}
}

func (f *fileMerger) num(v int, dst *int) {
	if v != 0 {
		*dst = v
	}
}

func (f *fileMerger) duration(name, v string, dst *time.Duration) {
	if v == "" || f.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		f.err = fmt.Errorf("%s: %w", name, err)
		return
	}
	*dst = d
}

// LoadConfigWithPrecedence layers defaults < environment < file. An empty
// path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
