package config

import (
	"fmt"
	"time"

	"github.com/HMasataka/chatrelay/internal/logging"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server" envPrefix:"SERVER_"`
	WebSocket WebSocketConfig `json:"websocket" yaml:"websocket" envPrefix:"WS_"`
	Logging   logging.Config  `json:"logging" yaml:"logging" envPrefix:"LOG_"`
	Admin     AdminConfig     `json:"admin" yaml:"admin" envPrefix:"ADMIN_"`
	Store     StoreConfig     `json:"store" yaml:"store" envPrefix:"STORE_"`
	Redis     RedisConfig     `json:"redis" yaml:"redis" envPrefix:"REDIS_"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host" yaml:"host" env:"HOST"`
	Port            int           `json:"port" yaml:"port" env:"PORT"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WebSocketConfig holds per-connection transport settings.
type WebSocketConfig struct {
	ReadBufferSize  int           `json:"read_buffer_size" yaml:"read_buffer_size" env:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `json:"write_buffer_size" yaml:"write_buffer_size" env:"WRITE_BUFFER_SIZE"`
	MaxMessageSize  int64         `json:"max_message_size" yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	SendQueueSize   int           `json:"send_queue_size" yaml:"send_queue_size" env:"SEND_QUEUE_SIZE"`
	PingInterval    time.Duration `json:"ping_interval" yaml:"ping_interval" env:"PING_INTERVAL"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	AllowedOrigins  []string      `json:"allowed_origins" yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// AdminConfig configures the moderation API. It is disabled while Secret is empty.
type AdminConfig struct {
	Email  string `json:"email" yaml:"email" env:"EMAIL"`
	Secret string `json:"secret" yaml:"secret" env:"SECRET"`
}

// Enabled reports whether the admin routes should be mounted.
func (a AdminConfig) Enabled() bool {
	return a.Secret != ""
}

// StoreConfig selects the message store.
type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver" env:"DRIVER"`
	// History caps how many messages the memory driver keeps.
	History int         `json:"history" yaml:"history" env:"HISTORY"`
	Mongo   MongoConfig `json:"mongo" yaml:"mongo" envPrefix:"MONGO_"`
}

// MongoConfig represents the MongoDB configuration.
type MongoConfig struct {
	URI            string        `json:"uri" yaml:"uri" env:"URI"`
	Database       string        `json:"database" yaml:"database" env:"DATABASE"`
	MaxPoolSize    uint64        `json:"max_pool_size" yaml:"max_pool_size" env:"MAX_POOL_SIZE"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// RedisConfig configures the presence mirror. It is disabled while Addr is empty.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr" env:"ADDR"`
	Password string        `json:"password" yaml:"password" env:"PASSWORD"`
	DB       int           `json:"db" yaml:"db" env:"DB"`
	Prefix   string        `json:"prefix" yaml:"prefix" env:"PREFIX"`
	TTL      time.Duration `json:"ttl" yaml:"ttl" env:"TTL"`
}

// Enabled reports whether the presence mirror should run.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

const (
	StoreDriverMemory = "memory"
	StoreDriverMongo  = "mongo"
)

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            3000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			MaxMessageSize:  512 * 1024,
			SendQueueSize:   256,
			PingInterval:    30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Driver:  StoreDriverMemory,
			History: 1000,
			Mongo: MongoConfig{
				Database:       "chat",
				MaxPoolSize:    100,
				ConnectTimeout: 5 * time.Second,
			},
		},
		Redis: RedisConfig{
			Prefix: "chat:presence:",
			TTL:    5 * time.Minute,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return NewConfigError("server.port", "invalid port number")
	}

	if c.Server.ReadTimeout < 0 {
		return NewConfigError("server.read_timeout", "timeout cannot be negative")
	}

	if c.Server.WriteTimeout < 0 {
		return NewConfigError("server.write_timeout", "timeout cannot be negative")
	}

	if c.WebSocket.SendQueueSize <= 0 {
		return NewConfigError("websocket.send_queue_size", "must be positive")
	}

	if c.WebSocket.MaxMessageSize <= 0 {
		return NewConfigError("websocket.max_message_size", "must be positive")
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return NewConfigError("websocket.ping_interval", "must be positive and shorter than read_timeout")
	}

	switch c.Store.Driver {
	case StoreDriverMemory:
		if c.Store.History < 0 {
			return NewConfigError("store.history", "cannot be negative")
		}
	case StoreDriverMongo:
		if c.Store.Mongo.URI == "" {
			return NewConfigError("store.mongo.uri", "required for the mongo driver")
		}
		if c.Store.Mongo.Database == "" {
			return NewConfigError("store.mongo.database", "required for the mongo driver")
		}
	default:
		return NewConfigError("store.driver", fmt.Sprintf("unknown driver %q", c.Store.Driver))
	}

	if c.Admin.Enabled() && c.Admin.Email == "" {
		return NewConfigError("admin.email", "required when admin.secret is set")
	}

	if c.Redis.Enabled() && c.Redis.TTL < 0 {
		return NewConfigError("redis.ttl", "ttl cannot be negative")
	}

	return nil
}
