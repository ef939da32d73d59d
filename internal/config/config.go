package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	StoreDriver string
	DBUser      string
	DBPassword  string
	DBHost      string
	DBPort      string
	DBName      string
	DBDSN       string
	BoltPath    string
	SQLitePath  string

	PresenceStore string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	JWTSecret    string
	AuthRequired bool

	// HeartbeatInterval is how often clients are told to send heartbeat;
	// the server only enforces HeartbeatTimeout.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SweepInterval     time.Duration
	PresenceInterest  string
	SendBuffer        int
	AutoDeliver       bool
	MaxBodyLength     int
	// MaxFrameBytes overrides the websocket read limit derived from
	// MaxBodyLength. Zero means derived.
	MaxFrameBytes int64
	HistoryLimit  int
}

// minFrameOverhead leaves room for the send_message envelope around a body
// of MaxBodyLength four-byte characters.
const minFrameOverhead = 512

var defaults = map[string]any{
	"port":               "8081",
	"log_level":          "info",
	"log_format":         "json",
	"store_driver":       "mysql",
	"db_user":            "root",
	"db_password":        "",
	"db_host":            "localhost",
	"db_port":            "",
	"db_name":            "chat_db",
	"db_dsn":             "",
	"bolt_path":          "tickchat.db",
	"sqlite_path":        "tickchat.sqlite",
	"presence_store":     "none",
	"redis_addr":         "localhost:6379",
	"redis_password":     "",
	"redis_db":           0,
	"jwt_secret":         "default-secret-key",
	"auth_required":      true,
	"heartbeat_interval": 20 * time.Second,
	"heartbeat_timeout":  50 * time.Second,
	"sweep_interval":     5 * time.Second,
	"presence_interest":  "viewing",
	"send_buffer":        256,
	"auto_deliver":       false,
	"max_body_length":    4096,
	"max_frame_bytes":    0,
	"history_limit":      50,
}

// LoadConfig reads settings from the environment. CONFIG_FILE may point to
// a YAML file with the same keys in lower case; the environment wins.
func LoadConfig() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:              v.GetString("port"),
		LogLevel:          v.GetString("log_level"),
		LogFormat:         v.GetString("log_format"),
		StoreDriver:       strings.ToLower(v.GetString("store_driver")),
		DBUser:            v.GetString("db_user"),
		DBPassword:        v.GetString("db_password"),
		DBHost:            v.GetString("db_host"),
		DBPort:            v.GetString("db_port"),
		DBName:            v.GetString("db_name"),
		DBDSN:             v.GetString("db_dsn"),
		BoltPath:          v.GetString("bolt_path"),
		SQLitePath:        v.GetString("sqlite_path"),
		PresenceStore:     strings.ToLower(v.GetString("presence_store")),
		RedisAddr:         v.GetString("redis_addr"),
		RedisPassword:     v.GetString("redis_password"),
		RedisDB:           v.GetInt("redis_db"),
		JWTSecret:         v.GetString("jwt_secret"),
		AuthRequired:      v.GetBool("auth_required"),
		HeartbeatInterval: v.GetDuration("heartbeat_interval"),
		HeartbeatTimeout:  v.GetDuration("heartbeat_timeout"),
		SweepInterval:     v.GetDuration("sweep_interval"),
		PresenceInterest:  strings.ToLower(v.GetString("presence_interest")),
		SendBuffer:        v.GetInt("send_buffer"),
		AutoDeliver:       v.GetBool("auto_deliver"),
		MaxBodyLength:     v.GetInt("max_body_length"),
		MaxFrameBytes:     v.GetInt64("max_frame_bytes"),
		HistoryLimit:      v.GetInt("history_limit"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "mysql", "postgres", "sqlite3", "bolt":
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not supported", c.StoreDriver))
	}

	switch c.PresenceStore {
	case "none", "redis":
	case "sql":
		if c.StoreDriver == "bolt" {
			errs = append(errs, errors.New("PRESENCE_STORE=sql needs a SQL STORE_DRIVER"))
		}
	case "bolt":
		if c.StoreDriver != "bolt" {
			errs = append(errs, errors.New("PRESENCE_STORE=bolt needs STORE_DRIVER=bolt"))
		}
	default:
		errs = append(errs, fmt.Errorf("PRESENCE_STORE %q is not supported", c.PresenceStore))
	}

	switch c.PresenceInterest {
	case "viewing", "loaded", "all":
	default:
		errs = append(errs, fmt.Errorf("PRESENCE_INTEREST %q is not supported", c.PresenceInterest))
	}

	if c.HeartbeatInterval <= 0 || c.SweepInterval <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL and SWEEP_INTERVAL must be positive"))
	}
	if c.HeartbeatTimeout < 2*c.HeartbeatInterval {
		errs = append(errs, fmt.Errorf("HEARTBEAT_TIMEOUT %s must be at least twice HEARTBEAT_INTERVAL %s",
			c.HeartbeatTimeout, c.HeartbeatInterval))
	}
	if c.AuthRequired && c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required when AUTH_REQUIRED is set"))
	}
	if c.SendBuffer <= 0 || c.MaxBodyLength <= 0 || c.HistoryLimit <= 0 {
		errs = append(errs, errors.New("SEND_BUFFER, MAX_BODY_LENGTH and HISTORY_LIMIT must be positive"))
	}

	if c.MaxFrameBytes != 0 && c.MaxFrameBytes < int64(4*c.MaxBodyLength)+minFrameOverhead {
		errs = append(errs, fmt.Errorf("MAX_FRAME_BYTES %d cannot fit a body of MAX_BODY_LENGTH %d characters",
			c.MaxFrameBytes, c.MaxBodyLength))
	}

	return errors.Join(errs...)
}

// DSN returns the data source name for StoreDriver. DB_DSN overrides the
// assembled value.
func (c *Config) DSN() string {
	if c.DBDSN != "" {
		return c.DBDSN
	}

	switch c.StoreDriver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
			c.DBUser, c.DBPassword, c.DBHost, c.portOr("3306"), c.DBName)
	case "postgres":
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(c.DBUser, c.DBPassword),
			Host:   c.DBHost + ":" + c.portOr("5432"),
			Path:   "/" + c.DBName,
		}
		return u.String()
	case "sqlite3":
		return c.SQLitePath + "?_journal_mode=WAL&_busy_timeout=5000"
	case "bolt":
		return c.BoltPath
	}
	return ""
}

func (c *Config) portOr(def string) string {
	if c.DBPort != "" {
		return c.DBPort
	}
	return def
}

type Logger struct {
	zerolog.Logger
}

func SetupLogger(cfg *Config) *Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	logger = logger.
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{logger}
}
