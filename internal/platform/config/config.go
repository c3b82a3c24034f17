package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
}

type DBConfig struct {
	Host           string
	Port           string
	Name           string
	User           string
	Password       string
	SSLMode        string
	ConnectTimeout time.Duration
	Seed           bool
	InitOnly       bool
}

// DSN builds a postgres:// URL understood by pgx.ParseConfig.
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.Name,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	q.Set("connect_timeout", strconv.Itoa(int(c.ConnectTimeout.Seconds())))
	u.RawQuery = q.Encode()
	return u.String()
}

type PoolConfig struct {
	MinSize         int
	MaxSize         int
	AcquireTimeout  time.Duration
	MaxIdleTime     time.Duration
	MaintenanceSpec string
}

// AuthConfig holds the shared secret guarding mutating routes. At most one of
// APIKey and APIKeyHash is expected; when both are empty the gate denies everything.
type AuthConfig struct {
	APIKey     string
	APIKeyHash string
}

type LogConfig struct {
	Level      string
	AppName    string
	AppVersion string
}

type Config struct {
	Server ServerConfig
	DB     DBConfig
	Pool   PoolConfig
	Auth   AuthConfig
	Log    LogConfig
}

// Load reads the whole configuration from the environment, applying defaults.
func Load() Config {
	return Config{
		Server: LoadServerConfig("8080"),
		DB:     LoadDBConfig(),
		Pool:   LoadPoolConfig(),
		Auth: AuthConfig{
			APIKey:     GetEnv("API_KEY", ""),
			APIKeyHash: GetEnv("API_KEY_HASH", ""),
		},
		Log: LogConfig{
			Level:      GetEnv("LOG_LEVEL", "info"),
			AppName:    GetEnv("APP_NAME", "gke-rest-api"),
			AppVersion: GetEnv("APP_VERSION", "1.0.0"),
		},
	}
}

func LoadServerConfig(defaultPort string) ServerConfig {
	return ServerConfig{
		Port:            ":" + GetEnv("PORT", defaultPort),
		ShutdownTimeout: GetEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

func LoadDBConfig() DBConfig {
	return DBConfig{
		Host:           GetEnv("DB_HOST", "127.0.0.1"),
		Port:           GetEnv("DB_PORT", "5432"),
		Name:           GetEnv("DB_NAME", "productdb"),
		User:           GetEnv("DB_USER", "postgres"),
		Password:       GetEnv("DB_PASS", "postgres"),
		SSLMode:        GetEnv("DB_SSLMODE", "disable"),
		ConnectTimeout: GetEnvAsDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
		Seed:           GetEnvAsBool("DB_SEED", false),
		InitOnly:       GetEnvAsBool("INIT_DB_ONLY", false),
	}
}

func LoadPoolConfig() PoolConfig {
	cfg := PoolConfig{
		MinSize:         GetEnvAsInt("DB_POOL_MIN", 1),
		MaxSize:         GetEnvAsInt("DB_POOL_MAX", 10),
		AcquireTimeout:  GetEnvAsDuration("DB_POOL_ACQUIRE_TIMEOUT", 3*time.Second),
		MaxIdleTime:     GetEnvAsDuration("DB_POOL_MAX_IDLE_TIME", 5*time.Minute),
		MaintenanceSpec: GetEnv("DB_POOL_MAINTENANCE", "@every 30s"),
	}
	return cfg.Normalize()
}

// Normalize clamps the sizes so that 1 <= MaxSize and 0 <= MinSize <= MaxSize.
func (c PoolConfig) Normalize() PoolConfig {
	if c.MaxSize < 1 {
		c.MaxSize = 1
	}
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MinSize > c.MaxSize {
		c.MinSize = c.MaxSize
	}
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = 3 * time.Second
	}
	return c
}

func (c Config) String() string {
	return fmt.Sprintf("port=%s db=%s@%s:%s/%s pool=%d..%d auth_configured=%t",
		c.Server.Port, c.DB.User, c.DB.Host, c.DB.Port, c.DB.Name,
		c.Pool.MinSize, c.Pool.MaxSize, c.Auth.APIKey != "" || c.Auth.APIKeyHash != "")
}

// GetEnv returns the variable's value, or fallback when it is unset or empty.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func GetEnvAsInt(key string, fallback int) int {
	strValue := GetEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func GetEnvAsBool(key string, fallback bool) bool {
	strValue := GetEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// GetEnvAsDuration accepts Go duration strings ("3s", "250ms") or a bare number of seconds.
func GetEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := GetEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if d, err := time.ParseDuration(strValue); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
