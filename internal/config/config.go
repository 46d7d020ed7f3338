package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Auth     AuthConfig
	Session  SessionConfig
	Task     TaskConfig
	Stream   StreamConfig
	Cache    CacheConfig
	Worker   WorkerConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Addr     string
	User     string
	Password string
	Database string
}

// AuthConfig 描述反向代理注入的身份头部以及信任边界
type AuthConfig struct {
	AdminGroup            string
	TrustedProxyIPs       []string // glob patterns, e.g. "172.16.*"
	UsernameHeader        string
	GroupsHeader          string
	ForwardedForHeader    string
	ForwardedHostHeader   string
	ForwardedMethodHeader string
	ForwardedURIHeader    string
	DomainName            string
}

type SessionConfig struct {
	StorePath       string
	SweepInterval   time.Duration
	FlushInterval   time.Duration
	DefaultDuration time.Duration
}

type TaskConfig struct {
	RetentionWindow time.Duration
	SweepInterval   time.Duration
}

type StreamConfig struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

type CacheConfig struct {
	TTL time.Duration
}

type WorkerConfig struct {
	Concurrency int
}

type MetricsConfig struct {
	Addr string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Addr:     getEnv("POSTGRES_ADDR", "localhost:5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "lostack"),
		},
		Auth: AuthConfig{
			AdminGroup:            getEnv("ADMIN_GROUP", "lostack_admin"),
			TrustedProxyIPs:       getListEnv("TRUSTED_PROXY_IPS", []string{"*"}),
			UsernameHeader:        getEnv("USERNAME_HEADER", "Remote-User"),
			GroupsHeader:          getEnv("GROUPS_HEADER", "Remote-Groups"),
			ForwardedForHeader:    getEnv("FORWARDED_FOR_HEADER", "X-Forwarded-For"),
			ForwardedHostHeader:   getEnv("FORWARDED_HOST_HEADER", "X-Forwarded-Host"),
			ForwardedMethodHeader: getEnv("FORWARDED_METHOD_HEADER", "X-Forwarded-Method"),
			ForwardedURIHeader:    getEnv("FORWARDED_URI_HEADER", "X-Forwarded-Uri"),
			DomainName:            getEnv("DOMAIN_NAME", "localhost"),
		},
		Session: SessionConfig{
			StorePath:       getEnv("SESSION_STORE_PATH", "/config/lostack/sessions.json"),
			SweepInterval:   getDurationEnv("SESSION_SWEEP_INTERVAL", 10*time.Second),
			FlushInterval:   getDurationEnv("SESSION_FLUSH_INTERVAL", time.Hour),
			DefaultDuration: getDurationEnv("SESSION_DEFAULT_DURATION", time.Hour),
		},
		Task: TaskConfig{
			RetentionWindow: getDurationEnv("TASK_RETENTION_WINDOW", 24*time.Hour),
			SweepInterval:   getDurationEnv("TASK_SWEEP_INTERVAL", time.Minute),
		},
		Stream: StreamConfig{
			PollInterval: getDurationEnv("STREAM_POLL_INTERVAL", 500*time.Millisecond),
			MaxWait:      getDurationEnv("STREAM_MAX_WAIT", 500*time.Second),
		},
		Cache: CacheConfig{
			TTL: getDurationEnv("PERMISSION_CACHE_TTL", 15*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency: getIntEnv("WORKER_CONCURRENCY", 5),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getListEnv(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
