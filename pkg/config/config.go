// Package config loads process configuration from the environment, with an
// optional .env file for local development (joho/godotenv), generalizing
// the flat env-var loader every cmd/ entrypoint used to hand-roll.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates every component's knobs. Each cmd/ entrypoint reads
// only the sub-structs it needs.
type Config struct {
	DB            DBConfig
	Redis         RedisConfig
	Etcd          EtcdConfig
	API           APIConfig
	Worker        WorkerConfig
	Scheduler     SchedulerConfig
	Auth          AuthConfig
	LogLevel      string
	LogEncoding   string
	ServiceName   string
	TracingURL    string
	TracingRatio  float64
	TracingOn     bool
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return "host=" + c.Host +
		" port=" + c.Port +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Name +
		" sslmode=" + c.SSLMode
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type EtcdConfig struct {
	Endpoints         []string
	LeaderElectionTTL int
}

type APIConfig struct {
	Port string
}

type WorkerConfig struct {
	MaxConcurrency     int // 0 means auto (runtime.NumCPU(), capped by host memory)
	HeartbeatEvery     time.Duration
	HeartbeatTTL       time.Duration
	DelaySweepInterval time.Duration
}

type SchedulerConfig struct {
	PollInterval       time.Duration
	ReconcileInterval  time.Duration
	DelaySweepInterval time.Duration
}

type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
	Enabled   bool
}

// Load reads an optional .env file (ignored if absent) then builds Config
// from the environment, falling back to sane local-dev defaults.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "jobqueue"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "jobqueue"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Etcd: EtcdConfig{
			Endpoints:         strings.Split(getEnv("ETCD_ENDPOINTS", "localhost:2379"), ","),
			LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),
		},
		API: APIConfig{
			Port: getEnv("API_PORT", "8080"),
		},
		Worker: WorkerConfig{
			MaxConcurrency:     getEnvAsInt("WORKER_MAX_CONCURRENCY", 0),
			HeartbeatEvery:     getEnvAsDuration("WORKER_HEARTBEAT_EVERY", 20*time.Second),
			HeartbeatTTL:       getEnvAsDuration("WORKER_HEARTBEAT_TTL", 60*time.Second),
			DelaySweepInterval: getEnvAsDuration("WORKER_DELAY_SWEEP_INTERVAL", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			PollInterval:       getEnvAsDuration("SCHEDULER_POLL_INTERVAL", 10*time.Second),
			ReconcileInterval:  getEnvAsDuration("SCHEDULER_RECONCILE_INTERVAL", 30*time.Second),
			DelaySweepInterval: getEnvAsDuration("SCHEDULER_DELAY_SWEEP_INTERVAL", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			JWTIssuer: getEnv("JWT_ISSUER", "jobqueue"),
			Enabled:   getEnvAsBool("AUTH_ENABLED", false),
		},
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogEncoding:  getEnv("LOG_ENCODING", "json"),
		ServiceName:  getEnv("SERVICE_NAME", "jobqueue"),
		TracingURL:   getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingRatio: getEnvAsFloat("TRACING_SAMPLE_RATIO", 0.1),
		TracingOn:    getEnvAsBool("TRACING_ENABLED", false),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}
