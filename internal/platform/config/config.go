// Package config builds runtime configuration from the environment so
// main stays lean. Every value has a development default; production
// deployments override via env.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr          string
	AdminToken    string
	JWTSigningKey string

	ShutdownTimeout time.Duration

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Escrow   EscrowConfig
}

// PostgresConfig holds the database connection settings. An empty URL
// selects the in-memory stores (reference deployments, tests).
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds the Redis connection settings. An empty URL
// disables Redis and the proof replay guard falls back to memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds the audit pipeline settings. Empty brokers disable
// the outbox relay and consumer.
type KafkaConfig struct {
	Brokers       []string
	AuditTopic    string
	ConsumerGroup string
}

// EscrowConfig holds escrow engine policy knobs.
type EscrowConfig struct {
	// DefaultEmergencyDelay applies when an escrow enables emergency
	// release without an explicit delay.
	DefaultEmergencyDelay time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	return Server{
		Addr:            getenv("LIFELINE_ADDR", ":8080"),
		AdminToken:      os.Getenv("LIFELINE_ADMIN_TOKEN"),
		JWTSigningKey:   getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		ShutdownTimeout: getduration("LIFELINE_SHUTDOWN_TIMEOUT", 10*time.Second),
		Postgres: PostgresConfig{
			URL:          os.Getenv("POSTGRES_URL"),
			MaxOpenConns: getint("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getint("POSTGRES_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getint("REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getduration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getduration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getduration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:       getlist("KAFKA_BROKERS"),
			AuditTopic:    getenv("KAFKA_AUDIT_TOPIC", "lifeline.audit.events"),
			ConsumerGroup: getenv("KAFKA_CONSUMER_GROUP", "lifeline-audit-materializer"),
		},
		Escrow: EscrowConfig{
			DefaultEmergencyDelay: getduration("ESCROW_DEFAULT_EMERGENCY_DELAY", 24*time.Hour),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getlist(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
