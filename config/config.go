package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	LogLevel       string
	Redis          RedisConfig
	ICE            ICEConfig
	Signal         SignalConfig
	Viewer         ViewerConfig
	Discovery      DiscoveryConfig
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// ICEConfig holds the STUN/TURN servers handed to every peer connection
type ICEConfig struct {
	STUNServer   string
	TURNServer   string
	TURNUsername string
	TURNPassword string
	ForceRelay   bool
}

// SignalConfig selects how clients reach the live topics
type SignalConfig struct {
	// Transport is "ws" (through the server bridge) or "redis" (direct pub/sub)
	Transport string
	// URL of the signaling server's WebSocket bridge, e.g. ws://localhost:8080
	URL              string
	HandshakeTimeout time.Duration
}

type ViewerConfig struct {
	OfferTimeout         time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

type DiscoveryConfig struct {
	RotationInterval     time.Duration
	SoloRotationInterval time.Duration
	ListLimit            int
}

func Load() *Config {
	// Parse allowed origins (comma-separated)
	originsStr := getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	origins := strings.Split(originsStr, ",")

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		ICE: ICEConfig{
			STUNServer:   getEnv("STUN_SERVER", "stun:stun.l.google.com:19302"),
			TURNServer:   getEnv("TURN_SERVER", ""),
			TURNUsername: getEnv("TURN_USERNAME", ""),
			TURNPassword: getEnv("TURN_PASSWORD", ""),
			ForceRelay:   getEnvBool("FORCE_RELAY", false),
		},
		Signal: SignalConfig{
			Transport:        getEnv("SIGNAL_TRANSPORT", "ws"),
			URL:              getEnv("SIGNAL_URL", "ws://localhost:8080"),
			HandshakeTimeout: getEnvDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Viewer: ViewerConfig{
			OfferTimeout:         getEnvDuration("OFFER_TIMEOUT", 3*time.Second),
			ReconnectDelay:       getEnvDuration("RECONNECT_DELAY", time.Second),
			MaxReconnectAttempts: getEnvInt("MAX_RECONNECT_ATTEMPTS", 3),
		},
		Discovery: DiscoveryConfig{
			RotationInterval:     getEnvDuration("ROTATION_INTERVAL", 60*time.Second),
			SoloRotationInterval: getEnvDuration("SOLO_ROTATION_INTERVAL", 15*time.Second),
			ListLimit:            getEnvInt("LIVE_LIST_LIMIT", 50),
		},
	}
}

// Addr returns host:port for the go-redis client
func (c RedisConfig) Addr() string {
	return c.Host + ":" + c.Port
}

// HasTURN reports whether a TURN server is configured
func (c ICEConfig) HasTURN() bool {
	return c.TURNServer != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
