// Package config reads the relay's configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends the relay can persist to.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

// Config is the assembled runtime configuration.
type Config struct {
	Port string

	StoreBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	MongoURI      string
	MongoDatabase string

	JWTKeys      map[string]string
	JWTActiveKid string
	TokenTTL     time.Duration

	EchoAllDevices bool

	RateLimitRPM   int
	RateLimitBurst int

	NATSURL string

	PushWebhookURL string

	LogLevel string
}

// Load reads and validates configuration from the environment.
func Load() (Config, error) {
	cfg := Config{
		Port:           getenv("PORT", "8080"),
		StoreBackend:   getenv("STORE_BACKEND", StoreMemory),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getint("REDIS_DB", 0),
		MongoURI:       os.Getenv("MONGODB_URI"),
		MongoDatabase:  getenv("MONGODB_DATABASE", "relay"),
		PushWebhookURL: os.Getenv("PUSH_WEBHOOK_URL"),
		TokenTTL:       24 * time.Hour,
		EchoAllDevices: os.Getenv("ECHO_ALL_DEVICES") == "true",
		RateLimitRPM:   getint("RATE_LIMIT_RPM", 600),
		RateLimitBurst: getint("RATE_LIMIT_BURST", 20),
		NATSURL:        os.Getenv("NATS_URL"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
	}

	if v := os.Getenv("JWT_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid JWT_TTL: %w", err)
		}
		cfg.TokenTTL = d
	}

	keys, activeKid, err := jwtKeys()
	if err != nil {
		return Config{}, err
	}
	cfg.JWTKeys = keys
	cfg.JWTActiveKid = activeKid

	switch cfg.StoreBackend {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisAddr == "" {
			return Config{}, fmt.Errorf("STORE_BACKEND=redis requires REDIS_ADDR")
		}
	case StoreMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("STORE_BACKEND=mongo requires MONGODB_URI")
		}
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// jwtKeys supports either a single JWT_SECRET or JWT_KEYS in
// "kid:secret,kid2:secret2" form with JWT_ACTIVE_KID selecting the
// minting key, so tokens can be rotated without a restart window.
func jwtKeys() (map[string]string, string, error) {
	keysEnv := os.Getenv("JWT_KEYS")
	secret := os.Getenv("JWT_SECRET")
	activeKid := os.Getenv("JWT_ACTIVE_KID")

	if keysEnv == "" && secret == "" {
		return nil, "", fmt.Errorf("either JWT_SECRET or JWT_KEYS must be set")
	}
	if keysEnv == "" {
		return map[string]string{"default": secret}, "default", nil
	}

	keys := map[string]string{}
	for _, p := range strings.Split(keysEnv, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, "", fmt.Errorf("invalid JWT_KEYS entry: %s", p)
		}
		keys[parts[0]] = parts[1]
	}
	if len(keys) == 0 {
		return nil, "", fmt.Errorf("JWT_KEYS contains no key pairs")
	}
	if activeKid != "" {
		if _, ok := keys[activeKid]; !ok {
			return nil, "", fmt.Errorf("JWT_ACTIVE_KID %q not present in JWT_KEYS", activeKid)
		}
	}
	return keys, activeKid, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
