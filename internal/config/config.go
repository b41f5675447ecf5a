package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Token    TokenConfig    `yaml:"token"`
}

type ServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// UseMariaDB переключает на MariaDB; false — in-memory хранилище
	UseMariaDB bool `yaml:"use_mariadb"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// UseRedis переключает хранилище токенов на Redis; false — in-memory
	UseRedis bool `yaml:"use_redis"`
}

type EventBusConfig struct {
	// URL NATS сервера; пустая строка — in-memory шина
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

type TokenConfig struct {
	// TTLSeconds время жизни админского токена в секундах
	TTLSeconds int `yaml:"ttl_seconds"`
}

// GetHTTPPort возвращает HTTP порт с поддержкой fallback значений
func (s *ServerConfig) GetHTTPPort() int {
	return getPortWithEnvFallback(s.HTTPPort, "GAME_HTTP_PORT", 8080)
}

// GetTokenTTL возвращает TTL токена в секундах (по умолчанию 30)
func (t *TokenConfig) GetTokenTTL() int {
	if t.TTLSeconds > 0 {
		return t.TTLSeconds
	}
	if envVal := os.Getenv("ADMIN_TOKEN_TTL"); envVal != "" {
		if ttl, err := strconv.Atoi(envVal); err == nil && ttl > 0 {
			return ttl
		}
	}
	return 30
}

// GetRedisAddr возвращает адрес Redis с приоритетом: config -> env -> default
func (r *RedisConfig) GetRedisAddr() string {
	if r.Addr != "" {
		return r.Addr
	}
	if envVal := os.Getenv("REDIS_ADDR"); envVal != "" {
		return envVal
	}
	return "localhost:6379"
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV GAME_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("GAME_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
