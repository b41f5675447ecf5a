package token

import (
	"context"
	"fmt"
	"time"

	"github.com/annel0/street-crime/internal/logging"
	"github.com/go-redis/redis/v8"
)

// RedisStore реализует Store поверх Redis.
// Redis сам обслуживает истечение ключей (SETEX), а GETDEL даёт
// атомарное чтение-с-удалением на уровне одного ключа.
type RedisStore struct {
	client *redis.Client
}

// RedisStoreConfig содержит настройки подключения к Redis.
type RedisStoreConfig struct {
	Addr     string // например, localhost:6379
	Password string
	DB       int
}

// NewRedisStore создаёт хранилище токенов и проверяет соединение.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	// Проверяем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Info("Redis token store initialized: %s", cfg.Addr)
	return &RedisStore{client: rdb}, nil
}

// SetEx сохраняет значение с TTL.
func (r *RedisStore) SetEx(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		logging.Error("Redis SetEx error for key %s: %v", key, err)
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// GetDel атомарно читает и удаляет ключ (Redis GETDEL, >= 6.2).
func (r *RedisStore) GetDel(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		logging.Error("Redis GetDel error for key %s: %v", key, err)
		return "", false, fmt.Errorf("redis getdel error: %w", err)
	}
	return val, true, nil
}

// Close закрывает соединение с Redis.
func (r *RedisStore) Close() error {
	err := r.client.Close()
	if err != nil {
		logging.Error("Error closing Redis connection: %v", err)
		return err
	}
	logging.Info("Redis token store closed")
	return nil
}
