package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// keyPrefix пространство ключей админских токенов в хранилище.
const keyPrefix = "admin_token:"

// DefaultTTL время жизни токена по умолчанию.
const DefaultTTL = 30 * time.Second

// ErrStoreUnavailable возвращается при недоступности хранилища токенов.
var ErrStoreUnavailable = errors.New("token store unavailable")

// Store определяет интерфейс для хранилища токенов с истечением.
// Реализации: RedisStore (продакшн) и MemoryStore (тесты/CI).
type Store interface {
	// SetEx сохраняет значение по ключу с указанным TTL.
	SetEx(ctx context.Context, key string, value string, ttl time.Duration) error

	// GetDel атомарно читает и удаляет значение по ключу.
	// Возвращает (значение, true) если ключ существовал и не истёк.
	GetDel(ctx context.Context, key string) (string, bool, error)

	// Close освобождает ресурсы хранилища.
	Close() error
}

// Issuer выдаёт и проверяет одноразовые админские токены.
// Токен — непрозрачная случайная строка, отображаемая на ID пользователя
// в хранилище с истечением. Проверка атомарно удаляет запись (одноразовость):
// повторная проверка того же токена всегда неуспешна.
type Issuer struct {
	store Store
	ttl   time.Duration
}

// NewIssuer создаёт эмитент токенов поверх указанного хранилища.
// ttl <= 0 заменяется на DefaultTTL.
func NewIssuer(store Store, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{store: store, ttl: ttl}
}

// TTL возвращает время жизни выдаваемых токенов.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue генерирует криптослучайный токен и сохраняет отображение
// token -> userID с TTL. Токены дёшевы — при потере просто запрашивается новый.
func (i *Issuer) Issue(ctx context.Context, userID uint64) (string, error) {
	tok, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("ошибка генерации токена: %w", err)
	}

	if err := i.store.SetEx(ctx, keyPrefix+tok, strconv.FormatUint(userID, 10), i.ttl); err != nil {
		return "", fmt.Errorf("ошибка сохранения токена: %w", err)
	}

	return tok, nil
}

// Consume проверяет токен и атомарно инвалидирует его.
// Возвращает (userID, true) только при первом успешном вызове для токена;
// неизвестный, истёкший или уже использованный токен даёт (0, false).
func (i *Issuer) Consume(ctx context.Context, tok string) (uint64, bool, error) {
	if tok == "" {
		return 0, false, nil
	}

	val, found, err := i.store.GetDel(ctx, keyPrefix+tok)
	if err != nil {
		return 0, false, fmt.Errorf("ошибка проверки токена: %w", err)
	}
	if !found {
		return 0, false, nil
	}

	userID, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		// Повреждённая запись — считаем токен недействительным
		return 0, false, nil
	}

	return userID, true, nil
}

// generateToken возвращает 24 байта криптослучайности в URL-safe base64.
func generateToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
