package token

import (
	"context"
	"sync"
	"time"
)

// MemoryStore реализует Store в памяти.
// Используется как fallback, когда Redis недоступен,
// или для CI/локальной разработки без Redis.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	// now подменяется в тестах
	now func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore создает новое хранилище токенов в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetEx сохраняет значение с TTL.
func (s *MemoryStore) SetEx(ctx context.Context, key string, value string, ttl time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = memoryEntry{
		value:     value,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// GetDel читает и удаляет ключ под одной блокировкой (атомарность
// на уровне одного ключа, как у Redis GETDEL).
func (s *MemoryStore) GetDel(ctx context.Context, key string) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, key)

	if s.now().After(entry.expiresAt) {
		// Истёкшая запись эквивалентна отсутствующей
		return "", false, nil
	}

	return entry.value, true, nil
}

// Close освобождает ресурсы (для памяти — no-op).
func (s *MemoryStore) Close() error {
	return nil
}
