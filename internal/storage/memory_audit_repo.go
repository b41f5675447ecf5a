package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryAuditRepo реализует AuditRepo в памяти.
// Используется как fallback, когда MariaDB недоступна,
// или для CI/локальной разработки без БД.
// ВНИМАНИЕ: Данные теряются при перезапуске сервера!
type MemoryAuditRepo struct {
	mu      sync.RWMutex
	entries []*AuditEntry
	nextID  uint64
}

// NewMemoryAuditRepo создает новый журнал аудита в памяти.
func NewMemoryAuditRepo() *MemoryAuditRepo {
	return &MemoryAuditRepo{nextID: 1}
}

// Append добавляет запись в журнал.
func (r *MemoryAuditRepo) Append(ctx context.Context, entry *AuditEntry) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = r.nextID
	r.nextID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.entries = append(r.entries, entry)
	return nil
}

// Recent возвращает последние limit записей, новые первыми.
func (r *MemoryAuditRepo) Recent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.entries)
	if limit > n {
		limit = n
	}

	out := make([]*AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, r.entries[i])
	}
	return out, nil
}

// Count возвращает общее число записей (для тестов).
func (r *MemoryAuditRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
