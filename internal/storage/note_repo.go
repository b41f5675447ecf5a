package storage

import (
	"context"
	"sync"
	"time"
)

// Note текстовая заметка сотрудника о пользователе.
type Note struct {
	ID        uint64    `json:"id"`
	UserID    uint64    `json:"user_id"`   // о ком заметка
	AuthorID  uint64    `json:"author_id"` // кто написал
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// NoteRepo определяет интерфейс для хранилища заметок.
type NoteRepo interface {
	// Add сохраняет заметку. Реализация присваивает ID и CreatedAt.
	Add(ctx context.Context, note *Note) error

	// ListByUser возвращает заметки о пользователе, новые первыми.
	ListByUser(ctx context.Context, userID uint64) ([]*Note, error)
}

// MemoryNoteRepo реализует NoteRepo в памяти.
type MemoryNoteRepo struct {
	mu     sync.RWMutex
	notes  []*Note
	nextID uint64
}

// NewMemoryNoteRepo создает новое хранилище заметок в памяти.
func NewMemoryNoteRepo() *MemoryNoteRepo {
	return &MemoryNoteRepo{nextID: 1}
}

// Add сохраняет заметку.
func (r *MemoryNoteRepo) Add(ctx context.Context, note *Note) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	note.ID = r.nextID
	r.nextID++
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}
	r.notes = append(r.notes, note)
	return nil
}

// ListByUser возвращает заметки о пользователе, новые первыми.
func (r *MemoryNoteRepo) ListByUser(ctx context.Context, userID uint64) ([]*Note, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Note
	for i := len(r.notes) - 1; i >= 0; i-- {
		if r.notes[i].UserID == userID {
			out = append(out, r.notes[i])
		}
	}
	return out, nil
}
