package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MariaStore реализует AuditRepo и NoteRepo поверх MariaDB.
// Использует разделяемое подключение (обычно от auth.MariaUserRepo),
// чтобы не плодить пулы соединений на один процесс.
type MariaStore struct {
	db *sql.DB
}

// NewMariaStore создает хранилище аудита/заметок и таблицы при необходимости.
func NewMariaStore(db *sql.DB) (*MariaStore, error) {
	store := &MariaStore{db: db}
	if err := store.createTables(); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}
	return store, nil
}

// createTables создает необходимые таблицы в БД
func (m *MariaStore) createTables() error {
	createAuditTable := `
	CREATE TABLE IF NOT EXISTS audit_log (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		actor_id BIGINT UNSIGNED NULL,
		target_id BIGINT UNSIGNED NULL,
		action VARCHAR(200) NOT NULL,
		details TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_created_at (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createAuditTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу audit_log: %w", err)
	}

	createNotesTable := `
	CREATE TABLE IF NOT EXISTS notes (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id BIGINT UNSIGNED NOT NULL,
		author_id BIGINT UNSIGNED NOT NULL,
		text TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_user_id (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createNotesTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу notes: %w", err)
	}

	return nil
}

// Append добавляет запись в журнал аудита.
func (m *MariaStore) Append(ctx context.Context, entry *AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `INSERT INTO audit_log (actor_id, target_id, action, details, created_at)
			  VALUES (?, ?, ?, ?, ?)`

	result, err := m.db.ExecContext(ctx, query,
		nullableID(entry.ActorID), nullableID(entry.TargetID),
		entry.Action, entry.Details, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи в журнал аудита: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("ошибка получения ID записи аудита: %w", err)
	}
	entry.ID = uint64(id)
	return nil
}

// Recent возвращает последние limit записей, новые первыми.
func (m *MariaStore) Recent(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	query := `SELECT id, actor_id, target_id, action, details, created_at
			  FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`

	rows, err := m.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки журнала аудита: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		var actorID, targetID sql.NullInt64
		if err := rows.Scan(&entry.ID, &actorID, &targetID, &entry.Action, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения записи аудита: %w", err)
		}
		if actorID.Valid {
			entry.ActorID = uint64(actorID.Int64)
		}
		if targetID.Valid {
			entry.TargetID = uint64(targetID.Int64)
		}
		out = append(out, &entry)
	}

	return out, rows.Err()
}

// Add сохраняет заметку.
func (m *MariaStore) Add(ctx context.Context, note *Note) error {
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now()
	}

	query := `INSERT INTO notes (user_id, author_id, text, created_at) VALUES (?, ?, ?, ?)`

	result, err := m.db.ExecContext(ctx, query, note.UserID, note.AuthorID, note.Text, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения заметки: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("ошибка получения ID заметки: %w", err)
	}
	note.ID = uint64(id)
	return nil
}

// ListByUser возвращает заметки о пользователе, новые первыми.
func (m *MariaStore) ListByUser(ctx context.Context, userID uint64) ([]*Note, error) {
	query := `SELECT id, user_id, author_id, text, created_at
			  FROM notes WHERE user_id = ? ORDER BY created_at DESC, id DESC`

	rows, err := m.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки заметок: %w", err)
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		var note Note
		if err := rows.Scan(&note.ID, &note.UserID, &note.AuthorID, &note.Text, &note.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения заметки: %w", err)
		}
		out = append(out, &note)
	}

	return out, rows.Err()
}

// nullableID преобразует 0 в NULL для опциональных ссылок на пользователя.
func nullableID(id uint64) sql.NullInt64 {
	if id == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(id), Valid: true}
}
