package storage

import (
	"context"
	"time"
)

// AuditEntry неизменяемая запись об одной мутации состояния.
// Создаётся ровно один раз конвейером мутаций; никогда не обновляется
// и не удаляется. ActorID/TargetID равные 0 означают "не задан".
type AuditEntry struct {
	ID        uint64    `json:"id"`
	ActorID   uint64    `json:"actor_id"`
	TargetID  uint64    `json:"target_id"`
	Action    string    `json:"action"`     // короткая метка: "modify", "crime"
	Details   string    `json:"details"`    // JSON-сериализованный diff
	CreatedAt time.Time `json:"created_at"`
}

// AuditRepo определяет интерфейс для журнала аудита.
type AuditRepo interface {
	// Append добавляет запись в журнал. Реализация присваивает ID
	// и CreatedAt (если нулевой).
	Append(ctx context.Context, entry *AuditEntry) error

	// Recent возвращает последние limit записей в порядке убывания
	// времени создания. limit <= 0 заменяется на DefaultAuditLimit.
	Recent(ctx context.Context, limit int) ([]*AuditEntry, error)
}

// DefaultAuditLimit количество записей аудита по умолчанию.
const DefaultAuditLimit = 200
