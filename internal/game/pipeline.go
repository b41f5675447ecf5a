package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/annel0/street-crime/internal/auth"
	"github.com/annel0/street-crime/internal/eventbus"
	"github.com/annel0/street-crime/internal/logging"
	"github.com/annel0/street-crime/internal/realtime"
	"github.com/annel0/street-crime/internal/storage"
	"github.com/google/uuid"
)

// Ошибки конвейера мутаций. Не фатальны для процесса —
// HTTP-слой транслирует их в ответы per-request.
var (
	// ErrForbidden актор аутентифицирован, но роль недостаточна
	ErrForbidden = errors.New("forbidden")
	// ErrNoUser целевой пользователь не найден
	ErrNoUser = errors.New("no_user")
)

// FieldChange структурированная пара старое/новое значение одного поля.
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// ChangeSet типизированный diff мутации: имя поля → изменение.
// Сериализуется в details записи аудита как JSON (потребители
// аудита могут парсить его программно).
type ChangeSet map[string]FieldChange

// ModifyRequest запрос на изменение полей пользователя сотрудником.
// nil-поле означает "не трогать". Отсутствие всех полей — валидный
// запрос: аудит пишется с пустым diff, снимок всё равно рассылается.
type ModifyRequest struct {
	UserID    uint64   `json:"user_id"`
	Cash      *float64 `json:"cash,omitempty"`
	Rep       *int     `json:"rep,omitempty"`
	RankIndex *int     `json:"rank_index,omitempty"`
	Role      *string  `json:"role,omitempty"`
}

// UpdateEvent снимок пользователя после мутации — полезная нагрузка
// события admin_update. Ts — время завершения мутации.
type UpdateEvent struct {
	UserID    uint64    `json:"user_id"`
	Username  string    `json:"username"`
	Cash      float64   `json:"cash"`
	Rep       int       `json:"rep"`
	RankIndex int       `json:"rank_index"`
	Role      string    `json:"role"`
	Ts        time.Time `json:"ts"`
}

// ActionCrime единственный распознаваемый тип игрового действия.
const ActionCrime = "crime"

// actionHandler применяет игровое действие к пользователю.
// Возвращает запись аудита (nil — действие без аудита) и флаг
// изменения состояния.
type actionHandler func(u *auth.User, now time.Time) (*storage.AuditEntry, bool)

// actionHandlers набор вариантов действий. Неизвестное действие
// попадает в явную no-op ветку: состояние не меняется, аудит не
// пишется, но текущий снимок актора всё равно рассылается.
var actionHandlers = map[string]actionHandler{
	ActionCrime: applyCrime,
}

// applyCrime начисляет награду за "преступление":
// earn = floor(20 + rep*0.05 + rank_index*10), cash += earn,
// rep += floor(earn/10), обновляется время активности.
func applyCrime(u *auth.User, now time.Time) (*storage.AuditEntry, bool) {
	earn := int(math.Floor(20 + float64(u.Rep)*0.05 + float64(u.RankIndex)*10))
	u.Cash += float64(earn)
	u.Rep += earn / 10
	u.LastSeen = now

	details, _ := json.Marshal(map[string]int{"earn": earn})
	return &storage.AuditEntry{
		ActorID:  u.ID,
		TargetID: u.ID,
		Action:   ActionCrime,
		Details:  string(details),
	}, true
}

// Pipeline конвейер мутаций: проверка привилегий → применение
// изменения → запись аудита → публикация события.
// Каждая мутация cash/rep/rank_index/role порождает ровно одну
// запись аудита до отправки соответствующего broadcast.
//
// Транзакционных гарантий между чтением и записью нет: конкурентные
// правки одного пользователя дают last-write-wins по полям.
type Pipeline struct {
	users auth.UserRepository
	audit storage.AuditRepo
	bus   eventbus.EventBus

	// now подменяется в тестах
	now func() time.Time
}

// NewPipeline создаёт конвейер мутаций.
func NewPipeline(users auth.UserRepository, audit storage.AuditRepo, bus eventbus.EventBus) *Pipeline {
	return &Pipeline{
		users: users,
		audit: audit,
		bus:   bus,
		now:   time.Now,
	}
}

// Modify применяет правку сотрудника к целевому пользователю.
// Актор должен иметь роль moderator или admin, иначе ErrForbidden без
// изменения состояния. Поле role применяется только админом: для
// модератора оно молча игнорируется, а не отклоняется (изменение в
// остальном проходит). Всегда пишется ровно одна запись аудита
// (даже с пустым diff) и рассылается итоговый снимок цели.
func (p *Pipeline) Modify(ctx context.Context, actorID uint64, req ModifyRequest) (*UpdateEvent, error) {
	actor, err := p.users.GetUserByID(actorID)
	if err != nil {
		return nil, ErrForbidden
	}
	if !actor.Role.CanModify() {
		return nil, ErrForbidden
	}

	target, err := p.users.GetUserByID(req.UserID)
	if err != nil {
		return nil, ErrNoUser
	}

	changes := ChangeSet{}
	if req.Cash != nil {
		changes["cash"] = FieldChange{Old: target.Cash, New: *req.Cash}
		target.Cash = *req.Cash
	}
	if req.Rep != nil {
		changes["rep"] = FieldChange{Old: target.Rep, New: *req.Rep}
		target.Rep = *req.Rep
	}
	if req.RankIndex != nil {
		changes["rank_index"] = FieldChange{Old: target.RankIndex, New: *req.RankIndex}
		target.RankIndex = *req.RankIndex
	}
	if req.Role != nil && actor.Role == auth.RoleAdmin {
		changes["role"] = FieldChange{Old: string(target.Role), New: *req.Role}
		target.Role = auth.Role(*req.Role)
	}

	if err := p.users.UpdateUser(target); err != nil {
		return nil, fmt.Errorf("ошибка сохранения пользователя: %w", err)
	}

	details, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации diff: %w", err)
	}
	entry := &storage.AuditEntry{
		ActorID:  actor.ID,
		TargetID: target.ID,
		Action:   "modify",
		Details:  string(details),
	}
	if err := p.audit.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("ошибка записи аудита: %w", err)
	}

	return p.broadcast(ctx, target), nil
}

// Action выполняет игровое действие от имени актора.
// Неизвестный тип действия — явный no-op: без изменения состояния и
// аудита, но с пересылкой текущего снимка (клиенты консоли видят
// актуальное состояние).
func (p *Pipeline) Action(ctx context.Context, actorID uint64, action string) (*UpdateEvent, error) {
	user, err := p.users.GetUserByID(actorID)
	if err != nil {
		return nil, ErrNoUser
	}

	if handler, ok := actionHandlers[action]; ok {
		entry, changed := handler(user, p.now())
		if changed {
			if err := p.users.UpdateUser(user); err != nil {
				return nil, fmt.Errorf("ошибка сохранения пользователя: %w", err)
			}
		}
		if entry != nil {
			if err := p.audit.Append(ctx, entry); err != nil {
				return nil, fmt.Errorf("ошибка записи аудита: %w", err)
			}
		}
	}

	return p.broadcast(ctx, user), nil
}

// RecentAudit возвращает последние записи аудита. Только для админов.
func (p *Pipeline) RecentAudit(ctx context.Context, actorID uint64, limit int) ([]*storage.AuditEntry, error) {
	actor, err := p.users.GetUserByID(actorID)
	if err != nil || actor.Role != auth.RoleAdmin {
		return nil, ErrForbidden
	}
	return p.audit.Recent(ctx, limit)
}

// broadcast публикует снимок пользователя в шину событий.
// Доставка fire-and-forget: ошибка публикации логируется, но не
// откатывает мутацию — аудит уже записан.
func (p *Pipeline) broadcast(ctx context.Context, u *auth.User) *UpdateEvent {
	ev := &UpdateEvent{
		UserID:    u.ID,
		Username:  u.Username,
		Cash:      u.Cash,
		Rep:       u.Rep,
		RankIndex: u.RankIndex,
		Role:      string(u.Role),
		Ts:        p.now().UTC(),
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logging.Error("Ошибка сериализации admin_update: %v", err)
		return ev
	}

	err = p.bus.Publish(ctx, &eventbus.Envelope{
		ID:        uuid.NewString(),
		Timestamp: ev.Ts,
		Source:    "game",
		EventType: realtime.EventAdminUpdate,
		Payload:   payload,
	})
	if err != nil {
		logging.Error("Ошибка публикации admin_update: %v", err)
	}

	return ev
}
