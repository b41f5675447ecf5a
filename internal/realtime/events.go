package realtime

import "encoding/json"

// Имена событий realtime-канала. Канал двунаправленный, payload — JSON.
const (
	// client → server: запрос авторизации с одноразовым токеном
	EventAdminAuth = "admin_auth"
	// server → client: результат авторизации
	EventAdminAuthResult = "admin_auth_result"
	// server → client: одноразовый снимок всех пользователей после авторизации
	EventInitialSnapshot = "initial_snapshot"
	// server → client: снимок пользователя после каждой мутации
	EventAdminUpdate = "admin_update"
)

// AdminRoom имя broadcast-группы сотрудников.
const AdminRoom = "admin_room"

// Причины отказа в авторизации. Отказ не фатален — соединение остаётся
// открытым, клиент может повторить попытку со свежим токеном.
const (
	ReasonInvalidToken = "invalid_token"
	ReasonNotStaff     = "not_staff"
)

// Message кадр протокола канала: имя события + полезная нагрузка.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AuthRequest полезная нагрузка события admin_auth.
type AuthRequest struct {
	Token string `json:"token"`
}

// AuthResult полезная нагрузка события admin_auth_result.
type AuthResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// PlayerSnapshot элемент initial_snapshot: состояние одного пользователя
// на момент авторизации. Порядок следования — порядок выборки хранилища
// (по возрастанию ID).
type PlayerSnapshot struct {
	UserID    uint64  `json:"user_id"`
	Username  string  `json:"username"`
	Cash      float64 `json:"cash"`
	Rep       int     `json:"rep"`
	Role      string  `json:"role"`
	RankIndex int     `json:"rank_index"`
}
