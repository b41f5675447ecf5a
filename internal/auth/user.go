package auth

import "time"

// Role определяет уровень привилегий аккаунта.
type Role string

const (
	RolePlayer    Role = "player"
	RoleHelpdesk  Role = "helpdesk"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// IsStaff возвращает true для ролей, имеющих доступ к админ-консоли
// (запрос токена, подписка на admin_room).
func (r Role) IsStaff() bool {
	return r == RoleAdmin || r == RoleModerator || r == RoleHelpdesk
}

// CanModify возвращает true для ролей, которым разрешено изменять
// экономические поля других игроков.
func (r Role) CanModify() bool {
	return r == RoleAdmin || r == RoleModerator
}

// User represents a player/staff account with its economy state.
type User struct {
	ID           uint64    // Unique immutable identifier
	Username     string    // Unique username (case-insensitive)
	PasswordHash string    // bcrypt hashed password (60 chars)
	Role         Role      // player | helpdesk | moderator | admin
	Cash         float64   // Currency balance
	Rep          int       // Reputation score
	RankIndex    int       // Progression tier
	CreatedAt    time.Time // Account creation timestamp (server time)
	LastSeen     time.Time // Last login or last gameplay action
}
