package auth

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MariaConfig содержит настройки подключения к MariaDB
type MariaConfig struct {
	Host     string // например, localhost
	Port     int    // например, 3306
	Database string // например, streetcrime
	Username string // пользователь БД
	Password string // пароль БД
}

// MariaUserRepo реализует UserRepository для MariaDB
type MariaUserRepo struct {
	db *sql.DB
}

// NewMariaUserRepo создает новое подключение к MariaDB и возвращает репозиторий
func NewMariaUserRepo(cfg MariaConfig) (*MariaUserRepo, error) {
	// Устанавливаем значения по умолчанию
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.Database == "" {
		cfg.Database = "streetcrime"
	}

	// Формируем DSN (Data Source Name)
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)

	// Открываем подключение
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}

	// Проверяем подключение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	repo := &MariaUserRepo{db: db}

	// Создаем таблицы, если их нет
	if err := repo.createTables(); err != nil {
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return repo, nil
}

// DB возвращает разделяемое подключение к БД (для репозиториев audit/notes)
func (m *MariaUserRepo) DB() *sql.DB {
	return m.db
}

// createTables создает необходимые таблицы в БД
func (m *MariaUserRepo) createTables() error {
	// Таблица пользователей
	createUsersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(80) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(30) NOT NULL DEFAULT 'player',
		cash DOUBLE NOT NULL DEFAULT 250.0,
		rep INT NOT NULL DEFAULT 0,
		rank_index INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_username (username)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`

	if _, err := m.db.Exec(createUsersTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу users: %w", err)
	}

	// Создаем пользователей по умолчанию
	if err := m.createDefaultUsers(); err != nil {
		return fmt.Errorf("не удалось создать пользователей по умолчанию: %w", err)
	}

	return nil
}

// createDefaultUsers создает стартовые аккаунты, если таблица пуста
func (m *MariaUserRepo) createDefaultUsers() error {
	// Проверяем, есть ли пользователи в системе
	var userCount int
	err := m.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&userCount)
	if err != nil {
		return fmt.Errorf("ошибка при проверке количества пользователей: %w", err)
	}

	// Если пользователи уже есть, не создаем по умолчанию
	if userCount > 0 {
		return nil
	}

	seed := []struct {
		username  string
		password  string
		role      Role
		cash      float64
		rep       int
		rankIndex int
	}{
		{"admin", "adminpass", RoleAdmin, 10000, 10000, 4},
		{"mod", "modpass", RoleModerator, 1000, 1000, 0},
		{"help", "helppass", RoleHelpdesk, 500, 200, 0},
		{"player1", "player1", RolePlayer, 500, 50, 0},
		{"player2", "player2", RolePlayer, 1200, 200, 0},
	}

	for _, s := range seed {
		hash, err := HashPassword(s.password)
		if err != nil {
			return fmt.Errorf("ошибка хеширования пароля %s: %w", s.username, err)
		}
		user, err := m.CreateUser(s.username, hash, s.role)
		if err != nil && err != ErrUserExists {
			return fmt.Errorf("не удалось создать пользователя %s: %w", s.username, err)
		}
		if user != nil {
			user.Cash = s.cash
			user.Rep = s.rep
			user.RankIndex = s.rankIndex
			if err := m.UpdateUser(user); err != nil {
				return fmt.Errorf("не удалось задать баланс %s: %w", s.username, err)
			}
		}
	}

	return nil
}

// GetUserByUsername получает пользователя по имени
func (m *MariaUserRepo) GetUserByUsername(username string) (*User, error) {
	lower := strings.ToLower(username)

	query := `SELECT id, username, password_hash, role, cash, rep, rank_index, created_at, last_seen
			  FROM users WHERE username = ?`

	return m.scanUser(m.db.QueryRow(query, lower))
}

// GetUserByID получает пользователя по ID
func (m *MariaUserRepo) GetUserByID(id uint64) (*User, error) {
	query := `SELECT id, username, password_hash, role, cash, rep, rank_index, created_at, last_seen
			  FROM users WHERE id = ?`

	return m.scanUser(m.db.QueryRow(query, id))
}

func (m *MariaUserRepo) scanUser(row *sql.Row) (*User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.Role,
		&user.Cash,
		&user.Rep,
		&user.RankIndex,
		&user.CreatedAt,
		&user.LastSeen,
	)

	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении пользователя: %w", err)
	}

	return &user, nil
}

// CreateUser создает нового пользователя
func (m *MariaUserRepo) CreateUser(username string, passwordHash string, role Role) (*User, error) {
	lower := strings.ToLower(username)
	now := time.Now()

	query := `INSERT INTO users (username, password_hash, role, created_at, last_seen)
			  VALUES (?, ?, ?, ?, ?)`

	result, err := m.db.Exec(query, lower, passwordHash, string(role), now, now)
	if err != nil {
		// Проверяем на дублирование пользователя
		if strings.Contains(err.Error(), "Duplicate entry") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("ошибка при создании пользователя: %w", err)
	}

	// Получаем ID созданного пользователя
	userID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении ID пользователя: %w", err)
	}

	return &User{
		ID:           uint64(userID),
		Username:     lower,
		PasswordHash: passwordHash,
		Role:         role,
		Cash:         250.0,
		CreatedAt:    now,
		LastSeen:     now,
	}, nil
}

// ListUsers возвращает всех пользователей в порядке выборки БД
func (m *MariaUserRepo) ListUsers() ([]*User, error) {
	query := `SELECT id, username, password_hash, role, cash, rep, rank_index, created_at, last_seen
			  FROM users ORDER BY id`

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("ошибка при выборке пользователей: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		err := rows.Scan(
			&user.ID,
			&user.Username,
			&user.PasswordHash,
			&user.Role,
			&user.Cash,
			&user.Rep,
			&user.RankIndex,
			&user.CreatedAt,
			&user.LastSeen,
		)
		if err != nil {
			return nil, fmt.Errorf("ошибка при чтении пользователя: %w", err)
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}

// UpdateUser сохраняет изменяемые поля пользователя
func (m *MariaUserRepo) UpdateUser(user *User) error {
	query := `UPDATE users SET role = ?, cash = ?, rep = ?, rank_index = ?, last_seen = ? WHERE id = ?`

	result, err := m.db.Exec(query, string(user.Role), user.Cash, user.Rep, user.RankIndex, user.LastSeen, user.ID)
	if err != nil {
		return fmt.Errorf("ошибка при обновлении пользователя: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка при проверке обновления: %w", err)
	}
	if affected == 0 {
		// Либо пользователя нет, либо значения не изменились — уточняем
		if _, err := m.GetUserByID(user.ID); err != nil {
			return err
		}
	}

	return nil
}

// UpdateUserLastSeen обновляет время последней активности пользователя
func (m *MariaUserRepo) UpdateUserLastSeen(userID uint64) error {
	query := `UPDATE users SET last_seen = CURRENT_TIMESTAMP WHERE id = ?`

	_, err := m.db.Exec(query, userID)
	if err != nil {
		return fmt.Errorf("ошибка при обновлении времени активности: %w", err)
	}

	return nil
}

// GetUserStats возвращает статистику пользователей
func (m *MariaUserRepo) GetUserStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	// Общее количество пользователей
	var totalUsers int
	err := m.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&totalUsers)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении количества пользователей: %w", err)
	}
	stats["total_users"] = totalUsers

	// Количество сотрудников
	var totalStaff int
	err = m.db.QueryRow("SELECT COUNT(*) FROM users WHERE role IN ('admin','moderator','helpdesk')").Scan(&totalStaff)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении количества сотрудников: %w", err)
	}
	stats["total_staff"] = totalStaff

	// Активные за последние 24 часа
	var recentUsers int
	err = m.db.QueryRow("SELECT COUNT(*) FROM users WHERE last_seen > DATE_SUB(NOW(), INTERVAL 24 HOUR)").Scan(&recentUsers)
	if err != nil {
		return nil, fmt.Errorf("ошибка при получении недавних пользователей: %w", err)
	}
	stats["recent_users_24h"] = recentUsers

	return stats, nil
}

// Close закрывает подключение к БД
func (m *MariaUserRepo) Close() error {
	return m.db.Close()
}
