package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/annel0/street-crime/internal/auth"
	"github.com/annel0/street-crime/internal/game"
	"github.com/annel0/street-crime/internal/storage"
	"github.com/gin-gonic/gin"
)

// LoginRequest представляет запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse представляет ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
	UserID  uint64 `json:"user_id,omitempty"`
	Role    string `json:"role,omitempty"`
}

// RegisterRequest представляет запрос на регистрацию
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handleLogin обрабатывает запрос на вход
func (rs *RestServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	// Получаем пользователя из БД
	user, err := rs.userRepo.GetUserByUsername(req.Username)
	if err == auth.ErrUserNotFound {
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Внутренняя ошибка сервера",
		})
		return
	}

	// Проверяем пароль
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		c.JSON(http.StatusUnauthorized, LoginResponse{
			Success: false,
			Message: "Неверное имя пользователя или пароль",
		})
		return
	}

	// Генерируем JWT токен
	tok, err := auth.GenerateJWT(user)
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{
			Success: false,
			Message: "Ошибка генерации токена",
		})
		return
	}

	// Обновляем время последней активности
	_ = rs.userRepo.UpdateUserLastSeen(user.ID)

	c.JSON(http.StatusOK, LoginResponse{
		Success: true,
		Token:   tok,
		Message: "Успешная авторизация",
		UserID:  user.ID,
		Role:    string(user.Role),
	})
}

// handleRegister обрабатывает регистрацию нового игрока
func (rs *RestServer) handleRegister(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса",
		})
		return
	}

	// Валидация входных данных
	if len(req.Username) < 3 || len(req.Username) > 80 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Имя пользователя должно быть от 3 до 80 символов",
		})
		return
	}

	// Хешируем пароль
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка обработки пароля",
		})
		return
	}

	// Новые аккаунты всегда игроки
	user, err := rs.userRepo.CreateUser(req.Username, passwordHash, auth.RolePlayer)
	if err == auth.ErrUserExists {
		c.JSON(http.StatusConflict, GenericResponse{
			Success: false,
			Message: "Пользователь уже существует",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{
			Success: false,
			Message: "Ошибка создания пользователя",
		})
		return
	}

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Пользователь успешно создан",
		Data: map[string]interface{}{
			"user_id":  user.ID,
			"username": user.Username,
		},
	})
}

// handleAdminToken выдаёт одноразовый токен для realtime-канала.
// Доступен только сотрудникам; роль проверяется по БД.
func (rs *RestServer) handleAdminToken(c *gin.Context) {
	user, ok := rs.currentUser(c)
	if !ok {
		return
	}

	if !user.Role.IsStaff() {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	tok, err := rs.issuer.Issue(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": tok,
		"ttl":   int(rs.issuer.TTL().Seconds()),
	})
}

// handlePlayers возвращает снимок всех пользователей
func (rs *RestServer) handlePlayers(c *gin.Context) {
	users, err := rs.userRepo.ListUsers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		out = append(out, gin.H{
			"id":         u.ID,
			"username":   u.Username,
			"role":       string(u.Role),
			"cash":       u.Cash,
			"rep":        u.Rep,
			"rank_index": u.RankIndex,
			"last_seen":  u.LastSeen.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleModify прогоняет правку сотрудника через конвейер мутаций.
// Битое или пустое тело запроса эквивалентно пустому объекту:
// мутация без полей — no-op с записью аудита, а не ошибка.
func (rs *RestServer) handleModify(c *gin.Context) {
	var req game.ModifyRequest
	_ = c.ShouldBindJSON(&req)

	_, err := rs.pipeline.Modify(c.Request.Context(), currentUserID(c), req)
	switch {
	case errors.Is(err, game.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, game.ErrNoUser):
		c.JSON(http.StatusNotFound, gin.H{"error": "no_user"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// ActionRequest запрос на игровое действие
type ActionRequest struct {
	Action string `json:"action"`
}

// handleAction выполняет игровое действие от имени вызывающего
func (rs *RestServer) handleAction(c *gin.Context) {
	var req ActionRequest
	_ = c.ShouldBindJSON(&req)

	ev, err := rs.pipeline.Action(c.Request.Context(), currentUserID(c), req.Action)
	if errors.Is(err, game.ErrNoUser) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_user"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"cash": ev.Cash,
		"rep":  ev.Rep,
	})
}

// NoteRequest запрос на создание заметки
type NoteRequest struct {
	UserID uint64 `json:"user_id"`
	Text   string `json:"text"`
}

// handleNotes сохраняет заметку о пользователе
func (rs *RestServer) handleNotes(c *gin.Context) {
	var req NoteRequest
	_ = c.ShouldBindJSON(&req)

	note := &storage.Note{
		UserID:   req.UserID,
		AuthorID: currentUserID(c),
		Text:     req.Text,
	}
	if err := rs.noteRepo.Add(c.Request.Context(), note); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleAudit возвращает последние записи журнала аудита (только админ)
func (rs *RestServer) handleAudit(c *gin.Context) {
	limit := storage.DefaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	entries, err := rs.pipeline.RecentAudit(c.Request.Context(), currentUserID(c), limit)
	if errors.Is(err, game.ErrForbidden) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	out := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		out = append(out, gin.H{
			"id":         e.ID,
			"actor_id":   e.ActorID,
			"target_id":  e.TargetID,
			"action":     e.Action,
			"details":    e.Details,
			"created_at": e.CreatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleStats возвращает статистику сервера
func (rs *RestServer) handleStats(c *gin.Context) {
	stats := make(map[string]interface{})

	// Статистика пользователей (если поддерживается)
	if mariaRepo, ok := rs.userRepo.(*auth.MariaUserRepo); ok {
		userStats, err := mariaRepo.GetUserStats()
		if err == nil {
			stats["users"] = userStats
		}
	}

	// Метрики сервера
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	stats["server"] = map[string]interface{}{
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.2f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.2f", cpuPercent),
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика сервера",
		Data:    stats,
	})
}

// handleHealth проверка работоспособности
func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
