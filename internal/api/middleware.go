package api

import (
	"net/http"
	"strings"

	"github.com/annel0/street-crime/internal/auth"
	"github.com/gin-gonic/gin"
)

// jwtMiddleware проверяет JWT токен сессии в заголовке Authorization.
// Сессионный JWT не заменяет одноразовый админский токен: он лишь
// аутентифицирует HTTP-запросы.
func (rs *RestServer) jwtMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Получаем Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Отсутствует токен авторизации",
			})
			c.Abort()
			return
		}

		// Проверяем формат "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Неверный формат токена",
			})
			c.Abort()
			return
		}

		tok := parts[1]

		// Валидируем JWT токен
		userID, isValid, role := auth.ValidateJWT(tok)
		if !isValid {
			c.JSON(http.StatusUnauthorized, GenericResponse{
				Success: false,
				Message: "Недействительный токен",
			})
			c.Abort()
			return
		}

		// Сохраняем информацию о пользователе в контексте
		c.Set("user_id", userID)
		c.Set("role", role)

		c.Next()
	}
}

// currentUserID извлекает ID аутентифицированного пользователя из контекста.
func currentUserID(c *gin.Context) uint64 {
	v, ok := c.Get("user_id")
	if !ok {
		return 0
	}
	id, _ := v.(uint64)
	return id
}

// currentUser загружает актуальную запись пользователя из хранилища.
// Роль берётся из БД, а не из claims: смена роли действует немедленно,
// не дожидаясь истечения сессии.
func (rs *RestServer) currentUser(c *gin.Context) (*auth.User, bool) {
	user, err := rs.userRepo.GetUserByID(currentUserID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, GenericResponse{
			Success: false,
			Message: "Пользователь не найден",
		})
		c.Abort()
		return nil, false
	}
	return user, true
}
