package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/annel0/street-crime/internal/auth"
	"github.com/annel0/street-crime/internal/game"
	"github.com/annel0/street-crime/internal/logging"
	"github.com/annel0/street-crime/internal/middleware"
	"github.com/annel0/street-crime/internal/realtime"
	"github.com/annel0/street-crime/internal/storage"
	"github.com/annel0/street-crime/internal/token"
	"github.com/gin-gonic/gin"
)

// RestServer представляет HTTP сервер игры и админ-консоли
type RestServer struct {
	router   *gin.Engine
	userRepo auth.UserRepository
	noteRepo storage.NoteRepo
	pipeline *game.Pipeline
	issuer   *token.Issuer
	channel  *realtime.ChannelServer
	port     string
	metrics  *ServerMetrics
	srv      *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     string              // порт для запуска сервера
	UserRepo auth.UserRepository // репозиторий пользователей
	NoteRepo storage.NoteRepo    // хранилище заметок
	Pipeline *game.Pipeline      // конвейер мутаций
	Issuer   *token.Issuer       // эмитент одноразовых токенов
	Channel  *realtime.ChannelServer
}

// NewRestServer создает новый HTTP сервер
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8080"
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	promMw := middleware.NewPrometheusMiddleware("street_crime")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:   router,
		userRepo: config.UserRepo,
		noteRepo: config.NoteRepo,
		pipeline: config.Pipeline,
		issuer:   config.Issuer,
		channel:  config.Channel,
		port:     config.Port,
		metrics:  NewServerMetrics(),
	}

	// Настраиваем маршруты
	server.setupRoutes()

	return server
}

// Router возвращает gin router (для httptest в тестах).
func (rs *RestServer) Router() *gin.Engine {
	return rs.router
}

// setupRoutes настраивает маршруты HTTP API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Группа API
	api := rs.router.Group("/api")

	// Эндпоинты аутентификации (без JWT защиты)
	authGroup := api.Group("/auth")
	{
		authGroup.POST("/login", rs.handleLogin)
		authGroup.POST("/register", rs.handleRegister)
	}

	// Защищенные эндпоинты (требуют JWT)
	protected := api.Group("/")
	protected.Use(rs.jwtMiddleware())
	{
		// Одноразовый токен для realtime-канала (только сотрудники)
		protected.GET("/admin_token", rs.handleAdminToken)

		// Состояние игроков
		protected.GET("/players", rs.handlePlayers)

		// Конвейер мутаций
		protected.POST("/modify", rs.handleModify)
		protected.POST("/action", rs.handleAction)

		// Заметки сотрудников
		protected.POST("/notes", rs.handleNotes)

		// Журнал аудита (только админ)
		protected.GET("/audit", rs.handleAudit)

		// Статистика сервера
		protected.GET("/stats", rs.handleStats)
	}

	// Realtime-канал админ-консоли
	if rs.channel != nil {
		rs.router.GET("/ws", rs.channel.HandleWS)
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// Start запускает HTTP сервер в отдельной горутине
func (rs *RestServer) Start() error {
	rs.srv = &http.Server{
		Addr:    rs.port,
		Handler: rs.router,
	}

	go func() {
		if err := rs.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("❌ Ошибка HTTP сервера: %v", err)
		}
	}()

	logging.Info("🌐 HTTP сервер запущен на %s", rs.port)
	return nil
}

// Stop останавливает HTTP сервер
func (rs *RestServer) Stop(ctx context.Context) error {
	if rs.srv == nil {
		return nil
	}
	if err := rs.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка остановки HTTP сервера: %w", err)
	}
	logging.Info("HTTP сервер остановлен")
	return nil
}
