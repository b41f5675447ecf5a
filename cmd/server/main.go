package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/street-crime/internal/api"
	"github.com/annel0/street-crime/internal/auth"
	"github.com/annel0/street-crime/internal/config"
	"github.com/annel0/street-crime/internal/eventbus"
	"github.com/annel0/street-crime/internal/game"
	"github.com/annel0/street-crime/internal/logging"
	"github.com/annel0/street-crime/internal/realtime"
	"github.com/annel0/street-crime/internal/storage"
	"github.com/annel0/street-crime/internal/token"
)

func main() {
	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск Street Crime Server: игра + админ-консоль...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load("")
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{} // конфиг не задан — работаем на дефолтах
		logging.Warn("Файл конфигурации не задан, используются значения по умолчанию")
	}

	restPort := fmt.Sprintf(":%d", cfg.Server.GetHTTPPort())
	tokenTTL := time.Duration(cfg.Token.GetTokenTTL()) * time.Second
	logging.Info("📡 Конфигурация сервера: REST=%s, TTL админского токена=%s", restPort, tokenTTL)

	// Секрет подписи сессионных JWT (base64, >=32 байт)
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		if err := auth.SetJWTSecret(secret); err != nil {
			logging.Error("❌ Некорректный JWT_SECRET: %v", err)
			log.Fatalf("❌ Некорректный JWT_SECRET: %v", err)
		}
		logging.Info("🔐 JWT секрет загружен из окружения")
	}

	// === ХРАНИЛИЩА ===
	var (
		userRepo  auth.UserRepository
		auditRepo storage.AuditRepo
		noteRepo  storage.NoteRepo
	)

	if cfg.Database.UseMariaDB {
		logging.Debug("Подключение к MariaDB...")
		mariaRepo, err := auth.NewMariaUserRepo(auth.MariaConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logging.Error("❌ Ошибка подключения к MariaDB: %v", err)
			log.Fatalf("❌ Ошибка подключения к MariaDB: %v", err)
		}
		defer mariaRepo.Close()

		// Аудит и заметки живут в той же БД на общем пуле соединений
		mariaStore, err := storage.NewMariaStore(mariaRepo.DB())
		if err != nil {
			logging.Error("❌ Ошибка инициализации хранилища аудита: %v", err)
			log.Fatalf("❌ Ошибка инициализации хранилища аудита: %v", err)
		}

		userRepo = mariaRepo
		auditRepo = mariaStore
		noteRepo = mariaStore
		logging.Info("✅ MariaDB: пользователи, аудит и заметки")
	} else {
		memRepo := auth.NewMemoryUserRepo()
		if err := seedDefaultUsers(memRepo); err != nil {
			logging.Error("❌ Ошибка создания стартовых аккаунтов: %v", err)
			log.Fatalf("❌ Ошибка создания стартовых аккаунтов: %v", err)
		}
		userRepo = memRepo
		auditRepo = storage.NewMemoryAuditRepo()
		noteRepo = storage.NewMemoryNoteRepo()
		logging.Warn("⚠️ In-memory хранилище: данные будут потеряны при перезапуске")
	}

	// === ХРАНИЛИЩЕ ОДНОРАЗОВЫХ ТОКЕНОВ ===
	var tokenStore token.Store
	if cfg.Redis.UseRedis {
		redisStore, err := token.NewRedisStore(token.RedisStoreConfig{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logging.Error("❌ Ошибка подключения к Redis: %v", err)
			log.Fatalf("❌ Ошибка подключения к Redis: %v", err)
		}
		tokenStore = redisStore
	} else {
		tokenStore = token.NewMemoryStore()
		logging.Warn("⚠️ Токены в памяти: одноразовость не работает между инстансами")
	}
	defer tokenStore.Close()

	issuer := token.NewIssuer(tokenStore, tokenTTL)

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		natsBus, err := eventbus.NewNatsBus(cfg.EventBus.URL)
		if err != nil {
			logging.Error("❌ Ошибка подключения к NATS: %v", err)
			log.Fatalf("❌ Ошибка подключения к NATS: %v", err)
		}
		bus = natsBus
		logging.Info("✅ Шина событий: NATS %s", cfg.EventBus.URL)
	} else {
		bus = eventbus.NewMemoryBus(256)
		logging.Info("Шина событий: in-memory (один инстанс)")
	}
	defer bus.Close()

	// === КОНВЕЙЕР МУТАЦИЙ И REALTIME-КАНАЛ ===
	pipeline := game.NewPipeline(userRepo, auditRepo, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel, err := realtime.NewChannelServer(ctx, realtime.NewHub(), issuer, userRepo, bus)
	if err != nil {
		logging.Error("❌ Ошибка создания realtime-канала: %v", err)
		log.Fatalf("❌ Ошибка создания realtime-канала: %v", err)
	}

	// === HTTP СЕРВЕР ===
	restServer := api.NewRestServer(api.Config{
		Port:     restPort,
		UserRepo: userRepo,
		NoteRepo: noteRepo,
		Pipeline: pipeline,
		Issuer:   issuer,
		Channel:  channel,
	})

	if err := restServer.Start(); err != nil {
		logging.Error("❌ Ошибка запуска HTTP сервера: %v", err)
		log.Fatalf("❌ Ошибка запуска HTTP сервера: %v", err)
	}

	logging.Info("✅ Все сервисы запущены и готовы принимать соединения")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   📺 Realtime-канал: ws://localhost%s/ws", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)
	logging.Info("💡 Примеры использования:")
	logging.Info("   curl http://localhost%s/health", restPort)
	logging.Info("   curl -X POST http://localhost%s/api/auth/login -H 'Content-Type: application/json' -d '{\"username\":\"admin\",\"password\":\"adminpass\"}'", restPort)

	// Канал для получения сигналов ОС
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := restServer.Stop(shutdownCtx); err != nil {
		logging.Error("❌ Ошибка остановки HTTP сервера: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// seedDefaultUsers создает стартовые аккаунты для in-memory режима.
// Набор совпадает с сидом MariaDB-репозитория.
func seedDefaultUsers(repo *auth.MemoryUserRepo) error {
	seed := []struct {
		username  string
		password  string
		role      auth.Role
		cash      float64
		rep       int
		rankIndex int
	}{
		{"admin", "adminpass", auth.RoleAdmin, 10000, 10000, 4},
		{"mod", "modpass", auth.RoleModerator, 1000, 1000, 0},
		{"help", "helppass", auth.RoleHelpdesk, 500, 200, 0},
		{"player1", "player1", auth.RolePlayer, 500, 50, 0},
		{"player2", "player2", auth.RolePlayer, 1200, 200, 0},
	}

	for _, s := range seed {
		hash, err := auth.HashPassword(s.password)
		if err != nil {
			return err
		}
		user, err := repo.CreateUser(s.username, hash, s.role)
		if err != nil {
			return err
		}
		user.Cash = s.cash
		user.Rep = s.rep
		user.RankIndex = s.rankIndex
		if err := repo.UpdateUser(user); err != nil {
			return err
		}
	}
	return nil
}
