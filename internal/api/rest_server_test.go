package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/annel0/street-crime/internal/auth"
	"github.com/annel0/street-crime/internal/eventbus"
	"github.com/annel0/street-crime/internal/game"
	"github.com/annel0/street-crime/internal/storage"
	"github.com/annel0/street-crime/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *RestServer
	users  *auth.MemoryUserRepo
	audit  *storage.MemoryAuditRepo
	issuer *token.Issuer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	users := auth.NewMemoryUserRepo()
	audit := storage.NewMemoryAuditRepo()
	notes := storage.NewMemoryNoteRepo()
	bus := eventbus.NewMemoryBus(64)
	t.Cleanup(func() { _ = bus.Close() })

	issuer := token.NewIssuer(token.NewMemoryStore(), 30*time.Second)
	pipeline := game.NewPipeline(users, audit, bus)

	server := NewRestServer(Config{
		Port:     ":0",
		UserRepo: users,
		NoteRepo: notes,
		Pipeline: pipeline,
		Issuer:   issuer,
	})

	return &testEnv{server: server, users: users, audit: audit, issuer: issuer}
}

// seedUser создаёт пользователя с паролем "secret" и возвращает его JWT.
func (e *testEnv) seedUser(t *testing.T, username string, role auth.Role) (*auth.User, string) {
	t.Helper()
	hash, err := auth.HashPassword("secret")
	require.NoError(t, err)
	user, err := e.users.CreateUser(username, hash, role)
	require.NoError(t, err)
	tok, err := auth.GenerateJWT(user)
	require.NoError(t, err)
	return user, tok
}

func (e *testEnv) do(t *testing.T, method, path, jwt string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if jwt != "" {
		req.Header.Set("Authorization", "Bearer "+jwt)
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "player1", auth.RolePlayer)

	w := env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "player1",
		"password": "secret",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["token"])
	assert.Equal(t, "player", body["role"])

	// Неверный пароль
	w = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "player1",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Несуществующий пользователь
	w = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "ghost",
		"password": "secret",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "newbie",
		"password": "secret",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	// Новые аккаунты всегда получают роль player
	user, err := env.users.GetUserByUsername("newbie")
	require.NoError(t, err)
	assert.Equal(t, auth.RolePlayer, user.Role)

	// Дубликат
	w = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "newbie",
		"password": "secret",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Слишком короткое имя
	w = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "ab",
		"password": "secret",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRequiresJWT(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/admin_token", "/api/players", "/api/audit"} {
		w := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "путь %s без JWT", path)
	}

	w := env.do(t, http.MethodGet, "/api/players", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminToken(t *testing.T) {
	env := newTestEnv(t)
	_, playerJWT := env.seedUser(t, "player1", auth.RolePlayer)
	helpdesk, helpJWT := env.seedUser(t, "help", auth.RoleHelpdesk)

	// Игроку токен не выдаётся
	w := env.do(t, http.MethodGet, "/api/admin_token", playerJWT, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decodeJSON(t, w)["error"])

	// Любому сотруднику (включая helpdesk) выдаётся
	w = env.do(t, http.MethodGet, "/api/admin_token", helpJWT, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, float64(30), body["ttl"])

	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)

	// Токен действительно отображается на владельца
	userID, ok, err := env.issuer.Consume(context.Background(), tok)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, helpdesk.ID, userID)
}

func TestAdminTokenRoleFromDB(t *testing.T) {
	env := newTestEnv(t)
	mod, modJWT := env.seedUser(t, "mod", auth.RoleModerator)

	// Понижение роли действует немедленно, несмотря на живую сессию
	mod.Role = auth.RolePlayer
	require.NoError(t, env.users.UpdateUser(mod))

	w := env.do(t, http.MethodGet, "/api/admin_token", modJWT, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestModify(t *testing.T) {
	env := newTestEnv(t)
	target, _ := env.seedUser(t, "player1", auth.RolePlayer)
	_, playerJWT := env.seedUser(t, "player2", auth.RolePlayer)
	_, helpJWT := env.seedUser(t, "help", auth.RoleHelpdesk)
	_, modJWT := env.seedUser(t, "mod", auth.RoleModerator)

	cash := 999.0
	req := map[string]interface{}{"user_id": target.ID, "cash": cash}

	// player и helpdesk не имеют права на мутации
	for name, jwt := range map[string]string{"player": playerJWT, "helpdesk": helpJWT} {
		w := env.do(t, http.MethodPost, "/api/modify", jwt, req)
		assert.Equal(t, http.StatusForbidden, w.Code, "роль %s", name)
	}

	// moderator может
	w := env.do(t, http.MethodPost, "/api/modify", modJWT, req)
	require.Equal(t, http.StatusOK, w.Code)

	updated, err := env.users.GetUserByID(target.ID)
	require.NoError(t, err)
	assert.Equal(t, cash, updated.Cash)

	// Ровно одна запись аудита на мутацию
	assert.Equal(t, 1, env.audit.Count())
}

func TestModifyUnknownTarget(t *testing.T) {
	env := newTestEnv(t)
	_, modJWT := env.seedUser(t, "mod", auth.RoleModerator)

	w := env.do(t, http.MethodPost, "/api/modify", modJWT, map[string]interface{}{
		"user_id": 777,
	})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_user", decodeJSON(t, w)["error"])
}

func TestModifyMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	_, modJWT := env.seedUser(t, "mod", auth.RoleModerator)

	// Битое тело эквивалентно пустому объекту: user_id=0 не существует
	w := env.do(t, http.MethodPost, "/api/modify", modJWT, "{not json")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestActionCrime(t *testing.T) {
	env := newTestEnv(t)
	player, playerJWT := env.seedUser(t, "player1", auth.RolePlayer)

	// Стартовые cash=250, rep=0, rank=0: earn = 20
	w := env.do(t, http.MethodPost, "/api/action", playerJWT, map[string]string{
		"action": "crime",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeJSON(t, w)
	assert.Equal(t, float64(270), body["cash"])
	assert.Equal(t, float64(2), body["rep"])

	updated, err := env.users.GetUserByID(player.ID)
	require.NoError(t, err)
	assert.Equal(t, 270.0, updated.Cash)
	assert.Equal(t, 2, updated.Rep)
}

func TestAuditAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	target, _ := env.seedUser(t, "player1", auth.RolePlayer)
	_, modJWT := env.seedUser(t, "mod", auth.RoleModerator)
	_, adminJWT := env.seedUser(t, "admin", auth.RoleAdmin)

	// Наполняем журнал парой мутаций
	for i := 0; i < 2; i++ {
		rep := 10 * (i + 1)
		w := env.do(t, http.MethodPost, "/api/modify", adminJWT, map[string]interface{}{
			"user_id": target.ID,
			"rep":     rep,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	// moderator не видит аудит
	w := env.do(t, http.MethodGet, "/api/audit", modJWT, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// admin видит, свежие записи первыми
	w = env.do(t, http.MethodGet, "/api/audit", adminJWT, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Greater(t, entries[0]["id"], entries[1]["id"])

	// limit ограничивает выборку
	w = env.do(t, http.MethodGet, "/api/audit?limit=1", adminJWT, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
}

func TestPlayersSnapshot(t *testing.T) {
	env := newTestEnv(t)
	_, jwt := env.seedUser(t, "admin", auth.RoleAdmin)
	env.seedUser(t, "player1", auth.RolePlayer)

	w := env.do(t, http.MethodGet, "/api/players", jwt, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var players []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &players))
	require.Len(t, players, 2)
	assert.Equal(t, "admin", players[0]["username"])
	assert.Equal(t, "player1", players[1]["username"])
}

func TestNotes(t *testing.T) {
	env := newTestEnv(t)
	target, _ := env.seedUser(t, "player1", auth.RolePlayer)
	_, modJWT := env.seedUser(t, "mod", auth.RoleModerator)

	w := env.do(t, http.MethodPost, "/api/notes", modJWT, map[string]interface{}{
		"user_id": target.ID,
		"text":    "подозрительная активность",
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeJSON(t, w)["status"])
}

// brokenAuditRepo всегда отказывает в записи (имитация недоступной БД).
type brokenAuditRepo struct{}

func (brokenAuditRepo) Append(ctx context.Context, entry *storage.AuditEntry) error {
	return errors.New("журнал аудита недоступен")
}

func (brokenAuditRepo) Recent(ctx context.Context, limit int) ([]*storage.AuditEntry, error) {
	return nil, errors.New("журнал аудита недоступен")
}

// TestActionErrorMapping тестирует разграничение ошибок действия:
// несуществующий актор — 404, внутренний сбой — 500.
func TestActionErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	// JWT с валидной подписью, но несуществующим пользователем
	ghost := &auth.User{ID: 9999, Username: "ghost", Role: auth.RolePlayer}
	ghostJWT, err := auth.GenerateJWT(ghost)
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/api/action", ghostJWT, map[string]string{"action": "crime"})
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no_user", decodeJSON(t, w)["error"])

	// Сбой записи аудита не должен маскироваться под no_user
	users := auth.NewMemoryUserRepo()
	bus := eventbus.NewMemoryBus(16)
	t.Cleanup(func() { _ = bus.Close() })

	server := NewRestServer(Config{
		Port:     ":0",
		UserRepo: users,
		NoteRepo: storage.NewMemoryNoteRepo(),
		Pipeline: game.NewPipeline(users, brokenAuditRepo{}, bus),
		Issuer:   token.NewIssuer(token.NewMemoryStore(), 30*time.Second),
	})
	broken := &testEnv{server: server, users: users}

	_, playerJWT := broken.seedUser(t, "player1", auth.RolePlayer)
	w = broken.do(t, http.MethodPost, "/api/action", playerJWT, map[string]string{"action": "crime"})
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal", decodeJSON(t, w)["error"])
}
