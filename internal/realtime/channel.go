package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/annel0/street-crime/internal/auth"
	"github.com/annel0/street-crime/internal/eventbus"
	"github.com/annel0/street-crime/internal/logging"
	"github.com/annel0/street-crime/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // браузерные клиенты с любых origin; сессию даёт токен
	},
}

// ChannelServer обслуживает realtime-канал админ-консоли.
// Машина состояний соединения: Connected (неавторизовано) →
// admin_auth с токеном → Authorized (в admin_room) либо отказ
// с возможностью повтора. Авторизованные клиенты получают все
// admin_update до разрыва соединения.
type ChannelServer struct {
	hub    *Hub
	issuer *token.Issuer
	users  auth.UserRepository
}

// NewChannelServer создаёт сервер канала и подписывает hub на шину событий:
// мутации, опубликованные любым инстансом, пересылаются в admin_room.
func NewChannelServer(ctx context.Context, hub *Hub, issuer *token.Issuer, users auth.UserRepository, bus eventbus.EventBus) (*ChannelServer, error) {
	cs := &ChannelServer{
		hub:    hub,
		issuer: issuer,
		users:  users,
	}

	_, err := bus.Subscribe(ctx, eventbus.Filter{Types: []string{EventAdminUpdate}}, func(ctx context.Context, ev *eventbus.Envelope) {
		cs.hub.BroadcastRaw(AdminRoom, EventAdminUpdate, ev.Payload)
	})
	if err != nil {
		return nil, err
	}

	return cs, nil
}

// Hub возвращает реестр соединений (для тестов и метрик).
func (cs *ChannelServer) Hub() *Hub {
	return cs.hub
}

// HandleWS gin-обработчик апгрейда соединения на /ws.
func (cs *ChannelServer) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error("Ошибка апгрейда websocket: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
	}

	logging.Debug("Новое realtime-соединение с %s", c.ClientIP())

	go client.writePump()
	cs.readPump(c.Request.Context(), client)
}

// readPump читает кадры соединения до разрыва.
// Единственное поддерживаемое входящее событие — admin_auth.
func (cs *ChannelServer) readPump(ctx context.Context, client *Client) {
	defer func() {
		cs.hub.Leave(client)
		client.closeSend()
		client.conn.Close()
		logging.Debug("Realtime-соединение закрыто (user=%d)", client.UserID())
	}()

	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Некорректный кадр игнорируем, соединение не рвём
			continue
		}

		switch msg.Event {
		case EventAdminAuth:
			var req AuthRequest
			// Пустой/битый data эквивалентен пустому токену
			_ = json.Unmarshal(msg.Data, &req)
			cs.handleAdminAuth(ctx, client, req.Token)
		default:
			// Неизвестные события молча игнорируются
		}
	}
}

// handleAdminAuth выполняет handshake: токен → пользователь → роль.
// При успехе клиент вступает в admin_room и получает снимок состояния.
func (cs *ChannelServer) handleAdminAuth(ctx context.Context, client *Client, tok string) {
	user, result := cs.authenticate(ctx, tok)
	client.Emit(EventAdminAuthResult, result)
	if !result.OK {
		logging.Debug("Отказ в авторизации канала: %s", result.Reason)
		return
	}

	client.setAuthorized(user.ID)
	cs.hub.Join(AdminRoom, client)
	logging.Info("Сотрудник %s (id=%d) подключился к admin_room", user.Username, user.ID)

	snapshot, err := cs.buildSnapshot()
	if err != nil {
		logging.Error("Ошибка построения снимка: %v", err)
		return
	}
	client.Emit(EventInitialSnapshot, snapshot)
}

// authenticate проверяет одноразовый токен и роль пользователя.
// Токен инвалидируется независимо от исхода проверки роли.
func (cs *ChannelServer) authenticate(ctx context.Context, tok string) (*auth.User, AuthResult) {
	userID, ok, err := cs.issuer.Consume(ctx, tok)
	if err != nil {
		logging.Error("Ошибка проверки админского токена: %v", err)
		return nil, AuthResult{OK: false, Reason: ReasonInvalidToken}
	}
	if !ok {
		return nil, AuthResult{OK: false, Reason: ReasonInvalidToken}
	}

	user, err := cs.users.GetUserByID(userID)
	if err != nil || !user.Role.IsStaff() {
		return nil, AuthResult{OK: false, Reason: ReasonNotStaff}
	}

	return user, AuthResult{OK: true}
}

// buildSnapshot собирает снимок всех пользователей на текущий момент.
func (cs *ChannelServer) buildSnapshot() ([]PlayerSnapshot, error) {
	users, err := cs.users.ListUsers()
	if err != nil {
		return nil, err
	}

	out := make([]PlayerSnapshot, 0, len(users))
	for _, u := range users {
		out = append(out, PlayerSnapshot{
			UserID:    u.ID,
			Username:  u.Username,
			Cash:      u.Cash,
			Rep:       u.Rep,
			Role:      string(u.Role),
			RankIndex: u.RankIndex,
		})
	}
	return out, nil
}

// writePump пишет кадры из очереди send и поддерживает ping/pong.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
