package realtime

import (
	"encoding/json"
	"sync"

	"github.com/annel0/street-crime/internal/logging"
	"github.com/gorilla/websocket"
)

// Client одно websocket-соединение. Исходящие сообщения идут через
// буферизованный канал send; при переполнении (медленный клиент)
// сообщение дропается — доставка fire-and-forget.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	mu         sync.Mutex
	userID     uint64
	authorized bool
	closed     bool
}

// Emit сериализует событие и ставит его в очередь отправки клиенту.
func (c *Client) Emit(event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		logging.Error("Ошибка сериализации события %s: %v", event, err)
		return
	}
	c.EmitRaw(event, payload)
}

// EmitRaw ставит уже сериализованную полезную нагрузку в очередь отправки.
func (c *Client) EmitRaw(event string, payload []byte) {
	frame, err := json.Marshal(Message{Event: event, Data: payload})
	if err != nil {
		logging.Error("Ошибка сериализации кадра %s: %v", event, err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- frame:
	default:
		// Очередь клиента полна — дропаем, без гарантий доставки
		logging.Warn("Очередь отправки клиента %d переполнена, событие %s потеряно", c.userID, event)
	}
}

// closeSend помечает клиента закрытым и закрывает очередь отправки.
// После вызова EmitRaw превращается в no-op.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// UserID возвращает ID авторизованного пользователя (0 до авторизации).
func (c *Client) UserID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Authorized возвращает true после успешного handshake.
func (c *Client) Authorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

func (c *Client) setAuthorized(userID uint64) {
	c.mu.Lock()
	c.userID = userID
	c.authorized = true
	c.mu.Unlock()
}

// Hub явный реестр соединений realtime-канала с комнатами.
// Владеет жизненным циклом членства: Join при успешном handshake,
// Leave при закрытии соединения. Никакого глобального состояния —
// экземпляр hub принадлежит серверу канала.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool
}

// NewHub создаёт пустой реестр соединений.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]bool),
	}
}

// Join добавляет клиента в комнату.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][c] = true
}

// Leave удаляет клиента из всех комнат. Вызывается при разрыве
// соединения; состояние подписки не сохраняется.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		if members[c] {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// RoomSize возвращает число клиентов в комнате.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Broadcast отправляет событие всем клиентам комнаты.
func (h *Hub) Broadcast(room string, event string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		logging.Error("Ошибка сериализации broadcast %s: %v", event, err)
		return
	}
	h.BroadcastRaw(room, event, payload)
}

// BroadcastRaw отправляет уже сериализованную полезную нагрузку
// всем клиентам комнаты. Fire-and-forget: подтверждений нет,
// отключившиеся клиенты событие не получат.
func (h *Hub) BroadcastRaw(room string, event string, payload []byte) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		c.EmitRaw(event, payload)
	}
}
