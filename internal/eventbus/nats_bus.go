package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	nats "github.com/nats-io/nats.go"
)

// NatsBus реализует EventBus поверх core NATS pub/sub.
// Нужен при нескольких инстансах сервера: мутация на одном инстансе
// должна дойти до admin_room подписчиков на всех остальных.
// Без персистентности — broadcast у нас fire-and-forget.
type NatsBus struct {
	nc        *nats.Conn
	published uint64
	consumed  uint64
	dropped   uint64
}

// NewNatsBus подключается к NATS. url: nats://127.0.0.1:4222.
func NewNatsBus(url string) (*NatsBus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NatsBus{nc: nc}, nil
}

// Publish сериализует Envelope в JSON и публикует в subject events.<type>.
func (nb *NatsBus) Publish(ctx context.Context, ev *Envelope) error {
	subj := fmt.Sprintf("events.%s", ev.EventType)
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := nb.nc.Publish(subj, data); err != nil {
		atomic.AddUint64(&nb.dropped, 1)
		return err
	}
	atomic.AddUint64(&nb.published, 1)
	return nil
}

// Subscribe подписывается на события и вызывает handler асинхронно.
func (nb *NatsBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := "events.*"
	if len(f.Types) == 1 {
		subj = fmt.Sprintf("events.%s", f.Types[0])
	}

	natSub, err := nb.nc.Subscribe(subj, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		if !f.matches(&ev) {
			return
		}
		h(ctx, &ev)
		atomic.AddUint64(&nb.consumed, 1)
	})
	if err != nil {
		return nil, err
	}

	return &natsSub{natSub}, nil
}

// natsSub обёртка вокруг *nats.Subscription чтобы удовлетворить наш интерфейс.
type natsSub struct {
	s *nats.Subscription
}

func (n *natsSub) Unsubscribe() {
	_ = n.s.Unsubscribe()
}

// Metrics возвращает текущие метрики.
func (nb *NatsBus) Metrics() Stats {
	return Stats{
		Published: atomic.LoadUint64(&nb.published),
		Consumed:  atomic.LoadUint64(&nb.consumed),
		Dropped:   atomic.LoadUint64(&nb.dropped),
	}
}

// Close закрывает соединение с NATS.
func (nb *NatsBus) Close() error {
	return nb.nc.Drain()
}
