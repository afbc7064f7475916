// Package notify рассылает подписчикам пользователя уведомления о новых версиях.
// Доставка не гарантируется: клиент всё равно догоняет состояние через pull.
package notify

import (
	"log/slog"
	"sync"
)

// Event сообщает, что у пользователя появились изменения до Version включительно
type Event struct {
	UserID   string `json:"-"`
	DeviceID string `json:"device_id"` // устройство, которое сделало push
	Version  uint64 `json:"version"`
}

// Subscription канал событий одного подписчика
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	userID string
}

// Broker рассылает события подписчикам того же пользователя
type Broker struct {
	subs   map[string]map[*Subscription]struct{}
	logger *slog.Logger
	buffer int
	mu     sync.RWMutex
}

// NewBroker создаёт брокер. buffer размер очереди каждого подписчика.
func NewBroker(buffer int, logger *slog.Logger) *Broker {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broker{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe регистрирует подписчика пользователя
func (b *Broker) Subscribe(userID string) *Subscription {
	ch := make(chan Event, b.buffer)
	sub := &Subscription{C: ch, ch: ch, userID: userID}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[*Subscription]struct{})
	}
	b.subs[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe удаляет подписчика и закрывает его канал
func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.subs[sub.userID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.userID)
	}
	close(sub.ch)
}

// Publish никогда не блокирует: если очередь подписчика полна, событие отбрасывается.
// Следующее событие всё равно несёт более новую версию.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[ev.UserID] {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Debug("notification dropped, subscriber queue full",
				slog.String("user_id", ev.UserID),
				slog.Uint64("version", ev.Version))
		}
	}
}

// Subscribers возвращает число подписчиков пользователя
func (b *Broker) Subscribers(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}
