// Package ws рассылает события сигнала и изменения заказов консолям, подписанным на ресторан.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/mmeshcher/partner-console/internal/service"
)

// Event - сообщение, отправляемое клиенту.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type alertPayload struct {
	RestaurantID string `json:"restaurant_id"`
	UniqueID     string `json:"unique_id,omitempty"`
	OrderNumber  string `json:"order_number,omitempty"`
	Status       string `json:"status,omitempty"`
	Remaining    int    `json:"remaining_seconds,omitempty"`
	Message      string `json:"message,omitempty"`
}

type roomEvent struct {
	RestaurantID string
	Event        Event
}

// Hub хранит клиентов по ресторанам и рассылает им события.
type Hub struct {
	logger *zap.Logger

	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *roomEvent
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub создаёт хаб. Запускается через Run.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *roomEvent, 256),
		done:       make(chan struct{}),
	}
}

// Run обслуживает регистрацию клиентов и рассылку до отмены контекста.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.restaurantID] == nil {
				h.rooms[client.restaurantID] = make(map[*Client]bool)
			}
			h.rooms[client.restaurantID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case ev := <-h.broadcast:
			message, err := json.Marshal(ev.Event)
			if err != nil {
				h.logger.Error("encode ws event", zap.Error(err))
				continue
			}

			h.mu.Lock()
			for client := range h.rooms[ev.RestaurantID] {
				select {
				case client.send <- message:
				default:
					// отстающий клиент отключается
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.rooms[client.restaurantID]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.restaurantID)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.rooms {
		for client := range clients {
			h.removeLocked(client)
		}
	}
}

// Broadcast ставит событие в очередь рассылки клиентам ресторана. При переполненной очереди
// событие отбрасывается.
func (h *Hub) Broadcast(restaurantID string, ev Event) {
	select {
	case h.broadcast <- &roomEvent{RestaurantID: restaurantID, Event: ev}:
	default:
		h.logger.Warn("ws broadcast queue full", zap.String("restaurant", restaurantID), zap.String("type", ev.Type))
	}
}

// Publish реализует service.Alerter.
func (h *Hub) Publish(a service.Alert) {
	p := alertPayload{
		RestaurantID: a.RestaurantID,
		Remaining:    a.Remaining,
		Message:      a.Message,
	}
	if a.Order != nil {
		p.UniqueID = a.Order.UniqueID
		p.OrderNumber = a.Order.OrderNumber
		p.Status = string(a.Order.Status)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		h.logger.Error("encode alert", zap.Error(err))
		return
	}

	h.Broadcast(a.RestaurantID, Event{Type: string(a.Type), Payload: payload})
}

// Clients возвращает число клиентов ресторана.
func (h *Hub) Clients(restaurantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[restaurantID])
}
