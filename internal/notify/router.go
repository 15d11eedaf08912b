// Package notify упорядочивает сигналы о новых заказах и разрешает push-уведомления в заказы.
package notify

import (
	"sync"
	"time"

	"github.com/mmeshcher/partner-console/internal/model"
)

const (
	// DefaultGraceDelay - пауза между сигналами, чтобы они не накладывались.
	DefaultGraceDelay = 2 * time.Second
	// DefaultSettleDelay - время, после которого неснятый сигнал освобождает слот.
	DefaultSettleDelay = 5*time.Minute + 10*time.Second
)

// Item - заказ в очереди сигналов.
type Item struct {
	Order       model.Order
	EnqueuedAt  time.Time
	ActivatedAt time.Time
}

// Event - изменение очереди, произошедшее на тике.
type Event struct {
	// Activated - заказ, сигнал которого стал активным.
	Activated *Item
	// Released - заказ, слот которого освобождён по истечении SettleDelay.
	Released *Item
}

// Router хранит FIFO-очередь сигналов и единственный активный слот.
type Router struct {
	grace  time.Duration
	settle time.Duration

	mu         sync.Mutex
	active     *Item
	queue      []Item
	releasedAt time.Time
}

// NewRouter создаёт очередь сигналов. Нулевые задержки заменяются значениями по умолчанию.
func NewRouter(grace, settle time.Duration) *Router {
	if grace <= 0 {
		grace = DefaultGraceDelay
	}
	if settle <= 0 {
		settle = DefaultSettleDelay
	}
	return &Router{grace: grace, settle: settle}
}

// Enqueue ставит заказ в очередь. Заказ, уже активный или стоящий в очереди, повторно не
// добавляется. Активный сигнал не вытесняется.
func (r *Router) Enqueue(o model.Order, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.containsLocked(o.UniqueID) {
		return false
	}
	r.queue = append(r.queue, Item{Order: o, EnqueuedAt: now})
	return true
}

// Dismiss снимает сигнал заказа: освобождает активный слот или убирает заказ из очереди.
func (r *Router) Dismiss(uniqueID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil && r.active.Order.UniqueID == uniqueID {
		r.active = nil
		r.releasedAt = now
		return true
	}
	for i, it := range r.queue {
		if it.Order.UniqueID == uniqueID {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Extend перезапускает отсчёт SettleDelay для активного заказа uniqueID.
func (r *Router) Extend(uniqueID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil || r.active.Order.UniqueID != uniqueID {
		return false
	}
	r.active.ActivatedAt = now
	return true
}

// Tick освобождает слот, простоявший дольше SettleDelay, и по истечении GraceDelay после
// освобождения делает активным первый заказ очереди.
func (r *Router) Tick(now time.Time) Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ev Event
	if r.active != nil && now.Sub(r.active.ActivatedAt) >= r.settle {
		released := *r.active
		ev.Released = &released
		r.active = nil
		r.releasedAt = now
	}

	if r.active == nil && len(r.queue) > 0 && (r.releasedAt.IsZero() || now.Sub(r.releasedAt) >= r.grace) {
		next := r.queue[0]
		r.queue = r.queue[1:]
		next.ActivatedAt = now
		r.active = &next
		activated := next
		ev.Activated = &activated
	}

	return ev
}

// Active возвращает активный сигнал.
func (r *Router) Active() (Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Item{}, false
	}
	return *r.active, true
}

// Len возвращает число заказов, ожидающих сигнала.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Reset очищает очередь и активный слот.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = nil
	r.queue = nil
	r.releasedAt = time.Time{}
}

func (r *Router) containsLocked(uniqueID string) bool {
	if r.active != nil && r.active.Order.UniqueID == uniqueID {
		return true
	}
	for _, it := range r.queue {
		if it.Order.UniqueID == uniqueID {
			return true
		}
	}
	return false
}
