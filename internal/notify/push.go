package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/partner-console/internal/model"
	"github.com/mmeshcher/partner-console/internal/validation"
)

const (
	// DefaultMaxAttempts - число запросов заказов при разрешении push-уведомления.
	DefaultMaxAttempts = 2
	// DefaultRetryDelay - пауза перед повторным запросом.
	DefaultRetryDelay = 3 * time.Second
)

var (
	// ErrNotFound - общая категория ошибок разрешения уведомления.
	ErrNotFound = errors.New("not found")
	// ErrRestaurantNotFound возвращается, если ресторана из уведомления нет в списке.
	ErrRestaurantNotFound = fmt.Errorf("restaurant %w", ErrNotFound)
	// ErrOrderNotFound возвращается, если заказ не появился после всех попыток.
	ErrOrderNotFound = fmt.Errorf("order %w", ErrNotFound)
	// ErrInvalidPayload возвращается, если в уведомлении нет ресторана или заказа.
	ErrInvalidPayload = errors.New("push payload has no restaurant or order id")
)

// PushPayload - данные push-уведомления о заказе.
type PushPayload struct {
	RestaurantID string
	OrderID      string
}

// ParsePushPayload извлекает идентификаторы из уведомления. Поддерживаются оба варианта имён
// полей: restaurant_id/restaurantId и order_number/orderId/order_id.
func ParsePushPayload(data map[string]any) (PushPayload, error) {
	p := PushPayload{
		RestaurantID: pick(data, "restaurant_id", "restaurantId"),
		OrderID:      pick(data, "order_number", "orderId", "order_id", "orderNumber"),
	}
	if p.RestaurantID == "" || p.OrderID == "" {
		return p, ErrInvalidPayload
	}
	return p, nil
}

func pick(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := validation.String(data[k]); s != "" {
			return s
		}
	}
	return ""
}

// Resolution - явное состояние разрешения уведомления с ограниченным числом попыток.
type Resolution struct {
	Payload       PushPayload
	Restaurant    model.Restaurant
	Attempt       int
	MaxAttempts   int
	RetryDelay    time.Duration
	NextAttemptAt time.Time
	Done          bool
	Order         model.Order
	Err           error
}

// NewResolution начинает разрешение уведомления. Если ресторана нет среди известных,
// разрешение сразу завершается ошибкой ErrRestaurantNotFound.
func NewResolution(p PushPayload, restaurants []model.Restaurant, maxAttempts int, retryDelay time.Duration, now time.Time) (*Resolution, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	r := &Resolution{
		Payload:       p,
		MaxAttempts:   maxAttempts,
		RetryDelay:    retryDelay,
		NextAttemptAt: now,
	}

	for _, rest := range restaurants {
		if rest.ID == p.RestaurantID {
			r.Restaurant = rest
			return r, nil
		}
	}

	r.Done = true
	r.Err = fmt.Errorf("%w: %s", ErrRestaurantNotFound, p.RestaurantID)
	return r, r.Err
}

// Due сообщает, пора ли выполнить очередной запрос заказов.
func (r *Resolution) Due(now time.Time) bool {
	return !r.Done && !now.Before(r.NextAttemptAt)
}

// Observe учитывает результат очередного запроса заказов. Возвращает true, когда разрешение
// завершено: найден заказ либо исчерпаны попытки (Err = ErrOrderNotFound).
func (r *Resolution) Observe(orders []model.Order, now time.Time) bool {
	if r.Done {
		return true
	}

	r.Attempt++
	for _, o := range orders {
		if o.OrderNumber == r.Payload.OrderID || o.UniqueID == r.Payload.OrderID {
			r.Order = o
			r.Done = true
			return true
		}
	}

	if r.Attempt >= r.MaxAttempts {
		r.Done = true
		r.Err = fmt.Errorf("%w: %s in restaurant %s", ErrOrderNotFound, r.Payload.OrderID, r.Payload.RestaurantID)
		return true
	}

	r.NextAttemptAt = now.Add(r.RetryDelay)
	return false
}

// ObserveError учитывает неудачный запрос заказов. Попытка расходуется; после последней
// разрешение завершается этой ошибкой.
func (r *Resolution) ObserveError(err error, now time.Time) bool {
	if r.Done {
		return true
	}

	r.Attempt++
	if r.Attempt >= r.MaxAttempts {
		r.Done = true
		r.Err = err
		return true
	}

	r.NextAttemptAt = now.Add(r.RetryDelay)
	return false
}

// Fail завершает разрешение ошибкой, например при отмене контекста.
func (r *Resolution) Fail(err error) {
	r.Done = true
	r.Err = err
}
