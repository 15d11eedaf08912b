package service

import "github.com/mmeshcher/partner-console/internal/model"

// AlertType - вид события для консоли оператора.
type AlertType string

const (
	AlertNewOrder         AlertType = "new_order"
	AlertVibrate          AlertType = "vibrate"
	AlertStopAlarm        AlertType = "stop_alarm"
	AlertCountdown        AlertType = "countdown"
	AlertAutoCancelled    AlertType = "auto_cancelled"
	AlertAutoCancelFailed AlertType = "auto_cancel_failed"
	AlertOrderUpdated     AlertType = "order_updated"
	AlertOrdersChanged    AlertType = "orders_changed"
)

// Сообщения, которые видит оператор.
const (
	MessageOrderTimedOut   = "order timed out"
	MessageOrderNotLocated = "could not locate order"
)

// Alert - событие сигнала или изменения заказов ресторана.
type Alert struct {
	Type         AlertType
	RestaurantID string
	Order        *model.Order
	Remaining    int
	Message      string
}

// Alerter доставляет события консоли оператору.
type Alerter interface {
	Publish(a Alert)
}

// AlerterFunc позволяет использовать функцию как Alerter.
type AlerterFunc func(a Alert)

// Publish вызывает f(a).
func (f AlerterFunc) Publish(a Alert) { f(a) }

type nopAlerter struct{}

func (nopAlerter) Publish(Alert) {}
