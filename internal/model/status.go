// Package model содержит доменные сущности консоли партнёра: статусы, роли, заказы и рестораны.
package model

import "strings"

// OrderStatus описывает статус заказа в жизненном цикле партнёрской консоли.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusConfirmed OrderStatus = "confirmed"
	StatusPreparing OrderStatus = "preparing"
	StatusReady     OrderStatus = "ready"
	StatusOnTheWay  OrderStatus = "on_the_way"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
	StatusRefunded  OrderStatus = "refunded"
)

// StatusFlow задаёт порядок прямого продвижения заказа.
var StatusFlow = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusOnTheWay,
	StatusDelivered,
}

// AllStatuses перечисляет все статусы заказа, включая поглощающие.
var AllStatuses = []OrderStatus{
	StatusPending,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusOnTheWay,
	StatusDelivered,
	StatusCancelled,
	StatusRefunded,
}

var statusCodes = map[OrderStatus]int{
	StatusPending:   0,
	StatusConfirmed: 1,
	StatusPreparing: 2,
	StatusReady:     3,
	StatusOnTheWay:  4,
	StatusDelivered: 5,
	StatusCancelled: 6,
	StatusRefunded:  7,
}

var statusLabels = map[OrderStatus]string{
	StatusPending:   "Pending",
	StatusConfirmed: "Confirmed",
	StatusPreparing: "Preparing",
	StatusReady:     "Ready",
	StatusOnTheWay:  "On the way",
	StatusDelivered: "Delivered",
	StatusCancelled: "Cancelled",
	StatusRefunded:  "Refunded",
}

var statusColors = map[OrderStatus]string{
	StatusPending:   "warning",
	StatusConfirmed: "info",
	StatusPreparing: "primary",
	StatusReady:     "accent",
	StatusOnTheWay:  "secondary",
	StatusDelivered: "success",
	StatusCancelled: "danger",
	StatusRefunded:  "muted",
}

// текст кнопки, переводящей заказ в указанный статус
var actionLabels = map[OrderStatus]string{
	StatusConfirmed: "Accept order",
	StatusPreparing: "Start preparing",
	StatusReady:     "Mark ready",
	StatusOnTheWay:  "Out for delivery",
	StatusDelivered: "Mark delivered",
}

// StatusFromCode возвращает статус по числовому коду сервера. Неизвестные коды трактуются как pending.
func StatusFromCode(code int) OrderStatus {
	for s, c := range statusCodes {
		if c == code {
			return s
		}
	}
	return StatusPending
}

// ParseStatus разбирает текстовое представление статуса без учёта регистра и разделителей.
// Второе значение сообщает, было ли значение распознано.
func ParseStatus(v string) (OrderStatus, bool) {
	key := strings.ToLower(strings.TrimSpace(v))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	switch key {
	case "ontheway", "on_way", "out_for_delivery":
		return StatusOnTheWay, true
	case "accepted":
		return StatusConfirmed, true
	case "canceled":
		return StatusCancelled, true
	}
	s := OrderStatus(key)
	if _, ok := statusCodes[s]; ok {
		return s, true
	}
	return StatusPending, false
}

// Code возвращает числовой код статуса для API сервера.
func (s OrderStatus) Code() int {
	return statusCodes[s]
}

// Valid сообщает, входит ли статус в словарь.
func (s OrderStatus) Valid() bool {
	_, ok := statusCodes[s]
	return ok
}

// Label возвращает отображаемое название статуса.
func (s OrderStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

// Color возвращает токен цвета интерфейса для статуса.
func (s OrderStatus) Color() string {
	if c, ok := statusColors[s]; ok {
		return c
	}
	return "muted"
}

// FlowIndex возвращает позицию статуса в StatusFlow или -1.
func (s OrderStatus) FlowIndex() int {
	for i, st := range StatusFlow {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal сообщает, что из статуса нет исходящих переходов.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}

// Next возвращает следующий статус прямого продвижения.
func (s OrderStatus) Next() (OrderStatus, bool) {
	i := s.FlowIndex()
	if i < 0 || i == len(StatusFlow)-1 {
		return "", false
	}
	return StatusFlow[i+1], true
}

// Action описывает кнопку перевода заказа в следующий статус.
type Action struct {
	Target OrderStatus
	Label  string
	Color  string
}

// NextAction возвращает кнопку следующего шага для статуса; для терминальных статусов кнопки нет.
func NextAction(s OrderStatus) (Action, bool) {
	next, ok := s.Next()
	if !ok {
		return Action{}, false
	}
	return Action{
		Target: next,
		Label:  actionLabels[next],
		Color:  next.Color(),
	}, true
}

// RestaurantStatus описывает доступность ресторана для приёма заказов.
type RestaurantStatus string

const (
	RestaurantOnline   RestaurantStatus = "online"
	RestaurantOffline  RestaurantStatus = "offline"
	RestaurantInactive RestaurantStatus = "inactive"
)

var restaurantCodes = map[RestaurantStatus]int{
	RestaurantOffline:  0,
	RestaurantOnline:   1,
	RestaurantInactive: 2,
}

// RestaurantStatusFromCode возвращает статус ресторана по коду сервера; неизвестный код означает offline.
func RestaurantStatusFromCode(code int) RestaurantStatus {
	for s, c := range restaurantCodes {
		if c == code {
			return s
		}
	}
	return RestaurantOffline
}

// ParseRestaurantStatus разбирает текстовый статус ресторана.
func ParseRestaurantStatus(v string) (RestaurantStatus, bool) {
	s := RestaurantStatus(strings.ToLower(strings.TrimSpace(v)))
	if _, ok := restaurantCodes[s]; ok {
		return s, true
	}
	return RestaurantOffline, false
}

// Code возвращает числовой код статуса ресторана.
func (s RestaurantStatus) Code() int {
	return restaurantCodes[s]
}
