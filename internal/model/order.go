package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item описывает позицию заказа.
type Item struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsBogo    bool            `json:"is_bogo"`
}

// Customer содержит контактные данные покупателя.
type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Timestamps хранит время каждого перехода заказа. Заполненное поле больше не меняется.
type Timestamps struct {
	AcceptedAt  *time.Time
	PrepStartAt *time.Time
	ReadyAt     *time.Time
	OnWayAt     *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	RefundedAt  *time.Time
}

// Order описывает заказ в партнёрской консоли.
type Order struct {
	UniqueID        string
	OrderNumber     string
	RestaurantID    string
	Status          OrderStatus
	Items           []Item
	TotalAmount     decimal.Decimal
	Customer        Customer
	DeliveryAddress string
	OrderTime       time.Time
	Timestamps
	AutoCancelled bool
}

// Restaurant описывает ресторан партнёра. Role - роль, которую сервер выдал пользователю
// в этом ресторане; ноль, если сервер роль не передал.
type Restaurant struct {
	ID     string
	Name   string
	Status RestaurantStatus
	Role   Role
}

func (t *Timestamps) field(s OrderStatus) **time.Time {
	switch s {
	case StatusConfirmed:
		return &t.AcceptedAt
	case StatusPreparing:
		return &t.PrepStartAt
	case StatusReady:
		return &t.ReadyAt
	case StatusOnTheWay:
		return &t.OnWayAt
	case StatusDelivered:
		return &t.DeliveredAt
	case StatusCancelled:
		return &t.CancelledAt
	case StatusRefunded:
		return &t.RefundedAt
	}
	return nil
}

// At возвращает время перехода в статус s, если оно известно.
func (t Timestamps) At(s OrderStatus) *time.Time {
	f := t.field(s)
	if f == nil {
		return nil
	}
	return *f
}

// SetOnce записывает время перехода в статус s, только если оно ещё не заполнено.
func (t *Timestamps) SetOnce(s OrderStatus, at time.Time) bool {
	f := t.field(s)
	if f == nil || *f != nil {
		return false
	}
	v := at
	*f = &v
	return true
}

// Keep возвращает копию t, в которой каждое поле, заполненное в prev, взято из prev.
func (t Timestamps) Keep(prev Timestamps) Timestamps {
	out := t
	for _, s := range AllStatuses {
		if p := prev.At(s); p != nil {
			v := *p
			*out.field(s) = &v
		}
	}
	return out
}

// Clone возвращает глубокую копию заказа.
func (o Order) Clone() Order {
	c := o
	if o.Items != nil {
		c.Items = make([]Item, len(o.Items))
		copy(c.Items, o.Items)
	}
	c.Timestamps = Timestamps{}.Keep(o.Timestamps)
	return c
}

// Equal сравнивает заказы по значению.
func (o Order) Equal(other Order) bool {
	if o.UniqueID != other.UniqueID ||
		o.OrderNumber != other.OrderNumber ||
		o.RestaurantID != other.RestaurantID ||
		o.Status != other.Status ||
		!o.TotalAmount.Equal(other.TotalAmount) ||
		o.Customer != other.Customer ||
		o.DeliveryAddress != other.DeliveryAddress ||
		!o.OrderTime.Equal(other.OrderTime) ||
		o.AutoCancelled != other.AutoCancelled ||
		len(o.Items) != len(other.Items) {
		return false
	}
	for i := range o.Items {
		a, b := o.Items[i], other.Items[i]
		if a.Name != b.Name || a.Quantity != b.Quantity || a.IsBogo != b.IsBogo || !a.UnitPrice.Equal(b.UnitPrice) {
			return false
		}
	}
	for _, s := range AllStatuses {
		a, b := o.At(s), other.At(s)
		if (a == nil) != (b == nil) || (a != nil && !a.Equal(*b)) {
			return false
		}
	}
	return true
}
