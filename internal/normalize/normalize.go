// Package normalize переводит заказы и рестораны из формата сервера во внутреннюю модель.
//
// Сервер отдаёт заказы в нерегулярной форме: имена полей отличаются от ресторана к ресторану,
// часть времени и сумм отсутствует. Нормализация никогда не завершается ошибкой, недостающие
// поля заменяются значениями по умолчанию.
package normalize

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/partner-console/internal/model"
	"github.com/mmeshcher/partner-console/internal/partner"
	"github.com/mmeshcher/partner-console/internal/validation"
)

var (
	orderNumberKeys  = []string{"order_number", "orderNumber", "order_no", "order_id", "orderId"}
	orderTimeKeys    = []string{"order_time", "orderTime", "created_at", "createdAt", "placed_at"}
	secondaryIDKeys  = []string{"id", "_id", "row_id", "rowId"}
	statusKeys       = []string{"status", "order_status", "orderStatus", "status_code", "statusCode"}
	restaurantIDKeys = []string{"restaurant_id", "restaurantId"}
	itemsKeys        = []string{"items", "order_items", "orderItems"}
	totalKeys        = []string{"total_amount", "totalAmount", "total", "grand_total"}
	addressKeys      = []string{"delivery_address", "deliveryAddress", "address"}
	customerKeys     = []string{"customer_name", "customerName"}
	phoneKeys        = []string{"customer_phone", "customerPhone", "phone"}
	updatedKeys      = []string{"status_time", "statusTime", "updated_at", "updatedAt"}

	itemNameKeys  = []string{"name", "item_name", "itemName", "title"}
	itemQtyKeys   = []string{"quantity", "qty", "count"}
	itemPriceKeys = []string{"unit_price", "unitPrice", "price"}
	itemBogoKeys  = []string{"is_bogo", "isBogo", "bogo"}

	restaurantNameKeys   = []string{"name", "restaurant_name", "restaurantName"}
	restaurantStatusKeys = []string{"status", "status_code", "statusCode", "restaurant_status"}
	restaurantRoleKeys   = []string{"role", "user_role", "userRole", "role_code", "roleCode"}
)

// поля времени перехода в ответе сервера
var statusTimeKeys = map[model.OrderStatus][]string{
	model.StatusConfirmed: {"accepted_at", "acceptedAt", "confirmed_at"},
	model.StatusPreparing: {"prep_start_at", "prepStartAt", "preparing_at"},
	model.StatusReady:     {"ready_at", "readyAt"},
	model.StatusOnTheWay:  {"on_way_at", "onWayAt", "on_the_way_at", "picked_up_at"},
	model.StatusDelivered: {"delivered_at", "deliveredAt"},
	model.StatusCancelled: {"cancelled_at", "cancelledAt", "canceled_at"},
	model.StatusRefunded:  {"refunded_at", "refundedAt"},
}

// Normalizer нормализует записи сервера. Время без зоны читается в зоне loc.
type Normalizer struct {
	loc *time.Location
}

// New создаёт нормализатор для временной зоны ресторана. nil означает UTC.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// UniqueID вычисляет стабильный идентификатор заказа по номеру, нормализованному времени
// заказа и служебному идентификатору строки.
func UniqueID(orderNumber, normalizedOrderTime, secondaryID string) string {
	key := orderNumber + "|" + normalizedOrderTime + "|" + secondaryID
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Order нормализует один заказ.
func (n *Normalizer) Order(raw partner.RawOrder) model.Order {
	orderNumber := validation.String(first(raw, orderNumberKeys))
	secondaryID := validation.String(first(raw, secondaryIDKeys))

	rawTime := first(raw, orderTimeKeys)
	orderTime, ok := validation.Time(rawTime, n.loc)
	normalizedTime := validation.String(rawTime)
	if ok {
		normalizedTime = orderTime.UTC().Format(time.RFC3339)
	}

	o := model.Order{
		UniqueID:        UniqueID(orderNumber, normalizedTime, secondaryID),
		OrderNumber:     orderNumber,
		RestaurantID:    validation.String(first(raw, restaurantIDKeys)),
		Status:          status(first(raw, statusKeys)),
		Items:           items(first(raw, itemsKeys)),
		TotalAmount:     validation.Decimal(first(raw, totalKeys)),
		Customer:        customer(raw),
		DeliveryAddress: address(first(raw, addressKeys)),
		OrderTime:       orderTime,
	}

	if at, ok := n.statusTime(raw, o.Status, orderTime); ok {
		o.SetOnce(o.Status, at)
	}

	return o
}

// Orders нормализует список заказов, сохраняя их порядок.
func (n *Normalizer) Orders(raws []partner.RawOrder) []model.Order {
	out := make([]model.Order, 0, len(raws))
	for _, raw := range raws {
		if raw == nil {
			continue
		}
		out = append(out, n.Order(raw))
	}
	return out
}

// Restaurant нормализует ресторан.
func (n *Normalizer) Restaurant(raw partner.RawRestaurant) model.Restaurant {
	return model.Restaurant{
		ID:     validation.String(first(raw, append([]string{"id", "_id"}, restaurantIDKeys...))),
		Name:   validation.String(first(raw, restaurantNameKeys)),
		Status: restaurantStatus(first(raw, restaurantStatusKeys)),
		Role:   role(first(raw, restaurantRoleKeys)),
	}
}

// Restaurants нормализует список ресторанов, пропуская записи без идентификатора.
func (n *Normalizer) Restaurants(raws []partner.RawRestaurant) []model.Restaurant {
	out := make([]model.Restaurant, 0, len(raws))
	for _, raw := range raws {
		r := n.Restaurant(raw)
		if r.ID == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// statusTime подбирает лучшее известное время перехода в статус s.
func (n *Normalizer) statusTime(raw map[string]any, s model.OrderStatus, orderTime time.Time) (time.Time, bool) {
	keys, ok := statusTimeKeys[s]
	if !ok {
		return time.Time{}, false
	}
	if t, ok := validation.Time(first(raw, keys), n.loc); ok {
		return t, true
	}
	if t, ok := validation.Time(first(raw, updatedKeys), n.loc); ok {
		return t, true
	}
	if !orderTime.IsZero() {
		return orderTime, true
	}
	return time.Time{}, false
}

func status(v any) model.OrderStatus {
	if s, ok := v.(string); ok {
		if st, ok := model.ParseStatus(s); ok {
			return st
		}
	}
	return model.StatusFromCode(validation.Int(v))
}

func restaurantStatus(v any) model.RestaurantStatus {
	if s, ok := v.(string); ok {
		if st, ok := model.ParseRestaurantStatus(s); ok {
			return st
		}
	}
	return model.RestaurantStatusFromCode(validation.Int(v))
}

// role возвращает ноль для отсутствующей или неизвестной роли.
func role(v any) model.Role {
	if v == nil {
		return 0
	}
	r, err := model.ParseRole(validation.String(v))
	if err != nil {
		return 0
	}
	return r
}

func items(v any) []model.Item {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]model.Item, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, model.Item{
			Name:      validation.String(first(m, itemNameKeys)),
			Quantity:  validation.Int(first(m, itemQtyKeys)),
			UnitPrice: validation.Decimal(first(m, itemPriceKeys)),
			IsBogo:    validation.Bool(first(m, itemBogoKeys)),
		})
	}
	return out
}

func customer(raw map[string]any) model.Customer {
	c := model.Customer{
		Name:  validation.String(first(raw, customerKeys)),
		Phone: validation.String(first(raw, phoneKeys)),
	}
	if nested, ok := raw["customer"].(map[string]any); ok {
		if c.Name == "" {
			c.Name = validation.String(nested["name"])
		}
		if c.Phone == "" {
			c.Phone = validation.String(nested["phone"])
		}
	}
	return c
}

func address(v any) string {
	if m, ok := v.(map[string]any); ok {
		parts := make([]string, 0, 4)
		for _, k := range []string{"line1", "street", "line2", "city", "zip"} {
			if s := validation.String(m[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return validation.String(v)
}

func first(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
