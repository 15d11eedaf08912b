package handler

import (
	"time"

	"github.com/mmeshcher/partner-console/internal/model"
)

type itemResponse struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price,omitempty"`
	IsBogo    bool   `json:"is_bogo"`
}

type actionResponse struct {
	Target string `json:"target"`
	Label  string `json:"label"`
	Color  string `json:"color"`
}

type orderResponse struct {
	UniqueID        string            `json:"unique_id"`
	OrderNumber     string            `json:"order_number"`
	RestaurantID    string            `json:"restaurant_id"`
	Status          string            `json:"status"`
	StatusLabel     string            `json:"status_label"`
	StatusColor     string            `json:"status_color"`
	NextAction      *actionResponse   `json:"next_action,omitempty"`
	AllowedStatuses []string          `json:"allowed_statuses"`
	Items           []itemResponse    `json:"items"`
	TotalAmount     string            `json:"total_amount,omitempty"`
	CustomerName    string            `json:"customer_name"`
	CustomerPhone   string            `json:"customer_phone"`
	DeliveryAddress string            `json:"delivery_address"`
	OrderTime       string            `json:"order_time,omitempty"`
	Timestamps      map[string]string `json:"timestamps"`
	AutoCancelled   bool              `json:"auto_cancelled"`
}

type permissions struct {
	Role                string   `json:"role"`
	AllowedStatuses     []string `json:"allowed_statuses"`
	CanSeeRevenue       bool     `json:"can_see_revenue"`
	CanManageRestaurant bool     `json:"can_manage_restaurant"`
	CanCancelOrders     bool     `json:"can_cancel_orders"`
}

func permissionsResponse(role model.Role) permissions {
	p := role.Permissions()
	resp := permissions{
		Role:                role.String(),
		AllowedStatuses:     make([]string, 0, len(p.AllowedStatuses)),
		CanSeeRevenue:       p.CanSeeRevenue,
		CanManageRestaurant: p.CanManageRestaurant,
		CanCancelOrders:     p.CanCancelOrders,
	}
	for _, s := range p.AllowedStatuses {
		resp.AllowedStatuses = append(resp.AllowedStatuses, string(s))
	}
	return resp
}

func toRestaurantResponse(r model.Restaurant, selected string) restaurantResponse {
	return restaurantResponse{
		ID:       r.ID,
		Name:     r.Name,
		Status:   string(r.Status),
		Selected: r.ID == selected,
	}
}

// toOrderResponse готовит заказ к показу роли role: суммы скрываются без права видеть выручку,
// кнопка следующего шага показывается, только если роль может его выполнить.
func (h *Handler) toOrderResponse(o model.Order, role model.Role) orderResponse {
	perms := role.Permissions()

	resp := orderResponse{
		UniqueID:        o.UniqueID,
		OrderNumber:     o.OrderNumber,
		RestaurantID:    o.RestaurantID,
		Status:          string(o.Status),
		StatusLabel:     o.Status.Label(),
		StatusColor:     o.Status.Color(),
		AllowedStatuses: []string{},
		Items:           make([]itemResponse, 0, len(o.Items)),
		CustomerName:    o.Customer.Name,
		CustomerPhone:   o.Customer.Phone,
		DeliveryAddress: o.DeliveryAddress,
		OrderTime:       h.formatTime(o.OrderTime),
		Timestamps:      make(map[string]string),
		AutoCancelled:   o.AutoCancelled,
	}

	if a, ok := model.NextAction(o.Status); ok && role.CanTransition(o.Status, a.Target) {
		resp.NextAction = &actionResponse{Target: string(a.Target), Label: a.Label, Color: a.Color}
	}

	for _, s := range model.AllStatuses {
		if role.CanTransition(o.Status, s) {
			resp.AllowedStatuses = append(resp.AllowedStatuses, string(s))
		}
		if at := o.At(s); at != nil {
			resp.Timestamps[string(s)] = h.formatTime(*at)
		}
	}

	for _, it := range o.Items {
		item := itemResponse{Name: it.Name, Quantity: it.Quantity, IsBogo: it.IsBogo}
		if perms.CanSeeRevenue {
			item.UnitPrice = it.UnitPrice.StringFixed(2)
		}
		resp.Items = append(resp.Items, item)
	}

	if perms.CanSeeRevenue {
		resp.TotalAmount = o.TotalAmount.StringFixed(2)
	}

	return resp
}

func (h *Handler) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(h.loc).Format(time.RFC3339)
}
