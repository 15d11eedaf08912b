// Package handler содержит HTTP-обработчики API партнёрской консоли.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/partner-console/internal/machine"
	"github.com/mmeshcher/partner-console/internal/middleware"
	"github.com/mmeshcher/partner-console/internal/model"
	"github.com/mmeshcher/partner-console/internal/notify"
	"github.com/mmeshcher/partner-console/internal/partner"
	"github.com/mmeshcher/partner-console/internal/service"
	"github.com/mmeshcher/partner-console/internal/ws"
)

// Service определяет контракт консоли, используемой HTTP-обработчиками.
type Service interface {
	Restaurants() []model.Restaurant
	LoadRestaurants(ctx context.Context) ([]model.Restaurant, error)
	SelectedRestaurant() string
	SelectRestaurant(ctx context.Context, id string) error
	RoleFor(id string) model.Role
	SetRestaurantStatus(ctx context.Context, id string, status model.RestaurantStatus, role model.Role) (model.Restaurant, error)
	Orders(status model.OrderStatus) []model.Order
	OpenOrder(ctx context.Context, uniqueID string) (model.Order, error)
	UpdateOrderStatus(ctx context.Context, uniqueID string, target model.OrderStatus, role model.Role) (model.Order, error)
	Alarm() service.AlarmState
	ResolvePush(ctx context.Context, data map[string]any) (model.Order, error)
	SetBackground(background bool)
}

// Handler реализует HTTP-обработчики API партнёрской консоли.
type Handler struct {
	service        Service
	hub            *ws.Hub
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	loc            *time.Location
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов. Времена заказов в ответах
// выводятся в зоне loc.
func NewHandler(s Service, hub *ws.Hub, logger *zap.Logger, auth *middleware.AuthMiddleware, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		service:        s,
		hub:            hub,
		logger:         logger,
		authMiddleware: auth,
		loc:            loc,
	}
}

type sessionRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// CreateSession открывает сессию оператора. Роль оператора выдаёт сервер заказов: заявленная
// в запросе роль должна совпадать с выданной в выбранном ресторане.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	granted := h.service.RoleFor("")
	if strings.TrimSpace(req.Role) != "" {
		role, err := model.ParseRole(req.Role)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if role != granted {
			h.logger.Warn("session role not granted",
				zap.String("user", userID),
				zap.String("requested", role.String()),
				zap.String("granted", granted.String()),
			)
			http.Error(w, "role not granted: "+role.String(), http.StatusForbidden)
			return
		}
	}

	h.authMiddleware.SetAuthCookie(w, middleware.Operator{UserID: userID, Role: granted})
	writeJSON(w, http.StatusOK, permissionsResponse(granted))
}

// actingRole возвращает роль оператора в ресторане restaurantID (пустой - выбранный).
// Роль берётся из данных сервера, а не из сессии.
func (h *Handler) actingRole(r *http.Request, restaurantID string) (model.Role, bool) {
	if _, ok := middleware.GetOperatorFromContext(r.Context()); !ok {
		return 0, false
	}
	return h.service.RoleFor(restaurantID), true
}

type restaurantResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Selected bool   `json:"selected"`
}

// GetRestaurants возвращает рестораны оператора.
func (h *Handler) GetRestaurants(w http.ResponseWriter, r *http.Request) {
	restaurants := h.service.Restaurants()
	if len(restaurants) == 0 || r.URL.Query().Get("refresh") == "true" {
		loaded, err := h.service.LoadRestaurants(r.Context())
		if err != nil {
			h.logger.Warn("load restaurants error", zap.Error(err))
			h.writeError(w, err)
			return
		}
		restaurants = loaded
	}

	selected := h.service.SelectedRestaurant()
	resp := make([]restaurantResponse, 0, len(restaurants))
	for _, rest := range restaurants {
		resp = append(resp, toRestaurantResponse(rest, selected))
	}

	writeJSON(w, http.StatusOK, resp)
}

// SelectRestaurant переключает консоль на ресторан.
func (h *Handler) SelectRestaurant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.SelectRestaurant(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type restaurantStatusRequest struct {
	Status string `json:"status"`
}

// SetRestaurantStatus переключает ресторан онлайн/офлайн.
func (h *Handler) SetRestaurantStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	role, ok := h.actingRole(r, id)
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req restaurantStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	status, ok := model.ParseRestaurantStatus(req.Status)
	if !ok {
		http.Error(w, "unknown restaurant status", http.StatusBadRequest)
		return
	}

	rest, err := h.service.SetRestaurantStatus(r.Context(), id, status, role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toRestaurantResponse(rest, h.service.SelectedRestaurant()))
}

// GetOrders возвращает заказы выбранного ресторана; ?status= ограничивает список одним статусом.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	role, ok := h.actingRole(r, "")
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var filter model.OrderStatus
	if v := r.URL.Query().Get("status"); v != "" {
		s, ok := model.ParseStatus(v)
		if !ok {
			http.Error(w, "unknown order status", http.StatusBadRequest)
			return
		}
		filter = s
	}

	orders := h.service.Orders(filter)
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, h.toOrderResponse(o, role))
	}

	writeJSON(w, http.StatusOK, resp)
}

// OpenOrder возвращает заказ и гасит его сигнал.
func (h *Handler) OpenOrder(w http.ResponseWriter, r *http.Request) {
	role, ok := h.actingRole(r, "")
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	o, err := h.service.OpenOrder(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toOrderResponse(o, role))
}

type orderStatusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus переводит заказ в новый статус от имени оператора.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	role, ok := h.actingRole(r, "")
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	target, ok := model.ParseStatus(req.Status)
	if !ok {
		http.Error(w, "unknown order status", http.StatusBadRequest)
		return
	}

	o, err := h.service.UpdateOrderStatus(r.Context(), chi.URLParam(r, "uid"), target, role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toOrderResponse(o, role))
}

type alarmResponse struct {
	Active    bool           `json:"active"`
	Order     *orderResponse `json:"order,omitempty"`
	Remaining int            `json:"remaining_seconds"`
	Queued    int            `json:"queued"`
}

// GetAlarm возвращает состояние сигнала нового заказа.
func (h *Handler) GetAlarm(w http.ResponseWriter, r *http.Request) {
	role, ok := h.actingRole(r, "")
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	state := h.service.Alarm()
	resp := alarmResponse{Active: state.Active, Remaining: state.Remaining, Queued: state.Queued}
	if state.Active {
		o := h.toOrderResponse(state.Order, role)
		resp.Order = &o
	}

	writeJSON(w, http.StatusOK, resp)
}

// ResolveNotification открывает заказ из push-уведомления.
func (h *Handler) ResolveNotification(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetOperatorFromContext(r.Context()); !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.ResolvePush(r.Context(), data)
	if err != nil {
		if errors.Is(err, notify.ErrNotFound) {
			http.Error(w, service.MessageOrderNotLocated, http.StatusNotFound)
			return
		}
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.toOrderResponse(o, h.service.RoleFor(o.RestaurantID)))
}

type appStateRequest struct {
	State string `json:"state"`
}

// SetAppState переключает период опроса: "background" или "foreground".
func (h *Handler) SetAppState(w http.ResponseWriter, r *http.Request) {
	var req appStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	switch strings.ToLower(req.State) {
	case "background":
		h.service.SetBackground(true)
	case "foreground", "active":
		h.service.SetBackground(false)
	default:
		http.Error(w, "unknown app state", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Stream подписывает соединение на события выбранного ресторана.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	rid := r.URL.Query().Get("restaurant_id")
	if rid == "" {
		rid = h.service.SelectedRestaurant()
	}
	if rid == "" {
		http.Error(w, "no restaurant selected", http.StatusConflict)
		return
	}

	ws.ServeWS(h.hub, rid, w, r)
}

// writeError переводит ошибку консоли в HTTP-ответ с сообщением для оператора.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var rejected *machine.RejectedError

	switch {
	case errors.As(err, &rejected) && errors.Is(err, machine.ErrConcurrentUpdate):
		http.Error(w, "order is being updated, try again", http.StatusConflict)
	case errors.As(err, &rejected) && errors.Is(err, machine.ErrPermissionDenied):
		http.Error(w, "not allowed: "+rejected.Reason, http.StatusForbidden)
	case errors.As(err, &rejected):
		http.Error(w, "status change rejected: "+rejected.Reason, http.StatusUnprocessableEntity)
	case errors.Is(err, machine.ErrPermissionDenied):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, notify.ErrOrderNotFound):
		http.Error(w, service.MessageOrderNotLocated, http.StatusNotFound)
	case errors.Is(err, notify.ErrRestaurantNotFound):
		http.Error(w, "restaurant not found", http.StatusNotFound)
	case errors.Is(err, notify.ErrInvalidPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, service.ErrNoRestaurant):
		http.Error(w, "no restaurant selected", http.StatusConflict)
	case errors.Is(err, partner.ErrRejected):
		http.Error(w, "status update was not accepted, try again", http.StatusBadGateway)
	case errors.Is(err, partner.ErrTransient), errors.Is(err, partner.ErrNotConfigured):
		http.Error(w, "order service unavailable, try again", http.StatusBadGateway)
	default:
		h.logger.Error("request failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
