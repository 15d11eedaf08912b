package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/partner-console/internal/machine"
	"github.com/mmeshcher/partner-console/internal/middleware"
	"github.com/mmeshcher/partner-console/internal/model"
	"github.com/mmeshcher/partner-console/internal/notify"
	"github.com/mmeshcher/partner-console/internal/partner"
	"github.com/mmeshcher/partner-console/internal/service"
)

type stubService struct {
	restaurants []model.Restaurant
	selected    string
	selectErr   error

	restStatusResp model.Restaurant
	restStatusErr  error

	orders     []model.Order
	openResp   model.Order
	openErr    error
	updateResp model.Order
	updateErr  error

	gotTarget model.OrderStatus
	gotRole   model.Role
	gotFilter model.OrderStatus

	alarm service.AlarmState

	resolveResp model.Order
	resolveErr  error

	background bool

	granted model.Role
	grants  map[string]model.Role
}

func (s *stubService) Restaurants() []model.Restaurant { return s.restaurants }

func (s *stubService) LoadRestaurants(ctx context.Context) ([]model.Restaurant, error) {
	return s.restaurants, nil
}

func (s *stubService) SelectedRestaurant() string { return s.selected }

func (s *stubService) SelectRestaurant(ctx context.Context, id string) error {
	if s.selectErr != nil {
		return s.selectErr
	}
	s.selected = id
	return nil
}

func (s *stubService) RoleFor(id string) model.Role {
	if id == "" {
		id = s.selected
	}
	if r, ok := s.grants[id]; ok {
		return r
	}
	return s.granted
}

func (s *stubService) SetRestaurantStatus(ctx context.Context, id string, status model.RestaurantStatus, role model.Role) (model.Restaurant, error) {
	s.gotRole = role
	return s.restStatusResp, s.restStatusErr
}

func (s *stubService) Orders(status model.OrderStatus) []model.Order {
	s.gotFilter = status
	return s.orders
}

func (s *stubService) OpenOrder(ctx context.Context, uniqueID string) (model.Order, error) {
	return s.openResp, s.openErr
}

func (s *stubService) UpdateOrderStatus(ctx context.Context, uniqueID string, target model.OrderStatus, role model.Role) (model.Order, error) {
	s.gotTarget = target
	s.gotRole = role
	return s.updateResp, s.updateErr
}

func (s *stubService) Alarm() service.AlarmState { return s.alarm }

func (s *stubService) ResolvePush(ctx context.Context, data map[string]any) (model.Order, error) {
	return s.resolveResp, s.resolveErr
}

func (s *stubService) SetBackground(background bool) { s.background = background }

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware("test-secret")

	return NewHandler(svc, nil, logger, auth, time.UTC)
}

func sessionCookie(t *testing.T, h *Handler, role model.Role) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	h.authMiddleware.SetAuthCookie(rec, middleware.Operator{UserID: "op-1", Role: role})
	return rec.Result().Cookies()[0]
}

// do выполняет запрос от оператора, которому сервер выдал роль role.
func do(t *testing.T, h *Handler, role model.Role, method, target, body string) *http.Response {
	t.Helper()
	if svc, ok := h.service.(*stubService); ok && role != 0 {
		svc.granted = role
	}
	return doWithCookie(t, h, role, method, target, body)
}

func doWithCookie(t *testing.T, h *Handler, role model.Role, method, target, body string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if role != 0 {
		req.AddCookie(sessionCookie(t, h, role))
	}
	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func sampleOrder() model.Order {
	at := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)
	o := model.Order{
		UniqueID:     "u-1",
		OrderNumber:  "A1",
		RestaurantID: "r1",
		Status:       model.StatusConfirmed,
		Items: []model.Item{
			{Name: "Pizza", Quantity: 2, UnitPrice: decimal.RequireFromString("7.5")},
		},
		TotalAmount: decimal.RequireFromString("15"),
		OrderTime:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	o.AcceptedAt = &at
	return o
}

func TestCreateSession(t *testing.T) {
	h := newTestHandler(t, &stubService{granted: model.RoleManager})

	body, _ := json.Marshal(sessionRequest{UserID: "u1", Role: "manager"})
	req := httptest.NewRequest(http.MethodPost, "/api/partner/session", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.SetupRouter().ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(res.Cookies()) == 0 {
		t.Fatalf("session cookie not set")
	}

	var p permissions
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Role != "manager" || !p.CanManageRestaurant || !p.CanSeeRevenue {
		t.Fatalf("unexpected permissions: %+v", p)
	}
}

func TestCreateSession_UnknownRole(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, 0, http.MethodPost, "/api/partner/session", `{"user_id":"u1","role":"chef"}`)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestCreateSession_RoleNotGranted(t *testing.T) {
	h := newTestHandler(t, &stubService{granted: model.RoleKitchenStaff})

	res := doWithCookie(t, h, 0, http.MethodPost, "/api/partner/session", `{"user_id":"u1","role":"manager"}`)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
	if len(res.Cookies()) != 0 {
		t.Fatalf("session cookie must not be set")
	}

	res = doWithCookie(t, h, 0, http.MethodPost, "/api/partner/session", `{"user_id":"u1"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var p permissions
	if err := json.NewDecoder(res.Body).Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Role != "kitchen_staff" || p.CanManageRestaurant || p.CanSeeRevenue {
		t.Fatalf("unexpected permissions: %+v", p)
	}
}

func TestSessionRoleCannotExceedGrant(t *testing.T) {
	svc := &stubService{
		granted:    model.RoleKitchenStaff,
		orders:     []model.Order{sampleOrder()},
		updateResp: sampleOrder(),
	}
	h := newTestHandler(t, svc)

	res := doWithCookie(t, h, model.RoleManager, http.MethodPost, "/api/partner/orders/u-1/status", `{"status":"cancelled"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.gotRole != model.RoleKitchenStaff {
		t.Fatalf("service called with role %s, want kitchen_staff", svc.gotRole)
	}

	res = doWithCookie(t, h, model.RoleManager, http.MethodGet, "/api/partner/orders", "")
	var got []orderResponse
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].TotalAmount != "" {
		t.Fatalf("revenue must stay hidden: %+v", got)
	}
}

func TestSetRestaurantStatus_UsesRestaurantGrant(t *testing.T) {
	svc := &stubService{
		selected:       "r2",
		granted:        model.RoleKitchenStaff,
		grants:         map[string]model.Role{"r1": model.RoleManager},
		restStatusResp: model.Restaurant{ID: "r1", Status: model.RestaurantOffline},
	}
	h := newTestHandler(t, svc)

	res := doWithCookie(t, h, model.RoleKitchenStaff, http.MethodPut, "/api/partner/restaurants/r1/status", `{"status":"offline"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.gotRole != model.RoleManager {
		t.Fatalf("service called with role %s, want manager", svc.gotRole)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, 0, http.MethodGet, "/api/partner/orders", "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnauthorized)
	}
}

func TestGetOrders_NoContent(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, model.RoleManager, http.MethodGet, "/api/partner/orders", "")
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
}

func TestGetOrders_RoleView(t *testing.T) {
	tests := []struct {
		name        string
		role        model.Role
		wantTotal   string
		wantNext    bool
		wantAllowed int
	}{
		{name: "manager sees revenue", role: model.RoleManager, wantTotal: "15.00", wantNext: true, wantAllowed: 6},
		{name: "kitchen hides revenue", role: model.RoleKitchenStaff, wantTotal: "", wantNext: true, wantAllowed: 2},
		{name: "delivery has no action", role: model.RoleDelivery, wantTotal: "", wantNext: false, wantAllowed: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{orders: []model.Order{sampleOrder()}}
			h := newTestHandler(t, svc)

			res := do(t, h, tt.role, http.MethodGet, "/api/partner/orders?status=confirmed", "")
			if res.StatusCode != http.StatusOK {
				t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
			}
			if ct := res.Header.Get("Content-Type"); ct != "application/json" {
				t.Fatalf("content-type = %q, want application/json", ct)
			}
			if svc.gotFilter != model.StatusConfirmed {
				t.Fatalf("filter = %q, want confirmed", svc.gotFilter)
			}

			var orders []orderResponse
			if err := json.NewDecoder(res.Body).Decode(&orders); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(orders) != 1 {
				t.Fatalf("len = %d, want 1", len(orders))
			}
			o := orders[0]
			if o.TotalAmount != tt.wantTotal {
				t.Fatalf("total = %q, want %q", o.TotalAmount, tt.wantTotal)
			}
			if (o.NextAction != nil) != tt.wantNext {
				t.Fatalf("next action = %+v, want present=%v", o.NextAction, tt.wantNext)
			}
			if len(o.AllowedStatuses) != tt.wantAllowed {
				t.Fatalf("allowed = %v, want %d entries", o.AllowedStatuses, tt.wantAllowed)
			}
			if o.Timestamps["confirmed"] != "2026-03-01T12:05:00Z" {
				t.Fatalf("timestamps = %v", o.Timestamps)
			}
		})
	}
}

func TestGetOrders_BadStatusFilter(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := do(t, h, model.RoleManager, http.MethodGet, "/api/partner/orders?status=lost", "")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	updated := sampleOrder()
	updated.Status = model.StatusPreparing
	svc := &stubService{updateResp: updated}
	h := newTestHandler(t, svc)

	res := do(t, h, model.RoleKitchenStaff, http.MethodPost, "/api/partner/orders/u-1/status", `{"status":"preparing"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.gotTarget != model.StatusPreparing || svc.gotRole != model.RoleKitchenStaff {
		t.Fatalf("service called with %s/%s", svc.gotTarget, svc.gotRole)
	}
}

func TestUpdateOrderStatus_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "permission denied",
			err:        &machine.RejectedError{Kind: machine.ErrPermissionDenied, Reason: "role cannot cancel orders"},
			wantStatus: http.StatusForbidden,
			wantBody:   "role cannot cancel orders",
		},
		{
			name:       "invalid transition",
			err:        &machine.RejectedError{Kind: machine.ErrValidationRejected, Reason: "orders only move forward"},
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "orders only move forward",
		},
		{
			name:       "concurrent update",
			err:        &machine.RejectedError{Kind: machine.ErrConcurrentUpdate},
			wantStatus: http.StatusConflict,
			wantBody:   "being updated",
		},
		{
			name:       "upstream rejected",
			err:        fmt.Errorf("update order status: %w", partner.ErrRejected),
			wantStatus: http.StatusBadGateway,
			wantBody:   "not accepted",
		},
		{
			name:       "upstream down",
			err:        fmt.Errorf("update order status: %w", partner.ErrTransient),
			wantStatus: http.StatusBadGateway,
			wantBody:   "unavailable",
		},
		{
			name:       "unknown order",
			err:        fmt.Errorf("%w: u-9", notify.ErrOrderNotFound),
			wantStatus: http.StatusNotFound,
			wantBody:   service.MessageOrderNotLocated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{updateErr: tt.err})

			res := do(t, h, model.RoleManager, http.MethodPost, "/api/partner/orders/u-1/status", `{"status":"cancelled"}`)
			if res.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.wantStatus)
			}

			buf := new(bytes.Buffer)
			_, _ = buf.ReadFrom(res.Body)
			if !strings.Contains(buf.String(), tt.wantBody) {
				t.Fatalf("body %q does not contain %q", buf.String(), tt.wantBody)
			}
		})
	}
}

func TestOpenOrder(t *testing.T) {
	svc := &stubService{openResp: sampleOrder()}
	h := newTestHandler(t, svc)

	res := do(t, h, model.RoleManager, http.MethodGet, "/api/partner/orders/u-1", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var o orderResponse
	if err := json.NewDecoder(res.Body).Decode(&o); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if o.UniqueID != "u-1" || o.StatusLabel == "" {
		t.Fatalf("unexpected order: %+v", o)
	}
}

func TestResolveNotification_NotLocated(t *testing.T) {
	svc := &stubService{resolveErr: fmt.Errorf("%w: A1", notify.ErrOrderNotFound)}
	h := newTestHandler(t, svc)

	res := do(t, h, model.RoleManager, http.MethodPost, "/api/partner/notifications", `{"restaurant_id":"r1","order_number":"A1"}`)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(res.Body)
	if !strings.Contains(buf.String(), service.MessageOrderNotLocated) {
		t.Fatalf("body = %q", buf.String())
	}
}

func TestGetAlarm(t *testing.T) {
	pending := sampleOrder()
	pending.Status = model.StatusPending
	svc := &stubService{alarm: service.AlarmState{Active: true, Order: pending, Remaining: 42, Queued: 2}}
	h := newTestHandler(t, svc)

	res := do(t, h, model.RoleKitchenStaff, http.MethodGet, "/api/partner/alarm", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var a alarmResponse
	if err := json.NewDecoder(res.Body).Decode(&a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !a.Active || a.Remaining != 42 || a.Queued != 2 || a.Order == nil || a.Order.OrderNumber != "A1" {
		t.Fatalf("unexpected alarm: %+v", a)
	}
}

func TestSetRestaurantStatus(t *testing.T) {
	svc := &stubService{
		selected:       "r1",
		restStatusResp: model.Restaurant{ID: "r1", Name: "Pasta", Status: model.RestaurantOffline},
	}
	h := newTestHandler(t, svc)

	res := do(t, h, model.RoleManager, http.MethodPut, "/api/partner/restaurants/r1/status", `{"status":"offline"}`)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var r restaurantResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Status != "offline" || !r.Selected {
		t.Fatalf("unexpected restaurant: %+v", r)
	}

	svc.restStatusErr = fmt.Errorf("%w: role kitchen_staff cannot manage restaurants", machine.ErrPermissionDenied)
	res = do(t, h, model.RoleKitchenStaff, http.MethodPut, "/api/partner/restaurants/r1/status", `{"status":"online"}`)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
}

func TestSelectRestaurant(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := do(t, h, model.RoleManager, http.MethodPost, "/api/partner/restaurants/r2/select", "")
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
	if svc.selected != "r2" {
		t.Fatalf("selected = %q, want r2", svc.selected)
	}

	svc.selectErr = fmt.Errorf("%w: r9", notify.ErrRestaurantNotFound)
	res = do(t, h, model.RoleManager, http.MethodPost, "/api/partner/restaurants/r9/select", "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestSetAppState(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc)

	res := do(t, h, model.RoleManager, http.MethodPost, "/api/partner/app-state", `{"state":"background"}`)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNoContent)
	}
	if !svc.background {
		t.Fatalf("background mode not enabled")
	}

	res = do(t, h, model.RoleManager, http.MethodPost, "/api/partner/app-state", `{"state":"sleeping"}`)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}
