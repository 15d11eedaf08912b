package partner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestFetchOrders_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/restaurants/r1/orders" {
			t.Errorf("path = %s, want /api/restaurants/r1/orders", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orders":[{"orderNumber":"A1","status":"pending","total":12.5}]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	orders, err := client.FetchOrders(ctx, "r1")
	if err != nil {
		t.Fatalf("FetchOrders error: %v", err)
	}
	if len(orders) != 1 {
		t.Fatalf("len(orders) = %d, want 1", len(orders))
	}
	if orders[0]["orderNumber"] != "A1" {
		t.Fatalf("unexpected order: %+v", orders[0])
	}
	if _, ok := orders[0]["total"].(json.Number); !ok {
		t.Fatalf("numbers must be decoded as json.Number, got %T", orders[0]["total"])
	}
}

func TestFetchOrders_NoContent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	orders, err := NewClient(ts.URL).FetchOrders(context.Background(), "r1")
	if err != nil {
		t.Fatalf("FetchOrders error: %v", err)
	}
	if orders != nil {
		t.Fatalf("expected nil orders for 204, got %+v", orders)
	}
}

func TestFetchOrders_ServerErrorIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).FetchOrders(context.Background(), "r1")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestFetchOrders_BadBodyIsTransient(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"orders":`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).FetchOrders(context.Background(), "r1")
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestFetchRestaurants_RetriesServerErrors(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/u1/restaurants" {
			t.Errorf("path = %s, want /api/users/u1/restaurants", r.URL.Path)
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"liveRestaurants":[{"id":"r1","name":"Pasta","status":1}]}`))
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	client.retryClient.RetryWaitMin = time.Millisecond
	client.retryClient.RetryWaitMax = 5 * time.Millisecond

	restaurants, err := client.FetchRestaurants(context.Background(), "u1")
	if err != nil {
		t.Fatalf("FetchRestaurants error: %v", err)
	}
	if len(restaurants) != 1 || restaurants[0]["id"] != "r1" {
		t.Fatalf("unexpected restaurants: %+v", restaurants)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestUpdateOrderStatus_Accepted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/orders/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body orderStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body.OrderNumber != "A1" || body.NewStatusCode != 2 {
			t.Errorf("unexpected body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"statusCode":200}`))
	}))
	defer ts.Close()

	if err := NewClient(ts.URL).UpdateOrderStatus(context.Background(), "A1", 2); err != nil {
		t.Fatalf("UpdateOrderStatus error: %v", err)
	}
}

func TestUpdateOrderStatus_BodyRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"statusCode":409}`))
	}))
	defer ts.Close()

	err := NewClient(ts.URL).UpdateOrderStatus(context.Background(), "A1", 2)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestUpdateOrderStatus_HTTPErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   error
	}{
		{name: "client error", status: http.StatusBadRequest, want: ErrRejected},
		{name: "server error", status: http.StatusInternalServerError, want: ErrTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer ts.Close()

			err := NewClient(ts.URL).UpdateOrderStatus(context.Background(), "A1", 2)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUpdateRestaurantStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/restaurants/r1/status" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body restaurantStatusRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.StatusCode != 1 {
			t.Errorf("statusCode = %d, want 1", body.StatusCode)
		}
		_, _ = w.Write([]byte(`{"statusCode":200}`))
	}))
	defer ts.Close()

	if err := NewClient(ts.URL).UpdateRestaurantStatus(context.Background(), "r1", 1); err != nil {
		t.Fatalf("UpdateRestaurantStatus error: %v", err)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient("")

	if _, err := client.FetchOrders(context.Background(), "r1"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := client.UpdateOrderStatus(context.Background(), "A1", 1); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
