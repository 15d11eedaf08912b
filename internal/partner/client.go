// Package partner предоставляет клиент API сервера заказов, с которым работает консоль партнёра.
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cleanhttp "github.com/hashicorp/go-cleanhttp"
	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

var (
	// ErrTransient возвращается при сетевой ошибке, ответе 5xx или нечитаемом теле ответа.
	ErrTransient = errors.New("transient upstream failure")
	// ErrRejected возвращается, если сервер ответил, но не принял изменение.
	ErrRejected = errors.New("upstream rejected the update")
	// ErrNotConfigured возвращается клиентом без адреса сервера.
	ErrNotConfigured = errors.New("partner api client not configured")
)

// RawOrder - заказ в формате сервера. Набор и имена полей зависят от ресторана.
type RawOrder map[string]any

// RawRestaurant - ресторан в формате сервера.
type RawRestaurant map[string]any

type ordersResponse struct {
	Orders []RawOrder `json:"orders"`
}

type restaurantsResponse struct {
	LiveRestaurants []RawRestaurant `json:"liveRestaurants"`
}

type statusResponse struct {
	StatusCode int `json:"statusCode"`
}

type orderStatusRequest struct {
	OrderNumber   string `json:"orderNumber"`
	NewStatusCode int    `json:"newStatusCode"`
}

type restaurantStatusRequest struct {
	StatusCode int `json:"statusCode"`
}

// Client инкапсулирует HTTP-взаимодействие с сервером заказов.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryClient *retryablehttp.Client
}

// NewClient создаёт клиент сервера заказов по указанному адресу.
// Опрос заказов и изменение статусов не повторяются автоматически: повтор опроса выполняет
// следующий тик, а ошибку изменения статуса видит оператор. Список ресторанов запрашивается
// с повторами.
func NewClient(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = 5 * time.Second

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = cleanhttp.DefaultPooledClient()
	retryClient.HTTPClient.Timeout = 5 * time.Second
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil

	return &Client{
		baseURL:     base,
		httpClient:  httpClient,
		retryClient: retryClient,
	}
}

// FetchOrders запрашивает текущие заказы ресторана.
func (c *Client) FetchOrders(ctx context.Context, restaurantID string) ([]RawOrder, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	u := fmt.Sprintf("%s/api/restaurants/%s/orders", c.baseURL, url.PathEscape(restaurantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch orders: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch orders: unexpected status %d", ErrTransient, resp.StatusCode)
	}

	var result ordersResponse
	if err := decodeJSON(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("%w: fetch orders: %v", ErrTransient, err)
	}

	return result.Orders, nil
}

// FetchRestaurants запрашивает рестораны, доступные пользователю.
func (c *Client) FetchRestaurants(ctx context.Context, userID string) ([]RawRestaurant, error) {
	if c == nil || c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	u := fmt.Sprintf("%s/api/users/%s/restaurants", c.baseURL, url.PathEscape(userID))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.retryClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch restaurants: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch restaurants: unexpected status %d", ErrTransient, resp.StatusCode)
	}

	var result restaurantsResponse
	if err := decodeJSON(resp.Body, &result); err != nil {
		return nil, fmt.Errorf("%w: fetch restaurants: %v", ErrTransient, err)
	}

	return result.LiveRestaurants, nil
}

// UpdateOrderStatus отправляет новый статус заказа. Изменение принято, только если сервер
// вернул statusCode 200.
func (c *Client) UpdateOrderStatus(ctx context.Context, orderNumber string, statusCode int) error {
	u := c.baseURL + "/api/orders/status"
	return c.sendStatus(ctx, http.MethodPost, u, orderStatusRequest{
		OrderNumber:   orderNumber,
		NewStatusCode: statusCode,
	})
}

// UpdateRestaurantStatus переключает статус ресторана.
func (c *Client) UpdateRestaurantStatus(ctx context.Context, restaurantID string, statusCode int) error {
	u := fmt.Sprintf("%s/api/restaurants/%s/status", c.baseURL, url.PathEscape(restaurantID))
	return c.sendStatus(ctx, http.MethodPut, u, restaurantStatusRequest{StatusCode: statusCode})
}

func (c *Client) sendStatus(ctx context.Context, method, u string, body any) error {
	if c == nil || c.baseURL == "" {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: unexpected status %d", ErrTransient, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http status %d", ErrRejected, resp.StatusCode)
	}

	var result statusResponse
	if err := decodeJSON(resp.Body, &result); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrTransient, err)
	}
	if result.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status code %d", ErrRejected, result.StatusCode)
	}

	return nil
}

func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}
