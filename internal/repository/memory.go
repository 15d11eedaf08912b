package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/mmeshcher/partner-console/internal/model"
)

// MemoryRepository хранит данные в памяти процесса. Используется, если DATABASE_URI не задан.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]map[string]model.Order
	kv     map[string]string
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders: make(map[string]map[string]model.Order),
		kv:     make(map[string]string),
	}
}

// SaveOrders сохраняет снимки заказов с теми же правилами слияния, что и PostgresRepository.
func (r *MemoryRepository) SaveOrders(ctx context.Context, restaurantID string, orders []model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range orders {
		rid := o.RestaurantID
		if rid == "" {
			rid = restaurantID
		}

		bucket, ok := r.orders[rid]
		if !ok {
			bucket = make(map[string]model.Order)
			r.orders[rid] = bucket
		}

		next := o.Clone()
		next.RestaurantID = rid
		if prev, ok := bucket[o.UniqueID]; ok {
			next.Timestamps = o.Timestamps.Keep(prev.Timestamps)
			next.AutoCancelled = prev.AutoCancelled || o.AutoCancelled
			if next.OrderTime.IsZero() {
				next.OrderTime = prev.OrderTime
			}
		}
		bucket[o.UniqueID] = next
	}

	return nil
}

// LoadOrders возвращает заказы ресторана, новые первыми.
func (r *MemoryRepository) LoadOrders(ctx context.Context, restaurantID string) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bucket := r.orders[restaurantID]
	out := make([]model.Order, 0, len(bucket))
	for _, o := range bucket {
		out = append(out, o.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderTime.Equal(out[j].OrderTime) {
			return out[i].UniqueID < out[j].UniqueID
		}
		return out[i].OrderTime.After(out[j].OrderTime)
	})

	return out, nil
}

// Get возвращает значение ключа.
func (r *MemoryRepository) Get(ctx context.Context, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.kv[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

// Set сохраняет значение ключа.
func (r *MemoryRepository) Set(ctx context.Context, key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.kv[key] = value
	return nil
}

// Close ничего не освобождает.
func (r *MemoryRepository) Close() error {
	return nil
}
