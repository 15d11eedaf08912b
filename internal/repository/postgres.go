// Package repository содержит локальное хранилище консоли: снимки заказов ресторанов и
// пары ключ-значение (выбранный ресторан, идентификатор сессии и т.п.).
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/partner-console/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrKeyNotFound возвращается, если ключа нет в хранилище.
var ErrKeyNotFound = errors.New("key not found")

// Ключи хранилища, используемые консолью.
const (
	KeySelectedRestaurant = "selected_restaurant"
	KeySessionID          = "session_id"
	KeyLastAddress        = "last_address"
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликте сериализации, взаимной блокировке и обрыве соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const upsertOrderSQL = `
INSERT INTO partner_orders (
    unique_id, restaurant_id, order_number, status, items, total_amount,
    customer_name, customer_phone, delivery_address, order_time,
    accepted_at, prep_start_at, ready_at, on_way_at, delivered_at, cancelled_at, refunded_at,
    auto_cancelled, updated_at
) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, now())
ON CONFLICT (unique_id) DO UPDATE SET
    restaurant_id    = EXCLUDED.restaurant_id,
    order_number     = EXCLUDED.order_number,
    status           = EXCLUDED.status,
    items            = EXCLUDED.items,
    total_amount     = EXCLUDED.total_amount,
    customer_name    = EXCLUDED.customer_name,
    customer_phone   = EXCLUDED.customer_phone,
    delivery_address = EXCLUDED.delivery_address,
    order_time       = COALESCE(EXCLUDED.order_time, partner_orders.order_time),
    accepted_at      = COALESCE(partner_orders.accepted_at, EXCLUDED.accepted_at),
    prep_start_at    = COALESCE(partner_orders.prep_start_at, EXCLUDED.prep_start_at),
    ready_at         = COALESCE(partner_orders.ready_at, EXCLUDED.ready_at),
    on_way_at        = COALESCE(partner_orders.on_way_at, EXCLUDED.on_way_at),
    delivered_at     = COALESCE(partner_orders.delivered_at, EXCLUDED.delivered_at),
    cancelled_at     = COALESCE(partner_orders.cancelled_at, EXCLUDED.cancelled_at),
    refunded_at      = COALESCE(partner_orders.refunded_at, EXCLUDED.refunded_at),
    auto_cancelled   = partner_orders.auto_cancelled OR EXCLUDED.auto_cancelled,
    updated_at       = now()`

// SaveOrders сохраняет снимки заказов ресторана одной транзакцией. Уже сохранённые времена
// переходов не перезаписываются.
func (r *PostgresRepository) SaveOrders(ctx context.Context, restaurantID string, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		batch := &pgx.Batch{}
		for _, o := range orders {
			items, err := json.Marshal(o.Items)
			if err != nil {
				return fmt.Errorf("encode items: %w", err)
			}
			if o.Items == nil {
				items = []byte("[]")
			}

			restaurant := o.RestaurantID
			if restaurant == "" {
				restaurant = restaurantID
			}

			batch.Queue(upsertOrderSQL,
				o.UniqueID, restaurant, o.OrderNumber, string(o.Status), items, o.TotalAmount.String(),
				o.Customer.Name, o.Customer.Phone, o.DeliveryAddress, nullTime(o.OrderTime),
				o.AcceptedAt, o.PrepStartAt, o.ReadyAt, o.OnWayAt, o.DeliveredAt, o.CancelledAt, o.RefundedAt,
				o.AutoCancelled,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert orders: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// LoadOrders возвращает сохранённые заказы ресторана, новые первыми.
func (r *PostgresRepository) LoadOrders(ctx context.Context, restaurantID string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT unique_id, restaurant_id, order_number, status, items, total_amount::text,
		        customer_name, customer_phone, delivery_address, order_time,
		        accepted_at, prep_start_at, ready_at, on_way_at, delivered_at, cancelled_at, refunded_at,
		        auto_cancelled
		 FROM partner_orders
		 WHERE restaurant_id = $1
		 ORDER BY order_time DESC NULLS LAST`,
		restaurantID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var (
			o         model.Order
			status    string
			items     []byte
			total     string
			orderTime *time.Time
		)
		if err := rows.Scan(
			&o.UniqueID, &o.RestaurantID, &o.OrderNumber, &status, &items, &total,
			&o.Customer.Name, &o.Customer.Phone, &o.DeliveryAddress, &orderTime,
			&o.AcceptedAt, &o.PrepStartAt, &o.ReadyAt, &o.OnWayAt, &o.DeliveredAt, &o.CancelledAt, &o.RefundedAt,
			&o.AutoCancelled,
		); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}

		o.Status = model.OrderStatus(status)
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		if d, err := decimal.NewFromString(total); err == nil {
			o.TotalAmount = d
		}
		if orderTime != nil {
			o.OrderTime = *orderTime
		}

		orders = append(orders, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// Get возвращает значение ключа.
func (r *PostgresRepository) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("get key: %w", err)
	}
	return value, nil
}

// Set сохраняет значение ключа.
func (r *PostgresRepository) Set(ctx context.Context, key, value string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO kv_store (key, value) VALUES ($1, $2)
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			key, value,
		)
		if err != nil {
			return fmt.Errorf("set key: %w", err)
		}
		return nil
	})
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
