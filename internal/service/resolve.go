package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/partner-console/internal/model"
	"github.com/mmeshcher/partner-console/internal/notify"
	"github.com/mmeshcher/partner-console/internal/reconcile"
)

// ResolvePush находит заказ, на который указывает push-уведомление, и открывает его.
// При необходимости консоль переключается на ресторан из уведомления. Заказ запрашивается
// у сервера не более ResolveMaxAttempts раз с паузой ResolveRetryDelay; сохранённая копия
// заказа используется, только если сервер его не вернул.
func (s *Console) ResolvePush(ctx context.Context, data map[string]any) (model.Order, error) {
	p, err := notify.ParsePushPayload(data)
	if err != nil {
		return model.Order{}, err
	}

	res, err := notify.NewResolution(p, s.Restaurants(), s.opts.ResolveMaxAttempts, s.opts.ResolveRetryDelay, s.now())
	if err != nil {
		s.logger.Warn("push restaurant not found", zap.String("restaurant", p.RestaurantID))
		return model.Order{}, err
	}

	if s.SelectedRestaurant() != p.RestaurantID {
		if err := s.SelectRestaurant(ctx, p.RestaurantID); err != nil {
			return model.Order{}, err
		}
	}

	for !res.Done {
		if wait := res.NextAttemptAt.Sub(s.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				res.Fail(ctx.Err())
				continue
			case <-timer.C:
			}
		}

		raws, err := s.api.FetchOrders(ctx, p.RestaurantID)
		if err != nil {
			res.ObserveError(err, s.now())
			continue
		}

		polled := s.norm.Orders(raws)
		for i := range polled {
			if polled[i].RestaurantID == "" {
				polled[i].RestaurantID = p.RestaurantID
			}
		}
		res.Observe(polled, s.now())
	}

	if res.Err != nil {
		if o, ok := s.findLocal(p.OrderID); ok && ctx.Err() == nil {
			s.logger.Info("push order opened from local state",
				zap.String("restaurant", p.RestaurantID),
				zap.String("order", p.OrderID),
				zap.Error(res.Err),
			)
			return s.OpenOrder(ctx, o.UniqueID)
		}
		s.logger.Warn("push order not located",
			zap.String("restaurant", p.RestaurantID),
			zap.String("order", p.OrderID),
			zap.Int("attempts", res.Attempt),
			zap.Error(res.Err),
		)
		return model.Order{}, res.Err
	}

	s.adopt(ctx, p.RestaurantID, res.Order)
	return s.OpenOrder(ctx, res.Order.UniqueID)
}

func (s *Console) findLocal(orderID string) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.OrderNumber == orderID || o.UniqueID == orderID {
			return o, true
		}
	}
	return model.Order{}, false
}

// adopt добавляет найденный заказ в состояние выбранного ресторана.
func (s *Console) adopt(ctx context.Context, rid string, o model.Order) {
	s.mu.Lock()
	if s.restaurantID != rid {
		s.mu.Unlock()
		return
	}
	merged := reconcile.Merge(s.orders, []model.Order{o})
	s.orders = merged.Orders
	s.mu.Unlock()

	if len(merged.Changed) > 0 {
		if err := s.repo.SaveOrders(ctx, rid, merged.Changed); err != nil {
			s.logger.Error("save orders failed", zap.String("restaurant", rid), zap.Error(err))
		}
	}
}
