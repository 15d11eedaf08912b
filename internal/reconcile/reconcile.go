// Package reconcile сливает свежий опрос заказов с уже известным состоянием ресторана.
package reconcile

import "github.com/mmeshcher/partner-console/internal/model"

// Result - итог слияния.
type Result struct {
	// Orders - новое состояние ресторана по UniqueID.
	Orders map[string]model.Order
	// Arrived - новые заказы в статусе pending, которых не было в прежнем состоянии, в порядке опроса.
	Arrived []model.Order
	// Changed - заказы, запись которых отличается от прежней, в порядке опроса.
	Changed []model.Order
}

// Merge сливает опрос polled с прежним состоянием prev. prev не изменяется.
//
// Поля заказа берутся из опроса, но все времена переходов, уже известные локально, сохраняются:
// их не очищает и не перезаписывает более медленный снимок сервера. Признак автоотмены не
// сбрасывается. Заказы, отсутствующие в опросе, остаются в состоянии. Повторы одного UniqueID
// внутри опроса отбрасываются, побеждает первый.
func Merge(prev map[string]model.Order, polled []model.Order) Result {
	res := Result{Orders: make(map[string]model.Order, len(prev)+len(polled))}
	for id, o := range prev {
		res.Orders[id] = o
	}

	seen := make(map[string]struct{}, len(polled))
	for _, p := range polled {
		if _, dup := seen[p.UniqueID]; dup {
			continue
		}
		seen[p.UniqueID] = struct{}{}

		old, known := prev[p.UniqueID]
		if !known {
			merged := p.Clone()
			res.Orders[p.UniqueID] = merged
			res.Changed = append(res.Changed, merged)
			if merged.Status == model.StatusPending {
				res.Arrived = append(res.Arrived, merged)
			}
			continue
		}

		merged := mergeOrder(old, p)
		res.Orders[p.UniqueID] = merged
		if !merged.Equal(old) {
			res.Changed = append(res.Changed, merged)
		}
	}

	return res
}

func mergeOrder(old, polled model.Order) model.Order {
	merged := polled.Clone()
	merged.Timestamps = polled.Timestamps.Keep(old.Timestamps)
	merged.AutoCancelled = old.AutoCancelled || polled.AutoCancelled
	if merged.RestaurantID == "" {
		merged.RestaurantID = old.RestaurantID
	}
	return merged
}
