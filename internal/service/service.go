// Package service реализует драйвер партнёрской консоли: опрос заказов выбранного ресторана,
// сигнал новых заказов с автоотменой и изменение статусов оператором.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/partner-console/internal/machine"
	"github.com/mmeshcher/partner-console/internal/model"
	"github.com/mmeshcher/partner-console/internal/normalize"
	"github.com/mmeshcher/partner-console/internal/notify"
	"github.com/mmeshcher/partner-console/internal/partner"
	"github.com/mmeshcher/partner-console/internal/reconcile"
	"github.com/mmeshcher/partner-console/internal/repository"
)

const (
	// DefaultPollInterval - период опроса, пока консоль на переднем плане.
	DefaultPollInterval = 30 * time.Second
	// DefaultBackgroundPollInterval - период опроса в фоне.
	DefaultBackgroundPollInterval = 60 * time.Second
	// DefaultRole - роль пользователя в ресторане, для которого сервер роль не передал.
	DefaultRole = model.RoleKitchenStaff

	tickInterval = time.Second
	// settleMargin - насколько слот сигнала переживает таймаут заказа.
	settleMargin = 10 * time.Second
)

var (
	// ErrPollInProgress возвращается, если предыдущий опрос ещё не завершён.
	ErrPollInProgress = errors.New("poll already in progress")
	// ErrNoRestaurant возвращается, пока ресторан не выбран.
	ErrNoRestaurant = errors.New("no restaurant selected")
)

// API описывает сервер заказов.
type API interface {
	FetchOrders(ctx context.Context, restaurantID string) ([]partner.RawOrder, error)
	FetchRestaurants(ctx context.Context, userID string) ([]partner.RawRestaurant, error)
	UpdateOrderStatus(ctx context.Context, orderNumber string, statusCode int) error
	UpdateRestaurantStatus(ctx context.Context, restaurantID string, statusCode int) error
}

// Repository описывает локальное хранилище консоли.
type Repository interface {
	Close() error
	SaveOrders(ctx context.Context, restaurantID string, orders []model.Order) error
	LoadOrders(ctx context.Context, restaurantID string) ([]model.Order, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// Options задаёт параметры консоли. Нулевые значения заменяются значениями по умолчанию.
type Options struct {
	UserID                 string
	Role                   model.Role
	PollInterval           time.Duration
	BackgroundPollInterval time.Duration
	OrderTimeout           time.Duration
	GraceDelay             time.Duration
	SettleDelay            time.Duration
	ResolveRetryDelay      time.Duration
	ResolveMaxAttempts     int
	Location               *time.Location
}

// AlarmState - состояние сигнала нового заказа.
type AlarmState struct {
	Active    bool
	Order     model.Order
	Remaining int
	Queued    int
}

// Console владеет сессией выбранного ресторана. Все изменения карты заказов выполняются под
// одной блокировкой, поэтому опрос и переход применяются атомарно.
type Console struct {
	api     API
	repo    Repository
	alerter Alerter
	logger  *zap.Logger
	opts    Options
	norm    *normalize.Normalizer
	now     func() time.Time

	machine *machine.Machine
	router  *notify.Router

	mu           sync.Mutex
	restaurants  []model.Restaurant
	restaurantID string
	gen          uint64
	orders       map[string]model.Order

	polling    atomic.Bool
	background atomic.Bool
	wake       chan struct{}

	loopMu     sync.Mutex
	rootCtx    context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

// NewConsole создаёт консоль. alerter может быть nil.
func NewConsole(api API, repo Repository, alerter Alerter, opts Options, logger *zap.Logger) *Console {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.BackgroundPollInterval <= 0 {
		opts.BackgroundPollInterval = DefaultBackgroundPollInterval
	}
	if opts.OrderTimeout <= 0 {
		opts.OrderTimeout = machine.OrderTimeout
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = notify.DefaultSettleDelay
	}
	// слот не должен освободиться раньше, чем сработает автоотмена
	if floor := opts.OrderTimeout + settleMargin; opts.SettleDelay < floor {
		opts.SettleDelay = floor
	}
	if opts.Role == 0 {
		opts.Role = DefaultRole
	}
	if opts.ResolveMaxAttempts <= 0 {
		opts.ResolveMaxAttempts = notify.DefaultMaxAttempts
	}
	if opts.ResolveRetryDelay <= 0 {
		opts.ResolveRetryDelay = notify.DefaultRetryDelay
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if alerter == nil {
		alerter = nopAlerter{}
	}

	router := notify.NewRouter(opts.GraceDelay, opts.SettleDelay)

	return &Console{
		api:     api,
		repo:    repo,
		alerter: alerter,
		logger:  logger,
		opts:    opts,
		norm:    normalize.New(opts.Location),
		now:     time.Now,
		machine: machine.New(opts.OrderTimeout, router),
		router:  router,
		orders:  make(map[string]model.Order),
		wake:    make(chan struct{}, 1),
	}
}

// Close останавливает опрос и закрывает хранилище.
func (s *Console) Close() error {
	s.loopMu.Lock()
	s.stopLoopLocked()
	s.loopMu.Unlock()

	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Run загружает рестораны, выбирает сохранённый (или первый) ресторан и ведёт обратный отсчёт
// сигнала до отмены контекста.
func (s *Console) Run(ctx context.Context) error {
	s.loopMu.Lock()
	s.rootCtx = ctx
	s.loopMu.Unlock()

	if _, err := s.LoadRestaurants(ctx); err != nil {
		s.logger.Warn("load restaurants failed", zap.Error(err))
	}

	if id := s.initialRestaurant(ctx); id != "" {
		if err := s.SelectRestaurant(ctx, id); err != nil {
			s.logger.Warn("select restaurant failed", zap.String("restaurant", id), zap.Error(err))
		}
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.loopMu.Lock()
			s.stopLoopLocked()
			s.loopMu.Unlock()
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Console) initialRestaurant(ctx context.Context) string {
	restaurants := s.Restaurants()

	stored, err := s.repo.Get(ctx, repository.KeySelectedRestaurant)
	if err == nil {
		for _, r := range restaurants {
			if r.ID == stored {
				return stored
			}
		}
	} else if !errors.Is(err, repository.ErrKeyNotFound) {
		s.logger.Warn("read selected restaurant failed", zap.Error(err))
	}

	if len(restaurants) > 0 {
		return restaurants[0].ID
	}
	return ""
}

// LoadRestaurants запрашивает рестораны пользователя у сервера.
func (s *Console) LoadRestaurants(ctx context.Context) ([]model.Restaurant, error) {
	raws, err := s.api.FetchRestaurants(ctx, s.opts.UserID)
	if err != nil {
		return nil, fmt.Errorf("fetch restaurants: %w", err)
	}

	restaurants := s.norm.Restaurants(raws)

	s.mu.Lock()
	s.restaurants = restaurants
	s.mu.Unlock()

	return append([]model.Restaurant(nil), restaurants...), nil
}

// Restaurants возвращает известные рестораны.
func (s *Console) Restaurants() []model.Restaurant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Restaurant(nil), s.restaurants...)
}

// SelectedRestaurant возвращает идентификатор выбранного ресторана.
func (s *Console) SelectedRestaurant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restaurantID
}

func (s *Console) restaurantLocked(id string) (model.Restaurant, bool) {
	for _, r := range s.restaurants {
		if r.ID == id {
			return r, true
		}
	}
	return model.Restaurant{}, false
}

// SelectRestaurant переключает консоль на ресторан id. Цикл опроса прежнего ресторана
// останавливается и дожидается завершения, сигнал, очередь и блокировки сбрасываются,
// затем загружается сохранённый снимок заказов и начинается опрос нового ресторана.
func (s *Console) SelectRestaurant(ctx context.Context, id string) error {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()

	s.mu.Lock()
	_, known := s.restaurantLocked(id)
	s.mu.Unlock()
	if !known {
		return fmt.Errorf("%w: %s", notify.ErrRestaurantNotFound, id)
	}

	s.stopLoopLocked()

	s.mu.Lock()
	prev := s.restaurantID
	stopped := s.machine.DisarmAlarm()
	s.machine.Reset()
	s.router.Reset()
	s.gen++
	gen := s.gen
	s.restaurantID = id
	s.orders = make(map[string]model.Order)
	s.mu.Unlock()

	s.execute(ctx, prev, stopped)

	stored, err := s.repo.LoadOrders(ctx, id)
	if err != nil {
		s.logger.Warn("load stored orders failed", zap.String("restaurant", id), zap.Error(err))
	}

	now := s.now()

	s.mu.Lock()
	var intents []machine.Intent
	if gen == s.gen {
		for _, o := range stored {
			s.orders[o.UniqueID] = o
		}
		s.requeuePendingLocked(stored, now)
		intents = s.tickRouterLocked(now)
	}
	s.mu.Unlock()

	s.execute(ctx, id, intents)

	if err := s.repo.Set(ctx, repository.KeySelectedRestaurant, id); err != nil {
		s.logger.Warn("store selected restaurant failed", zap.Error(err))
	}

	s.logger.Info("restaurant selected", zap.String("restaurant", id), zap.Int("stored_orders", len(stored)))

	s.startLoopLocked()
	return nil
}

// requeuePendingLocked ставит в очередь сигналов сохранённые заказы, которые всё ещё ждут
// подтверждения. Старые заказы встают в очередь первыми.
func (s *Console) requeuePendingLocked(stored []model.Order, now time.Time) {
	pending := make([]model.Order, 0, len(stored))
	for _, o := range stored {
		if o.Status == model.StatusPending && !s.machine.InFlight(o.UniqueID) {
			pending = append(pending, o)
		}
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].OrderTime.Before(pending[j].OrderTime)
	})

	for _, o := range pending {
		s.router.Enqueue(o, now)
	}
}

func (s *Console) startLoopLocked() {
	if s.rootCtx == nil {
		return
	}

	ctx, cancel := context.WithCancel(s.rootCtx)
	done := make(chan struct{})
	s.loopCancel = cancel
	s.loopDone = done

	go s.pollLoop(ctx, done)
}

func (s *Console) stopLoopLocked() {
	if s.loopCancel == nil {
		return
	}
	s.loopCancel()
	<-s.loopDone
	s.loopCancel = nil
	s.loopDone = nil
}

func (s *Console) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-s.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if err := s.Poll(ctx); err != nil && !errors.Is(err, ErrPollInProgress) && ctx.Err() == nil {
			s.logger.Warn("poll failed", zap.Error(err))
		}

		timer.Reset(s.pollInterval())
	}
}

func (s *Console) pollInterval() time.Duration {
	if s.background.Load() {
		return s.opts.BackgroundPollInterval
	}
	return s.opts.PollInterval
}

// SetBackground переключает период опроса. При возврате на передний план опрос выполняется сразу.
func (s *Console) SetBackground(background bool) {
	was := s.background.Swap(background)
	if was && !background {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Background сообщает, работает ли консоль в фоновом режиме.
func (s *Console) Background() bool {
	return s.background.Load()
}

// Poll выполняет один цикл опроса выбранного ресторана. Результат запроса, начатого до смены
// ресторана, отбрасывается.
func (s *Console) Poll(ctx context.Context) error {
	if !s.polling.CompareAndSwap(false, true) {
		return ErrPollInProgress
	}
	defer s.polling.Store(false)

	s.mu.Lock()
	rid, gen := s.restaurantID, s.gen
	s.mu.Unlock()

	if rid == "" {
		return ErrNoRestaurant
	}

	raws, err := s.api.FetchOrders(ctx, rid)
	if err != nil {
		return fmt.Errorf("fetch orders: %w", err)
	}

	polled := s.norm.Orders(raws)
	for i := range polled {
		if polled[i].RestaurantID == "" {
			polled[i].RestaurantID = rid
		}
	}

	now := s.now()

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("stale poll discarded", zap.String("restaurant", rid))
		return nil
	}

	res := reconcile.Merge(s.orders, polled)
	s.orders = res.Orders
	for _, o := range res.Arrived {
		s.router.Enqueue(o, now)
	}
	intents := s.pruneAlarmsLocked(now)
	intents = append(intents, s.tickRouterLocked(now)...)
	s.mu.Unlock()

	if len(res.Changed) > 0 {
		if err := s.repo.SaveOrders(ctx, rid, res.Changed); err != nil {
			s.logger.Error("save orders failed", zap.String("restaurant", rid), zap.Error(err))
		}
		s.alerter.Publish(Alert{Type: AlertOrdersChanged, RestaurantID: rid})
	}

	if len(res.Arrived) > 0 {
		s.logger.Info("new orders arrived", zap.String("restaurant", rid), zap.Int("count", len(res.Arrived)))
	}

	s.execute(ctx, rid, intents)
	return nil
}

// pruneAlarmsLocked снимает сигналы заказов, которые по данным сервера уже не ждут реакции.
func (s *Console) pruneAlarmsLocked(now time.Time) []machine.Intent {
	var intents []machine.Intent

	if a, ok := s.machine.Alarm(); ok {
		if cur, known := s.orders[a.Order.UniqueID]; known && cur.Status != model.StatusPending && !s.machine.InFlight(cur.UniqueID) {
			intents = append(intents, s.machine.DisarmAlarm()...)
			s.router.Dismiss(cur.UniqueID, now)
		}
	}

	for _, o := range s.orders {
		if o.Status != model.StatusPending {
			s.router.Dismiss(o.UniqueID, now)
		}
	}

	return intents
}

func (s *Console) tickRouterLocked(now time.Time) []machine.Intent {
	ev := s.router.Tick(now)

	var intents []machine.Intent
	if ev.Released != nil {
		if a, ok := s.machine.Alarm(); ok && a.Order.UniqueID == ev.Released.Order.UniqueID {
			intents = append(intents, s.machine.DisarmAlarm()...)
		}
	}

	if ev.Activated != nil {
		o := ev.Activated.Order
		if cur, ok := s.orders[o.UniqueID]; ok {
			o = cur
		}
		if o.Status != model.StatusPending {
			s.router.Dismiss(o.UniqueID, now)
			return intents
		}
		intents = append(intents, s.machine.ArmAlarm(o, now)...)
	}

	return intents
}

// Tick продвигает очередь сигналов и обратный отсчёт; вызывается раз в секунду.
func (s *Console) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	rid := s.restaurantID
	intents := s.tickRouterLocked(now)
	remaining, fired := s.machine.Tick(now)
	intents = append(intents, fired...)
	alarm, armed := s.machine.Alarm()
	s.mu.Unlock()

	if armed && remaining > 0 {
		o := alarm.Order
		s.alerter.Publish(Alert{Type: AlertCountdown, RestaurantID: rid, Order: &o, Remaining: remaining})
	}

	s.execute(ctx, rid, intents)
}

// Orders возвращает заказы выбранного ресторана, новые первыми. Если задан status,
// возвращаются только заказы в этом статусе.
func (s *Console) Orders(status model.OrderStatus) []model.Order {
	s.mu.Lock()
	out := make([]model.Order, 0, len(s.orders))
	for _, o := range s.orders {
		if status != "" && o.Status != status {
			continue
		}
		out = append(out, o.Clone())
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].OrderTime.Equal(out[j].OrderTime) {
			return out[i].UniqueID < out[j].UniqueID
		}
		return out[i].OrderTime.After(out[j].OrderTime)
	})
	return out
}

// Order возвращает заказ по UniqueID.
func (s *Console) Order(uniqueID string) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[uniqueID]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", notify.ErrOrderNotFound, uniqueID)
	}
	return o.Clone(), nil
}

// OpenOrder отмечает, что оператор открыл заказ: сигнал этого заказа гаснет, заказ уходит
// из очереди сигналов.
func (s *Console) OpenOrder(ctx context.Context, uniqueID string) (model.Order, error) {
	now := s.now()

	s.mu.Lock()
	o, ok := s.orders[uniqueID]
	if !ok {
		s.mu.Unlock()
		return model.Order{}, fmt.Errorf("%w: %s", notify.ErrOrderNotFound, uniqueID)
	}
	rid := s.restaurantID

	var intents []machine.Intent
	if a, armed := s.machine.Alarm(); armed && a.Order.UniqueID == uniqueID {
		intents = s.machine.DisarmAlarm()
	}
	s.router.Dismiss(uniqueID, now)
	s.mu.Unlock()

	s.execute(ctx, rid, intents)
	return o.Clone(), nil
}

// UpdateOrderStatus переводит заказ в статус target от имени роли role. Локальное состояние
// меняется только после того, как сервер принял изменение.
func (s *Console) UpdateOrderStatus(ctx context.Context, uniqueID string, target model.OrderStatus, role model.Role) (model.Order, error) {
	now := s.now()

	s.mu.Lock()
	o, ok := s.orders[uniqueID]
	if !ok {
		s.mu.Unlock()
		return model.Order{}, fmt.Errorf("%w: %s", notify.ErrOrderNotFound, uniqueID)
	}
	rid, gen := s.restaurantID, s.gen
	next, err := s.machine.ApplyTransition(o, target, role, now)
	s.mu.Unlock()

	if err != nil {
		return o, err
	}

	if err := s.api.UpdateOrderStatus(ctx, o.OrderNumber, target.Code()); err != nil {
		s.machine.Abort(uniqueID)
		s.logger.Warn("order status update failed",
			zap.String("order", o.OrderNumber),
			zap.String("target", string(target)),
			zap.Error(err),
		)
		return o, fmt.Errorf("update order status: %w", err)
	}

	merged, intents := s.commit(gen, next, now)
	s.execute(ctx, rid, intents)

	s.logger.Info("order status updated",
		zap.String("restaurant", rid),
		zap.String("order", o.OrderNumber),
		zap.String("from", string(o.Status)),
		zap.String("to", string(target)),
		zap.String("role", role.String()),
	)
	s.alerter.Publish(Alert{Type: AlertOrderUpdated, RestaurantID: rid, Order: &merged})

	return merged, nil
}

// commit применяет принятое сервером изменение к текущему состоянию заказа. Изменение,
// принятое для прежнего ресторана, только сохраняется.
func (s *Console) commit(gen uint64, next model.Order, now time.Time) (model.Order, []machine.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := next
	if cur, ok := s.orders[next.UniqueID]; ok && gen == s.gen {
		merged = cur.Clone()
		merged.Status = next.Status
		merged.Timestamps = next.Timestamps.Keep(cur.Timestamps)
		merged.AutoCancelled = cur.AutoCancelled || next.AutoCancelled
	}

	intents := s.machine.Commit(merged)
	if gen == s.gen {
		s.orders[merged.UniqueID] = merged
		s.router.Dismiss(merged.UniqueID, now)
	}
	return merged, intents
}

func (s *Console) autoCancel(ctx context.Context, rid string, o model.Order) {
	now := s.now()

	s.mu.Lock()
	gen := s.gen
	cur, ok := s.orders[o.UniqueID]
	if !ok {
		cur = o
	}
	next, err := s.machine.AutoCancel(cur, now)
	var intents []machine.Intent
	if err != nil && errors.Is(err, machine.ErrValidationRejected) {
		intents = s.machine.DisarmAlarm()
		s.router.Dismiss(cur.UniqueID, now)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Info("auto-cancel skipped", zap.String("order", cur.OrderNumber), zap.Error(err))
		s.execute(ctx, rid, intents)
		return
	}

	if err := s.api.UpdateOrderStatus(ctx, next.OrderNumber, model.StatusCancelled.Code()); err != nil {
		s.machine.Abort(next.UniqueID)
		s.router.Extend(next.UniqueID, now)
		s.logger.Warn("auto-cancel failed", zap.String("order", next.OrderNumber), zap.Error(err))
		s.alerter.Publish(Alert{Type: AlertAutoCancelFailed, RestaurantID: rid, Order: &cur, Message: err.Error()})
		return
	}

	merged, intents := s.commit(gen, next, now)
	s.logger.Info("order auto-cancelled", zap.String("restaurant", rid), zap.String("order", next.OrderNumber))
	s.alerter.Publish(Alert{Type: AlertAutoCancelled, RestaurantID: rid, Order: &merged, Message: MessageOrderTimedOut})
	s.execute(ctx, rid, intents)
}

// RoleFor возвращает роль пользователя в ресторане id, выданную сервером. Пустой id означает
// выбранный ресторан. Если сервер роль не передал, используется роль из настроек.
func (s *Console) RoleFor(id string) model.Role {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = s.restaurantID
	}
	if r, ok := s.restaurantLocked(id); ok && r.Role != 0 {
		return r.Role
	}
	return s.opts.Role
}

// SetRestaurantStatus переключает статус ресторана. Доступно роли с правом управления рестораном.
func (s *Console) SetRestaurantStatus(ctx context.Context, id string, status model.RestaurantStatus, role model.Role) (model.Restaurant, error) {
	if !role.Permissions().CanManageRestaurant {
		return model.Restaurant{}, fmt.Errorf("%w: role %s cannot manage restaurants", machine.ErrPermissionDenied, role)
	}

	s.mu.Lock()
	r, ok := s.restaurantLocked(id)
	s.mu.Unlock()
	if !ok {
		return model.Restaurant{}, fmt.Errorf("%w: %s", notify.ErrRestaurantNotFound, id)
	}

	if err := s.api.UpdateRestaurantStatus(ctx, id, status.Code()); err != nil {
		return r, fmt.Errorf("update restaurant status: %w", err)
	}

	s.mu.Lock()
	for i := range s.restaurants {
		if s.restaurants[i].ID == id {
			s.restaurants[i].Status = status
			r = s.restaurants[i]
		}
	}
	s.mu.Unlock()

	s.logger.Info("restaurant status updated", zap.String("restaurant", id), zap.String("status", string(status)))
	return r, nil
}

// Alarm возвращает состояние сигнала.
func (s *Console) Alarm() AlarmState {
	now := s.now()
	state := AlarmState{Queued: s.router.Len()}
	if a, ok := s.machine.Alarm(); ok {
		state.Active = true
		state.Order = a.Order
		state.Remaining = a.Remaining(now)
	}
	return state
}

func (s *Console) execute(ctx context.Context, rid string, intents []machine.Intent) {
	for _, in := range intents {
		o := in.Order
		switch in.Kind {
		case machine.IntentPersist:
			if err := s.repo.SaveOrders(ctx, rid, []model.Order{o}); err != nil {
				s.logger.Error("save order failed", zap.String("order", o.OrderNumber), zap.Error(err))
			}
		case machine.IntentNotify:
			s.logger.Info("new order alarm", zap.String("restaurant", rid), zap.String("order", o.OrderNumber))
			s.alerter.Publish(Alert{Type: AlertNewOrder, RestaurantID: rid, Order: &o, Remaining: int(s.opts.OrderTimeout / time.Second)})
		case machine.IntentVibrate:
			s.alerter.Publish(Alert{Type: AlertVibrate, RestaurantID: rid, Order: &o})
		case machine.IntentStopAlarm:
			s.alerter.Publish(Alert{Type: AlertStopAlarm, RestaurantID: rid, Order: &o})
		case machine.IntentAutoCancel:
			s.autoCancel(ctx, rid, o)
		}
	}
}
