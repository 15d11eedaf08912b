// Package machine реализует машину статусов заказа партнёрской консоли: проверку переходов
// по ролям, блокировку параллельных изменений одного заказа и сигнал нового заказа с
// автоматической отменой по таймауту.
//
// Машина не выполняет побочных эффектов сама: каждая операция возвращает список намерений
// (Intent), которые исполняет внешний драйвер. Время передаётся явно, поэтому тесты управляют
// часами детерминированно.
package machine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mmeshcher/partner-console/internal/model"
)

// OrderTimeout - время ожидания реакции на новый заказ до автоматической отмены.
const OrderTimeout = 300 * time.Second

// autoCancelRetry - пауза перед повтором автоотмены, которую не принял сервер.
const autoCancelRetry = 10 * time.Second

var (
	// ErrValidationRejected возвращается при недопустимом переходе.
	ErrValidationRejected = errors.New("transition rejected")
	// ErrPermissionDenied возвращается, если роли не хватает прав на переход.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrConcurrentUpdate возвращается, пока для заказа выполняется другое изменение.
	ErrConcurrentUpdate = errors.New("status update already in progress")
)

// RejectedError описывает отклонённый переход. Unwrap возвращает одну из ошибок-категорий.
type RejectedError struct {
	Kind     error
	UniqueID string
	From     model.OrderStatus
	To       model.OrderStatus
	Role     model.Role
	Reason   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%v: %s -> %s (%s): %s", e.Kind, e.From, e.To, e.Role, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return e.Kind
}

// IntentKind описывает вид побочного эффекта.
type IntentKind int

const (
	// IntentPersist - сохранить заказ.
	IntentPersist IntentKind = iota + 1
	// IntentNotify - показать/озвучить сигнал нового заказа.
	IntentNotify
	// IntentVibrate - вибросигнал.
	IntentVibrate
	// IntentStopAlarm - погасить сигнал.
	IntentStopAlarm
	// IntentAutoCancel - отменить заказ по таймауту.
	IntentAutoCancel
)

func (k IntentKind) String() string {
	switch k {
	case IntentPersist:
		return "persist"
	case IntentNotify:
		return "notify"
	case IntentVibrate:
		return "vibrate"
	case IntentStopAlarm:
		return "stop_alarm"
	case IntentAutoCancel:
		return "auto_cancel"
	}
	return "unknown"
}

// Intent - побочный эффект, который должен выполнить драйвер.
type Intent struct {
	Kind  IntentKind
	Order model.Order
}

// Enqueuer принимает заказ в очередь сигналов, если сигнал уже занят.
type Enqueuer interface {
	Enqueue(o model.Order, now time.Time) bool
}

// Alarm описывает активный сигнал нового заказа.
type Alarm struct {
	Order    model.Order
	ArmedAt  time.Time
	Deadline time.Time
}

// Remaining возвращает остаток обратного отсчёта в целых секундах, не меньше нуля.
func (a Alarm) Remaining(now time.Time) int {
	d := a.Deadline.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// Machine хранит состояние сигнала и множество заказов, изменение которых выполняется.
type Machine struct {
	timeout time.Duration
	queue   Enqueuer

	mu       sync.Mutex
	inFlight map[string]struct{}
	alarm    *Alarm
	fired    bool
	lastTick time.Time
}

// New создаёт машину статусов. timeout <= 0 означает OrderTimeout. queue может быть nil.
func New(timeout time.Duration, queue Enqueuer) *Machine {
	if timeout <= 0 {
		timeout = OrderTimeout
	}
	return &Machine{
		timeout:  timeout,
		queue:    queue,
		inFlight: make(map[string]struct{}),
	}
}

// Transition проверяет и применяет переход без учёта блокировки изменений.
// Возвращает новый заказ; исходное значение не меняется.
func Transition(o model.Order, target model.OrderStatus, role model.Role, now time.Time) (model.Order, error) {
	reject := func(kind error, reason string) error {
		return &RejectedError{Kind: kind, UniqueID: o.UniqueID, From: o.Status, To: target, Role: role, Reason: reason}
	}

	switch {
	case !target.Valid():
		return o, reject(ErrValidationRejected, "unknown status")
	case o.Status.IsTerminal():
		return o, reject(ErrValidationRejected, "order is already "+o.Status.Label())
	case target == o.Status:
		return o, reject(ErrValidationRejected, "order is already "+o.Status.Label())
	case target == model.StatusPending:
		return o, reject(ErrValidationRejected, "orders cannot return to pending")
	case target.FlowIndex() >= 0 && target.FlowIndex() < o.Status.FlowIndex():
		return o, reject(ErrValidationRejected, "orders only move forward")
	case (target == model.StatusCancelled || target == model.StatusRefunded) && !role.Permissions().CanCancelOrders:
		return o, reject(ErrPermissionDenied, "role cannot cancel orders")
	case !role.CanTransition(o.Status, target):
		return o, reject(ErrPermissionDenied, "role cannot move order to "+target.Label())
	}

	next := o.Clone()
	next.Status = target
	next.SetOnce(target, now)
	return next, nil
}

// ApplyTransition проверяет переход и помечает заказ как изменяемый. После ответа сервера
// драйвер вызывает Commit при успехе или Abort при ошибке.
func (m *Machine) ApplyTransition(o model.Order, target model.OrderStatus, role model.Role, now time.Time) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.inFlight[o.UniqueID]; busy {
		return o, &RejectedError{
			Kind: ErrConcurrentUpdate, UniqueID: o.UniqueID, From: o.Status, To: target, Role: role,
			Reason: "another update for this order is in progress",
		}
	}

	next, err := Transition(o, target, role, now)
	if err != nil {
		return o, err
	}

	m.inFlight[o.UniqueID] = struct{}{}
	return next, nil
}

// AutoCancel отменяет заказ по таймауту. Проверка прав не выполняется, но отменить можно
// только заказ в статусе pending.
func (m *Machine) AutoCancel(o model.Order, now time.Time) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o.Status != model.StatusPending {
		return o, &RejectedError{
			Kind: ErrValidationRejected, UniqueID: o.UniqueID, From: o.Status, To: model.StatusCancelled,
			Reason: "only pending orders are cancelled on timeout",
		}
	}
	if _, busy := m.inFlight[o.UniqueID]; busy {
		return o, &RejectedError{
			Kind: ErrConcurrentUpdate, UniqueID: o.UniqueID, From: o.Status, To: model.StatusCancelled,
			Reason: "operator update in progress",
		}
	}

	next := o.Clone()
	next.Status = model.StatusCancelled
	next.AutoCancelled = true
	next.SetOnce(model.StatusCancelled, now)

	m.inFlight[o.UniqueID] = struct{}{}
	return next, nil
}

// Commit снимает блокировку с заказа после того, как сервер принял изменение, и возвращает
// намерения: сохранить заказ и, если сигнал звучал для него, погасить сигнал.
func (m *Machine) Commit(o model.Order) []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inFlight, o.UniqueID)
	intents := []Intent{{Kind: IntentPersist, Order: o}}
	if m.alarm != nil && m.alarm.Order.UniqueID == o.UniqueID && o.Status != model.StatusPending {
		intents = append(intents, m.disarmLocked()...)
	}
	return intents
}

// Abort снимает блокировку с заказа без изменения состояния. Если не удалась автоотмена
// заказа с активным сигналом, она будет предложена повторно через autoCancelRetry.
func (m *Machine) Abort(uniqueID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, uniqueID)

	if m.alarm != nil && m.fired && m.alarm.Order.UniqueID == uniqueID {
		m.fired = false
		m.alarm.Deadline = m.lastTick.Add(autoCancelRetry)
	}
}

// InFlight сообщает, выполняется ли изменение заказа.
func (m *Machine) InFlight(uniqueID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.inFlight[uniqueID]
	return ok
}

// ArmAlarm включает сигнал для нового заказа. Если сигнал уже звучит для другого заказа,
// заказ уходит в очередь и намерений нет.
func (m *Machine) ArmAlarm(o model.Order, now time.Time) []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.alarm != nil {
		if m.alarm.Order.UniqueID != o.UniqueID && m.queue != nil {
			m.queue.Enqueue(o, now)
		}
		return nil
	}

	m.alarm = &Alarm{Order: o, ArmedAt: now, Deadline: now.Add(m.timeout)}
	m.fired = false
	return []Intent{
		{Kind: IntentNotify, Order: o},
		{Kind: IntentVibrate, Order: o},
	}
}

// DisarmAlarm останавливает обратный отсчёт и освобождает сигнал.
func (m *Machine) DisarmAlarm() []Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disarmLocked()
}

func (m *Machine) disarmLocked() []Intent {
	if m.alarm == nil {
		return nil
	}
	o := m.alarm.Order
	m.alarm = nil
	m.fired = false
	return []Intent{{Kind: IntentStopAlarm, Order: o}}
}

// Alarm возвращает активный сигнал.
func (m *Machine) Alarm() (Alarm, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alarm == nil {
		return Alarm{}, false
	}
	return *m.alarm, true
}

// Tick продвигает обратный отсчёт. Когда таймаут истёк, один раз возвращается намерение
// автоматической отмены; сигнал остаётся занятым до Commit отменённого заказа или DisarmAlarm.
func (m *Machine) Tick(now time.Time) (remaining int, intents []Intent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastTick = now
	if m.alarm == nil {
		return 0, nil
	}

	remaining = m.alarm.Remaining(now)
	if remaining > 0 || m.fired {
		return remaining, nil
	}

	m.fired = true
	return 0, []Intent{{Kind: IntentAutoCancel, Order: m.alarm.Order}}
}

// Reset сбрасывает сигнал и блокировки, например при смене ресторана.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarm = nil
	m.fired = false
	m.inFlight = make(map[string]struct{})
}
