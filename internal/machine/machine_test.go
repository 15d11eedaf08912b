package machine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/partner-console/internal/model"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func pendingOrder(id string) model.Order {
	return model.Order{UniqueID: id, OrderNumber: "n-" + id, Status: model.StatusPending, OrderTime: t0}
}

type recordingQueue struct {
	orders []model.Order
}

func (q *recordingQueue) Enqueue(o model.Order, now time.Time) bool {
	q.orders = append(q.orders, o)
	return true
}

func TestTransition_ManagerSkipsAhead(t *testing.T) {
	o := pendingOrder("a")

	next, err := Transition(o, model.StatusOnTheWay, model.RoleManager, t0)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnTheWay, next.Status)
	require.NotNil(t, next.OnWayAt)
	assert.True(t, next.OnWayAt.Equal(t0))
	assert.Nil(t, next.AcceptedAt)
	assert.Equal(t, model.StatusPending, o.Status, "input order must not change")
}

func TestTransition_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		status model.OrderStatus
		target model.OrderStatus
		role   model.Role
		kind   error
	}{
		{"kitchen skip past ready", model.StatusPending, model.StatusOnTheWay, model.RoleKitchenStaff, ErrPermissionDenied},
		{"delivery accepts", model.StatusPending, model.StatusConfirmed, model.RoleDelivery, ErrPermissionDenied},
		{"kitchen cancels", model.StatusPreparing, model.StatusCancelled, model.RoleKitchenStaff, ErrPermissionDenied},
		{"backwards", model.StatusReady, model.StatusPreparing, model.RoleManager, ErrValidationRejected},
		{"back to pending", model.StatusConfirmed, model.StatusPending, model.RoleManager, ErrValidationRejected},
		{"terminal", model.StatusDelivered, model.StatusRefunded, model.RoleManager, ErrValidationRejected},
		{"same status", model.StatusReady, model.StatusReady, model.RoleManager, ErrValidationRejected},
		{"unknown status", model.StatusReady, model.OrderStatus("lost"), model.RoleManager, ErrValidationRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := pendingOrder("x")
			o.Status = tc.status

			_, err := Transition(o, tc.target, tc.role, t0)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.kind)

			var rej *RejectedError
			require.True(t, errors.As(err, &rej))
			assert.Equal(t, tc.status, rej.From)
			assert.Equal(t, tc.target, rej.To)
		})
	}
}

func TestTransition_KeepsExistingTimestamp(t *testing.T) {
	earlier := t0.Add(-time.Hour)
	o := pendingOrder("a")
	o.Status = model.StatusPreparing
	o.ReadyAt = &earlier

	next, err := Transition(o, model.StatusReady, model.RoleKitchenStaff, t0)
	require.NoError(t, err)
	assert.True(t, next.ReadyAt.Equal(earlier))
}

func TestApplyTransition_RejectsConcurrentUpdate(t *testing.T) {
	m := New(0, nil)
	o := pendingOrder("a")

	next, err := m.ApplyTransition(o, model.StatusConfirmed, model.RoleManager, t0)
	require.NoError(t, err)
	assert.True(t, m.InFlight("a"))

	_, err = m.ApplyTransition(o, model.StatusCancelled, model.RoleManager, t0)
	assert.ErrorIs(t, err, ErrConcurrentUpdate)

	intents := m.Commit(next)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentPersist, intents[0].Kind)
	assert.False(t, m.InFlight("a"))

	_, err = m.ApplyTransition(next, model.StatusPreparing, model.RoleKitchenStaff, t0)
	assert.NoError(t, err)
}

func TestApplyTransition_AbortReleases(t *testing.T) {
	m := New(0, nil)
	o := pendingOrder("a")

	_, err := m.ApplyTransition(o, model.StatusConfirmed, model.RoleManager, t0)
	require.NoError(t, err)
	m.Abort("a")

	_, err = m.ApplyTransition(o, model.StatusConfirmed, model.RoleManager, t0)
	assert.NoError(t, err)
}

func TestAlarm_SecondArmIsQueued(t *testing.T) {
	q := &recordingQueue{}
	m := New(0, q)

	intents := m.ArmAlarm(pendingOrder("a"), t0)
	require.Len(t, intents, 2)
	assert.Equal(t, IntentNotify, intents[0].Kind)
	assert.Equal(t, IntentVibrate, intents[1].Kind)

	assert.Nil(t, m.ArmAlarm(pendingOrder("b"), t0.Add(time.Second)))
	require.Len(t, q.orders, 1)
	assert.Equal(t, "b", q.orders[0].UniqueID)

	a, ok := m.Alarm()
	require.True(t, ok)
	assert.Equal(t, "a", a.Order.UniqueID, "queued order must not pre-empt the active alarm")

	assert.Nil(t, m.ArmAlarm(pendingOrder("a"), t0.Add(time.Second)))
	assert.Len(t, q.orders, 1, "re-arming the active order is a no-op")
}

func TestAlarm_CountdownAndTimeout(t *testing.T) {
	m := New(OrderTimeout, nil)
	o := pendingOrder("a")
	m.ArmAlarm(o, t0)

	remaining, intents := m.Tick(t0.Add(time.Second))
	assert.Equal(t, 299, remaining)
	assert.Empty(t, intents)

	remaining, intents = m.Tick(t0.Add(299*time.Second + 500*time.Millisecond))
	assert.Equal(t, 1, remaining)
	assert.Empty(t, intents)

	remaining, intents = m.Tick(t0.Add(OrderTimeout))
	assert.Equal(t, 0, remaining)
	require.Len(t, intents, 1)
	assert.Equal(t, IntentAutoCancel, intents[0].Kind)

	_, intents = m.Tick(t0.Add(OrderTimeout + time.Second))
	assert.Empty(t, intents, "auto-cancel is emitted once")

	cancelled, err := m.AutoCancel(o, t0.Add(OrderTimeout))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.True(t, cancelled.AutoCancelled)
	require.NotNil(t, cancelled.CancelledAt)

	intents = m.Commit(cancelled)
	require.Len(t, intents, 2)
	assert.Equal(t, IntentStopAlarm, intents[1].Kind)
	_, active := m.Alarm()
	assert.False(t, active)
}

func TestAlarm_FailedAutoCancelIsRetried(t *testing.T) {
	m := New(time.Minute, nil)
	o := pendingOrder("a")
	m.ArmAlarm(o, t0)

	deadline := t0.Add(time.Minute)
	_, intents := m.Tick(deadline)
	require.Len(t, intents, 1)

	_, err := m.AutoCancel(o, deadline)
	require.NoError(t, err)
	m.Abort(o.UniqueID)

	_, intents = m.Tick(deadline.Add(time.Second))
	assert.Empty(t, intents)

	_, intents = m.Tick(deadline.Add(autoCancelRetry))
	require.Len(t, intents, 1)
	assert.Equal(t, IntentAutoCancel, intents[0].Kind)
}

func TestAutoCancel_OnlyPending(t *testing.T) {
	m := New(0, nil)
	o := pendingOrder("a")
	o.Status = model.StatusConfirmed

	_, err := m.AutoCancel(o, t0)
	assert.ErrorIs(t, err, ErrValidationRejected)
}

func TestDisarmStopsTimeout(t *testing.T) {
	m := New(time.Minute, nil)
	m.ArmAlarm(pendingOrder("a"), t0)

	intents := m.DisarmAlarm()
	require.Len(t, intents, 1)
	assert.Equal(t, IntentStopAlarm, intents[0].Kind)

	_, intents = m.Tick(t0.Add(time.Hour))
	assert.Empty(t, intents)
	assert.Nil(t, m.DisarmAlarm())
}

func TestCommitOfOtherOrderKeepsAlarm(t *testing.T) {
	m := New(0, nil)
	m.ArmAlarm(pendingOrder("a"), t0)

	other := pendingOrder("b")
	next, err := m.ApplyTransition(other, model.StatusConfirmed, model.RoleManager, t0)
	require.NoError(t, err)

	intents := m.Commit(next)
	assert.Len(t, intents, 1)
	_, active := m.Alarm()
	assert.True(t, active)
}
