package model

import (
	"errors"
	"strconv"
	"strings"
)

// ErrUnknownRole возвращается при разборе неизвестной роли оператора.
var ErrUnknownRole = errors.New("unknown operator role")

// Role описывает роль оператора партнёрской консоли.
type Role int

const (
	RoleKitchenStaff Role = 1
	RoleManager      Role = 2
	RoleDelivery     Role = 3
)

// Permissions содержит права роли.
type Permissions struct {
	AllowedStatuses     []OrderStatus
	CanSeeRevenue       bool
	CanManageRestaurant bool
	CanCancelOrders     bool
}

var rolePermissions = map[Role]Permissions{
	RoleKitchenStaff: {
		AllowedStatuses: []OrderStatus{StatusConfirmed, StatusPreparing, StatusReady},
	},
	RoleManager: {
		AllowedStatuses: []OrderStatus{
			StatusConfirmed, StatusPreparing, StatusReady, StatusOnTheWay,
			StatusDelivered, StatusCancelled, StatusRefunded,
		},
		CanSeeRevenue:       true,
		CanManageRestaurant: true,
		CanCancelOrders:     true,
	},
	RoleDelivery: {
		AllowedStatuses: []OrderStatus{StatusOnTheWay, StatusDelivered},
	},
}

var roleNames = map[Role]string{
	RoleKitchenStaff: "kitchen_staff",
	RoleManager:      "manager",
	RoleDelivery:     "delivery",
}

// ParseRole принимает имя роли или её числовой код.
func ParseRole(v string) (Role, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if n, err := strconv.Atoi(v); err == nil {
		r := Role(n)
		if _, ok := rolePermissions[r]; ok {
			return r, nil
		}
		return 0, ErrUnknownRole
	}
	for r, name := range roleNames {
		if name == v {
			return r, nil
		}
	}
	return 0, ErrUnknownRole
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "role(" + strconv.Itoa(int(r)) + ")"
}

// Permissions возвращает права роли. Для неизвестной роли все права пусты.
func (r Role) Permissions() Permissions {
	return rolePermissions[r]
}

// Allows сообщает, может ли роль переводить заказы в статус s.
func (r Role) Allows(s OrderStatus) bool {
	for _, st := range rolePermissions[r].AllowedStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// CanTransition проверяет, разрешён ли роли переход current -> next.
//
// Менеджер может перескочить на любой более поздний статус потока или отменить/вернуть заказ.
// Кухня двигает заказ только вперёд в пределах pending..ready. Доставка выполняет лишь
// ready -> on_the_way и on_the_way -> delivered.
func (r Role) CanTransition(current, next OrderStatus) bool {
	if current.IsTerminal() || !current.Valid() || !r.Allows(next) {
		return false
	}

	switch r {
	case RoleManager:
		if next == StatusCancelled || next == StatusRefunded {
			return true
		}
		return next.FlowIndex() > current.FlowIndex()
	case RoleKitchenStaff:
		ready := StatusReady.FlowIndex()
		ci, ni := current.FlowIndex(), next.FlowIndex()
		return ci >= 0 && ni <= ready && ni > ci
	case RoleDelivery:
		return (current == StatusReady && next == StatusOnTheWay) ||
			(current == StatusOnTheWay && next == StatusDelivered)
	}
	return false
}
