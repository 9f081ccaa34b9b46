package domain

import (
	"fmt"
	"strings"
)

// OrderPolicy decides which locally known statuses allow cancel and delete.
// Orders whose status is not cached locally are left to the backend to decide.
type OrderPolicy struct {
	Name string
	// Cancellable lists statuses from which cancel may be requested.
	Cancellable []OrderStatus
	// DeleteTerminalOnly restricts delete to COMPLETED and CANCELLED orders.
	DeleteTerminalOnly bool
}

const (
	PolicyPermissive = "permissive"
	PolicyStrict     = "strict"
)

// PermissivePolicy matches what the backend accepts today: cancel from any
// non-terminal status, delete in any status.
func PermissivePolicy() OrderPolicy {
	return OrderPolicy{
		Name:        PolicyPermissive,
		Cancellable: []OrderStatus{StatusPendingPayment, StatusPendingShipping, StatusPendingReceipt},
	}
}

// StrictPolicy only cancels unpaid orders and only deletes finished ones.
func StrictPolicy() OrderPolicy {
	return OrderPolicy{
		Name:               PolicyStrict,
		Cancellable:        []OrderStatus{StatusPendingPayment},
		DeleteTerminalOnly: true,
	}
}

// ParseOrderPolicy resolves a preset by name.
func ParseOrderPolicy(name string) (OrderPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyPermissive:
		return PermissivePolicy(), nil
	case PolicyStrict:
		return StrictPolicy(), nil
	default:
		return OrderPolicy{}, fmt.Errorf("unknown order policy %q", name)
	}
}

// CanCancel reports whether cancel is allowed from status.
func (p OrderPolicy) CanCancel(status OrderStatus) bool {
	if !status.CanTransitionTo(StatusCancelled) {
		return false
	}
	for _, s := range p.Cancellable {
		if s == status {
			return true
		}
	}
	return false
}

// CanDelete reports whether delete is allowed from status.
func (p OrderPolicy) CanDelete(status OrderStatus) bool {
	if p.DeleteTerminalOnly {
		return status.Terminal()
	}
	return true
}
