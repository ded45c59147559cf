package ledger

import (
	"errors"
)

// Reasons a request is refused. The ledger reports them to callers as false;
// they are returned wrapped by the sub-stores and show up in debug logs and
// in netledger_ledger_failures_total.
var (
	ErrParentNotRegistered  = errors.New("parent not registered")
	ErrNotRegistered        = errors.New("resource not registered")
	ErrAlreadyAllocated     = errors.New("resource already allocated")
	ErrNotAllocated         = errors.New("no matching allocation")
	ErrForeignAllocation    = errors.New("allocation held by another consumer")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrAllocationExists     = errors.New("resource has live allocations")
	ErrCapacityMismatch     = errors.New("resource registered with a different capacity")
	ErrConcurrentConflict   = errors.New("concurrent modification")
	ErrInvalidResourceKind  = errors.New("invalid resource kind")
)

var refusals = []struct {
	err    error
	reason string
}{
	{ErrParentNotRegistered, "parent_not_registered"},
	{ErrNotRegistered, "not_registered"},
	{ErrAlreadyAllocated, "already_allocated"},
	{ErrNotAllocated, "not_allocated"},
	{ErrForeignAllocation, "foreign_allocation"},
	{ErrInsufficientCapacity, "insufficient_capacity"},
	{ErrAllocationExists, "allocation_exists"},
	{ErrCapacityMismatch, "capacity_mismatch"},
	{ErrConcurrentConflict, "concurrent_conflict"},
	{ErrInvalidResourceKind, "invalid_resource_kind"},
}

// refusal returns the metric reason when err is an expected refusal rather
// than a storage failure
func refusal(err error) (string, bool) {
	for _, r := range refusals {
		if errors.Is(err, r.err) {
			return r.reason, true
		}
	}
	return "", false
}
