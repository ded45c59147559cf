package ledger

import (
	"strings"

	"github.com/cuemby/netledger/pkg/types"
)

// Every parent has at most one entry per children table; every allocated
// resource has one entry in the consumers table of its kind.
const (
	// parent id -> resource.DiscreteResources
	tableDiscreteChildren = "discrete.children"
	// discrete id -> types.ConsumerID
	tableDiscreteConsumers = "discrete.consumers"
	// parent id -> resource.ContinuousResources
	tableContinuousChildren = "continuous.children"
	// continuous id -> resource.ContinuousAllocation
	tableContinuousConsumers = "continuous.consumers"
)

func key(id types.ResourceID) string {
	return id.String()
}

// isDescendantKey reports whether k is the key of a resource strictly below
// ancestor
func isDescendantKey(k string, ancestor types.DiscreteResourceID) bool {
	if ancestor.IsRoot() {
		return k != key(types.Root)
	}
	return strings.HasPrefix(k, ancestor.String()+"/")
}
