package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Resource is either a DiscreteResource or a ContinuousResource
type Resource interface {
	ResourceID() ResourceID
	String() string
	isResource()
}

// DiscreteResource is identified by an exact value and has at most one
// consumer at a time
type DiscreteResource struct {
	ID DiscreteResourceID `json:"id"`
}

// RootResource is the implicit parent of every top-level resource
var RootResource = DiscreteResource{ID: Root}

// Discrete returns the discrete resource at the given root-relative path
func Discrete(segments ...Segment) DiscreteResource {
	return DiscreteResource{ID: NewDiscreteResourceID(segments...)}
}

// ResourceID returns the resource id
func (r DiscreteResource) ResourceID() ResourceID { return r.ID }

// Child returns a discrete child resource
func (r DiscreteResource) Child(segments ...Segment) DiscreteResource {
	return DiscreteResource{ID: r.ID.Child(segments...)}
}

// Quantity returns a continuous child resource
func (r DiscreteResource) Quantity(name string, value float64) ContinuousResource {
	return r.ID.Continuous(name).Resource(value)
}

func (r DiscreteResource) String() string { return r.ID.String() }

func (DiscreteResource) isResource() {}

// ContinuousResource is a quantity that may be shared by several consumers
// as long as the sum of allocations stays within Value
type ContinuousResource struct {
	ID    ContinuousResourceID `json:"id"`
	Value float64              `json:"value"`
}

// ResourceID returns the resource id
func (r ContinuousResource) ResourceID() ResourceID { return r.ID }

func (r ContinuousResource) String() string {
	return r.ID.String() + "=" + strconv.FormatFloat(r.Value, 'g', -1, 64)
}

func (ContinuousResource) isResource() {}

// ParseResource parses "of:1/port:3" or "of:1/port:3/@bandwidth=600"
func ParseResource(s string) (Resource, error) {
	path, amount, hasAmount := strings.Cut(s, "=")
	id, err := ParseResourceID(path)
	if err != nil {
		return nil, err
	}
	switch id := id.(type) {
	case DiscreteResourceID:
		if hasAmount {
			return nil, fmt.Errorf("discrete resource %q cannot carry an amount", path)
		}
		return id.Resource(), nil
	case ContinuousResourceID:
		if !hasAmount {
			return nil, fmt.Errorf("continuous resource %q requires an amount", path)
		}
		v, err := strconv.ParseFloat(amount, 64)
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid amount %q for %s", amount, path)
		}
		return id.Resource(v), nil
	}
	return nil, fmt.Errorf("unsupported resource id: %s", s)
}

// ParentOf returns the parent id of a resource
func ParentOf(r Resource) (DiscreteResourceID, bool) {
	return r.ResourceID().Parent()
}

// ConsumerID identifies the holder of an allocation (an intent, a tunnel, ...)
type ConsumerID string

// Allocation binds a resource, or an amount of it, to a consumer
type Allocation struct {
	Resource Resource
	Consumer ConsumerID
}

func (a Allocation) String() string {
	return fmt.Sprintf("%s->%s", a.Resource, a.Consumer)
}
