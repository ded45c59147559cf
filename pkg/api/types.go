package api

// Resources travel as their canonical path ("of:1/port:3/vlan:100"),
// continuous ones with their amount ("of:1/port:3/@bandwidth=600").

// RegisterRequest adds resources to the ledger
type RegisterRequest struct {
	Resources []string `json:"resources"`
}

// UnregisterRequest removes resources by id
type UnregisterRequest struct {
	IDs []string `json:"ids"`
}

// AllocateRequest binds resources to a consumer
type AllocateRequest struct {
	Consumer  string   `json:"consumer"`
	Resources []string `json:"resources"`
}

// ReleaseRequest frees resources held by a consumer
type ReleaseRequest struct {
	Consumer  string   `json:"consumer"`
	Resources []string `json:"resources"`
}

// ResultResponse is the outcome of a mutation. OK is false when the ledger
// refused the request; nothing was changed in that case.
type ResultResponse struct {
	OK bool `json:"ok"`
}

// Allocation is one holder of a resource
type Allocation struct {
	Resource string `json:"resource"`
	Consumer string `json:"consumer"`
}

// ResourceResponse describes one registered resource
type ResourceResponse struct {
	Resource    string       `json:"resource"`
	Allocations []Allocation `json:"allocations"`
}

// ResourcesResponse is a list of resources
type ResourcesResponse struct {
	Resources []string `json:"resources"`
}

// AvailabilityResponse answers an availability check
type AvailabilityResponse struct {
	Available bool `json:"available"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
	// Leader is the Raft address of the leader when a mutation reached a
	// follower
	Leader string `json:"leader,omitempty"`
}
