package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	rootPath         = "/"
	continuousMarker = "@"
)

// ResourceID identifies a discrete or continuous resource and its parent chain
type ResourceID interface {
	// Parent returns the containing discrete resource; the root has none
	Parent() (DiscreteResourceID, bool)
	String() string
	isResourceID()
}

// DiscreteResourceID is a path of segments starting at the root.
// The zero value is the root.
type DiscreteResourceID struct {
	path string
}

// Root is the well-known id every resource path starts from
var Root = DiscreteResourceID{}

// NewDiscreteResourceID builds an id from root-relative segments
func NewDiscreteResourceID(segments ...Segment) DiscreteResourceID {
	return Root.Child(segments...)
}

// Child returns the id extended by the given segments
func (id DiscreteResourceID) Child(segments ...Segment) DiscreteResourceID {
	if len(segments) == 0 {
		return id
	}
	parts := make([]string, 0, len(segments)+1)
	if !id.IsRoot() {
		parts = append(parts, id.path)
	}
	for _, s := range segments {
		if s.Kind == SegmentOpaque && s.Name == "" {
			panic("types: empty segment")
		}
		parts = append(parts, s.String())
	}
	return DiscreteResourceID{path: strings.Join(parts, "/")}
}

// IsRoot reports whether the id is the root
func (id DiscreteResourceID) IsRoot() bool {
	return id.path == ""
}

// Parent returns the parent id; the root has none
func (id DiscreteResourceID) Parent() (DiscreteResourceID, bool) {
	if id.IsRoot() {
		return Root, false
	}
	i := strings.LastIndexByte(id.path, '/')
	if i < 0 {
		return Root, true
	}
	return DiscreteResourceID{path: id.path[:i]}, true
}

// Last returns the final segment. It panics on the root.
func (id DiscreteResourceID) Last() Segment {
	if id.IsRoot() {
		panic("types: root has no segments")
	}
	last := id.path[strings.LastIndexByte(id.path, '/')+1:]
	s, err := ParseSegment(last)
	if err != nil {
		panic(fmt.Sprintf("types: corrupt id %q: %v", id.path, err))
	}
	return s
}

// Segments returns the root-relative path steps
func (id DiscreteResourceID) Segments() []Segment {
	if id.IsRoot() {
		return nil
	}
	parts := strings.Split(id.path, "/")
	segs := make([]Segment, len(parts))
	for i, p := range parts {
		s, err := ParseSegment(p)
		if err != nil {
			panic(fmt.Sprintf("types: corrupt id %q: %v", id.path, err))
		}
		segs[i] = s
	}
	return segs
}

// Resource returns the discrete resource identified by the id
func (id DiscreteResourceID) Resource() DiscreteResource {
	return DiscreteResource{ID: id}
}

// Continuous returns the id of a named quantity under this resource
func (id DiscreteResourceID) Continuous(name string) ContinuousResourceID {
	if name == "" || strings.ContainsAny(name, "/@=") {
		panic(fmt.Sprintf("types: invalid continuous resource name %q", name))
	}
	return ContinuousResourceID{parent: id, name: name}
}

func (id DiscreteResourceID) String() string {
	if id.IsRoot() {
		return rootPath
	}
	return id.path
}

func (DiscreteResourceID) isResourceID() {}

// MarshalJSON encodes the id as its canonical path
func (id DiscreteResourceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a canonical path
func (id *DiscreteResourceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDiscreteResourceID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ContinuousResourceID names a quantity (e.g. bandwidth) held by a discrete resource
type ContinuousResourceID struct {
	parent DiscreteResourceID
	name   string
}

// Parent returns the discrete resource holding the quantity
func (id ContinuousResourceID) Parent() (DiscreteResourceID, bool) {
	return id.parent, true
}

// Name returns the quantity name
func (id ContinuousResourceID) Name() string {
	return id.name
}

// Resource returns the continuous resource with the given amount
func (id ContinuousResourceID) Resource(value float64) ContinuousResource {
	return ContinuousResource{ID: id, Value: value}
}

func (id ContinuousResourceID) String() string {
	if id.parent.IsRoot() {
		return continuousMarker + id.name
	}
	return id.parent.path + "/" + continuousMarker + id.name
}

func (ContinuousResourceID) isResourceID() {}

// MarshalJSON encodes the id as its canonical path
func (id ContinuousResourceID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a canonical path
func (id *ContinuousResourceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseResourceID(s)
	if err != nil {
		return err
	}
	cid, ok := parsed.(ContinuousResourceID)
	if !ok {
		return fmt.Errorf("not a continuous resource id: %q", s)
	}
	*id = cid
	return nil
}

// ParseDiscreteResourceID parses a path such as "of:1/port:3/vlan:100"
func ParseDiscreteResourceID(s string) (DiscreteResourceID, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return Root, nil
	}
	parts := strings.Split(s, "/")
	segs := make([]Segment, len(parts))
	for i, p := range parts {
		seg, err := ParseSegment(p)
		if err != nil {
			return Root, fmt.Errorf("invalid resource id %q: %w", s, err)
		}
		segs[i] = seg
	}
	return NewDiscreteResourceID(segs...), nil
}

// ParseResourceID parses either id kind; a final "@name" step denotes a
// continuous resource
func ParseResourceID(s string) (ResourceID, error) {
	trimmed := strings.Trim(s, "/")
	i := strings.LastIndexByte(trimmed, '/')
	last := trimmed[i+1:]
	if !strings.HasPrefix(last, continuousMarker) {
		return ParseDiscreteResourceID(trimmed)
	}
	name := strings.TrimPrefix(last, continuousMarker)
	if name == "" || strings.ContainsAny(name, "@=") {
		return nil, fmt.Errorf("invalid continuous resource id %q", s)
	}
	parentPath := ""
	if i >= 0 {
		parentPath = trimmed[:i]
	}
	parent, err := ParseDiscreteResourceID(parentPath)
	if err != nil {
		return nil, err
	}
	return ContinuousResourceID{parent: parent, name: name}, nil
}
