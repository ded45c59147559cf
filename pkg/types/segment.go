package types

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SegmentKind identifies what a single step of a resource path names
type SegmentKind uint8

const (
	// SegmentOpaque is a free-form named step (device id, link id, ...)
	SegmentOpaque SegmentKind = iota
	SegmentPort
	SegmentVLAN
	SegmentMPLSLabel
	SegmentLambda
)

var segmentPrefixes = map[SegmentKind]string{
	SegmentPort:      "port",
	SegmentVLAN:      "vlan",
	SegmentMPLSLabel: "mpls",
	SegmentLambda:    "lambda",
}

// String returns the path prefix used for the kind
func (k SegmentKind) String() string {
	if p, ok := segmentPrefixes[k]; ok {
		return p
	}
	return "opaque"
}

// ParseSegmentKind resolves a kind name as printed by String
func ParseSegmentKind(s string) (SegmentKind, error) {
	if s == "opaque" {
		return SegmentOpaque, nil
	}
	for k, p := range segmentPrefixes {
		if p == s {
			return k, nil
		}
	}
	return SegmentOpaque, fmt.Errorf("unknown segment kind: %s", s)
}

// Segment is one (kind, key) step of a resource path
type Segment struct {
	Kind  SegmentKind
	Name  string // opaque segments only
	Value int64  // numeric segments only
}

// Opaque returns a named segment. Names may not contain '/', start with '@'
// or collide with the numeric segment syntax.
func Opaque(name string) Segment {
	if name == "" || strings.ContainsAny(name, "/=") || strings.HasPrefix(name, "@") {
		panic(fmt.Sprintf("types: invalid opaque segment name %q", name))
	}
	if prefix, _, ok := strings.Cut(name, ":"); ok && isNumericPrefix(prefix) {
		panic(fmt.Sprintf("types: opaque segment name %q is ambiguous", name))
	}
	return Segment{Kind: SegmentOpaque, Name: name}
}

// isNumericPrefix reports whether p introduces a numeric segment
func isNumericPrefix(p string) bool {
	for _, prefix := range segmentPrefixes {
		if prefix == p {
			return true
		}
	}
	return false
}

// Port returns a port-number segment
func Port(n int64) Segment { return numeric(SegmentPort, n) }

// VLAN returns a VLAN id segment
func VLAN(n int64) Segment { return numeric(SegmentVLAN, n) }

// MPLSLabel returns an MPLS label segment
func MPLSLabel(n int64) Segment { return numeric(SegmentMPLSLabel, n) }

// Lambda returns a wavelength channel segment
func Lambda(n int64) Segment { return numeric(SegmentLambda, n) }

func numeric(kind SegmentKind, n int64) Segment {
	if n < 0 {
		panic(fmt.Sprintf("types: negative %s segment %d", kind, n))
	}
	return Segment{Kind: kind, Value: n}
}

// String renders the segment in path syntax
func (s Segment) String() string {
	if s.Kind == SegmentOpaque {
		return s.Name
	}
	return s.Kind.String() + ":" + strconv.FormatInt(s.Value, 10)
}

// ParseSegment parses a single path step such as "port:3" or "of:0001"
func ParseSegment(s string) (Segment, error) {
	if s == "" || strings.Contains(s, "/") {
		return Segment{}, fmt.Errorf("invalid segment: %q", s)
	}
	if prefix, rest, ok := strings.Cut(s, ":"); ok {
		for kind, p := range segmentPrefixes {
			if p != prefix {
				continue
			}
			n, err := strconv.ParseInt(rest, 10, 64)
			if err != nil || n < 0 {
				return Segment{}, fmt.Errorf("invalid %s segment: %q", p, s)
			}
			return Segment{Kind: kind, Value: n}, nil
		}
	}
	if strings.HasPrefix(s, "@") || strings.Contains(s, "=") {
		return Segment{}, fmt.Errorf("invalid segment: %q", s)
	}
	return Segment{Kind: SegmentOpaque, Name: s}, nil
}

// MarshalJSON encodes the segment in path syntax
func (s Segment) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a segment written by MarshalJSON
func (s *Segment) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseSegment(str)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
