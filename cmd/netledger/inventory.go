package main

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/netledger/pkg/codec"
	"github.com/cuemby/netledger/pkg/types"
)

// maxLambda bounds wavelength channel numbers, which have no codec
const maxLambda = 1<<12 - 1

// Inventory describes resources to register, device by device
type Inventory struct {
	Devices []Device `yaml:"devices"`
	// ExtraResources lists anything else in canonical form, such as
	// "link-1" or "link-1/@bandwidth=40000"
	ExtraResources []string `yaml:"resources,omitempty"`
}

// Device is a network element and its ports
type Device struct {
	ID    string `yaml:"id"`
	Ports []Port `yaml:"ports,omitempty"`
}

// Port is one interface of a device. Label pools are lists of single values
// or inclusive ranges ("100-199").
type Port struct {
	Number    int64    `yaml:"number"`
	Bandwidth float64  `yaml:"bandwidth,omitempty"`
	VLANs     []string `yaml:"vlans,omitempty"`
	MPLS      []string `yaml:"mpls,omitempty"`
	Lambdas   []string `yaml:"lambdas,omitempty"`
}

// ParseInventory decodes an inventory document
func ParseInventory(data []byte) (*Inventory, error) {
	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &inv, nil
}

// Resources expands the inventory into canonical resources, parents first
func (inv *Inventory) Resources() ([]string, error) {
	var out []string
	for _, d := range inv.Devices {
		deviceID, err := types.ParseDiscreteResourceID(d.ID)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", d.ID, err)
		}
		if deviceID.IsRoot() || len(deviceID.Segments()) != 1 {
			return nil, fmt.Errorf("device %q: expected a single top-level segment", d.ID)
		}
		out = append(out, deviceID.String())

		for _, p := range d.Ports {
			if p.Number < 0 {
				return nil, fmt.Errorf("device %s: invalid port number %d", d.ID, p.Number)
			}
			port := deviceID.Child(types.Port(p.Number))
			out = append(out, port.String())

			pools := []struct {
				name    string
				values  []string
				limit   int64
				segment func(int64) types.Segment
			}{
				{"vlans", p.VLANs, codec.MaxVLAN, types.VLAN},
				{"mpls", p.MPLS, codec.MaxMPLSLabel, types.MPLSLabel},
				{"lambdas", p.Lambdas, maxLambda, types.Lambda},
			}
			for _, pool := range pools {
				values, err := expandRanges(pool.values, pool.limit)
				if err != nil {
					return nil, fmt.Errorf("%s %s: %w", port, pool.name, err)
				}
				for _, v := range values {
					out = append(out, port.Child(pool.segment(v)).String())
				}
			}

			if p.Bandwidth < 0 {
				return nil, fmt.Errorf("%s: negative bandwidth", port)
			}
			if p.Bandwidth > 0 {
				out = append(out, port.Continuous("bandwidth").Resource(p.Bandwidth).String())
			}
		}
	}

	for _, r := range inv.ExtraResources {
		parsed, err := types.ParseResource(r)
		if err != nil {
			return nil, err
		}
		out = append(out, parsed.String())
	}
	return out, nil
}

// expandRanges turns ["1", "5-7"] into [1 5 6 7]. Values above limit
// are refused, and so is a list naming more than limit+1 values.
func expandRanges(specs []string, limit int64) ([]int64, error) {
	var out []int64
	for _, spec := range specs {
		lo, hi, isRange := strings.Cut(strings.TrimSpace(spec), "-")
		start, err := strconv.ParseInt(strings.TrimSpace(lo), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", spec)
		}
		end := start
		if isRange {
			if end, err = strconv.ParseInt(strings.TrimSpace(hi), 10, 64); err != nil {
				return nil, fmt.Errorf("invalid range %q", spec)
			}
		}
		if start < 0 || end < start {
			return nil, fmt.Errorf("invalid range %q", spec)
		}
		if end > limit {
			return nil, fmt.Errorf("range %q exceeds %d", spec, limit)
		}
		if int64(len(out))+end-start >= limit+1 {
			return nil, fmt.Errorf("more than %d values", limit+1)
		}
		for v := start; v <= end; v++ {
			out = append(out, v)
		}
	}
	return out, nil
}
