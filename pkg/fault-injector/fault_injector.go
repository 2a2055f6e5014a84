// Package faultinjector injects hardware faults into a simulated register
// bank so that a whole interrupt servicing pass can be exercised.
package faultinjector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/intr"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

// Request is one fault to inject. Exactly one field must be set.
type Request struct {
	// Fault raises bits of a fault tree.
	Fault *FaultToInject `json:"fault,omitempty"`

	// Minion latches a MINION link interrupt code.
	Minion *MinionToInject `json:"minion,omitempty"`

	// SXid raises the first tree bit reporting the SXid.
	SXid *SXidToInject `json:"sxid,omitempty"`
}

type FaultToInject struct {
	// Tree is the fault tree ID, e.g. "ingress.nonfatal.0".
	Tree string `json:"tree"`
	// Instance is the link for link-scoped trees, the tile for the
	// crossbar, the link group for MINION and the partition for PRI.
	Instance int  `json:"instance"`
	Bit      uint `json:"bit"`
}

type MinionToInject struct {
	Link int    `json:"link"`
	Code string `json:"code"`
}

type SXidToInject struct {
	ID       int `json:"id"`
	Instance int `json:"instance"`
}

var (
	ErrNoFaultFound   = errors.New("no fault injection entry found")
	ErrMultipleFaults = errors.New("only one fault injection entry may be set")
)

func (r *Request) Validate() error {
	n := 0
	for _, set := range []bool{r.Fault != nil, r.Minion != nil, r.SXid != nil} {
		if set {
			n++
		}
	}
	switch n {
	case 0:
		return ErrNoFaultFound
	case 1:
	default:
		return ErrMultipleFaults
	}

	switch {
	case r.SXid != nil:
		t, e, ok := intr.FindSXid(r.SXid.ID)
		if !ok {
			return fmt.Errorf("sxid %d is not reported by any fault tree", r.SXid.ID)
		}
		r.Fault = &FaultToInject{Tree: t.ID(), Instance: r.SXid.Instance, Bit: e.Bit}
		r.SXid = nil

		// fall through to validate the resolved tree bit
		fallthrough

	case r.Fault != nil:
		if _, ok := intr.FindTree(r.Fault.Tree); !ok {
			return fmt.Errorf("unknown fault tree %q", r.Fault.Tree)
		}
		if r.Fault.Bit > 31 {
			return fmt.Errorf("bit %d out of range", r.Fault.Bit)
		}
		if r.Fault.Instance < 0 {
			return fmt.Errorf("negative instance %d", r.Fault.Instance)
		}
		// bits outside the tree table are accepted; they exercise the
		// unhandled interrupt path
		return nil

	default:
		if _, ok := intr.ParseMinionCode(r.Minion.Code); !ok {
			if _, err := parseCode(r.Minion.Code); err != nil {
				return fmt.Errorf("unknown minion code %q", r.Minion.Code)
			}
		}
		if r.Minion.Link < 0 {
			return fmt.Errorf("negative link %d", r.Minion.Link)
		}
		return nil
	}
}

// Inject validates the request and asserts it on the simulated bank.
func (r *Request) Inject(s *regbank.Sim, topo intr.Topology) error {
	if err := r.Validate(); err != nil {
		return err
	}

	if r.Minion != nil {
		code, ok := intr.ParseMinionCode(r.Minion.Code)
		if !ok {
			code, _ = parseCode(r.Minion.Code)
		}
		return intr.RaiseMinionLink(s, topo, r.Minion.Link, code)
	}

	t, _ := intr.FindTree(r.Fault.Tree)
	if max := instancesOf(t, topo); r.Fault.Instance >= max {
		return fmt.Errorf("tree %s instance %d out of range [0, %d)", t.ID(), r.Fault.Instance, max)
	}
	return intr.Raise(s, topo, t, r.Fault.Instance, 1<<r.Fault.Bit)
}

func instancesOf(t *fault.Tree, topo intr.Topology) int {
	if t.LinkScoped {
		return topo.Links
	}
	return topo.Instances()[t.Regs.Engine]
}

// ParseSpec parses the command line form of a request:
//
//	<tree>/<instance>/<bit>   e.g. "ingress.nonfatal.0/5/2"
//	minion/<link>/<code>      e.g. "minion/5/BADINIT" or "minion/5/0x14"
//	sxid/<id>/<instance>      e.g. "sxid/12028/32"
func ParseSpec(spec string) (*Request, error) {
	parts := strings.Split(strings.TrimSpace(spec), "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid fault spec %q: want three '/' separated fields", spec)
	}

	switch parts[0] {
	case "minion":
		link, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid link in %q: %w", spec, err)
		}
		return &Request{Minion: &MinionToInject{Link: link, Code: parts[2]}}, nil

	case "sxid":
		id, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid sxid in %q: %w", spec, err)
		}
		instance, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid instance in %q: %w", spec, err)
		}
		return &Request{SXid: &SXidToInject{ID: id, Instance: instance}}, nil

	default:
		instance, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid instance in %q: %w", spec, err)
		}
		bit, err := strconv.ParseUint(parts[2], 10, 5)
		if err != nil {
			return nil, fmt.Errorf("invalid bit in %q: %w", spec, err)
		}
		return &Request{Fault: &FaultToInject{Tree: parts[0], Instance: instance, Bit: uint(bit)}}, nil
	}
}

func parseCode(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
