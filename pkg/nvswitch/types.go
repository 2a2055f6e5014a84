// Package nvswitch defines the vocabulary shared by the NVSwitch interrupt
// servicing packages: severities, functional blocks, servicing results,
// error events, links, and the external collaborators a device talks to.
package nvswitch

import (
	"fmt"
	"time"
)

// Severity is the severity tree a fault bit belongs to.
type Severity uint8

const (
	Fatal Severity = iota
	NonFatal
	Correctable
)

func (s Severity) String() string {
	switch s {
	case Fatal:
		return "fatal"
	case NonFatal:
		return "nonfatal"
	case Correctable:
		return "correctable"
	default:
		return fmt.Sprintf("severity(%d)", uint8(s))
	}
}

// ParseSeverity accepts the String form of a severity.
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "fatal":
		return Fatal, nil
	case "nonfatal", "non-fatal":
		return NonFatal, nil
	case "correctable":
		return Correctable, nil
	}
	return 0, fmt.Errorf("unknown severity %q", s)
}

// Block is a functional block of the switch that owns one or more
// severity trees of fault bits.
type Block uint8

const (
	BlockRoute Block = iota
	BlockIngress
	BlockEgress
	BlockTState
	BlockSourceTrack
	BlockMulticastTState
	BlockReductionTState
	BlockNVLDL
	BlockNVLTLCTx
	BlockNVLTLCRx
	BlockNVLIPT
	BlockCrossbar
	BlockPRIRing
	BlockMINION

	numBlocks
)

var blockNames = [numBlocks]string{
	BlockRoute:           "route",
	BlockIngress:         "ingress",
	BlockEgress:          "egress",
	BlockTState:          "tstate",
	BlockSourceTrack:     "sourcetrack",
	BlockMulticastTState: "multicast",
	BlockReductionTState: "reduction",
	BlockNVLDL:           "nvldl",
	BlockNVLTLCTx:        "nvltlc_tx",
	BlockNVLTLCRx:        "nvltlc_rx",
	BlockNVLIPT:          "nvlipt",
	BlockCrossbar:        "crossbar",
	BlockPRIRing:         "pri_ring",
	BlockMINION:          "minion",
}

func (b Block) String() string {
	if b < numBlocks {
		return blockNames[b]
	}
	return fmt.Sprintf("block(%d)", uint8(b))
}

// ParseBlock accepts the String form of a block.
func ParseBlock(s string) (Block, error) {
	for i, name := range blockNames {
		if name == s {
			return Block(i), nil
		}
	}
	return 0, fmt.Errorf("unknown block %q", s)
}

// Blocks returns every block in declaration order.
func Blocks() []Block {
	bs := make([]Block, 0, numBlocks)
	for b := Block(0); b < numBlocks; b++ {
		bs = append(bs, b)
	}
	return bs
}

// Result is the outcome of servicing one tree, one instance, or one pass.
type Result uint8

const (
	// NotFound means nothing was pending; no register was written.
	NotFound Result = iota
	// Handled means every pending bit matched a table entry.
	Handled
	// UnhandledBitsRemain means at least one pending bit matched no entry.
	UnhandledBitsRemain
	// MoreProcessingRequired is the pass-level form of UnhandledBitsRemain.
	MoreProcessingRequired
)

func (r Result) String() string {
	switch r {
	case NotFound:
		return "not_found"
	case Handled:
		return "handled"
	case UnhandledBitsRemain:
		return "unhandled_bits_remain"
	case MoreProcessingRequired:
		return "more_processing_required"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// Merge combines two results. Anything unhandled wins over handled,
// handled wins over not found.
func (r Result) Merge(o Result) Result {
	if r.unhandled() || o.unhandled() {
		if r == MoreProcessingRequired || o == MoreProcessingRequired {
			return MoreProcessingRequired
		}
		return UnhandledBitsRemain
	}
	if r == Handled || o == Handled {
		return Handled
	}
	return NotFound
}

func (r Result) unhandled() bool {
	return r == UnhandledBitsRemain || r == MoreProcessingRequired
}

// ErrorEvent is the reportable unit sent to the diagnostic log sink.
type ErrorEvent struct {
	// Kind is the SXid of the fault.
	Kind int    `json:"kind"`
	Name string `json:"name"`

	Block    Block    `json:"block"`
	Severity Severity `json:"severity"`

	// LinkID is -1 for faults not scoped to a link (crossbar, PRI ring).
	LinkID   int `json:"link_id"`
	Instance int `json:"instance"`

	// Address is set when the block latched a valid error address.
	Address       *uint32 `json:"address,omitempty"`
	Uncorrectable bool    `json:"uncorrectable"`
	Count         int     `json:"count"`

	// Data holds the diagnostic words requested by the fault entry.
	Data []uint32 `json:"data,omitempty"`

	Time time.Time `json:"time"`
}

// NoLink marks an event that is not scoped to a link.
const NoLink = -1
