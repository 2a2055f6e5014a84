// Package fault implements the table-driven block handler engine: one
// algorithm that classifies, snapshots, reports, contains and acknowledges
// the pending bits of any block's severity tree, driven by a static
// per-block fault table.
package fault

import (
	"fmt"
	"sort"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

// NoReg marks a register a tree does not have.
const NoReg = ^uint32(0)

// DiagFlags selects the diagnostic words attached to an event.
type DiagFlags uint8

const (
	DiagTimestamp DiagFlags = 1 << iota
	DiagMisc
	DiagHeader
	DiagAddress
)

// Action is what the engine does with a matched bit.
type Action uint8

const (
	// ActionReport emits an event immediately.
	ActionReport Action = iota
	// ActionDefer hands the bit to the deferred error scheduler.
	ActionDefer
	// ActionRecover reports the bit after every other bit of the same read
	// and then hands the link to the recovery controller.
	ActionRecover
)

// Entry describes one fault bit of a severity tree.
type Entry struct {
	Bit  uint
	ID   int
	Name string

	// Severity is filled from the owning tree.
	Severity nvswitch.Severity

	Snapshot      DiagFlags
	Action        Action
	Uncorrectable bool

	// Counter is the ECC correctable counter reset after the status bit
	// is acknowledged, NoReg if none.
	Counter uint32

	pair    uint
	hasPair bool
}

// E creates a plain reported entry.
func E(bit uint, id int, name string) Entry {
	return Entry{Bit: bit, ID: id, Name: name, Counter: NoReg}
}

// Snap attaches diagnostic words to the entry's events.
func (e Entry) Snap(f DiagFlags) Entry {
	e.Snapshot |= f
	return e
}

// DBE marks a double-bit ECC error: uncorrectable, with its error address.
func (e Entry) DBE() Entry {
	e.Uncorrectable = true
	e.Snapshot |= DiagAddress
	return e
}

// Limit marks a correctable-limit entry paired with the DBE bit on the same
// storage. When both are pending in one read only the DBE is reported.
// The counter register is reset once the status bit is cleared.
func (e Entry) Limit(dbe uint, counter uint32) Entry {
	e.pair = dbe
	e.hasPair = true
	e.Counter = counter
	return e
}

// Deferred routes the entry to the deferred error scheduler.
func (e Entry) Deferred() Entry {
	e.Action = ActionDefer
	return e
}

// Recovery marks a link training fault that triggers reset and drain.
func (e Entry) Recovery() Entry {
	e.Action = ActionRecover
	return e
}

// PairedDBE returns the paired DBE bit of a limit entry.
func (e Entry) PairedDBE() (uint, bool) {
	return e.pair, e.hasPair
}

func (e Entry) mask() uint32 { return 1 << e.Bit }

// Regs locates a tree's registers. Offsets are engine relative; a tree
// without a register uses NoReg.
type Regs struct {
	Engine    regbank.Engine
	Partition int

	Status  uint32
	Enable  uint32
	First   uint32
	Contain uint32

	// AckCmd/AckValue acknowledge trees whose status is read-only.
	AckCmd   uint32
	AckValue uint32

	Timestamp    uint32
	Misc         uint32
	Header       []uint32
	HeaderValid  uint32
	Address      uint32
	AddressValid uint32
}

// Tree is one severity tree of one block: a register generation plus its
// fault table.
type Tree struct {
	Block    nvswitch.Block
	Severity nvswitch.Severity
	// Index is the register generation within the block (status 0, 1, ...).
	Index int

	Regs    Regs
	Entries []Entry

	// Clock gates register access for link scoped trees.
	Clock      nvswitch.ClockDomain
	LinkScoped bool

	// AlwaysContain narrows the report enable on every fatal pass, not
	// only once the link is marked fatally errored.
	AlwaysContain bool

	// QuirkBroadClear writes all ones to status after the selective
	// acknowledgement. Some egress generations need it to drop stale
	// bits; do not set it elsewhere.
	QuirkBroadClear bool

	bits uint32
}

// MustTree validates and sorts a static table. It panics on duplicate or
// out of range bits since tables are package level data.
func MustTree(t Tree) *Tree {
	sorted := make([]Entry, len(t.Entries))
	copy(sorted, t.Entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Bit < sorted[j].Bit })

	for i := range sorted {
		if sorted[i].Bit > 31 {
			panic(fmt.Sprintf("%s: bit %d out of range", t.ID(), sorted[i].Bit))
		}
		if i > 0 && sorted[i].Bit == sorted[i-1].Bit {
			panic(fmt.Sprintf("%s: duplicate bit %d", t.ID(), sorted[i].Bit))
		}
		sorted[i].Severity = t.Severity
		t.bits |= sorted[i].mask()
	}
	t.Entries = sorted
	return &t
}

// ID names the tree, e.g. "ingress.fatal.0".
func (t *Tree) ID() string {
	return fmt.Sprintf("%s.%s.%d", t.Block, t.Severity, t.Index)
}

// Bits is the union of all entry bits.
func (t *Tree) Bits() uint32 { return t.bits }

// Lookup returns the entry for a bit.
func (t *Tree) Lookup(bit uint) (Entry, bool) {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Bit >= bit })
	if i < len(t.Entries) && t.Entries[i].Bit == bit {
		return t.Entries[i], true
	}
	return Entry{}, false
}

// Addr addresses one of the tree's registers on an instance.
func (t *Tree) Addr(instance int, offset uint32) regbank.Addr {
	return regbank.Addr{
		Engine:    t.Regs.Engine,
		Instance:  instance,
		Partition: t.Regs.Partition,
		Offset:    offset,
	}
}
