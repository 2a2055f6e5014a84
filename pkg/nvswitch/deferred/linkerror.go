package deferred

import (
	"time"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/fault"
)

// MinionIntr is a decoded MINION link interrupt awaiting its report.
type MinionIntr struct {
	ID       int
	Name     string
	Severity nvswitch.Severity
	// Raw is the link interrupt register as read.
	Raw uint32
}

type treeBits struct {
	tree *fault.Tree
	bits uint32
}

// LinkError accumulates the deferred errors of one link. It is owned by the
// scheduler; other components only enqueue into it.
type LinkError struct {
	Link   int
	NVLIPT int

	trees  []treeBits
	Minion *MinionIntr

	// Scheduled is set while exactly one task for the link is queued.
	Scheduled bool
	gen       uint64

	FirstErrorTime  time.Time
	LastLinkUpTime  time.Time
	LastRetrainTime time.Time
}

// Snapshot is a copy of a link's accumulator.
type Snapshot struct {
	Link         int
	NVLIPT       int
	FatalMask    map[nvswitch.Block]uint32
	NonFatalMask map[nvswitch.Block]uint32
	Minion       *MinionIntr
	Scheduled    bool

	FirstErrorTime  time.Time
	LastLinkUpTime  time.Time
	LastRetrainTime time.Time
}

func (e *LinkError) add(t *fault.Tree, bits uint32) {
	for i := range e.trees {
		if e.trees[i].tree == t {
			e.trees[i].bits |= bits
			return
		}
	}
	e.trees = append(e.trees, treeBits{tree: t, bits: bits})
}

// Empty reports whether nothing is accumulated.
func (e *LinkError) Empty() bool {
	return len(e.trees) == 0 && e.Minion == nil
}

func (e *LinkError) clear() {
	e.trees = nil
	e.Minion = nil
	e.FirstErrorTime = time.Time{}
}

func (e *LinkError) snapshot() Snapshot {
	s := Snapshot{
		Link:            e.Link,
		NVLIPT:          e.NVLIPT,
		FatalMask:       make(map[nvswitch.Block]uint32),
		NonFatalMask:    make(map[nvswitch.Block]uint32),
		Scheduled:       e.Scheduled,
		FirstErrorTime:  e.FirstErrorTime,
		LastLinkUpTime:  e.LastLinkUpTime,
		LastRetrainTime: e.LastRetrainTime,
	}
	for _, tb := range e.trees {
		if tb.tree.Severity == nvswitch.Fatal {
			s.FatalMask[tb.tree.Block] |= tb.bits
		} else {
			s.NonFatalMask[tb.tree.Block] |= tb.bits
		}
	}
	if e.Minion != nil {
		m := *e.Minion
		s.Minion = &m
	}
	return s
}
