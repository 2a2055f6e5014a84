package regbank

import (
	"sync"
)

var _ Bank = &Sim{}

// Write is one journaled register write.
type Write struct {
	Addr      Addr
	Value     uint32
	Broadcast bool
}

type regClass struct {
	engine Engine
	offset uint32
}

type instKey struct {
	engine   Engine
	instance int
}

type ackRoute struct {
	status uint32
	value  uint32
}

// Sim is an in-memory Bank. Registers read as zero until written.
//
// Register classes marked write-1-to-clear behave like hardware status
// latches: a write clears the written bits. Ack command registers clear a
// whole status register when the ack value is written. Every write made
// through the Bank methods is journaled; hardware-side helpers (Assert,
// Set) are not.
type Sim struct {
	mu sync.Mutex

	regs        map[Addr]uint32
	w1c         map[regClass]bool
	acks        map[regClass]ackRoute
	instances   map[Engine]int
	unavailable map[instKey]bool

	journal []Write
}

// NewSim creates a simulated bank with the given instance count per engine.
func NewSim(instances map[Engine]int) *Sim {
	s := &Sim{
		regs:        make(map[Addr]uint32),
		w1c:         make(map[regClass]bool),
		acks:        make(map[regClass]ackRoute),
		instances:   make(map[Engine]int),
		unavailable: make(map[instKey]bool),
	}
	for e, n := range instances {
		s.instances[e] = n
	}
	return s
}

// MarkW1C makes offset on every instance of e write-1-to-clear.
func (s *Sim) MarkW1C(e Engine, offsets ...uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, off := range offsets {
		s.w1c[regClass{e, off}] = true
	}
}

// MarkAckCommand makes a write of value to cmd clear the status register
// of the same instance and partition.
func (s *Sim) MarkAckCommand(e Engine, cmd uint32, status uint32, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks[regClass{e, cmd}] = ackRoute{status: status, value: value}
}

// SetAvailable powers an instance on or off.
func (s *Sim) SetAvailable(e Engine, instance int, available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable[instKey{e, instance}] = !available
}

func (s *Sim) Read32(a Addr) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable[instKey{a.Engine, a.Instance}] {
		return 0, ErrRegisterUnavailable
	}
	return s.regs[a], nil
}

func (s *Sim) Write32(a Addr, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable[instKey{a.Engine, a.Instance}] {
		return ErrRegisterUnavailable
	}
	s.writeLocked(a, v)
	s.journal = append(s.journal, Write{Addr: a, Value: v})
	return nil
}

func (s *Sim) Broadcast32(e Engine, partition int, offset uint32, v uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < s.instances[e]; i++ {
		if s.unavailable[instKey{e, i}] {
			continue
		}
		s.writeLocked(Addr{Engine: e, Instance: i, Partition: partition, Offset: offset}, v)
	}
	s.journal = append(s.journal, Write{
		Addr:      Addr{Engine: e, Instance: -1, Partition: partition, Offset: offset},
		Value:     v,
		Broadcast: true,
	})
	return nil
}

func (s *Sim) writeLocked(a Addr, v uint32) {
	c := regClass{a.Engine, a.Offset}
	if ack, ok := s.acks[c]; ok && v == ack.value {
		st := a
		st.Offset = ack.status
		delete(s.regs, st)
	}
	if s.w1c[c] {
		s.regs[a] &^= v
		return
	}
	s.regs[a] = v
}

// Assert sets bits the way hardware raises them.
func (s *Sim) Assert(a Addr, bits uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[a] |= bits
}

// Set stores v without write-1-to-clear semantics or journaling.
func (s *Sim) Set(a Addr, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[a] = v
}

// Get returns the raw register value regardless of availability.
func (s *Sim) Get(a Addr) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[a]
}

// Writes returns a copy of the write journal.
func (s *Sim) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.journal))
	copy(out, s.journal)
	return out
}

// WritesTo returns the journaled writes to one address, in order.
func (s *Sim) WritesTo(a Addr) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint32
	for _, w := range s.journal {
		if w.Addr == a {
			out = append(out, w.Value)
		}
	}
	return out
}

// ResetJournal forgets all journaled writes.
func (s *Sim) ResetJournal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}
