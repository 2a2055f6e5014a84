package fault

import (
	"github.com/leptonai/nvswitchd/pkg/nvswitch/regbank"
)

// DiagCapacity bounds the diagnostic words carried by one event.
const DiagCapacity = 8

// FixedBuffer is a fixed-capacity ring of diagnostic words, each tagged
// with the register it came from. When full, the oldest word is dropped.
type FixedBuffer struct {
	words [DiagCapacity]uint32
	kinds [DiagCapacity]DiagFlags
	start int
	n     int
}

func (b *FixedBuffer) Push(kind DiagFlags, w uint32) {
	i := b.start
	if b.n < DiagCapacity {
		i = (b.start + b.n) % DiagCapacity
		b.n++
	} else {
		b.start = (b.start + 1) % DiagCapacity
	}
	b.words[i] = w
	b.kinds[i] = kind
}

func (b *FixedBuffer) Len() int { return b.n }

// Words returns the buffered words, oldest first.
func (b *FixedBuffer) Words() []uint32 {
	return b.Select(DiagTimestamp | DiagMisc | DiagHeader)
}

// Select returns the buffered words of the given kinds, oldest first, or
// nil if there are none.
func (b *FixedBuffer) Select(f DiagFlags) []uint32 {
	var out []uint32
	for i := 0; i < b.n; i++ {
		j := (b.start + i) % DiagCapacity
		if b.kinds[j]&f != 0 {
			out = append(out, b.words[j])
		}
	}
	return out
}

// Record is one read of a severity tree, taken before any clearing write.
type Record struct {
	RawPending   uint32
	RawEnable    uint32
	SeverityMask uint32
	// Effective is always RawPending & RawEnable & SeverityMask.
	Effective uint32

	RawFirst   uint32
	RawContain uint32

	Timestamp uint32
	Misc      uint32
	Header    []uint32

	HeaderValid  bool
	AddressValid bool
	Address      uint32

	// Diagnostic holds the timestamp, misc and valid header words in
	// read order. Event payloads are cut from it.
	Diagnostic FixedBuffer
}

// readStatus performs the first read of a tree. It never writes.
func readStatus(bank regbank.Bank, t *Tree, instance int, mask uint32) (Record, error) {
	var rec Record
	var err error

	rec.SeverityMask = mask
	if rec.RawPending, err = bank.Read32(t.Addr(instance, t.Regs.Status)); err != nil {
		return rec, err
	}
	rec.RawEnable = ^uint32(0)
	if t.Regs.Enable != NoReg {
		if rec.RawEnable, err = bank.Read32(t.Addr(instance, t.Regs.Enable)); err != nil {
			return rec, err
		}
	}
	rec.Effective = rec.RawPending & rec.RawEnable & rec.SeverityMask
	return rec, nil
}

// readContext reads the latches and diagnostic words of a tree whose
// effective set is not empty.
func readContext(bank regbank.Bank, t *Tree, instance int, rec *Record) error {
	read := func(off uint32) (uint32, error) {
		if off == NoReg {
			return 0, nil
		}
		return bank.Read32(t.Addr(instance, off))
	}

	var err error
	if rec.RawFirst, err = read(t.Regs.First); err != nil {
		return err
	}
	if rec.RawContain, err = read(t.Regs.Contain); err != nil {
		return err
	}

	if rec.Timestamp, err = read(t.Regs.Timestamp); err != nil {
		return err
	}
	if t.Regs.Timestamp != NoReg {
		rec.Diagnostic.Push(DiagTimestamp, rec.Timestamp)
	}
	if rec.Misc, err = read(t.Regs.Misc); err != nil {
		return err
	}
	if t.Regs.Misc != NoReg {
		rec.Diagnostic.Push(DiagMisc, rec.Misc)
	}

	rec.HeaderValid = t.Regs.HeaderValid == NoReg
	if t.Regs.HeaderValid != NoReg {
		v, err := read(t.Regs.HeaderValid)
		if err != nil {
			return err
		}
		rec.HeaderValid = v&1 != 0
	}
	for _, off := range t.Regs.Header {
		v, err := read(off)
		if err != nil {
			return err
		}
		rec.Header = append(rec.Header, v)
		if rec.HeaderValid {
			rec.Diagnostic.Push(DiagHeader, v)
		}
	}

	// without a valid latch the address register is always meaningful
	rec.AddressValid = t.Regs.AddressValid == NoReg && t.Regs.Address != NoReg
	if t.Regs.AddressValid != NoReg {
		v, err := read(t.Regs.AddressValid)
		if err != nil {
			return err
		}
		rec.AddressValid = v&1 != 0
	}
	if rec.AddressValid {
		if rec.Address, err = read(t.Regs.Address); err != nil {
			return err
		}
	}
	return nil
}

// data returns the diagnostic words an entry asked for.
func (r *Record) data(f DiagFlags) []uint32 {
	return r.Diagnostic.Select(f)
}
