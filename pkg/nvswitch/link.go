package nvswitch

// ClockDomain is a clock that must be running before a block's registers
// may be touched.
type ClockDomain uint8

const (
	ClockNPORT ClockDomain = iota
	ClockNVLDL
	ClockNVLTLC
	ClockNVLIPT
)

// ClockSet is a bitset of running clock domains.
type ClockSet uint8

// AllClocks has every domain running.
const AllClocks ClockSet = 1<<ClockNPORT | 1<<ClockNVLDL | 1<<ClockNVLTLC | 1<<ClockNVLIPT

func (c ClockSet) Has(d ClockDomain) bool { return c&(1<<d) != 0 }

func (c ClockSet) With(d ClockDomain) ClockSet { return c | 1<<d }

func (c ClockSet) Without(d ClockDomain) ClockSet { return c &^ (1 << d) }

// Link is one physical interconnect lane of the switch.
//
// Links are written only by the interrupt dispatcher and the link recovery
// controller; block handlers read them to decide whether a link's
// registers may be polled at all.
type Link struct {
	ID    int
	Valid bool

	// FatalErrorOccurred is sticky: it is set after the first fatal event
	// and only an explicit link reset clears it.
	FatalErrorOccurred bool

	InReset  bool
	ClocksOn ClockSet
}

// Serviceable reports whether registers clocked by d may be accessed.
func (l *Link) Serviceable(d ClockDomain) bool {
	return l != nil && l.Valid && !l.InReset && l.ClocksOn.Has(d)
}

// StormSuppressed reports whether block handlers must narrow their report
// enables for this link. Every handler goes through this accessor.
func (l *Link) StormSuppressed() bool {
	return l != nil && l.FatalErrorOccurred
}
