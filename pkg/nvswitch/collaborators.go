package nvswitch

import "errors"

var (
	// ErrOffloadUnavailable is returned by an offload engine that cannot
	// take requests (not booted, mailbox busy).
	ErrOffloadUnavailable = errors.New("offload engine unavailable")
)

// Sink is the diagnostic log sink. Calls are fire-and-forget and must not
// block the interrupt path.
type Sink interface {
	LogErrorEvent(ev ErrorEvent)
	LogFatal(id int, message string, contained bool)
	LogNonFatal(id int, message string)
}

// NotifyKind is an event delivered to driver clients.
type NotifyKind uint8

const (
	NotifyPortDown NotifyKind = iota
	NotifyPortUp
	NotifyInbandData
)

func (k NotifyKind) String() string {
	switch k {
	case NotifyPortDown:
		return "port_down"
	case NotifyPortUp:
		return "port_up"
	case NotifyInbandData:
		return "inband_data"
	default:
		return "unknown"
	}
}

// Notifier delivers client notifications.
type Notifier interface {
	Notify(kind NotifyKind, link int)
}

// Offload is the synchronous request/response channel to the offload
// engine (SOE). It is used where direct register access is unsafe.
type Offload interface {
	ClearCounter(block Block, link int) error
	NarrowReportEnable(block Block, sev Severity, link int, newMask uint32) error
}

// LinkState is the training state reported by the link state machine.
type LinkState uint8

const (
	LinkStateUnknown LinkState = iota
	LinkStateOff
	LinkStateSafe
	LinkStateTraining
	LinkStateHighSpeed
)

func (s LinkState) String() string {
	switch s {
	case LinkStateOff:
		return "off"
	case LinkStateSafe:
		return "safe"
	case LinkStateTraining:
		return "training"
	case LinkStateHighSpeed:
		return "high_speed"
	default:
		return "unknown"
	}
}

// LinkTrainer is the link training and negotiation state machine.
type LinkTrainer interface {
	ResetAndDrain(linkMask uint64, immediate bool) error
	IsLinkManagedExternally(link int) bool
	LinkState(link int) LinkState
}

// NopNotifier drops notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(NotifyKind, int) {}

// NopTrainer never resets and reports every link in high speed.
type NopTrainer struct{}

func (NopTrainer) ResetAndDrain(uint64, bool) error { return nil }

func (NopTrainer) IsLinkManagedExternally(int) bool { return false }

func (NopTrainer) LinkState(int) LinkState { return LinkStateHighSpeed }
