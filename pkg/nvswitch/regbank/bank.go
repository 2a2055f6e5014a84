// Package regbank defines the register capability the interrupt servicing
// code uses to reach hardware, and an in-memory simulation of it.
package regbank

import (
	"errors"
	"fmt"
)

// ErrRegisterUnavailable is returned when the addressed partition is in a
// power or clock state that makes it unreadable.
var ErrRegisterUnavailable = errors.New("register unavailable")

// Engine is a class of register-bearing unit. Each engine type may have
// many instances.
type Engine uint8

const (
	EngineTop Engine = iota
	EngineNPORT
	EngineNVLDL
	EngineNVLTLC
	EngineNVLIPT
	EngineMINION
	EngineNXBAR
	EnginePRI
)

func (e Engine) String() string {
	switch e {
	case EngineTop:
		return "top"
	case EngineNPORT:
		return "nport"
	case EngineNVLDL:
		return "nvldl"
	case EngineNVLTLC:
		return "nvltlc"
	case EngineNVLIPT:
		return "nvlipt"
	case EngineMINION:
		return "minion"
	case EngineNXBAR:
		return "nxbar"
	case EnginePRI:
		return "pri"
	default:
		return fmt.Sprintf("engine(%d)", uint8(e))
	}
}

// Addr is an engine-relative register address.
type Addr struct {
	Engine    Engine
	Instance  int
	Partition int
	Offset    uint32
}

func (a Addr) String() string {
	return fmt.Sprintf("%s[%d].%d+0x%04x", a.Engine, a.Instance, a.Partition, a.Offset)
}

// Bank reads and writes 32-bit registers.
//
// Broadcast32 writes the register on every instance of the engine; no
// caller observes a state where only some instances were written.
type Bank interface {
	Read32(a Addr) (uint32, error)
	Write32(a Addr, v uint32) error
	Broadcast32(e Engine, partition int, offset uint32, v uint32) error
}
