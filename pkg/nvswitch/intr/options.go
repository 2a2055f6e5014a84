package intr

import (
	"errors"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/deferred"
)

var ErrNoSink = errors.New("device requires a log sink")

type Op struct {
	topology Topology
	sink     nvswitch.Sink
	notifier nvswitch.Notifier
	offload  nvswitch.Offload
	trainer  nvswitch.LinkTrainer
	clk      clock.Clock
	deferred deferred.Config

	// extraMasks are OR'ed into the table bits of a tree, keyed by tree ID.
	extraMasks map[string]uint32
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) error {
	for _, opt := range opts {
		opt(op)
	}

	if op.topology == (Topology{}) {
		op.topology = DefaultTopology
	}
	if err := op.topology.Validate(); err != nil {
		return err
	}
	if op.sink == nil {
		return ErrNoSink
	}
	if op.notifier == nil {
		op.notifier = nvswitch.NopNotifier{}
	}
	if op.trainer == nil {
		op.trainer = nvswitch.NopTrainer{}
	}
	if op.clk == nil {
		op.clk = clock.RealClock{}
	}
	for id := range op.extraMasks {
		if _, ok := FindTree(id); !ok {
			return fmt.Errorf("extra interrupt mask for unknown tree %q", id)
		}
	}
	return nil
}

func WithTopology(t Topology) OpOption {
	return func(op *Op) {
		op.topology = t
	}
}

func WithSink(s nvswitch.Sink) OpOption {
	return func(op *Op) {
		op.sink = s
	}
}

func WithNotifier(n nvswitch.Notifier) OpOption {
	return func(op *Op) {
		op.notifier = n
	}
}

// WithOffload routes counter resets and report enable narrowing of link
// scoped trees through the offload engine.
func WithOffload(o nvswitch.Offload) OpOption {
	return func(op *Op) {
		op.offload = o
	}
}

func WithTrainer(t nvswitch.LinkTrainer) OpOption {
	return func(op *Op) {
		op.trainer = t
	}
}

func WithClock(c clock.Clock) OpOption {
	return func(op *Op) {
		op.clk = c
	}
}

func WithDeferredConfig(cfg deferred.Config) OpOption {
	return func(op *Op) {
		op.deferred = cfg
	}
}

// WithExtraMask enables bits of a tree beyond those its table handles.
// They are serviced and reported as unhandled.
func WithExtraMask(treeID string, bits uint32) OpOption {
	return func(op *Op) {
		if op.extraMasks == nil {
			op.extraMasks = make(map[string]uint32)
		}
		op.extraMasks[treeID] |= bits
	}
}
