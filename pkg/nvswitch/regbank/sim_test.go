package regbank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimReadWrite(t *testing.T) {
	s := NewSim(map[Engine]int{EngineNPORT: 2})
	a := Addr{Engine: EngineNPORT, Instance: 1, Offset: 0x10}

	v, err := s.Read32(a)
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, s.Write32(a, 0xabcd))
	v, err = s.Read32(a)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xabcd), v)
	assert.Equal(t, []uint32{0xabcd}, s.WritesTo(a))
}

func TestSimW1C(t *testing.T) {
	s := NewSim(map[Engine]int{EngineNPORT: 1})
	s.MarkW1C(EngineNPORT, 0x0)
	a := Addr{Engine: EngineNPORT, Offset: 0x0}

	s.Assert(a, 0b1011)
	require.NoError(t, s.Write32(a, 0b0010))
	assert.Equal(t, uint32(0b1001), s.Get(a))

	// writing zero to a W1C register is a no-op
	require.NoError(t, s.Write32(a, 0))
	assert.Equal(t, uint32(0b1001), s.Get(a))
}

func TestSimAckCommand(t *testing.T) {
	s := NewSim(map[Engine]int{EnginePRI: 1})
	s.MarkAckCommand(EnginePRI, 0x8, 0x0, 0x2)
	st := Addr{Engine: EnginePRI, Partition: 1, Offset: 0x0}
	cmd := Addr{Engine: EnginePRI, Partition: 1, Offset: 0x8}

	s.Assert(st, 0x5)
	require.NoError(t, s.Write32(cmd, 0x1))
	assert.Equal(t, uint32(0x5), s.Get(st))
	require.NoError(t, s.Write32(cmd, 0x2))
	assert.Zero(t, s.Get(st))
}

func TestSimUnavailable(t *testing.T) {
	s := NewSim(map[Engine]int{EngineNVLDL: 2})
	s.SetAvailable(EngineNVLDL, 1, false)

	_, err := s.Read32(Addr{Engine: EngineNVLDL, Instance: 1})
	assert.ErrorIs(t, err, ErrRegisterUnavailable)
	assert.ErrorIs(t, s.Write32(Addr{Engine: EngineNVLDL, Instance: 1}, 1), ErrRegisterUnavailable)

	_, err = s.Read32(Addr{Engine: EngineNVLDL, Instance: 0})
	assert.NoError(t, err)
}

func TestSimBroadcast(t *testing.T) {
	s := NewSim(map[Engine]int{EngineNPORT: 3})
	s.SetAvailable(EngineNPORT, 2, false)

	require.NoError(t, s.Broadcast32(EngineNPORT, 0, 0x20, 0xff))
	assert.Equal(t, uint32(0xff), s.Get(Addr{Engine: EngineNPORT, Instance: 0, Offset: 0x20}))
	assert.Equal(t, uint32(0xff), s.Get(Addr{Engine: EngineNPORT, Instance: 1, Offset: 0x20}))
	assert.Zero(t, s.Get(Addr{Engine: EngineNPORT, Instance: 2, Offset: 0x20}))

	ws := s.Writes()
	require.Len(t, ws, 1)
	assert.True(t, ws[0].Broadcast)
	assert.Equal(t, -1, ws[0].Addr.Instance)

	s.ResetJournal()
	assert.Empty(t, s.Writes())
}
