package faultinjector

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leptonai/nvswitchd/pkg/nvswitch"
	"github.com/leptonai/nvswitchd/pkg/nvswitch/intr"
)

var testTopology = intr.Topology{Links: 8, LinksPerGroup: 4, Tiles: 2, PRIHubs: 1}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		spec    string
		want    *Request
		wantErr bool
	}{
		{
			spec: "route.nonfatal.0/5/1",
			want: &Request{Fault: &FaultToInject{Tree: "route.nonfatal.0", Instance: 5, Bit: 1}},
		},
		{
			spec: "minion/6/BADINIT",
			want: &Request{Minion: &MinionToInject{Link: 6, Code: "BADINIT"}},
		},
		{
			spec: " sxid/12028/3 ",
			want: &Request{SXid: &SXidToInject{ID: 12028, Instance: 3}},
		},
		{spec: "route.nonfatal.0/5", wantErr: true},
		{spec: "route.nonfatal.0/x/1", wantErr: true},
		{spec: "route.nonfatal.0/5/32", wantErr: true},
		{spec: "minion/x/BADINIT", wantErr: true},
		{spec: "sxid/abc/1", wantErr: true},
		{spec: "sxid/12028/x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseSpec(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
		fails   bool
	}{
		{name: "empty", wantErr: ErrNoFaultFound},
		{
			name: "two entries",
			req: Request{
				Fault:  &FaultToInject{Tree: "route.fatal.0"},
				Minion: &MinionToInject{Code: "BADINIT"},
			},
			wantErr: ErrMultipleFaults,
		},
		{name: "unknown tree", req: Request{Fault: &FaultToInject{Tree: "route.bogus.0"}}, fails: true},
		{name: "negative instance", req: Request{Fault: &FaultToInject{Tree: "route.fatal.0", Instance: -1}}, fails: true},
		{name: "unmapped bit", req: Request{Fault: &FaultToInject{Tree: "route.fatal.0", Bit: 31}}},
		{name: "unknown sxid", req: Request{SXid: &SXidToInject{ID: 1}}, fails: true},
		{name: "minion by name", req: Request{Minion: &MinionToInject{Link: 1, Code: "DLREQ"}}},
		{name: "minion by value", req: Request{Minion: &MinionToInject{Link: 1, Code: "0x7f"}}},
		{name: "minion bogus", req: Request{Minion: &MinionToInject{Link: 1, Code: "BOGUS"}}, fails: true},
		{name: "minion negative link", req: Request{Minion: &MinionToInject{Link: -1, Code: "DLREQ"}}, fails: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.fails:
				assert.Error(t, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateResolvesSXid(t *testing.T) {
	req := Request{SXid: &SXidToInject{ID: 12028, Instance: 3}}
	require.NoError(t, req.Validate())
	assert.Nil(t, req.SXid)
	require.NotNil(t, req.Fault)
	assert.Equal(t, 3, req.Fault.Instance)

	tr, ok := intr.FindTree(req.Fault.Tree)
	require.True(t, ok)
	e, ok := tr.Lookup(req.Fault.Bit)
	require.True(t, ok)
	assert.Equal(t, 12028, e.ID)
}

func TestInjectRaisesStatus(t *testing.T) {
	sim := intr.NewSimBank(testTopology)

	req, err := ParseSpec("route.nonfatal.0/5/1")
	require.NoError(t, err)
	require.NoError(t, req.Inject(sim, testTopology))

	tr, _ := intr.FindTree("route.nonfatal.0")
	assert.Equal(t, uint32(1<<1), sim.Get(tr.Addr(5, tr.Regs.Status)))

	req, err = ParseSpec("route.nonfatal.0/8/1")
	require.NoError(t, err)
	assert.Error(t, req.Inject(sim, testTopology), "link 8 is out of range")

	req, err = ParseSpec("minion/8/BADINIT")
	require.NoError(t, err)
	assert.Error(t, req.Inject(sim, testTopology))
}

type recordingSink struct {
	mu     sync.Mutex
	events []nvswitch.ErrorEvent
}

func (s *recordingSink) LogErrorEvent(ev nvswitch.ErrorEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) LogFatal(int, string, bool) {}

func (s *recordingSink) LogNonFatal(int, string) {}

func TestInjectServicedByDevice(t *testing.T) {
	sim := intr.NewSimBank(testTopology)
	sink := &recordingSink{}
	dev, err := intr.New(sim, intr.WithTopology(testTopology), intr.WithSink(sink))
	require.NoError(t, err)
	require.NoError(t, dev.Init(context.Background()))

	for _, spec := range []string{"route.nonfatal.0/5/1", "sxid/23001/1"} {
		req, err := ParseSpec(spec)
		require.NoError(t, err)
		require.NoError(t, req.Inject(sim, testTopology))
	}

	res, err := dev.Service(context.Background())
	require.NoError(t, err)
	assert.Equal(t, nvswitch.Handled, res)

	require.Len(t, sink.events, 2)
	assert.Equal(t, 15002, sink.events[0].Kind)
	assert.Equal(t, 5, sink.events[0].LinkID)
	assert.Equal(t, 23001, sink.events[1].Kind)
	assert.Equal(t, 1, sink.events[1].Instance)
}
