package relay

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testHeartbeat = 5 * time.Second
	testTTL       = 15 * time.Second
	testSweep     = 2 * time.Second
)

func joinTestSession(t *testing.T, hub *Memory, fc clockwork.Clock, id string) (*presenceSession, Channel) {
	t.Helper()
	ch, err := hub.Client(id).Channel("pres")
	require.NoError(t, err)
	p, err := newPresenceSession(ch, Member{ID: id, Name: id}, nil, fc,
		testHeartbeat, testTTL, testSweep)
	require.NoError(t, err)
	return p, ch
}

func TestPresenceJoinAndLeave(t *testing.T) {
	hub := NewMemory()
	fc := clockwork.NewFakeClock()

	pa, _ := joinTestSession(t, hub, fc, "a")
	defer pa.Leave()
	pb, _ := joinTestSession(t, hub, fc, "b")

	// b's join announce reaches a, and a's immediate heartbeat reply means b
	// does not wait a full interval to see a.
	require.Len(t, pa.Members(), 2)
	require.Len(t, pb.Members(), 2)
	assert.Equal(t, "a", pb.Members()[0].ID)
	assert.Equal(t, "b", pb.Members()[1].ID)

	require.NoError(t, pb.Leave())
	members := pa.Members()
	require.Len(t, members, 1)
	assert.Equal(t, "a", members[0].ID)
}

func TestPresenceHeartbeatKeepsMemberAlive(t *testing.T) {
	hub := NewMemory()
	fc := clockwork.NewFakeClock()

	pa, _ := joinTestSession(t, hub, fc, "a")
	defer pa.Leave()
	pb, _ := joinTestSession(t, hub, fc, "b")
	defer pb.Leave()

	// Both sessions keep heartbeating, so many TTL windows pass without
	// anybody getting swept.
	for i := 0; i < 20; i++ {
		fc.Advance(testSweep)
		time.Sleep(time.Millisecond)
	}
	assert.Len(t, pa.Members(), 2)
	assert.Len(t, pb.Members(), 2)
}

func TestPresenceSweepsSilentMember(t *testing.T) {
	hub := NewMemory()
	fc := clockwork.NewFakeClock()

	pa, _ := joinTestSession(t, hub, fc, "a")
	defer pa.Leave()
	pb, chB := joinTestSession(t, hub, fc, "b")
	defer pb.Leave()
	require.Len(t, pa.Members(), 2)

	// b dies without a leave notice: its channel goes away, heartbeats stop.
	// The TTL sweep is the only thing that can clean it up.
	require.NoError(t, chB.Close())

	require.Eventually(t, func() bool {
		fc.Advance(testSweep)
		return len(pa.Members()) == 1
	}, time.Second, 5*time.Millisecond, "silent member must age out")
	assert.Equal(t, "a", pa.Members()[0].ID)

	// b's own view shrinks too once a's heartbeats stop reaching it, but the
	// session never sweeps itself.
	require.Eventually(t, func() bool {
		fc.Advance(testSweep)
		return len(pb.Members()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "b", pb.Members()[0].ID)
}
