package lobby

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzleduel/internal/relay"
)

func TestDirectoryExcludesSelf(t *testing.T) {
	hub := relay.NewMemory()

	alice, err := Join(hub.Client("a"), relay.Member{ID: "a", Name: "Alice"}, nil)
	require.NoError(t, err)
	defer alice.Leave()

	var mu sync.Mutex
	var snapshots [][]relay.Member
	bob, err := Join(hub.Client("b"), relay.Member{ID: "b", Name: "Bob"}, func(peers []relay.Member) {
		mu.Lock()
		snapshots = append(snapshots, peers)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer bob.Leave()

	peers := bob.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "a", peers[0].ID)
	assert.False(t, peers[0].JoinedAt.IsZero(), "join time is published presence metadata")
	assert.True(t, bob.Online("a"))
	assert.False(t, bob.Online("b"), "self is not an invitable peer")

	// Alice sees Bob arrive too.
	peers = alice.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, "b", peers[0].ID)

	mu.Lock()
	require.NotEmpty(t, snapshots)
	mu.Unlock()
}

func TestDirectoryTracksLeave(t *testing.T) {
	hub := relay.NewMemory()

	alice, err := Join(hub.Client("a"), relay.Member{ID: "a", Name: "Alice"}, nil)
	require.NoError(t, err)
	bob, err := Join(hub.Client("b"), relay.Member{ID: "b", Name: "Bob"}, nil)
	require.NoError(t, err)
	defer bob.Leave()

	require.NoError(t, alice.Leave())
	assert.Empty(t, bob.Peers())
	assert.False(t, bob.Online("a"))
}
