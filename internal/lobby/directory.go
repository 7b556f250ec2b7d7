// Package lobby maintains the live set of peers currently browsing for a
// match, backed by the shared presence channel.
package lobby

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"puzzleduel/internal/duel"
	"puzzleduel/internal/relay"
)

// Directory exposes who is reachable for a challenge right now. The latest
// presence snapshot is ground truth; there is no incremental reconciliation,
// and a relay drop just means peers age out of the snapshot (shown offline)
// until reconnection. That is a soft degradation, not an error.
type Directory struct {
	selfID   string
	presence relay.Presence

	mu    sync.Mutex
	peers []relay.Member
}

// Join subscribes to the lobby presence channel and announces the local
// player. onChange, when set, receives the peer set (self excluded) whenever
// membership changes.
func Join(r relay.Relay, self relay.Member, onChange func(peers []relay.Member)) (*Directory, error) {
	if self.JoinedAt.IsZero() {
		self.JoinedAt = time.Now()
	}
	d := &Directory{selfID: self.ID}

	p, err := r.Join(duel.PresenceChannel, self, func(members []relay.Member) {
		peers := withoutSelf(members, self.ID)
		d.mu.Lock()
		d.peers = peers
		d.mu.Unlock()
		if onChange != nil {
			onChange(peers)
		}
	})
	if err != nil {
		return nil, err
	}
	d.presence = p
	log.Info().Str("peer_id", self.ID).Str("name", self.Name).Msg("joined lobby")
	return d, nil
}

// Peers returns the latest known set of invitable peers.
func (d *Directory) Peers() []relay.Member {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]relay.Member, len(d.peers))
	copy(out, d.peers)
	return out
}

// Online reports whether a peer is in the current snapshot.
func (d *Directory) Online(peerID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.peers {
		if p.ID == peerID {
			return true
		}
	}
	return false
}

// Leave departs the presence channel. Implicit on process teardown; explicit
// here so tests and shutdown paths can be orderly.
func (d *Directory) Leave() error {
	return d.presence.Leave()
}

func withoutSelf(members []relay.Member, selfID string) []relay.Member {
	out := make([]relay.Member, 0, len(members))
	for _, m := range members {
		if m.ID == selfID {
			continue
		}
		out = append(out, m)
	}
	return out
}
