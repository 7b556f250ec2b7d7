package duel

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"puzzleduel/internal/relay"
)

// Invitation protocol. Invites travel over the target's personal channel and
// exist only in transit: there is no stored invite record on either side
// beyond the machine's transient fields. Declines are silent; the inviter
// only ever learns about a dead invite through its own timeout.

// SendInvite challenges a peer. It mints a fresh matchId, starts listening on
// the rendezvous channel as host, publishes the invite through a transient
// publisher, and arms the invite timeout. Publishing is fire-and-forget: if
// the invite is lost, the timeout returns us to Lobby.
func (m *Machine) SendInvite(targetPeerID string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.phase != PhaseLobby {
		m.mu.Unlock()
		return ErrNotInLobby
	}

	puzzleRef, err := m.puzzles.PickPuzzle()
	if err != nil {
		m.mu.Unlock()
		return err
	}

	matchID := uuid.NewString()
	ch, err := m.relay.Channel(MatchChannel(matchID))
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if _, err := ch.Subscribe(m.matchHandler(matchID)); err != nil {
		m.mu.Unlock()
		ch.Close()
		return err
	}

	st := &matchState{
		id:            matchID,
		puzzleRef:     puzzleRef,
		isHost:        true,
		remoteID:      targetPeerID,
		startDeadline: m.clock.Now().Add(m.timing.InviteTimeout),
		ch:            ch,
	}
	st.inviteTimer = m.clock.AfterFunc(m.timing.InviteTimeout, func() {
		m.onInviteTimeout(matchID)
	})
	m.match = st
	m.phase = PhaseInviteSent
	invite := InvitePayload{
		MatchID:    matchID,
		PuzzleRef:  puzzleRef,
		FromPeerID: m.self.ID,
		FromName:   m.self.Name,
	}
	m.mu.Unlock()

	m.emitPhase(PhaseInviteSent)

	// The publish may race the transient channel attach and get lost; the
	// timeout covers that, there is no ack or retry.
	if err := relay.PublishOnce(m.relay, InviteChannel(targetPeerID), string(EventInvite), invite); err != nil {
		log.Debug().Err(err).Str("match_id", matchID).Msg("invite publish")
	}
	log.Info().Str("match_id", matchID).Str("to", targetPeerID).Msg("invite sent")
	return nil
}

// CancelInvite withdraws an outstanding invite: best-effort cancellation to
// the target, then back to Lobby regardless of delivery.
func (m *Machine) CancelInvite() error {
	m.mu.Lock()
	if m.phase != PhaseInviteSent || m.match == nil {
		m.mu.Unlock()
		return ErrNotInvited
	}
	matchID, target := m.match.id, m.match.remoteID
	ch := m.teardownLocked()
	m.mu.Unlock()

	m.abandonInvite(matchID, target, ch)
	log.Info().Str("match_id", matchID).Msg("invite cancelled")
	return nil
}

// onInviteTimeout fires when no ready arrived within the invite window. The
// phase guard makes the transition fire exactly once: whichever of timeout or
// cancel runs first wins, the other sees a stale match.
func (m *Machine) onInviteTimeout(matchID string) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || m.phase != PhaseInviteSent {
		m.mu.Unlock()
		return
	}
	target := st.remoteID
	ch := m.teardownLocked()
	m.mu.Unlock()

	m.abandonInvite(matchID, target, ch)
	log.Info().Str("match_id", matchID).Msg("invite timed out")
}

func (m *Machine) abandonInvite(matchID, target string, ch relay.Channel) {
	if ch != nil {
		ch.Close()
	}
	cancel := InviteCancelledPayload{MatchID: matchID}
	if err := relay.PublishOnce(m.relay, InviteChannel(target), string(EventInviteCancelled), cancel); err != nil {
		log.Debug().Err(err).Str("match_id", matchID).Msg("invite-cancelled publish")
	}
	m.emitPhase(PhaseLobby)
}

// AcceptInvite adopts the pending invite's matchId and puzzle as guest. The
// rendezvous join is delayed so the UI can show the match-found transition.
func (m *Machine) AcceptInvite() error {
	m.mu.Lock()
	if m.phase != PhaseInviteReceived || m.pendingInvite == nil {
		m.mu.Unlock()
		return ErrNoInvite
	}
	inv := *m.pendingInvite
	m.pendingInvite = nil
	st := &matchState{
		id:        inv.MatchID,
		puzzleRef: inv.PuzzleRef,
		isHost:    false,
		remoteID:  inv.FromPeerID,
	}
	st.delayTimer = m.clock.AfterFunc(m.timing.FoundDelay, func() {
		m.joinRendezvous(inv.MatchID)
	})
	m.match = st
	m.phase = PhaseFound
	m.mu.Unlock()

	m.emitPhase(PhaseFound)
	log.Info().Str("match_id", inv.MatchID).Str("host", inv.FromPeerID).Msg("invite accepted")
	return nil
}

// DeclineInvite discards the pending invite. Nothing is sent; the inviter
// finds out through its own timeout.
func (m *Machine) DeclineInvite() error {
	m.mu.Lock()
	if m.phase != PhaseInviteReceived {
		m.mu.Unlock()
		return ErrNoInvite
	}
	m.pendingInvite = nil
	m.phase = PhaseLobby
	m.mu.Unlock()

	m.emitPhase(PhaseLobby)
	return nil
}

// handleInviteEvent runs for every event on the personal invite channel.
func (m *Machine) handleInviteEvent(env relay.Envelope) {
	payload, err := ParsePayload(env)
	if err != nil {
		log.Debug().Err(err).Str("type", env.Type).Msg("dropping malformed invite event")
		return
	}

	switch p := payload.(type) {
	case InvitePayload:
		m.mu.Lock()
		// Invites arriving during any phase but Lobby are deliberately
		// ignored; there is no invite queue.
		if m.phase != PhaseLobby {
			phase := m.phase
			m.mu.Unlock()
			log.Debug().Str("match_id", p.MatchID).Str("phase", string(phase)).Msg("ignoring invite outside lobby")
			return
		}
		m.pendingInvite = &p
		m.phase = PhaseInviteReceived
		m.mu.Unlock()

		m.emit(Notification{Type: NotifyInvite, Invite: &p})
		m.emitPhase(PhaseInviteReceived)

	case InviteCancelledPayload:
		m.mu.Lock()
		if m.phase != PhaseInviteReceived || m.pendingInvite == nil || m.pendingInvite.MatchID != p.MatchID {
			m.mu.Unlock()
			return
		}
		m.pendingInvite = nil
		m.phase = PhaseLobby
		m.mu.Unlock()

		m.emit(Notification{Type: NotifyInviteCancelled})
		m.emitPhase(PhaseLobby)
	}
}
