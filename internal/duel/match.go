package duel

import (
	"github.com/rs/zerolog/log"

	"puzzleduel/internal/relay"
)

// Rendezvous and in-match flow. One broadcast channel per matchId, exactly
// two parties with asymmetric roles: the host (inviter) waits for ready and
// starts the countdown, the guest (acceptor) joins and announces ready. From
// the countdown on, both sides run the same local timers independently.

// matchHandler returns the handler for one match channel. matchID is closed
// over so events from an abandoned match can never touch a newer one.
func (m *Machine) matchHandler(matchID string) relay.Handler {
	return func(env relay.Envelope) {
		payload, err := ParsePayload(env)
		if err != nil {
			log.Debug().Err(err).Str("type", env.Type).Msg("dropping malformed match event")
			return
		}
		switch p := payload.(type) {
		case ReadyPayload:
			m.onReady(matchID, p)
		case CountdownStartPayload:
			m.onCountdownStart(matchID, p)
		case SubmittedPayload:
			m.onSubmitted(matchID, p)
		case RevealPayload:
			m.onReveal(matchID, p)
		case DisconnectedPayload:
			m.onDisconnected(matchID, p)
		}
	}
}

// joinRendezvous is the guest side of the handshake, entered after the
// match-found delay: join the match channel, announce ready, wait for the
// host's countdown-start.
func (m *Machine) joinRendezvous(matchID string) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || m.phase != PhaseFound || st.isHost {
		m.mu.Unlock()
		return
	}

	ch, err := m.relay.Channel(MatchChannel(matchID))
	if err == nil {
		_, err = ch.Subscribe(m.matchHandler(matchID))
	}
	if err != nil {
		// No rendezvous, no match. Soft reset; the host times out on its own.
		log.Debug().Err(err).Str("match_id", matchID).Msg("rendezvous join failed")
		m.teardownLocked()
		m.mu.Unlock()
		m.emitPhase(PhaseLobby)
		return
	}
	st.ch = ch
	m.mu.Unlock()

	if err := ch.Publish(string(EventReady), ReadyPayload{PeerID: m.self.ID}); err != nil {
		log.Debug().Err(err).Str("match_id", matchID).Msg("ready publish")
	}
	log.Info().Str("match_id", matchID).Msg("joined rendezvous as guest")
}

// onReady is the host side: the guest showed up, so the invite is alive.
// Cancel the timeout and start the countdown after the presentation delay.
func (m *Machine) onReady(matchID string, p ReadyPayload) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || m.phase != PhaseInviteSent || !st.isHost {
		m.mu.Unlock()
		return
	}
	if st.inviteTimer != nil {
		st.inviteTimer.Stop()
		st.inviteTimer = nil
	}
	st.remoteID = p.PeerID
	m.phase = PhaseFound
	st.delayTimer = m.clock.AfterFunc(m.timing.FoundDelay, func() {
		m.hostStartCountdown(matchID)
	})
	m.mu.Unlock()

	m.emitPhase(PhaseFound)
	log.Info().Str("match_id", matchID).Str("guest", p.PeerID).Msg("guest ready")
}

// hostStartCountdown publishes countdown-start and begins the host's own
// countdown. The startTime payload is advisory; the guest starts its own
// timer on receipt, accepting sub-second skew over clock reconciliation.
func (m *Machine) hostStartCountdown(matchID string) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || m.phase != PhaseFound || !st.isHost {
		m.mu.Unlock()
		return
	}
	ch := st.ch
	start := CountdownStartPayload{StartTime: m.clock.Now().UnixMilli()}
	ticks := m.beginCountdownLocked(st)
	m.mu.Unlock()

	if err := ch.Publish(string(EventCountdownStart), start); err != nil {
		log.Debug().Err(err).Str("match_id", matchID).Msg("countdown-start publish")
	}
	m.emitPhase(PhaseCountdown)
	m.emit(Notification{Type: NotifyCountdownTick, Tick: ticks})
}

// onCountdownStart is the guest's countdown trigger.
func (m *Machine) onCountdownStart(matchID string, _ CountdownStartPayload) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || m.phase != PhaseFound || st.isHost {
		m.mu.Unlock()
		return
	}
	ticks := m.beginCountdownLocked(st)
	m.mu.Unlock()

	m.emitPhase(PhaseCountdown)
	m.emit(Notification{Type: NotifyCountdownTick, Tick: ticks})
}

func (m *Machine) beginCountdownLocked(st *matchState) int {
	if st.delayTimer != nil {
		st.delayTimer.Stop()
		st.delayTimer = nil
	}
	m.phase = PhaseCountdown
	st.ticksLeft = m.timing.CountdownTicks
	st.tickTimer = m.clock.AfterFunc(m.timing.TickInterval, func() {
		m.onCountdownTick(st.id)
	})
	return st.ticksLeft
}

func (m *Machine) onCountdownTick(matchID string) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || m.phase != PhaseCountdown {
		m.mu.Unlock()
		return
	}
	st.ticksLeft--
	if st.ticksLeft > 0 {
		ticks := st.ticksLeft
		st.tickTimer = m.clock.AfterFunc(m.timing.TickInterval, func() {
			m.onCountdownTick(matchID)
		})
		m.mu.Unlock()
		m.emit(Notification{Type: NotifyCountdownTick, Tick: ticks})
		return
	}

	// Countdown done: open the answer window.
	st.tickTimer = nil
	m.phase = PhasePlaying
	st.playingSince = m.clock.Now()
	st.answerTimer = m.clock.AfterFunc(m.timing.AnswerWindow, func() {
		m.onAnswerTimeout(matchID)
	})
	m.mu.Unlock()
	m.emitPhase(PhasePlaying)
	log.Info().Str("match_id", matchID).Msg("answer window open")
}

// Submit commits the local answer. One-shot: the submitted flag makes any
// second call a no-op. Publishes only the lightweight submitted signal; the
// full submission is revealed later under the two-phase gating rule.
func (m *Machine) Submit(selectedIndex int) {
	m.mu.Lock()
	st := m.match
	if st == nil || m.phase != PhasePlaying || st.submitted {
		m.mu.Unlock()
		return
	}
	if st.answerTimer != nil {
		st.answerTimer.Stop()
		st.answerTimer = nil
	}

	msTaken := m.clock.Since(st.playingSince).Milliseconds()
	isCorrect := false
	if selectedIndex >= 0 {
		ok, err := m.puzzles.Grade(st.puzzleRef, selectedIndex)
		if err != nil {
			log.Debug().Err(err).Str("puzzle", st.puzzleRef).Msg("grading failed, scoring as wrong")
		}
		isCorrect = ok && err == nil
	}
	st.own = &Submission{
		PeerID:        m.self.ID,
		SelectedIndex: selectedIndex,
		IsCorrect:     isCorrect,
		MsTaken:       msTaken,
	}
	st.submitted = true
	m.phase = PhaseWaiting
	ch := st.ch
	matchID := st.id
	reveal, doReveal := st.maybeRevealLocked()
	m.mu.Unlock()

	if ch != nil {
		if err := ch.Publish(string(EventSubmitted), SubmittedPayload{PeerID: m.self.ID}); err != nil {
			log.Debug().Err(err).Str("match_id", matchID).Msg("submitted publish")
		}
	}
	m.emitPhase(PhaseWaiting)
	if doReveal {
		m.publishReveal(ch, matchID, reveal)
	}
	m.tryResolve(matchID)
	log.Info().Str("match_id", matchID).Int("selected", selectedIndex).Int64("ms", msTaken).Msg("answer submitted")
}

// onAnswerTimeout forces submit(-1) when the window elapses with no answer.
// It goes through Submit so the protocol (submitted signal, reveal gating) is
// never skipped; the submitted flag keeps it single-shot.
func (m *Machine) onAnswerTimeout(matchID string) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	due := st != nil && m.phase == PhasePlaying && !st.submitted
	m.mu.Unlock()
	if !due {
		return
	}
	log.Info().Str("match_id", matchID).Msg("answer window elapsed, auto-submitting")
	m.Submit(-1)
}

// onSubmitted records the remote commit. Duplicates are harmless; the flag is
// already set.
func (m *Machine) onSubmitted(matchID string, p SubmittedPayload) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || p.PeerID == m.self.ID {
		m.mu.Unlock()
		return
	}
	st.remoteSubmitted = true
	ch := st.ch
	reveal, doReveal := st.maybeRevealLocked()
	m.mu.Unlock()

	if doReveal {
		m.publishReveal(ch, matchID, reveal)
	}
	m.tryResolve(matchID)
}

// onReveal stores the remote submission. A reveal implies the sender
// submitted, so it also satisfies the gating condition in case the submitted
// signal itself was lost.
func (m *Machine) onReveal(matchID string, p RevealPayload) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || p.PeerID == m.self.ID {
		m.mu.Unlock()
		return
	}
	st.remoteSubmitted = true
	if st.remote == nil {
		st.remote = &Submission{
			PeerID:        p.PeerID,
			SelectedIndex: p.SelectedIndex,
			IsCorrect:     p.IsCorrect,
			MsTaken:       p.MsTaken,
		}
	}
	ch := st.ch
	reveal, doReveal := st.maybeRevealLocked()
	m.mu.Unlock()

	if doReveal {
		m.publishReveal(ch, matchID, reveal)
	}
	m.tryResolve(matchID)
}

// maybeRevealLocked flips the one-shot reveal flag once both commits are
// known locally. Publishing the full submission before the opponent has
// committed would let them react to our timing and correctness; this split is
// the protocol's only anti-cheat measure.
func (st *matchState) maybeRevealLocked() (RevealPayload, bool) {
	if !st.submitted || !st.remoteSubmitted || st.revealed {
		return RevealPayload{}, false
	}
	st.revealed = true
	return RevealPayload{
		PeerID:        st.own.PeerID,
		SelectedIndex: st.own.SelectedIndex,
		IsCorrect:     st.own.IsCorrect,
		MsTaken:       st.own.MsTaken,
	}, true
}

func (m *Machine) publishReveal(ch relay.Channel, matchID string, p RevealPayload) {
	if ch == nil {
		return
	}
	if err := ch.Publish(string(EventReveal), p); err != nil {
		log.Debug().Err(err).Str("match_id", matchID).Msg("reveal publish")
	}
}

// tryResolve concludes the match once both submissions are known locally.
// Both peers run the same pure function over the same pair, so the outcomes
// agree without a referee. The resolved flag makes redelivered reveals
// harmless and guards the single stats increment.
func (m *Machine) tryResolve(matchID string) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || st.resolved || st.own == nil || st.remote == nil {
		m.mu.Unlock()
		return
	}
	st.resolved = true
	outcome := Resolve(*st.own, *st.remote)
	st.stopTimers()
	ch := st.ch
	st.ch = nil
	m.phase = PhaseResult
	result := &Result{MatchID: matchID, Outcome: outcome, Own: st.own, Remote: st.remote}
	m.mu.Unlock()

	m.concludeMatch(ch, result)
}

// onDisconnected resolves the match as a win for the surviving peer. The
// outcome is asymmetric on purpose: the disconnecting side records nothing,
// the survivor always wins, never draws.
func (m *Machine) onDisconnected(matchID string, p DisconnectedPayload) {
	m.mu.Lock()
	st := m.currentMatchLocked(matchID)
	if st == nil || st.resolved || p.PeerID == m.self.ID || m.phase == PhaseLobby || m.phase == PhaseResult {
		m.mu.Unlock()
		return
	}
	st.resolved = true
	st.stopTimers()
	ch := st.ch
	st.ch = nil
	m.phase = PhaseResult
	result := &Result{MatchID: matchID, Outcome: OutcomeWin, Own: st.own}
	m.mu.Unlock()

	log.Info().Str("match_id", matchID).Str("peer", p.PeerID).Msg("opponent disconnected")
	m.concludeMatch(ch, result)
}

// concludeMatch releases the rendezvous channel, bumps the durable counters
// exactly once, and surfaces the result.
func (m *Machine) concludeMatch(ch relay.Channel, result *Result) {
	if ch != nil {
		ch.Close()
	}
	if m.stats != nil {
		if err := m.stats.Record(result.Outcome); err != nil {
			log.Error().Err(err).Str("match_id", result.MatchID).Msg("recording match result")
		}
	}
	m.emitPhase(PhaseResult)
	m.emit(Notification{Type: NotifyResult, Result: result})
	log.Info().Str("match_id", result.MatchID).Str("outcome", string(result.Outcome)).Msg("match concluded")
}
