// Package duel implements the real-time 1v1 match protocol: invitation,
// rendezvous, synchronized countdown, the two-phase submit/reveal exchange,
// and winner resolution. Both peers run the same machine against a shared
// relay; there is no authoritative server, so consistency comes only from
// message exchange and the handlers tolerate loss, duplication and
// reordering.
package duel

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"puzzleduel/internal/relay"
)

// Phase is the local match state. Each client holds its own copy; the two
// sides converge only through the rendezvous channel.
type Phase string

const (
	PhaseLobby          Phase = "lobby"
	PhaseInviteSent     Phase = "invite_sent"
	PhaseInviteReceived Phase = "invite_received"
	PhaseFound          Phase = "found"
	PhaseCountdown      Phase = "countdown"
	PhasePlaying        Phase = "playing"
	PhaseWaiting        Phase = "waiting"
	PhaseResult         Phase = "result"
)

var (
	ErrNotInLobby = errors.New("duel: not in lobby")
	ErrNoInvite   = errors.New("duel: no pending invite")
	ErrNotInvited = errors.New("duel: no invite outstanding")
	ErrClosed     = errors.New("duel: machine closed")
)

// Timing bundles every protocol interval.
type Timing struct {
	InviteTimeout  time.Duration
	FoundDelay     time.Duration
	CountdownTicks int
	TickInterval   time.Duration
	AnswerWindow   time.Duration
}

// DefaultTiming returns the protocol constants.
func DefaultTiming() Timing {
	return Timing{
		InviteTimeout:  30 * time.Second,
		FoundDelay:     1500 * time.Millisecond,
		CountdownTicks: 3,
		TickInterval:   time.Second,
		AnswerWindow:   60 * time.Second,
	}
}

// Peer identifies the local player.
type Peer struct {
	ID   string
	Name string
}

// Grader is the puzzle collaborator boundary: pick a puzzle for a new invite
// and grade a selected option.
type Grader interface {
	PickPuzzle() (string, error)
	Grade(puzzleRef string, selectedIndex int) (bool, error)
}

// Recorder is the durable stats collaborator. Record is called exactly once
// per concluded match.
type Recorder interface {
	Record(outcome Outcome) error
}

// Config wires a Machine.
type Config struct {
	Self    Peer
	Relay   relay.Relay
	Puzzles Grader
	Stats   Recorder
	Clock   clockwork.Clock
	Timing  Timing
	Notify  func(Notification)
}

// Machine is the local match state machine. All mutation funnels through
// transition methods that hold mu; side effects (publishes, notifications)
// run after the lock is released so a relay callback can never re-enter a
// held lock.
type Machine struct {
	self    Peer
	relay   relay.Relay
	puzzles Grader
	stats   Recorder
	clock   clockwork.Clock
	timing  Timing
	notify  func(Notification)

	mu            sync.Mutex
	phase         Phase
	match         *matchState
	pendingInvite *InvitePayload
	inviteCh      relay.Channel
	closed        bool
}

// matchState is the per-match record. It exists from invite send/accept until
// the client returns to Lobby; every relay handler validates against id so
// stale messages from abandoned matches are discarded.
type matchState struct {
	id            string
	puzzleRef     string
	isHost        bool
	remoteID      string
	startDeadline time.Time
	ch            relay.Channel

	inviteTimer clockwork.Timer
	delayTimer  clockwork.Timer
	tickTimer   clockwork.Timer
	answerTimer clockwork.Timer

	ticksLeft    int
	playingSince time.Time

	submitted       bool
	remoteSubmitted bool
	revealed        bool
	resolved        bool
	own             *Submission
	remote          *Submission
}

// MatchView is a read-only snapshot of the current match.
type MatchView struct {
	MatchID       string
	PuzzleRef     string
	IsHost        bool
	RemoteID      string
	Phase         Phase
	StartDeadline time.Time
}

// NewMachine creates a machine in the Lobby phase. Start must be called
// before the peer can receive invites.
func NewMachine(cfg Config) *Machine {
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timing := cfg.Timing
	if timing.CountdownTicks == 0 {
		timing = DefaultTiming()
	}
	return &Machine{
		self:    cfg.Self,
		relay:   cfg.Relay,
		puzzles: cfg.Puzzles,
		stats:   cfg.Stats,
		clock:   clock,
		timing:  timing,
		notify:  cfg.Notify,
		phase:   PhaseLobby,
	}
}

// Start opens the personal invite channel. The machine listens there for its
// whole lifetime.
func (m *Machine) Start() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	ch, err := m.relay.Channel(InviteChannel(m.self.ID))
	if err != nil {
		return err
	}
	if _, err := ch.Subscribe(m.handleInviteEvent); err != nil {
		ch.Close()
		return err
	}
	m.mu.Lock()
	m.inviteCh = ch
	m.mu.Unlock()
	return nil
}

// Phase returns the current local phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Match returns a snapshot of the current match, if any.
func (m *Machine) Match() (MatchView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.match == nil {
		return MatchView{}, false
	}
	return MatchView{
		MatchID:       m.match.id,
		PuzzleRef:     m.match.puzzleRef,
		IsHost:        m.match.isHost,
		RemoteID:      m.match.remoteID,
		Phase:         m.phase,
		StartDeadline: m.match.startDeadline,
	}, true
}

// ReturnToLobby resets a concluded match back to the Lobby phase.
func (m *Machine) ReturnToLobby() {
	m.mu.Lock()
	if m.phase != PhaseResult {
		m.mu.Unlock()
		return
	}
	m.match = nil
	m.phase = PhaseLobby
	m.mu.Unlock()
	m.emitPhase(PhaseLobby)
}

// Suspend handles the client being backgrounded or shutting down mid-match:
// best-effort disconnected notice, full teardown, reset to Lobby. The
// suspending side records nothing.
func (m *Machine) Suspend() {
	m.mu.Lock()
	if m.phase == PhaseLobby || m.phase == PhaseResult {
		m.mu.Unlock()
		return
	}
	var cancelTarget, cancelMatchID string
	if m.phase == PhaseInviteSent && m.match != nil {
		// Suspending with an invite outstanding doubles as a cancel, so the
		// invitee is not left holding a dead invite until it expires.
		cancelTarget, cancelMatchID = m.match.remoteID, m.match.id
	}
	ch := m.teardownLocked()
	m.mu.Unlock()

	if ch != nil {
		if err := ch.Publish(string(EventDisconnected), DisconnectedPayload{PeerID: m.self.ID}); err != nil {
			log.Debug().Err(err).Msg("disconnected notice")
		}
		ch.Close()
	}
	if cancelTarget != "" {
		cancel := InviteCancelledPayload{MatchID: cancelMatchID}
		if err := relay.PublishOnce(m.relay, InviteChannel(cancelTarget), string(EventInviteCancelled), cancel); err != nil {
			log.Debug().Err(err).Msg("invite-cancelled on suspend")
		}
	}
	m.emitPhase(PhaseLobby)
}

// Close releases everything the machine holds. Safe to call once at process
// teardown, after Suspend.
func (m *Machine) Close() {
	m.Suspend()
	m.mu.Lock()
	ch := m.inviteCh
	m.inviteCh = nil
	m.closed = true
	m.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

// teardownLocked cancels all timers, detaches the match channel and resets to
// Lobby. It returns the match channel (still open) so the caller can send a
// final best-effort message before closing it. Callers hold mu.
func (m *Machine) teardownLocked() relay.Channel {
	var ch relay.Channel
	if m.match != nil {
		m.match.stopTimers()
		ch = m.match.ch
		m.match.ch = nil
		m.match = nil
	}
	m.pendingInvite = nil
	m.phase = PhaseLobby
	return ch
}

// currentMatchLocked returns the active match only if it still carries the
// given id. Callers hold mu; a nil return means the message is stale and must
// be ignored.
func (m *Machine) currentMatchLocked(matchID string) *matchState {
	if m.match == nil || m.match.id != matchID {
		return nil
	}
	return m.match
}

func (s *matchState) stopTimers() {
	for _, t := range []clockwork.Timer{s.inviteTimer, s.delayTimer, s.tickTimer, s.answerTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.inviteTimer, s.delayTimer, s.tickTimer, s.answerTimer = nil, nil, nil, nil
}
