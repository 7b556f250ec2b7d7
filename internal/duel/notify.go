package duel

// Notifications are the machine's outbound edge toward the UI layer (screens,
// the websocket gateway, the terminal client). They are local only and never
// travel over the relay.

// NotificationType identifies a UI notification.
type NotificationType string

const (
	NotifyPhase           NotificationType = "phase"
	NotifyInvite          NotificationType = "invite"
	NotifyInviteCancelled NotificationType = "invite-cancelled"
	NotifyCountdownTick   NotificationType = "countdown-tick"
	NotifyResult          NotificationType = "result"
)

// Notification is a single UI-facing event. Exactly one of the optional
// fields is set, depending on Type.
type Notification struct {
	Type   NotificationType `json:"type"`
	Phase  Phase            `json:"phase,omitempty"`
	Invite *InvitePayload   `json:"invite,omitempty"`
	Tick   int              `json:"tick,omitempty"`
	Result *Result          `json:"result,omitempty"`
}

// Result is the concluded match as shown to the user. Remote is nil when the
// match resolved through an opponent disconnect.
type Result struct {
	MatchID string      `json:"matchId"`
	Outcome Outcome     `json:"outcome"`
	Own     *Submission `json:"own,omitempty"`
	Remote  *Submission `json:"remote,omitempty"`
}

func (m *Machine) emit(n Notification) {
	if m.notify == nil {
		return
	}
	m.notify(n)
}

func (m *Machine) emitPhase(p Phase) {
	m.emit(Notification{Type: NotifyPhase, Phase: p})
}
