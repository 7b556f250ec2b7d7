package duel

import (
	"encoding/json"
	"fmt"

	"puzzleduel/internal/relay"
)

// Wire events exchanged between the two peers. This is the cross-client
// contract: field names must stay stable.

// EventType identifies a duel wire event.
type EventType string

const (
	EventInvite          EventType = "invite"
	EventInviteCancelled EventType = "invite-cancelled"
	EventReady           EventType = "ready"
	EventCountdownStart  EventType = "countdown-start"
	EventSubmitted       EventType = "submitted"
	EventReveal          EventType = "reveal"
	EventDisconnected    EventType = "disconnected"
)

// PresenceChannel is the shared lobby presence channel.
const PresenceChannel = "duel.lobby.presence"

// InviteChannel derives a peer's personal invite channel.
func InviteChannel(peerID string) string {
	return "duel.invite." + peerID
}

// MatchChannel derives the rendezvous channel for one match instance.
func MatchChannel(matchID string) string {
	return "duel.match." + matchID
}

// InvitePayload proposes a challenge. The matchId is minted once per
// invitation attempt and never reused.
type InvitePayload struct {
	MatchID    string `json:"matchId"`
	PuzzleRef  string `json:"puzzleRef"`
	FromPeerID string `json:"fromPeerId"`
	FromName   string `json:"fromName"`
}

// InviteCancelledPayload withdraws a pending invite, best effort.
type InviteCancelledPayload struct {
	MatchID string `json:"matchId"`
}

// ReadyPayload is the guest's rendezvous signal.
type ReadyPayload struct {
	PeerID string `json:"peerId"`
}

// CountdownStartPayload starts the countdown. StartTime (unix ms) is
// advisory: each side runs its own local countdown on receipt rather than
// reconciling clocks.
type CountdownStartPayload struct {
	StartTime int64 `json:"startTime"`
}

// SubmittedPayload signals that a peer has committed an answer. It carries no
// answer data; the full submission follows in a reveal only after both sides
// have committed.
type SubmittedPayload struct {
	PeerID string `json:"peerId"`
}

// RevealPayload is a peer's full self-reported submission.
type RevealPayload struct {
	PeerID        string `json:"peerId"`
	SelectedIndex int    `json:"selectedIndex"`
	IsCorrect     bool   `json:"isCorrect"`
	MsTaken       int64  `json:"msTaken"`
}

// DisconnectedPayload announces that a peer is abandoning the match.
type DisconnectedPayload struct {
	PeerID string `json:"peerId"`
}

// ParsePayload decodes an envelope into its typed payload.
func ParsePayload(env relay.Envelope) (any, error) {
	switch EventType(env.Type) {
	case EventInvite:
		var p InvitePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal invite: %w", err)
		}
		return p, nil
	case EventInviteCancelled:
		var p InviteCancelledPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal invite-cancelled: %w", err)
		}
		return p, nil
	case EventReady:
		var p ReadyPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal ready: %w", err)
		}
		return p, nil
	case EventCountdownStart:
		var p CountdownStartPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal countdown-start: %w", err)
		}
		return p, nil
	case EventSubmitted:
		var p SubmittedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal submitted: %w", err)
		}
		return p, nil
	case EventReveal:
		var p RevealPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal reveal: %w", err)
		}
		return p, nil
	case EventDisconnected:
		var p DisconnectedPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("unmarshal disconnected: %w", err)
		}
		return p, nil
	default:
		return nil, nil // unknown event type, caller ignores
	}
}
