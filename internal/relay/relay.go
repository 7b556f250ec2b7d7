// Package relay is the boundary to the publish/subscribe messaging relay the
// duel protocol runs over. The relay offers two modes: broadcast channels
// (fire-and-forget, at-most-once, unordered across senders) and presence
// channels (live membership snapshots with per-member metadata). There are no
// delivery guarantees in either mode; everything above this package must
// tolerate loss, duplication and reordering.
package relay

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrClosed = errors.New("relay: closed")

// Envelope is the unit that travels on a broadcast channel. From carries the
// sender's client id so subscribers can suppress their own echo.
type Envelope struct {
	From string          `json:"from"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Handler receives envelopes from a broadcast channel subscription. Handlers
// may be invoked from the relay's delivery goroutine; they must not block.
type Handler func(env Envelope)

// Subscription is a live broadcast subscription.
type Subscription interface {
	Unsubscribe() error
}

// Channel is a named broadcast channel. Publish is fire-and-forget: a nil
// error means the message was handed to the transport, not that any peer
// received it. Subscriptions opened through a channel never see the local
// client's own messages.
type Channel interface {
	Name() string
	Publish(eventType string, payload any) error
	Subscribe(h Handler) (Subscription, error)
	// Close releases the channel and every subscription opened through it.
	Close() error
}

// Member is one participant of a presence channel.
type Member struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// PresenceHandler receives the full membership snapshot (self included)
// whenever it changes. The latest snapshot is ground truth; there is no
// incremental diffing.
type PresenceHandler func(members []Member)

// Presence is a live presence channel session.
type Presence interface {
	// Members returns the latest membership snapshot.
	Members() []Member
	Leave() error
}

// Relay is the transport itself, bound to one client identity.
type Relay interface {
	// ClientID is the identity stamped into every published envelope.
	ClientID() string
	Channel(name string) (Channel, error)
	// Join enters a presence channel, announcing self to the other members.
	Join(name string, self Member, onChange PresenceHandler) (Presence, error)
	Close() error
}

// PublishOnce opens a channel, publishes a single event, and releases the
// channel on every path. This is the transient-publisher pattern used for
// invites: the sender has no standing interest in the target's channel.
func PublishOnce(r Relay, channel, eventType string, payload any) error {
	ch, err := r.Channel(channel)
	if err != nil {
		return err
	}
	defer ch.Close()
	return ch.Publish(eventType, payload)
}
