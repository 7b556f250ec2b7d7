package relay

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures the NATS-backed relay.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration

	// Presence timing. Members that stay silent longer than TTL are swept
	// from the membership snapshot.
	HeartbeatInterval time.Duration
	TTL               time.Duration
	SweepInterval     time.Duration
}

// DefaultNATSConfig returns the relay defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               nats.DefaultURL,
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		TTL:               15 * time.Second,
		SweepInterval:     2 * time.Second,
	}
}

// NATS is the production relay on core NATS. Core NATS is exactly the
// contract the protocol assumes: at-most-once, fire-and-forget, no ordering
// across senders. JetStream is deliberately not used.
type NATS struct {
	nc       *nats.Conn
	clientID string
	cfg      NATSConfig
	clock    clockwork.Clock
}

// NewNATS connects to the relay. clientID is stamped into every published
// envelope and used for self-echo suppression.
func NewNATS(clientID string, cfg NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("relay disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("relay reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("relay error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to relay: %w", err)
	}

	return &NATS{nc: nc, clientID: clientID, cfg: cfg, clock: clockwork.NewRealClock()}, nil
}

func (r *NATS) ClientID() string { return r.clientID }

func (r *NATS) Channel(name string) (Channel, error) {
	if r.nc.IsClosed() {
		return nil, ErrClosed
	}
	return &natsChannel{relay: r, name: name}, nil
}

func (r *NATS) Join(name string, self Member, onChange PresenceHandler) (Presence, error) {
	return joinPresence(r, name, self, onChange)
}

func (r *NATS) Close() error {
	r.nc.Close()
	return nil
}

type natsChannel struct {
	relay *NATS
	name  string

	mu     sync.Mutex
	subs   []*nats.Subscription
	closed bool
}

func (c *natsChannel) Name() string { return c.name }

func (c *natsChannel) Publish(eventType string, payload any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := Envelope{From: c.relay.clientID, Type: eventType, Data: data}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return c.relay.nc.Publish(c.name, raw)
}

func (c *natsChannel) Subscribe(h Handler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	self := c.relay.clientID
	sub, err := c.relay.nc.Subscribe(c.name, func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Debug().Err(err).Str("channel", c.name).Msg("dropping malformed envelope")
			return
		}
		if env.From == self {
			return
		}
		h(env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", c.name, err)
	}
	c.subs = append(c.subs, sub)
	return &natsSubscription{sub: sub}, nil
}

func (c *natsChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Str("channel", c.name).Msg("unsubscribe on close")
		}
	}
	c.subs = nil
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	return s.sub.Unsubscribe()
}
