package relay

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process relay hub used by tests. Delivery is synchronous
// and in publish order, which the protocol must not rely on; the Drop and
// Duplicate hooks let tests exercise the loss and redelivery behavior the
// real relay exhibits.
type Memory struct {
	mu           sync.Mutex
	subs         map[string][]*memorySub
	presence     map[string]map[string]Member
	presenceSubs map[string][]*memoryPresence

	// Drop, when set, discards a published envelope before delivery.
	Drop func(channel string, env Envelope) bool
	// Duplicate, when set, delivers a published envelope twice.
	Duplicate func(channel string, env Envelope) bool
}

// NewMemory creates an empty hub.
func NewMemory() *Memory {
	return &Memory{
		subs:         make(map[string][]*memorySub),
		presence:     make(map[string]map[string]Member),
		presenceSubs: make(map[string][]*memoryPresence),
	}
}

// Client binds a relay handle to one client identity.
func (m *Memory) Client(id string) Relay {
	return &memoryClient{hub: m, id: id}
}

func (m *Memory) publish(channel string, env Envelope) {
	m.mu.Lock()
	drop := m.Drop
	dup := m.Duplicate
	targets := make([]*memorySub, 0, len(m.subs[channel]))
	targets = append(targets, m.subs[channel]...)
	m.mu.Unlock()

	if drop != nil && drop(channel, env) {
		return
	}
	copies := 1
	if dup != nil && dup(channel, env) {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		for _, sub := range targets {
			if sub.owner == env.From || sub.removed() {
				continue
			}
			sub.handler(env)
		}
	}
}

func (m *Memory) subscribe(channel, owner string, h Handler) *memorySub {
	sub := &memorySub{hub: m, channel: channel, owner: owner, handler: h}
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], sub)
	m.mu.Unlock()
	return sub
}

func (m *Memory) unsubscribe(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.subs[sub.channel]
	for i, s := range list {
		if s == sub {
			m.subs[sub.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

type memoryClient struct {
	hub *Memory
	id  string
}

func (c *memoryClient) ClientID() string { return c.id }

func (c *memoryClient) Channel(name string) (Channel, error) {
	return &memoryChannel{hub: c.hub, client: c.id, name: name}, nil
}

func (c *memoryClient) Join(name string, self Member, onChange PresenceHandler) (Presence, error) {
	p := &memoryPresence{hub: c.hub, channel: name, selfID: self.ID, onChange: onChange}

	c.hub.mu.Lock()
	if c.hub.presence[name] == nil {
		c.hub.presence[name] = make(map[string]Member)
	}
	c.hub.presence[name][self.ID] = self
	c.hub.presenceSubs[name] = append(c.hub.presenceSubs[name], p)
	c.hub.mu.Unlock()

	c.hub.notifyPresence(name)
	return p, nil
}

func (c *memoryClient) Close() error { return nil }

func (m *Memory) notifyPresence(channel string) {
	m.mu.Lock()
	snapshot := snapshotMembers(m.presence[channel])
	sessions := append([]*memoryPresence(nil), m.presenceSubs[channel]...)
	m.mu.Unlock()

	for _, p := range sessions {
		if p.onChange != nil {
			p.onChange(snapshot)
		}
	}
}

type memoryChannel struct {
	hub    *Memory
	client string
	name   string

	mu     sync.Mutex
	subs   []*memorySub
	closed bool
}

func (c *memoryChannel) Name() string { return c.name }

func (c *memoryChannel) Publish(eventType string, payload any) error {
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
	c.hub.publish(c.name, Envelope{From: c.client, Type: eventType, Data: data})
	return nil
}

func (c *memoryChannel) Subscribe(h Handler) (Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	sub := c.hub.subscribe(c.name, c.client, h)
	c.subs = append(c.subs, sub)
	return sub, nil
}

func (c *memoryChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	c.subs = nil
	return nil
}

type memorySub struct {
	hub     *Memory
	channel string
	owner   string
	handler Handler

	mu   sync.Mutex
	gone bool
}

func (s *memorySub) removed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gone
}

func (s *memorySub) Unsubscribe() error {
	s.mu.Lock()
	if s.gone {
		s.mu.Unlock()
		return nil
	}
	s.gone = true
	s.mu.Unlock()
	s.hub.unsubscribe(s)
	return nil
}

type memoryPresence struct {
	hub      *Memory
	channel  string
	selfID   string
	onChange PresenceHandler

	mu   sync.Mutex
	left bool
}

func (p *memoryPresence) Members() []Member {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	return snapshotMembers(p.hub.presence[p.channel])
}

func (p *memoryPresence) Leave() error {
	p.mu.Lock()
	if p.left {
		p.mu.Unlock()
		return nil
	}
	p.left = true
	p.mu.Unlock()

	p.hub.mu.Lock()
	delete(p.hub.presence[p.channel], p.selfID)
	list := p.hub.presenceSubs[p.channel]
	for i, s := range list {
		if s == p {
			p.hub.presenceSubs[p.channel] = append(list[:i], list[i+1:]...)
			break
		}
	}
	p.hub.mu.Unlock()

	p.hub.notifyPresence(p.channel)
	return nil
}
