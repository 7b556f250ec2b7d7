package relay

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Presence over NATS is synthesized: core NATS has no membership concept, so
// members announce themselves on join, heartbeat periodically, and send a
// best-effort leave notice. A member that goes silent for longer than the TTL
// is swept from the snapshot, which covers crashes and network death. The
// directory layers above only ever see snapshots, so the synthesis stays
// contained here.

const (
	presenceJoin      = "presence-join"
	presenceHeartbeat = "presence-heartbeat"
	presenceLeave     = "presence-leave"
)

type presenceSession struct {
	ch       Channel
	self     Member
	onChange PresenceHandler

	clock          clockwork.Clock
	heartbeatEvery time.Duration
	ttl            time.Duration
	sweepEvery     time.Duration

	mu       sync.Mutex
	members  map[string]Member
	lastSeen map[string]int64 // unix ms, session clock
	left     bool

	done chan struct{}
	wg   sync.WaitGroup
}

func joinPresence(r *NATS, name string, self Member, onChange PresenceHandler) (Presence, error) {
	ch, err := r.Channel(name)
	if err != nil {
		return nil, err
	}
	return newPresenceSession(ch, self, onChange, r.clock,
		r.cfg.HeartbeatInterval, r.cfg.TTL, r.cfg.SweepInterval)
}

// newPresenceSession runs the announce/heartbeat/sweep protocol over any
// broadcast channel. It owns ch from here on.
func newPresenceSession(ch Channel, self Member, onChange PresenceHandler,
	clock clockwork.Clock, heartbeatEvery, ttl, sweepEvery time.Duration) (*presenceSession, error) {

	p := &presenceSession{
		ch:             ch,
		self:           self,
		onChange:       onChange,
		clock:          clock,
		heartbeatEvery: heartbeatEvery,
		ttl:            ttl,
		sweepEvery:     sweepEvery,
		members:        map[string]Member{self.ID: self},
		lastSeen:       map[string]int64{},
		done:           make(chan struct{}),
	}

	if _, err := ch.Subscribe(p.handle); err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.Publish(presenceJoin, self); err != nil {
		ch.Close()
		return nil, err
	}

	p.wg.Add(1)
	go p.run()

	p.notify()
	return p, nil
}

func (p *presenceSession) handle(env Envelope) {
	switch env.Type {
	case presenceJoin, presenceHeartbeat:
		var m Member
		if err := unmarshalMember(env, &m); err != nil {
			log.Debug().Err(err).Str("type", env.Type).Msg("dropping malformed presence event")
			return
		}
		changed := p.upsert(m)
		if env.Type == presenceJoin {
			// Answer the joiner immediately so it does not wait a full
			// heartbeat interval to see us.
			if err := p.ch.Publish(presenceHeartbeat, p.self); err != nil {
				log.Debug().Err(err).Msg("heartbeat reply")
			}
		}
		if changed {
			p.notify()
		}
	case presenceLeave:
		var m Member
		if err := unmarshalMember(env, &m); err != nil {
			return
		}
		if p.remove(m.ID) {
			p.notify()
		}
	}
}

func (p *presenceSession) run() {
	defer p.wg.Done()

	heartbeat := p.clock.NewTicker(p.heartbeatEvery)
	defer heartbeat.Stop()
	sweep := p.clock.NewTicker(p.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-heartbeat.Chan():
			if err := p.ch.Publish(presenceHeartbeat, p.self); err != nil {
				log.Debug().Err(err).Msg("presence heartbeat")
			}
		case <-sweep.Chan():
			if p.sweepStale() {
				p.notify()
			}
		}
	}
}

func (p *presenceSession) upsert(m Member) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, known := p.members[m.ID]
	p.members[m.ID] = m
	p.lastSeen[m.ID] = p.clock.Now().UnixMilli()
	return !known
}

func (p *presenceSession) remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, known := p.members[id]; !known {
		return false
	}
	delete(p.members, id)
	delete(p.lastSeen, id)
	return true
}

func (p *presenceSession) sweepStale() bool {
	cutoff := p.clock.Now().Add(-p.ttl).UnixMilli()
	p.mu.Lock()
	defer p.mu.Unlock()
	changed := false
	for id, seen := range p.lastSeen {
		if id == p.self.ID {
			continue
		}
		if seen < cutoff {
			delete(p.members, id)
			delete(p.lastSeen, id)
			changed = true
		}
	}
	return changed
}

func (p *presenceSession) Members() []Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshotMembers(p.members)
}

func (p *presenceSession) notify() {
	if p.onChange == nil {
		return
	}
	p.onChange(p.Members())
}

func (p *presenceSession) Leave() error {
	p.mu.Lock()
	if p.left {
		p.mu.Unlock()
		return nil
	}
	p.left = true
	p.mu.Unlock()

	// Best effort: peers that miss this fall back to the TTL sweep.
	if err := p.ch.Publish(presenceLeave, p.self); err != nil {
		log.Debug().Err(err).Msg("presence leave notice")
	}
	close(p.done)
	p.wg.Wait()
	return p.ch.Close()
}

func snapshotMembers(members map[string]Member) []Member {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func unmarshalMember(env Envelope, m *Member) error {
	return json.Unmarshal(env.Data, m)
}
