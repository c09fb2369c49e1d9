package chat

// Shared test fakes. The engine only needs Send plus subscription
// acceptance, so the mock transport is a pair of slices under a mutex.

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/derat/smartychat/internal/metrics"
	"github.com/derat/smartychat/internal/xmpp"
)

type sentMessage struct {
	to   string
	body string
}

type fakeClient struct {
	mu    sync.Mutex
	sends []sentMessage
	fail  bool
}

func (c *fakeClient) Send(to, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("transport down")
	}
	c.sends = append(c.sends, sentMessage{to: to, body: body})
	return nil
}

// bodiesFor returns every body delivered to the JID, in order.
func (c *fakeClient) bodiesFor(jid string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.sends {
		if s.to == jid {
			out = append(out, s.body)
		}
	}
	return out
}

func (c *fakeClient) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = nil
}

type fakeRoster struct {
	mu       sync.Mutex
	accepted []string
}

func (r *fakeRoster) AcceptSubscription(jid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = append(r.accepted, jid)
	return nil
}

func (r *fakeRoster) acceptedJIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.accepted...)
}

// newTestEngine builds an engine with a zero batch interval and one stanza
// per line, so tests can assert on exact per-recipient sequences.
func newTestEngine(t *testing.T) (*Engine, *fakeClient, *fakeRoster) {
	t.Helper()
	client := &fakeClient{}
	roster := &fakeRoster{}
	e := NewEngine(EngineOptions{
		Client:           client,
		Roster:           roster,
		SeparateMessages: true,
		Logger:           zerolog.Nop(),
		Metrics:          metrics.New(),
	})
	return e, client, roster
}

// say delivers a chat message from the given full JID and waits for the
// batcher to drain.
func say(e *Engine, from, body string) {
	e.HandleMessage(xmpp.Message{From: from, Type: "chat", Body: body})
	e.WaitUntilDrained()
}

// checkInvariants verifies the symmetric membership link and nick
// uniqueness.
func checkInvariants(t *testing.T, e *Engine) {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()

	nicks := make(map[string]string)
	for jid, u := range e.users {
		if prev, ok := nicks[u.Nick]; ok {
			t.Errorf("nick %q shared by %s and %s", u.Nick, prev, jid)
		}
		nicks[u.Nick] = jid
		if u.Channel != nil && !u.Channel.hasUser(u) {
			t.Errorf("user %s points at channel %q but is not a member", jid, u.Channel.Name)
		}
	}
	for name, c := range e.channels {
		if c.numUsers() == 0 {
			t.Errorf("channel %q is empty but still registered", name)
		}
		for _, u := range c.users {
			if u.Channel != c {
				t.Errorf("channel %q contains %s whose channel link is elsewhere", name, u.JID)
			}
		}
	}
}
