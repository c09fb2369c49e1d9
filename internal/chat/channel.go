package chat

import (
	"fmt"
	"math/rand"
	"sort"
)

// Channel is a named room. The engine owns the channels map and guards all
// fields with its state mutex. A channel dies when its last member parts
// and may later be re-created with a fresh password.
type Channel struct {
	// Name is the unique channel key, conventionally prefixed with '#'.
	Name string
	// Password guards /join when non-empty.
	Password string
	// Scores maps arbitrary tokens to signed counters. Zero entries are
	// elided when serialized.
	Scores map[string]int

	users map[string]*User // keyed by bare JID
}

func newChannel(name, password string) *Channel {
	return &Channel{
		Name:     name,
		Password: password,
		Scores:   make(map[string]int),
		users:    make(map[string]*User),
	}
}

// addUser inserts the user into the member set. Idempotent. The caller
// maintains the symmetric User.Channel link.
func (c *Channel) addUser(u *User) {
	c.users[u.JID] = u
}

// removeUser deletes the user from the member set. Idempotent.
func (c *Channel) removeUser(u *User) {
	delete(c.users, u.JID)
}

// hasUser reports membership.
func (c *Channel) hasUser(u *User) bool {
	_, ok := c.users[u.JID]
	return ok
}

// numUsers returns the member count.
func (c *Channel) numUsers() int {
	return len(c.users)
}

// members returns the member set sorted by nick for stable iteration.
func (c *Channel) members() []*User {
	out := make([]*User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nick < out[j].Nick })
	return out
}

// repeatMessage relays a plain chat line to every member except the sender.
func (c *Channel) repeatMessage(b *Batcher, sender *User, body string) {
	line := fmt.Sprintf("*%s*: %s", sender.Nick, body)
	for _, u := range c.members() {
		if u == sender {
			continue
		}
		b.Enqueue(u.JID, line)
	}
}

// broadcastMessage enqueues a line to every member, actor included.
func (c *Channel) broadcastMessage(b *Batcher, text string) {
	for _, u := range c.members() {
		b.Enqueue(u.JID, text)
	}
}

var (
	incrementExclamations = []string{"Hooray!", "Yay!"}
	decrementExclamations = []string{"Ouch!", "Zing!"}
)

// incrementScore bumps the item's counter up by one and announces it.
func (c *Channel) incrementScore(b *Batcher, item, note string) {
	c.adjustScore(b, item, 1, note, incrementExclamations)
}

// decrementScore bumps the item's counter down by one and announces it.
func (c *Channel) decrementScore(b *Batcher, item, note string) {
	c.adjustScore(b, item, -1, note, decrementExclamations)
}

func (c *Channel) adjustScore(b *Batcher, item string, delta int, note string, exclamations []string) {
	c.Scores[item] += delta
	msg := fmt.Sprintf("_%s %s -> %d", exclamations[rand.Intn(len(exclamations))], item, c.Scores[item])
	if note != "" {
		msg += fmt.Sprintf(" (%s)", note)
	}
	c.broadcastMessage(b, msg+"_")
}
