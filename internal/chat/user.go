package chat

import (
	"regexp"
	"strings"
)

// nickRegexp constrains display names to a safe token alphabet.
var nickRegexp = regexp.MustCompile(`^[-_.a-zA-Z0-9]+$`)

// User is a subscribed account. All fields are guarded by the engine's
// state mutex; the engine owns the users map and the symmetric link to the
// channel's member set.
type User struct {
	// JID is the bare account identifier (localpart@domain).
	JID string
	// Nick is the unique display name.
	Nick string
	// Channel is the channel the user is joined to, or nil.
	Channel *Channel

	// welcomeSent records that the first-time greeting went out. Not
	// persisted; a restart re-greets at worst.
	welcomeSent bool
}

// ValidNick reports whether the proposed display name is acceptable.
// Uniqueness is the caller's business.
func ValidNick(nick string) bool {
	return nickRegexp.MatchString(nick)
}

// bareJID strips an optional /resource suffix. Stanzas may arrive from any
// of the account's connected resources; the engine keys users by the bare
// form only.
func bareJID(jid string) string {
	if base, _, ok := strings.Cut(jid, "/"); ok {
		return base
	}
	return jid
}

// sendWelcome enqueues the two-line first-contact greeting and marks it
// delivered.
func (u *User) sendWelcome(b *Batcher) {
	b.Enqueue(u.JID, "Welcome! I relay messages between everyone in your channel.")
	b.Enqueue(u.JID, "Type */join #somechannel* to get started, or */help* for the full list of commands.")
	u.welcomeSent = true
}
