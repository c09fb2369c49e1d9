package chat

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/derat/smartychat/internal/metrics"
	"github.com/derat/smartychat/internal/xmpp"
)

// Engine owns the user/channel model and wires the transport callbacks to
// the dispatcher, the batcher and the persister.
//
// Locking: mu guards users, channels, the version counters and every
// serializable field on User and Channel. Mutations are grouped into atomic
// blocks and bump currentVersion before the mutex is released; versionCond
// wakes the persister. No I/O happens under mu — outbound traffic only
// touches the batcher's own lock.
type Engine struct {
	mu          sync.Mutex
	versionCond *sync.Cond // signaled on every currentVersion bump

	users    map[string]*User    // bare JID -> user
	channels map[string]*Channel // name -> channel

	currentVersion uint64 // bumped on every serializable mutation
	savedVersion   uint64 // last version handed to the persister

	roster     Roster
	batcher    *Batcher
	persister  *Persister
	dispatcher *dispatcher
	logger     zerolog.Logger
	met        *metrics.Registry
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Client Client
	Roster Roster

	// StateFile is the snapshot path. Empty disables the persister (tests).
	StateFile    string
	SaveInterval time.Duration

	BatchInterval    time.Duration
	SeparateMessages bool

	Logger  zerolog.Logger
	Metrics *metrics.Registry
}

// NewEngine builds an engine and starts its background workers. The workers
// run for the life of the process; there is no stop.
func NewEngine(o EngineOptions) *Engine {
	e := &Engine{
		users:    make(map[string]*User),
		channels: make(map[string]*Channel),
		roster:   o.Roster,
		logger:   o.Logger,
		met:      o.Metrics,
	}
	e.versionCond = sync.NewCond(&e.mu)
	e.batcher = NewBatcher(BatcherOptions{
		Client:           o.Client,
		Interval:         o.BatchInterval,
		SeparateMessages: o.SeparateMessages,
		Logger:           o.Logger,
		Metrics:          o.Metrics,
	})
	e.dispatcher = newDispatcher(e)
	e.batcher.Start()
	if o.StateFile != "" {
		e.persister = newPersister(e, o.StateFile, o.SaveInterval, o.Logger, o.Metrics)
		e.persister.start()
	}
	return e
}

// HandleSubscriptionRequest accepts every presence subscription request.
// Anyone may talk to the bot; channels carry their own passwords.
func (e *Engine) HandleSubscriptionRequest(jid string) {
	jid = bareJID(jid)
	e.logger.Info().Str("jid", jid).Msg("Accepting subscription request")
	if err := e.roster.AcceptSubscription(jid); err != nil {
		e.logger.Error().Err(err).Str("jid", jid).Msg("Failed to accept subscription")
	}
}

// HandleMessage processes one inbound stanza: normalize the sender, find or
// create the user, and dispatch the body.
func (e *Engine) HandleMessage(m xmpp.Message) {
	if m.Type == "error" || m.Body == "" {
		return
	}
	if e.met != nil {
		e.met.MessagesReceived.Inc()
	}
	jid := bareJID(m.From)

	e.mu.Lock()
	defer e.mu.Unlock()
	u := e.getUserLocked(jid, true)
	e.dispatcher.dispatch(u, m.Body)
}

// WaitUntilDrained blocks until the batcher has delivered everything that
// was enqueued. Test hook.
func (e *Engine) WaitUntilDrained() {
	e.batcher.WaitUntilDrained()
}

// SaveStateIfChanged synchronously snapshots the model if it changed since
// the last save. Wired to the INT/TERM signal path.
func (e *Engine) SaveStateIfChanged() {
	if e.persister != nil {
		e.persister.saveIfChanged()
	}
}

// incVersion records a serializable mutation. Callers hold mu.
func (e *Engine) incVersion() {
	e.currentVersion++
	e.versionCond.Broadcast()
}

// getUserLocked looks up a user by bare JID, creating one (with an invented
// nick) when create is set. Callers hold mu.
func (e *Engine) getUserLocked(jid string, create bool) *User {
	if u, ok := e.users[jid]; ok {
		return u
	}
	if !create {
		return nil
	}
	u := &User{JID: jid, Nick: e.inventNickLocked(jid)}
	e.users[jid] = u
	e.incVersion()
	if e.met != nil {
		e.met.UsersActive.Set(float64(len(e.users)))
	}
	e.logger.Info().Str("jid", jid).Str("nick", u.Nick).Msg("Created user")
	return u
}

// getChannelLocked looks up a channel by name, creating an empty one with
// the given password when create is set. Creation does not bump the
// version; the caller's surrounding mutation does. Callers hold mu.
func (e *Engine) getChannelLocked(name string, create bool, password string) *Channel {
	if c, ok := e.channels[name]; ok {
		return c
	}
	if !create {
		return nil
	}
	c := newChannel(name, password)
	e.channels[name] = c
	if e.met != nil {
		e.met.ChannelsActive.Set(float64(len(e.channels)))
	}
	e.logger.Info().Str("channel", name).Bool("password", password != "").Msg("Created channel")
	return c
}

// getUserWithNickLocked returns the user owning the nick, or nil. Callers
// hold mu.
func (e *Engine) getUserWithNickLocked(nick string) *User {
	for _, u := range e.users {
		if u.Nick == nick {
			return u
		}
	}
	return nil
}

// deleteChannelLocked drops an empty channel; no-op while it has members.
// Callers hold mu.
func (e *Engine) deleteChannelLocked(name string) {
	c, ok := e.channels[name]
	if !ok || c.numUsers() > 0 {
		return
	}
	delete(e.channels, name)
	if e.met != nil {
		e.met.ChannelsActive.Set(float64(len(e.channels)))
	}
	e.logger.Info().Str("channel", name).Msg("Deleted empty channel")
}

// inventNickLocked derives an initial nick from the JID's localpart,
// falling back to the full JID when the localpart is unusable, and
// suffixing the smallest integer in [2..100] on collision. Callers hold mu.
func (e *Engine) inventNickLocked(jid string) string {
	local, _, _ := strings.Cut(jid, "@")
	if !ValidNick(local) {
		return jid
	}
	if e.getUserWithNickLocked(local) == nil {
		return local
	}
	for i := 2; i <= 100; i++ {
		candidate := local + strconv.Itoa(i)
		if e.getUserWithNickLocked(candidate) == nil {
			return candidate
		}
	}
	return jid
}

// moveUserToChannelLocked is the single primitive that maintains the
// symmetric User.Channel <-> Channel.users link. A nil destination parts
// the user; an emptied source channel is garbage-collected in the same
// critical section. Callers hold mu and bump the version themselves as part
// of the surrounding mutation.
func (e *Engine) moveUserToChannelLocked(u *User, c *Channel) {
	if u.Channel != nil {
		u.Channel.removeUser(u)
		if u.Channel.numUsers() == 0 {
			e.deleteChannelLocked(u.Channel.Name)
		}
		u.Channel = nil
	}
	if c != nil {
		c.addUser(u)
		u.Channel = c
	}
}
