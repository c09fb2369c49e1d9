// Package xmpp wraps a go-xmpp client session behind small value types so
// the chat engine never touches the wire library directly.
package xmpp

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	goxmpp "github.com/xmppo/go-xmpp"
)

// Message is an inbound or outbound chat stanza reduced to the fields the
// engine cares about. From may still carry a /resource suffix; the engine
// strips it.
type Message struct {
	From string
	Type string
	Body string
}

// Presence is an inbound presence stanza. Only the type is inspected.
type Presence struct {
	From string
	Type string
}

// Options configures a session.
type Options struct {
	// Host is the server address (host or host:port). Empty means derive
	// it from the JID's domain part.
	Host     string
	JID      string
	Password string
	NoTLS    bool
	Debug    bool
}

// Session is a connected XMPP client session. It satisfies the engine's
// Client and Roster interfaces.
type Session struct {
	talk   *goxmpp.Client
	logger zerolog.Logger

	onMessage   func(Message)
	onSubscribe func(jid string)
}

// Dial connects and authenticates a session.
func Dial(o Options, logger zerolog.Logger) (*Session, error) {
	host := o.Host
	if host == "" {
		if _, domain, ok := strings.Cut(o.JID, "@"); ok {
			host = domain
		}
	}
	opts := goxmpp.Options{
		Host:     host,
		User:     o.JID,
		Password: o.Password,
		NoTLS:    o.NoTLS,
		Debug:    o.Debug,
		Session:  true,
	}
	talk, err := opts.NewClient()
	if err != nil {
		return nil, fmt.Errorf("xmpp connect: %w", err)
	}
	logger.Info().Str("host", host).Str("jid", o.JID).Msg("Connected to XMPP server")
	return &Session{talk: talk, logger: logger}, nil
}

// OnMessage registers the inbound chat message handler. Must be called
// before Run.
func (s *Session) OnMessage(fn func(Message)) { s.onMessage = fn }

// OnSubscriptionRequest registers the handler invoked with the bare JID of
// each inbound presence subscription request. Must be called before Run.
func (s *Session) OnSubscriptionRequest(fn func(jid string)) { s.onSubscribe = fn }

// Send delivers a chat-type message stanza.
func (s *Session) Send(to, body string) error {
	if _, err := s.talk.Send(goxmpp.Chat{Remote: to, Type: "chat", Text: body}); err != nil {
		return fmt.Errorf("send to %s: %w", to, err)
	}
	return nil
}

// AcceptSubscription approves a pending presence subscription request.
func (s *Session) AcceptSubscription(jid string) error {
	s.talk.ApproveSubscription(jid)
	return nil
}

// Run pumps inbound stanzas to the registered handlers until the connection
// fails. It blocks, so callers run it on its own goroutine.
func (s *Session) Run() error {
	for {
		stanza, err := s.talk.Recv()
		if err != nil {
			return fmt.Errorf("xmpp receive: %w", err)
		}
		switch v := stanza.(type) {
		case goxmpp.Chat:
			if s.onMessage != nil {
				s.onMessage(Message{From: v.Remote, Type: v.Type, Body: v.Text})
			}
		case goxmpp.Presence:
			s.logger.Debug().Str("from", v.From).Str("type", v.Type).Msg("Presence received")
			if v.Type == "subscribe" && s.onSubscribe != nil {
				s.onSubscribe(v.From)
			}
		}
	}
}
