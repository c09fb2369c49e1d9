package chat

import (
	"fmt"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Snapshot wire form. Round-trip fidelity matters, byte-exactness does not.

type channelState struct {
	Name     string         `yaml:"name"`
	Password string         `yaml:"password,omitempty"`
	Scores   map[string]int `yaml:"scores,omitempty"`
}

type userState struct {
	JID         string `yaml:"jid"`
	Nick        string `yaml:"nick"`
	ChannelName string `yaml:"channel_name,omitempty"`
}

type snapshot struct {
	Channels []channelState `yaml:"channels"`
	Users    []userState    `yaml:"users"`
}

// Serialize returns the full model as a YAML snapshot.
func (e *Engine) Serialize() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.serializeLocked()
}

func (e *Engine) serializeLocked() ([]byte, error) {
	var snap snapshot

	names := make([]string, 0, len(e.channels))
	for name := range e.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := e.channels[name]
		cs := channelState{Name: c.Name, Password: c.Password}
		for item, score := range c.Scores {
			if score == 0 {
				continue // zero scores are elided
			}
			if cs.Scores == nil {
				cs.Scores = make(map[string]int)
			}
			cs.Scores[item] = score
		}
		snap.Channels = append(snap.Channels, cs)
	}

	jids := make([]string, 0, len(e.users))
	for jid := range e.users {
		jids = append(jids, jid)
	}
	sort.Strings(jids)
	for _, jid := range jids {
		u := e.users[jid]
		us := userState{JID: u.JID, Nick: u.Nick}
		if u.Channel != nil {
			us.ChannelName = u.Channel.Name
		}
		snap.Users = append(snap.Users, us)
	}

	data, err := yaml.Marshal(&snap)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// Restore replaces the model with the contents of a snapshot. Channels with
// no members are dropped, and duplicate nicks are renamed rather than
// loaded verbatim. Call before any traffic arrives.
func (e *Engine) Restore(data []byte) error {
	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("unmarshal state: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	channels := make(map[string]*Channel, len(snap.Channels))
	for _, cs := range snap.Channels {
		c := newChannel(cs.Name, cs.Password)
		for item, score := range cs.Scores {
			c.Scores[item] = score
		}
		channels[cs.Name] = c
	}

	users := make(map[string]*User, len(snap.Users))
	nicks := make(map[string]bool, len(snap.Users))
	for _, us := range snap.Users {
		nick := us.Nick
		if nicks[nick] {
			renamed := uniqueNick(nick, us.JID, nicks)
			e.logger.Warn().Str("jid", us.JID).Str("nick", nick).Str("renamed", renamed).
				Msg("Snapshot contains duplicate nick")
			nick = renamed
		}
		nicks[nick] = true

		u := &User{JID: us.JID, Nick: nick}
		users[us.JID] = u
		if us.ChannelName == "" {
			continue
		}
		c, ok := channels[us.ChannelName]
		if !ok {
			e.logger.Warn().Str("jid", us.JID).Str("channel", us.ChannelName).
				Msg("Snapshot references unknown channel")
			continue
		}
		c.addUser(u)
		u.Channel = c
	}

	for name, c := range channels {
		if c.numUsers() == 0 {
			delete(channels, name)
		}
	}

	e.users = users
	e.channels = channels
	e.currentVersion = 0
	e.savedVersion = 0
	if e.met != nil {
		e.met.UsersActive.Set(float64(len(users)))
		e.met.ChannelsActive.Set(float64(len(channels)))
	}
	e.logger.Info().Int("users", len(users)).Int("channels", len(channels)).Msg("Restored state")
	return nil
}

// uniqueNick appends the smallest integer in [2..100] that frees the nick,
// falling back to the full JID.
func uniqueNick(nick, jid string, taken map[string]bool) string {
	for i := 2; i <= 100; i++ {
		candidate := nick + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
	return jid
}
