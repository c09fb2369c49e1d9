package chat

import (
	"fmt"
	"sort"
)

// The command handlers run with the engine mutex held and bump the version
// once per successful mutation. Errors go only to the issuing user, as
// italicized one-liners.

func cmdAlias(e *Engine, u *User, args []string) {
	nick := args[0]
	if !ValidNick(nick) {
		e.dispatcher.reply(u, fmt.Sprintf("_Alias %q contains invalid characters._", nick))
		return
	}
	if nick == u.Nick {
		e.dispatcher.reply(u, fmt.Sprintf("_You are already known as %q._", nick))
		return
	}
	if other := e.getUserWithNickLocked(nick); other != nil {
		e.dispatcher.reply(u, fmt.Sprintf("_Alias %q already in use by %s._", nick, other.JID))
		return
	}

	old := u.Nick
	u.Nick = nick
	e.incVersion()
	e.logger.Info().Str("jid", u.JID).Str("old", old).Str("new", nick).Msg("Changed nick")

	if u.Channel != nil {
		u.Channel.broadcastMessage(e.batcher,
			fmt.Sprintf("_*%s* <%s> is now known as *%s*._", old, u.JID, nick))
	} else {
		e.dispatcher.reply(u, fmt.Sprintf("_You are now known as *%s*._", nick))
	}
}

func cmdHelp(e *Engine, u *User, _ []string) {
	for _, name := range e.dispatcher.sortedCommandNames() {
		c := e.dispatcher.commands[name]
		e.dispatcher.reply(u, fmt.Sprintf("*/%s%s* - %s", c.name, usageSuffix(c), c.desc))
	}
}

func cmdJoin(e *Engine, u *User, args []string) {
	name := args[0]
	var password string
	if len(args) == 2 {
		password = args[1]
	}

	ch := e.getChannelLocked(name, false, "")
	if ch == nil {
		ch = e.getChannelLocked(name, true, password)
		e.dispatcher.reply(u, fmt.Sprintf("_Created %q._", name))
	} else {
		if ch.Password != "" && password != ch.Password {
			e.dispatcher.reply(u, fmt.Sprintf("_Incorrect or missing password for %q._", name))
			return
		}
		if u.Channel == ch {
			e.dispatcher.reply(u, fmt.Sprintf("_Already a member of %q._", name))
			return
		}
	}

	if u.Channel != nil {
		partChannel(e, u)
	}

	// Announce to the existing members before adding, so the joiner only
	// sees the member-count reply.
	ch.broadcastMessage(e.batcher, fmt.Sprintf("_*%s* <%s> has joined %q._", u.Nick, u.JID, name))
	e.moveUserToChannelLocked(u, ch)
	e.incVersion()
	e.dispatcher.reply(u, fmt.Sprintf("_Joined %q with %s total._", name, pluralUsers(ch.numUsers())))
}

func cmdList(e *Engine, u *User, _ []string) {
	ch := u.Channel
	if ch == nil {
		e.dispatcher.reply(u, notInChannelReply)
		return
	}
	msg := fmt.Sprintf("%s in %q:", pluralUsers(ch.numUsers()), ch.Name)
	for _, m := range ch.members() {
		msg += fmt.Sprintf("\n*%s* <%s>", m.Nick, m.JID)
	}
	e.dispatcher.reply(u, msg)
}

func cmdMe(e *Engine, u *User, args []string) {
	if u.Channel == nil {
		e.dispatcher.reply(u, notInChannelReply)
		return
	}
	u.Channel.broadcastMessage(e.batcher, fmt.Sprintf("_* %s %s_", u.Nick, args[0]))
}

func cmdPart(e *Engine, u *User, _ []string) {
	if u.Channel == nil {
		e.dispatcher.reply(u, notInChannelReply)
		return
	}
	partChannel(e, u)
}

// partChannel removes the user from their channel, announces it, and
// garbage-collects the channel if it emptied. Also invoked by /join when
// switching channels. Callers hold the engine mutex and have checked that
// the user is in a channel.
func partChannel(e *Engine, u *User) {
	ch := u.Channel
	e.moveUserToChannelLocked(u, nil)
	e.incVersion()
	e.dispatcher.reply(u, fmt.Sprintf("_Left %q._", ch.Name))
	// Remaining members only; the channel object still knows them even if
	// it was just garbage-collected (then there are none).
	ch.broadcastMessage(e.batcher, fmt.Sprintf("_*%s* <%s> has left %q._", u.Nick, u.JID, ch.Name))
}

func cmdReset(e *Engine, u *User, args []string) {
	ch := u.Channel
	if ch == nil {
		e.dispatcher.reply(u, notInChannelReply)
		return
	}
	thing := args[0]
	var reason string
	if len(args) == 2 {
		reason = args[1]
	}
	if ch.Scores[thing] == 0 {
		e.dispatcher.reply(u, fmt.Sprintf("_%q has no score to reset._", thing))
		return
	}
	ch.Scores[thing] = 0
	e.incVersion()

	msg := fmt.Sprintf("_*%s* reset %s's score to 0", u.Nick, thing)
	if reason != "" {
		msg += fmt.Sprintf(" (%s)", reason)
	}
	ch.broadcastMessage(e.batcher, msg+"._")
}

func cmdScores(e *Engine, u *User, _ []string) {
	ch := u.Channel
	if ch == nil {
		e.dispatcher.reply(u, notInChannelReply)
		return
	}
	if len(ch.Scores) == 0 {
		e.dispatcher.reply(u, fmt.Sprintf("_No scores in %q yet._", ch.Name))
		return
	}

	items := make([]string, 0, len(ch.Scores))
	for item := range ch.Scores {
		items = append(items, item)
	}
	sort.Strings(items)

	msg := fmt.Sprintf("Scores for %q:", ch.Name)
	for _, item := range items {
		msg += fmt.Sprintf("\n*%s*: %d", item, ch.Scores[item])
	}
	e.dispatcher.reply(u, msg)
}

func pluralUsers(n int) string {
	if n == 1 {
		return "1 user"
	}
	return fmt.Sprintf("%d users", n)
}
