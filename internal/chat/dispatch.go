package chat

import (
	"encoding/csv"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// commandRegexp recognizes message bodies that are commands: a slash, a
// lowercase name, and an optional whitespace-separated tail.
var commandRegexp = regexp.MustCompile(`(?s)^/([a-z]+)(?:$|\s+(.*))`)

const (
	unparsableReply   = "_Unparsable command; try */help*._"
	notInChannelReply = "_You need to join a channel first._"
)

// command describes one slash command. minArgs/maxArgs bound the split
// argument list exactly, so zero-arity commands reject stray arguments;
// rawTail commands receive the untokenized tail instead.
type command struct {
	name    string
	usage   string
	desc    string
	minArgs int
	maxArgs int
	rawTail bool
	run     func(e *Engine, u *User, args []string)
}

// lineHandler inspects every non-command line said in a channel.
type lineHandler struct {
	re  *regexp.Regexp
	run func(e *Engine, u *User, groups []string)
}

// dispatcher parses message bodies and routes them to a command, to the
// sender's channel, or to the welcome flow. All entry points are called
// with the engine mutex held.
type dispatcher struct {
	eng          *Engine
	commands     map[string]*command
	lineHandlers []*lineHandler
}

func newDispatcher(e *Engine) *dispatcher {
	d := &dispatcher{eng: e, commands: make(map[string]*command)}
	for _, c := range []*command{
		{name: "alias", usage: "<name>", desc: "change your display name", minArgs: 1, maxArgs: 1, run: cmdAlias},
		{name: "help", desc: "list the available commands", run: cmdHelp},
		{name: "join", usage: "<channel> [password]", desc: "join a channel, creating it if needed", minArgs: 1, maxArgs: 2, run: cmdJoin},
		{name: "list", desc: "list the members of your channel", run: cmdList},
		{name: "me", usage: "<action>", desc: "send an action message", minArgs: 1, maxArgs: 1, rawTail: true, run: cmdMe},
		{name: "part", desc: "leave your channel", run: cmdPart},
		{name: "reset", usage: "<thing> [reason]", desc: "reset a score to zero", minArgs: 1, maxArgs: 2, run: cmdReset},
		{name: "scores", desc: "list your channel's scores", run: cmdScores},
	} {
		d.commands[c.name] = c
	}
	d.lineHandlers = []*lineHandler{newPlusPlusHandler(), newVamosQuestionHandler()}
	return d
}

// dispatch routes one message body for an already-resolved user.
func (d *dispatcher) dispatch(u *User, body string) {
	if strings.HasPrefix(body, "/") {
		d.runCommand(u, body)
		return
	}

	if u.Channel == nil {
		// First contact gets the greeting; after that, nag.
		if !u.welcomeSent {
			u.sendWelcome(d.eng.batcher)
		} else {
			d.reply(u, notInChannelReply)
		}
		return
	}

	u.Channel.repeatMessage(d.eng.batcher, u, body)
	for _, h := range d.lineHandlers {
		if groups := h.re.FindStringSubmatch(body); groups != nil {
			h.run(d.eng, u, groups)
		}
	}
}

func (d *dispatcher) runCommand(u *User, body string) {
	m := commandRegexp.FindStringSubmatch(body)
	if m == nil {
		d.reply(u, unparsableReply)
		return
	}
	name, tail := m[1], strings.TrimSpace(m[2])

	cmd, ok := d.commands[name]
	if !ok {
		d.reply(u, fmt.Sprintf("_Unknown command %q; try */help*._", name))
		return
	}
	if d.eng.met != nil {
		d.eng.met.CommandsTotal.WithLabelValues(name).Inc()
	}

	var args []string
	if cmd.rawTail {
		if tail != "" {
			args = []string{tail}
		}
	} else {
		var err error
		if args, err = splitArgs(tail); err != nil {
			d.reply(u, unparsableReply)
			return
		}
	}
	if len(args) < cmd.minArgs || len(args) > cmd.maxArgs {
		d.reply(u, fmt.Sprintf("_Usage: */%s%s*._", cmd.name, usageSuffix(cmd)))
		return
	}
	cmd.run(d.eng, u, args)
}

// reply sends a single line back to the issuing user only.
func (d *dispatcher) reply(u *User, text string) {
	d.eng.batcher.Enqueue(u.JID, text)
}

// splitArgs tokenizes an argument tail on spaces with double-quote grouping
// (CSV semantics with a space delimiter). Runs of spaces produce empty
// fields, which are discarded.
func splitArgs(tail string) ([]string, error) {
	if tail == "" {
		return nil, nil
	}
	r := csv.NewReader(strings.NewReader(tail))
	r.Comma = ' '
	fields, err := r.Read()
	if err != nil {
		return nil, err
	}
	args := fields[:0]
	for _, f := range fields {
		if f != "" {
			args = append(args, f)
		}
	}
	return args, nil
}

func usageSuffix(c *command) string {
	if c.usage == "" {
		return ""
	}
	return " " + c.usage
}

// sortedCommandNames returns the registered command names in order, for
// /help output.
func (d *dispatcher) sortedCommandNames() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
