package chat

import "regexp"

// Line handlers run on every non-command line said in a channel, after the
// channel has repeated it.

// newPlusPlusHandler scores "item++" / "item--" mentions. An optional
// trailing note ("coffee++ because mornings", "coffee++, because mornings")
// is carried into the announcement.
func newPlusPlusHandler() *lineHandler {
	return &lineHandler{
		re: regexp.MustCompile(`\b(\S{2,})(\+\+|--)(?:\s*[.,]?\s+(.*)|\.\s*$|$)`),
		run: func(e *Engine, u *User, groups []string) {
			item, op, note := groups[1], groups[2], groups[3]
			if op == "++" {
				u.Channel.incrementScore(e.batcher, item, note)
			} else {
				u.Channel.decrementScore(e.batcher, item, note)
			}
			e.incVersion()
		},
	}
}

// newVamosQuestionHandler chides anyone asking "vamos?".
func newVamosQuestionHandler() *lineHandler {
	return &lineHandler{
		re: regexp.MustCompile(`(?i)\b(?:¿)?vamos\?\s*$`),
		run: func(e *Engine, u *User, _ []string) {
			e.dispatcher.reply(u, `_"vamos" is a statement, not a question!_`)
		},
	}
}
