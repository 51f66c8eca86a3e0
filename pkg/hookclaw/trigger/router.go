package trigger

// Match is a successful routing decision.
type Match struct {
	Rule     *Rule
	Captured string
}

// Router matches incoming messages against an ordered rule list. The first
// rule whose channel, chat and pattern all match wins; ties are broken by
// declaration order, so more specific rules belong earlier in the config.
type Router struct {
	rules []*Rule
}

// NewRouter builds a router over compiled rules.
func NewRouter(rules []*Rule) *Router {
	return &Router{rules: rules}
}

// Match returns the first rule matching the (channel, chat, text) triple.
// chatNames carries every identifier the chat is known by; a rule applies
// when its selector matches any of them. ok is false when no rule matches,
// in which case the event is dropped.
func (r *Router) Match(channel string, chatNames []string, text string) (Match, bool) {
	for _, rule := range r.rules {
		if !rule.MatchesChannel(channel) || !rule.MatchesChat(chatNames...) {
			continue
		}
		if captured, ok := rule.MatchText(text); ok {
			return Match{Rule: rule, Captured: captured}, true
		}
	}
	return Match{}, false
}

// Rules returns the rules in declaration order.
func (r *Router) Rules() []*Rule {
	return r.rules
}
