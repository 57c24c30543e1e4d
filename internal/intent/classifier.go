package intent

import (
	"regexp"
	"strings"
)

const greetingWords = `(?:hello|hi|hey|yo|sup)`

type engageRule struct {
	name   string
	engage bool
	match  func(m Message, normalized string) bool
}

// Classifier decides whether the agent should reply at all.
type Classifier struct {
	name  string
	rules []engageRule
}

// NewClassifier builds the engagement rules for an agent called name.
func NewClassifier(name string) *Classifier {
	name = strings.ToLower(strings.TrimSpace(name))
	greetAgent := regexp.MustCompile(`^` + greetingWords + `\s+` + regexp.QuoteMeta(name) + `\b`)
	bareGreeting := regexp.MustCompile(`^` + greetingWords + `\s*$`)
	greetOther := regexp.MustCompile(`^` + greetingWords + `\s+\S+`)
	triggers := []string{name, "bot", "question", "help", "how are you", "what's", "whats", "who", "define", "explain"}

	c := &Classifier{name: name}
	c.rules = []engageRule{
		{name: "direct", engage: true, match: func(m Message, _ string) bool {
			return m.Direct
		}},
		{name: "mention", engage: true, match: func(m Message, _ string) bool {
			return m.MentionsAgent
		}},
		{name: "greeting-to-agent", engage: true, match: func(_ Message, s string) bool {
			return greetAgent.MatchString(s) || bareGreeting.MatchString(s)
		}},
		// Must stay ahead of the trigger and question rules: "hi john, how are you?"
		// is addressed to john.
		{name: "greeting-to-other", engage: false, match: func(_ Message, s string) bool {
			return greetOther.MatchString(s)
		}},
		{name: "trigger-prefix", engage: true, match: func(_ Message, s string) bool {
			for _, word := range triggers {
				if strings.HasPrefix(s, word) {
					return true
				}
			}
			return false
		}},
		{name: "question-mark", engage: true, match: func(_ Message, s string) bool {
			return strings.HasSuffix(s, "?")
		}},
	}
	return c
}

// ShouldEngage reports whether the message is directed at the agent.
func (c *Classifier) ShouldEngage(m Message) bool {
	_, engage := c.Explain(m)
	return engage
}

// Explain returns the deciding rule name along with the verdict. "default"
// means no rule matched.
func (c *Classifier) Explain(m Message) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(m.Text))
	for _, r := range c.rules {
		if r.match(m, normalized) {
			return r.name, r.engage
		}
	}
	return "default", false
}
