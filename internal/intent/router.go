package intent

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ReservedLanguageKey is the preference key holding the reply language. It
// cannot be used as an opinion subject.
const ReservedLanguageKey = "language"

// Commands are the explicit command tokens, matched as case-insensitive
// prefixes.
type Commands struct {
	SetChannel string
	Gif        string
	Image      string
}

type gate int

const (
	gateOpen    gate = iota // runs even in channels that are not allowed
	gateAllowed             // needs Message.Allowed
	gateEngaged             // needs Message.Allowed and the classifier's approval
)

type input struct {
	msg   Message
	text  string // trimmed, case preserved
	lower string
}

type rule struct {
	name  string
	gate  gate
	match func(in input) (Action, bool)
}

// Router resolves a message into a single Action.
type Router struct {
	name       string
	classifier *Classifier
	rules      []rule
}

// NewRouter builds the routing table for an agent called name.
func NewRouter(name string, cmds Commands) *Router {
	name = strings.ToLower(strings.TrimSpace(name))
	r := &Router{name: name, classifier: NewClassifier(name)}
	q := regexp.QuoteMeta(name)

	setChannelCmd := strings.ToLower(strings.TrimSpace(cmds.SetChannel))
	gifCmd := strings.ToLower(strings.TrimSpace(cmds.Gif))
	imageCmd := strings.ToLower(strings.TrimSpace(cmds.Image))
	setLanguage := name + " set language to"
	setOpinion := name + " set your opinion on"
	askOpinion := name + " what"

	setOpinionRe := regexp.MustCompile(`(?is)^` + q + `\s+set your opinion on\s+(.+?)\s+(?:to|as)\s+(.+)$`)
	getOpinionRe := regexp.MustCompile(`(?is)^` + q + `\s+what(?:'s|’s|s|\s+is)\s+your\s+opinion\s+on\s+(.+)$`)
	setNameRe := regexp.MustCompile(`(?is)^` + q + `,?\s+(?:call me|my name is)\s+(.+)$`)
	generateRe := regexp.MustCompile(`(?s)\b` + q + `\s+generate\b(.*)`)

	usageLanguage := fmt.Sprintf("please provide a language, e.g. '%s set language to french'", name)
	usageSetOpinion := fmt.Sprintf("Please use the format: '%s set your opinion on <subject> to <opinion>'.", name)
	usageGetOpinion := fmt.Sprintf("Please ask in the format: '%s what's your opinion on <subject>'.", name)
	usageReserved := fmt.Sprintf("that's a setting, not an opinion. use '%s set language to <language>'.", name)
	usageGif := "please provide a search term for the gif."
	usageImage := "please provide an image prompt."

	r.rules = []rule{
		{name: "set-channel", gate: gateOpen, match: func(in input) (Action, bool) {
			if _, ok := trimPrefixFold(in.text, setChannelCmd); !ok {
				return Action{}, false
			}
			return Action{Kind: KindSetChannel}, true
		}},
		{name: "set-language", gate: gateOpen, match: func(in input) (Action, bool) {
			rest, ok := trimPrefixFold(in.text, setLanguage)
			if !ok {
				return Action{}, false
			}
			lang := strings.TrimSpace(rest)
			if lang == "" {
				return paramErr(KindSetLanguage, usageLanguage), true
			}
			return Action{Kind: KindSetLanguage, Language: lang}, true
		}},
		{name: "gif-command", gate: gateAllowed, match: func(in input) (Action, bool) {
			rest, ok := trimPrefixFold(in.text, gifCmd)
			if !ok {
				return Action{}, false
			}
			query := strings.TrimSpace(rest)
			if query == "" {
				return paramErr(KindSearchGif, usageGif), true
			}
			return Action{Kind: KindSearchGif, Query: query}, true
		}},
		{name: "image-command", gate: gateAllowed, match: func(in input) (Action, bool) {
			rest, ok := trimPrefixFold(in.text, imageCmd)
			if !ok {
				return Action{}, false
			}
			prompt := strings.TrimSpace(rest)
			if prompt == "" {
				return paramErr(KindGenerateImage, usageImage), true
			}
			return Action{Kind: KindGenerateImage, Prompt: prompt}, true
		}},
		{name: "set-opinion", gate: gateEngaged, match: func(in input) (Action, bool) {
			if !strings.HasPrefix(in.lower, setOpinion) {
				return Action{}, false
			}
			m := setOpinionRe.FindStringSubmatch(in.text)
			if m == nil {
				return paramErr(KindSetOpinion, usageSetOpinion), true
			}
			subject, opinion := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
			if subject == "" || opinion == "" {
				return paramErr(KindSetOpinion, usageSetOpinion), true
			}
			if strings.EqualFold(subject, ReservedLanguageKey) {
				return paramErr(KindSetOpinion, usageReserved), true
			}
			return Action{Kind: KindSetOpinion, Subject: subject, Opinion: opinion}, true
		}},
		{name: "get-opinion", gate: gateEngaged, match: func(in input) (Action, bool) {
			if !strings.HasPrefix(in.lower, askOpinion) || !strings.Contains(in.lower, "your opinion on") {
				return Action{}, false
			}
			m := getOpinionRe.FindStringSubmatch(in.text)
			if m == nil {
				return paramErr(KindGetOpinion, usageGetOpinion), true
			}
			subject := strings.TrimSpace(m[1])
			if subject == "" {
				return paramErr(KindGetOpinion, usageGetOpinion), true
			}
			if strings.EqualFold(subject, ReservedLanguageKey) {
				return paramErr(KindGetOpinion, usageReserved), true
			}
			return Action{Kind: KindGetOpinion, Subject: subject}, true
		}},
		{name: "set-name", gate: gateEngaged, match: func(in input) (Action, bool) {
			m := setNameRe.FindStringSubmatch(in.text)
			if m == nil {
				return Action{}, false
			}
			who := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(m[1]), ".!"))
			if who == "" {
				return Action{}, false
			}
			return Action{Kind: KindSetName, Name: who}, true
		}},
		{name: "generate-image", gate: gateEngaged, match: func(in input) (Action, bool) {
			m := generateRe.FindStringSubmatch(in.lower)
			if m == nil {
				return Action{}, false
			}
			prompt := strings.TrimSpace(m[1])
			if prompt == "" {
				return paramErr(KindGenerateImage, usageImage), true
			}
			return Action{Kind: KindGenerateImage, Prompt: prompt}, true
		}},
		{name: "gif-phrase", gate: gateEngaged, match: func(in input) (Action, bool) {
			var phrase string
			switch {
			case strings.Contains(in.lower, "with a gif"):
				phrase = "with a gif"
			case strings.Contains(in.lower, "as a gif"):
				phrase = "as a gif"
			default:
				return Action{}, false
			}
			before, _, _ := strings.Cut(in.lower, phrase)
			query := stripSelfReference(strings.TrimSpace(before), name)
			if query == "" {
				return paramErr(KindSearchGif, usageGif), true
			}
			return Action{Kind: KindSearchGif, Query: query}, true
		}},
		{name: "random-gif", gate: gateEngaged, match: func(in input) (Action, bool) {
			if strings.Contains(in.lower, "give me") && strings.Contains(in.lower, "random gif") {
				return Action{Kind: KindRandomGif}, true
			}
			return Action{}, false
		}},
		{name: "converse", gate: gateEngaged, match: func(in input) (Action, bool) {
			return Action{Kind: KindConverse}, true
		}},
	}
	return r
}

// Classifier returns the engagement classifier the router consults.
func (r *Router) Classifier() *Classifier {
	return r.classifier
}

// Classify returns exactly one action for m. It never fails: argument
// problems are reported through Action.Err.
func (r *Router) Classify(m Message) Action {
	text := strings.TrimSpace(m.Text)
	in := input{msg: m, text: text, lower: strings.ToLower(text)}

	engaged, checked := false, false
	for _, rl := range r.rules {
		switch rl.gate {
		case gateAllowed:
			if !m.Allowed {
				continue
			}
		case gateEngaged:
			if !m.Allowed {
				continue
			}
			if !checked {
				engaged, checked = r.classifier.ShouldEngage(m), true
			}
			if !engaged {
				continue
			}
		}
		if a, ok := rl.match(in); ok {
			a.Rule = rl.name
			return a
		}
	}
	return Action{Kind: KindIgnore, Rule: "ignore"}
}

// trimPrefixFold strips prefix from s ignoring case. An empty prefix never
// matches.
func trimPrefixFold(s, prefix string) (string, bool) {
	if prefix == "" || len(s) < len(prefix) {
		return s, false
	}
	if !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// stripSelfReference removes a leading agent name ("lum, dance" -> "dance")
// but leaves words that merely start with it ("lumber") alone.
func stripSelfReference(s, name string) string {
	if name == "" || !strings.HasPrefix(s, name) {
		return s
	}
	rest := s[len(name):]
	if rest != "" {
		if r, _ := utf8.DecodeRuneInString(rest); unicode.IsLetter(r) || unicode.IsDigit(r) {
			return s
		}
	}
	return strings.TrimSpace(strings.TrimLeft(rest, " ,:;\t\n"))
}
