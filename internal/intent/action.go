// Package intent decides whether a chat message is directed at the agent and
// resolves it into exactly one action. Both steps are ordered rule tables
// evaluated top to bottom with first-match semantics; neither performs I/O.
package intent

import "fmt"

// Kind tags the variant of an Action.
type Kind int

const (
	KindIgnore Kind = iota
	KindSetChannel
	KindSetLanguage
	KindSetOpinion
	KindGetOpinion
	KindSetName
	KindGenerateImage
	KindSearchGif
	KindRandomGif
	KindConverse
)

var kindNames = map[Kind]string{
	KindIgnore:        "ignore",
	KindSetChannel:    "set_channel",
	KindSetLanguage:   "set_language",
	KindSetOpinion:    "set_opinion",
	KindGetOpinion:    "get_opinion",
	KindSetName:       "set_name",
	KindGenerateImage: "generate_image",
	KindSearchGif:     "search_gif",
	KindRandomGif:     "random_gif",
	KindConverse:      "converse",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Action is the classified intent of one message. Only the parameter fields
// relevant to Kind are set.
type Action struct {
	Kind     Kind
	Language string
	Subject  string
	Opinion  string
	Name     string
	Prompt   string
	Query    string

	// Rule names the router rule that produced the action.
	Rule string
	// Err is a *ParameterError when a recognized request lacks its argument.
	Err error
}

// ParameterError reports a recognized command with a missing or malformed
// argument. Usage is the hint sent back to the user.
type ParameterError struct {
	Kind  Kind
	Usage string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Usage)
}

func paramErr(kind Kind, usage string) Action {
	return Action{Kind: kind, Err: &ParameterError{Kind: kind, Usage: usage}}
}

// Message is the part of an inbound message the rules look at.
type Message struct {
	Text          string
	Direct        bool
	MentionsAgent bool
	// Allowed is false for guild channels missing from the allowed-channel
	// registry. Only open rules run when it is false.
	Allowed bool
}
