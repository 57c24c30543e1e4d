// Package conversation assembles the bounded context window sent to the text
// generator: a persona instruction followed by the user's most recent turns.
package conversation

import (
	"context"
	"fmt"
)

// Roles stored in the conversation log.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Reserved store keys.
const (
	PreferenceLanguage = "language"
	FactUserName       = "user_name"
)

// DefaultLimit is the number of history turns used when the caller passes none.
const DefaultLimit = 10

type Turn struct {
	Role    string
	Content string
}

// Log returns the most recent turns for a user, oldest first.
type Log interface {
	RecentTurns(ctx context.Context, userKey string, limit int) ([]Turn, error)
}

// Facts reads per-user memory.
type Facts interface {
	GetMemory(ctx context.Context, userKey, key string) (string, bool, error)
}

// Preferences reads global preferences.
type Preferences interface {
	GetPreference(ctx context.Context, key string) (string, bool, error)
}

// Window is a ready-to-send context: the system instruction and the history
// in chronological order.
type Window struct {
	System string
	Turns  []Turn
}

// Messages returns the system turn followed by the history.
func (w Window) Messages() []Turn {
	out := make([]Turn, 0, len(w.Turns)+1)
	out = append(out, Turn{Role: RoleSystem, Content: w.System})
	return append(out, w.Turns...)
}

// Builder reads from the stores but never writes to them.
type Builder struct {
	agent string
	log   Log
	facts Facts
	prefs Preferences
}

func NewBuilder(agent string, log Log, facts Facts, prefs Preferences) *Builder {
	return &Builder{agent: agent, log: log, facts: facts, prefs: prefs}
}

// Build returns the context window for userKey using at most limit history
// turns. pending turns are not yet stored and follow the stored history.
// limit <= 0 selects DefaultLimit.
func (b *Builder) Build(ctx context.Context, userKey string, limit int, pending ...Turn) (Window, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	turns, err := b.log.RecentTurns(ctx, userKey, limit)
	if err != nil {
		return Window{}, fmt.Errorf("read history: %w", err)
	}
	turns = append(turns, pending...)
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	var userName string
	if b.facts != nil {
		name, ok, err := b.facts.GetMemory(ctx, userKey, FactUserName)
		if err != nil {
			return Window{}, fmt.Errorf("read user name: %w", err)
		}
		if ok {
			userName = name
		}
	}

	var language string
	if b.prefs != nil {
		lang, ok, err := b.prefs.GetPreference(ctx, PreferenceLanguage)
		if err != nil {
			return Window{}, fmt.Errorf("read language: %w", err)
		}
		if ok {
			language = lang
		}
	}

	return Window{
		System: SystemPrompt(b.agent, userName, language),
		Turns:  turns,
	}, nil
}
