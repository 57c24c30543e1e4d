package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stellarlinkco/lum/internal/bus"
	"github.com/stellarlinkco/lum/internal/config"
	"github.com/stellarlinkco/lum/internal/conversation"
	"github.com/stellarlinkco/lum/internal/giphy"
	"github.com/stellarlinkco/lum/internal/intent"
	"github.com/stellarlinkco/lum/internal/memo"
)

// Replies sent when an executor or store fails.
const (
	replyConverseFailed   = "sorry, something went wrong. try again in a bit."
	replyOpinionFailed    = "Sorry, I couldn't generate an opinion on that right now."
	replyImageFailed      = "sorry, there was an error generating the image."
	replyGifFailed        = "sorry, there was an error searching for a gif."
	replyRandomGifFailed  = "sorry, there was an error fetching a random gif."
	replyRandomGifMissing = "sorry, I couldn't find a random gif."
	replyGifNotConfigured = "Giphy API key is not set."
	replySaveFailed       = "sorry, I couldn't save that right now."
)

type Preferences interface {
	GetPreference(ctx context.Context, key string) (string, bool, error)
	SetPreference(ctx context.Context, key, value string) error
}

type Facts interface {
	GetMemory(ctx context.Context, userKey, key string) (string, bool, error)
	SetMemory(ctx context.Context, userKey, key, value string) error
}

type ConversationLog interface {
	AppendExchange(ctx context.Context, userKey, userContent, reply string) error
	RecentTurns(ctx context.Context, userKey string, limit int) ([]conversation.Turn, error)
}

type ChannelRegistry interface {
	AddChannel(ctx context.Context, id, name string) error
	HasChannel(ctx context.Context, id string) (bool, error)
}

// Store is everything the engine persists. *store.Store satisfies it.
type Store interface {
	Preferences
	Facts
	ConversationLog
	ChannelRegistry
}

type TextGenerator interface {
	Generate(ctx context.Context, turns []conversation.Turn, maxTokens int) (string, error)
}

type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type GifFinder interface {
	Find(ctx context.Context, query string) (string, error)
	Random(ctx context.Context) (string, error)
}

// Deps are the collaborators an Engine dispatches to.
type Deps struct {
	Store  Store
	Text   TextGenerator
	Images ImageGenerator
	Gifs   GifFinder
}

// Engine turns one inbound message into at most one reply.
type Engine struct {
	agent   config.AgentConfig
	router  *intent.Router
	builder *conversation.Builder
	opinion *memo.Cache
	deps    Deps

	// OnWork is called before slow executor work starts, typically to show a
	// typing indicator.
	OnWork func(msg bus.InboundMessage)
}

func NewEngine(cfg *config.Config, deps Deps) *Engine {
	cmds := intent.Commands{
		SetChannel: cfg.Commands.SetChannel,
		Gif:        cfg.Commands.Gif,
		Image:      cfg.Commands.Image,
	}
	return &Engine{
		agent:   cfg.Agent,
		router:  intent.NewRouter(cfg.Agent.Name, cmds),
		builder: conversation.NewBuilder(cfg.Agent.Name, deps.Store, deps.Store, deps.Store),
		opinion: memo.New(deps.Store),
		deps:    deps,
	}
}

// Handle gates, classifies and dispatches msg. ok is false when the agent
// stays silent.
func (e *Engine) Handle(ctx context.Context, msg bus.InboundMessage) (reply string, ok bool) {
	action := e.router.Classify(intent.Message{
		Text:          msg.Content,
		Direct:        msg.Direct,
		MentionsAgent: msg.MentionsBot,
		Allowed:       e.allowed(ctx, msg),
	})

	var perr *intent.ParameterError
	if errors.As(action.Err, &perr) {
		return perr.Usage, true
	}

	switch action.Kind {
	case intent.KindSetChannel:
		return e.setChannel(ctx, msg), true
	case intent.KindSetLanguage:
		return e.setLanguage(ctx, action.Language), true
	case intent.KindSetOpinion:
		return e.setOpinion(ctx, action.Subject, action.Opinion), true
	case intent.KindGetOpinion:
		return e.getOpinion(ctx, action.Subject), true
	case intent.KindSetName:
		return e.setName(ctx, msg, action.Name), true
	case intent.KindGenerateImage:
		e.working(msg)
		return e.generateImage(ctx, action.Prompt), true
	case intent.KindSearchGif:
		e.working(msg)
		return e.searchGif(ctx, action.Query), true
	case intent.KindRandomGif:
		e.working(msg)
		return e.randomGif(ctx), true
	case intent.KindConverse:
		e.working(msg)
		return e.converse(ctx, msg), true
	}
	return "", false
}

// Router exposes the router used for classification.
func (e *Engine) Router() *intent.Router {
	return e.router
}

// allowed reports whether the agent may act in the conversation. Guild
// conversations must be registered; a failed lookup counts as unregistered.
func (e *Engine) allowed(ctx context.Context, msg bus.InboundMessage) bool {
	if !msg.Guild {
		return true
	}
	ok, err := e.deps.Store.HasChannel(ctx, msg.SessionKey())
	if err != nil {
		log.Printf("[gateway] channel lookup %s: %v", msg.SessionKey(), err)
		return false
	}
	return ok
}

func (e *Engine) working(msg bus.InboundMessage) {
	if e.OnWork != nil {
		e.OnWork(msg)
	}
}

func (e *Engine) setChannel(ctx context.Context, msg bus.InboundMessage) string {
	name := msg.ChatName
	if name == "" {
		name = msg.ChatID
	}
	if err := e.deps.Store.AddChannel(ctx, msg.SessionKey(), name); err != nil {
		log.Printf("[gateway] register channel %s: %v", msg.SessionKey(), err)
		return replySaveFailed
	}
	return fmt.Sprintf("Channel **%s** has been set for %s to speak.", name, displayName(e.agent.Name))
}

func (e *Engine) setLanguage(ctx context.Context, language string) string {
	if err := e.deps.Store.SetPreference(ctx, conversation.PreferenceLanguage, language); err != nil {
		log.Printf("[gateway] set language: %v", err)
		return replySaveFailed
	}
	return fmt.Sprintf("Language set to **%s**.", language)
}

func (e *Engine) setOpinion(ctx context.Context, subject, opinion string) string {
	if err := e.deps.Store.SetPreference(ctx, subject, opinion); err != nil {
		log.Printf("[gateway] set opinion %q: %v", subject, err)
		return replySaveFailed
	}
	return fmt.Sprintf("Okay, I've set my opinion on **%s** to: %s", subject, opinion)
}

func (e *Engine) getOpinion(ctx context.Context, subject string) string {
	opinion, generated, err := e.opinion.Get(ctx, subject, func(ctx context.Context) (string, error) {
		language, err := e.language(ctx)
		if err != nil {
			return "", err
		}
		return e.deps.Text.Generate(ctx, []conversation.Turn{
			{Role: conversation.RoleSystem, Content: conversation.OpinionSystemPrompt(e.agent.Name)},
			{Role: conversation.RoleUser, Content: conversation.OpinionPrompt(e.agent.Name, subject, language)},
		}, e.agent.OpinionMaxTokens)
	})
	if err != nil {
		log.Printf("[gateway] opinion on %q: %v", subject, err)
		return replyOpinionFailed
	}
	if generated {
		log.Printf("[gateway] generated opinion on %q", subject)
	}
	return fmt.Sprintf("My opinion on **%s** is: %s", subject, opinion)
}

func (e *Engine) setName(ctx context.Context, msg bus.InboundMessage, name string) string {
	if err := e.deps.Store.SetMemory(ctx, msg.UserKey(), conversation.FactUserName, name); err != nil {
		log.Printf("[gateway] set name for %s: %v", msg.UserKey(), err)
		return replySaveFailed
	}
	return fmt.Sprintf("got it, %s.", strings.ToLower(name))
}

func (e *Engine) generateImage(ctx context.Context, prompt string) string {
	url, err := e.deps.Images.Generate(ctx, prompt)
	if err != nil {
		log.Printf("[gateway] image generation: %v", err)
		return replyImageFailed
	}
	return url
}

func (e *Engine) searchGif(ctx context.Context, query string) string {
	url, err := e.deps.Gifs.Find(ctx, query)
	switch {
	case err == nil:
		return url
	case errors.Is(err, giphy.ErrNotConfigured):
		return replyGifNotConfigured
	case errors.Is(err, giphy.ErrNoResults):
		return replyRandomGifMissing
	}
	log.Printf("[gateway] gif search %q: %v", query, err)
	return replyGifFailed
}

func (e *Engine) randomGif(ctx context.Context) string {
	url, err := e.deps.Gifs.Random(ctx)
	switch {
	case err == nil:
		return url
	case errors.Is(err, giphy.ErrNotConfigured):
		return replyGifNotConfigured
	case errors.Is(err, giphy.ErrNoResults):
		return replyRandomGifMissing
	}
	log.Printf("[gateway] random gif: %v", err)
	return replyRandomGifFailed
}

// converse builds the window with the new user turn held in memory and
// stores the exchange only after a reply exists. A failure stores nothing.
func (e *Engine) converse(ctx context.Context, msg bus.InboundMessage) string {
	user := msg.UserKey()
	content := strings.ToLower(strings.TrimSpace(msg.Content))
	pending := conversation.Turn{Role: conversation.RoleUser, Content: content}

	window, err := e.builder.Build(ctx, user, e.agent.HistoryLimit, pending)
	if err != nil {
		log.Printf("[gateway] build window for %s: %v", user, err)
		return replyConverseFailed
	}

	reply, err := e.deps.Text.Generate(ctx, window.Messages(), e.agent.MaxTokens)
	if err != nil {
		log.Printf("[gateway] generate reply for %s: %v", user, err)
		return replyConverseFailed
	}
	reply = strings.ToLower(reply)

	if err := e.deps.Store.AppendExchange(ctx, user, content, reply); err != nil {
		log.Printf("[gateway] append exchange for %s: %v", user, err)
		return replyConverseFailed
	}
	return reply
}

func (e *Engine) language(ctx context.Context) (string, error) {
	lang, ok, err := e.deps.Store.GetPreference(ctx, conversation.PreferenceLanguage)
	if err != nil {
		return "", fmt.Errorf("read language: %w", err)
	}
	if !ok {
		return "", nil
	}
	return lang, nil
}

func displayName(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if size == 0 {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}
