package channel

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/stellarlinkco/lum/internal/bus"
	"github.com/stellarlinkco/lum/internal/config"
)

const (
	discordChannelName = "discord"
	discordMaxRunes    = 2000
)

// DiscordSession is the slice of discordgo the channel uses, so tests can
// swap it out.
type DiscordSession interface {
	Open() error
	Close() error
	OnMessage(fn func(m *discordgo.MessageCreate))
	SelfID() string
	ChannelName(channelID string) string
	SendMessage(channelID, content, replyTo string) error
	Typing(channelID string) error
}

type discordSessionWrapper struct {
	s *discordgo.Session
}

func (w *discordSessionWrapper) Open() error  { return w.s.Open() }
func (w *discordSessionWrapper) Close() error { return w.s.Close() }

func (w *discordSessionWrapper) OnMessage(fn func(m *discordgo.MessageCreate)) {
	w.s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) { fn(m) })
}

func (w *discordSessionWrapper) SelfID() string {
	if w.s.State == nil || w.s.State.User == nil {
		return ""
	}
	return w.s.State.User.ID
}

func (w *discordSessionWrapper) ChannelName(channelID string) string {
	ch, err := w.s.State.Channel(channelID)
	if err != nil {
		if ch, err = w.s.Channel(channelID); err != nil {
			return ""
		}
	}
	return ch.Name
}

func (w *discordSessionWrapper) SendMessage(channelID, content, replyTo string) error {
	data := &discordgo.MessageSend{Content: content}
	if replyTo != "" {
		data.Reference = &discordgo.MessageReference{MessageID: replyTo, ChannelID: channelID}
	}
	_, err := w.s.ChannelMessageSendComplex(channelID, data)
	return err
}

func (w *discordSessionWrapper) Typing(channelID string) error {
	return w.s.ChannelTyping(channelID)
}

// SessionFactory creates DiscordSession instances (allows mocking)
type SessionFactory func(token string) (DiscordSession, error)

var defaultSessionFactory SessionFactory = func(token string) (DiscordSession, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return &discordSessionWrapper{s: s}, nil
}

type DiscordChannel struct {
	BaseChannel
	token   string
	session DiscordSession
	factory SessionFactory
	ctx     context.Context
}

func NewDiscordChannel(cfg config.DiscordConfig, b *bus.MessageBus) (*DiscordChannel, error) {
	return NewDiscordChannelWithFactory(cfg, b, defaultSessionFactory)
}

// NewDiscordChannelWithFactory creates a DiscordChannel with a custom session factory (for testing)
func NewDiscordChannelWithFactory(cfg config.DiscordConfig, b *bus.MessageBus, factory SessionFactory) (*DiscordChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	return &DiscordChannel{
		BaseChannel: NewBaseChannel(discordChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		factory:     factory,
		ctx:         context.Background(),
	}, nil
}

func (d *DiscordChannel) Start(ctx context.Context) error {
	session, err := d.factory(d.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	d.ctx = ctx
	// Handlers may fire during Open, so the session must be set first.
	d.session = session
	session.OnMessage(d.handleMessage)
	if err := session.Open(); err != nil {
		d.session = nil
		return fmt.Errorf("open discord session: %w", err)
	}
	log.Printf("[discord] connected as %s", session.SelfID())
	return nil
}

func (d *DiscordChannel) Stop() error {
	if d.session == nil {
		return nil
	}
	err := d.session.Close()
	log.Printf("[discord] stopped")
	return err
}

// SetSession sets the session (for testing)
func (d *DiscordChannel) SetSession(s DiscordSession) {
	d.session = s
}

func (d *DiscordChannel) handleMessage(m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	selfID := ""
	if d.session != nil {
		selfID = d.session.SelfID()
	}
	if m.Author.ID == selfID {
		return
	}
	if !d.IsAllowed(m.Author.ID) {
		log.Printf("[discord] rejected message from %s (%s)", m.Author.ID, m.Author.Username)
		return
	}

	mentioned := false
	for _, u := range m.Mentions {
		if u != nil && selfID != "" && u.ID == selfID {
			mentioned = true
			break
		}
	}

	content := strings.TrimSpace(m.Content)
	if mentioned {
		stripped := strings.NewReplacer("<@"+selfID+">", "", "<@!"+selfID+">", "").Replace(content)
		// A bare mention still engages; keep the raw text.
		if stripped = strings.TrimSpace(stripped); stripped != "" {
			content = stripped
		}
	}
	if content == "" {
		return
	}

	direct := m.GuildID == ""
	chatName := "DM"
	if !direct {
		if chatName = d.session.ChannelName(m.ChannelID); chatName == "" {
			chatName = m.ChannelID
		}
	}

	msg := bus.InboundMessage{
		Channel:     discordChannelName,
		SenderID:    m.Author.ID,
		SenderName:  m.Author.Username,
		ChatID:      m.ChannelID,
		ChatName:    chatName,
		MessageID:   m.ID,
		Content:     content,
		Direct:      direct,
		Guild:       !direct,
		MentionsBot: mentioned,
		Timestamp:   m.Timestamp,
		Metadata: map[string]any{
			"guild_id": m.GuildID,
		},
	}
	select {
	case d.bus.Inbound <- msg:
	case <-d.ctx.Done():
	}
}

func (d *DiscordChannel) Send(msg bus.OutboundMessage) error {
	if d.session == nil {
		return fmt.Errorf("discord session not initialized")
	}
	if msg.Typing {
		return d.session.Typing(msg.ChatID)
	}

	replyTo := msg.ReplyTo
	for _, chunk := range splitMessage(msg.Content, discordMaxRunes) {
		if err := d.session.SendMessage(msg.ChatID, chunk, replyTo); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
		replyTo = ""
	}
	return nil
}
