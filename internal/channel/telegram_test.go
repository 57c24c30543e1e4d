package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/lum/internal/bus"
	"github.com/stellarlinkco/lum/internal/config"
)

// mockTelegramBot implements TelegramBot interface for testing
type mockTelegramBot struct {
	updatesChan chan tgbotapi.Update
	stopped     bool
	sentMsgs    []tgbotapi.Chattable
	requests    []tgbotapi.Chattable
	sendErr     error
	failFirst   bool
	calls       int
	self        tgbotapi.User
}

func newMockBot() *mockTelegramBot {
	return &mockTelegramBot{
		updatesChan: make(chan tgbotapi.Update, 10),
		self:        tgbotapi.User{ID: 777, UserName: "lumbot", IsBot: true},
	}
}

func (m *mockTelegramBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.stopped = true
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.calls++
	if m.failFirst && m.calls == 1 {
		return tgbotapi.Message{}, fmt.Errorf("can't parse entities")
	}
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	m.sentMsgs = append(m.sentMsgs, c)
	return tgbotapi.Message{MessageID: 1}, nil
}

func (m *mockTelegramBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return m.self
}

func newTestTelegram(t *testing.T, allowFrom ...string) (*TelegramChannel, *mockTelegramBot, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "fake-token", AllowFrom: allowFrom}, b)
	if err != nil {
		t.Fatalf("NewTelegramChannel error: %v", err)
	}
	bot := newMockBot()
	ch.SetBot(bot)
	return ch, bot, b
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	if _, err := NewTelegramChannel(config.TelegramConfig{}, bus.NewMessageBus(10)); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestTelegramChannel_WithProxy(t *testing.T) {
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "fake-token", Proxy: "http://proxy.local:8080"}, bus.NewMessageBus(10))
	if err != nil {
		t.Fatalf("NewTelegramChannel error: %v", err)
	}
	if ch.proxy != "http://proxy.local:8080" {
		t.Errorf("proxy = %q", ch.proxy)
	}
}

func TestTelegramChannel_InitBot(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b,
		func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) { return mockBot, nil })
	if err := ch.initBot(); err != nil || ch.bot == nil {
		t.Errorf("initBot = %v, bot = %v", err, ch.bot)
	}

	ch, _ = NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b,
		func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) { return nil, fmt.Errorf("auth failed") })
	if err := ch.initBot(); err == nil {
		t.Error("expected error from initBot")
	}

	ch, _ = NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token", Proxy: "://invalid-url"}, b, defaultBotFactory)
	if err := ch.initBot(); err == nil {
		t.Error("expected error for invalid proxy URL")
	}
}

func TestTelegramChannel_Start(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b,
		func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) { return mockBot, nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mockBot.updatesChan <- tgbotapi.Update{Message: nil}
	mockBot.updatesChan <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 5,
		From:      &tgbotapi.User{ID: 123, UserName: "sam"},
		Chat:      &tgbotapi.Chat{ID: 456, Type: "private"},
		Text:      "test message",
	}}

	select {
	case in := <-b.Inbound:
		if in.Content != "test message" || in.MessageID != "5" {
			t.Errorf("unexpected inbound %+v", in)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected inbound message")
	}

	ch.Stop()
	if !mockBot.stopped {
		t.Error("bot should be stopped")
	}
}

func TestTelegramChannel_HandleMessage(t *testing.T) {
	tests := []struct {
		name        string
		msg         *tgbotapi.Message
		wantContent string
		wantDirect  bool
		wantMention bool
		wantChat    string
	}{
		{
			name:        "private chat",
			msg:         &tgbotapi.Message{From: &tgbotapi.User{ID: 1, UserName: "sam"}, Chat: &tgbotapi.Chat{ID: 1, Type: "private"}, Text: "hello"},
			wantContent: "hello",
			wantDirect:  true,
			wantChat:    "DM",
		},
		{
			name:        "group mention stripped",
			msg:         &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: -5, Type: "group", Title: "friends"}, Text: "@LumBot what's up"},
			wantContent: "what's up",
			wantMention: true,
			wantChat:    "friends",
		},
		{
			name: "reply to the bot counts as mention",
			msg: &tgbotapi.Message{
				From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: -5, Type: "supergroup", Title: "friends"}, Text: "and you?",
				ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{ID: 777}},
			},
			wantContent: "and you?",
			wantMention: true,
			wantChat:    "friends",
		},
		{
			name:        "caption fallback",
			msg:         &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: -5, Type: "group"}, Caption: "look"},
			wantContent: "look",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, _, b := newTestTelegram(t)
			ch.handleMessage(context.Background(), tt.msg)

			select {
			case in := <-b.Inbound:
				if in.Content != tt.wantContent {
					t.Errorf("content = %q, want %q", in.Content, tt.wantContent)
				}
				if in.Direct != tt.wantDirect || in.Guild == tt.wantDirect {
					t.Errorf("direct = %v guild = %v", in.Direct, in.Guild)
				}
				if in.MentionsBot != tt.wantMention {
					t.Errorf("mention = %v, want %v", in.MentionsBot, tt.wantMention)
				}
				if in.ChatName != tt.wantChat {
					t.Errorf("chat name = %q, want %q", in.ChatName, tt.wantChat)
				}
			default:
				t.Fatal("expected inbound message")
			}
		})
	}
}

func TestTelegramChannel_HandleMessage_Dropped(t *testing.T) {
	ch, _, b := newTestTelegram(t, "123")

	for _, msg := range []*tgbotapi.Message{
		{From: &tgbotapi.User{ID: 999}, Chat: &tgbotapi.Chat{ID: 1}, Text: "not allowed"},
		{From: &tgbotapi.User{ID: 123, IsBot: true}, Chat: &tgbotapi.Chat{ID: 1}, Text: "a bot"},
		{From: &tgbotapi.User{ID: 123}, Chat: &tgbotapi.Chat{ID: 1}, Text: "   "},
		{Chat: &tgbotapi.Chat{ID: 1}, Text: "channel post"},
	} {
		ch.handleMessage(context.Background(), msg)
	}

	select {
	case in := <-b.Inbound:
		t.Errorf("unexpected inbound %+v", in)
	default:
	}
}

func TestTelegramChannel_Send(t *testing.T) {
	ch, bot, _ := newTestTelegram(t)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "Language set to **french**.", ReplyTo: "9"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(bot.sentMsgs))
	}
	sent := bot.sentMsgs[0].(tgbotapi.MessageConfig)
	if sent.Text != "Language set to <b>french</b>." || sent.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("text = %q mode = %q", sent.Text, sent.ParseMode)
	}
	if sent.ReplyToMessageID != 9 {
		t.Errorf("reply to = %d, want 9", sent.ReplyToMessageID)
	}
}

func TestTelegramChannel_Send_LongMessage(t *testing.T) {
	ch, bot, _ := newTestTelegram(t)

	long := strings.Repeat("This is a long line of text that will be repeated.\n", 100)
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: long}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) < 2 {
		t.Errorf("expected multiple sent messages, got %d", len(bot.sentMsgs))
	}
}

func TestTelegramChannel_Send_Typing(t *testing.T) {
	ch, bot, _ := newTestTelegram(t)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Typing: true}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.requests) != 1 || len(bot.sentMsgs) != 0 {
		t.Fatalf("requests = %d sent = %d", len(bot.requests), len(bot.sentMsgs))
	}
	if action, ok := bot.requests[0].(tgbotapi.ChatActionConfig); !ok || action.Action != tgbotapi.ChatTyping {
		t.Errorf("unexpected request %#v", bot.requests[0])
	}
}

func TestTelegramChannel_Send_HTMLError_Retry(t *testing.T) {
	ch, bot, _ := newTestTelegram(t)
	bot.failFirst = true

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "a <b"}); err != nil {
		t.Fatalf("Send should succeed after retry: %v", err)
	}
	sent := bot.sentMsgs[0].(tgbotapi.MessageConfig)
	if sent.ParseMode != "" || sent.Text != "a <b" {
		t.Errorf("retry should send plain text, got %q mode %q", sent.Text, sent.ParseMode)
	}
}

func TestTelegramChannel_Send_Errors(t *testing.T) {
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, bus.NewMessageBus(1))
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when bot is nil")
	}

	ch, bot, _ := newTestTelegram(t)
	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "test"}); err == nil {
		t.Error("expected error for invalid chat ID")
	}
	bot.sendErr = fmt.Errorf("send failed")
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when both sends fail")
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"**bold**", "<b>bold</b>"},
		{"`code`", "<code>code</code>"},
		{"a & b", "a &amp; b"},
		{"<tag>", "&lt;tag&gt;"},
		{"**unclosed", "**unclosed"},
	}
	for _, tt := range tests {
		if got := toTelegramHTML(tt.input); got != tt.want {
			t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
