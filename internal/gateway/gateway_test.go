package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellarlinkco/lum/internal/bus"
	"github.com/stellarlinkco/lum/internal/channel"
	"github.com/stellarlinkco/lum/internal/config"
	"github.com/stellarlinkco/lum/internal/cron"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		n     int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is a long message", 10, "this is a ..."},
		{"", 5, ""},
		{"héllo", 2, "h..."},
		{"日本語", 4, "日..."},
	}

	for _, tt := range tests {
		got := truncate(tt.input, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.want)
		}
	}
}

func TestShardFor(t *testing.T) {
	for _, key := range []string{"discord:1", "telegram:42", ""} {
		a, b := shardFor(key, 4), shardFor(key, 4)
		if a != b || a < 0 || a >= 4 {
			t.Errorf("shardFor(%q) = %d/%d", key, a, b)
		}
	}
	if shardFor("anything", 1) != 0 {
		t.Error("a single worker must take every key")
	}
}

// newTestGateway builds a Gateway around injected fakes without channels.
func newTestGateway(t *testing.T, workers int) (*Gateway, *engineFixture) {
	t.Helper()
	f := newFixture(t)
	b := bus.NewMessageBus(config.DefaultBufSize)
	g := &Gateway{
		cfg:      config.DefaultConfig(),
		bus:      b,
		engine:   f.engine,
		channels: &channel.ChannelManager{},
		cron:     cron.NewService(),
		workers:  workers,
	}
	g.engine.OnWork = g.sendTyping
	return g, f
}

func nextReply(t *testing.T, b *bus.MessageBus) bus.OutboundMessage {
	t.Helper()
	for {
		select {
		case out := <-b.Outbound:
			if out.Typing {
				continue
			}
			return out
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for outbound message")
			return bus.OutboundMessage{}
		}
	}
}

func TestGateway_ProcessLoop(t *testing.T) {
	g, _ := newTestGateway(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.processLoop(ctx)

	g.bus.Inbound <- dm("lum what's up?")

	out := nextReply(t, g.bus)
	if out.Channel != "discord" || out.ChatID != "dm-42" || out.ReplyTo != "m-1" {
		t.Errorf("unexpected routing %+v", out)
	}
	if out.Content != "hey." {
		t.Errorf("content = %q", out.Content)
	}
}

func TestGateway_ProcessLoop_TypingBeforeReply(t *testing.T) {
	g, _ := newTestGateway(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.processLoop(ctx)

	g.bus.Inbound <- dm("lum tell me something")

	select {
	case out := <-g.bus.Outbound:
		if !out.Typing || out.ChatID != "dm-42" {
			t.Errorf("first outbound should be a typing indicator, got %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for typing indicator")
	}
	if out := nextReply(t, g.bus); out.Content != "hey." {
		t.Errorf("content = %q", out.Content)
	}
}

func TestGateway_ProcessLoop_IgnoredMessage(t *testing.T) {
	g, _ := newTestGateway(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.processLoop(ctx)

	g.bus.Inbound <- guild("lum hi")
	g.bus.Inbound <- dm("!gif")

	out := nextReply(t, g.bus)
	if out.Content != "please provide a search term for the gif." {
		t.Errorf("the ignored guild message should produce nothing, got %q", out.Content)
	}
}

func TestGateway_ProcessLoop_PerUserOrder(t *testing.T) {
	g, f := newTestGateway(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.processLoop(ctx)

	const n = 5
	for i := 0; i < n; i++ {
		msg := dm(fmt.Sprintf("lum message %d", i))
		msg.MessageID = fmt.Sprintf("m-%d", i)
		g.bus.Inbound <- msg
	}
	for i := 0; i < n; i++ {
		if out := nextReply(t, g.bus); out.ReplyTo != fmt.Sprintf("m-%d", i) {
			t.Fatalf("reply %d answers %s, want m-%d", i, out.ReplyTo, i)
		}
	}

	history := f.store.history(dm("").UserKey())
	if len(history) != 2*n {
		t.Fatalf("history = %d turns, want %d", len(history), 2*n)
	}
	for i := 0; i < n; i++ {
		if want := fmt.Sprintf("lum message %d", i); history[2*i].Content != want {
			t.Errorf("turn %d = %q, want %q", 2*i, history[2*i].Content, want)
		}
	}
}

func TestGateway_ProcessLoop_ContextCancelled(t *testing.T) {
	g, _ := newTestGateway(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		g.processLoop(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processLoop did not exit after cancel")
	}
}

func TestNewWithOptions_InjectedDeps(t *testing.T) {
	f := newFixture(t)
	cfg := config.DefaultConfig()
	cfg.Gateway.Workers = 0

	g, err := NewWithOptions(cfg, Options{Deps: &Deps{Store: f.store, Text: f.text, Images: f.images, Gifs: f.gifs}})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	if g.workers != config.DefaultWorkers {
		t.Errorf("workers = %d, want default %d", g.workers, config.DefaultWorkers)
	}
	if g.Engine() == nil || g.Engine().OnWork == nil {
		t.Error("engine should be wired with a typing hook")
	}
	if jobs := g.cron.ListJobs(); len(jobs) != 0 {
		t.Errorf("a store without maintenance should not schedule jobs, got %d", len(jobs))
	}
}

func TestNewWithOptions_OpensStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = "test-key"
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "lum.db")

	g, err := NewWithOptions(cfg, Options{})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}
	if _, err := os.Stat(cfg.Storage.DBPath); err != nil {
		t.Errorf("database file should exist: %v", err)
	}
	jobs := g.cron.ListJobs()
	if len(jobs) != 1 || jobs[0].Name != maintenanceJob || jobs[0].Expr != config.DefaultMaintenanceSchedule {
		t.Errorf("jobs = %+v", jobs)
	}
	if err := g.cron.RunJob(maintenanceJob); err != nil {
		t.Errorf("maintenance run error: %v", err)
	}
	if err := g.Shutdown(); err != nil {
		t.Errorf("Shutdown error: %v", err)
	}
	if g.closer != nil {
		t.Error("Shutdown should release the store")
	}
}

func TestNewWithOptions_NoAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "lum.db")

	if _, err := NewWithOptions(cfg, Options{}); err == nil {
		t.Error("expected error without a provider api key")
	}
}

func TestNewWithOptions_BadSchedule(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Provider.APIKey = "test-key"
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "lum.db")
	cfg.Storage.MaintenanceSchedule = "every tuesday"

	if _, err := NewWithOptions(cfg, Options{}); err == nil {
		t.Error("expected error for an invalid maintenance schedule")
	}
}

func TestNewWithOptions_ChannelManagerError(t *testing.T) {
	f := newFixture(t)
	cfg := config.DefaultConfig()
	cfg.Channels.Discord = config.DiscordConfig{Enabled: true}

	if _, err := NewWithOptions(cfg, Options{Deps: &Deps{Store: f.store, Text: f.text}}); err == nil {
		t.Error("expected error for discord without token")
	}
}

func TestGateway_Run_WithSignalChan(t *testing.T) {
	f := newFixture(t)
	sigCh := make(chan os.Signal, 1)

	g, err := NewWithOptions(config.DefaultConfig(), Options{
		Deps:       &Deps{Store: f.store, Text: f.text, Images: f.images, Gifs: f.gifs},
		SignalChan: sigCh,
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- g.Run(context.Background())
	}()

	// Give it time to start
	time.Sleep(50 * time.Millisecond)

	sigCh <- os.Interrupt

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not exit after signal")
	}
}

func TestGateway_Run_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	g, err := NewWithOptions(config.DefaultConfig(), Options{
		Deps:       &Deps{Store: f.store, Text: f.text},
		SignalChan: make(chan os.Signal, 1),
	})
	if err != nil {
		t.Fatalf("NewWithOptions error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not exit after cancel")
	}
}
