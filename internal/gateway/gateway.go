package gateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/stellarlinkco/lum/internal/bus"
	"github.com/stellarlinkco/lum/internal/channel"
	"github.com/stellarlinkco/lum/internal/config"
	"github.com/stellarlinkco/lum/internal/cron"
	"github.com/stellarlinkco/lum/internal/giphy"
	"github.com/stellarlinkco/lum/internal/imagegen"
	"github.com/stellarlinkco/lum/internal/llm"
	"github.com/stellarlinkco/lum/internal/store"
)

const maintenanceJob = "store-maintenance"

// Options for creating a Gateway
type Options struct {
	// Deps replaces the store and executors built from config.
	Deps       *Deps
	SignalChan chan os.Signal // for testing signal handling
}

type maintainer interface {
	Maintain(ctx context.Context) error
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	engine     *Engine
	closer     io.Closer
	channels   *channel.ChannelManager
	cron       *cron.Service
	workers    int
	signalChan chan os.Signal // for testing
}

// OpenDeps opens the sqlite store and builds the executors described by cfg.
// The returned closer releases the store.
func OpenDeps(ctx context.Context, cfg *config.Config) (Deps, io.Closer, error) {
	st, err := store.Open(ctx, cfg.DBPath())
	if err != nil {
		return Deps{}, nil, fmt.Errorf("open store: %w", err)
	}
	text, err := llm.NewFromConfig(cfg)
	if err != nil {
		_ = st.Close()
		return Deps{}, nil, fmt.Errorf("create text generator: %w", err)
	}
	deps := Deps{
		Store: st,
		Text:  text,
		Images: imagegen.New(imagegen.Options{
			APIKey:  cfg.ImageAPIKey(),
			BaseURL: cfg.Image.BaseURL,
			Model:   cfg.Image.Model,
			Size:    cfg.Image.Size,
		}),
		Gifs: giphy.New(giphy.Options{
			APIKey:  cfg.Giphy.APIKey,
			BaseURL: cfg.Giphy.BaseURL,
			Rating:  cfg.Giphy.Rating,
			Lang:    cfg.Giphy.Lang,
		}),
	}
	return deps, st, nil
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(config.DefaultBufSize),
		workers:    cfg.Gateway.Workers,
		signalChan: opts.SignalChan,
	}
	if g.workers <= 0 {
		g.workers = config.DefaultWorkers
	}

	var deps Deps
	if opts.Deps != nil {
		deps = *opts.Deps
	} else {
		d, closer, err := OpenDeps(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		deps, g.closer = d, closer
	}

	g.engine = NewEngine(cfg, deps)
	g.engine.OnWork = g.sendTyping

	g.cron = cron.NewService()
	if m, ok := deps.Store.(maintainer); ok {
		schedule := cfg.Storage.MaintenanceSchedule
		if schedule == "" {
			schedule = config.DefaultMaintenanceSchedule
		}
		if err := g.cron.AddJob(maintenanceJob, schedule, m.Maintain); err != nil {
			g.closeStore()
			return nil, fmt.Errorf("schedule store maintenance: %w", err)
		}
	}

	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus)
	if err != nil {
		g.closeStore()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

// Engine returns the dispatch engine the gateway feeds.
func (g *Gateway) Engine() *Engine {
	return g.engine
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running as %q with %d workers", g.cfg.Agent.Name, g.workers)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

// processLoop fans inbound messages out to workers by user, so each user's
// messages are handled in arrival order.
func (g *Gateway) processLoop(ctx context.Context) {
	shards := make([]chan bus.InboundMessage, g.workers)
	for i := range shards {
		shards[i] = make(chan bus.InboundMessage, config.DefaultBufSize)
		go g.worker(ctx, shards[i])
	}

	for {
		select {
		case msg := <-g.bus.Inbound:
			select {
			case shards[shardFor(msg.UserKey(), len(shards))] <- msg:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) worker(ctx context.Context, in <-chan bus.InboundMessage) {
	for {
		select {
		case msg := <-in:
			g.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	trace := uuid.NewString()
	log.Printf("[gateway] %s inbound from %s/%s: %s", trace, msg.Channel, msg.SenderID, truncate(msg.Content, 80))

	reply, ok := g.engine.Handle(ctx, msg)
	if !ok || reply == "" {
		return
	}
	log.Printf("[gateway] %s reply to %s/%s: %s", trace, msg.Channel, msg.ChatID, truncate(reply, 80))

	select {
	case g.bus.Outbound <- bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		ReplyTo: msg.MessageID,
	}:
	case <-ctx.Done():
	}
}

// sendTyping queues a typing indicator without blocking the worker.
func (g *Gateway) sendTyping(msg bus.InboundMessage) {
	select {
	case g.bus.Outbound <- bus.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Typing: true}:
	default:
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	_ = g.channels.StopAll()
	g.closeStore()
	log.Printf("[gateway] shutdown complete")
	return nil
}

func (g *Gateway) closeStore() {
	if g.closer == nil {
		return
	}
	if err := g.closer.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	g.closer = nil
}

func shardFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// truncate keeps at most n bytes of s, cut on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	end := 0
	for end < len(s) {
		_, size := utf8.DecodeRuneInString(s[end:])
		if end+size > n {
			break
		}
		end += size
	}
	return s[:end] + "..."
}
