package channel

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/stellarlinkco/lum/internal/bus"
	"github.com/stellarlinkco/lum/internal/config"
)

//go:embed static
var staticFiles embed.FS

const (
	webUIChannelName = "webui"
	webUIWriteWait   = 5 * time.Second
)

type wsMessage struct {
	Type    string `json:"type"` // "message" or "typing"
	Content string `json:"content,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	id   string
}

// WebUIChannel serves a browser chat page. Each websocket connection is its
// own direct conversation.
type WebUIChannel struct {
	BaseChannel
	addr    string
	server  *http.Server
	ctx     context.Context
	clients sync.Map
	nextID  atomic.Int64
	nextMsg atomic.Int64
}

func NewWebUIChannel(cfg config.WebUIConfig, b *bus.MessageBus) (*WebUIChannel, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = config.DefaultWebUIAddr
	}
	return &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		addr:        addr,
		ctx:         context.Background(),
	}, nil
}

// Handler returns the page and websocket routes.
func (w *WebUIChannel) Handler() (http.Handler, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("embed static fs: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	return mux, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	handler, err := w.Handler()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", w.addr, err)
	}

	w.ctx = ctx
	w.server = &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		log.Printf("[webui] listening on %s", ln.Addr())
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[webui] server error: %v", err)
		}
	}()
	return nil
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, nil)
	if err != nil {
		log.Printf("[webui] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	w.clients.Store(clientID, &wsClient{conn: conn, id: clientID})
	log.Printf("[webui] client connected: %s", clientID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[webui] client disconnected: %s", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		content := strings.TrimSpace(msg.Content)
		if msg.Type != "message" || content == "" {
			continue
		}
		if !w.IsAllowed(clientID) {
			log.Printf("[webui] rejected message from %s", clientID)
			continue
		}

		inbound := bus.InboundMessage{
			Channel:    webUIChannelName,
			SenderID:   clientID,
			SenderName: clientID,
			ChatID:     clientID,
			ChatName:   "DM",
			MessageID:  strconv.FormatInt(w.nextMsg.Add(1), 10),
			Content:    content,
			Direct:     true,
			Timestamp:  time.Now(),
		}
		select {
		case w.bus.Inbound <- inbound:
		case <-w.ctx.Done():
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	out := wsMessage{Type: "message", Content: msg.Content}
	if msg.Typing {
		out = wsMessage{Type: "typing"}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}

	client, ok := w.clients.Load(msg.ChatID)
	if !ok {
		// Broadcast to all clients if no specific target
		w.clients.Range(func(key, value any) bool {
			_ = write(value.(*wsClient), data)
			return true
		})
		return nil
	}
	return write(client.(*wsClient), data)
}

func write(c *wsClient, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), webUIWriteWait)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebUIChannel) Stop() error {
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), webUIWriteWait)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			log.Printf("[webui] shutdown error: %v", err)
		}
	}
	w.clients.Range(func(key, value any) bool {
		value.(*wsClient).conn.CloseNow()
		return true
	})
	log.Printf("[webui] stopped")
	return nil
}
