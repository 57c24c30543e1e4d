package channel

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/stellarlinkco/lum/internal/bus"
)

// Channel is a chat platform adapter. Start must return once the adapter is
// listening; inbound traffic is published to the bus.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Send(msg bus.OutboundMessage) error
}

type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	allowFrom map[string]bool
}

func NewBaseChannel(name string, b *bus.MessageBus, allowFrom []string) BaseChannel {
	allowed := make(map[string]bool, len(allowFrom))
	for _, id := range allowFrom {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = true
		}
	}
	return BaseChannel{name: name, bus: b, allowFrom: allowed}
}

func (c *BaseChannel) Name() string { return c.name }

// IsAllowed reports whether senderID may talk to the agent. An empty allow
// list admits everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowFrom) == 0 {
		return true
	}
	return c.allowFrom[senderID]
}

// splitMessage cuts s into chunks of at most maxRunes runes, preferring to
// break after a newline.
func splitMessage(s string, maxRunes int) []string {
	var chunks []string
	for s != "" {
		if utf8.RuneCountInString(s) <= maxRunes {
			chunks = append(chunks, s)
			break
		}
		cut := byteOffset(s, maxRunes)
		if idx := strings.LastIndex(s[:cut], "\n"); idx > 0 {
			cut = idx + 1
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	return chunks
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}
