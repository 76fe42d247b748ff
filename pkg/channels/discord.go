package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/sipeed/clawfeed/pkg/bus"
	"github.com/sipeed/clawfeed/pkg/config"
	"github.com/sipeed/clawfeed/pkg/events"
	"github.com/sipeed/clawfeed/pkg/logger"
)

// DiscordChannel listens on the Discord gateway and publishes every accepted
// message. JIDs use the channel id: "<channelID>@discord".
type DiscordChannel struct {
	cfg       config.DiscordConfig
	publisher bus.Publisher

	mu      sync.Mutex
	session *discordgo.Session
	remove  func()
	running bool
}

// NewDiscordChannel creates the adapter. The gateway is not contacted until
// Start.
func NewDiscordChannel(cfg config.DiscordConfig, publisher bus.Publisher) *DiscordChannel {
	return &DiscordChannel{cfg: cfg, publisher: publisher}
}

func (c *DiscordChannel) Name() string { return NetworkDiscord }

func (c *DiscordChannel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start opens the gateway websocket.
func (c *DiscordChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	session, err := discordgo.New("Bot " + c.cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	remove := session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		var selfID string
		if s.State != nil && s.State.User != nil {
			selfID = s.State.User.ID
		}
		if ev, ok := c.messageEvent(m.Message, selfID); ok {
			c.publisher.Publish(ev)
		}
	})

	if err := session.Open(); err != nil {
		remove()
		return fmt.Errorf("open discord gateway: %w", err)
	}

	c.session = session
	c.remove = remove
	c.running = true
	return nil
}

// messageEvent converts an inbound message; ok is false for the bot's own
// messages, other bots, empty content and senders outside the allow list.
func (c *DiscordChannel) messageEvent(m *discordgo.Message, selfID string) (events.Event, bool) {
	if m == nil || m.Author == nil || m.Content == "" {
		return events.Event{}, false
	}
	if m.Author.Bot || m.Author.ID == selfID {
		return events.Event{}, false
	}
	if !allowed(c.cfg.AllowFrom, m.Author.ID, m.Author.Username) {
		logger.DebugCF("discord", "Message from non-allowed sender dropped", map[string]interface{}{
			"from": m.Author.ID,
		})
		return events.Event{}, false
	}

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	return events.MessageReceived(FormatJID(m.ChannelID, NetworkDiscord), events.MessageData{
		MessageID:  m.ID,
		Channel:    NetworkDiscord,
		From:       m.Author.ID,
		SenderName: name,
		Preview:    m.Content,
	}), true
}

// Send posts text to the Discord channel with the given id.
func (c *DiscordChannel) Send(ctx context.Context, nativeID, text string) error {
	c.mu.Lock()
	session := c.session
	running := c.running
	c.mu.Unlock()
	if !running || session == nil {
		return fmt.Errorf("discord channel not running")
	}

	if _, err := session.ChannelMessageSend(nativeID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Stop closes the gateway connection.
func (c *DiscordChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	if c.remove != nil {
		c.remove()
	}
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord gateway: %w", err)
	}
	logger.InfoC("discord", "Gateway closed")
	return nil
}
