package channels

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/mymmrac/telego"
	"github.com/sipeed/clawfeed/pkg/bus"
	"github.com/sipeed/clawfeed/pkg/config"
	"github.com/sipeed/clawfeed/pkg/events"
	"github.com/sipeed/clawfeed/pkg/logger"
)

// TelegramChannel long-polls the Bot API and publishes every accepted message.
type TelegramChannel struct {
	cfg       config.TelegramConfig
	publisher bus.Publisher

	mu      sync.Mutex
	bot     *telego.Bot
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTelegramChannel creates the adapter. The bot is not contacted until Start.
func NewTelegramChannel(cfg config.TelegramConfig, publisher bus.Publisher) *TelegramChannel {
	return &TelegramChannel{cfg: cfg, publisher: publisher}
}

func (c *TelegramChannel) Name() string { return NetworkTelegram }

func (c *TelegramChannel) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Start connects and begins the polling loop.
func (c *TelegramChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	bot, err := telego.NewBot(c.cfg.Token, telego.WithDiscardLogger())
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	updates, err := bot.UpdatesViaLongPolling(pollCtx, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.bot = bot
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true

	go c.poll(updates, c.done)
	return nil
}

func (c *TelegramChannel) poll(updates <-chan telego.Update, done chan struct{}) {
	defer close(done)
	for update := range updates {
		if update.Message == nil {
			continue
		}
		if ev, ok := c.messageEvent(update.Message); ok {
			c.publisher.Publish(ev)
		}
	}
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
	logger.InfoC("telegram", "Polling stopped")
}

// messageEvent converts an inbound message; ok is false for messages the
// allow list rejects or that carry no text.
func (c *TelegramChannel) messageEvent(msg *telego.Message) (events.Event, bool) {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		return events.Event{}, false
	}

	var from, name, username string
	if msg.From != nil {
		from = strconv.FormatInt(msg.From.ID, 10)
		name = msg.From.FirstName
		username = msg.From.Username
	}
	if !allowed(c.cfg.AllowFrom, from, username) {
		logger.DebugCF("telegram", "Message from non-allowed sender dropped", map[string]interface{}{
			"from": from,
		})
		return events.Event{}, false
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	return events.MessageReceived(FormatJID(chatID, NetworkTelegram), events.MessageData{
		MessageID:  strconv.Itoa(msg.MessageID),
		Channel:    NetworkTelegram,
		From:       from,
		SenderName: name,
		Preview:    text,
	}), true
}

// Send posts text to the chat with the given numeric id.
func (c *TelegramChannel) Send(ctx context.Context, nativeID, text string) error {
	c.mu.Lock()
	bot := c.bot
	running := c.running
	c.mu.Unlock()
	if !running || bot == nil {
		return fmt.Errorf("telegram channel not running")
	}

	chatID, err := strconv.ParseInt(nativeID, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: telegram chat id %q", ErrInvalidJID, nativeID)
	}

	_, err = bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Stop cancels polling and waits for the loop to exit.
func (c *TelegramChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
