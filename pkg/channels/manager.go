// Package channels connects chat networks to the telemetry bus.
//
// Each Channel is a producer: it publishes message-received events for
// inbound chat traffic, and the Manager publishes message-sent events for
// outbound replies routed through it. Network errors stay inside the adapter
// and are logged; they never reach the bus.
//
// To add a network:
//  1. Implement the Channel interface
//  2. Register it with the Manager
//  3. Choose a JID suffix and return it from Name()
package channels

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sipeed/clawfeed/pkg/bus"
	"github.com/sipeed/clawfeed/pkg/events"
	"github.com/sipeed/clawfeed/pkg/logger"
)

// Channel is one chat network adapter.
type Channel interface {
	// Name returns the network suffix used in chat JIDs, e.g. "telegram".
	Name() string

	// Start begins receiving messages (non-blocking).
	Start(ctx context.Context) error

	// Stop disconnects from the network.
	Stop(ctx context.Context) error

	// Send delivers text to the chat identified by its native id.
	Send(ctx context.Context, nativeID, text string) error

	// IsRunning reports whether the adapter is connected.
	IsRunning() bool
}

var ErrChannelNotFound = errors.New("no channel for network")

// Manager owns the registered channels and routes outbound messages by JID.
type Manager struct {
	channels  map[string]Channel
	publisher bus.Publisher
	mu        sync.RWMutex
}

// NewManager creates a manager publishing message-sent events to publisher.
func NewManager(publisher bus.Publisher) *Manager {
	return &Manager{
		channels:  make(map[string]Channel),
		publisher: publisher,
	}
}

// Register adds a channel, replacing any previous one for the same network.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	logger.InfoCF("channels", "Registered channel", map[string]interface{}{
		"name": ch.Name(),
	})
}

// Get retrieves a channel by network name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// List returns the registered network names, sorted.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StartAll starts every channel. A channel that fails to start is logged and
// skipped; the error returned joins all failures.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for name, ch := range m.channels {
		if err := ch.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]interface{}{
				"name":  name,
				"error": err.Error(),
			})
			errs = append(errs, fmt.Errorf("start channel %s: %w", name, err))
			continue
		}
		logger.InfoCF("channels", "Started channel", map[string]interface{}{
			"name": name,
		})
	}
	return errors.Join(errs...)
}

// StopAll stops every channel, logging failures.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to stop channel", map[string]interface{}{
				"name":  name,
				"error": err.Error(),
			})
		}
	}
}

// Status returns network name → "running" or "stopped".
func (m *Manager) Status() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]interface{}, len(m.channels))
	for name, ch := range m.channels {
		if ch.IsRunning() {
			status[name] = "running"
		} else {
			status[name] = "stopped"
		}
	}
	return status
}

// Send routes text to the channel owning jid's network and, on success,
// publishes a message-sent event.
func (m *Manager) Send(ctx context.Context, jid, text string) error {
	nativeID, network, err := ParseJID(jid)
	if err != nil {
		return err
	}

	ch, ok := m.Get(network)
	if !ok {
		return fmt.Errorf("%w %q", ErrChannelNotFound, network)
	}

	if err := ch.Send(ctx, nativeID, text); err != nil {
		logger.WarnCF("channels", "Outbound message failed", map[string]interface{}{
			"chat_jid": jid,
			"error":    err.Error(),
		})
		return fmt.Errorf("send via %s: %w", network, err)
	}

	m.publisher.Publish(events.MessageSent(jid, events.MessageData{
		Channel: network,
		Preview: text,
	}))
	return nil
}

// allowed reports whether sender passes the allow list. An empty list allows
// everyone.
func allowed(allowFrom []string, ids ...string) bool {
	if len(allowFrom) == 0 {
		return true
	}
	for _, a := range allowFrom {
		for _, id := range ids {
			if id != "" && a == id {
				return true
			}
		}
	}
	return false
}
