// Package alert pushes operator notifications to external channels. The
// order path never waits on delivery: every alert fans out on its own
// goroutine and a failed send is logged, not propagated.
package alert

import (
	"context"
	"sync"
	"time"

	"omc/internal/config"
	"omc/internal/core"
)

const sendTimeout = 10 * time.Second

// Payload is one notification as handed to every channel.
type Payload struct {
	Level     core.AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers a payload to one destination.
type Channel interface {
	Send(ctx context.Context, payload Payload) error
	Name() string
}

// Manager fans alerts out to all registered channels.
type Manager struct {
	channels []Channel
	logger   core.ILogger
	mu       sync.RWMutex
}

var _ core.IAlerter = (*Manager)(nil)

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		channels: make([]Channel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

// FromConfig assembles a manager with the channels the config enables. A
// disabled or empty config yields a manager that alerts into the void,
// which keeps the callers unconditional.
func FromConfig(cfg config.AlertsConfig, logger core.ILogger) *Manager {
	m := NewManager(logger)
	if !cfg.Enabled {
		return m
	}
	if cfg.SlackWebhookURL.IsSet() {
		m.AddChannel(NewSlackChannel(cfg.SlackWebhookURL.Reveal()))
	}
	if cfg.TelegramBotToken.IsSet() && cfg.TelegramChatID != "" {
		m.AddChannel(NewTelegramChannel(cfg.TelegramBotToken.Reveal(), cfg.TelegramChatID))
	}
	return m
}

func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("Added alert channel", "name", ch.Name())
}

// ChannelCount reports how many channels are registered.
func (m *Manager) ChannelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// Alert dispatches to every channel without waiting for delivery. Sends
// are detached from the caller's context so a short-lived workflow context
// cannot cut a webhook call short.
func (m *Manager) Alert(ctx context.Context, level core.AlertLevel, title, message string, fields map[string]string) {
	payload := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	}

	m.logger.Info("Triggering alert", "title", title, "level", level)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, ch := range m.channels {
		go func(c Channel) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
			defer cancel()

			if err := c.Send(sendCtx, payload); err != nil {
				m.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}
