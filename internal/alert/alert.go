package alert

import (
	"context"
	"sync"
	"time"

	"gridbot/internal/core"
)

type AlertPayload struct {
	Level     core.AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// Manager fans a notification out to every registered channel,
// fire-and-forget (§6): a channel failure is logged, never propagated.
type Manager struct {
	channels []AlertChannel
	logger   core.Logger
	mu       sync.RWMutex
}

func NewManager(logger core.Logger) *Manager {
	return &Manager{
		channels: make([]AlertChannel, 0),
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *Manager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Notify implements core.Notifier: fire-and-forget, never blocks the caller.
func (am *Manager) Notify(level core.AlertLevel, title, message string) {
	am.Alert(context.Background(), title, message, level, nil)
}

func (am *Manager) Alert(ctx context.Context, title, message string, level core.AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	defer am.mu.RUnlock()

	var wg sync.WaitGroup
	for _, ch := range am.channels {
		wg.Add(1)
		go func(c AlertChannel) {
			defer wg.Done()
			// Create a timeout context for each channel
			timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
	// Intentionally not waiting: alerting stays off the trading path.
}

var _ core.Notifier = (*Manager)(nil)
