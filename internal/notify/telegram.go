// Package notify is the optional operator-alerting subscriber. It
// watches the event bus for conditions worth paging a human about and
// posts a one-line message to a configured Telegram chat. Absent
// configuration, nothing is registered and the bus carries no overhead.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fleetci/taskhub/internal/bus"
)

// TelegramNotifier posts lifecycle alerts to a single Telegram chat.
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger

	eventBus *bus.Bus
	sub      *bus.Subscription
	done     chan struct{}
}

// NewTelegramNotifier dials the Telegram bot API with the given token.
// It does not yet subscribe to anything; call Start for that.
func NewTelegramNotifier(token string, chatID int64, logger *slog.Logger) (*TelegramNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, logger: logger}, nil
}

// Start subscribes to burnout and lease-reclamation events and posts an
// alert for each one until ctx is cancelled.
func (n *TelegramNotifier) Start(ctx context.Context, b *bus.Bus) {
	n.eventBus = b
	n.sub = b.Subscribe("task.")
	n.done = make(chan struct{})
	go n.run(ctx)
}

func (n *TelegramNotifier) run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-n.sub.Ch():
			if !ok {
				return
			}
			lifecycle, ok := evt.Payload.(bus.LifecycleEvent)
			if !ok {
				continue
			}
			text := alertText(evt.Topic, lifecycle)
			if text == "" {
				continue
			}
			n.send(text)
		}
	}
}

// alertText returns the message worth paging an operator about, or ""
// for topics this notifier does not alert on.
func alertText(topic string, evt bus.LifecycleEvent) string {
	switch topic {
	case bus.TopicTaskBurnoutDetected:
		return fmt.Sprintf("burnout detected: task %s (queue=%s, agent=%s)", evt.TaskID, evt.Queue, evt.Agent)
	case bus.TopicTaskRequeued:
		if evt.Details == "Lease expired" {
			return fmt.Sprintf("lease reclaimed: task %s returned to incoming after expiry", evt.TaskID)
		}
		return ""
	default:
		return ""
	}
}

func (n *TelegramNotifier) send(text string) {
	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		n.logger.Warn("telegram send failed", "error", err)
	}
}

// Stop unsubscribes from the bus and waits for the run loop to exit.
func (n *TelegramNotifier) Stop() {
	if n.eventBus == nil {
		return
	}
	n.eventBus.Unsubscribe(n.sub)
	<-n.done
}
