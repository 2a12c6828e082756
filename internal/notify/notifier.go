// Package notify provides multi-channel operator alerts for snipe and
// position lifecycle events. Notifications are dispatched to all registered
// senders (Telegram, Discord, etc.) and can be filtered by event type so
// operators receive only the alerts they care about.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// deliveryTimeout bounds each background delivery attempt.
const deliveryTimeout = 15 * time.Second

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. It maintains a set
// of allowed event types; Notify only forwards messages whose event type is in
// the allowed set, while NotifyAll bypasses the filter.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotifier creates a Notifier that will deliver to the given senders. Only
// events whose type appears in the events slice will be forwarded by Notify.
// If events is empty, all event types are allowed.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify hands a notification to all senders only if the event type is in the
// allowed list. If no events were configured (empty list), all events pass.
// Delivery happens in the background; failures surface in the log, never to
// the caller, so the dispatch, execution, and automation paths cannot stall
// on a slow webhook.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	// If specific events were configured, filter.
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}

	return n.dispatch(ctx, title, message)
}

// NotifyAll hands a notification to all senders regardless of event type.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// Wait blocks until every in-flight delivery has finished. Call it during
// shutdown after the producers have stopped.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// dispatch launches one delivery goroutine per sender. Each delivery outlives
// the caller's context: a cancelled dispatch must not abort an alert already
// on its way out, so only deliveryTimeout bounds the attempt. A sender
// failure never blocks another sender's delivery.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	base := context.WithoutCancel(ctx)
	for _, s := range n.senders {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			sendCtx, cancel := context.WithTimeout(base, deliveryTimeout)
			defer cancel()

			if err := s.Send(sendCtx, title, message); err != nil {
				n.logger.Error("sender failed",
					slog.String("sender", s.Name()),
					slog.String("error", err.Error()),
				)
				return
			}
			n.logger.Debug("notification sent",
				slog.String("sender", s.Name()),
				slog.String("title", title),
			)
		}()
	}
	return nil
}

// postJSON is the shared delivery primitive for webhook-style senders. Any
// 2xx response counts as delivered.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
