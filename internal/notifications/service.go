package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"scour/internal/config"
)

const userAgent = "Scour-Go/0.1.0"

// Service defines the notification surface exposed to queue components.
type Service interface {
	NotifyDrainStarted(ctx context.Context, count int) error
	NotifyDrainCompleted(ctx context.Context, processed, requeued, failed int, duration time.Duration) error
	NotifySessionCompleted(ctx context.Context, sessionID string, stages int) error
	NotifyItemFailed(ctx context.Context, itemID, taskRef, errorMessage string) error
	NotifyError(ctx context.Context, err error, context string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyDrainStarted(ctx context.Context, count int) error {
	data := payload{
		title:   "Scour - Drain Started",
		message: fmt.Sprintf("Draining queue with %d items", count),
		tags:    []string{"scour", "drain", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyDrainCompleted(ctx context.Context, processed, requeued, failed int, duration time.Duration) error {
	duration = duration.Round(time.Second)
	if duration < 0 {
		duration = 0
	}

	var title string
	var message string
	if failed == 0 {
		title = "Scour - Drain Complete"
		message = fmt.Sprintf("Drain complete: %d processed, %d requeued in %s", processed, requeued, duration)
	} else {
		title = "Scour - Drain Complete (with errors)"
		message = fmt.Sprintf("Drain complete: %d processed, %d requeued, %d failed in %s", processed, requeued, failed, duration)
	}

	data := payload{
		title:   title,
		message: message,
		tags:    []string{"scour", "drain", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifySessionCompleted(ctx context.Context, sessionID string, stages int) error {
	data := payload{
		title:    "Scour - Session Complete",
		message:  fmt.Sprintf("Search session %s complete across %d stages", sessionID, stages),
		tags:     []string{"scour", "session", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyItemFailed(ctx context.Context, itemID, taskRef, errorMessage string) error {
	message := fmt.Sprintf("Item %s (%s) exhausted its retries", itemID, taskRef)
	if errorMessage = strings.TrimSpace(errorMessage); errorMessage != "" {
		message = fmt.Sprintf("%s\nLast error: %s", message, errorMessage)
	}
	data := payload{
		title:    "Scour - Item Failed",
		message:  message,
		tags:     []string{"scour", "queue", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyError(ctx context.Context, err error, contextLabel string) error {
	var builder strings.Builder
	builder.WriteString("Error")
	if contextLabel = strings.TrimSpace(contextLabel); contextLabel != "" {
		builder.WriteString(" with ")
		builder.WriteString(contextLabel)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}

	data := payload{
		title:    "Scour - Error",
		message:  builder.String(),
		tags:     []string{"scour", "error", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Scour - Test",
		message:  "Notification system test",
		tags:     []string{"scour", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyDrainStarted(context.Context, int) error                          { return nil }
func (noopService) NotifyDrainCompleted(context.Context, int, int, int, time.Duration) error { return nil }
func (noopService) NotifySessionCompleted(context.Context, string, int) error              { return nil }
func (noopService) NotifyItemFailed(context.Context, string, string, string) error         { return nil }
func (noopService) NotifyError(context.Context, error, string) error                       { return nil }
func (noopService) TestNotification(context.Context) error                                 { return nil }
