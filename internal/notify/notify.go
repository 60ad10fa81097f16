// Package notify delivers the admin notification fired when a post is
// submitted for review.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bulletin/internal/config"
	"bulletin/internal/domain"
	"bulletin/internal/metrics"
)

const defaultWebhookTimeout = 5 * time.Second

// Notifier receives lifecycle side effects. Implementations must not block
// the caller indefinitely; errors are reported, never rolled back.
type Notifier interface {
	PostSubmitted(ctx context.Context, post domain.Post) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) PostSubmitted(context.Context, domain.Post) error { return nil }

// Event is the JSON body posted to webhooks.
type Event struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	PostID      string   `json:"post_id"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	SubmittedBy string   `json:"submitted_by"`
	SubmittedAt string   `json:"submitted_at"`
	Assignees   []string `json:"assignees"`
	ProofCount  int      `json:"proof_batches"`
}

// Webhooks posts events to every enabled, subscribed hook.
type Webhooks struct {
	hooks  []config.WebhookConfig
	client *http.Client
	log    zerolog.Logger
	newID  func() string
}

func NewWebhooks(hooks []config.WebhookConfig, log zerolog.Logger) *Webhooks {
	return &Webhooks{
		hooks:  hooks,
		client: &http.Client{Timeout: defaultWebhookTimeout},
		log:    log.With().Str("component", "notify").Logger(),
		newID:  uuid.NewString,
	}
}

func (w *Webhooks) PostSubmitted(ctx context.Context, post domain.Post) error {
	evt := Event{
		ID:          w.newID(),
		Type:        config.EventPostSubmitted,
		PostID:      post.ID,
		Title:       post.Title,
		Status:      post.Status,
		SubmittedBy: post.SubmittedBy,
		SubmittedAt: post.SubmittedAt,
		Assignees:   append([]string{}, post.AssignedArchitects...),
		ProofCount:  len(post.ProofOfWork),
	}
	// Delivery outlives a canceled request: the write it reports already happened.
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, hook := range w.hooks {
		if !hook.IsEnabled() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if !newEventFilter(hook.Events).match(evt.Type) {
			continue
		}
		if err := w.post(ctx, hook, evt); err != nil {
			metrics.ObserveNotification(evt.Type, "error")
			w.log.Warn().Err(err).Str("url", hook.URL).Str("post_id", post.ID).Msg("webhook delivery failed")
			errs = append(errs, fmt.Errorf("deliver to %s: %w", hook.URL, err))
			continue
		}
		metrics.ObserveNotification(evt.Type, "ok")
		w.log.Info().Str("url", hook.URL).Str("post_id", post.ID).Str("delivery", evt.ID).Msg("webhook delivered")
	}
	return errors.Join(errs...)
}

func (w *Webhooks) post(ctx context.Context, hook config.WebhookConfig, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bulletin-Event", evt.Type)
	req.Header.Set("X-Bulletin-Delivery", evt.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Bulletin-Secret", hook.Secret)
	}
	res, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
