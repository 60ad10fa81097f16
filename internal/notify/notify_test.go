package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulletin/internal/config"
	"bulletin/internal/domain"
	"bulletin/internal/metrics"
	"bulletin/internal/notify"
)

type capture struct {
	mu      sync.Mutex
	events  []notify.Event
	headers []http.Header
	status  int
}

func (c *capture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evt notify.Event
	_ = json.NewDecoder(r.Body).Decode(&evt)
	c.events = append(c.events, evt)
	c.headers = append(c.headers, r.Header.Clone())
	if c.status != 0 {
		w.WriteHeader(c.status)
		_, _ = w.Write([]byte("nope"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func boolPtr(b bool) *bool { return &b }

func submitted() domain.Post {
	return domain.Post{
		ID: "post-0004", Title: "Audit", Status: domain.StatusSubmitted,
		AssignedArchitects: []string{"ada"}, SubmittedBy: "ada", SubmittedAt: "2026-03-02T10:00:00Z",
		ProofOfWork: []domain.ProofBatch{{ID: "b1"}},
	}
}

func TestWebhooksDeliverToSubscribedHooks(t *testing.T) {
	ok := &capture{}
	okSrv := httptest.NewServer(ok)
	t.Cleanup(okSrv.Close)
	skipped := &capture{}
	skipSrv := httptest.NewServer(skipped)
	t.Cleanup(skipSrv.Close)

	w := notify.NewWebhooks([]config.WebhookConfig{
		{URL: okSrv.URL, Secret: "s3cret", Events: []string{config.EventPostSubmitted}},
		{URL: skipSrv.URL, Enabled: boolPtr(false)},
	}, zerolog.Nop())

	before := testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(config.EventPostSubmitted, "ok"))
	require.NoError(t, w.PostSubmitted(context.Background(), submitted()))

	require.Len(t, ok.events, 1)
	assert.Equal(t, "post-0004", ok.events[0].PostID)
	assert.Equal(t, "ada", ok.events[0].SubmittedBy)
	assert.Equal(t, 1, ok.events[0].ProofCount)
	assert.NotEmpty(t, ok.events[0].ID)
	assert.Equal(t, "s3cret", ok.headers[0].Get("X-Bulletin-Secret"))
	assert.Equal(t, ok.events[0].ID, ok.headers[0].Get("X-Bulletin-Delivery"))
	assert.Empty(t, skipped.events)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(config.EventPostSubmitted, "ok")))
}

func TestWebhookFailureIsReported(t *testing.T) {
	bad := &capture{status: http.StatusInternalServerError}
	srv := httptest.NewServer(bad)
	t.Cleanup(srv.Close)

	w := notify.NewWebhooks([]config.WebhookConfig{{URL: srv.URL}}, zerolog.Nop())
	err := w.PostSubmitted(context.Background(), submitted())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestDeliveryIgnoresCanceledRequest(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := notify.NewWebhooks([]config.WebhookConfig{{URL: srv.URL}}, zerolog.Nop())
	require.NoError(t, w.PostSubmitted(ctx, submitted()))
	assert.Len(t, c.events, 1)
}

func TestNop(t *testing.T) {
	assert.NoError(t, notify.Nop{}.PostSubmitted(context.Background(), submitted()))
}
