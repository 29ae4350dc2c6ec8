// Package webhook implements the webhook dispatcher (spec.md §4.6):
// per-owner subscriptions, event fan-out, HMAC-signed delivery, and
// retry/backoff on failed deliveries.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/nulpointcorp/modelgate/internal/core"
)

const maxDeliveryHistoryPerWebhook = 200

// Dispatcher owns webhook subscriptions and delivery history, and fans
// out core events to subscribed URLs.
//
// Grounded on the teacher's per-provider `&http.Client{Timeout: ...}`
// construction idiom (internal/providers/openai/openai.go) for the
// delivery client, and on github.com/cenkalti/backoff/v4 (already promoted
// to a direct dependency by internal/router/health.go) for the retry
// schedule.
type Dispatcher struct {
	mu         sync.RWMutex
	webhooks   map[string]*core.WebhookConfig
	deliveries map[string][]*core.WebhookDelivery // keyed by webhook id

	client  *http.Client
	retries int // default retry count for new webhooks
	log     *slog.Logger
}

// New builds a Dispatcher. deliveryTimeout bounds a single HTTP POST;
// defaultRetries seeds WebhookConfig.Retries when a caller doesn't specify one.
func New(deliveryTimeout time.Duration, defaultRetries int, log *slog.Logger) *Dispatcher {
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}
	if defaultRetries <= 0 {
		defaultRetries = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		webhooks:   make(map[string]*core.WebhookConfig),
		deliveries: make(map[string][]*core.WebhookDelivery),
		client:     &http.Client{Timeout: deliveryTimeout},
		retries:    defaultRetries,
		log:        log,
	}
}

// CreateWebhook registers a new subscription owned by owner.
func (d *Dispatcher) CreateWebhook(owner string, w core.WebhookConfig) (*core.WebhookConfig, error) {
	for _, t := range w.Events {
		if !t.Valid() {
			return nil, core.NewError(core.ErrInvalidRequest, "unknown event type: "+string(t))
		}
	}
	if w.Retries <= 0 {
		w.Retries = d.retries
	}
	if w.Retries > 10 {
		w.Retries = 10
	}

	now := time.Now()
	w.ID = uuid.NewString()
	w.Owner = owner
	w.Active = true
	w.CreatedAt = now
	w.UpdatedAt = now

	d.mu.Lock()
	d.webhooks[w.ID] = &w
	d.mu.Unlock()

	cp := w
	return &cp, nil
}

// GetWebhook returns the webhook with id iff owned by caller.
func (d *Dispatcher) GetWebhook(id, caller string) (*core.WebhookConfig, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.webhooks[id]
	if !ok || w.Owner != caller {
		return nil, core.NewError(core.ErrNotFound, "webhook not found")
	}
	cp := *w
	return &cp, nil
}

// ListWebhooks returns every webhook owned by caller.
func (d *Dispatcher) ListWebhooks(caller string) []*core.WebhookConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*core.WebhookConfig, 0)
	for _, w := range d.webhooks {
		if w.Owner == caller {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out
}

// UpdateWebhook applies fn to the webhook with id if caller is its owner.
func (d *Dispatcher) UpdateWebhook(id, caller string, fn func(*core.WebhookConfig)) (*core.WebhookConfig, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.webhooks[id]
	if !ok || w.Owner != caller {
		return nil, core.NewError(core.ErrNotFound, "webhook not found")
	}
	fn(w)
	w.UpdatedAt = time.Now()
	cp := *w
	return &cp, nil
}

// DeleteWebhook removes the webhook with id if caller is its owner.
func (d *Dispatcher) DeleteWebhook(id, caller string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.webhooks[id]
	if !ok || w.Owner != caller {
		return core.NewError(core.ErrNotFound, "webhook not found")
	}
	delete(d.webhooks, id)
	delete(d.deliveries, id)
	return nil
}

// TriggerEvent fans event out to every active webhook owned by owner that
// subscribes to its type. Each delivery (with its own retry schedule) runs
// in its own goroutine so a slow/unreachable endpoint never blocks the
// caller or other subscribers.
func (d *Dispatcher) TriggerEvent(ctx context.Context, owner string, t core.WebhookEventType, data map[string]any) {
	event := core.WebhookEvent{
		ID:    uuid.NewString(),
		TS:    time.Now(),
		Owner: owner,
		Type:  t,
		Data:  data,
	}

	d.mu.RLock()
	var targets []*core.WebhookConfig
	for _, w := range d.webhooks {
		if w.Owner == owner && w.Subscribes(t) {
			cp := *w
			targets = append(targets, &cp)
		}
	}
	d.mu.RUnlock()

	for _, w := range targets {
		go d.deliver(ctx, w, event, 1)
	}
}

// RetryDelivery re-attempts a previously failed delivery by id.
func (d *Dispatcher) RetryDelivery(ctx context.Context, deliveryID, caller string) error {
	d.mu.RLock()
	var (
		w   *core.WebhookConfig
		del *core.WebhookDelivery
	)
	for whID, list := range d.deliveries {
		for _, dl := range list {
			if dl.ID == deliveryID {
				if wh, ok := d.webhooks[whID]; ok && wh.Owner == caller {
					w, del = wh, dl
				}
			}
		}
	}
	d.mu.RUnlock()

	if w == nil || del == nil {
		return core.NewError(core.ErrNotFound, "delivery not found")
	}
	if del.Success {
		return core.NewError(core.ErrInvalidRequest, "delivery already succeeded")
	}

	cp := *w
	go d.deliver(ctx, &cp, core.WebhookEvent{ID: del.EventID, TS: time.Now(), Owner: caller}, del.Attempt+1)
	return nil
}

// Deliveries returns the delivery history for webhook id, newest first.
func (d *Dispatcher) Deliveries(id, caller string) ([]*core.WebhookDelivery, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	w, ok := d.webhooks[id]
	if !ok || w.Owner != caller {
		return nil, core.NewError(core.ErrNotFound, "webhook not found")
	}
	list := d.deliveries[id]
	out := make([]*core.WebhookDelivery, len(list))
	for i := range list {
		out[len(list)-1-i] = list[i]
	}
	return out, nil
}

// deliver POSTs event to w.URL with an HMAC-SHA256 signature, retrying up
// to w.Retries times with 2^attempt-second backoff (spec.md §4.6), starting
// at startAttempt (1 for a fresh event, attempt+1 for RetryDelivery).
func (d *Dispatcher) deliver(ctx context.Context, w *core.WebhookConfig, event core.WebhookEvent, startAttempt int) {
	body, err := json.Marshal(event)
	if err != nil {
		d.log.Error("webhook: failed to marshal event", slog.String("error", err.Error()))
		return
	}
	sig := sign(w.Secret, body)

	attempt := startAttempt - 1
	bo := backoff.WithMaxRetries(doublingBackoff(), uint64(w.Retries))

	op := func() error {
		attempt++
		status, respBody, sendErr := d.send(ctx, w, body, sig)
		success := sendErr == nil && status >= 200 && status < 300

		var nextRetry *time.Time
		if !success && attempt <= w.Retries {
			// Mirrors doublingBackoff's deterministic 2^attempt-second
			// schedule (RandomizationFactor is 0) so the in-memory record
			// reflects when backoff.Retry will actually wake up.
			t := time.Now().Add(time.Duration(1<<uint(attempt)) * time.Second)
			nextRetry = &t
		}

		d.recordDelivery(w.ID, core.WebhookDelivery{
			ID:           uuid.NewString(),
			WebhookID:    w.ID,
			EventID:      event.ID,
			Attempt:      attempt,
			TS:           time.Now(),
			Success:      success,
			StatusCode:   status,
			ResponseBody: truncate(respBody, 2048),
			NextRetry:    nextRetry,
		})

		if sendErr != nil {
			return sendErr
		}
		if status >= 200 && status < 300 {
			return nil
		}
		return fmt.Errorf("webhook: endpoint returned status %d", status)
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		d.log.Warn("webhook delivery exhausted retries",
			slog.String("webhook_id", w.ID), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) send(ctx context.Context, w *core.WebhookConfig, body []byte, sig string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", sig)
	for k, v := range w.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	return resp.StatusCode, string(respBody), nil
}

func (d *Dispatcher) recordDelivery(webhookID string, del core.WebhookDelivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if w, ok := d.webhooks[webhookID]; ok {
		w.LastStatus = del.StatusCode
	}
	list := append(d.deliveries[webhookID], &del)
	if len(list) > maxDeliveryHistoryPerWebhook {
		list = list[len(list)-maxDeliveryHistoryPerWebhook:]
	}
	d.deliveries[webhookID] = list
}

// sign computes the hex-encoded HMAC-SHA256 of body under secret — the
// universal Go idiom for webhook signing (no pack example ships a
// dedicated signing library).
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether sig is the correct HMAC-SHA256 signature of body
// under secret, using a constant-time comparison.
func Verify(secret string, body []byte, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(want, mac.Sum(nil))
}

// doublingBackoff yields 2^attempt-second delays, per spec.md §4.6.
func doublingBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 2 * time.Second
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	return eb
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
