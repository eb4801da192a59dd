package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"agentline/internal/config"
	"agentline/internal/domain"
	"agentline/internal/engine"
	"agentline/internal/observability"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

type cursorKey struct {
	hook    int
	project domain.ProjectID
}

// WebhookDispatcher polls the event log and POSTs new events to each
// configured hook. A failed delivery leaves the cursor in place so the next
// tick retries it.
type WebhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	Interval time.Duration

	mu      sync.Mutex
	cursors map[cursorKey]int64
	// primed is set once a tick has initialised every cursor it saw. Projects
	// first seen after that start from the beginning of their log.
	primed bool
}

func NewWebhookDispatcher(e engine.Engine, hooks []config.WebhookConfig) *WebhookDispatcher {
	return &WebhookDispatcher{
		engine:   e,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		Interval: defaultWebhookInterval,
		cursors:  make(map[cursorKey]int64),
	}
}

// Run dispatches until ctx is done. It returns at once when no hook is active.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	active := false
	for _, hook := range d.webhooks {
		active = active || hook.Active()
	}
	if !active {
		return
	}
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers every pending event to every active hook.
func (d *WebhookDispatcher) DispatchOnce(ctx context.Context) {
	complete := true
	defer func() {
		if complete {
			d.mu.Lock()
			d.primed = true
			d.mu.Unlock()
		}
	}()
	for i, hook := range d.webhooks {
		if !hook.Active() {
			continue
		}
		projects, err := d.projectsFor(ctx, hook)
		if err != nil {
			observability.LoggerFromContext(ctx).Error("webhook: list projects failed", "url", hook.URL, "error", err)
			complete = false
			continue
		}
		for _, projectID := range projects {
			if !d.dispatchWebhook(ctx, i, hook, projectID) {
				complete = false
			}
		}
	}
}

func (d *WebhookDispatcher) projectsFor(ctx context.Context, hook config.WebhookConfig) ([]domain.ProjectID, error) {
	if p := strings.TrimSpace(hook.Project); p != "" {
		return []domain.ProjectID{domain.ProjectID(p)}, nil
	}
	list, err := d.engine.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProjectID, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out, nil
}

// dispatchWebhook reports false when the cursor for the pair could not be
// initialised.
func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig, projectID domain.ProjectID) bool {
	log := observability.LoggerFromContext(ctx).With("url", hook.URL, "project_id", projectID)
	key := cursorKey{hook: idx, project: projectID}
	cursor, err := d.cursorFor(ctx, key)
	if err != nil {
		log.Error("webhook: init cursor failed", "error", err)
		return false
	}
	events, err := d.engine.Events().ListByProject(ctx, projectID, cursor, defaultWebhookBatch)
	if err != nil {
		log.Error("webhook: fetch events failed", "error", err)
		return true
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range events {
		if !filter.match(string(evt.EventType)) {
			d.setCursor(key, evt.Seq)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			log.Warn("webhook: delivery failed", "seq", evt.Seq, "error", err)
			return true
		}
		d.setCursor(key, evt.Seq)
	}
	return true
}

// cursorFor returns the stored cursor for key. Until the dispatcher is primed
// a new cursor starts at the current end of the log so that history is not
// replayed on startup; afterwards a new project starts at zero.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, key cursorKey) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[key]; ok {
		return cur, nil
	}
	var cur int64
	if !d.primed {
		var err error
		if cur, err = d.engine.Events().LatestSeq(ctx, key.project); err != nil {
			return 0, err
		}
	}
	d.cursors[key] = cur
	return cur, nil
}

func (d *WebhookDispatcher) setCursor(key cursorKey, value int64) {
	d.mu.Lock()
	d.cursors[key] = value
	d.mu.Unlock()
}

// Sign returns the hex HMAC-SHA256 of body under secret, as sent in
// X-Agentline-Signature with a "sha256=" prefix.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.StateChangeEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout, Transport: d.client.Transport}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agentline-Event", string(evt.EntityType)+"."+string(evt.EventType))
	req.Header.Set("X-Agentline-Delivery", string(evt.ID))
	req.Header.Set("X-Agentline-Project", string(evt.ProjectID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Agentline-Signature", "sha256="+Sign(hook.Secret, data))
	}
	res, err := client.Do(req)
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
