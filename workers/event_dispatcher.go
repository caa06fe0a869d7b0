// workers/event_dispatcher.go
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"fight-arena/models"

	"gorm.io/gorm"
)

// EventDispatcher drains the match_events outbox. Each event is claimed with a
// conditional update before it is sent, so it is delivered at most once even
// with several dispatchers running.
type EventDispatcher struct {
	DB         *gorm.DB
	GlobalURL  string // optional, receives every event
	Token      string
	HTTPClient *http.Client
	BatchSize  int
}

func NewEventDispatcher(db *gorm.DB, globalURL, token string, client *http.Client) *EventDispatcher {
	return &EventDispatcher{
		DB:         db,
		GlobalURL:  globalURL,
		Token:      token,
		HTTPClient: client,
		BatchSize:  100,
	}
}

// webhookEnvelope is the POST body sent for each event.
type webhookEnvelope struct {
	ID        string           `json:"id"`
	Type      models.EventType `json:"type"`
	MatchID   string           `json:"match_id"`
	Seq       int64            `json:"seq"`
	Round     int              `json:"round"`
	Turn      int              `json:"turn"`
	Payload   json.RawMessage  `json:"payload"`
	CreatedAt time.Time        `json:"created_at"`
}

// PollEvents dispatches pending events every pollInterval until ctx is done.
func (d *EventDispatcher) PollEvents(ctx context.Context, pollInterval time.Duration) {
	log.Println("📣 Starting match event dispatcher (outbox → webhooks)...")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Event dispatcher stopped.")
			return
		case <-ticker.C:
			if _, err := d.DispatchPending(ctx); err != nil {
				log.Printf("❌ [Dispatcher] %v", err)
			}
		}
	}
}

// DispatchPending claims and delivers one batch. It returns how many events
// this dispatcher claimed.
func (d *EventDispatcher) DispatchPending(ctx context.Context) (int, error) {
	var pending []models.MatchEvent
	if err := d.DB.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("created_at ASC, match_id ASC, seq ASC").
		Limit(d.BatchSize).
		Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("load pending events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	targets := d.webhookTargets(ctx, pending)
	claimed := 0
	for _, ev := range pending {
		now := time.Now().UTC()
		res := d.DB.WithContext(ctx).Model(&models.MatchEvent{}).
			Where("id = ? AND dispatched_at IS NULL", ev.ID).
			Update("dispatched_at", now)
		if res.Error != nil {
			log.Printf("❌ [Dispatcher] claim %s: %v", ev.ID, res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			continue // another dispatcher has it
		}
		claimed++

		for _, u := range targets[ev.MatchID] {
			if err := d.post(ctx, u, ev); err != nil {
				log.Printf("⚠️ [Dispatcher] %s %s → %s failed, not retried: %v", ev.Type, ev.ID, u, err)
			}
		}
	}
	log.Printf("📣 [Dispatcher] dispatched %d/%d event(s)", claimed, len(pending))
	return claimed, nil
}

// webhookTargets resolves the URLs interested in each match: the global URL
// plus the webhook of each seated fighter that has one.
func (d *EventDispatcher) webhookTargets(ctx context.Context, events []models.MatchEvent) map[string][]string {
	matchIDs := make([]string, 0, len(events))
	seen := map[string]bool{}
	for _, ev := range events {
		if !seen[ev.MatchID] {
			seen[ev.MatchID] = true
			matchIDs = append(matchIDs, ev.MatchID)
		}
	}

	var matches []models.Match
	if err := d.DB.WithContext(ctx).Select("id", "fighter_a_id", "fighter_b_id").
		Where("id IN ?", matchIDs).Find(&matches).Error; err != nil {
		log.Printf("❌ [Dispatcher] load matches: %v", err)
	}
	fighterIDs := make([]string, 0, 2*len(matches))
	for _, m := range matches {
		fighterIDs = append(fighterIDs, m.FighterAID, m.FighterBID)
	}
	hooks := map[string]string{}
	if len(fighterIDs) > 0 {
		var fighters []models.Fighter
		if err := d.DB.WithContext(ctx).Select("external_id", "webhook_url").
			Where("external_id IN ? AND webhook_url IS NOT NULL", fighterIDs).
			Find(&fighters).Error; err != nil {
			log.Printf("❌ [Dispatcher] load fighter webhooks: %v", err)
		}
		for _, f := range fighters {
			if f.WebhookURL != nil && *f.WebhookURL != "" {
				hooks[f.ExternalID] = *f.WebhookURL
			}
		}
	}

	targets := map[string][]string{}
	for _, id := range matchIDs {
		if d.GlobalURL != "" {
			targets[id] = append(targets[id], d.GlobalURL)
		}
	}
	for _, m := range matches {
		for _, fid := range []string{m.FighterAID, m.FighterBID} {
			if u, ok := hooks[fid]; ok {
				targets[m.ID] = append(targets[m.ID], u)
			}
		}
	}
	return targets
}

func (d *EventDispatcher) post(ctx context.Context, target string, ev models.MatchEvent) error {
	body, err := json.Marshal(webhookEnvelope{
		ID:        ev.ID,
		Type:      ev.Type,
		MatchID:   ev.MatchID,
		Seq:       ev.Seq,
		Round:     ev.Round,
		Turn:      ev.Turn,
		Payload:   json.RawMessage(ev.Payload),
		CreatedAt: ev.CreatedAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Event-Type", string(ev.Type))
	if d.Token != "" {
		req.Header.Set("X-Service-Token", d.Token)
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
