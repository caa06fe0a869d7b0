// workers/fighter_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"fight-arena/models"
	"fight-arena/services"

	"gorm.io/gorm"
)

// RegistryFighter matches the fighter registry's change feed.
type RegistryFighter struct {
	ExternalID string    `json:"id"`
	Name       string    `json:"name"`
	APIKeyHash string    `json:"api_key_hash"`
	WebhookURL *string   `json:"webhook_url,omitempty"`
	IsActive   bool      `json:"is_active"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type GetFighterChangesResponse struct {
	Fighters []RegistryFighter `json:"fighters"`
}

type FighterSyncWorker struct {
	db           *gorm.DB
	fighters     *services.FighterService
	interval     time.Duration
	baseURL      string // e.g. "http://registry:8600"
	endpointPath string // e.g. "/api/v1/fighters"
	serviceToken string
	httpClient   *http.Client
}

func NewFighterSyncWorker(db *gorm.DB, registryBaseURL, endpointPath, serviceToken string) *FighterSyncWorker {
	return &FighterSyncWorker{
		db:           db,
		fighters:     services.NewFighterService(db),
		interval:     1 * time.Minute,
		baseURL:      registryBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *FighterSyncWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Fighter Sync Worker (registry → fighters)…")
	go w.run(ctx)
}

func (w *FighterSyncWorker) run(ctx context.Context) {
	// Initial backfill
	if _, err := w.SyncOnce(ctx, time.Time{}); err != nil {
		log.Printf("⚠️ [FighterSync] initial sync failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.SyncOnce(ctx, w.lastSyncTime()); err != nil {
				log.Printf("❌ [FighterSync] sync batch failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Fighter Sync Worker stopped")
			return
		}
	}
}

func (w *FighterSyncWorker) lastSyncTime() time.Time {
	var fighter models.Fighter
	err := w.db.Order("updated_at DESC").Select("updated_at").First(&fighter).Error
	if err != nil || fighter.UpdatedAt.IsZero() {
		return time.Unix(0, 0)
	}
	return fighter.UpdatedAt
}

// SyncOnce pulls fighters changed since the given time and upserts them.
func (w *FighterSyncWorker) SyncOnce(ctx context.Context, since time.Time) (int, error) {
	sinceStr := since.UTC().Format(time.RFC3339)

	base, err := url.Parse(w.baseURL)
	if err != nil {
		return 0, fmt.Errorf("invalid registry URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", sinceStr)
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("registry request failed: %w", err)
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("registry returned status %d: %s", resp.StatusCode, string(body))
	}

	var response GetFighterChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return 0, fmt.Errorf("failed to decode registry response: %w", err)
	}
	if len(response.Fighters) == 0 {
		return 0, nil
	}

	local := make([]models.Fighter, 0, len(response.Fighters))
	for _, rf := range response.Fighters {
		if rf.ExternalID == "" || rf.APIKeyHash == "" {
			log.Printf("[FighterSync] ⚠️ skipping registry fighter without id or key hash: %q", rf.ExternalID)
			continue
		}
		name := rf.Name
		if name == "" {
			name = rf.ExternalID
		}
		local = append(local, models.Fighter{
			ExternalID: rf.ExternalID,
			Name:       name,
			APIKeyHash: rf.APIKeyHash,
			WebhookURL: rf.WebhookURL,
			IsActive:   rf.IsActive,
		})
	}

	if err := w.fighters.UpsertFighters(ctx, local); err != nil {
		return 0, fmt.Errorf("upsert %d fighter(s): %w", len(local), err)
	}
	log.Printf("[FighterSync] ✅ Synced %d fighter(s) since %s", len(local), sinceStr)
	return len(local), nil
}
