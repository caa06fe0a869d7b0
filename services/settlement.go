// services/settlement.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"fight-arena/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReplayArchiver stores a finished match replay and returns its URL.
type ReplayArchiver interface {
	ArchiveReplay(ctx context.Context, key string, body []byte) (string, error)
}

// ArchiveFunc adapts a plain upload function to ReplayArchiver.
type ArchiveFunc func(ctx context.Context, key string, body []byte) (string, error)

func (f ArchiveFunc) ArchiveReplay(ctx context.Context, key string, body []byte) (string, error) {
	return f(ctx, key, body)
}

// LedgerSettler records the settlement row, updates both fighters' combat
// records and archives the replay. Only the call that inserts the settlement
// row does any of that; later calls for the same match return nil.
type LedgerSettler struct {
	DB      *gorm.DB
	Archive ReplayArchiver
}

type damageTotals struct {
	ToA int64
	ToB int64
}

// Replay is the archived form of a finished match.
type Replay struct {
	Match   models.Match        `json:"match"`
	Turns   []models.TurnRecord `json:"turns"`
	Settled MatchCompletion     `json:"settlement"`
}

func (l *LedgerSettler) Settle(ctx context.Context, c MatchCompletion) error {
	now := time.Now().UTC()
	inserted := false

	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := models.MatchSettlement{
			ID:            uuid.NewString(),
			MatchID:       c.MatchID,
			WinnerID:      c.WinnerID,
			LoserID:       c.LoserID,
			ForfeitReason: c.ForfeitReason,
			WagerAmount:   c.WagerAmount,
			WagerMetadata: c.WagerMetadata,
		}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "match_id"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("insert settlement: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Already settled; make sure the match says so too.
			return tx.Model(&models.Match{}).
				Where("id = ? AND settled_at IS NULL", c.MatchID).
				Update("settled_at", now).Error
		}
		inserted = true

		var dmg damageTotals
		if err := tx.Model(&models.TurnRecord{}).
			Select("COALESCE(SUM(damage_to_a), 0) AS to_a, COALESCE(SUM(damage_to_b), 0) AS to_b").
			Where("match_id = ?", c.MatchID).
			Scan(&dmg).Error; err != nil {
			return fmt.Errorf("sum damage: %w", err)
		}

		var m models.Match
		if err := tx.Select("id", "fighter_a_id", "fighter_b_id").First(&m, "id = ?", c.MatchID).Error; err != nil {
			return fmt.Errorf("load match: %w", err)
		}
		dealtBy := map[string]int64{m.FighterAID: dmg.ToB, m.FighterBID: dmg.ToA}
		takenBy := map[string]int64{m.FighterAID: dmg.ToA, m.FighterBID: dmg.ToB}

		if err := recordResult(tx, c.WinnerID, true, dealtBy[c.WinnerID], takenBy[c.WinnerID], c.MatchID, now); err != nil {
			return err
		}
		if err := recordResult(tx, c.LoserID, false, dealtBy[c.LoserID], takenBy[c.LoserID], c.MatchID, now); err != nil {
			return err
		}

		return tx.Model(&models.Match{}).
			Where("id = ? AND settled_at IS NULL", c.MatchID).
			Update("settled_at", now).Error
	})
	if err != nil {
		return err
	}
	if !inserted {
		log.Printf("[Settlement] match %s already settled, skipping", c.MatchID)
		return nil
	}
	log.Printf("🏆 [Settlement] match %s settled: winner %s, loser %s", c.MatchID, c.WinnerID, c.LoserID)

	if l.Archive != nil {
		l.archive(ctx, c)
	}
	return nil
}

// recordResult bumps one fighter's combat record. Streaks are positive for
// consecutive wins and negative for consecutive losses.
func recordResult(tx *gorm.DB, fighterID string, won bool, dealt, taken int64, matchID string, at time.Time) error {
	updates := map[string]interface{}{
		"total_matches":      gorm.Expr("total_matches + 1"),
		"total_damage_dealt": gorm.Expr("total_damage_dealt + ?", dealt),
		"total_damage_taken": gorm.Expr("total_damage_taken + ?", taken),
		"last_match_id":      matchID,
		"last_match_at":      at,
	}
	if won {
		updates["wins"] = gorm.Expr("wins + 1")
		updates["current_streak"] = gorm.Expr("CASE WHEN current_streak > 0 THEN current_streak + 1 ELSE 1 END")
		updates["best_streak"] = gorm.Expr(
			"CASE WHEN current_streak > 0 AND current_streak + 1 > best_streak THEN current_streak + 1 " +
				"WHEN current_streak <= 0 AND best_streak < 1 THEN 1 ELSE best_streak END")
	} else {
		updates["losses"] = gorm.Expr("losses + 1")
		updates["current_streak"] = gorm.Expr("CASE WHEN current_streak < 0 THEN current_streak - 1 ELSE -1 END")
	}
	res := tx.Model(&models.Fighter{}).Where("external_id = ?", fighterID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update record for %s: %w", fighterID, res.Error)
	}
	if res.RowsAffected == 0 {
		log.Printf("⚠️  [Settlement] fighter %s not mirrored locally, record not updated", fighterID)
	}
	return nil
}

// ReplayKey is the object key for a match replay.
func ReplayKey(c MatchCompletion) string {
	day := c.FinishedAt
	if day.IsZero() {
		day = time.Now().UTC()
	}
	return fmt.Sprintf("replays/%s/%s-vs-%s-%s.json",
		day.Format("2006-01-02"), slug.Make(c.WinnerID), slug.Make(c.LoserID), c.MatchID)
}

// archive uploads the replay. Failures are logged only: the settlement row is
// already committed and the replay can be rebuilt from turn_records.
func (l *LedgerSettler) archive(ctx context.Context, c MatchCompletion) {
	var m models.Match
	if err := l.DB.WithContext(ctx).Preload("History", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).First(&m, "id = ?", c.MatchID).Error; err != nil {
		log.Printf("❌ [Settlement] load replay for %s: %v", c.MatchID, err)
		return
	}
	turns := m.History
	m.History = nil
	body, err := json.Marshal(Replay{Match: m, Turns: turns, Settled: c})
	if err != nil {
		log.Printf("❌ [Settlement] encode replay for %s: %v", c.MatchID, err)
		return
	}
	url, err := l.Archive.ArchiveReplay(ctx, ReplayKey(c), body)
	if err != nil {
		log.Printf("❌ [Settlement] archive replay for %s: %v", c.MatchID, err)
		return
	}
	if err := l.DB.WithContext(ctx).Model(&models.MatchSettlement{}).
		Where("match_id = ?", c.MatchID).
		Update("replay_url", url).Error; err != nil {
		log.Printf("❌ [Settlement] save replay url for %s: %v", c.MatchID, err)
		return
	}
	log.Printf("📼 [Settlement] replay for %s archived at %s", c.MatchID, url)
}
