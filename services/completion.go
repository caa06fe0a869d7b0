// services/completion.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fight-arena/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MatchCompletion is what downstream settlement receives for a finished match.
type MatchCompletion struct {
	MatchID       string          `json:"match_id"`
	WinnerID      string          `json:"winner_id"`
	LoserID       string          `json:"loser_id"`
	ForfeitReason *string         `json:"forfeit_reason,omitempty"`
	WagerAmount   decimal.Decimal `json:"wager_amount"`
	WagerMetadata datatypes.JSON  `json:"wager_metadata,omitempty"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Settler performs the downstream effects of a finished match. The coordinator
// calls it until one call succeeds and then marks the match settled. A failed
// call is retried, so implementations should tolerate a repeat of a call that
// failed part way.
type Settler interface {
	Settle(ctx context.Context, c MatchCompletion) error
}

// CompletionCoordinator is the single path that declares a winner and hands
// the match to settlement.
type CompletionCoordinator struct {
	DB      *gorm.DB
	Settler Settler
}

func NewCompletionCoordinator(db *gorm.DB, settler Settler) *CompletionCoordinator {
	return &CompletionCoordinator{DB: db, Settler: settler}
}

// finish moves m into FINISHED in memory and returns the outbox events for it.
// The caller persists both under a guard that also requires winner_id IS NULL.
func (c *CompletionCoordinator) finish(m *models.Match, winner models.Slot, reason *string, now time.Time) []models.MatchEvent {
	winnerID := m.FighterID(winner)
	m.Phase = models.PhaseFinished
	m.WinnerID = &winnerID
	m.ForfeitReason = reason
	m.FinishedAt = &now
	m.CommitDeadline = nil
	m.RevealDeadline = nil
	m.A.ClearTurn()
	m.B.ClearTurn()

	payload := map[string]interface{}{
		"match_id":     m.ID,
		"winner_id":    winnerID,
		"loser_id":     m.FighterID(winner.Other()),
		"rounds_won_a": m.A.RoundsWon,
		"rounds_won_b": m.B.RoundsWon,
		"finished_at":  now,
	}
	if reason != nil {
		payload["forfeit_reason"] = *reason
	}
	return []models.MatchEvent{
		newEvent(m, models.EventMatchComplete, payload),
		phaseChangeEvent(m),
	}
}

func completionOf(m *models.Match) (MatchCompletion, error) {
	if m.WinnerID == nil {
		return MatchCompletion{}, fmt.Errorf("match %s has no winner", m.ID)
	}
	slot, ok := m.SlotOf(*m.WinnerID)
	if !ok {
		return MatchCompletion{}, fmt.Errorf("match %s winner %s is not seated", m.ID, *m.WinnerID)
	}
	c := MatchCompletion{
		MatchID:       m.ID,
		WinnerID:      *m.WinnerID,
		LoserID:       m.FighterID(slot.Other()),
		ForfeitReason: m.ForfeitReason,
		WagerAmount:   m.WagerAmount,
		WagerMetadata: m.WagerMetadata,
	}
	if m.FinishedAt != nil {
		c.FinishedAt = *m.FinishedAt
	}
	return c, nil
}

// Settle hands a finished match to the settler and marks it settled. A match
// whose settled_at is already set is not handed over again. Failures are
// logged and left for the monitor sweep, which retries matches whose
// settled_at is still NULL.
func (c *CompletionCoordinator) Settle(ctx context.Context, m *models.Match) error {
	if c.Settler == nil || m.SettledAt != nil {
		return nil
	}
	mc, err := completionOf(m)
	if err != nil {
		log.Printf("❌ [Completion] %v", err)
		return err
	}
	if err := c.Settler.Settle(ctx, mc); err != nil {
		log.Printf("❌ [Completion] settlement of %s failed, will retry: %v", m.ID, err)
		return err
	}

	now := time.Now().UTC()
	if c.DB != nil {
		if err := c.DB.WithContext(ctx).Model(&models.Match{}).
			Where("id = ? AND settled_at IS NULL", m.ID).
			Update("settled_at", now).Error; err != nil {
			log.Printf("❌ [Completion] mark %s settled: %v", m.ID, err)
			return err
		}
	}
	m.SettledAt = &now
	return nil
}

// Complete is the public entry point for declaring settlement of a finished
// match. Calling it again for the same match is a no-op downstream.
func (c *CompletionCoordinator) Complete(ctx context.Context, matchID, winnerID string) (*models.Match, error) {
	if _, err := uuid.Parse(matchID); err != nil {
		return nil, &NotFoundError{What: "match", ID: matchID}
	}
	var m models.Match
	if err := c.DB.WithContext(ctx).First(&m, "id = ?", matchID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{What: "match", ID: matchID}
		}
		return nil, storageErr("load match", err)
	}
	if !m.IsFinished() || m.WinnerID == nil {
		return nil, &PhaseError{Reason: ReasonWrongPhase, Hint: "match is not finished", Phase: string(m.Phase)}
	}
	if winnerID != "" && winnerID != *m.WinnerID {
		return nil, &ValidationError{Hint: "winner_id does not match the recorded winner"}
	}
	if err := c.Settle(ctx, &m); err != nil {
		return nil, storageErr("settle match", err)
	}
	return &m, nil
}
