package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MatchSettlement marks a match as handed to settlement. The unique match_id
// is what makes the settlement step idempotent.
type MatchSettlement struct {
	ID            string          `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID       string          `gorm:"type:uuid;uniqueIndex;not null" json:"match_id"`
	WinnerID      string          `gorm:"not null;index" json:"winner_id"`
	LoserID       string          `gorm:"not null;index" json:"loser_id"`
	ForfeitReason *string         `json:"forfeit_reason,omitempty"`
	WagerAmount   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"wager_amount"`
	WagerMetadata datatypes.JSON  `gorm:"type:jsonb" json:"wager_metadata,omitempty"`
	ReplayURL     *string         `json:"replay_url,omitempty"`
	SettledAt     time.Time       `gorm:"autoCreateTime" json:"settled_at"`
}
