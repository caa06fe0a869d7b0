package models

import (
	"time"

	"gorm.io/gorm"
)

// Fighter is a local mirror of an agent registered in the external fighter
// registry, plus the combat record this service keeps for it.
type Fighter struct {
	ID         string  `gorm:"primaryKey;type:uuid" json:"id"`
	ExternalID string  `gorm:"uniqueIndex;not null" json:"external_id"`
	Name       string  `gorm:"not null" json:"name"`
	APIKeyHash string  `gorm:"not null" json:"-"` // bcrypt
	WebhookURL *string `json:"webhook_url,omitempty"`
	IsActive   bool    `gorm:"not null" json:"is_active"`

	// Combat record
	Wins             int64      `gorm:"default:0" json:"wins"`
	Losses           int64      `gorm:"default:0" json:"losses"`
	TotalMatches     int64      `gorm:"default:0" json:"total_matches"`
	TotalDamageDealt int64      `gorm:"default:0" json:"total_damage_dealt"`
	TotalDamageTaken int64      `gorm:"default:0" json:"total_damage_taken"`
	CurrentStreak    int64      `gorm:"default:0" json:"current_streak"` // >0 wins, <0 losses
	BestStreak       int64      `gorm:"default:0" json:"best_streak"`
	LastMatchID      *string    `json:"last_match_id,omitempty"`
	LastMatchAt      *time.Time `json:"last_match_at,omitempty"`

	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
