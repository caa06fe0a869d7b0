package models

import "time"

// CombatResult classifies a resolved turn.
type CombatResult string

const (
	ResultTrade      CombatResult = "TRADE"
	ResultAHit       CombatResult = "A_HIT"
	ResultBHit       CombatResult = "B_HIT"
	ResultABlocked   CombatResult = "A_BLOCKED"
	ResultBBlocked   CombatResult = "B_BLOCKED"
	ResultADodged    CombatResult = "A_DODGED"
	ResultBDodged    CombatResult = "B_DODGED"
	ResultBothDefend CombatResult = "BOTH_DEFEND"
)

// TurnRecord is one resolved turn. Rows are inserted once and never updated;
// the unique index makes a second resolution of the same turn impossible.
type TurnRecord struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	MatchID string `gorm:"type:uuid;not null;uniqueIndex:idx_turn_once,priority:1" json:"match_id"`
	Round   int    `gorm:"not null;uniqueIndex:idx_turn_once,priority:2" json:"round"`
	Turn    int    `gorm:"not null;uniqueIndex:idx_turn_once,priority:3" json:"turn"`

	MoveA   Move   `gorm:"type:varchar(16);not null" json:"move_a"`
	MoveB   Move   `gorm:"type:varchar(16);not null" json:"move_b"`
	CommitA string `gorm:"type:varchar(64);not null" json:"commit_a"`
	CommitB string `gorm:"type:varchar(64);not null" json:"commit_b"`
	SaltA   string `gorm:"type:varchar(256)" json:"salt_a"`
	SaltB   string `gorm:"type:varchar(256)" json:"salt_b"`
	ForcedA bool   `gorm:"not null;default:false" json:"forced_a"`
	ForcedB bool   `gorm:"not null;default:false" json:"forced_b"`

	DamageToA   int          `gorm:"not null" json:"damage_to_a"`
	DamageToB   int          `gorm:"not null" json:"damage_to_b"`
	MeterSpentA int          `gorm:"not null" json:"meter_spent_a"`
	MeterSpentB int          `gorm:"not null" json:"meter_spent_b"`
	Result      CombatResult `gorm:"type:varchar(16);not null" json:"result"`

	// State after the turn, before any round reset
	HPA    int `gorm:"not null" json:"hp_a"`
	HPB    int `gorm:"not null" json:"hp_b"`
	MeterA int `gorm:"not null" json:"meter_a"`
	MeterB int `gorm:"not null" json:"meter_b"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}
