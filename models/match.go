// models/match.go
package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MatchPhase is the lifecycle position of a match.
type MatchPhase string

const (
	PhaseWaiting  MatchPhase = "WAITING"
	PhaseCommit   MatchPhase = "COMMIT_PHASE"
	PhaseReveal   MatchPhase = "REVEAL_PHASE"
	PhaseFinished MatchPhase = "FINISHED"
)

// Slot identifies one side of a match.
type Slot string

const (
	SlotA Slot = "A"
	SlotB Slot = "B"
)

// Other returns the opposing slot.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

const (
	MaxHP        = 100
	MaxMeter     = 100
	RoundsToWin  = 2
	StartingTurn = 1
)

// FighterSide is the per-side agent state. It is embedded twice in Match with
// column prefixes a_ and b_.
type FighterSide struct {
	HP          int `gorm:"column:hp;not null;default:100" json:"hp"`
	Meter       int `gorm:"column:meter;not null;default:0" json:"meter"`
	RoundsWon   int `gorm:"column:rounds_won;not null;default:0" json:"rounds_won"`
	RoundDamage int `gorm:"column:round_damage;not null;default:0" json:"round_damage"`
	Missed      int `gorm:"column:missed;not null;default:0" json:"missed"`

	// Per-turn transient fields. Never serialized: the status view decides
	// what a caller may see.
	CommitHash string `gorm:"column:commit_hash;type:varchar(64);not null;default:''" json:"-"`
	Move       Move   `gorm:"column:move;type:varchar(16);not null;default:''" json:"-"`
	Salt       string `gorm:"column:salt;type:varchar(256);not null;default:''" json:"-"`
	AutoMove   Move   `gorm:"column:auto_move;type:varchar(16);not null;default:''" json:"-"`
	AutoSalt   string `gorm:"column:auto_salt;type:varchar(64);not null;default:''" json:"-"`
}

func (s *FighterSide) Committed() bool { return s.CommitHash != "" }
func (s *FighterSide) Revealed() bool  { return s.Move != "" }
func (s *FighterSide) IsAuto() bool    { return s.AutoMove != "" }

// ClearTurn wipes the commit/reveal state of the side.
func (s *FighterSide) ClearTurn() {
	s.CommitHash = ""
	s.Move = ""
	s.Salt = ""
	s.AutoMove = ""
	s.AutoSalt = ""
}

// ResetRound restores hp and meter for a new round.
func (s *FighterSide) ResetRound() {
	s.HP = MaxHP
	s.Meter = 0
	s.RoundDamage = 0
}

// Match is the single shared record of a two-fighter bout. Every mutation goes
// through a conditional update keyed on (phase, round, turn, version).
type Match struct {
	ID         string     `gorm:"primaryKey;type:uuid" json:"id"`
	FighterAID string     `gorm:"column:fighter_a_id;index;not null" json:"fighter_a_id"`
	FighterBID string     `gorm:"column:fighter_b_id;index;not null" json:"fighter_b_id"`
	Phase      MatchPhase `gorm:"type:varchar(16);index;not null" json:"phase"`

	A FighterSide `gorm:"embedded;embeddedPrefix:a_" json:"a"`
	B FighterSide `gorm:"embedded;embeddedPrefix:b_" json:"b"`

	Round int `gorm:"not null;default:1" json:"round"`
	Turn  int `gorm:"not null;default:1" json:"turn"`

	CommitDeadline *time.Time `gorm:"index" json:"commit_deadline,omitempty"`
	RevealDeadline *time.Time `gorm:"index" json:"reveal_deadline,omitempty"`

	Version int64 `gorm:"not null;default:0" json:"version"`

	// Outcome
	WinnerID      *string    `gorm:"index" json:"winner_id,omitempty"`
	ForfeitReason *string    `json:"forfeit_reason,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	SettledAt     *time.Time `gorm:"index" json:"settled_at,omitempty"`

	// Opaque to the engine, handed to settlement as-is
	WagerAmount   decimal.Decimal `gorm:"type:numeric(20,8);not null;default:0" json:"wager_amount"`
	WagerMetadata datatypes.JSON  `gorm:"type:jsonb" json:"wager_metadata,omitempty"`

	History []TurnRecord `gorm:"foreignKey:MatchID" json:"history,omitempty"`

	Timestamps
}

// Side returns a pointer to the state of the given slot.
func (m *Match) Side(s Slot) *FighterSide {
	if s == SlotA {
		return &m.A
	}
	return &m.B
}

// FighterID returns the external fighter id seated in the slot.
func (m *Match) FighterID(s Slot) string {
	if s == SlotA {
		return m.FighterAID
	}
	return m.FighterBID
}

// FighterIDOrEmpty is FighterID that tolerates an empty slot.
func (m *Match) FighterIDOrEmpty(s Slot) string {
	if s == "" {
		return ""
	}
	return m.FighterID(s)
}

// SlotOf reports which slot a fighter occupies.
func (m *Match) SlotOf(fighterID string) (Slot, bool) {
	switch fighterID {
	case m.FighterAID:
		return SlotA, true
	case m.FighterBID:
		return SlotB, true
	}
	return "", false
}

// CurrentDeadline is the deadline of the active phase, nil outside commit/reveal.
func (m *Match) CurrentDeadline() *time.Time {
	switch m.Phase {
	case PhaseCommit:
		return m.CommitDeadline
	case PhaseReveal:
		return m.RevealDeadline
	}
	return nil
}

// IsFinished reports whether the match reached its terminal phase.
func (m *Match) IsFinished() bool {
	return m.Phase == PhaseFinished || m.WinnerID != nil
}
