package models

import (
	"time"

	"gorm.io/datatypes"
)

type EventType string

const (
	EventTurnResult    EventType = "turn_result"
	EventRoundComplete EventType = "round_complete"
	EventMatchComplete EventType = "match_complete"
	EventPhaseChange   EventType = "phase_change"
)

// MatchEvent is an outbound notification. It is written in the same
// transaction as the state change it describes, so each logical occurrence
// produces exactly one row.
type MatchEvent struct {
	ID           string         `gorm:"primaryKey;type:uuid" json:"id"`
	MatchID      string         `gorm:"type:uuid;index;uniqueIndex:idx_event_seq,priority:1;not null" json:"match_id"`
	Seq          int64          `gorm:"not null;uniqueIndex:idx_event_seq,priority:2" json:"seq"` // per-match order, see EventSeq
	Type         EventType      `gorm:"type:varchar(32);not null" json:"type"`
	Round        int            `json:"round"`
	Turn         int            `json:"turn"`
	Payload      datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	DispatchedAt *time.Time     `gorm:"index" json:"dispatched_at,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

// EventsPerWrite bounds how many events a single match write may record.
const EventsPerWrite = 16

// EventSeq orders a match's events. Match writes are serialized by version,
// so version-major numbering is strictly increasing per match even when rows
// share a created_at.
func EventSeq(version int64, i int) int64 {
	return version*EventsPerWrite + int64(i)
}
