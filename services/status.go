package services

import (
	"math"
	"time"

	"fight-arena/models"
)

// SideView is the public state of one slot. Moves and hashes never appear
// here; resolved moves are only visible through the turn history.
type SideView struct {
	FighterID string `json:"fighter_id"`
	HP        int    `json:"hp"`
	Meter     int    `json:"meter"`
	RoundsWon int    `json:"rounds_won"`
	Committed bool   `json:"committed"`
	Revealed  bool   `json:"revealed"`
	Auto      bool   `json:"auto"`
	Missed    int    `json:"missed"`
}

// ViewerView is what only the authenticated caller sees about itself.
type ViewerView struct {
	FighterID string      `json:"fighter_id"`
	Slot      models.Slot `json:"slot"`
	Committed bool        `json:"committed"`
	Revealed  bool        `json:"revealed"`
	Move      models.Move `json:"move,omitempty"`
}

type StatusView struct {
	MatchID          string             `json:"match_id"`
	Phase            models.MatchPhase  `json:"phase"`
	Round            int                `json:"round"`
	Turn             int                `json:"turn"`
	A                SideView           `json:"a"`
	B                SideView           `json:"b"`
	Awaiting         []string           `json:"awaiting"`
	Deadline         *time.Time         `json:"deadline,omitempty"`
	RemainingSeconds int                `json:"remaining_seconds"`
	You              *ViewerView        `json:"you,omitempty"`
	LastTurn         *models.TurnRecord `json:"last_turn,omitempty"`
	WinnerID         *string            `json:"winner_id,omitempty"`
	ForfeitReason    *string            `json:"forfeit_reason,omitempty"`
	FinishedAt       *time.Time         `json:"finished_at,omitempty"`
}

func sideView(id string, sd *models.FighterSide) SideView {
	return SideView{
		FighterID: id,
		HP:        sd.HP,
		Meter:     sd.Meter,
		RoundsWon: sd.RoundsWon,
		Committed: sd.Committed(),
		Revealed:  sd.Revealed(),
		Auto:      sd.IsAuto(),
		Missed:    sd.Missed,
	}
}

// buildStatus renders the polling view. viewer is empty for anonymous callers.
func buildStatus(m *models.Match, viewer models.Slot, now time.Time, last *models.TurnRecord) *StatusView {
	v := &StatusView{
		MatchID:       m.ID,
		Phase:         m.Phase,
		Round:         m.Round,
		Turn:          m.Turn,
		A:             sideView(m.FighterAID, &m.A),
		B:             sideView(m.FighterBID, &m.B),
		Awaiting:      []string{},
		Deadline:      m.CurrentDeadline(),
		LastTurn:      last,
		WinnerID:      m.WinnerID,
		ForfeitReason: m.ForfeitReason,
		FinishedAt:    m.FinishedAt,
	}
	if v.Deadline != nil {
		if left := v.Deadline.Sub(now).Seconds(); left > 0 {
			v.RemainingSeconds = int(math.Ceil(left))
		}
	}

	for _, slot := range []models.Slot{models.SlotA, models.SlotB} {
		sd := m.Side(slot)
		switch m.Phase {
		case models.PhaseCommit:
			if !sd.Committed() {
				v.Awaiting = append(v.Awaiting, m.FighterID(slot))
			}
		case models.PhaseReveal:
			if !sd.Revealed() && !sd.IsAuto() {
				v.Awaiting = append(v.Awaiting, m.FighterID(slot))
			}
		}
	}

	if viewer != "" {
		sd := m.Side(viewer)
		v.You = &ViewerView{
			FighterID: m.FighterID(viewer),
			Slot:      viewer,
			Committed: sd.Committed(),
			Revealed:  sd.Revealed(),
			Move:      sd.Move,
		}
	}
	return v
}
