package services

import (
	"time"

	"fight-arena/models"
)

// turnResolution is the in-memory result of resolving the current turn. The
// match passed to resolveTurn has already been advanced to the next state.
type turnResolution struct {
	Record      models.TurnRecord
	Outcome     Outcome
	RoundOver   bool
	RoundWinner models.Slot // empty on a drawn double knockout
	MatchOver   bool
	events      []models.MatchEvent
}

func (r *turnResolution) write(g casGuard, m *models.Match) matchWrite {
	return matchWrite{guard: g, next: m, turn: &r.Record, events: r.events, finishing: r.MatchOver}
}

// resolveTurn applies both revealed moves and advances the match: next turn,
// next round, or finished. Both sides must have a revealed move. Nothing is
// persisted here; the caller writes the result under its CAS guard.
func (s *MatchService) resolveTurn(m *models.Match, now time.Time) *turnResolution {
	a, b := &m.A, &m.B
	a.Meter = AccrueMeter(a.Meter)
	b.Meter = AccrueMeter(b.Meter)

	out := Resolve(a.Move, b.Move, a.Meter, b.Meter, s.Roller)
	a.Meter -= out.MeterSpentA
	b.Meter -= out.MeterSpentB
	a.HP = clampHP(a.HP - out.DamageToA)
	b.HP = clampHP(b.HP - out.DamageToB)
	// Raw damage, so a double knockout can still be told apart.
	a.RoundDamage += out.DamageToB
	b.RoundDamage += out.DamageToA

	res := &turnResolution{
		Outcome: out,
		Record: models.TurnRecord{
			MatchID:     m.ID,
			Round:       m.Round,
			Turn:        m.Turn,
			MoveA:       a.Move,
			MoveB:       b.Move,
			CommitA:     a.CommitHash,
			CommitB:     b.CommitHash,
			SaltA:       a.Salt,
			SaltB:       b.Salt,
			ForcedA:     a.IsAuto(),
			ForcedB:     b.IsAuto(),
			DamageToA:   out.DamageToA,
			DamageToB:   out.DamageToB,
			MeterSpentA: out.MeterSpentA,
			MeterSpentB: out.MeterSpentB,
			Result:      out.Result,
			HPA:         a.HP,
			HPB:         b.HP,
			MeterA:      a.Meter,
			MeterB:      b.Meter,
		},
	}
	res.events = append(res.events, newEvent(m, models.EventTurnResult, map[string]interface{}{
		"match_id": m.ID,
		"round":    m.Round,
		"turn":     m.Turn,
		"record":   res.Record,
		"outcome":  out,
	}))

	if a.HP > 0 && b.HP > 0 {
		m.Turn++
		s.openCommitPhase(m, now, res)
		return res
	}

	res.RoundOver = true
	res.RoundWinner = roundWinner(a, b)
	if res.RoundWinner != "" {
		m.Side(res.RoundWinner).RoundsWon++
	}
	res.events = append(res.events, newEvent(m, models.EventRoundComplete, map[string]interface{}{
		"match_id":     m.ID,
		"round":        m.Round,
		"round_winner": m.FighterIDOrEmpty(res.RoundWinner),
		"rounds_won_a": a.RoundsWon,
		"rounds_won_b": b.RoundsWon,
	}))

	if res.RoundWinner != "" && m.Side(res.RoundWinner).RoundsWon >= models.RoundsToWin {
		res.MatchOver = true
		res.events = append(res.events, s.Completion.finish(m, res.RoundWinner, nil, now)...)
		return res
	}

	a.ResetRound()
	b.ResetRound()
	m.Round++
	m.Turn = models.StartingTurn
	s.openCommitPhase(m, now, res)
	return res
}

func (s *MatchService) openCommitPhase(m *models.Match, now time.Time, res *turnResolution) {
	m.A.ClearTurn()
	m.B.ClearTurn()
	deadline := now.Add(s.Config.CommitWindow)
	m.Phase = models.PhaseCommit
	m.CommitDeadline = &deadline
	m.RevealDeadline = nil
	res.events = append(res.events, phaseChangeEvent(m))
}

// roundWinner decides a finished round. On a double knockout the side that
// dealt more damage this round takes it; an exact tie awards nobody.
func roundWinner(a, b *models.FighterSide) models.Slot {
	switch {
	case a.HP > 0:
		return models.SlotA
	case b.HP > 0:
		return models.SlotB
	case a.RoundDamage > b.RoundDamage:
		return models.SlotA
	case b.RoundDamage > a.RoundDamage:
		return models.SlotB
	}
	return ""
}

func clampHP(hp int) int {
	if hp < 0 {
		return 0
	}
	if hp > models.MaxHP {
		return models.MaxHP
	}
	return hp
}
