package models

import "strings"

// Move is one of the nine combat actions a fighter can commit to.
type Move string

const (
	MoveHighStrike Move = "HIGH_STRIKE"
	MoveMidStrike  Move = "MID_STRIKE"
	MoveLowStrike  Move = "LOW_STRIKE"
	MoveGuardHigh  Move = "GUARD_HIGH"
	MoveGuardMid   Move = "GUARD_MID"
	MoveGuardLow   Move = "GUARD_LOW"
	MoveDodge      Move = "DODGE"
	MoveCatch      Move = "CATCH"
	MoveSpecial    Move = "SPECIAL"
)

// AllMoves lists every valid move.
var AllMoves = []Move{
	MoveHighStrike, MoveMidStrike, MoveLowStrike,
	MoveGuardHigh, MoveGuardMid, MoveGuardLow,
	MoveDodge, MoveCatch, MoveSpecial,
}

// SafeMoves is the pool the monitor draws from when a fighter misses a
// deadline. CATCH and SPECIAL are situational and stay out.
var SafeMoves = []Move{
	MoveHighStrike, MoveMidStrike, MoveLowStrike,
	MoveGuardHigh, MoveGuardMid, MoveGuardLow,
	MoveDodge,
}

// ParseMove accepts a move name case-insensitively.
func ParseMove(s string) (Move, bool) {
	m := Move(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range AllMoves {
		if v == m {
			return m, true
		}
	}
	return "", false
}

func (m Move) IsStrike() bool {
	return m == MoveHighStrike || m == MoveMidStrike || m == MoveLowStrike
}

func (m Move) IsGuard() bool {
	return m == MoveGuardHigh || m == MoveGuardMid || m == MoveGuardLow
}

// Blocks reports whether the guard m stops the strike s.
func (m Move) Blocks(s Move) bool {
	switch m {
	case MoveGuardHigh:
		return s == MoveHighStrike
	case MoveGuardMid:
		return s == MoveMidStrike
	case MoveGuardLow:
		return s == MoveLowStrike
	}
	return false
}
