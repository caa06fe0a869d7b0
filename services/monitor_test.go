package services

import (
	"context"
	"errors"
	"testing"

	"fight-arena/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingSettler always fails, leaving settled_at NULL.
type failingSettler struct{}

func (failingSettler) Settle(context.Context, MatchCompletion) error {
	return errors.New("ledger unavailable")
}

func (e *engine) expireCommit() {
	e.clock.Advance(DefaultEngineConfig.CommitWindow + DefaultEngineConfig.TimeoutGrace)
}

func (e *engine) expireReveal() {
	e.clock.Advance(DefaultEngineConfig.RevealWindow + DefaultEngineConfig.TimeoutGrace)
}

func (e *engine) sweep(t *testing.T) SweepReport {
	t.Helper()
	report, err := e.monitor.Sweep(context.Background())
	require.NoError(t, err)
	return report
}

func TestSweep_NothingDueBeforeGraceElapses(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)

	e.clock.Advance(DefaultEngineConfig.CommitWindow + DefaultEngineConfig.TimeoutGrace - 1)
	report := e.sweep(t)
	assert.Equal(t, 0, report.Scanned)
	assert.Equal(t, models.PhaseCommit, e.load(t, m.ID).Phase)
}

func TestSweep_BothMissedCommitIsNotCharged(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)

	e.expireCommit()
	report := e.sweep(t)
	assert.Equal(t, 1, report.Advanced)

	got := e.load(t, m.ID)
	assert.Equal(t, models.PhaseReveal, got.Phase)
	require.NotNil(t, got.RevealDeadline)
	assert.True(t, got.RevealDeadline.Equal(e.clock.Now().Add(DefaultEngineConfig.RevealWindow)))
	assert.Equal(t, 0, got.A.Missed)
	assert.Equal(t, 0, got.B.Missed)
	for _, sd := range []models.FighterSide{got.A, got.B} {
		assert.True(t, sd.IsAuto())
		assert.Contains(t, models.SafeMoves, sd.AutoMove)
		assert.True(t, VerifyCommitment(sd.CommitHash, string(sd.AutoMove), sd.AutoSalt))
		assert.False(t, sd.Revealed())
	}

	// Auto moves stay hidden until the turn resolves.
	view, err := e.svc.GetStatus(context.Background(), m.ID, "", "")
	require.NoError(t, err)
	assert.Empty(t, view.Awaiting)

	e.expireReveal()
	report = e.sweep(t)
	assert.Equal(t, 1, report.Resolved)

	history, err := e.svc.GetHistory(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].ForcedA)
	assert.True(t, history[0].ForcedB)
	assert.Equal(t, got.A.AutoMove, history[0].MoveA)

	got = e.load(t, m.ID)
	assert.Equal(t, models.PhaseCommit, got.Phase)
	assert.Equal(t, 2, got.Turn)
	assert.Equal(t, 0, got.A.Missed)
}

func TestSweep_RepeatedCommitMissesForfeit(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)

	for miss := 1; miss <= DefaultEngineConfig.ForfeitThreshold; miss++ {
		e.commit(t, m.ID, fighterB, models.MoveGuardHigh, "b-salt")
		e.expireCommit()
		report := e.sweep(t)
		got := e.load(t, m.ID)

		if miss < DefaultEngineConfig.ForfeitThreshold {
			assert.Equal(t, 1, report.Advanced)
			assert.Equal(t, models.PhaseReveal, got.Phase)
			assert.Equal(t, miss, got.A.Missed)
			assert.Equal(t, 0, got.B.Missed)

			res := e.reveal(t, m.ID, fighterB, models.MoveGuardHigh, "b-salt")
			assert.Equal(t, StatusResolved, res.Status)
			assert.True(t, res.Turn.ForcedA)
			assert.False(t, res.Turn.ForcedB)
			continue
		}

		assert.Equal(t, 1, report.Forfeited)
		assert.Equal(t, models.PhaseFinished, got.Phase)
		require.NotNil(t, got.WinnerID)
		assert.Equal(t, fighterB, *got.WinnerID)
		require.NotNil(t, got.ForfeitReason)
		assert.Equal(t, ForfeitCommitTimeout, *got.ForfeitReason)
		assert.NotNil(t, got.SettledAt)
	}

	// The forfeited turn never reached the reveal phase.
	assert.Equal(t, int64(DefaultEngineConfig.ForfeitThreshold-1), e.turnCount(t, m.ID))
	var phaseChanges []models.MatchEvent
	require.NoError(t, e.db.Where("match_id = ? AND type = ? AND turn = ?", m.ID, models.EventPhaseChange, 3).
		Find(&phaseChanges).Error)
	for _, ev := range phaseChanges {
		assert.NotContains(t, string(ev.Payload), string(models.PhaseReveal))
	}

	var settlement models.MatchSettlement
	require.NoError(t, e.db.Where("match_id = ?", m.ID).First(&settlement).Error)
	assert.Equal(t, fighterB, settlement.WinnerID)
	assert.Equal(t, fighterA, settlement.LoserID)
}

func TestSweep_OnlyRevealResetsMissCounter(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)

	e.commit(t, m.ID, fighterB, models.MoveDodge, "b")
	e.expireCommit()
	e.sweep(t)
	require.Equal(t, 1, e.load(t, m.ID).A.Missed)
	e.reveal(t, m.ID, fighterB, models.MoveDodge, "b")

	e.commit(t, m.ID, fighterA, models.MoveLowStrike, "a")
	assert.Equal(t, 1, e.load(t, m.ID).A.Missed)

	e.commit(t, m.ID, fighterB, models.MoveGuardLow, "b2")
	e.reveal(t, m.ID, fighterA, models.MoveLowStrike, "a")
	assert.Equal(t, 0, e.load(t, m.ID).A.Missed)
}

func TestSweep_CommitTimeoutClearsOnTimeCommitter(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)
	require.NoError(t, e.db.Model(&models.Match{}).Where("id = ?", m.ID).
		Update("b_missed", 2).Error)

	e.commit(t, m.ID, fighterB, models.MoveGuardHigh, "b")
	e.expireCommit()
	e.sweep(t)

	got := e.load(t, m.ID)
	assert.Equal(t, 1, got.A.Missed)
	assert.Equal(t, 0, got.B.Missed)
}

func TestSweep_RepeatedRevealMissesForfeit(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)

	for miss := 1; miss <= DefaultEngineConfig.ForfeitThreshold; miss++ {
		e.commit(t, m.ID, fighterA, models.MoveGuardLow, "a")
		e.commit(t, m.ID, fighterB, models.MoveGuardLow, "b")
		e.reveal(t, m.ID, fighterB, models.MoveGuardLow, "b")
		e.expireReveal()
		report := e.sweep(t)
		got := e.load(t, m.ID)

		if miss < DefaultEngineConfig.ForfeitThreshold {
			assert.Equal(t, 1, report.Resolved, "miss %d", miss)
			assert.Equal(t, models.PhaseCommit, got.Phase)
			assert.Equal(t, miss, got.A.Missed)
			assert.Equal(t, 0, got.B.Missed)
			continue
		}

		assert.Equal(t, 1, report.Forfeited)
		assert.Equal(t, models.PhaseFinished, got.Phase)
		require.NotNil(t, got.WinnerID)
		assert.Equal(t, fighterB, *got.WinnerID)
		require.NotNil(t, got.ForfeitReason)
		assert.Equal(t, ForfeitRevealTimeout, *got.ForfeitReason)
		assert.NotNil(t, got.SettledAt)
	}
	assert.Equal(t, int64(DefaultEngineConfig.ForfeitThreshold-1), e.turnCount(t, m.ID))
}

func TestSweep_MixedMissesForfeit(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)

	// Turn 1: A misses the commit deadline.
	e.commit(t, m.ID, fighterB, models.MoveGuardHigh, "b1")
	e.expireCommit()
	e.sweep(t)
	require.Equal(t, 1, e.load(t, m.ID).A.Missed)
	e.reveal(t, m.ID, fighterB, models.MoveGuardHigh, "b1")

	// Turn 2: A commits but never reveals.
	e.commit(t, m.ID, fighterA, models.MoveGuardMid, "a2")
	e.commit(t, m.ID, fighterB, models.MoveGuardHigh, "b2")
	e.reveal(t, m.ID, fighterB, models.MoveGuardHigh, "b2")
	e.expireReveal()
	e.sweep(t)
	require.Equal(t, 2, e.load(t, m.ID).A.Missed)

	// Turn 3: A misses the commit deadline again.
	e.commit(t, m.ID, fighterB, models.MoveGuardHigh, "b3")
	e.expireCommit()
	report := e.sweep(t)
	assert.Equal(t, 1, report.Forfeited)

	got := e.load(t, m.ID)
	assert.Equal(t, models.PhaseFinished, got.Phase)
	require.NotNil(t, got.WinnerID)
	assert.Equal(t, fighterB, *got.WinnerID)
	require.NotNil(t, got.ForfeitReason)
	assert.Equal(t, ForfeitCommitTimeout, *got.ForfeitReason)
}

func TestSweep_RevealTimeoutForcesMissingSide(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)

	e.commit(t, m.ID, fighterA, models.MoveMidStrike, "a")
	e.commit(t, m.ID, fighterB, models.MoveGuardMid, "b")
	e.reveal(t, m.ID, fighterA, models.MoveMidStrike, "a")

	e.expireReveal()
	report := e.sweep(t)
	assert.Equal(t, 1, report.Resolved)

	got := e.load(t, m.ID)
	assert.Equal(t, 0, got.A.Missed)
	assert.Equal(t, 1, got.B.Missed)

	history, err := e.svc.GetHistory(context.Background(), m.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].ForcedA)
	assert.True(t, history[0].ForcedB)
	assert.Equal(t, models.MoveMidStrike, history[0].MoveA)
	assert.Contains(t, models.SafeMoves, history[0].MoveB)

	// The late reveal now finds the turn already resolved by a forced move.
	_, err = e.svc.SubmitReveal(context.Background(), RevealRequest{
		MatchID: m.ID, FighterID: fighterB, Credentials: keyB, Move: "GUARD_MID", Salt: "b",
	})
	requirePhaseError(t, err, ReasonWrongPhase)
}

func TestSweep_RevealTimeoutBothMissedIsNotCharged(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)

	e.commit(t, m.ID, fighterA, models.MoveMidStrike, "a")
	e.commit(t, m.ID, fighterB, models.MoveGuardMid, "b")
	e.expireReveal()
	e.sweep(t)

	got := e.load(t, m.ID)
	assert.Equal(t, 0, got.A.Missed)
	assert.Equal(t, 0, got.B.Missed)
	assert.Equal(t, int64(1), e.turnCount(t, m.ID))
}

func TestMonitor_LosesRaceToLiveCommit(t *testing.T) {
	e := newEngine(t)
	m := e.newMatch(t)

	e.expireCommit()
	stale := e.load(t, m.ID)
	e.commit(t, m.ID, fighterA, models.MoveHighStrike, "a")

	_, err := e.monitor.handleCommitTimeout(context.Background(), stale, e.clock.Now())
	assert.ErrorIs(t, err, errConflict)

	got := e.load(t, m.ID)
	assert.Equal(t, HashMove("HIGH_STRIKE", "a"), got.A.CommitHash)
	assert.False(t, got.A.IsAuto())
	assert.Equal(t, models.PhaseCommit, got.Phase)

	// The next sweep works from fresh state and only charges B.
	report := e.sweep(t)
	assert.Equal(t, 1, report.Advanced)
	got = e.load(t, m.ID)
	assert.Equal(t, 0, got.A.Missed)
	assert.Equal(t, 1, got.B.Missed)
}

func TestSweep_RetriesFailedSettlement(t *testing.T) {
	e := newEngine(t)
	ledger := e.svc.Completion.Settler
	e.svc.Completion.Settler = failingSettler{}

	m := e.newMatch(t)
	require.NoError(t, e.db.Model(&models.Match{}).Where("id = ?", m.ID).
		Updates(map[string]interface{}{"a_hp": 5, "b_rounds_won": 1}).Error)
	res := e.playTurn(t, m.ID, models.MoveGuardHigh, models.MoveLowStrike)
	require.NotNil(t, res.WinnerID)
	assert.Equal(t, fighterB, *res.WinnerID)
	assert.Nil(t, e.load(t, m.ID).SettledAt)

	e.svc.Completion.Settler = ledger
	report := e.sweep(t)
	assert.Equal(t, 1, report.Settled)
	assert.NotNil(t, e.load(t, m.ID).SettledAt)

	report = e.sweep(t)
	assert.Equal(t, 0, report.Settled)
}
