package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"fight-arena/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finishMatch(t *testing.T, e *engine) *models.Match {
	t.Helper()
	m := e.newMatch(t)
	require.NoError(t, e.db.Model(&models.Match{}).Where("id = ?", m.ID).
		Updates(map[string]interface{}{"b_hp": 10, "a_rounds_won": 1}).Error)
	res := e.playTurn(t, m.ID, models.MoveHighStrike, models.MoveGuardMid)
	require.NotNil(t, res.WinnerID)
	return e.load(t, m.ID)
}

func TestComplete_SettlesExactlyOnce(t *testing.T) {
	e := newEngine(t)
	m := finishMatch(t, e)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := e.svc.Completion.Complete(ctx, m.ID, fighterA)
		require.NoError(t, err)
		assert.Equal(t, fighterA, *got.WinnerID)
	}

	var settlements int64
	require.NoError(t, e.db.Model(&models.MatchSettlement{}).Where("match_id = ?", m.ID).Count(&settlements).Error)
	assert.Equal(t, int64(1), settlements)
	assert.Equal(t, 1, e.archive.count())

	var winner models.Fighter
	require.NoError(t, e.db.Where("external_id = ?", fighterA).First(&winner).Error)
	assert.Equal(t, int64(1), winner.Wins)
	assert.Equal(t, int64(1), winner.TotalMatches)

	var settlement models.MatchSettlement
	require.NoError(t, e.db.Where("match_id = ?", m.ID).First(&settlement).Error)
	require.NotNil(t, settlement.ReplayURL)
	assert.Contains(t, *settlement.ReplayURL, m.ID)
}

// countingSettler records every call and keeps no state of its own.
type countingSettler struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingSettler) Settle(_ context.Context, mc MatchCompletion) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[mc.MatchID]++
	return nil
}

func (c *countingSettler) count(matchID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[matchID]
}

func TestComplete_CallsSettlerOncePerMatch(t *testing.T) {
	e := newEngine(t)
	settler := &countingSettler{}
	e.svc.Completion.Settler = settler
	m := finishMatch(t, e)
	ctx := context.Background()

	assert.Equal(t, 1, settler.count(m.ID))
	assert.NotNil(t, m.SettledAt)

	for i := 0; i < 2; i++ {
		_, err := e.svc.Completion.Complete(ctx, m.ID, fighterA)
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		report := e.sweep(t)
		assert.Equal(t, 0, report.Settled)
	}
	assert.Equal(t, 1, settler.count(m.ID))
}

func TestComplete_Rejections(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	live := e.newMatch(t)
	_, err := e.svc.Completion.Complete(ctx, live.ID, fighterA)
	requirePhaseError(t, err, ReasonWrongPhase)

	done := finishMatch(t, e)
	_, err = e.svc.Completion.Complete(ctx, done.ID, fighterB)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = e.svc.Completion.Complete(ctx, "00000000-0000-0000-0000-000000000000", "")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestLedgerSettler_ConcurrentCallsSettleOnce(t *testing.T) {
	e := newEngine(t)
	m := finishMatch(t, e)
	settler := e.svc.Completion.Settler
	mc, err := completionOf(m)
	require.NoError(t, err)

	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() { done <- settler.Settle(context.Background(), mc) }()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-done)
	}

	var loser models.Fighter
	require.NoError(t, e.db.Where("external_id = ?", fighterB).First(&loser).Error)
	assert.Equal(t, int64(1), loser.Losses)
	assert.Equal(t, 1, e.archive.count())
}

func TestRecordResult_Streaks(t *testing.T) {
	db := newTestDB(t)
	seedFighter(t, db, "streaky", "k")
	now := time.Now().UTC()

	steps := []struct {
		won     bool
		current int64
		best    int64
	}{
		{true, 1, 1},
		{true, 2, 2},
		{false, -1, 2},
		{false, -2, 2},
		{true, 1, 2},
		{true, 2, 2},
		{true, 3, 3},
	}
	for i, st := range steps {
		require.NoError(t, recordResult(db, "streaky", st.won, 10, 5, "m", now))
		var f models.Fighter
		require.NoError(t, db.Where("external_id = ?", "streaky").First(&f).Error)
		assert.Equal(t, st.current, f.CurrentStreak, "step %d", i)
		assert.Equal(t, st.best, f.BestStreak, "step %d", i)
		assert.Equal(t, int64(i+1), f.TotalMatches)
	}
}

func TestReplayKey(t *testing.T) {
	key := ReplayKey(MatchCompletion{
		MatchID:     "4f1c",
		WinnerID:    "Iron Fist",
		LoserID:     "Zoë Night",
		WagerAmount: decimal.Zero,
		FinishedAt:  time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "replays/2026-03-01/iron-fist-vs-zoe-night-4f1c.json", key)
}
