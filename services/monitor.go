// services/monitor.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"fight-arena/models"
)

// Forfeit reasons recorded on the match.
const (
	ForfeitCommitTimeout = "commit_timeout"
	ForfeitRevealTimeout = "reveal_timeout"
)

// SweepReport summarizes one monitor pass.
type SweepReport struct {
	Scanned   int `json:"scanned"`
	Advanced  int `json:"advanced"`  // commit timeouts moved to reveal
	Resolved  int `json:"resolved"`  // reveal timeouts resolved the turn
	Forfeited int `json:"forfeited"` // matches ended by forfeit
	Skipped   int `json:"skipped"`   // lost a race to a live request
	Failed    int `json:"failed"`
	Settled   int `json:"settled"` // finished matches re-driven into settlement
}

// Monitor enforces phase deadlines. It is safe to run several monitors at
// once: every action is a conditional write on the state the sweep read.
type Monitor struct {
	Matches *MatchService
}

func NewMonitor(matches *MatchService) *Monitor {
	return &Monitor{Matches: matches}
}

// Sweep handles every match whose active deadline is at least the grace period
// in the past, then retries settlement of finished matches not yet settled.
func (mon *Monitor) Sweep(ctx context.Context) (SweepReport, error) {
	s := mon.Matches
	var report SweepReport
	now := s.now()
	cutoff := now.Add(-s.Config.TimeoutGrace)

	batch := s.Config.SweepBatchSize
	if batch <= 0 {
		batch = DefaultEngineConfig.SweepBatchSize
	}

	var due []models.Match
	if err := s.DB.WithContext(ctx).
		Where("winner_id IS NULL AND ((phase = ? AND commit_deadline <= ?) OR (phase = ? AND reveal_deadline <= ?))",
			string(models.PhaseCommit), cutoff, string(models.PhaseReveal), cutoff).
		Order("updated_at ASC").
		Limit(batch).
		Find(&due).Error; err != nil {
		return report, storageErr("scan expired matches", err)
	}
	report.Scanned = len(due)

	for i := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		m := &due[i]
		var (
			outcome sweepOutcome
			err     error
		)
		if m.Phase == models.PhaseCommit {
			outcome, err = mon.handleCommitTimeout(ctx, m, now)
		} else {
			outcome, err = mon.handleRevealTimeout(ctx, m, now)
		}
		switch {
		case errors.Is(err, errConflict):
			log.Printf("[Monitor] match %s already handled, skipping", m.ID)
			report.Skipped++
		case err != nil:
			log.Printf("❌ [Monitor] match %s: %v", m.ID, err)
			report.Failed++
		default:
			outcome.count(&report)
		}
	}

	report.Settled = mon.resettle(ctx, batch)
	if report.Scanned > 0 || report.Settled > 0 {
		log.Printf("⏱️  [Monitor] sweep: scanned=%d advanced=%d resolved=%d forfeited=%d skipped=%d failed=%d settled=%d",
			report.Scanned, report.Advanced, report.Resolved, report.Forfeited, report.Skipped, report.Failed, report.Settled)
	}
	return report, nil
}

type sweepOutcome int

const (
	outcomeAdvanced sweepOutcome = iota
	outcomeResolved
	outcomeForfeited
)

func (o sweepOutcome) count(r *SweepReport) {
	switch o {
	case outcomeAdvanced:
		r.Advanced++
	case outcomeResolved:
		r.Resolved++
	case outcomeForfeited:
		r.Forfeited++
	}
}

// handleCommitTimeout charges a miss to each side without a commitment and
// commits a random safe move for it. When both sides missed nobody is charged.
func (mon *Monitor) handleCommitTimeout(ctx context.Context, m *models.Match, now time.Time) (sweepOutcome, error) {
	s := mon.Matches
	g := guardOf(m)
	bothMissed := !m.A.Committed() && !m.B.Committed()

	for _, slot := range []models.Slot{models.SlotA, models.SlotB} {
		sd := m.Side(slot)
		if sd.Committed() {
			sd.Missed = 0
			continue
		}
		if !bothMissed {
			sd.Missed++
			if sd.Missed >= s.Config.ForfeitThreshold {
				return mon.forfeit(ctx, m, g, slot, ForfeitCommitTimeout, now)
			}
		}
		move, salt, hash, err := synthesizeCommitment()
		if err != nil {
			return 0, fmt.Errorf("synthesize move: %w", err)
		}
		sd.CommitHash = hash
		sd.AutoMove = move
		sd.AutoSalt = salt
	}

	deadline := now.Add(s.Config.RevealWindow)
	m.Phase = models.PhaseReveal
	m.RevealDeadline = &deadline
	if err := s.apply(ctx, matchWrite{guard: g, next: m, events: []models.MatchEvent{phaseChangeEvent(m)}}); err != nil {
		return 0, err
	}
	log.Printf("⏱️  [Monitor] match %s round %d turn %d: commit timeout, moves assigned (missed A=%d B=%d)",
		m.ID, m.Round, m.Turn, m.A.Missed, m.B.Missed)
	return outcomeAdvanced, nil
}

// handleRevealTimeout reveals auto-committed moves, forces a random safe move
// for any side that committed but never revealed, then resolves the turn.
func (mon *Monitor) handleRevealTimeout(ctx context.Context, m *models.Match, now time.Time) (sweepOutcome, error) {
	s := mon.Matches
	g := guardOf(m)

	manualMiss := func(sd *models.FighterSide) bool { return !sd.Revealed() && !sd.IsAuto() }
	bothMissed := manualMiss(&m.A) && manualMiss(&m.B)

	for _, slot := range []models.Slot{models.SlotA, models.SlotB} {
		sd := m.Side(slot)
		if sd.Revealed() {
			continue
		}
		if sd.IsAuto() {
			sd.Move = sd.AutoMove
			sd.Salt = sd.AutoSalt
			continue
		}
		if !bothMissed {
			sd.Missed++
			if sd.Missed >= s.Config.ForfeitThreshold {
				return mon.forfeit(ctx, m, g, slot, ForfeitRevealTimeout, now)
			}
		}
		move, err := RandomSafeMove()
		if err != nil {
			return 0, fmt.Errorf("force move: %w", err)
		}
		salt, err := NewSalt()
		if err != nil {
			return 0, fmt.Errorf("force salt: %w", err)
		}
		sd.Move, sd.Salt = move, salt
		sd.AutoMove, sd.AutoSalt = move, salt
	}

	res := s.resolveTurn(m, now)
	if err := s.apply(ctx, res.write(g, m)); err != nil {
		return 0, err
	}
	log.Printf("⏱️  [Monitor] match %s round %d turn %d: reveal timeout, resolved as %s",
		m.ID, res.Record.Round, res.Record.Turn, res.Record.Result)
	if res.MatchOver {
		// Left for resettle on failure.
		_ = s.Completion.Settle(ctx, m)
	}
	return outcomeResolved, nil
}

func (mon *Monitor) forfeit(ctx context.Context, m *models.Match, g casGuard, loser models.Slot, reason string, now time.Time) (sweepOutcome, error) {
	s := mon.Matches
	events := s.Completion.finish(m, loser.Other(), &reason, now)
	if err := s.apply(ctx, matchWrite{guard: g, next: m, events: events, finishing: true}); err != nil {
		return 0, err
	}
	log.Printf("🏳️  [Monitor] match %s: fighter %s forfeits (%s), winner %s",
		m.ID, m.FighterID(loser), reason, *m.WinnerID)
	_ = s.Completion.Settle(ctx, m) // retried by resettle
	return outcomeForfeited, nil
}

// resettle retries settlement for finished matches whose settlement never
// completed, e.g. after a crash between the finishing write and Settle.
func (mon *Monitor) resettle(ctx context.Context, batch int) int {
	s := mon.Matches
	if s.Completion == nil || s.Completion.Settler == nil {
		return 0
	}
	var pending []models.Match
	if err := s.DB.WithContext(ctx).
		Where("phase = ? AND winner_id IS NOT NULL AND settled_at IS NULL", string(models.PhaseFinished)).
		Order("finished_at ASC").
		Limit(batch).
		Find(&pending).Error; err != nil {
		log.Printf("❌ [Monitor] scan unsettled matches: %v", err)
		return 0
	}
	settled := 0
	for i := range pending {
		if err := s.Completion.Settle(ctx, &pending[i]); err == nil {
			settled++
		}
	}
	return settled
}
