// services/match_service.go
package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"fight-arena/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MatchService owns the match state machine: commit, reveal, turn resolution
// and the read-only views. It keeps no per-match state in memory.
type MatchService struct {
	DB         *gorm.DB
	Config     EngineConfig
	Roller     DamageRoller
	Completion *CompletionCoordinator
	Now        func() time.Time
}

func NewMatchService(db *gorm.DB, cfg EngineConfig, settler Settler) *MatchService {
	return &MatchService{
		DB:         db,
		Config:     cfg,
		Roller:     CryptoRoller{},
		Completion: NewCompletionCoordinator(db, settler),
		Now:        time.Now,
	}
}

func (s *MatchService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *MatchService) maxAttempts() int {
	if s.Config.MaxCASAttempts <= 0 {
		return 1
	}
	return s.Config.MaxCASAttempts
}

// --- Requests / results ---

type CreateMatchRequest struct {
	FighterAID    string          `json:"fighter_a_id"`
	FighterBID    string          `json:"fighter_b_id"`
	WagerAmount   decimal.Decimal `json:"wager_amount"`
	WagerMetadata json.RawMessage `json:"wager_metadata,omitempty"`
	Start         *bool           `json:"start,omitempty"` // default true
}

type CommitRequest struct {
	MatchID     string `json:"match_id"`
	FighterID   string `json:"fighter_id"`
	Credentials string `json:"credentials"`
	MoveHash    string `json:"move_hash"`
}

type RevealRequest struct {
	MatchID     string `json:"match_id"`
	FighterID   string `json:"fighter_id"`
	Credentials string `json:"credentials"`
	Move        string `json:"move"`
	Salt        string `json:"salt"`
}

const (
	StatusWaiting         = "waiting"
	StatusRevealPhase     = "reveal_phase"
	StatusResolved        = "resolved"
	StatusAlreadyResolved = "already_resolved"
)

type CommitResult struct {
	Status         string            `json:"status"`
	Phase          models.MatchPhase `json:"phase"`
	Round          int               `json:"round"`
	Turn           int               `json:"turn"`
	RevealDeadline *time.Time        `json:"reveal_deadline,omitempty"`
}

type RevealResult struct {
	Status   string             `json:"status"`
	Turn     *models.TurnRecord `json:"turn_result,omitempty"`
	Outcome  *Outcome           `json:"outcome,omitempty"`
	Match    *StatusView        `json:"match"`
	WinnerID *string            `json:"winner_id,omitempty"`
}

// --- Persistence primitives ---

// casGuard is the state a writer expects to still find in the row.
type casGuard struct {
	Phase   models.MatchPhase
	Round   int
	Turn    int
	Version int64
}

func guardOf(m *models.Match) casGuard {
	return casGuard{Phase: m.Phase, Round: m.Round, Turn: m.Turn, Version: m.Version}
}

// matchWrite is one conditional mutation plus the rows that must land with it.
type matchWrite struct {
	guard     casGuard
	next      *models.Match
	turn      *models.TurnRecord
	events    []models.MatchEvent
	finishing bool
}

func sideColumns(prefix string, sd *models.FighterSide, cols map[string]interface{}) {
	cols[prefix+"hp"] = sd.HP
	cols[prefix+"meter"] = sd.Meter
	cols[prefix+"rounds_won"] = sd.RoundsWon
	cols[prefix+"round_damage"] = sd.RoundDamage
	cols[prefix+"missed"] = sd.Missed
	cols[prefix+"commit_hash"] = sd.CommitHash
	cols[prefix+"move"] = string(sd.Move)
	cols[prefix+"salt"] = sd.Salt
	cols[prefix+"auto_move"] = string(sd.AutoMove)
	cols[prefix+"auto_salt"] = sd.AutoSalt
}

func matchColumns(m *models.Match) map[string]interface{} {
	cols := map[string]interface{}{
		"phase":           string(m.Phase),
		"round":           m.Round,
		"turn":            m.Turn,
		"commit_deadline": m.CommitDeadline,
		"reveal_deadline": m.RevealDeadline,
		"version":         m.Version,
		"winner_id":       m.WinnerID,
		"forfeit_reason":  m.ForfeitReason,
		"finished_at":     m.FinishedAt,
	}
	sideColumns("a_", &m.A, cols)
	sideColumns("b_", &m.B, cols)
	return cols
}

// apply runs the conditional update and, only if it matched, inserts the turn
// record and outbox events in the same transaction. errConflict means another
// writer got there first and nothing was written.
func (s *MatchService) apply(ctx context.Context, w matchWrite) error {
	w.next.Version = w.guard.Version + 1
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.Match{}).
			Where("id = ? AND phase = ? AND round = ? AND turn = ? AND version = ?",
				w.next.ID, string(w.guard.Phase), w.guard.Round, w.guard.Turn, w.guard.Version)
		if w.finishing {
			q = q.Where("winner_id IS NULL")
		}
		res := q.Updates(matchColumns(w.next))
		if res.Error != nil {
			return storageErr("update match", res.Error)
		}
		if res.RowsAffected == 0 {
			return errConflict
		}
		if w.turn != nil {
			if err := tx.Create(w.turn).Error; err != nil {
				return storageErr("append turn record", err)
			}
		}
		if len(w.events) > 0 {
			stampEvents(w.events, w.next.Version)
			if err := tx.Create(&w.events).Error; err != nil {
				return storageErr("record events", err)
			}
		}
		return nil
	})
	return err
}

func (s *MatchService) loadMatch(ctx context.Context, id string) (*models.Match, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, &NotFoundError{What: "match", ID: id}
	}
	var m models.Match
	if err := s.DB.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{What: "match", ID: id}
		}
		return nil, storageErr("load match", err)
	}
	return &m, nil
}

func newEvent(m *models.Match, typ models.EventType, payload interface{}) models.MatchEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Match] failed to encode %s payload for %s: %v", typ, m.ID, err)
		raw = []byte("{}")
	}
	return models.MatchEvent{
		ID:      uuid.NewString(),
		MatchID: m.ID,
		Type:    typ,
		Round:   m.Round,
		Turn:    m.Turn,
		Payload: datatypes.JSON(raw),
	}
}

func stampEvents(events []models.MatchEvent, version int64) {
	for i := range events {
		events[i].Seq = models.EventSeq(version, i)
	}
}

func phaseChangeEvent(m *models.Match) models.MatchEvent {
	return newEvent(m, models.EventPhaseChange, map[string]interface{}{
		"match_id":        m.ID,
		"phase":           m.Phase,
		"round":           m.Round,
		"turn":            m.Turn,
		"commit_deadline": m.CommitDeadline,
		"reveal_deadline": m.RevealDeadline,
	})
}

// authenticate resolves the caller's slot and checks its credentials against
// the bcrypt hash mirrored from the registry.
func (s *MatchService) authenticate(ctx context.Context, m *models.Match, fighterID, credentials string) (models.Slot, error) {
	slot, ok := m.SlotOf(fighterID)
	if !ok || credentials == "" {
		return "", &AuthenticationError{FighterID: fighterID}
	}
	var f models.Fighter
	if err := s.DB.WithContext(ctx).Where("external_id = ?", fighterID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", &AuthenticationError{FighterID: fighterID}
		}
		return "", storageErr("load fighter", err)
	}
	if !f.IsActive {
		return "", &AuthenticationError{FighterID: fighterID}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(f.APIKeyHash), []byte(credentials)); err != nil {
		return "", &AuthenticationError{FighterID: fighterID}
	}
	return slot, nil
}

// pastDeadline is the hard cutoff for live actions: the deadline plus the same
// grace the monitor waits before acting.
func (s *MatchService) pastDeadline(deadline *time.Time, now time.Time) bool {
	return deadline != nil && now.After(deadline.Add(s.Config.TimeoutGrace))
}

func phaseErrorFor(m *models.Match, action string) error {
	if m.IsFinished() {
		return &PhaseError{Reason: ReasonMatchFinished, Hint: "match is over", Phase: string(m.Phase)}
	}
	if m.Phase == models.PhaseWaiting {
		return &PhaseError{Reason: ReasonWrongPhase, Hint: "match has not started yet", Phase: string(m.Phase)}
	}
	hint := "wait for the commit phase of the next turn"
	if action == "reveal" {
		hint = "wait until both fighters have committed"
	}
	return &PhaseError{Reason: ReasonWrongPhase, Hint: hint, Phase: string(m.Phase)}
}

// --- Matchmaker entry points ---

// CreateMatch seats two registered fighters. The match starts in COMMIT_PHASE
// unless Start is explicitly false.
func (s *MatchService) CreateMatch(ctx context.Context, req CreateMatchRequest) (*models.Match, error) {
	req.FighterAID = strings.TrimSpace(req.FighterAID)
	req.FighterBID = strings.TrimSpace(req.FighterBID)
	if req.FighterAID == "" || req.FighterBID == "" {
		return nil, &ValidationError{Hint: "fighter_a_id and fighter_b_id are required"}
	}
	if req.FighterAID == req.FighterBID {
		return nil, &ValidationError{Hint: "a fighter cannot fight itself"}
	}
	if req.WagerAmount.IsNegative() {
		return nil, &ValidationError{Hint: "wager_amount cannot be negative"}
	}

	var count int64
	if err := s.DB.WithContext(ctx).Model(&models.Fighter{}).
		Where("external_id IN ? AND is_active = ?", []string{req.FighterAID, req.FighterBID}, true).
		Count(&count).Error; err != nil {
		return nil, storageErr("count fighters", err)
	}
	if count != 2 {
		return nil, &NotFoundError{What: "fighter", ID: req.FighterAID + "," + req.FighterBID}
	}

	now := s.now()
	m := &models.Match{
		ID:          uuid.NewString(),
		FighterAID:  req.FighterAID,
		FighterBID:  req.FighterBID,
		Phase:       models.PhaseWaiting,
		A:           models.FighterSide{HP: models.MaxHP},
		B:           models.FighterSide{HP: models.MaxHP},
		Round:       1,
		Turn:        models.StartingTurn,
		WagerAmount: req.WagerAmount,
	}
	if len(req.WagerMetadata) > 0 {
		m.WagerMetadata = datatypes.JSON(req.WagerMetadata)
	}
	start := req.Start == nil || *req.Start
	if start {
		deadline := now.Add(s.Config.CommitWindow)
		m.Phase = models.PhaseCommit
		m.CommitDeadline = &deadline
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		if start {
			events := []models.MatchEvent{phaseChangeEvent(m)}
			stampEvents(events, m.Version)
			return tx.Create(&events).Error
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("create match", err)
	}
	log.Printf("🥊 [Match] Created %s: %s vs %s (phase %s)", m.ID, m.FighterAID, m.FighterBID, m.Phase)
	return m, nil
}

// StartMatch moves a WAITING match into its first commit phase.
func (s *MatchService) StartMatch(ctx context.Context, matchID string) (*models.Match, error) {
	for attempt := 0; attempt < s.maxAttempts(); attempt++ {
		m, err := s.loadMatch(ctx, matchID)
		if err != nil {
			return nil, err
		}
		if m.Phase != models.PhaseWaiting {
			return nil, &PhaseError{Reason: ReasonWrongPhase, Hint: "match already started", Phase: string(m.Phase)}
		}
		g := guardOf(m)
		deadline := s.now().Add(s.Config.CommitWindow)
		m.Phase = models.PhaseCommit
		m.CommitDeadline = &deadline
		err = s.apply(ctx, matchWrite{guard: g, next: m, events: []models.MatchEvent{phaseChangeEvent(m)}})
		if errors.Is(err, errConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, &ConcurrentModificationError{MatchID: matchID}
}

// --- Fighter entry points ---

// SubmitCommitment stores the caller's move hash for the current turn. The
// commit that completes the pair also opens the reveal phase.
func (s *MatchService) SubmitCommitment(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	hash, ok := NormalizeCommitment(req.MoveHash)
	if !ok {
		return nil, &ValidationError{Hint: "move_hash must be a 64 character hex SHA-256 digest"}
	}

	m, err := s.loadMatch(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	slot, err := s.authenticate(ctx, m, req.FighterID, req.Credentials)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.maxAttempts(); attempt++ {
		if attempt > 0 {
			if m, err = s.loadMatch(ctx, req.MatchID); err != nil {
				return nil, err
			}
		}
		now := s.now()
		if m.IsFinished() || m.Phase != models.PhaseCommit {
			return nil, phaseErrorFor(m, "commit")
		}
		side := m.Side(slot)
		if side.Committed() {
			return nil, &PhaseError{Reason: ReasonAlreadyCommitted, Hint: "wait for opponent to commit", Phase: string(m.Phase)}
		}
		if s.pastDeadline(m.CommitDeadline, now) {
			return nil, &PhaseError{Reason: ReasonDeadlinePassed, Hint: "commit deadline passed, a move will be assigned", Phase: string(m.Phase)}
		}

		g := guardOf(m)
		side.CommitHash = hash

		w := matchWrite{guard: g, next: m}
		result := &CommitResult{Status: StatusWaiting}
		if m.Side(slot.Other()).Committed() {
			deadline := now.Add(s.Config.RevealWindow)
			m.Phase = models.PhaseReveal
			m.RevealDeadline = &deadline
			w.events = append(w.events, phaseChangeEvent(m))
			result.Status = StatusRevealPhase
			result.RevealDeadline = &deadline
		}

		err = s.apply(ctx, w)
		if errors.Is(err, errConflict) {
			log.Printf("[Match] commit for %s/%s lost a race (attempt %d), refetching", m.ID, req.FighterID, attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		result.Phase, result.Round, result.Turn = m.Phase, m.Round, m.Turn
		return result, nil
	}
	return nil, &ConcurrentModificationError{MatchID: req.MatchID}
}

// SubmitReveal verifies the caller's move against its commitment. If the
// opponent has already revealed, the turn is resolved within this call.
func (s *MatchService) SubmitReveal(ctx context.Context, req RevealRequest) (*RevealResult, error) {
	if strings.TrimSpace(req.Move) == "" || req.Salt == "" {
		return nil, &ValidationError{Hint: "move and salt are required"}
	}
	if len(req.Salt) > 256 {
		return nil, &ValidationError{Hint: "salt is too long"}
	}

	m, err := s.loadMatch(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	slot, err := s.authenticate(ctx, m, req.FighterID, req.Credentials)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < s.maxAttempts(); attempt++ {
		if attempt > 0 {
			if m, err = s.loadMatch(ctx, req.MatchID); err != nil {
				return nil, err
			}
		}
		now := s.now()

		if m.Phase != models.PhaseReveal {
			rec, err := s.findResolvedReveal(ctx, m, slot, req)
			if err != nil {
				return nil, err
			}
			if rec != nil {
				return &RevealResult{Status: StatusAlreadyResolved, Turn: rec, Match: buildStatus(m, slot, now, rec), WinnerID: m.WinnerID}, nil
			}
			return nil, phaseErrorFor(m, "reveal")
		}

		side := m.Side(slot)
		if !side.Committed() || (side.IsAuto() && !side.Revealed()) {
			return nil, &PhaseError{Reason: ReasonNotCommitted, Hint: "no commitment of yours for this turn", Phase: string(m.Phase)}
		}
		if side.Revealed() {
			return nil, &PhaseError{Reason: ReasonAlreadyRevealed, Hint: "wait for opponent to reveal", Phase: string(m.Phase)}
		}
		if s.pastDeadline(m.RevealDeadline, now) {
			return nil, &PhaseError{Reason: ReasonDeadlinePassed, Hint: "reveal deadline passed", Phase: string(m.Phase)}
		}
		if !VerifyCommitment(side.CommitHash, req.Move, req.Salt) {
			return nil, &CommitmentMismatchError{}
		}
		move, ok := models.ParseMove(req.Move)
		if !ok {
			return nil, &CommitmentMismatchError{}
		}

		g := guardOf(m)
		side.Move = move
		side.Salt = req.Salt
		side.Missed = 0

		// A server-synthesized opponent move has no secret left to keep.
		opp := m.Side(slot.Other())
		if !opp.Revealed() && opp.IsAuto() {
			opp.Move = opp.AutoMove
			opp.Salt = opp.AutoSalt
		}

		if !opp.Revealed() {
			err = s.apply(ctx, matchWrite{guard: g, next: m})
			if errors.Is(err, errConflict) {
				log.Printf("[Match] reveal for %s/%s lost a race (attempt %d), refetching", m.ID, req.FighterID, attempt+1)
				continue
			}
			if err != nil {
				return nil, err
			}
			return &RevealResult{Status: StatusWaiting, Match: buildStatus(m, slot, now, nil)}, nil
		}

		res := s.resolveTurn(m, now)
		err = s.apply(ctx, res.write(g, m))
		if errors.Is(err, errConflict) {
			log.Printf("[Match] resolution of %s round %d turn %d lost a race (attempt %d), refetching",
				m.ID, g.Round, g.Turn, attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Printf("⚔️  [Match] %s round %d turn %d resolved: %s (A-%d, B-%d)",
			m.ID, res.Record.Round, res.Record.Turn, res.Record.Result, res.Record.DamageToA, res.Record.DamageToB)
		if res.MatchOver {
			// Failures are logged; the monitor sweep retries unsettled matches.
			_ = s.Completion.Settle(ctx, m)
		}
		return &RevealResult{
			Status:   StatusResolved,
			Turn:     &res.Record,
			Outcome:  &res.Outcome,
			Match:    buildStatus(m, slot, now, &res.Record),
			WinnerID: m.WinnerID,
		}, nil
	}
	return nil, &ConcurrentModificationError{MatchID: req.MatchID}
}

// findResolvedReveal returns the latest turn record if the request is a late
// duplicate of a reveal that already took part in it.
func (s *MatchService) findResolvedReveal(ctx context.Context, m *models.Match, slot models.Slot, req RevealRequest) (*models.TurnRecord, error) {
	rec, err := s.lastTurn(ctx, m.ID)
	if err != nil || rec == nil {
		return nil, err
	}
	commit, move, forced := rec.CommitA, rec.MoveA, rec.ForcedA
	if slot == models.SlotB {
		commit, move, forced = rec.CommitB, rec.MoveB, rec.ForcedB
	}
	if forced {
		return nil, nil
	}
	parsed, ok := models.ParseMove(req.Move)
	if !ok || parsed != move || !VerifyCommitment(commit, req.Move, req.Salt) {
		return nil, nil
	}
	return rec, nil
}

func (s *MatchService) lastTurn(ctx context.Context, matchID string) (*models.TurnRecord, error) {
	var rec models.TurnRecord
	err := s.DB.WithContext(ctx).Where("match_id = ?", matchID).Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("load last turn", err)
	}
	return &rec, nil
}

// --- Read side ---

// GetStatus is the polling view. viewerID/credentials are optional; without
// them the caller gets the public view.
func (s *MatchService) GetStatus(ctx context.Context, matchID, viewerID, credentials string) (*StatusView, error) {
	m, err := s.loadMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	var viewer models.Slot
	if viewerID != "" {
		if viewer, err = s.authenticate(ctx, m, viewerID, credentials); err != nil {
			return nil, err
		}
	}
	last, err := s.lastTurn(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	return buildStatus(m, viewer, s.now(), last), nil
}

// GetHistory returns the resolved turns in order.
func (s *MatchService) GetHistory(ctx context.Context, matchID string) ([]models.TurnRecord, error) {
	if _, err := s.loadMatch(ctx, matchID); err != nil {
		return nil, err
	}
	var turns []models.TurnRecord
	if err := s.DB.WithContext(ctx).Where("match_id = ?", matchID).Order("id ASC").Find(&turns).Error; err != nil {
		return nil, storageErr("load history", err)
	}
	return turns, nil
}
