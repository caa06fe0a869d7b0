package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"fight-arena/models"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	fighterA = "fighter-alpha"
	fighterB = "fighter-bravo"
	keyA     = "key-alpha"
	keyB     = "key-bravo"
)

// fixedRoller always rolls the base value.
type fixedRoller struct{}

func (fixedRoller) Roll(base, _ int) int { return base }

// testClock is a settable clock for deadline tests.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingArchive counts replay uploads.
type recordingArchive struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingArchive) ArchiveReplay(_ context.Context, key string, _ []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
	return "https://cdn.test/" + key, nil
}

func (r *recordingArchive) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Fighter{},
		&models.Match{},
		&models.TurnRecord{},
		&models.MatchEvent{},
		&models.MatchSettlement{},
	))
	return db
}

func seedFighter(t *testing.T, db *gorm.DB, externalID, key string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Fighter{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		Name:       externalID,
		APIKeyHash: string(hash),
		IsActive:   true,
	}).Error)
}

type engine struct {
	db      *gorm.DB
	clock   *testClock
	svc     *MatchService
	monitor *Monitor
	archive *recordingArchive
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	db := newTestDB(t)
	seedFighter(t, db, fighterA, keyA)
	seedFighter(t, db, fighterB, keyB)

	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	archive := &recordingArchive{}
	svc := NewMatchService(db, DefaultEngineConfig, &LedgerSettler{DB: db, Archive: archive})
	svc.Roller = fixedRoller{}
	svc.Now = clock.Now
	return &engine{db: db, clock: clock, svc: svc, monitor: NewMonitor(svc), archive: archive}
}

func (e *engine) newMatch(t *testing.T) *models.Match {
	t.Helper()
	m, err := e.svc.CreateMatch(context.Background(), CreateMatchRequest{FighterAID: fighterA, FighterBID: fighterB})
	require.NoError(t, err)
	return m
}

func (e *engine) load(t *testing.T, id string) *models.Match {
	t.Helper()
	m, err := e.svc.loadMatch(context.Background(), id)
	require.NoError(t, err)
	return m
}

func credentialsOf(fighterID string) string {
	if fighterID == fighterA {
		return keyA
	}
	return keyB
}

func (e *engine) commit(t *testing.T, matchID, fighterID string, move models.Move, salt string) *CommitResult {
	t.Helper()
	res, err := e.svc.SubmitCommitment(context.Background(), CommitRequest{
		MatchID:     matchID,
		FighterID:   fighterID,
		Credentials: credentialsOf(fighterID),
		MoveHash:    HashMove(string(move), salt),
	})
	require.NoError(t, err)
	return res
}

func (e *engine) reveal(t *testing.T, matchID, fighterID string, move models.Move, salt string) *RevealResult {
	t.Helper()
	res, err := e.svc.SubmitReveal(context.Background(), RevealRequest{
		MatchID:     matchID,
		FighterID:   fighterID,
		Credentials: credentialsOf(fighterID),
		Move:        string(move),
		Salt:        salt,
	})
	require.NoError(t, err)
	return res
}

// playTurn commits and reveals both moves and returns the resolving reveal.
func (e *engine) playTurn(t *testing.T, matchID string, moveA, moveB models.Move) *RevealResult {
	t.Helper()
	e.commit(t, matchID, fighterA, moveA, "salt-a")
	e.commit(t, matchID, fighterB, moveB, "salt-b")
	e.reveal(t, matchID, fighterA, moveA, "salt-a")
	return e.reveal(t, matchID, fighterB, moveB, "salt-b")
}

func (e *engine) turnCount(t *testing.T, matchID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.TurnRecord{}).Where("match_id = ?", matchID).Count(&n).Error)
	return n
}
