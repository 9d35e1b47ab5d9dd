package abtest

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Status of a champion/challenger test.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// SideResults accrues traffic for one side of a test. Conversion
// totals never exceed routed requests.
type SideResults struct {
	Requests       int64   `json:"requests"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversionRate"`
	AverageScore   float64 `json:"averageScore"`
	scoreSum       float64
}

// Test is one champion/challenger experiment. Terminal once completed
// or aborted.
type Test struct {
	ID                string          `json:"id"`
	ChampionModelID   string          `json:"championModelId"`
	ChallengerModelID string          `json:"challengerModelId"`
	Status            Status          `json:"status"`
	TrafficSplit      float64         `json:"trafficSplit"` // fraction routed to the challenger
	ChampionResults   SideResults     `json:"championResults"`
	ChallengerResults SideResults     `json:"challengerResults"`
	StartTime         time.Time       `json:"startTime"`
	EndTime           time.Time       `json:"endTime,omitempty"`
	Duration          time.Duration   `json:"durationNs"`
	Criteria          Criteria        `json:"criteria"`
	CheckEvery        int64           `json:"checkEvery"`
	Result            *Result         `json:"result,omitempty"`
	lastCheckSample   int64
}

// Result is produced once when a test reaches a terminal state.
type Result struct {
	Significance   SignificanceResult `json:"significance"`
	Recommendation Recommendation     `json:"recommendation"`
	CompletedAt    time.Time          `json:"completedAt"`
}

// TestStore persists serialized test state across restarts.
// Implemented by the storage layer.
type TestStore interface {
	PutABTest(id string, data []byte) error
	ListABTests() (map[string][]byte, error)
}

// Config holds defaults applied to new tests.
type Config struct {
	Duration     time.Duration
	TrafficSplit float64
	Confidence   float64
	MinSample    int64
	CheckEvery   int64
}

// Manager owns all tests and routes traffic for the running one. At
// most one test runs at a time; state is mutex-protected and persisted
// on every transition.
type Manager struct {
	mu      sync.RWMutex
	tests   map[string]*Test
	running string
	store   TestStore
	cfg     Config
	now     func() time.Time
}

// NewManager creates a manager and reloads persisted tests.
func NewManager(store TestStore, cfg Config) (*Manager, error) {
	if cfg.Duration <= 0 {
		cfg.Duration = 14 * 24 * time.Hour
	}
	if cfg.TrafficSplit <= 0 || cfg.TrafficSplit >= 1 {
		cfg.TrafficSplit = 0.5
	}
	if cfg.Confidence <= 0 {
		cfg.Confidence = 0.95
	}
	if cfg.MinSample <= 0 {
		cfg.MinSample = 1000
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = 100
	}

	m := &Manager{
		tests: make(map[string]*Test),
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}

	if store != nil {
		raw, err := store.ListABTests()
		if err != nil {
			return nil, fmt.Errorf("load A/B tests: %w", err)
		}
		for id, data := range raw {
			var t Test
			if err := json.Unmarshal(data, &t); err != nil {
				log.Warn().Err(err).Str("test", id).Msg("skipping malformed persisted A/B test")
				continue
			}
			t.ChampionResults.scoreSum = t.ChampionResults.AverageScore * float64(t.ChampionResults.Requests)
			t.ChallengerResults.scoreSum = t.ChallengerResults.AverageScore * float64(t.ChallengerResults.Requests)
			m.tests[t.ID] = &t
			if t.Status == StatusRunning {
				m.running = t.ID
			}
		}
	}

	return m, nil
}

// CreateTest registers a new test between the champion and challenger
// using the manager defaults plus the given criteria.
func (m *Manager) CreateTest(championID, challengerID, targetMetric string) (*Test, error) {
	if championID == "" || challengerID == "" || championID == challengerID {
		return nil, fmt.Errorf("invalid champion/challenger pair %q vs %q", championID, challengerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	criteria := CriteriaForMetric(targetMetric)
	if m.cfg.Confidence > criteria.MinimumConfidence {
		criteria.MinimumConfidence = m.cfg.Confidence
	}
	if m.cfg.MinSample > criteria.MinimumSampleSize {
		criteria.MinimumSampleSize = m.cfg.MinSample
	}

	t := &Test{
		ID:                uuid.NewString(),
		ChampionModelID:   championID,
		ChallengerModelID: challengerID,
		Status:            StatusCreated,
		TrafficSplit:      m.cfg.TrafficSplit,
		Duration:          m.cfg.Duration,
		Criteria:          criteria,
		CheckEvery:        m.cfg.CheckEvery,
	}
	m.tests[t.ID] = t

	log.Info().
		Str("test", t.ID).
		Str("champion", championID).
		Str("challenger", challengerID).
		Str("criteria", criteria.Name).
		Msg("A/B test created")

	return t.clone(), m.persist(t)
}

// StartTest moves a created test to running. Only one test runs at a
// time.
func (m *Manager) StartTest(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok {
		return fmt.Errorf("test %s not found", id)
	}
	if t.Status != StatusCreated {
		return fmt.Errorf("test %s is %s, only created tests can start", id, t.Status)
	}
	if m.running != "" {
		return fmt.Errorf("test %s is already running", m.running)
	}

	t.Status = StatusRunning
	t.StartTime = m.now()
	m.running = id

	log.Info().Str("test", id).Msg("A/B test started")
	return m.persist(t)
}

// Assign routes a lead to the champion or challenger of the running
// test. Deterministic per (lead, test) so a lead sticks to its side.
// Returns ok=false when no test is running.
func (m *Manager) Assign(leadID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.runningTest()
	if t == nil {
		return "", false
	}

	if hashToUnit(leadID, t.ID) < t.TrafficSplit {
		t.ChallengerResults.Requests++
		return t.ChallengerModelID, true
	}
	t.ChampionResults.Requests++
	return t.ChampionModelID, true
}

// RecordResult accrues one scored outcome for whichever side owns the
// model. Conversions past routed traffic are dropped to keep totals
// consistent with what was actually served.
func (m *Manager) RecordResult(modelID string, score float64, converted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.runningTest()
	if t == nil {
		return
	}

	var side *SideResults
	switch modelID {
	case t.ChampionModelID:
		side = &t.ChampionResults
	case t.ChallengerModelID:
		side = &t.ChallengerResults
	default:
		return
	}

	if converted && side.Conversions < side.Requests {
		side.Conversions++
	}
	side.scoreSum += score
	if side.Requests > 0 {
		side.AverageScore = side.scoreSum / float64(side.Requests)
		side.ConversionRate = float64(side.Conversions) / float64(side.Requests)
	}
}

// Analyze runs the significance engine and winner selector against the
// test's current results without changing its state.
func (m *Manager) Analyze(id string) (*Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tests[id]
	if !ok {
		return nil, fmt.Errorf("test %s not found", id)
	}
	return m.analyzeLocked(t), nil
}

func (m *Manager) analyzeLocked(t *Test) *Result {
	sig := TwoProportionTest(
		t.ChampionResults.Conversions, t.ChampionResults.Requests,
		t.ChallengerResults.Conversions, t.ChallengerResults.Requests,
	)
	elapsed := m.elapsed(t)
	rec := SelectWinner(t.ID, sig, t.Criteria, elapsed)
	return &Result{Significance: sig, Recommendation: rec, CompletedAt: m.now()}
}

// CheckProgress advances the running test: completes it when the
// duration has elapsed or the sequential stopping rule fires. Called
// on the lifecycle ticker and cheap enough to run often.
func (m *Manager) CheckProgress() (*Test, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.runningTest()
	if t == nil {
		return nil, false
	}

	if m.elapsed(t) >= t.Duration {
		m.completeLocked(t, "test duration elapsed")
		return t.clone(), true
	}

	total := t.ChampionResults.Requests + t.ChallengerResults.Requests
	if total-t.lastCheckSample < t.CheckEvery {
		return nil, false
	}
	t.lastCheckSample = total

	sig := TwoProportionTest(
		t.ChampionResults.Conversions, t.ChampionResults.Requests,
		t.ChallengerResults.Conversions, t.ChallengerResults.Requests,
	)
	if check := EvaluateStopping(sig, t.Criteria); check.CanStop {
		m.completeLocked(t, check.Reason)
		return t.clone(), true
	}

	return nil, false
}

// CompleteTest force-completes the running test with a final analysis.
func (m *Manager) CompleteTest(id string) (*Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok {
		return nil, fmt.Errorf("test %s not found", id)
	}
	if t.Status != StatusRunning {
		return nil, fmt.Errorf("test %s is %s, not running", id, t.Status)
	}
	m.completeLocked(t, "completed explicitly")
	return t.clone(), nil
}

// AbortTest terminates a test without a winner analysis.
func (m *Manager) AbortTest(id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok {
		return fmt.Errorf("test %s not found", id)
	}
	if t.Status == StatusCompleted || t.Status == StatusAborted {
		return fmt.Errorf("test %s already terminal (%s)", id, t.Status)
	}

	t.Status = StatusAborted
	t.EndTime = m.now()
	if m.running == id {
		m.running = ""
	}

	log.Warn().Str("test", id).Str("reason", reason).Msg("A/B test aborted")
	return m.persist(t)
}

// GetTest returns a copy of a test.
func (m *Manager) GetTest(id string) (*Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tests[id]
	if !ok {
		return nil, fmt.Errorf("test %s not found", id)
	}
	return t.clone(), nil
}

// RunningTest returns a copy of the running test, if any.
func (m *Manager) RunningTest() (*Test, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := m.runningTest()
	if t == nil {
		return nil, false
	}
	return t.clone(), true
}

func (m *Manager) runningTest() *Test {
	if m.running == "" {
		return nil
	}
	return m.tests[m.running]
}

func (m *Manager) completeLocked(t *Test, reason string) {
	t.Result = m.analyzeLocked(t)
	t.Status = StatusCompleted
	t.EndTime = m.now()
	if m.running == t.ID {
		m.running = ""
	}

	log.Info().
		Str("test", t.ID).
		Str("reason", reason).
		Str("decision", string(t.Result.Recommendation.Decision)).
		Str("winner", t.Result.Recommendation.Winner).
		Msg("A/B test completed")

	if err := m.persist(t); err != nil {
		log.Error().Err(err).Str("test", t.ID).Msg("failed to persist completed A/B test")
	}
}

func (m *Manager) elapsed(t *Test) time.Duration {
	if t.StartTime.IsZero() {
		return 0
	}
	return m.now().Sub(t.StartTime)
}

func (m *Manager) persist(t *Test) error {
	if m.store == nil {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return m.store.PutABTest(t.ID, data)
}

func (t *Test) clone() *Test {
	cp := *t
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	return &cp
}

// hashToUnit maps (leadID, testID) to [0,1) deterministically so a
// lead always lands on the same side of a given test.
func hashToUnit(leadID, testID string) float64 {
	sum := md5.Sum([]byte(leadID + ":" + testID))
	v := binary.BigEndian.Uint64(sum[:8])
	return float64(v) / float64(^uint64(0))
}
