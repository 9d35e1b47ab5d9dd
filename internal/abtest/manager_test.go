package abtest

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) PutABTest(id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = append([]byte(nil), data...)
	return nil
}

func (s *memStore) ListABTests() (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.data))
	for k, v := range s.data {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func testManager(t *testing.T, store TestStore) *Manager {
	t.Helper()
	m, err := NewManager(store, Config{
		Duration:     14 * 24 * time.Hour,
		TrafficSplit: 0.5,
		Confidence:   0.95,
		MinSample:    1000,
		CheckEvery:   100,
	})
	require.NoError(t, err)
	return m
}

func startedTest(t *testing.T, m *Manager) *Test {
	t.Helper()
	created, err := m.CreateTest("champ-v1", "chall-v2", "response_rate")
	require.NoError(t, err)
	require.NoError(t, m.StartTest(created.ID))
	return created
}

func TestAssignIsDeterministicPerLead(t *testing.T) {
	m := testManager(t, nil)
	startedTest(t, m)

	for i := 0; i < 20; i++ {
		leadID := fmt.Sprintf("lead-%d", i)
		first, ok := m.Assign(leadID)
		require.True(t, ok)
		for j := 0; j < 5; j++ {
			again, ok := m.Assign(leadID)
			require.True(t, ok)
			assert.Equal(t, first, again, "lead %s flipped sides", leadID)
		}
	}
}

func TestAssignHonorsTrafficSplit(t *testing.T) {
	m := testManager(t, nil)
	tst := startedTest(t, m)

	const n = 2000
	challenger := 0
	for i := 0; i < n; i++ {
		modelID, ok := m.Assign(fmt.Sprintf("lead-%d", i))
		require.True(t, ok)
		if modelID == "chall-v2" {
			challenger++
		}
	}

	// 50/50 split with deterministic hashing lands close to half.
	assert.InDelta(t, n/2, challenger, n/10)

	got, err := m.GetTest(tst.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), got.ChampionResults.Requests+got.ChallengerResults.Requests)
}

func TestAssignWithoutRunningTest(t *testing.T) {
	m := testManager(t, nil)
	_, ok := m.Assign("lead-1")
	assert.False(t, ok)

	created, err := m.CreateTest("champ-v1", "chall-v2", "response_rate")
	require.NoError(t, err)
	_, ok = m.Assign("lead-1")
	assert.False(t, ok, "created but unstarted test must not route traffic")

	require.NoError(t, m.StartTest(created.ID))
	_, ok = m.Assign("lead-1")
	assert.True(t, ok)
}

func TestOnlyOneRunningTest(t *testing.T) {
	m := testManager(t, nil)
	startedTest(t, m)

	second, err := m.CreateTest("champ-v1", "chall-v3", "response_rate")
	require.NoError(t, err)
	assert.Error(t, m.StartTest(second.ID))
}

func TestCreateTestRejectsBadPairs(t *testing.T) {
	m := testManager(t, nil)

	_, err := m.CreateTest("", "chall", "response_rate")
	assert.Error(t, err)
	_, err = m.CreateTest("champ", "", "response_rate")
	assert.Error(t, err)
	_, err = m.CreateTest("same", "same", "response_rate")
	assert.Error(t, err)
}

func TestConversionsNeverExceedRequests(t *testing.T) {
	m := testManager(t, nil)
	tst := startedTest(t, m)

	var champion string
	for i := 0; ; i++ {
		modelID, ok := m.Assign(fmt.Sprintf("lead-%d", i))
		require.True(t, ok)
		if modelID == "champ-v1" {
			champion = modelID
			break
		}
	}

	// Far more conversion reports than routed requests.
	for i := 0; i < 10; i++ {
		m.RecordResult(champion, 0.8, true)
	}

	got, err := m.GetTest(tst.ID)
	require.NoError(t, err)
	assert.LessOrEqual(t, got.ChampionResults.Conversions, got.ChampionResults.Requests)
	assert.LessOrEqual(t, got.ChampionResults.ConversionRate, 1.0)
}

func TestRecordResultIgnoresUnknownModel(t *testing.T) {
	m := testManager(t, nil)
	tst := startedTest(t, m)

	m.RecordResult("some-other-model", 0.9, true)

	got, err := m.GetTest(tst.ID)
	require.NoError(t, err)
	assert.Zero(t, got.ChampionResults.Conversions)
	assert.Zero(t, got.ChallengerResults.Conversions)
}

func TestCheckProgressCompletesAfterDuration(t *testing.T) {
	m := testManager(t, nil)
	tst := startedTest(t, m)

	base := time.Now()
	m.now = func() time.Time { return base.Add(15 * 24 * time.Hour) }

	done, completed := m.CheckProgress()
	require.True(t, completed)
	assert.Equal(t, tst.ID, done.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Result)

	_, ok := m.RunningTest()
	assert.False(t, ok)
}

func TestCheckProgressStopsEarlyOnDecisiveEvidence(t *testing.T) {
	m := testManager(t, nil)
	tst := startedTest(t, m)

	// Decisive split: the challenger converts at triple the champion
	// rate across a sample well past the stopping minimum.
	m.mu.Lock()
	cur := m.tests[tst.ID]
	cur.ChampionResults = SideResults{Requests: 5000, Conversions: 250}
	cur.ChallengerResults = SideResults{Requests: 5000, Conversions: 750}
	m.mu.Unlock()

	done, completed := m.CheckProgress()
	require.True(t, completed)
	assert.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.Result)
	assert.True(t, done.Result.Significance.Significant)
}

func TestCheckProgressWaitsForCheckInterval(t *testing.T) {
	m := testManager(t, nil)
	tst := startedTest(t, m)

	m.mu.Lock()
	cur := m.tests[tst.ID]
	cur.ChampionResults = SideResults{Requests: 30, Conversions: 1}
	cur.ChallengerResults = SideResults{Requests: 30, Conversions: 20}
	m.mu.Unlock()

	_, completed := m.CheckProgress()
	assert.False(t, completed, "below the check interval no evaluation runs")
}

func TestAbortStopsRouting(t *testing.T) {
	m := testManager(t, nil)
	tst := startedTest(t, m)

	require.NoError(t, m.AbortTest(tst.ID, "challenger misbehaving"))

	_, ok := m.Assign("lead-1")
	assert.False(t, ok)

	got, err := m.GetTest(tst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, got.Status)
	assert.Error(t, m.AbortTest(tst.ID, "twice"))
}

func TestManagerPersistenceRoundTrip(t *testing.T) {
	store := newMemStore()
	m := testManager(t, store)
	tst := startedTest(t, m)

	for i := 0; i < 200; i++ {
		modelID, ok := m.Assign(fmt.Sprintf("lead-%d", i))
		require.True(t, ok)
		m.RecordResult(modelID, 0.6, i%4 == 0)
	}
	done, err := m.CompleteTest(tst.ID)
	require.NoError(t, err)

	// A fresh manager over the same store sees the terminal test.
	reloaded := testManager(t, store)
	got, err := reloaded.GetTest(tst.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, done.ChampionResults.Requests, got.ChampionResults.Requests)
	assert.Equal(t, done.ChallengerResults.Conversions, got.ChallengerResults.Conversions)
	require.NotNil(t, got.Result)

	_, ok := reloaded.RunningTest()
	assert.False(t, ok)
}
