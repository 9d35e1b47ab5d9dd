package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscore-engine/internal/abtest"
	"leadscore-engine/internal/batch"
	"leadscore-engine/internal/feature"
	"leadscore-engine/internal/lead"
	"leadscore-engine/internal/lifecycle"
	"leadscore-engine/internal/metrics"
	"leadscore-engine/internal/model"
	"leadscore-engine/internal/scoring"
)

type fakeLeads struct {
	known map[string]lead.Profile
}

func (f *fakeLeads) GetLead(ctx context.Context, leadID string) (lead.Profile, []lead.Interaction, error) {
	p, ok := f.known[leadID]
	if !ok {
		return lead.Profile{}, nil, fmt.Errorf("%w: %s", scoring.ErrNotFound, leadID)
	}
	return p, nil, nil
}

type fixedModel struct{ val float64 }

func (m fixedModel) Fit(X [][]float64, y []float64, cfg model.Config) error { return nil }

func (m fixedModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i := range out {
		out[i] = m.val
	}
	return out, nil
}

func (m fixedModel) Evaluate(X [][]float64, y []float64) (model.EvalReport, error) {
	return model.EvalReport{}, nil
}

type memOutcomes struct{ stored []lead.Outcome }

func (m *memOutcomes) StoreOutcome(o lead.Outcome) error {
	m.stored = append(m.stored, o)
	return nil
}

type fixture struct {
	server   *Server
	registry *lifecycle.Registry
	outcomes *memOutcomes
	handler  http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	m := metrics.NewWithRegistry(nil)
	registry, err := lifecycle.NewRegistry(nil, m)
	require.NoError(t, err)
	require.NoError(t, registry.Register(fixedModel{val: 0.82}, model.Version{
		ID:        "v1",
		Type:      model.TypeBaseline,
		Status:    model.StatusTraining,
		CreatedAt: time.Now(),
	}))
	require.NoError(t, registry.Promote("v1"))

	leads := &fakeLeads{known: map[string]lead.Profile{
		"lead-1": {ID: "lead-1", Source: "referral", PreApproved: true, CreatedAt: time.Now()},
		"lead-2": {ID: "lead-2", Source: "cold_call", CreatedAt: time.Now()},
	}}

	engine := scoring.NewEngine(
		leads, feature.NewLocal(), registry, nil,
		scoring.NewCache(5*time.Minute, time.Minute),
		scoring.NewRateLimiter(100, time.Minute, time.Minute),
		m, scoring.Config{},
	)

	abm, err := abtest.NewManager(nil, abtest.Config{})
	require.NoError(t, err)
	outcomes := &memOutcomes{}

	queue := batch.NewQueue(32)
	pool := batch.NewPool(queue, 2, 10*time.Millisecond, m)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	pool.Start(ctx)

	srv := New(0, engine, registry, nil, nil, abm, outcomes, pool)
	return &fixture{server: srv, registry: registry, outcomes: outcomes, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Client-ID", "test-client")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestScoreEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec, env := fx.do(t, http.MethodPost, "/score", scoreRequest{LeadID: "lead-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	assert.False(t, env.Timestamp.IsZero())

	var score scoring.Score
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &score))
	assert.Equal(t, "lead-1", score.LeadID)
	assert.InDelta(t, 0.82, score.Value, 1e-9)
	assert.Equal(t, "v1", score.ModelID)
}

func TestScoreEndpointErrorCodes(t *testing.T) {
	fx := newFixture(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown lead", http.MethodPost, "/score", scoreRequest{LeadID: "ghost"}, http.StatusNotFound, CodeNotFound},
		{"empty lead id", http.MethodPost, "/score", scoreRequest{}, http.StatusBadRequest, CodeValidation},
		{"wrong method", http.MethodGet, "/score", nil, http.StatusBadRequest, CodeValidation},
		{"unknown model", http.MethodPost, "/score", scoreRequest{LeadID: "lead-1", ModelID: "nope"}, http.StatusServiceUnavailable, CodeModelUnavailable},
		{"empty batch", http.MethodPost, "/score/batch", batchRequest{}, http.StatusBadRequest, CodeValidation},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec, env := fx.do(t, c.method, c.path, c.body)
			assert.Equal(t, c.status, rec.Code)
			require.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, c.code, env.Error.Code)
		})
	}
}

func TestScoreBatchIsolatesFailures(t *testing.T) {
	fx := newFixture(t)

	rec, env := fx.do(t, http.MethodPost, "/score/batch",
		batchRequest{LeadIDs: []string{"lead-1", "ghost", "lead-2"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	var result scoring.BatchResult
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, 3, result.Requested)
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "ghost", result.Errors[0].LeadID)
}

func TestInsightsEndpoint(t *testing.T) {
	fx := newFixture(t)

	rec, env := fx.do(t, http.MethodGet, "/insights/lead-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)

	data := env.Data.(map[string]interface{})
	assert.Equal(t, "lead-1", data["leadId"])
	assert.NotEmpty(t, data["insights"])

	rec, _ = fx.do(t, http.MethodGet, "/insights/", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatisticsAlwaysSucceeds(t *testing.T) {
	fx := newFixture(t)

	rec, env := fx.do(t, http.MethodGet, "/statistics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	fx.do(t, http.MethodPost, "/score", scoreRequest{LeadID: "lead-1"})
	_, env = fx.do(t, http.MethodGet, "/statistics", nil)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["requests"])
}

func TestHealthReportsActiveModel(t *testing.T) {
	fx := newFixture(t)

	rec, env := fx.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, "v1", data["activeModel"])
}

func TestCacheInvalidation(t *testing.T) {
	fx := newFixture(t)

	fx.do(t, http.MethodPost, "/score", scoreRequest{LeadID: "lead-1"})
	fx.do(t, http.MethodPost, "/score", scoreRequest{LeadID: "lead-2"})

	_, env := fx.do(t, http.MethodDelete, "/cache?leadId=lead-1", nil)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["invalidated"])

	_, env = fx.do(t, http.MethodDelete, "/cache", nil)
	data = env.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["invalidated"], "only lead-2 remained")
}

func TestCacheSettingsUpdate(t *testing.T) {
	fx := newFixture(t)

	rec, _ := fx.do(t, http.MethodPut, "/cache/settings", cacheSettingsRequest{TTLSeconds: 120})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := fx.do(t, http.MethodPut, "/cache/settings", cacheSettingsRequest{TTLSeconds: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, env.Error.Code)
}

func TestOutcomeRecording(t *testing.T) {
	fx := newFixture(t)

	// Prime the cache so the outcome visibly invalidates it.
	fx.do(t, http.MethodPost, "/score", scoreRequest{LeadID: "lead-1"})

	rec, env := fx.do(t, http.MethodPost, "/outcomes", outcomeRequest{
		LeadID: "lead-1", ModelID: "v1", Prediction: 0.82, Converted: true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, env.Success)
	require.Len(t, fx.outcomes.stored, 1)
	assert.Equal(t, "lead-1", fx.outcomes.stored[0].LeadID)
	assert.True(t, fx.outcomes.stored[0].Converted)

	rec, env = fx.do(t, http.MethodPost, "/outcomes", outcomeRequest{
		LeadID: "lead-1", ModelID: "v1", Prediction: 1.5,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeValidation, env.Error.Code)
}

func TestScoreBatchAsyncWarmsCache(t *testing.T) {
	fx := newFixture(t)

	rec, env := fx.do(t, http.MethodPost, "/score/batch/async",
		batchRequest{LeadIDs: []string{"lead-1", "lead-2"}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, env.Success)

	// The workers score in the background; once done both leads are
	// cache hits.
	require.Eventually(t, func() bool {
		_, e := fx.do(t, http.MethodGet, "/statistics", nil)
		data := e.Data.(map[string]interface{})
		return data["requests"].(float64) >= 2
	}, 2*time.Second, 20*time.Millisecond)

	_, env = fx.do(t, http.MethodPost, "/score", scoreRequest{LeadID: "lead-1"})
	var score scoring.Score
	raw, _ := json.Marshal(env.Data)
	require.NoError(t, json.Unmarshal(raw, &score))
	assert.True(t, score.FromCache)
}

func TestModelsEndpoint(t *testing.T) {
	fx := newFixture(t)

	_, env := fx.do(t, http.MethodGet, "/models", nil)
	require.True(t, env.Success)
	versions := env.Data.([]interface{})
	require.Len(t, versions, 1)
	v := versions[0].(map[string]interface{})
	assert.Equal(t, "v1", v["id"])
	assert.Equal(t, "active", v["status"])
}

func TestRunningTestEndpoint(t *testing.T) {
	fx := newFixture(t)

	_, env := fx.do(t, http.MethodGet, "/abtests/running", nil)
	data := env.Data.(map[string]interface{})
	assert.Equal(t, false, data["running"])
}

func TestRateLimitSurfacesAsCode(t *testing.T) {
	m := metrics.NewWithRegistry(nil)
	registry, err := lifecycle.NewRegistry(nil, m)
	require.NoError(t, err)
	require.NoError(t, registry.Register(fixedModel{val: 0.5}, model.Version{ID: "v1", CreatedAt: time.Now()}))
	require.NoError(t, registry.Promote("v1"))

	engine := scoring.NewEngine(
		&fakeLeads{known: map[string]lead.Profile{"lead-1": {ID: "lead-1", CreatedAt: time.Now()}}},
		feature.NewLocal(), registry, nil,
		scoring.NewCache(time.Minute, time.Minute),
		scoring.NewRateLimiter(2, time.Minute, time.Minute),
		m, scoring.Config{},
	)
	srv := New(0, engine, registry, nil, nil, nil, nil, nil)
	fx := &fixture{server: srv, handler: srv.Handler()}

	fx.do(t, http.MethodPost, "/score", scoreRequest{LeadID: "lead-1", SkipCache: true})
	fx.do(t, http.MethodPost, "/score", scoreRequest{LeadID: "lead-1", SkipCache: true})
	rec, env := fx.do(t, http.MethodPost, "/score", scoreRequest{LeadID: "lead-1", SkipCache: true})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, env.Error.Code)
}
