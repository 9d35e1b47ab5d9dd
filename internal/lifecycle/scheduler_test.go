package lifecycle

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadscore-engine/internal/abtest"
	"leadscore-engine/internal/cfg"
	"leadscore-engine/internal/feature"
	"leadscore-engine/internal/lead"
	"leadscore-engine/internal/metrics"
	"leadscore-engine/internal/training"
)

// fakeOutcomes serves a fixed outcome slice regardless of window.
type fakeOutcomes struct {
	outcomes []lead.Outcome
}

func (f *fakeOutcomes) RecentOutcomes(modelID string, since time.Time) ([]lead.Outcome, error) {
	return f.outcomes, nil
}

// fakeLeads resolves lead-N ids; ids listed in missing fail lookup.
type fakeLeads struct {
	missing map[string]bool
}

func (f *fakeLeads) GetLead(ctx context.Context, leadID string) (lead.Profile, []lead.Interaction, error) {
	if f.missing[leadID] {
		return lead.Profile{}, nil, fmt.Errorf("lead %s not found", leadID)
	}
	return lead.Profile{ID: leadID, Source: "referral", CreatedAt: time.Now()}, nil, nil
}

// parityExtractor emits a single separable feature: leads ending in an
// even digit get 1, odd get 0.
type parityExtractor struct{}

func (parityExtractor) Extract(p lead.Profile, _ []lead.Interaction) (feature.Vector, error) {
	last := p.ID[len(p.ID)-1]
	if int(last-'0')%2 == 0 {
		return feature.Vector{1}, nil
	}
	return feature.Vector{0}, nil
}

type fakeCounter struct{ count int }

func (f fakeCounter) CountOutcomesSince(modelID string, since time.Time) (int, error) {
	return f.count, nil
}

// separableOutcomes pairs with parityExtractor: even leads convert.
func separableOutcomes(n int) []lead.Outcome {
	out := make([]lead.Outcome, n)
	for i := range out {
		out[i] = lead.Outcome{
			LeadID:     fmt.Sprintf("lead-%d", i),
			ModelID:    "champ",
			Converted:  i%2 == 0,
			RecordedAt: time.Now(),
		}
	}
	return out
}

type schedulerFixture struct {
	scheduler *Scheduler
	registry  *Registry
	abtests   *abtest.Manager
}

func newFixture(t *testing.T, c SchedulerConfig, outcomes []lead.Outcome, counter OutcomeCounter) *schedulerFixture {
	t.Helper()

	m := metrics.NewWithRegistry(nil)
	registry, err := NewRegistry(nil, m)
	require.NoError(t, err)

	abm, err := abtest.NewManager(nil, abtest.Config{})
	require.NoError(t, err)

	builder := &training.DatasetBuilder{
		Outcomes:  &fakeOutcomes{outcomes: outcomes},
		Leads:     &fakeLeads{},
		Extractor: parityExtractor{},
	}

	s := NewScheduler(c, registry,
		training.NewOrchestrator(20, m), builder, nil, abm, counter, m)

	return &schedulerFixture{scheduler: s, registry: registry, abtests: abm}
}

func defaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:         true,
		Frequency:       cfg.Daily,
		MinDataPoints:   50,
		AutoDeploy:      true,
		MinCompleteness: 0.8,
		CheckInterval:   time.Hour,
		HistoryLimit:    10,
	}
}

func TestEvaluateSkipsWhenDisabled(t *testing.T) {
	c := defaultSchedulerConfig()
	c.Enabled = false
	fx := newFixture(t, c, separableOutcomes(200), fakeCounter{count: 200})

	rec, err := fx.scheduler.Evaluate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipped, rec.Decision)
	assert.Contains(t, rec.Reason, "disabled")
	assert.Equal(t, 1, fx.scheduler.History().Len())
}

func TestEvaluateCooldownGate(t *testing.T) {
	fx := newFixture(t, defaultSchedulerConfig(), separableOutcomes(200), fakeCounter{count: 200})
	promoteChampion(t, fx.registry)

	base := time.Now()
	fx.scheduler.now = func() time.Time { return base }
	fx.scheduler.lastRetrain = base.Add(-10 * time.Hour) // daily needs 20h

	rec, err := fx.scheduler.Evaluate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipped, rec.Decision)
	assert.Contains(t, rec.Reason, "cooldown")

	// Past the cooldown the same cycle proceeds.
	fx.scheduler.now = func() time.Time { return base.Add(11 * time.Hour) }
	rec, err = fx.scheduler.Evaluate(context.Background(), false)
	require.NoError(t, err)
	assert.NotEqual(t, DecisionSkipped, rec.Decision)
}

func TestEvaluateVolumeGate(t *testing.T) {
	fx := newFixture(t, defaultSchedulerConfig(), separableOutcomes(200), fakeCounter{count: 10})
	promoteChampion(t, fx.registry)

	rec, err := fx.scheduler.Evaluate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipped, rec.Decision)
	assert.Contains(t, rec.Reason, "insufficient data")
}

func TestQualityGateItemizesIssues(t *testing.T) {
	// All conversions positive: label balance fails; half the leads
	// unresolvable: completeness fails.
	outcomes := separableOutcomes(200)
	for i := range outcomes {
		outcomes[i].Converted = true
	}
	fx := newFixture(t, defaultSchedulerConfig(), outcomes, fakeCounter{count: 200})
	missing := make(map[string]bool)
	for i := 0; i < 100; i++ {
		missing[fmt.Sprintf("lead-%d", i)] = true
	}
	fx.scheduler.builder.Leads = &fakeLeads{missing: missing}
	promoteChampion(t, fx.registry)

	rec, err := fx.scheduler.Evaluate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipped, rec.Decision)
	require.Len(t, rec.Issues, 2)
	assert.Contains(t, rec.Reason, "quality")
}

func TestForcedRetrainBypassesQualityGate(t *testing.T) {
	outcomes := separableOutcomes(200)
	fx := newFixture(t, defaultSchedulerConfig(), outcomes, fakeCounter{count: 200})
	missing := make(map[string]bool)
	for i := 0; i < 60; i++ {
		missing[fmt.Sprintf("lead-%d", i)] = true
	}
	fx.scheduler.builder.Leads = &fakeLeads{missing: missing}
	promoteChampion(t, fx.registry)

	rec, err := fx.scheduler.Evaluate(context.Background(), true)
	require.NoError(t, err)
	assert.NotEqual(t, DecisionSkipped, rec.Decision, "forced run trains despite quality issues")
	assert.NotEmpty(t, rec.Issues, "issues are still surfaced")
	assert.Equal(t, "forced", rec.Trigger)
}

func TestBootstrapPromotesFirstModel(t *testing.T) {
	fx := newFixture(t, defaultSchedulerConfig(), separableOutcomes(200), fakeCounter{count: 200})

	rec, err := fx.scheduler.Evaluate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, DecisionPromoted, rec.Decision)
	assert.Contains(t, rec.Reason, "bootstrap")

	active, ok := fx.registry.Active()
	require.True(t, ok)
	assert.Equal(t, rec.CandidateID, active.ID)
	assert.Equal(t, StateIdle, fx.scheduler.State())
}

func TestRejectKeepsChampion(t *testing.T) {
	fx := newFixture(t, defaultSchedulerConfig(), separableOutcomes(200), fakeCounter{count: 200})

	// Champion already scores a perfect F1; the retrained candidate on
	// the same separable data cannot beat it by the margin.
	champ := version("champ", 1.0)
	champ.Metrics.Accuracy = 1.0
	require.NoError(t, fx.registry.Register(stubModel{val: 0.9}, champ))
	require.NoError(t, fx.registry.Promote("champ"))

	rec, err := fx.scheduler.Evaluate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, DecisionRejected, rec.Decision)

	active, ok := fx.registry.Active()
	require.True(t, ok)
	assert.Equal(t, "champ", active.ID)

	// The rejected candidate no longer serves.
	_, _, err = fx.registry.Resolve(rec.CandidateID)
	assert.Error(t, err)
}

func TestDecidePolicyBranches(t *testing.T) {
	cases := []struct {
		name       string
		deltaF1    float64
		candAcc    float64
		autoDeploy bool
		want       Decision
	}{
		{"strong improvement auto-deploys", 0.05, 0.95, true, DecisionPromoted},
		{"strong improvement without auto-deploy goes to A/B", 0.05, 0.95, false, DecisionABTest},
		{"moderate improvement goes to A/B", 0.015, 0.82, true, DecisionABTest},
		{"marginal improvement is rejected", 0.005, 0.81, true, DecisionRejected},
		{"regression is rejected", -0.10, 0.70, true, DecisionRejected},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			fxCfg := defaultSchedulerConfig()
			fxCfg.AutoDeploy = c.autoDeploy
			fx := newFixture(t, fxCfg, nil, fakeCounter{})

			champ := version("champ", 0.70)
			champ.Metrics.Accuracy = 0.80
			champ.Metrics.SampleSize = 2000
			require.NoError(t, fx.registry.Register(stubModel{}, champ))
			require.NoError(t, fx.registry.Promote("champ"))

			cand := version("cand", 0.70+c.deltaF1)
			cand.Metrics.Accuracy = c.candAcc
			cand.Metrics.SampleSize = 2000
			require.NoError(t, fx.registry.Register(stubModel{}, cand))

			rec := fx.scheduler.decide(&training.Trained{Model: stubModel{}, Version: cand}, champ, CycleRecord{})
			assert.Equal(t, c.want, rec.Decision)
			assert.InDelta(t, c.deltaF1, rec.DeltaF1, 1e-9)

			if c.want == DecisionABTest {
				running, ok := fx.abtests.RunningTest()
				require.True(t, ok)
				assert.Equal(t, "champ", running.ChampionModelID)
				assert.Equal(t, "cand", running.ChallengerModelID)
			}
			if c.want == DecisionPromoted {
				active, _ := fx.registry.Active()
				assert.Equal(t, "cand", active.ID)
			}
		})
	}
}

func TestEvaluateSkipsDuringRunningABTest(t *testing.T) {
	fx := newFixture(t, defaultSchedulerConfig(), separableOutcomes(200), fakeCounter{count: 200})
	promoteChampion(t, fx.registry)

	created, err := fx.abtests.CreateTest("champ", "chall", "response_rate")
	require.NoError(t, err)
	require.NoError(t, fx.abtests.StartTest(created.ID))

	rec, err := fx.scheduler.Evaluate(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, DecisionSkipped, rec.Decision)
	assert.Contains(t, rec.Reason, "A/B test")
}

func TestABWinnerPromotedOnTick(t *testing.T) {
	fx := newFixture(t, defaultSchedulerConfig(), nil, fakeCounter{})

	require.NoError(t, fx.registry.Register(stubModel{}, version("champ", 0.7)))
	require.NoError(t, fx.registry.Register(stubModel{}, version("chall", 0.75)))
	require.NoError(t, fx.registry.Promote("champ"))

	created, err := fx.abtests.CreateTest("champ", "chall", "response_rate")
	require.NoError(t, err)
	require.NoError(t, fx.abtests.StartTest(created.ID))

	// Decisive traffic: the challenger converts at three times the
	// champion rate across a large sample.
	for i := 0; i < 12000; i++ {
		modelID, ok := fx.abtests.Assign(fmt.Sprintf("lead-%d", i))
		require.True(t, ok)
		converted := i%20 == 0
		if modelID == "chall" {
			converted = i%7 == 0
		}
		fx.abtests.RecordResult(modelID, 0.5, converted)
	}

	fx.scheduler.tickABTests()

	active, ok := fx.registry.Active()
	require.True(t, ok)
	assert.Equal(t, "chall", active.ID)

	_, running := fx.abtests.RunningTest()
	assert.False(t, running)
}

func promoteChampion(t *testing.T, r *Registry) {
	t.Helper()
	v := version("champ", 0.75)
	require.NoError(t, r.Register(stubModel{val: 0.6}, v))
	require.NoError(t, r.Promote("champ"))
}
