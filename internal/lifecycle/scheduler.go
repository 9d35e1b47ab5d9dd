package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/abtest"
	"leadscore-engine/internal/cfg"
	"leadscore-engine/internal/drift"
	"leadscore-engine/internal/metrics"
	"leadscore-engine/internal/model"
	"leadscore-engine/internal/training"
)

// State of the retraining machine. Transitions only move forward
// through a cycle and always return to idle.
type State string

const (
	StateIdle       State = "idle"
	StateEligible   State = "eligible"
	StateTraining   State = "training"
	StateEvaluating State = "evaluating"
)

// Promotion thresholds. A candidate must beat the champion's F1 by the
// strong margin with convincing significance to deploy directly; the
// weak margin earns it an A/B test instead.
const (
	strongF1Margin  = 0.02
	weakF1Margin    = 0.01
	promoSignifBar  = 0.8
	labelBalanceLow = 0.05
	labelBalanceHi  = 0.95
)

// OutcomeCounter reports how many outcomes a model has accumulated.
type OutcomeCounter interface {
	CountOutcomesSince(modelID string, since time.Time) (int, error)
}

// SchedulerConfig carries the retraining tunables.
type SchedulerConfig struct {
	Enabled         bool
	Frequency       cfg.Frequency
	MinDataPoints   int
	AutoDeploy      bool
	MinCompleteness float64
	CheckInterval   time.Duration
	HistoryLimit    int
}

// Scheduler drives the retraining cycle: gate checks, candidate
// training, champion comparison, and the deployment decision. It also
// ticks the A/B test manager and acts on completed tests.
type Scheduler struct {
	cfg      SchedulerConfig
	registry *Registry
	trainer  *training.Orchestrator
	builder  *training.DatasetBuilder
	detector *drift.Detector
	abtests  *abtest.Manager
	counter  OutcomeCounter
	history  *History
	m        *metrics.Metrics

	mu          sync.RWMutex
	state       State
	lastRetrain time.Time
	now         func() time.Time
}

// NewScheduler wires the retraining machinery together.
func NewScheduler(
	c SchedulerConfig,
	registry *Registry,
	trainer *training.Orchestrator,
	builder *training.DatasetBuilder,
	detector *drift.Detector,
	abtests *abtest.Manager,
	counter OutcomeCounter,
	m *metrics.Metrics,
) *Scheduler {
	if c.CheckInterval <= 0 {
		c.CheckInterval = time.Hour
	}
	if c.MinDataPoints <= 0 {
		c.MinDataPoints = 1000
	}
	if c.MinCompleteness <= 0 {
		c.MinCompleteness = 0.8
	}
	return &Scheduler{
		cfg:      c,
		registry: registry,
		trainer:  trainer,
		builder:  builder,
		detector: detector,
		abtests:  abtests,
		counter:  counter,
		history:  NewHistory(c.HistoryLimit),
		m:        m,
		state:    StateIdle,
		now:      time.Now,
	}
}

// State returns the current machine state.
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// History returns the audit log of past cycles.
func (s *Scheduler) History() *History {
	return s.history
}

// Run ticks the scheduler until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", s.cfg.CheckInterval).
		Str("frequency", string(s.cfg.Frequency)).
		Msg("retraining scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retraining scheduler stopped")
			return
		case <-ticker.C:
			s.registry.ObserveAge()
			s.tickABTests()
			if _, err := s.Evaluate(ctx, false); err != nil {
				log.Error().Err(err).Msg("retraining cycle failed")
			}
		}
	}
}

// tickABTests advances the running A/B test and acts on its verdict.
func (s *Scheduler) tickABTests() {
	if s.abtests == nil {
		return
	}
	done, completed := s.abtests.CheckProgress()
	if !completed || done.Result == nil {
		return
	}

	rec := done.Result.Recommendation
	switch {
	case rec.Decision == abtest.DecisionImplementWinner && rec.Winner == "challenger":
		if err := s.registry.Promote(done.ChallengerModelID); err != nil {
			log.Error().Err(err).Str("model", done.ChallengerModelID).Msg("failed to promote A/B winner")
			return
		}
		log.Info().Str("model", done.ChallengerModelID).Str("test", done.ID).Msg("A/B winner promoted")
	default:
		// Champion held or the test was inconclusive; the challenger
		// goes back to the bench.
		if err := s.registry.Retire(done.ChallengerModelID); err != nil {
			log.Warn().Err(err).Str("model", done.ChallengerModelID).Msg("failed to retire challenger")
		}
	}
}

// Evaluate runs one retraining cycle. force bypasses the data-quality
// gate but never the volume or cooldown gates. The returned record is
// also appended to the history.
func (s *Scheduler) Evaluate(ctx context.Context, force bool) (CycleRecord, error) {
	trigger := "scheduled"
	if force {
		trigger = "forced"
	}

	rec, err := s.runCycle(ctx, force, trigger)
	rec.Time = s.now()
	rec.Trigger = trigger
	s.history.Add(rec)

	if err != nil {
		if s.m != nil {
			s.m.TrainingFailures.Inc()
		}
		return rec, err
	}
	return rec, nil
}

func (s *Scheduler) runCycle(ctx context.Context, force bool, trigger string) (CycleRecord, error) {
	s.setState(StateIdle)

	if !s.cfg.Enabled {
		return CycleRecord{Decision: DecisionSkipped, Reason: "retraining disabled"}, nil
	}
	if s.abtests != nil {
		if _, running := s.abtests.RunningTest(); running {
			return CycleRecord{Decision: DecisionSkipped, Reason: "A/B test in progress"}, nil
		}
	}

	champion, hasChampion := s.registry.Active()
	rec := CycleRecord{ChampionID: champion.ID}

	// Cooldown gate.
	cooldown := s.cfg.Frequency.Cooldown()
	if !s.lastRetrainTime().IsZero() && s.now().Sub(s.lastRetrainTime()) < cooldown {
		rec.Decision = DecisionSkipped
		rec.Reason = fmt.Sprintf("cooldown: next retrain allowed after %s",
			s.lastRetrainTime().Add(cooldown).Format(time.RFC3339))
		return rec, nil
	}

	// Volume gate.
	since := s.dataWindowStart()
	if hasChampion {
		count, err := s.counter.CountOutcomesSince(champion.ID, since)
		if err != nil {
			rec.Decision = DecisionFailed
			rec.Reason = "outcome count unavailable"
			return rec, fmt.Errorf("count outcomes: %w", err)
		}
		if count < s.cfg.MinDataPoints {
			rec.Decision = DecisionSkipped
			rec.Reason = fmt.Sprintf("insufficient data: %d of %d outcomes", count, s.cfg.MinDataPoints)
			return rec, nil
		}
	}

	s.setState(StateEligible)

	// Build the dataset and run the quality gate.
	ds, report, err := s.builder.Build(ctx, champion.ID, since)
	if err != nil {
		rec.Decision = DecisionFailed
		rec.Reason = "dataset build failed"
		return rec, err
	}

	if issues := s.qualityIssues(report, champion, hasChampion); len(issues) > 0 {
		rec.Issues = issues
		if !force {
			rec.Decision = DecisionSkipped
			rec.Reason = "data quality gate failed: " + strings.Join(issues, "; ")
			log.Warn().Strs("issues", issues).Msg("retraining aborted by data quality gate")
			return rec, nil
		}
		log.Warn().Strs("issues", issues).Msg("data quality gate bypassed by forced retrain")
	}

	// Train the candidate.
	s.setState(StateTraining)
	candidate, err := s.trainCandidate(ctx, ds, champion, hasChampion)
	if err != nil {
		rec.Decision = DecisionFailed
		rec.Reason = "training failed"
		s.setState(StateIdle)
		return rec, err
	}
	rec.CandidateID = candidate.Version.ID
	s.markRetrained()

	if err := s.registry.Register(candidate.Model, candidate.Version); err != nil {
		rec.Decision = DecisionFailed
		rec.Reason = "candidate registration failed"
		s.setState(StateIdle)
		return rec, err
	}

	// Bootstrap: nothing to compare against, the first model goes
	// straight to active.
	if !hasChampion {
		if err := s.registry.Promote(candidate.Version.ID); err != nil {
			rec.Decision = DecisionFailed
			rec.Reason = "bootstrap promotion failed"
			s.setState(StateIdle)
			return rec, err
		}
		rec.Decision = DecisionPromoted
		rec.Reason = "bootstrap: first trained model becomes active"
		s.setState(StateIdle)
		return rec, nil
	}

	// Compare and decide.
	s.setState(StateEvaluating)
	decisionRec := s.decide(candidate, champion, rec)
	s.setState(StateIdle)
	return decisionRec, nil
}

// decide applies the promotion policy against the champion.
func (s *Scheduler) decide(candidate *training.Trained, champion model.Version, rec CycleRecord) CycleRecord {
	deltaF1 := candidate.Version.Metrics.F1 - champion.Metrics.F1
	rec.DeltaF1 = deltaF1

	sig := accuracySignificance(champion.Metrics, candidate.Version.Metrics)

	log.Info().
		Str("candidate", candidate.Version.ID).
		Str("champion", champion.ID).
		Float64("deltaF1", deltaF1).
		Float64("significance", sig).
		Msg("candidate evaluated against champion")

	switch {
	case deltaF1 > strongF1Margin && sig > promoSignifBar && s.cfg.AutoDeploy:
		if err := s.registry.Promote(candidate.Version.ID); err != nil {
			rec.Decision = DecisionFailed
			rec.Reason = "promotion failed"
			return rec
		}
		rec.Decision = DecisionPromoted
		rec.Reason = fmt.Sprintf("F1 improved by %.3f with significance %.2f, auto-deployed", deltaF1, sig)

	case deltaF1 > weakF1Margin:
		if err := s.startABTest(champion.ID, candidate.Version.ID); err != nil {
			rec.Decision = DecisionFailed
			rec.Reason = "A/B test start failed: " + err.Error()
			return rec
		}
		rec.Decision = DecisionABTest
		rec.Reason = fmt.Sprintf("F1 improved by %.3f, validating via A/B test", deltaF1)

	default:
		if err := s.registry.Retire(candidate.Version.ID); err != nil {
			log.Warn().Err(err).Str("model", candidate.Version.ID).Msg("failed to retire rejected candidate")
		}
		rec.Decision = DecisionRejected
		rec.Reason = fmt.Sprintf("F1 delta %.3f below the %.2f margin, champion retained", deltaF1, weakF1Margin)
		log.Info().Str("candidate", candidate.Version.ID).Str("reason", rec.Reason).Msg("candidate rejected")
	}

	return rec
}

func (s *Scheduler) startABTest(championID, challengerID string) error {
	if s.abtests == nil {
		return fmt.Errorf("no A/B test manager configured")
	}
	if err := s.registry.MarkChallenger(challengerID); err != nil {
		return err
	}
	t, err := s.abtests.CreateTest(championID, challengerID, "response_rate")
	if err != nil {
		return err
	}
	return s.abtests.StartTest(t.ID)
}

// trainCandidate fits a new model of the champion's family, or a
// baseline when bootstrapping.
func (s *Scheduler) trainCandidate(ctx context.Context, ds training.Dataset, champion model.Version, hasChampion bool) (*training.Trained, error) {
	modelType := model.TypeBaseline
	modelCfg := model.Defaults()
	if hasChampion {
		modelType = champion.Type
		modelCfg = champion.Config
	}

	switch modelType {
	case model.TypeAdvanced:
		return s.trainer.TrainAdvanced(ctx, ds, modelCfg)
	case model.TypeEnsemble:
		return s.trainer.TrainEnsemble(ctx, ds, modelCfg)
	default:
		return s.trainer.TrainBaseline(ctx, ds, modelCfg)
	}
}

// qualityIssues itemizes every failed data-quality check.
func (s *Scheduler) qualityIssues(report training.BuildReport, champion model.Version, hasChampion bool) []string {
	var issues []string

	if report.Completeness < s.cfg.MinCompleteness {
		issues = append(issues, fmt.Sprintf(
			"completeness %.2f below the %.2f floor", report.Completeness, s.cfg.MinCompleteness))
	}
	if report.PositiveRate < labelBalanceLow || report.PositiveRate > labelBalanceHi {
		issues = append(issues, fmt.Sprintf(
			"label balance %.2f outside [%.2f, %.2f]", report.PositiveRate, labelBalanceLow, labelBalanceHi))
	}
	if hasChampion && s.detector != nil {
		analysis, err := s.detector.Detect(champion.ID)
		if err != nil {
			issues = append(issues, "drift check unavailable: "+err.Error())
		} else if analysis.DriftDetected {
			issues = append(issues, fmt.Sprintf(
				"feature drift detected with confidence %.2f", analysis.Confidence))
		}
	}

	return issues
}

// accuracySignificance compares the two versions' holdout accuracies
// with the two-proportion engine and returns the confidence.
func accuracySignificance(champion, candidate model.Metrics) float64 {
	correctA := int64(champion.Accuracy * float64(champion.SampleSize))
	correctB := int64(candidate.Accuracy * float64(candidate.SampleSize))
	r := abtest.TwoProportionTest(correctA, int64(champion.SampleSize), correctB, int64(candidate.SampleSize))
	return r.Confidence
}

func (s *Scheduler) dataWindowStart() time.Time {
	if last := s.lastRetrainTime(); !last.IsZero() {
		return last
	}
	return s.now().AddDate(0, 0, -30)
}

func (s *Scheduler) lastRetrainTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRetrain
}

func (s *Scheduler) markRetrained() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRetrain = s.now()
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}
