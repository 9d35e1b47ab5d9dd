// Package lifecycle owns model versions after training: the registry
// of fitted models, promotion to active, and the retraining scheduler
// that decides when a new candidate is worth producing.
package lifecycle

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"leadscore-engine/internal/metrics"
	"leadscore-engine/internal/model"
)

// ErrNoActiveModel is returned when resolution needs an active model
// and none has been promoted yet.
var ErrNoActiveModel = errors.New("no active model")

// VersionStore persists version metadata across restarts. Implemented
// by the storage layer.
type VersionStore interface {
	SaveVersion(v model.Version) error
	ListVersions() ([]model.Version, error)
}

// Registry tracks every trained version and holds the fitted models in
// memory. Version metadata survives restarts through the store; the
// weights themselves do not, so a restarted process must retrain or
// re-register before it can serve a version again.
type Registry struct {
	mu       sync.RWMutex
	store    VersionStore
	versions map[string]model.Version
	fitted   map[string]model.Model
	activeID string
	m        *metrics.Metrics
	now      func() time.Time
}

// NewRegistry loads persisted version metadata and rebuilds the active
// pointer from it.
func NewRegistry(store VersionStore, m *metrics.Metrics) (*Registry, error) {
	r := &Registry{
		store:    store,
		versions: make(map[string]model.Version),
		fitted:   make(map[string]model.Model),
		m:        m,
		now:      time.Now,
	}

	if store != nil {
		stored, err := store.ListVersions()
		if err != nil {
			return nil, fmt.Errorf("load model versions: %w", err)
		}
		for _, v := range stored {
			r.versions[v.ID] = v
			if v.Status == model.StatusActive {
				r.activeID = v.ID
			}
		}
	}

	return r, nil
}

// Register adds a freshly trained version and its fitted model.
func (r *Registry) Register(m model.Model, v model.Version) error {
	if v.ID == "" {
		return fmt.Errorf("version has no id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.versions[v.ID] = v
	r.fitted[v.ID] = m
	return r.persist(v)
}

// Resolve returns the fitted model for an id; an empty id resolves the
// active model. Satisfies the scoring engine's model provider.
func (r *Registry) Resolve(modelID string) (model.Model, model.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if modelID == "" {
		if r.activeID == "" {
			return nil, model.Version{}, ErrNoActiveModel
		}
		modelID = r.activeID
	}

	v, ok := r.versions[modelID]
	if !ok {
		return nil, model.Version{}, fmt.Errorf("unknown model version %s", modelID)
	}
	mdl, ok := r.fitted[modelID]
	if !ok {
		return nil, model.Version{}, fmt.Errorf("model %s has no fitted weights in this process", modelID)
	}
	return mdl, v, nil
}

// Promote makes the given version active and retires the previous
// active version in the same step, so there is never more or less than
// one active model.
func (r *Registry) Promote(modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[modelID]
	if !ok {
		return fmt.Errorf("unknown model version %s", modelID)
	}
	if _, ok := r.fitted[modelID]; !ok {
		return fmt.Errorf("cannot promote %s: no fitted weights in this process", modelID)
	}
	if r.activeID == modelID {
		return nil
	}

	if r.activeID != "" {
		prev := r.versions[r.activeID]
		prev.Status = model.StatusRetired
		r.versions[prev.ID] = prev
		if err := r.persist(prev); err != nil {
			return err
		}
	}

	v.Status = model.StatusActive
	v.PromotedAt = r.now()
	r.versions[v.ID] = v
	r.activeID = v.ID
	if err := r.persist(v); err != nil {
		return err
	}

	if r.m != nil {
		r.m.Promotions.Inc()
		r.m.ActiveModelAge.Set(0)
	}
	log.Info().
		Str("model", v.ID).
		Str("type", string(v.Type)).
		Float64("f1", v.Metrics.F1).
		Msg("model promoted to active")
	return nil
}

// MarkChallenger flags a version as the running challenger.
func (r *Registry) MarkChallenger(modelID string) error {
	return r.setStatus(modelID, model.StatusChallenger)
}

// Retire removes a version from serving consideration. The active
// model cannot be retired directly; promote a replacement instead.
func (r *Registry) Retire(modelID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if modelID == r.activeID {
		return fmt.Errorf("cannot retire the active model %s", modelID)
	}
	v, ok := r.versions[modelID]
	if !ok {
		return fmt.Errorf("unknown model version %s", modelID)
	}
	v.Status = model.StatusRetired
	r.versions[v.ID] = v
	delete(r.fitted, modelID)
	return r.persist(v)
}

// Active returns the active version, if any.
func (r *Registry) Active() (model.Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID == "" {
		return model.Version{}, false
	}
	return r.versions[r.activeID], true
}

// Versions returns a snapshot of all known versions, newest first.
func (r *Registry) Versions() []model.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Version, 0, len(r.versions))
	for _, v := range r.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ObserveAge refreshes the active-model age gauge. Called on the
// scheduler tick.
func (r *Registry) ObserveAge() {
	if r.m == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.activeID == "" {
		return
	}
	v := r.versions[r.activeID]
	ref := v.PromotedAt
	if ref.IsZero() {
		ref = v.CreatedAt
	}
	r.m.ActiveModelAge.Set(r.now().Sub(ref).Seconds())
}

func (r *Registry) setStatus(modelID string, s model.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.versions[modelID]
	if !ok {
		return fmt.Errorf("unknown model version %s", modelID)
	}
	v.Status = s
	r.versions[v.ID] = v
	return r.persist(v)
}

func (r *Registry) persist(v model.Version) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveVersion(v); err != nil {
		return fmt.Errorf("persist version %s: %w", v.ID, err)
	}
	return nil
}
