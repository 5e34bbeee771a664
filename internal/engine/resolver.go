package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/stanstork/chartdata-api/internal/models"
)

// ProfileLoader supplies the connection profiles known at startup.
type ProfileLoader interface {
	LoadProfiles(ctx context.Context) (map[models.SourceSystem]models.ConnectionProfile, error)
}

// StaticProfiles serves profiles that were decoded from the config file.
type StaticProfiles map[models.SourceSystem]models.ConnectionProfile

func (s StaticProfiles) LoadProfiles(ctx context.Context) (map[models.SourceSystem]models.ConnectionProfile, error) {
	out := make(map[models.SourceSystem]models.ConnectionProfile, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out, nil
}

// Resolver maps a source system to its connection profile. Profiles are
// loaded on first use and cached until Reconfigure or Invalidate.
type Resolver struct {
	loader ProfileLoader

	mu       sync.RWMutex
	loaded   bool
	profiles map[models.SourceSystem]models.ConnectionProfile
}

func NewResolver(loader ProfileLoader) *Resolver {
	return &Resolver{loader: loader}
}

func (r *Resolver) Resolve(ctx context.Context, system models.SourceSystem) (models.ConnectionProfile, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return models.ConnectionProfile{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[system]
	if !ok {
		return models.ConnectionProfile{}, &ConfigurationError{System: system}
	}
	return p, nil
}

// Profiles returns a copy of every cached profile.
func (r *Resolver) Profiles(ctx context.Context) (map[models.SourceSystem]models.ConnectionProfile, error) {
	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[models.SourceSystem]models.ConnectionProfile, len(r.profiles))
	for k, v := range r.profiles {
		out[k] = v
	}
	return out, nil
}

// Reconfigure replaces the cached profiles. Callers must not do this while a
// run is in flight.
func (r *Resolver) Reconfigure(profiles map[models.SourceSystem]models.ConnectionProfile) {
	next := make(map[models.SourceSystem]models.ConnectionProfile, len(profiles))
	for k, v := range profiles {
		v.System = k
		next[k] = v
	}
	r.mu.Lock()
	r.profiles = next
	r.loaded = true
	r.mu.Unlock()
}

// Invalidate drops the cache so the next Resolve reloads from the loader.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.loaded = false
	r.profiles = nil
	r.mu.Unlock()
}

func (r *Resolver) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	if r.loader == nil {
		r.profiles = map[models.SourceSystem]models.ConnectionProfile{}
		r.loaded = true
		return nil
	}
	profiles, err := r.loader.LoadProfiles(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to load connection profiles")
	}
	for k, v := range profiles {
		v.System = k
		profiles[k] = v
	}
	r.profiles = profiles
	r.loaded = true
	return nil
}
