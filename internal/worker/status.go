package worker

import (
	"sync/atomic"

	"github.com/stanstork/chartdata-api/internal/models"
)

// StatusStore holds the latest published run snapshot for pollers. The
// coordinator is its only writer; readers never block it.
type StatusStore struct {
	current atomic.Pointer[models.RunState]
}

func NewStatusStore() *StatusStore {
	s := &StatusStore{}
	s.current.Store(&models.RunState{Phase: models.PhaseIdle})
	return s
}

// Snapshot returns a copy of the latest published state.
func (s *StatusStore) Snapshot() models.RunState {
	return s.current.Load().Clone()
}

func (s *StatusStore) load() models.RunState {
	return *s.current.Load()
}

func (s *StatusStore) publish(state models.RunState) {
	s.current.Store(&state)
}
