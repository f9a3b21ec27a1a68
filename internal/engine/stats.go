package engine

import (
	"sync"
	"time"

	"github.com/KRISHNAKUMARPS2002/DataBase-Change-Detector/internal/models"
)

// Stats tracks per-source cycle counters. One instance is owned by each
// orchestrator and injected where reporting needs it; there is no global.
type Stats struct {
	mu       sync.RWMutex
	bySource map[string]*models.SyncStats
}

func NewStats(sources ...string) *Stats {
	s := &Stats{bySource: make(map[string]*models.SyncStats)}
	for _, src := range sources {
		s.bySource[src] = &models.SyncStats{}
	}
	return s
}

func (s *Stats) ensure(source string) *models.SyncStats {
	st, ok := s.bySource[source]
	if !ok {
		st = &models.SyncStats{}
		s.bySource[source] = st
	}
	return st
}

// RecordSuccess folds one successful cycle into the source's counters.
func (s *Stats) RecordSuccess(source string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensure(source)
	now := time.Now()
	st.TotalCycles++
	st.SuccessfulCycles++
	st.LastCycleAt = now
	st.LastSuccessAt = now
	st.TotalDuration += duration
	st.AvgDuration = st.TotalDuration / time.Duration(st.SuccessfulCycles)
}

// RecordFailure folds one failed cycle into the source's counters.
func (s *Stats) RecordFailure(source string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.ensure(source)
	now := time.Now()
	st.TotalCycles++
	st.FailedCycles++
	st.LastCycleAt = now
	st.LastErrorAt = now
	if err != nil {
		st.LastError = err.Error()
	}
}

// Snapshot returns a copy of every source's counters, safe to serialize
// while cycles keep running.
func (s *Stats) Snapshot() map[string]models.SyncStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.SyncStats, len(s.bySource))
	for src, st := range s.bySource {
		out[src] = *st
	}
	return out
}
