package workflow

import "sync"

// JobState is the per-job side-band map strategies use to pass data that
// does not belong in the accumulated output. It is process-local; workers
// never share it.
type JobState struct {
	mu   sync.RWMutex
	data map[string]any
}

// Get returns the value for key.
func (s *JobState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores a value for key.
func (s *JobState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Snapshot returns a shallow copy of the state.
func (s *JobState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// SharedState holds the JobState of every in-flight job in this process,
// keyed by job id. The engine discards a job's entry on every exit path.
type SharedState struct {
	mu   sync.Mutex
	jobs map[string]*JobState
}

// NewSharedState returns an empty SharedState.
func NewSharedState() *SharedState {
	return &SharedState{jobs: make(map[string]*JobState)}
}

// ForJob returns the state for jobID, creating it when absent.
func (s *SharedState) ForJob(jobID string) *JobState {
	s.mu.Lock()
	defer s.mu.Unlock()
	js, ok := s.jobs[jobID]
	if !ok {
		js = &JobState{data: make(map[string]any)}
		s.jobs[jobID] = js
	}
	return js
}

// Discard drops the state for jobID.
func (s *SharedState) Discard(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

// Len reports the number of tracked jobs; exposed for leak checks in tests.
func (s *SharedState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}
