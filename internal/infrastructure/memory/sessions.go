package memory

import (
	"context"
	"fmt"
	"sync"

	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/ports"
)

// Sessions hands out in-memory services by instance name.
type Sessions struct {
	mu       sync.Mutex
	services map[string]*Service
	opened   map[string]int
}

var _ ports.SessionFactory = (*Sessions)(nil)

// NewSessions maps instance names to services.
func NewSessions(services map[string]*Service) *Sessions {
	return &Sessions{services: services, opened: map[string]int{}}
}

// Open returns the service registered for instance.
func (s *Sessions) Open(_ context.Context, instance string) (ports.DefectSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[instance]
	if !ok {
		return nil, fmt.Errorf("instance %s is not configured", instance)
	}
	s.opened[instance]++
	return svc, nil
}

// Opened reports how many sessions were opened for instance.
func (s *Sessions) Opened(instance string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened[instance]
}

// Sink keeps attached build records in memory.
type Sink struct {
	mu      sync.Mutex
	actions map[string]domain.BuildAction
	order   []string
}

var _ ports.ResultStore = (*Sink)(nil)

// NewSink builds an empty sink.
func NewSink() *Sink {
	return &Sink{actions: map[string]domain.BuildAction{}}
}

// Attach stores action; a build can only be attached once.
func (s *Sink) Attach(_ context.Context, action domain.BuildAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[action.BuildID]; ok {
		return domain.ErrAlreadyAttached
	}
	s.actions[action.BuildID] = action
	s.order = append(s.order, action.BuildID)
	return nil
}

// Load returns the record attached to buildID.
func (s *Sink) Load(_ context.Context, buildID string) (domain.BuildAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	action, ok := s.actions[buildID]
	if !ok {
		return domain.BuildAction{}, fmt.Errorf("no defect record for build %s", buildID)
	}
	return action, nil
}

// Attached returns build ids in attach order.
func (s *Sink) Attached() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}
