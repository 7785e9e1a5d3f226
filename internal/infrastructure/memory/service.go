package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/ports"
)

// PageCall records one page request.
type PageCall struct {
	Filter   ports.StreamFilter
	Offset   int
	PageSize int
}

// Service is an in-memory paged defect service. Defects are served per
// "project/stream" in insertion order; the request filter is recorded but
// not applied.
type Service struct {
	mu      sync.Mutex
	streams map[string][]domain.DefectSummary
	faults  map[int]error
	calls   []PageCall
	closed  bool
}

var _ ports.DefectSession = (*Service)(nil)

// NewService builds an empty service.
func NewService() *Service {
	return &Service{
		streams: map[string][]domain.DefectSummary{},
		faults:  map[int]error{},
	}
}

// Seed replaces the defects served for project/stream.
func (s *Service) Seed(project, stream string, defects []domain.DefectSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[key(project, stream)] = defects
}

// FailAt makes the page request at offset return err.
func (s *Service) FailAt(offset int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[offset] = err
}

// Calls returns the recorded page requests.
func (s *Service) Calls() []PageCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PageCall(nil), s.calls...)
}

// Closed reports whether Close was called.
func (s *Service) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// GetMergedDefectsForStreams serves defects[offset:offset+pageSize].
func (s *Service) GetMergedDefectsForStreams(ctx context.Context, filter ports.StreamFilter, offset, pageSize int) (ports.DefectPage, error) {
	if err := ctx.Err(); err != nil {
		return ports.DefectPage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, PageCall{Filter: filter, Offset: offset, PageSize: pageSize})
	if err, ok := s.faults[offset]; ok {
		return ports.DefectPage{}, err
	}

	all := s.streams[key(filter.Project, filter.Stream)]
	if offset >= len(all) {
		return ports.DefectPage{Total: len(all)}, nil
	}
	end := min(offset+pageSize, len(all))
	page := make([]domain.DefectSummary, end-offset)
	copy(page, all[offset:end])
	return ports.DefectPage{Defects: page, Total: len(all)}, nil
}

// Close marks the session closed.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func key(project, stream string) string {
	return project + "/" + stream
}

// GenerateDefects returns n defects copied from tmpl with sequential CIDs
// and merge keys.
func GenerateDefects(n int, tmpl domain.DefectSummary) []domain.DefectSummary {
	defects := make([]domain.DefectSummary, n)
	for i := range defects {
		d := tmpl
		d.CID = int64(10000 + i)
		d.MergeKey = fmt.Sprintf("%032x", i+1)
		if d.FirstDetected.IsZero() {
			d.FirstDetected = time.Date(2017, time.June, 1, 0, 0, 0, 0, time.UTC)
		}
		defects[i] = d
	}
	return defects
}

// MatchingDefect is a template accepted by the filter used in publisher
// acceptance scenarios.
func MatchingDefect() domain.DefectSummary {
	return domain.DefectSummary{
		Classification: "Unclassified",
		Severity:       "Unspecified",
		Impact:         "Medium",
		Action:         "Undecided",
		Component:      "Default.Other",
		Checker:        "TEST_CHECKER",
		DisplayType:    "Test defect",
		File:           "/src/main.c",
		Function:       "main",
		Line:           42,
		FirstDetected:  time.Date(2017, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
}
