package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/infrastructure/memory"
)

const cimInstance = "cim-instance"

func publisherFilter() *domain.FilterSpecification {
	return &domain.FilterSpecification{
		Actions:         []string{"Undecided"},
		Impacts:         []string{"High", "Medium", "Low"},
		Classifications: []string{"Unclassified"},
		Severities:      []string{"Unspecified", "Major", "Moderate", "Minor"},
		Components:      []string{"Default.Other"},
		Checkers:        []string{"TEST_CHECKER"},
		Cutoff:          time.Date(2017, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
}

type fixture struct {
	svc      *memory.Service
	sessions *memory.Sessions
	sink     *memory.Sink
	build    *memory.Build
}

func newFixture() fixture {
	svc := memory.NewService()
	return fixture{
		svc:      svc,
		sessions: memory.NewSessions(map[string]*memory.Service{cimInstance: svc}),
		sink:     memory.NewSink(),
		build:    memory.NewBuild("build-1", "rootUrl/", "buildUrl/"),
	}
}

func (f fixture) reader(continueOnFailure bool) *Reader {
	return NewReader(ReaderDeps{
		Sessions:          f.sessions,
		Sink:              f.sink,
		PageSize:          1000,
		ContinueOnFailure: continueOnFailure,
	})
}

func TestReadWithoutFilter(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.svc.Seed("test-project", "test-stream", memory.GenerateDefects(10, memory.MatchingDefect()))
	reader := f.reader(false)

	report, err := reader.Read(context.Background(), f.build, []domain.Stream{testStream()})
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !report.Success() || report.Total != 10 {
		t.Fatalf("unexpected report: success=%v total=%d", report.Success(), report.Total)
	}

	action, err := f.sink.Load(context.Background(), "build-1")
	if err != nil {
		t.Fatalf("load attached action: %v", err)
	}
	if len(action.Defects()) != 10 {
		t.Fatalf("expected 10 attached defects, got %d", len(action.Defects()))
	}

	assertLines(t, f.build.Lines(), []string{
		`[Coverity] Fetching defects for stream "test-stream"`,
		"[Coverity] Found 10 defects matching all filters",
		"Coverity details: rootUrl/buildUrl/coverity_cim-instance_test-project_test-stream",
	})
	if reader.Phase() != domain.PhaseDone {
		t.Fatalf("phase = %s, want done", reader.Phase())
	}
	if !report.Attached || report.Action.AttachedAt.IsZero() {
		t.Fatalf("attach not recorded: attached=%v at %v", report.Attached, report.Action.AttachedAt)
	}
	if !f.svc.Closed() {
		t.Fatalf("session must be released after the run")
	}
}

func TestReadWithMatchingFilter(t *testing.T) {
	t.Parallel()

	f := newFixture()
	other := memory.MatchingDefect()
	other.Checker = "NULL_RETURNS"
	old := memory.MatchingDefect()
	old.FirstDetected = time.Date(2016, time.December, 31, 0, 0, 0, 0, time.UTC)

	defects := memory.GenerateDefects(3, memory.MatchingDefect())
	defects = append(defects, renumber(memory.GenerateDefects(5, other), 100)...)
	defects = append(defects, renumber(memory.GenerateDefects(2, old), 200)...)
	f.svc.Seed("test-project", "test-stream", defects)

	stream := testStream()
	stream.Filter = publisherFilter()

	report, err := f.reader(false).Read(context.Background(), f.build, []domain.Stream{stream})
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if report.Total != 3 || report.Outcomes[0].Fetched != 10 || report.Outcomes[0].Accepted != 3 {
		t.Fatalf("unexpected report: %+v", report.Outcomes[0])
	}

	assertLines(t, f.build.Lines(), []string{
		`[Coverity] Fetching defects for stream "test-stream"`,
		"[Coverity] Found 3 defects matching all filters",
		"Coverity details: rootUrl/buildUrl/coverity_cim-instance_test-project_test-stream",
	})

	calls := f.svc.Calls()
	if len(calls[0].Filter.Checkers) != 1 || calls[0].Filter.Checkers[0] != "TEST_CHECKER" {
		t.Fatalf("server-side filter not sent: %+v", calls[0].Filter)
	}
}

func TestReadOverOneThousandDefects(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.svc.Seed("test-project", "test-stream", memory.GenerateDefects(3750, memory.MatchingDefect()))
	stream := testStream()
	stream.Filter = publisherFilter()

	report, err := f.reader(false).Read(context.Background(), f.build, []domain.Stream{stream})
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if report.Total != 3750 || len(report.Action.Defects()) != 3750 {
		t.Fatalf("expected 3750 defects, got %d", report.Total)
	}

	assertLines(t, f.build.Lines(), []string{
		`[Coverity] Fetching defects for stream "test-stream"`,
		`[Coverity] Fetching defects for stream "test-stream" (fetched 1000 of 3750)`,
		`[Coverity] Fetching defects for stream "test-stream" (fetched 2000 of 3750)`,
		`[Coverity] Fetching defects for stream "test-stream" (fetched 3000 of 3750)`,
		"[Coverity] Found 3750 defects matching all filters",
		"Coverity details: rootUrl/buildUrl/coverity_cim-instance_test-project_test-stream",
	})
}

func TestReadNothingToReport(t *testing.T) {
	t.Parallel()

	f := newFixture()
	report, err := f.reader(false).Read(context.Background(), f.build, []domain.Stream{testStream()})
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !report.Attached || report.Success() {
		t.Fatalf("zero defects must attach but report no success: %+v", report)
	}
	if len(report.Failed()) != 0 {
		t.Fatalf("empty result is not a failure: %+v", report.Failed())
	}
	assertLines(t, f.build.Lines(), []string{
		`[Coverity] Fetching defects for stream "test-stream"`,
		"[Coverity] Found 0 defects matching all filters",
		"Coverity details: rootUrl/buildUrl/coverity_cim-instance_test-project_test-stream",
	})
}

func TestReadFailureAbortsByDefault(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.svc.Seed("test-project", "test-stream", memory.GenerateDefects(10, memory.MatchingDefect()))
	f.svc.FailAt(0, errors.New("connection reset by peer"))

	second := testStream()
	second.Name = "second-stream"
	reader := f.reader(false)

	report, err := reader.Read(context.Background(), f.build, []domain.Stream{testStream(), second})
	var fetchErr *domain.FetchError
	if !errors.As(err, &fetchErr) || fetchErr.Stream != "test-stream" {
		t.Fatalf("expected fetch error for test-stream, got %v", err)
	}
	if report.Attached || len(f.sink.Attached()) != 0 {
		t.Fatalf("aborted run must not attach")
	}
	if report.Outcomes[0].State != domain.StreamFailed || report.Outcomes[1].State != domain.StreamSkipped {
		t.Fatalf("unexpected outcomes: %+v", report.Outcomes)
	}
	if reader.Phase() != domain.PhaseFailed {
		t.Fatalf("phase = %s, want failed", reader.Phase())
	}
}

func TestReadContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	failing := memory.NewService()
	failing.FailAt(0, &domain.ServiceFault{Message: "license expired"})
	healthy := memory.NewService()
	healthy.Seed("test-project", "test-stream", memory.GenerateDefects(4, memory.MatchingDefect()))

	sink := memory.NewSink()
	build := memory.NewBuild("build-2", "rootUrl/", "buildUrl/")
	reader := NewReader(ReaderDeps{
		Sessions:          memory.NewSessions(map[string]*memory.Service{"broken": failing, cimInstance: healthy}),
		Sink:              sink,
		ContinueOnFailure: true,
	})

	broken := testStream()
	broken.Instance = "broken"
	invalid := domain.Stream{Instance: cimInstance, Name: "no-project"}

	report, err := reader.Read(context.Background(), build, []domain.Stream{broken, invalid, testStream()})
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if !report.Attached || report.Total != 4 {
		t.Fatalf("unexpected report: %+v", report)
	}

	failed := report.Failed()
	if len(failed) != 2 || failed[0].State != domain.StreamFailed || failed[1].State != domain.StreamInvalid {
		t.Fatalf("unexpected failed outcomes: %+v", failed)
	}
	var cfgErr *domain.ConfigurationError
	if !errors.As(failed[1].Err, &cfgErr) || cfgErr.Field != "project" {
		t.Fatalf("expected configuration error on project, got %v", failed[1].Err)
	}

	assertLines(t, build.Lines(), []string{
		`[Coverity] Fetching defects for stream "test-stream"`,
		`[Coverity] Fetching defects for stream "test-stream"`,
		"[Coverity] Found 4 defects matching all filters",
		"Coverity details: rootUrl/buildUrl/coverity_cim-instance_test-project_test-stream",
	})
}

func TestReadReusesSessionPerInstance(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.svc.Seed("test-project", "test-stream", memory.GenerateDefects(2, memory.MatchingDefect()))
	f.svc.Seed("test-project", "other", memory.GenerateDefects(3, memory.MatchingDefect()))

	other := testStream()
	other.Name = "other"

	report, err := f.reader(false).Read(context.Background(), f.build, []domain.Stream{testStream(), other})
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	if report.Total != 5 {
		t.Fatalf("total = %d, want 5", report.Total)
	}
	if n := f.sessions.Opened(cimInstance); n != 1 {
		t.Fatalf("opened %d sessions, want 1", n)
	}
}

func TestReadCancelledBeforeStream(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.reader(true).Read(ctx, f.build, []domain.Stream{testStream()})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if !report.Cancelled || report.Attached || report.Outcomes[0].State != domain.StreamSkipped {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestReadDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	f := newFixture()
	defects := memory.GenerateDefects(5, memory.MatchingDefect())
	repeat := defects[0]
	repeat.CID = 99999
	repeat.Checker = "LATER_CHECKER"
	f.svc.Seed("test-project", "test-stream", append(defects, repeat))

	reader := NewReader(ReaderDeps{Sessions: f.sessions, Sink: f.sink, PageSize: 2})
	report, err := reader.Read(context.Background(), f.build, []domain.Stream{testStream()})
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}

	if calls := f.svc.Calls(); len(calls) != 3 {
		t.Fatalf("expected the duplicate on a later page, got %d page requests", len(calls))
	}
	if report.Outcomes[0].Fetched != 6 || report.Total != 5 {
		t.Fatalf("fetched %d, accepted %d; want 6 fetched, 5 accepted", report.Outcomes[0].Fetched, report.Total)
	}

	kept := report.Action.Defects()[0]
	if kept.MergeKey != repeat.MergeKey || kept.CID != defects[0].CID || kept.Checker != defects[0].Checker {
		t.Fatalf("first occurrence not kept: %+v", kept)
	}
	assertLines(t, f.build.Lines(), []string{
		`[Coverity] Fetching defects for stream "test-stream"`,
		`[Coverity] Fetching defects for stream "test-stream" (fetched 2 of 6)`,
		`[Coverity] Fetching defects for stream "test-stream" (fetched 4 of 6)`,
		"[Coverity] Found 5 defects matching all filters",
		"Coverity details: rootUrl/buildUrl/coverity_cim-instance_test-project_test-stream",
	})
}

func renumber(defects []domain.DefectSummary, base int) []domain.DefectSummary {
	for i := range defects {
		defects[i].MergeKey = defects[i].MergeKey + "-" + string(rune('a'+base/100))
		defects[i].CID += int64(base)
	}
	return defects
}
