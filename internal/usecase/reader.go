package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/filter"
	"CoverityPublisher/internal/ports"
)

// ReaderDeps wires the collaborators of a defect read.
type ReaderDeps struct {
	Sessions ports.SessionFactory
	Sink     ports.ResultSink
	PageSize int
	// ContinueOnFailure keeps processing the remaining streams after a
	// stream fails; otherwise the first failure aborts the run unattached.
	ContinueOnFailure bool
	Logger            *slog.Logger
}

// Reader fetches, filters and reconciles the defects of a build's streams.
// A Reader runs one build at a time.
type Reader struct {
	sessions          ports.SessionFactory
	sink              ports.ResultSink
	pageSize          int
	continueOnFailure bool
	logger            *slog.Logger
	phase             domain.Phase
}

// NewReader constructs the orchestration component.
func NewReader(deps ReaderDeps) *Reader {
	return &Reader{
		sessions:          deps.Sessions,
		sink:              deps.Sink,
		pageSize:          deps.PageSize,
		continueOnFailure: deps.ContinueOnFailure,
		logger:            deps.Logger,
		phase:             domain.PhaseIdle,
	}
}

// Phase reports where the last or current run stands.
func (r *Reader) Phase() domain.Phase {
	return r.phase
}

// Read processes streams in order and attaches the reconciled record to the
// build. Every outcome is reported; the returned error is the fault that
// stopped the run, if any.
func (r *Reader) Read(ctx context.Context, build ports.BuildContext, streams []domain.Stream) (domain.Report, error) {
	if r.sessions == nil || r.sink == nil {
		return domain.Report{}, fmt.Errorf("defect reader is not configured")
	}

	r.phase = domain.PhaseIdle
	report := domain.Report{
		BuildID:  build.ID(),
		Outcomes: make([]domain.StreamOutcome, len(streams)),
	}
	for i, s := range streams {
		report.Outcomes[i] = domain.StreamOutcome{Stream: s, State: domain.StreamPending}
	}

	pool := newSessionPool(r.sessions, r.logger)
	defer pool.closeAll()

	fetcher := NewFetcher(r.pageSize, build.Console(), r.logger)
	reconciler := NewReconciler(build, r.sink, r.logger)

	for i, stream := range streams {
		outcome := &report.Outcomes[i]

		if err := ctx.Err(); err != nil {
			return r.abort(report, i, true, fmt.Errorf("%w before stream %s: %w", domain.ErrCancelled, stream.Name, err))
		}

		if err := stream.Validate(); err != nil {
			outcome.State, outcome.Err = domain.StreamInvalid, err
			r.warn("stream configuration rejected", "stream", stream.Name, "error", err)
			if !r.continueOnFailure {
				return r.abort(report, i+1, false, err)
			}
			continue
		}

		r.phase = domain.PhaseFetching
		defects, progress, err := r.fetch(ctx, pool, fetcher, stream)
		outcome.Fetched = progress.Fetched
		if err != nil {
			outcome.State, outcome.Err = domain.StreamFailed, err
			if errors.Is(err, domain.ErrCancelled) {
				return r.abort(report, i+1, true, err)
			}
			r.warn("stream fetch failed", "stream", stream.Name, "instance", stream.Instance, "error", err)
			if !r.continueOnFailure {
				return r.abort(report, i+1, false, err)
			}
			continue
		}

		r.phase = domain.PhaseFiltering
		kept := filter.Apply(defects, stream.Filter)
		outcome.Accepted = reconciler.Add(stream, kept)
		outcome.State = domain.StreamFetched
	}

	r.phase = domain.PhaseReconciling
	action, err := reconciler.Finish(ctx)
	report.Action = action
	report.Total = action.Total()
	if err != nil {
		r.phase = domain.PhaseFailed
		return report, err
	}

	report.Attached = true
	r.phase = domain.PhaseDone
	return report, nil
}

func (r *Reader) fetch(ctx context.Context, pool *sessionPool, fetcher *Fetcher, stream domain.Stream) ([]domain.DefectSummary, domain.FetchProgress, error) {
	session, err := pool.get(ctx, stream.Instance)
	if err != nil {
		return nil, domain.FetchProgress{}, &domain.FetchError{
			Instance: stream.Instance,
			Project:  stream.Project,
			Stream:   stream.Name,
			Err:      err,
		}
	}
	return fetcher.Fetch(ctx, session, stream)
}

// abort marks streams from index next onward as skipped and stops the run
// without attaching anything.
func (r *Reader) abort(report domain.Report, next int, cancelled bool, err error) (domain.Report, error) {
	for i := next; i < len(report.Outcomes); i++ {
		if report.Outcomes[i].State == domain.StreamPending {
			report.Outcomes[i].State = domain.StreamSkipped
		}
	}
	report.Cancelled = cancelled
	r.phase = domain.PhaseFailed
	return report, fmt.Errorf("read defects for build %s: %w", report.BuildID, err)
}

func (r *Reader) warn(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}

// sessionPool opens one session per instance on first use and closes them
// all when the run ends.
type sessionPool struct {
	factory  ports.SessionFactory
	logger   *slog.Logger
	sessions map[string]ports.DefectSession
	order    []string
}

func newSessionPool(factory ports.SessionFactory, logger *slog.Logger) *sessionPool {
	return &sessionPool{
		factory:  factory,
		logger:   logger,
		sessions: map[string]ports.DefectSession{},
	}
}

func (p *sessionPool) get(ctx context.Context, instance string) (ports.DefectSession, error) {
	if s, ok := p.sessions[instance]; ok {
		return s, nil
	}
	s, err := p.factory.Open(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("open session for instance %s: %w", instance, err)
	}
	p.sessions[instance] = s
	p.order = append(p.order, instance)
	return s, nil
}

func (p *sessionPool) closeAll() {
	for _, name := range p.order {
		if err := p.sessions[name].Close(); err != nil && p.logger != nil {
			p.logger.Warn("close defect session", "instance", name, "error", err)
		}
	}
	p.sessions = map[string]ports.DefectSession{}
	p.order = nil
}
