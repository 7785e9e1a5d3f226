package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/ports"
)

// Reconciler collects accepted defects per stream and attaches them to the
// build once. Deduplication is per stream: the same merge key reached
// through two streams is recorded twice.
type Reconciler struct {
	build    ports.BuildContext
	sink     ports.ResultSink
	logger   *slog.Logger
	now      func() time.Time
	streams  []domain.StreamResult
	seen     []map[string]struct{}
	attached bool
}

// NewReconciler binds the reconciler to one build execution.
func NewReconciler(build ports.BuildContext, sink ports.ResultSink, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		build:  build,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

// Add records the filtered defects of a stream, dropping repeated merge keys
// and keeping the first occurrence. It returns how many defects were accepted.
// Adding the same stream twice extends its existing entry.
func (r *Reconciler) Add(stream domain.Stream, defects []domain.DefectSummary) int {
	idx := r.indexOf(stream)
	if idx < 0 {
		r.streams = append(r.streams, domain.StreamResult{Stream: stream})
		r.seen = append(r.seen, map[string]struct{}{})
		idx = len(r.streams) - 1
	}

	seen := r.seen[idx]
	accepted := 0
	for _, d := range defects {
		if _, ok := seen[d.MergeKey]; ok {
			continue
		}
		seen[d.MergeKey] = struct{}{}
		r.streams[idx].Defects = append(r.streams[idx].Defects, d)
		accepted++
	}

	if dropped := len(defects) - accepted; dropped > 0 {
		r.debug("dropped duplicate merge keys", "stream", stream.Name, "dropped", dropped)
	}
	return accepted
}

// Total is the number of accepted defects across all added streams.
func (r *Reconciler) Total() int {
	total := 0
	for _, s := range r.streams {
		total += len(s.Defects)
	}
	return total
}

// Finish logs the totals, attaches the record and returns it. It must be
// called at most once per build; a second call panics.
func (r *Reconciler) Finish(ctx context.Context) (domain.BuildAction, error) {
	if r.attached {
		panic("usecase: defect record attached twice for build " + r.build.ID())
	}
	r.attached = true

	action := domain.BuildAction{
		BuildID:    r.build.ID(),
		Streams:    r.streams,
		AttachedAt: r.now().UTC(),
	}

	console := r.build.Console()
	console.Printf("Found %d defects matching all filters", action.Total())
	for _, s := range action.Streams {
		console.Plainf("Coverity details: %s", DetailsURL(r.build, s.Stream))
	}

	if err := r.sink.Attach(ctx, action); err != nil {
		return action, fmt.Errorf("attach defects to build %s: %w", action.BuildID, err)
	}

	r.debug("defect record attached", "build", action.BuildID, "streams", len(action.Streams), "defects", action.Total())
	return action, nil
}

// DetailsURL is the build page listing a stream's defects.
func DetailsURL(build ports.BuildContext, stream domain.Stream) string {
	return build.RootURL() + build.URL() + "coverity_" + stream.Key()
}

func (r *Reconciler) indexOf(stream domain.Stream) int {
	for i, s := range r.streams {
		if s.Stream.Key() == stream.Key() {
			return i
		}
	}
	return -1
}

func (r *Reconciler) debug(msg string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
