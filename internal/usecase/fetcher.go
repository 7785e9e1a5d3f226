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

// DefaultPageSize is the defect service's page limit.
const DefaultPageSize = 1000

// Fetcher pages every merged defect of a stream out of a defect service.
type Fetcher struct {
	pageSize int
	console  ports.Console
	logger   *slog.Logger
}

// NewFetcher builds a fetcher; pageSize below one falls back to DefaultPageSize.
func NewFetcher(pageSize int, console ports.Console, logger *slog.Logger) *Fetcher {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Fetcher{pageSize: pageSize, console: console, logger: logger}
}

// PageSize reports the page size used per request.
func (f *Fetcher) PageSize() int {
	return f.pageSize
}

// Fetch requests pages until the offset reaches the total announced by the
// first page, or a page comes back empty. A service error aborts the stream with a *domain.FetchError;
// cancellation between pages returns the defects fetched so far together
// with an error wrapping domain.ErrCancelled.
func (f *Fetcher) Fetch(ctx context.Context, svc ports.DefectService, stream domain.Stream) ([]domain.DefectSummary, domain.FetchProgress, error) {
	req := filter.ServerFilter(stream)
	name := stream.Name

	f.console.Printf("Fetching defects for stream \"%s\"", name)

	page, err := svc.GetMergedDefectsForStreams(ctx, req, 0, f.pageSize)
	if err != nil {
		return nil, domain.FetchProgress{}, f.fault(stream, 0, err)
	}

	if page.Total < 0 {
		return nil, domain.FetchProgress{}, f.fault(stream, 0, fmt.Errorf("negative total %d in defect page", page.Total))
	}

	progress := domain.FetchProgress{Total: page.Total}
	if page.Total == 0 {
		f.debug("stream has no matching defects", "stream", name)
		return nil, progress, nil
	}

	defects := make([]domain.DefectSummary, 0, min(page.Total, f.pageSize))
	defects = f.collect(defects, page.Defects, stream)
	progress.Fetched = len(defects)
	f.reportProgress(name, progress)

	for offset := f.pageSize; offset < progress.Total; offset += f.pageSize {
		if err := ctx.Err(); err != nil {
			return defects, progress, fmt.Errorf("stream %s after %d of %d: %w: %w", name, progress.Fetched, progress.Total, domain.ErrCancelled, err)
		}

		page, err = svc.GetMergedDefectsForStreams(ctx, req, offset, f.pageSize)
		if err != nil {
			return defects, progress, f.fault(stream, offset, err)
		}

		if len(page.Defects) == 0 {
			f.warn("defect service ran out of pages before the announced total",
				"stream", name, "offset", offset, "fetched", progress.Fetched, "total", progress.Total)
			break
		}

		defects = f.collect(defects, page.Defects, stream)
		progress.Fetched = len(defects)
		f.reportProgress(name, progress)
	}

	f.debug("stream fetched", "stream", name, "fetched", progress.Fetched, "total", progress.Total)
	return defects, progress, nil
}

func (f *Fetcher) collect(dst, page []domain.DefectSummary, stream domain.Stream) []domain.DefectSummary {
	for _, d := range page {
		if d.Action == "" && stream.DefaultAction != "" {
			d.Action = stream.DefaultAction
		}
		dst = append(dst, d)
	}
	return dst
}

// reportProgress only fires on full-page boundaries strictly below the total.
func (f *Fetcher) reportProgress(name string, p domain.FetchProgress) {
	if p.Fetched == 0 || p.Fetched%f.pageSize != 0 || p.Fetched >= p.Total {
		return
	}
	f.console.Printf("Fetching defects for stream \"%s\" (fetched %d of %d)", name, p.Fetched, p.Total)
}

func (f *Fetcher) fault(stream domain.Stream, offset int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", domain.ErrCancelled, err)
	}
	return &domain.FetchError{
		Instance: stream.Instance,
		Project:  stream.Project,
		Stream:   stream.Name,
		Offset:   offset,
		Err:      err,
	}
}

func (f *Fetcher) warn(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}

func (f *Fetcher) debug(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Debug(msg, args...)
	}
}
