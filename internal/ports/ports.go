package ports

import (
	"context"
	"time"

	"CoverityPublisher/internal/domain"
)

// StreamFilter is the part of a stream's filter the defect service applies itself.
type StreamFilter struct {
	Project            string
	Stream             string
	Checkers           []string
	Classifications    []string
	Actions            []string
	Severities         []string
	Impacts            []string
	Components         []string
	FirstDetectedAfter time.Time
}

// DefectPage is one page of merged defects plus the server-side total.
type DefectPage struct {
	Defects []domain.DefectSummary
	Total   int
}

// DefectService pages merged defects of a stream.
type DefectService interface {
	GetMergedDefectsForStreams(ctx context.Context, filter StreamFilter, offset, pageSize int) (DefectPage, error)
}

// DefectSession is a DefectService bound to one instance for one build run.
type DefectSession interface {
	DefectService
	Close() error
}

// SessionFactory opens sessions against configured Connect instances.
type SessionFactory interface {
	Open(ctx context.Context, instance string) (DefectSession, error)
}

// Console writes lines to the build console.
type Console interface {
	// Printf writes a line tagged with the plugin prefix.
	Printf(format string, args ...any)
	// Plainf writes an untagged line.
	Plainf(format string, args ...any)
}

// BuildContext exposes the build the defects are published to.
type BuildContext interface {
	ID() string
	RootURL() string
	URL() string
	Console() Console
}

// ResultSink receives the build's defect record exactly once.
type ResultSink interface {
	Attach(ctx context.Context, action domain.BuildAction) error
}

// ResultStore is a ResultSink that report renderers can read back.
type ResultStore interface {
	ResultSink
	Load(ctx context.Context, buildID string) (domain.BuildAction, error)
}
