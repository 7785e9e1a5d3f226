package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"CoverityPublisher/internal/config"
	"CoverityPublisher/internal/domain"
	"CoverityPublisher/internal/infrastructure/cim"
	"CoverityPublisher/internal/infrastructure/storage"
	"CoverityPublisher/internal/logging"
	"CoverityPublisher/internal/ports"
	"CoverityPublisher/internal/usecase"
)

// Deps overrides the adapters New would build from configuration.
type Deps struct {
	Sessions ports.SessionFactory
	Store    ports.ResultStore
}

// Application wires configs to use cases.
type Application struct {
	cfg    config.Config
	logger *slog.Logger
	store  ports.ResultStore
	reader *usecase.Reader
	close  func() error
}

// New builds the application, opening the record store named in cfg unless
// deps supplies one.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger, deps Deps) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	closeFn := func() error { return nil }
	store := deps.Store
	if store == nil {
		sqlStore, err := storage.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, fmt.Errorf("open record store: %w", err)
		}
		store, closeFn = sqlStore, sqlStore.Close
	}

	sessions := deps.Sessions
	if sessions == nil {
		sessions = cim.NewFactory(cfg.Instances, baseLogger.With("component", "cim"))
	}

	reader := usecase.NewReader(usecase.ReaderDeps{
		Sessions:          sessions,
		Sink:              store,
		PageSize:          cfg.Publisher.PageSize,
		ContinueOnFailure: cfg.Publisher.ContinueOnFailure,
		Logger:            baseLogger.With("component", "reader"),
	})

	return &Application{
		cfg:    cfg,
		logger: baseLogger,
		store:  store,
		reader: reader,
		close:  closeFn,
	}, nil
}

// Publish reads the configured streams' defects and attaches them to build.
// Console lines go to console.
func (a *Application) Publish(ctx context.Context, build BuildInfo, console io.Writer) (domain.Report, error) {
	streams, err := a.cfg.DomainStreams()
	if err != nil {
		return domain.Report{}, err
	}

	bc := newBuildContext(build, console)
	a.logger.Info("publishing defects", "build", bc.ID(), "streams", len(streams))

	report, err := a.reader.Read(ctx, bc, streams)
	for _, o := range report.Failed() {
		a.logger.Error("stream not published", "stream", o.Stream.Name, "instance", o.Stream.Instance, "state", o.State, "error", o.Err)
	}
	if err != nil {
		return report, err
	}

	a.logger.Info("defects published", "build", report.BuildID, "total", report.Total, "success", report.Success())
	return report, nil
}

// Load returns the record attached to a build.
func (a *Application) Load(ctx context.Context, buildID string) (domain.BuildAction, error) {
	return a.store.Load(ctx, buildID)
}

// Close releases the record store.
func (a *Application) Close() error {
	return a.close()
}
