package app

import (
	"context"
	"io"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/infra/config"
	"github.com/datallboy/nzbleecher/internal/infra/logger"
	"github.com/datallboy/nzbleecher/internal/nzb"
)

type Processor interface {
	// This allows the engine to trigger repair/extract without importing processor.
	// It returns the directory the archive's output ended up in.
	PostProcess(ctx context.Context, a *nzb.Archive) (string, error)
}

type Store interface {
	SaveHistory(ctx context.Context, rec *domain.HistoryRecord) error
	GetHistory(ctx context.Context, limit int) ([]*domain.HistoryRecord, error)
	GetHistoryRecord(ctx context.Context, id string) (*domain.HistoryRecord, error)

	// SaveNZB keeps an uploaded manifest and returns its path.
	SaveNZB(name string, r io.Reader) (string, error)
}

// Context hold the core environment and shared resources for nzbleecher.
// It acts as the "Single Source of Truth" for the application state.
type Context struct {
	Config *config.Config
	Logger *logger.Logger

	// IDs numbers archives for the lifetime of the process
	IDs *nzb.IDGenerator

	// High-level interfaces for services to use. Both may be nil in CLI mode.
	Processor Processor
	Store     Store
}

// NewContext initializes the base environment.
func NewContext(cfg *config.Config, log *logger.Logger) *Context {
	return &Context{
		Config: cfg,
		Logger: log,
		IDs:    &nzb.IDGenerator{},
	}
}
