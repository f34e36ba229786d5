package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vedran77/pulsesync/internal/repository"
)

const (
	archiveQueueSize = 512
	archiveTimeout   = 5 * time.Second
)

type archiveJob func(ctx context.Context, repo repository.ArchiveRepository) error

// archiver writes to the archive from one goroutine so jobs run in the
// order the engine produced them.
type archiver struct {
	repo repository.ArchiveRepository
	jobs chan archiveJob
	log  *zap.Logger
}

func newArchiver(repo repository.ArchiveRepository, logger *zap.Logger) *archiver {
	return &archiver{
		repo: repo,
		jobs: make(chan archiveJob, archiveQueueSize),
		log:  logger,
	}
}

// enqueue never blocks the engine loop; a full queue drops the job.
func (a *archiver) enqueue(job archiveJob) {
	select {
	case a.jobs <- job:
	default:
		a.log.Warn("archive queue full, dropping write")
	}
}

func (a *archiver) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-a.jobs:
			jctx, cancel := context.WithTimeout(ctx, archiveTimeout)
			if err := job(jctx, a.repo); err != nil {
				a.log.Warn("archive write failed", zap.Error(err))
			}
			cancel()
		}
	}
}
