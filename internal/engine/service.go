// Package engine runs the download workers and the coordinating goroutine
// that owns loading, assembly and archive completion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/datallboy/nzbleecher/internal/app"
	"github.com/datallboy/nzbleecher/internal/assembly"
	"github.com/datallboy/nzbleecher/internal/decoding"
	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/infra/logger"
	"github.com/datallboy/nzbleecher/internal/loader"
	"github.com/datallboy/nzbleecher/internal/metrics"
	"github.com/datallboy/nzbleecher/internal/nzb"
	"github.com/datallboy/nzbleecher/internal/queue"
	"github.com/gofrs/flock"
	"github.com/segmentio/ksuid"
	"golang.org/x/time/rate"
)

const lockFileName = ".nzbleecher.lock"

type Service struct {
	ctx       *app.Context
	log       *logger.Logger
	providers []domain.Provider

	queue     *queue.DownloadQueue
	coord     *Coordinator
	loader    *loader.Loader
	assembler *assembly.Assembler
	inspector nzb.PayloadInspector
	limiter   *rate.Limiter

	workingDir        string
	overwriteZeroByte bool
	pollInterval      time.Duration
	retryLimit        int
	retryBackoff      time.Duration

	mu       sync.Mutex
	jobs     map[int64]*job
	runCtx   context.Context
	stop     context.CancelFunc
	fatalErr error
	changed  chan struct{}
}

// NewService wires the queue, loader and assembler around the given server
// pools. Pool order is the retry router's pool order.
func NewService(appCtx *app.Context, providers []domain.Provider) (*Service, error) {
	if len(providers) == 0 {
		return nil, errors.New("at least one server pool is required")
	}

	cfg := appCtx.Config.Download
	log := appCtx.Logger.Named("engine")

	s := &Service{
		ctx:               appCtx,
		log:               log,
		providers:         providers,
		queue:             queue.NewDownloadQueue(),
		coord:             NewCoordinator(),
		inspector:         decoding.Inspector{SubjectFallback: true},
		workingDir:        cfg.WorkingDir,
		overwriteZeroByte: cfg.OverwriteZeroByteFiles,
		pollInterval:      cfg.PollInterval,
		retryLimit:        cfg.RetryLimit,
		retryBackoff:      time.Second,
		jobs:              make(map[int64]*job),
		runCtx:            context.Background(),
		changed:           make(chan struct{}),
	}
	if s.pollInterval <= 0 {
		s.pollInterval = 250 * time.Millisecond
	}
	if s.retryLimit <= 0 {
		s.retryLimit = 3
	}

	ids := make([]string, 0, len(providers))
	for _, p := range providers {
		ids = append(ids, p.ID())
	}
	if err := s.queue.EnableRetry(ids); err != nil {
		return nil, err
	}

	if cfg.MaxRate > 0 {
		burst := int(cfg.MaxRate)
		if burst > 256*1024 {
			burst = 256 * 1024
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.MaxRate), burst)
	}

	s.assembler = assembly.New(s.queue, s.coord, appCtx.Logger.Named("assembly"))
	s.assembler.OnArchiveDone = s.archiveDone
	s.loader = loader.New(s.queue, s.assembler, s.coord, appCtx.Logger.Named("loader"))
	s.loader.OnArchiveDone = s.archiveDone

	return s, nil
}

// Queue exposes the download queue for status reporting.
func (s *Service) Queue() *queue.DownloadQueue {
	return s.queue
}

// Run locks the working directory and downloads until ctx is done or a
// fatal error occurs, which is then returned.
func (s *Service) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.workingDir, 0755); err != nil {
		return fmt.Errorf("failed to create working directory: %w", err)
	}

	lock := flock.New(filepath.Join(s.workingDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock working directory: %w", err)
	}
	if !locked {
		return fmt.Errorf("working directory %s is in use by another process", s.workingDir)
	}
	defer lock.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.runCtx = runCtx
	s.stop = cancel
	s.mu.Unlock()

	var wg sync.WaitGroup
	wg.Go(func() { s.coord.Run(runCtx) })

	workers := 0
	for _, p := range s.providers {
		for i := 1; i <= p.MaxConnection(); i++ {
			w := &worker{svc: s, pool: p, id: i}
			wg.Go(func() { w.run(runCtx) })
			workers++
		}
	}
	wg.Go(func() { s.reportGauges(runCtx) })

	s.log.Info("Started %d workers across %d server pools", workers, len(s.providers))

	<-runCtx.Done()
	wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalErr
}

func (s *Service) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// fatal records err and stops the service.
func (s *Service) fatal(err error) {
	s.mu.Lock()
	if s.fatalErr == nil {
		s.fatalErr = err
	}
	stop := s.stop
	s.mu.Unlock()

	s.log.Error("Fatal: %v. Shutting down", err)
	if stop != nil {
		stop()
	}
}

// Enqueue loads the manifest at nzbPath and queues whatever it still needs.
// Files already in the working directory are not downloaded again.
func (s *Service) Enqueue(ctx context.Context, nzbPath string) (*domain.ArchiveStatus, error) {
	if _, err := os.Stat(nzbPath); err != nil {
		return nil, fmt.Errorf("cannot read nzb: %w", err)
	}

	a := nzb.NewArchive(s.ctx.IDs, nzbPath, filepath.Join(s.workingDir, nzb.ArchiveName(nzbPath)))
	a.OverwriteZeroByteFiles = s.overwriteZeroByte
	a.Inspector = s.inspector

	j := &job{
		archive: a,
		nzbPath: nzbPath,
		status:  domain.StatusDownloading,
		started: time.Now(),
	}
	s.mu.Lock()
	s.jobs[a.ID] = j
	s.mu.Unlock()

	var loadErr error
	err := s.coord.Do(ctx, func() {
		f, err := os.Open(nzbPath)
		if err != nil {
			loadErr = err
			return
		}
		defer f.Close()
		_, loadErr = s.loader.Load(s.runContext(), a, f)
	})
	if err == nil {
		err = loadErr
	}
	if err != nil {
		s.removeJob(a.ID)
		if errors.Is(err, domain.ErrNoSpace) {
			s.fatal(err)
		}
		return nil, err
	}

	s.log.Info("Queued %s (%d files)", a.Name, len(a.Files))
	st := s.archiveStatus(j)
	return &st, nil
}

// Cancel drops the archive with the given id from the queue and deletes its
// working files.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	var cancelErr error
	err := s.coord.Do(ctx, func() {
		s.mu.Lock()
		j, ok := s.jobs[id]
		var status domain.JobStatus
		if ok {
			status = j.status
		}
		s.mu.Unlock()

		if !ok {
			cancelErr = fmt.Errorf("%w: %d", domain.ErrArchiveNotFound, id)
			return
		}
		if status == domain.StatusProcessing {
			cancelErr = fmt.Errorf("%w: %s", domain.ErrArchiveBusy, j.archive.Name)
			return
		}

		s.queue.CancelArchive(j.archive)
		if err := os.RemoveAll(j.archive.DestDir); err != nil {
			s.log.Warn("failed to remove working files of %s: %v", j.archive.Name, err)
		}
		s.log.Info("Cancelled %s", j.archive.Name)
		s.finishJob(j, domain.StatusCancelled, "", nil)
	})
	if err != nil {
		return err
	}
	return cancelErr
}

// Postpone stops downloading every active archive. Segments already on disk
// are kept, and Resume picks the archives up again.
func (s *Service) Postpone(ctx context.Context) (int, error) {
	count := 0
	err := s.coord.Do(ctx, func() {
		s.queue.Postpone(false)

		s.mu.Lock()
		for _, j := range s.jobs {
			if j.status == domain.StatusDownloading {
				j.status = domain.StatusPostponed
				count++
			}
		}
		s.mu.Unlock()
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("Postponed %d archives", count)
	return count, nil
}

// Resume reloads every postponed archive from its manifest. Archives get new
// ids.
func (s *Service) Resume(ctx context.Context) (int, error) {
	var reload []*job
	err := s.coord.Do(ctx, func() {
		files := s.queue.TakePostponed()

		s.mu.Lock()
		for id, j := range s.jobs {
			if j.status == domain.StatusPostponed {
				delete(s.jobs, id)
				reload = append(reload, j)
			}
		}
		s.mu.Unlock()

		if len(reload) > 0 {
			s.log.Info("Resuming %d archives (%d files)", len(reload), len(files))
		}
	})
	if err != nil {
		return 0, err
	}

	slices.SortFunc(reload, func(a, b *job) int { return int(a.archive.ID - b.archive.ID) })

	resumed := 0
	var errs []error
	for _, j := range reload {
		if _, err := s.Enqueue(ctx, j.nzbPath); err != nil {
			s.log.Error("Failed to resume %s: %v", j.archive.Name, err)
			s.saveHistory(j, domain.StatusFailed, "", err)
			errs = append(errs, err)
			continue
		}
		resumed++
	}
	s.notify()
	return resumed, errors.Join(errs...)
}

// Status reports every archive the service knows about.
func (s *Service) Status() domain.QueueStatus {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	slices.SortFunc(jobs, func(a, b *job) int { return int(a.archive.ID - b.archive.ID) })

	st := domain.QueueStatus{
		Archives:       make([]domain.ArchiveStatus, 0, len(jobs)),
		QueuedBytes:    s.queue.QueuedBytes(),
		QueuedSegments: s.queue.Len(),
	}
	for _, j := range jobs {
		st.Archives = append(st.Archives, s.archiveStatus(j))
	}
	for _, f := range s.queue.Postponed() {
		name, err := f.Filename()
		if err != nil {
			name = f.TempFilename()
		}
		st.Postponed = append(st.Postponed, f.Archive.Name+"/"+name)
	}
	for _, p := range s.providers {
		st.Pools = append(st.Pools, p.ID())
	}
	return st
}

func (s *Service) archiveStatus(j *job) domain.ArchiveStatus {
	s.mu.Lock()
	status := j.status
	s.mu.Unlock()

	read, skipped := j.readBytes()
	return domain.ArchiveStatus{
		ID:             j.archive.ID,
		Name:           j.archive.Name,
		Status:         status,
		Files:          len(j.archive.Files),
		TotalBytes:     j.archive.TotalBytes(),
		QueuedBytes:    s.queue.ArchiveQueuedBytes(j.archive),
		ReadBytes:      read,
		SkippedBytes:   skipped,
		FailedSegments: len(j.archive.FailedSegments()),
		StartedAt:      j.started,
	}
}

// Wait blocks until the service has no archives left, postponed ones
// included, or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		empty := len(s.jobs) == 0
		changed := s.changed
		s.mu.Unlock()

		if empty {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Service) notify() {
	s.mu.Lock()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}

func (s *Service) removeJob(id int64) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
	s.notify()
}

// segmentComplete runs on the coordinator once a segment is on disk.
func (s *Service) segmentComplete(seg *nzb.Segment) {
	f := seg.File
	a := f.Archive

	if a.IsCancelled() {
		if path, err := seg.Destination(); err == nil {
			_ = os.Remove(path)
		}
		return
	}
	// postponed: the file stays on disk for the next load
	if !s.queue.Active(a) {
		return
	}
	s.finishSegment(seg)
}

// segmentExhausted runs on the coordinator for a segment no pool could supply.
// The file is still assembled, with a gap where the segment belongs.
func (s *Service) segmentExhausted(seg *nzb.Segment, err *domain.ExhaustedError) {
	a := seg.File.Archive
	if a.IsCancelled() || !s.queue.Active(a) {
		return
	}

	s.log.Error("%v", err)
	metrics.SegmentsExhaustedTotal.Inc()
	a.AddFailedSegment(seg)
	s.finishSegment(seg)
}

func (s *Service) finishSegment(seg *nzb.Segment) {
	f := seg.File
	if !f.IsPending(seg) {
		return
	}

	s.queue.SegmentDone(seg)
	if !f.RemovePending(seg) {
		return
	}

	err := s.assembler.AssembleFile(s.runContext(), f, true)
	var fnErr *domain.FilenameError
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrArchiveCancelled), errors.Is(err, context.Canceled):
	case errors.Is(err, domain.ErrNoSpace):
		s.fatal(err)
	case errors.As(err, &fnErr):
		s.fileFailed(f, err)
	default:
		s.log.Error("Failed to assemble %s: %v", f.TempFilename(), err)
		s.fileFailed(f, err)
	}
}

// fileFailed gives up on f. Its outstanding segments count as failed and the
// rest of the archive carries on.
func (s *Service) fileFailed(f *nzb.File, err error) {
	a := f.Archive
	if a.IsCancelled() || f.IsAssembled() || !s.queue.Active(a) {
		return
	}

	s.log.Error("%v", err)
	for _, seg := range f.PendingSegments() {
		a.AddFailedSegment(seg)
		s.queue.SegmentDone(seg)
	}
	f.ClearPending()
	s.queue.DropFile(f)
	f.MarkAssembled()
	s.assembler.FinishIfComplete(a)
}

// archiveDone runs on the coordinator once every file of a is assembled.
func (s *Service) archiveDone(a *nzb.Archive) {
	s.mu.Lock()
	j, ok := s.jobs[a.ID]
	if ok {
		j.status = domain.StatusProcessing
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	go s.postProcess(j)
}

func (s *Service) postProcess(j *job) {
	a := j.archive
	out := a.DestDir

	var err error
	if s.ctx.Processor != nil {
		start := time.Now()
		out, err = s.ctx.Processor.PostProcess(s.runContext(), a)
		metrics.PostProcessDuration.Observe(time.Since(start).Seconds())
	} else if failed := len(a.FailedSegments()); failed > 0 {
		err = fmt.Errorf("%d segments could not be downloaded", failed)
	}

	status := domain.StatusCompleted
	if err != nil {
		status = domain.StatusFailed
		s.log.Error("%s: post-processing failed: %v", a.Name, err)
	} else {
		s.log.Info("%s: finished", a.Name)
	}
	s.finishJob(j, status, out, err)
}

// finishJob records the outcome of j and forgets it.
func (s *Service) finishJob(j *job, status domain.JobStatus, outDir string, err error) {
	s.mu.Lock()
	j.status = status
	s.mu.Unlock()

	s.saveHistory(j, status, outDir, err)
	metrics.ArchivesFinishedTotal.WithLabelValues(string(status)).Inc()
	s.removeJob(j.archive.ID)
}

func (s *Service) saveHistory(j *job, status domain.JobStatus, outDir string, err error) {
	if s.ctx.Store == nil {
		return
	}

	read, skipped := j.readBytes()
	rec := &domain.HistoryRecord{
		ID:             ksuid.New().String(),
		ArchiveName:    j.archive.Name,
		NZBPath:        j.nzbPath,
		OutputDir:      outDir,
		Status:         status,
		TotalBytes:     j.archive.TotalBytes(),
		ReadBytes:      read,
		SkippedBytes:   skipped,
		FailedSegments: len(j.archive.FailedSegments()),
		StartedAt:      j.started,
		FinishedAt:     time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}

	if serr := s.ctx.Store.SaveHistory(context.Background(), rec); serr != nil {
		s.log.Error("failed to save history for %s: %v", j.archive.Name, serr)
	}
}

func (s *Service) reportGauges(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.QueuedBytes.Set(float64(s.queue.QueuedBytes()))
			metrics.QueuedSegments.Set(float64(s.queue.Len()))
			metrics.ActiveArchives.Set(float64(len(s.queue.CurrentArchives())))
		case <-ctx.Done():
			return
		}
	}
}
