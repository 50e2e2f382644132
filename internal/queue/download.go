// Package queue holds the segment download queue shared by the loader and
// the per-pool download workers.
package queue

import (
	"slices"
	"sync"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/nzb"
)

const (
	// ContentPriority is the band for regular manifest content. It must stay
	// above the largest per-archive sequence counter.
	ContentPriority = 100000
	// RepairPriority is the band for par2 fetches added after the fact; they
	// are more important than content.
	RepairPriority = 0
)

// DownloadQueue is a priority queue of segments across every active archive.
//
// Lock order is archivesMu, then filesMu. Only Postpone holds both.
// Requeues hold archivesMu so they can't race a postpone.
type DownloadQueue struct {
	main *PriorityQueue

	// router is nil until EnableRetry
	router *RetryRouter

	archivesMu  sync.Mutex
	archives    []*nzb.Archive
	queuedBytes int64

	filesMu   sync.Mutex
	files     map[*nzb.File]struct{}
	postponed map[*nzb.File]struct{}
}

func NewDownloadQueue() *DownloadQueue {
	return &DownloadQueue{
		main:      NewPriorityQueue(),
		files:     make(map[*nzb.File]struct{}),
		postponed: make(map[*nzb.File]struct{}),
	}
}

// EnableRetry turns on retry routing across pools. It must be called once,
// before any worker starts.
func (q *DownloadQueue) EnableRetry(pools []string) error {
	r, err := NewRetryRouter(pools)
	if err != nil {
		return err
	}
	q.router = r
	return nil
}

// Router returns the retry router, or nil when retry routing is disabled.
func (q *DownloadQueue) Router() *RetryRouter {
	return q.router
}

// Put queues seg. The priority only applies if seg has none yet.
func (q *DownloadQueue) Put(priority int, seg *nzb.Segment) {
	seg.AssignPriority(priority)

	q.filesMu.Lock()
	q.files[seg.File] = struct{}{}
	q.filesMu.Unlock()

	q.main.Put(seg.Priority(), seg)
}

// PutFile queues every pending segment of f, offsetting each priority by its
// position in the file so file order is kept.
func (q *DownloadQueue) PutFile(priority int, f *nzb.File) {
	for offset, seg := range f.Segments {
		if !f.IsPending(seg) {
			continue
		}
		q.Put(priority+offset, seg)
	}
}

// Len is the number of segments waiting in the main and retry queues.
func (q *DownloadQueue) Len() int {
	n := q.main.Len()
	if q.router != nil {
		n += q.router.Len()
	}
	return n
}

// Get returns the next segment for pool without blocking. Segments waiting
// for a retry are preferred. Segments of cancelled archives are dropped.
func (q *DownloadQueue) Get(pool string) (*nzb.Segment, bool) {
	for {
		seg, ok := q.next(pool)
		if !ok {
			return nil, false
		}
		if seg.File.Archive.IsCancelled() {
			continue
		}
		return seg, true
	}
}

func (q *DownloadQueue) next(pool string) (*nzb.Segment, bool) {
	if q.router != nil {
		if seg, ok := q.router.Get(pool); ok {
			return seg, true
		}
	}
	return q.main.TryGet()
}

// RequeueMissing hands seg, which pool reported missing, to the retry router.
// Without retry routing a single failure exhausts the segment. Segments of
// archives that are no longer active are dropped with domain.ErrArchiveInactive.
func (q *DownloadQueue) RequeueMissing(pool string, seg *nzb.Segment) error {
	q.archivesMu.Lock()
	defer q.archivesMu.Unlock()
	if !q.requeueable(seg) {
		return domain.ErrArchiveInactive
	}

	if q.router == nil {
		seg.AddFailedPool(pool)
		return &domain.ExhaustedError{
			Archive:   seg.File.Archive.Name,
			File:      seg.File.Subject,
			Segment:   seg.Number,
			MessageID: seg.MessageID,
			Pools:     seg.FailedPools(),
		}
	}
	return q.router.RequeueMissing(pool, seg)
}

// Requeue puts seg back after a transient failure. A segment some pool has
// already reported missing goes back to its retry sub-queue, so that pool
// never sees it again; anything else returns to the main queue.
func (q *DownloadQueue) Requeue(seg *nzb.Segment) error {
	q.archivesMu.Lock()
	defer q.archivesMu.Unlock()
	if !q.requeueable(seg) {
		return domain.ErrArchiveInactive
	}

	if q.router == nil || len(seg.FailedPools()) == 0 {
		q.main.Put(seg.Priority(), seg)
		return nil
	}
	return q.router.Requeue(seg)
}

// requeueable must be called with archivesMu held.
func (q *DownloadQueue) requeueable(seg *nzb.Segment) bool {
	a := seg.File.Archive
	return q.isActive(a) && !a.IsCancelled()
}

// AddArchive marks a as currently being downloaded.
func (q *DownloadQueue) AddArchive(a *nzb.Archive) {
	q.archivesMu.Lock()
	defer q.archivesMu.Unlock()
	if !slices.Contains(q.archives, a) {
		q.archives = append(q.archives, a)
	}
}

// ArchiveDone removes a from the active list. Unknown archives are ignored,
// they may have been cancelled.
func (q *DownloadQueue) ArchiveDone(a *nzb.Archive) {
	q.archivesMu.Lock()
	defer q.archivesMu.Unlock()
	if i := slices.Index(q.archives, a); i >= 0 {
		q.archives = slices.Delete(q.archives, i, i+1)
	}
}

// CurrentArchives returns a copy of the active archive list.
func (q *DownloadQueue) CurrentArchives() []*nzb.Archive {
	q.archivesMu.Lock()
	defer q.archivesMu.Unlock()
	return slices.Clone(q.archives)
}

// Active reports whether a is in the active archive list.
func (q *DownloadQueue) Active(a *nzb.Archive) bool {
	q.archivesMu.Lock()
	defer q.archivesMu.Unlock()
	return q.isActive(a)
}

func (q *DownloadQueue) isActive(a *nzb.Archive) bool {
	return slices.Contains(q.archives, a)
}

// FileDone is called once f has been assembled. Segments are queued
// independently of files, so this is how the queue learns a file is finished.
func (q *DownloadQueue) FileDone(f *nzb.File) {
	q.filesMu.Lock()
	delete(q.files, f)
	q.filesMu.Unlock()
}

// DropFile removes every queued segment of f and forgets f. The file's
// archive stays active.
func (q *DownloadQueue) DropFile(f *nzb.File) {
	ofFile := func(seg *nzb.Segment) bool { return seg.File == f }
	q.main.RemoveFunc(ofFile)
	if q.router != nil {
		q.router.RemoveFunc(ofFile)
	}
	q.FileDone(f)
}

// ActiveFiles returns the files with outstanding segments, ordered by
// archive then file number.
func (q *DownloadQueue) ActiveFiles() []*nzb.File {
	q.filesMu.Lock()
	defer q.filesMu.Unlock()
	return sortedFiles(q.files)
}

// SegmentDone decrements the queued byte count, unless seg belongs to an
// archive that is no longer active.
func (q *DownloadQueue) SegmentDone(seg *nzb.Segment) {
	q.archivesMu.Lock()
	defer q.archivesMu.Unlock()
	if q.isActive(seg.File.Archive) {
		q.queuedBytes -= seg.Bytes
	}
}

// CalculateTotalQueuedBytes recomputes the queued byte count from the pending
// segments of every active file. Segments already on disk are not counted.
func (q *DownloadQueue) CalculateTotalQueuedBytes() int64 {
	q.filesMu.Lock()
	files := make([]*nzb.File, 0, len(q.files))
	for f := range q.files {
		files = append(files, f)
	}
	q.filesMu.Unlock()

	var total int64
	for _, f := range files {
		total += f.PendingBytes()
	}

	q.archivesMu.Lock()
	q.queuedBytes = total
	q.archivesMu.Unlock()
	return total
}

// QueuedBytes is the last computed queued byte count.
func (q *DownloadQueue) QueuedBytes() int64 {
	q.archivesMu.Lock()
	defer q.archivesMu.Unlock()
	return q.queuedBytes
}

// ArchiveQueuedBytes is the pending byte count of one archive's active files.
func (q *DownloadQueue) ArchiveQueuedBytes(a *nzb.Archive) int64 {
	var total int64
	for _, f := range q.ActiveFiles() {
		if f.Archive == a {
			total += f.PendingBytes()
		}
	}
	return total
}

// Postpone empties the queue and the active archive list. The active files
// are remembered for a later resume, unless cancel is set.
func (q *DownloadQueue) Postpone(cancel bool) {
	q.archivesMu.Lock()
	q.filesMu.Lock()

	// cleared under archivesMu so a concurrent requeue can't slip in after
	q.clear()

	if !cancel {
		for f := range q.files {
			q.postponed[f] = struct{}{}
		}
	}
	clear(q.files)
	q.archives = nil
	q.queuedBytes = 0

	q.filesMu.Unlock()
	q.archivesMu.Unlock()
}

// Cancel drops everything queued without remembering it.
func (q *DownloadQueue) Cancel() {
	q.Postpone(true)
}

func (q *DownloadQueue) clear() {
	q.main.Clear()
	if q.router != nil {
		q.router.Clear()
	}
}

// CancelArchive marks a cancelled and removes every trace of it from the
// queue, including postponed files. In-flight segments finish normally and
// are discarded by their workers.
func (q *DownloadQueue) CancelArchive(a *nzb.Archive) {
	a.Cancel()

	ofArchive := func(seg *nzb.Segment) bool { return seg.File.Archive == a }
	q.main.RemoveFunc(ofArchive)
	if q.router != nil {
		q.router.RemoveFunc(ofArchive)
	}

	q.filesMu.Lock()
	for f := range q.files {
		if f.Archive == a {
			delete(q.files, f)
		}
	}
	for f := range q.postponed {
		if f.Archive == a {
			delete(q.postponed, f)
		}
	}
	q.filesMu.Unlock()

	q.ArchiveDone(a)
	q.CalculateTotalQueuedBytes()
}

// Postponed returns the postponed files, ordered by archive then file number.
func (q *DownloadQueue) Postponed() []*nzb.File {
	q.filesMu.Lock()
	defer q.filesMu.Unlock()
	return sortedFiles(q.postponed)
}

// TakePostponed returns the postponed files and forgets them.
func (q *DownloadQueue) TakePostponed() []*nzb.File {
	q.filesMu.Lock()
	defer q.filesMu.Unlock()
	out := sortedFiles(q.postponed)
	clear(q.postponed)
	return out
}

func sortedFiles(set map[*nzb.File]struct{}) []*nzb.File {
	out := make([]*nzb.File, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b *nzb.File) int {
		if a.Archive.ID != b.Archive.ID {
			if a.Archive.ID < b.Archive.ID {
				return -1
			}
			return 1
		}
		return a.Number - b.Number
	})
	return out
}
