// Package loader turns an NZB manifest into queued download work.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/infra/logger"
	"github.com/datallboy/nzbleecher/internal/nzb"
	"github.com/datallboy/nzbleecher/internal/queue"
	"github.com/datallboy/nzbleecher/internal/reconcile"
)

// Assembler writes a file whose segments are all on disk. When autoFinish
// is false it must not report the archive as finished.
type Assembler interface {
	AssembleFile(ctx context.Context, f *nzb.File, autoFinish bool) error
}

// Poster runs fn on the coordinating goroutine, without waiting for it.
type Poster interface {
	Post(fn func())
}

// Loader parses manifests into the download queue. It runs only on the
// coordinating goroutine and loads one manifest at a time.
type Loader struct {
	queue     *queue.DownloadQueue
	assembler Assembler
	poster    Poster
	log       *logger.Logger

	// OnArchiveDone is posted when an archive needs no downloading at all.
	OnArchiveDone func(a *nzb.Archive)
}

func New(q *queue.DownloadQueue, asm Assembler, poster Poster, log *logger.Logger) *Loader {
	return &Loader{
		queue:     q,
		assembler: asm,
		poster:    poster,
		log:       log,
	}
}

// Load parses the manifest in r into a and queues whatever still has to be
// downloaded. It reports true when the archive turned out to be complete.
//
// An unparsable manifest returns an error wrapping domain.ErrInvalidNZB; a full
// destination volume returns one wrapping domain.ErrNoSpace. In both cases the
// archive is dropped from the queue.
func (l *Loader) Load(ctx context.Context, a *nzb.Archive, r io.Reader) (bool, error) {
	listing, err := reconcile.ScanWorkingDir(a.DestDir, a.OverwriteZeroByteFiles)
	if err != nil {
		return false, err
	}

	l.queue.AddArchive(a)

	h := &handler{archive: a, listing: listing}
	if err := nzb.Parse(r, h); err != nil {
		l.queue.ArchiveDone(a)
		return false, fmt.Errorf("unable to parse nzb %s: %w", a.Name, err)
	}

	start := time.Now()
	res := reconcile.Segments(h.needWorkSegments, listing)
	l.log.Debug("%s: reconciled %d segments in %s", a.Name, len(h.needWorkSegments), time.Since(start))

	onDiskFiles := h.fileCount - len(h.needWorkFiles)
	if onDiskFiles > 0 {
		l.log.Info("Parsed: %d posts (%d files, skipping %d on disk files)", h.segmentCount, h.fileCount, onDiskFiles)
	} else {
		l.log.Info("Parsed: %d posts (%d files)", h.segmentCount, h.fileCount)
	}

	for _, seg := range res.OnDisk {
		seg.File.AddSkippedBytes(seg.Bytes)
	}

	// Files missing from the working dir whose segments are all there only
	// need assembling.
	for _, f := range h.needWorkFiles {
		if res.NeedsDownload(f) {
			continue
		}
		name, _ := f.Filename()
		l.log.Info("%s: assembling, all segments were on disk", name)
		if err := l.assembler.AssembleFile(ctx, f, false); err != nil {
			l.queue.ArchiveDone(a)
			if errors.Is(err, domain.ErrNoSpace) {
				l.log.Error("Cannot assemble %s: no space left on device", a.Name)
			}
			return false, fmt.Errorf("assembling %s: %w", name, err)
		}
	}

	if len(res.NeedDownload) == 0 {
		l.queue.ArchiveDone(a)
		l.log.Info("%s: assembled archive!", a.Name)
		if a.MarkFinished() && l.OnArchiveDone != nil {
			done := l.OnArchiveDone
			l.poster.Post(func() { done(a) })
		}
		return true, nil
	}

	repair := make(map[*nzb.File]bool, len(h.repairFiles))
	for _, f := range h.repairFiles {
		repair[f] = true
	}
	for _, seg := range res.NeedDownload {
		if repair[seg.File] {
			continue
		}
		l.queue.Put(seg.Priority(), seg)
	}

	// par2 index files are small and go first
	for _, f := range h.repairFiles {
		if f.PendingCount() > 0 {
			l.queue.PutFile(queue.RepairPriority, f)
		}
	}

	// pending bytes already leave out on-disk segments of partial files
	l.queue.CalculateTotalQueuedBytes()
	return false, nil
}

// handler receives parse events for one manifest.
type handler struct {
	archive *nzb.Archive
	listing *reconcile.Listing

	file      *nzb.File
	needsWork bool
	repair    bool

	// seq orders every segment of the archive in document order
	seq int

	fileCount    int
	segmentCount int

	needWorkFiles    []*nzb.File
	needWorkSegments []*nzb.Segment
	repairFiles      []*nzb.File
}

func (h *handler) StartFile(subject, date, poster string) error {
	h.file = h.archive.AddFile(subject, date, poster)
	h.fileCount++

	h.needsWork = reconcile.FileNeedsDownload(h.file, h.listing)
	h.repair = nzb.IsRepairIndex(nzb.SubjectFileName(subject))
	if h.needsWork {
		h.needWorkFiles = append(h.needWorkFiles, h.file)
		if h.repair {
			h.repairFiles = append(h.repairFiles, h.file)
		}
	}
	return nil
}

func (h *handler) Group(name string) error {
	if h.file != nil && name != "" {
		h.file.Groups = append(h.file.Groups, name)
	}
	return nil
}

func (h *handler) Segment(bytes int64, number int, messageID string) error {
	seg := h.file.AddSegment(bytes, number, messageID)
	h.segmentCount++
	h.seq++
	if h.seq >= queue.ContentPriority {
		return fmt.Errorf("%w: more than %d segments", domain.ErrInvalidNZB, queue.ContentPriority-1)
	}
	// repair index segments get their priority when queued
	if !h.repair {
		seg.AssignPriority(queue.ContentPriority + h.seq)
	}

	if h.needsWork {
		h.needWorkSegments = append(h.needWorkSegments, seg)
	}
	return nil
}

func (h *handler) EndFile() error {
	if !h.needsWork {
		// already in place: nothing to fetch or assemble
		h.file.AddSkippedBytes(h.file.TotalBytes)
		h.file.ClearPending()
		h.file.MarkAssembled()
	}
	h.file = nil
	return nil
}
