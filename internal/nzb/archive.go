package nzb

import (
	"sync"
	"sync/atomic"
)

// IDGenerator hands out run-scoped, monotonically increasing archive ids.
// One generator is owned by the process context and injected into NewArchive.
type IDGenerator struct {
	next atomic.Int64
}

func (g *IDGenerator) Next() int64 {
	return g.next.Add(1)
}

// PayloadInspector extracts a file's real name from a segment's already
// downloaded payload. Implementations call File.SetRealFilename on success.
type PayloadInspector interface {
	InspectFilename(seg *Segment) error
}

// Archive is one NZB manifest and everything it declares.
type Archive struct {
	ID          int64
	NZBFileName string
	Name        string
	DestDir     string

	// OverwriteZeroByteFiles treats zero byte working files as absent.
	OverwriteZeroByteFiles bool

	Inspector PayloadInspector

	Files []*File

	cancelMu  sync.Mutex
	cancelled bool

	finished atomic.Bool

	failedMu sync.Mutex
	failed   []*Segment
}

// NewArchive creates the in-memory model for the manifest at nzbFileName.
// Files are downloaded into destDir.
func NewArchive(ids *IDGenerator, nzbFileName, destDir string) *Archive {
	return &Archive{
		ID:                     ids.Next(),
		NZBFileName:            nzbFileName,
		Name:                   ArchiveName(nzbFileName),
		DestDir:                destDir,
		OverwriteZeroByteFiles: true,
	}
}

// AddFile appends a new file declaration, assigning its 1-based index.
// Only the loader calls this, from the coordinating goroutine.
func (a *Archive) AddFile(subject, date, poster string) *File {
	f := &File{
		Archive:      a,
		Number:       len(a.Files) + 1,
		Subject:      subject,
		Date:         date,
		Poster:       poster,
		pending:      make(map[*Segment]struct{}),
		firstSegment: -1,
	}
	a.Files = append(a.Files, f)
	return f
}

// Cancel marks the archive for death. Data downloaded for it afterwards is discarded.
func (a *Archive) Cancel() {
	a.cancelMu.Lock()
	a.cancelled = true
	a.cancelMu.Unlock()
}

func (a *Archive) IsCancelled() bool {
	a.cancelMu.Lock()
	defer a.cancelMu.Unlock()
	return a.cancelled
}

// MarkFinished returns true only for the first caller, so completion is
// reported exactly once.
func (a *Archive) MarkFinished() bool {
	return a.finished.CompareAndSwap(false, true)
}

func (a *Archive) IsFinished() bool {
	return a.finished.Load()
}

// AddFailedSegment records a segment that every server pool failed to supply.
func (a *Archive) AddFailedSegment(seg *Segment) {
	a.failedMu.Lock()
	a.failed = append(a.failed, seg)
	a.failedMu.Unlock()
}

func (a *Archive) FailedSegments() []*Segment {
	a.failedMu.Lock()
	defer a.failedMu.Unlock()
	out := make([]*Segment, len(a.failed))
	copy(out, a.failed)
	return out
}

// IsAssembled reports whether every file of the archive has been written out.
func (a *Archive) IsAssembled() bool {
	for _, f := range a.Files {
		if !f.IsAssembled() {
			return false
		}
	}
	return true
}

// TotalBytes is the declared size of every segment in the archive.
func (a *Archive) TotalBytes() int64 {
	var total int64
	for _, f := range a.Files {
		total += f.TotalBytes
	}
	return total
}
