package nzb

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/datallboy/nzbleecher/internal/domain"
)

// File is one <file> element: a single logical output file.
type File struct {
	Archive *Archive

	// Number is the 1-based position of the file in its manifest.
	Number  int
	Subject string
	Date    string
	Poster  string
	Groups  []string

	Segments []*Segment

	// TotalBytes is the declared size of all segments.
	TotalBytes int64

	skippedBytes atomic.Int64
	readBytes    atomic.Int64
	assembled    atomic.Bool

	// mu guards the pending set and the filenames
	mu           sync.Mutex
	pending      map[*Segment]struct{}
	filename     string
	tempFilename string
	firstSegment int
}

// AddSegment appends a <segment> declaration to the file. The segment joins
// the pending set and its bytes count towards the file's declared total.
func (f *File) AddSegment(bytes int64, number int, messageID string) *Segment {
	s := &Segment{
		File:      f,
		Bytes:     bytes,
		Number:    number,
		MessageID: messageID,
	}

	f.mu.Lock()
	f.Segments = append(f.Segments, s)
	f.pending[s] = struct{}{}
	if f.firstSegment < 0 {
		f.firstSegment = len(f.Segments) - 1
	}
	f.mu.Unlock()

	f.TotalBytes += bytes
	return s
}

// FirstSegment is the first segment declared for this file, which carries
// the real filename for encodings that only name the file once.
func (f *File) FirstSegment() *Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.firstSegment < 0 {
		return nil
	}
	return f.Segments[f.firstSegment]
}

// TempFilename is the deterministic name used until the real one is known.
func (f *File) TempFilename() string {
	return fmt.Sprintf("%s%s.file%04d", TempFilePrefix, f.Archive.Name, f.Number)
}

// RealFilename returns the resolved filename, or "" when still unknown.
func (f *File) RealFilename() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filename
}

// SetRealFilename records the file's real name. The name is immutable once
// set; later calls are ignored and report false.
func (f *File) SetRealFilename(name string) bool {
	name = SanitizeFileName(name)
	if name == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filename != "" {
		return false
	}
	f.filename = name
	return true
}

// Filename returns where this file will lie in its archive's DestDir.
//
// The real name comes from the first segment's payload. Segments are downloaded
// in parallel, so a later segment may need a destination before segment one
// has arrived; in that case the temporary name is returned.
func (f *File) Filename() (string, error) {
	f.mu.Lock()
	if f.filename != "" {
		defer f.mu.Unlock()
		return f.filename, nil
	}

	var first *Segment
	if f.firstSegment >= 0 {
		first = f.Segments[f.firstSegment]
	}

	if first == nil || !first.HasPayload() {
		if f.tempFilename == "" {
			f.tempFilename = f.TempFilename()
		}
		defer f.mu.Unlock()
		return f.tempFilename, nil
	}
	f.mu.Unlock()

	var inspectErr error
	if insp := f.Archive.Inspector; insp != nil {
		inspectErr = insp.InspectFilename(first)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.filename != "" {
		return f.filename, nil
	}
	if f.tempFilename == "" || inspectErr != nil {
		return "", &domain.FilenameError{
			Archive: f.Archive.Name,
			File:    f.Subject,
			Err:     inspectErr,
		}
	}
	return f.tempFilename, nil
}

// Destination is the full path of the assembled file.
func (f *File) Destination() (string, error) {
	name, err := f.Filename()
	if err != nil {
		return "", err
	}
	return filepath.Join(f.Archive.DestDir, name), nil
}

// RemovePending marks seg as satisfied. It reports whether the pending set is
// now empty. Segments are never re-added.
func (f *File) RemovePending(seg *Segment) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, seg)
	return len(f.pending) == 0
}

// ClearPending marks every segment as satisfied.
func (f *File) ClearPending() {
	f.mu.Lock()
	clear(f.pending)
	f.mu.Unlock()
}

func (f *File) IsPending(seg *Segment) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.pending[seg]
	return ok
}

func (f *File) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// PendingSegments returns the pending segments in declaration order.
func (f *File) PendingSegments() []*Segment {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Segment, 0, len(f.pending))
	for _, s := range f.Segments {
		if _, ok := f.pending[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// PendingBytes is the declared size of the segments still to be fetched.
func (f *File) PendingBytes() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total int64
	for s := range f.pending {
		total += s.Bytes
	}
	return total
}

// IsAllSegmentsDecoded reports whether the file needs no more downloading.
func (f *File) IsAllSegmentsDecoded() bool {
	return f.PendingCount() == 0
}

func (f *File) AddSkippedBytes(n int64) { f.skippedBytes.Add(n) }
func (f *File) SkippedBytes() int64     { return f.skippedBytes.Load() }
func (f *File) AddReadBytes(n int64)    { f.readBytes.Add(n) }
func (f *File) ReadBytes() int64        { return f.readBytes.Load() }

func (f *File) MarkAssembled()     { f.assembled.Store(true) }
func (f *File) IsAssembled() bool { return f.assembled.Load() }
