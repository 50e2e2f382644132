package nzb

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// NoPriority marks a segment that has not been queued yet.
const NoPriority = -1

// DecodeInfo is the yEnc header metadata seen in a segment's payload.
type DecodeInfo struct {
	Name      string
	FileSize  int64
	PartBegin int64
	PartEnd   int64
	CRC       uint32
}

// Segment is one <segment> element: the unit of download and decode.
type Segment struct {
	File *File

	Bytes     int64
	Number    int
	MessageID string

	priority    atomic.Int64
	prioritySet atomic.Bool

	payload atomic.Bool

	// mu guards decode metadata, failed pools and retry counter
	mu          sync.Mutex
	decode      *DecodeInfo
	failedPools []string
	retries     int
}

// Priority is the queue ordering key; lower values are fetched first.
func (s *Segment) Priority() int {
	if !s.prioritySet.Load() {
		return NoPriority
	}
	return int(s.priority.Load())
}

// AssignPriority sets the queue priority. Priority is assigned once; later
// calls leave it untouched and report false.
func (s *Segment) AssignPriority(p int) bool {
	if !s.prioritySet.CompareAndSwap(false, true) {
		return false
	}
	s.priority.Store(int64(p))
	return true
}

// TempFilename is the on-disk name of this segment before the real filename is known.
func (s *Segment) TempFilename() string {
	return s.File.TempFilename() + SegmentSuffix(s.Number)
}

// Destination is where the decoded segment is written.
func (s *Segment) Destination() (string, error) {
	name, err := s.File.Filename()
	if err != nil {
		return "", err
	}
	return filepath.Join(s.File.Archive.DestDir, name+SegmentSuffix(s.Number)), nil
}

// SegmentSuffix returns the ".segmentNNNN" suffix for segment number n.
func SegmentSuffix(n int) string {
	return fmt.Sprintf(".segment%04d", n)
}

// MarkPayload records that this segment's article data has been downloaded.
func (s *Segment) MarkPayload()     { s.payload.Store(true) }
func (s *Segment) HasPayload() bool { return s.payload.Load() }

func (s *Segment) SetDecodeInfo(info DecodeInfo) {
	s.mu.Lock()
	s.decode = &info
	s.mu.Unlock()
}

// DecodeInfo returns the payload metadata, or nil before inspection.
func (s *Segment) DecodeInfo() *DecodeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.decode == nil {
		return nil
	}
	info := *s.decode
	return &info
}

// AddFailedPool appends pool to the failed list, ignoring duplicates. The
// list only grows.
func (s *Segment) AddFailedPool(pool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.failedPools {
		if p == pool {
			return
		}
	}
	s.failedPools = append(s.failedPools, pool)
}

// FailedPools returns the pools that failed to supply this segment, in failure order.
func (s *Segment) FailedPools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedPools))
	copy(out, s.failedPools)
	return out
}

// IncRetries bumps the transient failure counter and returns the new value.
func (s *Segment) IncRetries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries++
	return s.retries
}

// ResetRetries is called when a segment moves on to a different pool.
func (s *Segment) ResetRetries() {
	s.mu.Lock()
	s.retries = 0
	s.mu.Unlock()
}

func (s *Segment) String() string {
	return fmt.Sprintf("%s segment %d <%s>", s.File.TempFilename(), s.Number, s.MessageID)
}
