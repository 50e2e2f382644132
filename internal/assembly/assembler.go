// Package assembly joins decoded segment files into their final file.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/infra/logger"
	"github.com/datallboy/nzbleecher/internal/nzb"
	"github.com/datallboy/nzbleecher/internal/queue"
)

// Poster runs fn on the coordinating goroutine, without waiting for it.
type Poster interface {
	Post(fn func())
}

type Assembler struct {
	queue  *queue.DownloadQueue
	poster Poster
	log    *logger.Logger

	// OnArchiveDone is posted once, when the last file of an archive is assembled.
	OnArchiveDone func(a *nzb.Archive)
}

func New(q *queue.DownloadQueue, poster Poster, log *logger.Logger) *Assembler {
	return &Assembler{queue: q, poster: poster, log: log}
}

// AssembleFile concatenates the segment files of f, whose pending set must
// be empty, into its destination and removes them. With autoFinish the
// archive is reported done once every one of its files is assembled.
//
// Segments that no pool could supply leave a gap; when the yEnc part offsets
// are known the gap keeps its size so repair tools can fill it.
func (s *Assembler) AssembleFile(ctx context.Context, f *nzb.File, autoFinish bool) error {
	a := f.Archive
	if a.IsCancelled() {
		return domain.ErrArchiveCancelled
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dest, err := f.Destination()
	if err != nil {
		return err
	}

	parts := make([]string, 0, len(f.Segments))
	if err := s.mergeFile(f, dest, &parts); err != nil {
		_ = os.Remove(dest)
		return noSpace(err)
	}

	for _, p := range parts {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.log.Warn("failed to remove segment file %s: %v", p, err)
		}
	}

	f.MarkAssembled()
	s.queue.FileDone(f)
	s.log.Debug("%s: assembled %s", a.Name, filepath.Base(dest))

	if autoFinish {
		s.FinishIfComplete(a)
	}
	return nil
}

// FinishIfComplete reports a done, once, when every one of its files is assembled.
func (s *Assembler) FinishIfComplete(a *nzb.Archive) {
	if !a.IsAssembled() || !a.MarkFinished() {
		return
	}
	s.queue.ArchiveDone(a)
	s.log.Info("%s: assembled archive!", a.Name)
	if s.OnArchiveDone != nil {
		done := s.OnArchiveDone
		s.poster.Post(func() { done(a) })
	}
}

func (s *Assembler) mergeFile(f *nzb.File, dest string, parts *[]string) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}

	var (
		offset   int64
		fileSize int64
		missing  int
	)

	for _, seg := range f.Segments {
		path, ok := segmentPath(seg)
		info := seg.DecodeInfo()
		if info != nil && info.FileSize > 0 {
			fileSize = info.FileSize
		}
		if !ok {
			missing++
			continue
		}

		if info != nil && info.PartBegin > 0 && info.PartBegin-1 != offset {
			offset = info.PartBegin - 1
			if _, err := out.Seek(offset, io.SeekStart); err != nil {
				out.Close()
				return err
			}
		}

		n, err := appendFile(path, out)
		if err != nil {
			out.Close()
			return err
		}
		offset += n
		*parts = append(*parts, path)
	}

	if missing > 0 {
		s.log.Warn("%s: assembled %s with %d missing segments", f.Archive.Name, filepath.Base(dest), missing)
		if fileSize > offset {
			if err := out.Truncate(fileSize); err != nil {
				out.Close()
				return err
			}
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// segmentPath finds the decoded file for seg, under its real or temp name.
func segmentPath(seg *nzb.Segment) (string, bool) {
	if dest, err := seg.Destination(); err == nil {
		if _, err := os.Stat(dest); err == nil {
			return dest, true
		}
	}
	tmp := filepath.Join(seg.File.Archive.DestDir, seg.TempFilename())
	if _, err := os.Stat(tmp); err == nil {
		return tmp, true
	}
	return "", false
}

func appendFile(srcPath string, dst io.Writer) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, fmt.Errorf("open segment file %s: %w", srcPath, err)
	}
	defer src.Close()

	n, err := io.Copy(dst, src)
	if err != nil {
		return n, fmt.Errorf("append %s: %w", srcPath, err)
	}
	return n, nil
}

// noSpace maps ENOSPC to domain.ErrNoSpace, keeping the original error text.
func noSpace(err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%w: %v", domain.ErrNoSpace, err)
	}
	return err
}
