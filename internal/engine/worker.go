package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/datallboy/nzbleecher/internal/assembly"
	"github.com/datallboy/nzbleecher/internal/decoding"
	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/metrics"
	"github.com/datallboy/nzbleecher/internal/nzb"
	"golang.org/x/time/rate"
)

// worker holds one connection slot of a server pool and downloads whatever
// the queue hands that pool.
type worker struct {
	svc  *Service
	pool domain.Provider
	id   int
}

func (w *worker) run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return
		}

		seg, ok := w.svc.queue.Get(w.pool.ID())
		if !ok {
			timer.Reset(w.svc.pollInterval)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			continue
		}

		w.process(ctx, seg)
	}
}

func (w *worker) process(ctx context.Context, seg *nzb.Segment) {
	s := w.svc
	pool := w.pool.ID()

	err := w.download(ctx, seg)
	if err == nil {
		return
	}

	var fnErr *domain.FilenameError
	switch {
	case ctx.Err() != nil:
		// shutting down, the segment is picked up again on the next load
	case errors.Is(err, domain.ErrArchiveCancelled):
	case errors.Is(err, domain.ErrNoSpace):
		s.fatal(err)
	case errors.Is(err, domain.ErrArticleNotFound):
		s.log.Debug("%s: %v", pool, err)
		s.missing(pool, seg)
	case errors.As(err, &fnErr):
		s.coord.Post(func() { s.fileFailed(seg.File, err) })
	default:
		s.retry(ctx, pool, seg, err)
	}
}

// download fetches, decodes and writes one segment, then hands it to the
// coordinator.
func (w *worker) download(ctx context.Context, seg *nzb.Segment) error {
	body, err := w.pool.Fetch(ctx, seg.MessageID, seg.File.Groups)
	if err != nil {
		return err
	}
	defer body.Close()

	dec := decoding.NewYencDecoder(body)
	if err := dec.ReadHeader(); err != nil {
		return fmt.Errorf("%s: %w", seg, err)
	}
	seg.SetDecodeInfo(dec.Header.Info(0))
	seg.MarkPayload()

	if seg.File.Archive.IsCancelled() {
		return domain.ErrArchiveCancelled
	}

	// for the first segment this resolves the real filename
	path, err := seg.Destination()
	if err != nil {
		return err
	}

	n, err := assembly.WriteSegment(path, w.svc.limit(ctx, dec))
	if err != nil {
		return fmt.Errorf("%s: %w", seg, err)
	}

	if err := dec.Verify(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("%s: %w", seg, err)
	}
	seg.SetDecodeInfo(dec.Header.Info(dec.CRC()))

	seg.File.AddReadBytes(n)
	metrics.SegmentsDownloadedTotal.WithLabelValues(w.pool.ID()).Inc()
	metrics.BytesDownloadedTotal.WithLabelValues(w.pool.ID()).Add(float64(n))

	w.svc.coord.Post(func() { w.svc.segmentComplete(seg) })
	return nil
}

// retry requeues seg after an exponential backoff, keeping any pools it has
// already failed on out of reach. Once the retry limit is reached the segment
// counts as missing on pool.
func (s *Service) retry(ctx context.Context, pool string, seg *nzb.Segment, err error) {
	attempt := seg.IncRetries()
	if attempt > s.retryLimit {
		s.log.Warn("[Retry] %s: giving up on %s after %d attempts - Error: %v", seg, pool, s.retryLimit, err)
		seg.ResetRetries()
		s.missing(pool, seg)
		return
	}

	metrics.SegmentRetriesTotal.WithLabelValues(pool).Inc()

	// Calculate backoff: 2s, 4s, 8s...
	delay := s.retryBackoff * time.Duration(math.Pow(2, float64(attempt)))
	s.log.Warn("[Retry] %s: Attempt %d/%d on %s - Error: %v", seg, attempt, s.retryLimit, pool, err)

	time.AfterFunc(delay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := s.queue.Requeue(seg); err != nil && !errors.Is(err, domain.ErrArchiveInactive) {
			s.log.Error("could not requeue %s: %v", seg, err)
		}
	})
}

// missing routes seg, which pool does not have, to the pools that haven't
// tried it yet.
func (s *Service) missing(pool string, seg *nzb.Segment) {
	metrics.SegmentsMissingTotal.WithLabelValues(pool).Inc()

	err := s.queue.RequeueMissing(pool, seg)
	if err == nil || errors.Is(err, domain.ErrArchiveInactive) {
		return
	}

	var exhausted *domain.ExhaustedError
	if errors.As(err, &exhausted) {
		s.coord.Post(func() { s.segmentExhausted(seg, exhausted) })
		return
	}
	s.log.Error("could not requeue %s: %v", seg, err)
}

// limit caps r to the shared download rate, if there is one.
func (s *Service) limit(ctx context.Context, r io.Reader) io.Reader {
	if s.limiter == nil {
		return r
	}
	return &rateReader{ctx: ctx, r: r, limiter: s.limiter}
}

type rateReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (r *rateReader) Read(p []byte) (int, error) {
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.limiter.WaitN(r.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}
