package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// StartCLIProgress redraws a one line progress bar on w every second until
// ctx is done, then draws the final line.
func (s *Service) StartCLIProgress(ctx context.Context, w io.Writer) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	started := time.Now()
	var lastBytes, lastTotal int64

	for {
		select {
		case <-ticker.C:
			current, total := s.progressBytes()
			if total == 0 {
				continue
			}
			delta := max(current-lastBytes, 0)
			lastBytes, lastTotal = current, total

			// Calculate instantaneous speed
			speedMbps := float64(delta) * 8 / (1024 * 1024)

			renderCLIProgress(w, current, total, time.Since(started), speedMbps, false)
		case <-ctx.Done():
			// finished archives have left the service, show the last totals seen
			renderCLIProgress(w, lastTotal, lastTotal, time.Since(started), 0, true)
			fmt.Fprintln(w)
			return
		}
	}
}

// progressBytes sums downloaded and total bytes over every archive still
// being downloaded. Bytes already on disk at load time count as done.
func (s *Service) progressBytes() (current, total int64) {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		read, skipped := j.readBytes()
		current += read + skipped
		total += j.archive.TotalBytes()
	}
	return current, total
}

func renderCLIProgress(w io.Writer, current, total int64, elapsed time.Duration, speedMbps float64, final bool) {
	if total == 0 && !final {
		return
	}

	percent := 100.0
	if total > 0 {
		percent = float64(current) / float64(total) * 100
	}
	if percent > 100 {
		percent = 100
	}

	displaySpeed := speedMbps
	etaStr := "calc..."

	if final {
		percent = 100.0

		// Guard against division by zero or sub-millisecond durations
		seconds := elapsed.Seconds()
		if seconds < 0.1 {
			seconds = 0.1
		}
		displaySpeed = (float64(current) / seconds * 8) / (1024 * 1024)
	} else if seconds := elapsed.Seconds(); seconds > 0 {
		avgBytesPerSec := float64(current) / seconds
		if avgBytesPerSec > 0 && total > current {
			etaSeconds := int(float64(total-current) / avgBytesPerSec)
			etaStr = (time.Duration(etaSeconds) * time.Second).String()
		}
	}

	// Progress Bar go brrr [====>   ]
	const barWidth = 20
	completedWidth := int(percent / 100 * barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	// [Bar] 50% | Speed: 100 Mbps | ETA: 2m30s | 500/1000 MB
	speedLabel := "Speed"
	timeLabel := "ETA"
	if final {
		speedLabel = "Avg"
		timeLabel = "Time"
		etaStr = elapsed.Truncate(time.Second).String()
	}

	fmt.Fprintf(w, "\r[%s] %5.1f%% | %s: %6.2f Mbps | %s: %-7s | %d/%d MB      ",
		bar, percent, speedLabel, displaySpeed, timeLabel, etaStr, current/1024/1024, total/1024/1024)
}
