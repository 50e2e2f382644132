package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nzbleecher",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	SegmentsDownloadedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nzbleecher",
		Name:      "segments_downloaded_total",
		Help:      "Segments fetched and decoded, by server pool.",
	}, []string{"pool"})

	SegmentsMissingTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nzbleecher",
		Name:      "segments_missing_total",
		Help:      "Segments a server pool reported missing, by pool.",
	}, []string{"pool"})

	SegmentRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nzbleecher",
		Name:      "segment_retries_total",
		Help:      "Transient fetch or decode failures that were retried, by pool.",
	}, []string{"pool"})

	SegmentsExhaustedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "nzbleecher",
		Name:      "segments_exhausted_total",
		Help:      "Segments that every server pool failed to supply.",
	})

	BytesDownloadedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nzbleecher",
		Name:      "bytes_downloaded_total",
		Help:      "Decoded bytes written to the working directory, by pool.",
	}, []string{"pool"})

	QueuedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nzbleecher",
		Name:      "queued_bytes",
		Help:      "Bytes still queued for download across active archives.",
	})

	QueuedSegments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nzbleecher",
		Name:      "queued_segments",
		Help:      "Segments waiting in the main and retry queues.",
	})

	ActiveArchives = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "nzbleecher",
		Name:      "active_archives",
		Help:      "Archives currently being downloaded.",
	})

	ArchivesFinishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nzbleecher",
		Name:      "archives_finished_total",
		Help:      "Archives that left the queue, by outcome.",
	}, []string{"status"})

	PostProcessDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "nzbleecher",
		Name:      "post_process_duration_seconds",
		Help:      "Duration of repair and extraction per archive.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 900},
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		SegmentsDownloadedTotal,
		SegmentsMissingTotal,
		SegmentRetriesTotal,
		SegmentsExhaustedTotal,
		BytesDownloadedTotal,
		QueuedBytes,
		QueuedSegments,
		ActiveArchives,
		ArchivesFinishedTotal,
		PostProcessDuration,
	)
}
