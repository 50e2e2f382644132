package queue

import (
	"sync"
	"testing"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/nzb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityQueueOrder(t *testing.T) {
	_, segs := testSegments(t, 1, 1, 1, 1)
	q := NewPriorityQueue()
	q.Put(5, segs[0])
	q.Put(1, segs[1])
	q.Put(5, segs[2])
	q.Put(3, segs[3])

	var got []*nzb.Segment
	for {
		s, ok := q.TryGet()
		if !ok {
			break
		}
		got = append(got, s)
	}
	assert.Equal(t, []*nzb.Segment{segs[1], segs[3], segs[0], segs[2]}, got)
}

func TestPriorityQueueRemoveFunc(t *testing.T) {
	_, segs := testSegments(t, 1, 1, 1)
	q := NewPriorityQueue()
	for i, s := range segs {
		q.Put(i, s)
	}
	assert.Equal(t, 1, q.RemoveFunc(func(s *nzb.Segment) bool { return s == segs[1] }))

	first, _ := q.TryGet()
	second, _ := q.TryGet()
	assert.Same(t, segs[0], first)
	assert.Same(t, segs[2], second)
}

func TestWithinFileOrder(t *testing.T) {
	_, segs := testSegments(t, 1, 1, 1, 1, 1)
	q := NewDownloadQueue()
	// queued out of order, priorities follow sequence numbers
	for _, i := range []int{3, 0, 4, 2, 1} {
		q.Put(ContentPriority+segs[i].Number, segs[i])
	}

	for _, want := range segs {
		got, ok := q.Get("news1")
		require.True(t, ok)
		assert.Same(t, want, got)
	}
	_, ok := q.Get("news1")
	assert.False(t, ok)
}

func TestRepairBandFirst(t *testing.T) {
	_, content := testSegments(t, 1)
	_, repair := testSegments(t, 1)

	q := NewDownloadQueue()
	q.Put(ContentPriority+1, content[0])
	q.Put(RepairPriority, repair[0])

	got, ok := q.Get("news1")
	require.True(t, ok)
	assert.Same(t, repair[0], got)
}

func TestPriorityAssignedAtFirstPut(t *testing.T) {
	_, segs := testSegments(t, 1)
	q := NewDownloadQueue()
	q.Put(ContentPriority+7, segs[0])
	got, _ := q.Get("x")

	q.Put(RepairPriority, got)
	assert.Equal(t, ContentPriority+7, got.Priority())
}

func TestPutFileOffsets(t *testing.T) {
	a, segs := testSegments(t, 1, 1, 1)
	f := a.Files[0]
	f.RemovePending(segs[1])

	q := NewDownloadQueue()
	q.PutFile(RepairPriority, f)

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, RepairPriority, segs[0].Priority())
	assert.Equal(t, RepairPriority+2, segs[2].Priority())
	assert.Equal(t, nzb.NoPriority, segs[1].Priority())
}

func TestQueuedBytes(t *testing.T) {
	a, segs := testSegments(t, 100, 200, 150)
	q := NewDownloadQueue()
	q.AddArchive(a)
	for _, s := range segs {
		q.Put(ContentPriority+s.Number, s)
	}
	assert.Equal(t, int64(450), q.CalculateTotalQueuedBytes())

	a.Files[0].RemovePending(segs[0])
	q.SegmentDone(segs[0])
	assert.Equal(t, int64(350), q.QueuedBytes())
	assert.Equal(t, int64(350), q.ArchiveQueuedBytes(a))

	// not counted once the archive is no longer active
	q.ArchiveDone(a)
	q.SegmentDone(segs[1])
	assert.Equal(t, int64(350), q.QueuedBytes())
}

func TestPostpone(t *testing.T) {
	a, segs := testSegments(t, 100, 200)
	q := NewDownloadQueue()
	require.NoError(t, q.EnableRetry([]string{"news1", "news2"}))
	q.AddArchive(a)
	for _, s := range segs {
		q.Put(ContentPriority+s.Number, s)
	}
	q.CalculateTotalQueuedBytes()

	got, ok := q.Get("news1")
	require.True(t, ok)
	require.NoError(t, q.RequeueMissing("news1", got))

	q.Postpone(false)

	assert.Zero(t, q.Len())
	assert.Zero(t, q.QueuedBytes())
	assert.Empty(t, q.CurrentArchives())
	assert.Empty(t, q.ActiveFiles())
	assert.Equal(t, a.Files, q.Postponed())
	_, ok = q.Get("news2")
	assert.False(t, ok)
}

func TestCancelDoesNotRemember(t *testing.T) {
	a, segs := testSegments(t, 100)
	b, other := testSegments(t, 100)
	q := NewDownloadQueue()

	q.AddArchive(a)
	q.Put(ContentPriority+1, segs[0])
	q.Postpone(false)
	require.Equal(t, a.Files, q.Postponed())

	q.AddArchive(b)
	q.Put(ContentPriority+1, other[0])
	q.Postpone(true)

	assert.Equal(t, a.Files, q.Postponed(), "cancelled files are not remembered")
	assert.Zero(t, q.Len())

	assert.Equal(t, a.Files, q.TakePostponed())
	assert.Empty(t, q.Postponed())
}

func TestCancelArchive(t *testing.T) {
	a, segs := testSegments(t, 100, 100)
	b, other := testSegments(t, 50)
	q := NewDownloadQueue()
	require.NoError(t, q.EnableRetry([]string{"news1", "news2"}))

	q.AddArchive(a)
	q.AddArchive(b)
	q.Put(ContentPriority+1, segs[0])
	q.Put(ContentPriority+2, segs[1])
	q.Put(ContentPriority+1, other[0])
	q.CalculateTotalQueuedBytes()

	got, ok := q.Get("news1")
	require.True(t, ok)
	require.NoError(t, q.RequeueMissing("news1", got))

	q.CancelArchive(a)

	assert.True(t, a.IsCancelled())
	assert.Equal(t, []*nzb.Archive{b}, q.CurrentArchives())
	assert.Equal(t, int64(50), q.QueuedBytes())

	got, ok = q.Get("news2")
	require.True(t, ok)
	assert.Same(t, other[0], got)
	_, ok = q.Get("news2")
	assert.False(t, ok)
}

func TestGetSkipsCancelled(t *testing.T) {
	a, segs := testSegments(t, 1, 1)
	q := NewDownloadQueue()
	q.Put(ContentPriority+1, segs[0])
	a.Cancel()

	_, ok := q.Get("news1")
	assert.False(t, ok)
	assert.Zero(t, q.Len())
}

func TestRequeueWithoutRouterExhausts(t *testing.T) {
	a, segs := testSegments(t, 1)
	q := NewDownloadQueue()
	q.AddArchive(a)
	err := q.RequeueMissing("news1", segs[0])
	assert.ErrorIs(t, err, domain.ErrPoolsExhausted)
}

// Segment 2 fails on news1 of two pools; news2 finds it in "not1" before
// anything in the main queue.
func TestRetryScenario(t *testing.T) {
	a, segs := testSegments(t, 100, 200, 150)
	q := NewDownloadQueue()
	require.NoError(t, q.EnableRetry([]string{"news1", "news2"}))
	q.AddArchive(a)
	for i, s := range segs {
		q.Put(ContentPriority+i+1, s)
	}
	assert.Equal(t, int64(450), q.CalculateTotalQueuedBytes())

	first, _ := q.Get("news1")
	second, _ := q.Get("news1")
	require.Same(t, segs[0], first)
	require.Same(t, segs[1], second)

	require.NoError(t, q.RequeueMissing("news1", second))
	name, err := q.Router().QueueName(second.FailedPools())
	require.NoError(t, err)
	assert.Equal(t, "not1", name)

	// news1 must not see it again
	got, ok := q.Get("news1")
	require.True(t, ok)
	assert.Same(t, segs[2], got)
	q.Put(ContentPriority+3, got)

	got, ok = q.Get("news2")
	require.True(t, ok)
	assert.Same(t, segs[1], got)
}

func TestConcurrentGetAndPostpone(t *testing.T) {
	a, segs := testSegments(t, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)
	q := NewDownloadQueue()
	require.NoError(t, q.EnableRetry([]string{"news1", "news2"}))
	q.AddArchive(a)
	for _, s := range segs {
		q.Put(ContentPriority+s.Number, s)
	}

	var wg sync.WaitGroup
	for _, pool := range []string{"news1", "news2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				s, ok := q.Get(pool)
				if !ok {
					return
				}
				a.Files[0].RemovePending(s)
				q.SegmentDone(s)
				_ = q.CalculateTotalQueuedBytes()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Postpone(false)
	}()
	wg.Wait()

	assert.Zero(t, q.Len())
}

func TestRequeueKeepsFailedPools(t *testing.T) {
	a, segs := testSegments(t, 100, 100)
	q := NewDownloadQueue()
	require.NoError(t, q.EnableRetry([]string{"news1", "news2", "news3"}))
	q.AddArchive(a)
	for _, s := range segs {
		q.Put(ContentPriority+s.Number, s)
	}

	first, _ := q.Get("news1")
	require.NoError(t, q.RequeueMissing("news1", first))
	got, ok := q.Get("news2")
	require.True(t, ok)
	require.Same(t, first, got)

	// transient failure on news2: back to "not1", nothing new recorded
	require.NoError(t, q.Requeue(got))
	assert.Equal(t, []string{"news1"}, got.FailedPools())

	got, ok = q.Get("news1")
	require.True(t, ok)
	assert.Same(t, segs[1], got, "news1 only gets what it has not failed")
	require.NoError(t, q.Requeue(got))

	got, ok = q.Get("news3")
	require.True(t, ok)
	assert.Same(t, first, got)
	got, ok = q.Get("news3")
	require.True(t, ok)
	assert.Same(t, segs[1], got)
}

func TestRequeueInactiveArchive(t *testing.T) {
	tests := []struct {
		name string
		stop func(q *DownloadQueue, a *nzb.Archive)
	}{
		{"postponed", func(q *DownloadQueue, _ *nzb.Archive) { q.Postpone(false) }},
		{"cancelled", func(q *DownloadQueue, a *nzb.Archive) { q.CancelArchive(a) }},
		{"finished", func(q *DownloadQueue, a *nzb.Archive) { q.ArchiveDone(a) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, segs := testSegments(t, 100, 100)
			q := NewDownloadQueue()
			require.NoError(t, q.EnableRetry([]string{"news1", "news2"}))
			q.AddArchive(a)
			for _, s := range segs {
				q.Put(ContentPriority+s.Number, s)
			}
			missing, _ := q.Get("news1")
			transient, _ := q.Get("news2")

			tt.stop(q, a)

			assert.ErrorIs(t, q.RequeueMissing("news1", missing), domain.ErrArchiveInactive)
			assert.ErrorIs(t, q.Requeue(transient), domain.ErrArchiveInactive)
			assert.Zero(t, q.Len())
		})
	}
}
