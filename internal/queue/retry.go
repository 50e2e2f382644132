package queue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/datallboy/nzbleecher/internal/domain"
	"github.com/datallboy/nzbleecher/internal/nzb"
)

// MaxPools bounds the router's sub-queue count, which is 2^n - 2.
const MaxPools = 16

// RetryRouter hands segments that a server pool reported missing to a pool
// that has not failed them yet.
//
// Every proper, non-empty subset of pools has its own sub-queue, keyed by the
// bitmask of failed pool indexes. The pool set is fixed at construction.
type RetryRouter struct {
	pools    []string
	index    map[string]int
	full     uint32
	queues   map[uint32]*PriorityQueue
	names    map[uint32]string
	order    []uint32
	eligible map[string][]uint32
}

// NewRetryRouter builds the routing tables for pools. Pool order defines the
// 1-based indexes used in sub-queue names.
func NewRetryRouter(pools []string) (*RetryRouter, error) {
	if len(pools) == 0 {
		return nil, errors.New("retry router needs at least one server pool")
	}
	if len(pools) > MaxPools {
		return nil, fmt.Errorf("retry router supports at most %d server pools, got %d", MaxPools, len(pools))
	}

	r := &RetryRouter{
		pools:    append([]string(nil), pools...),
		index:    make(map[string]int, len(pools)),
		full:     uint32(1)<<len(pools) - 1,
		queues:   make(map[uint32]*PriorityQueue),
		names:    make(map[uint32]string),
		eligible: make(map[string][]uint32, len(pools)),
	}
	for i, p := range pools {
		if _, dup := r.index[p]; dup {
			return nil, fmt.Errorf("duplicate server pool %q", p)
		}
		r.index[p] = i
	}

	for i := range pools {
		r.extend(uint32(1) << i)
	}

	for i, p := range pools {
		bit := uint32(1) << i
		for _, mask := range r.order {
			if mask&bit == 0 {
				r.eligible[p] = append(r.eligible[p], mask)
			}
		}
	}
	return r, nil
}

// extend registers mask and recursively every larger subset reachable by
// adding one more pool, skipping subsets already generated on another path.
func (r *RetryRouter) extend(mask uint32) {
	if mask == r.full {
		return
	}
	if _, ok := r.queues[mask]; ok {
		return
	}
	r.queues[mask] = NewPriorityQueue()
	r.names[mask] = r.maskName(mask)
	r.order = append(r.order, mask)

	for i := range r.pools {
		bit := uint32(1) << i
		if mask&bit == 0 {
			r.extend(mask | bit)
		}
	}
}

func (r *RetryRouter) maskName(mask uint32) string {
	var b strings.Builder
	for i := range r.pools {
		if mask&(uint32(1)<<i) != 0 {
			b.WriteString("not")
			b.WriteString(strconv.Itoa(i + 1))
		}
	}
	return b.String()
}

// Pools returns the pool identities in index order.
func (r *RetryRouter) Pools() []string {
	return append([]string(nil), r.pools...)
}

// QueueNames lists the sub-queue names in creation order.
func (r *RetryRouter) QueueNames() []string {
	out := make([]string, 0, len(r.order))
	for _, mask := range r.order {
		out = append(out, r.names[mask])
	}
	return out
}

// EligibleQueues lists the sub-queue names pool may read from, in scan order.
func (r *RetryRouter) EligibleQueues(pool string) []string {
	masks := r.eligible[pool]
	out := make([]string, 0, len(masks))
	for _, mask := range masks {
		out = append(out, r.names[mask])
	}
	return out
}

// QueueName returns the sub-queue a segment with the given failed pools lands
// in. The name is independent of failure order.
func (r *RetryRouter) QueueName(failed []string) (string, error) {
	mask, err := r.mask(failed)
	if err != nil {
		return "", err
	}
	return r.maskName(mask), nil
}

func (r *RetryRouter) mask(failed []string) (uint32, error) {
	var mask uint32
	for _, p := range failed {
		i, ok := r.index[p]
		if !ok {
			return 0, fmt.Errorf("%w: %q", domain.ErrUnknownPool, p)
		}
		mask |= uint32(1) << i
	}
	return mask, nil
}

// RequeueMissing records that pool could not supply seg and moves seg to the
// sub-queue for its complete failed-pool set, keeping its original priority.
// Once every pool has failed seg, a *domain.ExhaustedError is returned and
// seg is not queued.
func (r *RetryRouter) RequeueMissing(pool string, seg *nzb.Segment) error {
	if _, ok := r.index[pool]; !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownPool, pool)
	}
	seg.AddFailedPool(pool)
	return r.push(seg)
}

// Requeue puts seg back in the sub-queue for the pools that already failed
// it, without recording a new failure. seg must have failed on a pool.
func (r *RetryRouter) Requeue(seg *nzb.Segment) error {
	if len(seg.FailedPools()) == 0 {
		return fmt.Errorf("%s has not failed on any pool", seg)
	}
	return r.push(seg)
}

func (r *RetryRouter) push(seg *nzb.Segment) error {
	failed := seg.FailedPools()
	mask, err := r.mask(failed)
	if err != nil {
		return err
	}

	if mask == r.full {
		return &domain.ExhaustedError{
			Archive:   seg.File.Archive.Name,
			File:      seg.File.Subject,
			Segment:   seg.Number,
			MessageID: seg.MessageID,
			Pools:     failed,
		}
	}

	r.queues[mask].Put(seg.Priority(), seg)
	return nil
}

// Get returns the head of the first non-empty sub-queue pool may read from.
func (r *RetryRouter) Get(pool string) (*nzb.Segment, bool) {
	for _, mask := range r.eligible[pool] {
		if seg, ok := r.queues[mask].TryGet(); ok {
			return seg, true
		}
	}
	return nil, false
}

// Len is the total number of segments waiting in all sub-queues.
func (r *RetryRouter) Len() int {
	n := 0
	for _, q := range r.queues {
		n += q.Len()
	}
	return n
}

// Clear empties every sub-queue.
func (r *RetryRouter) Clear() {
	for _, q := range r.queues {
		q.Clear()
	}
}

// RemoveFunc drops matching segments from every sub-queue.
func (r *RetryRouter) RemoveFunc(match func(*nzb.Segment) bool) int {
	n := 0
	for _, q := range r.queues {
		n += q.RemoveFunc(match)
	}
	return n
}

// Segments returns a snapshot of every segment waiting for a retry.
func (r *RetryRouter) Segments() []*nzb.Segment {
	var out []*nzb.Segment
	for _, mask := range r.order {
		out = append(out, r.queues[mask].Segments()...)
	}
	return out
}
