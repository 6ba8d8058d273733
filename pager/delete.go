// Copyright 2026 Gustavo C. Viegas. All rights reserved.

package pager

import (
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/sgraph/node"
)

type pendingDelete struct {
	frame uint64
	n     node.Node
}

// DeleteQueue retains released subgraphs for a number
// of frames, since in-flight GPU work may still use
// them, and then drops their references on a worker
// pool.
// Add and Advance must be called from the frame
// goroutine.
type DeleteQueue struct {
	retain uint64
	pool   *ants.Pool
	log    logrus.FieldLogger
	wg     sync.WaitGroup
	nodes  []pendingDelete
}

// NewDeleteQueue creates a new DeleteQueue that keeps
// subgraphs alive for retain frames and releases them
// using up to workers goroutines.
func NewDeleteQueue(retain, workers int) (*DeleteQueue, error) {
	pool, err := ants.NewPool(max(workers, 1))
	if err != nil {
		return nil, errors.Wrap(err, prefix+"release pool")
	}
	return &DeleteQueue{
		retain: uint64(max(retain, 0)),
		pool:   pool,
		log:    logrus.StandardLogger(),
	}, nil
}

// SetLogger sets the logger used by q.
func (q *DeleteQueue) SetLogger(log logrus.FieldLogger) { q.log = log }

// Add queues n for release. It takes ownership of the
// caller's reference.
func (q *DeleteQueue) Add(frame uint64, n node.Node) {
	q.nodes = append(q.nodes, pendingDelete{frame, n})
}

// Advance releases the subgraphs added at least
// retain frames before frame.
// It returns the number of subgraphs released.
func (q *DeleteQueue) Advance(frame uint64) int {
	i := 0
	for ; i < len(q.nodes); i++ {
		if frame-q.nodes[i].frame < q.retain {
			break
		}
		q.release(q.nodes[i].n)
		q.nodes[i] = pendingDelete{}
	}
	q.nodes = q.nodes[i:]
	return i
}

func (q *DeleteQueue) release(n node.Node) {
	q.wg.Add(1)
	err := q.pool.Submit(func() {
		defer q.wg.Done()
		n.Unref()
	})
	if err != nil {
		q.log.WithError(err).Debug("pager: releasing inline")
		n.Unref()
		q.wg.Done()
	}
}

// Len returns the number of retained subgraphs.
func (q *DeleteQueue) Len() int { return len(q.nodes) }

// Flush releases every retained subgraph and waits
// for the releases to complete.
func (q *DeleteQueue) Flush() {
	for _, x := range q.nodes {
		q.release(x.n)
	}
	clear(q.nodes)
	q.nodes = q.nodes[:0]
	q.wg.Wait()
}

// Close flushes q and stops its workers.
func (q *DeleteQueue) Close() {
	q.Flush()
	q.pool.Release()
}
