package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

// Request is one event to record.
type Request struct {
	Actor  string
	Kind   event.Kind
	Detail string
}

// BatchItem is the outcome of Request i of a batch.
type BatchItem struct {
	Index  int
	Result *Result
	Err    error
}

// ErrBatchRejected marks items whose actor partition could not be queued.
var ErrBatchRejected = errors.New("batch partition rejected: worker queue full")

type partition struct {
	indexes []int
}

// RecordBatch records many events. Requests for the same actor are recorded
// one after another in submission order; different actors proceed in
// parallel on engine.batch_workers goroutines. Each item succeeds or fails
// on its own.
func (r *Recorder) RecordBatch(ctx context.Context, reqs []Request) ([]BatchItem, error) {
	if limit := r.conf.MaxBatch; limit > 0 && len(reqs) > limit {
		return nil, fmt.Errorf("%w: %d events exceeds max %d", ErrBatchTooLarge, len(reqs), limit)
	}

	items := make([]BatchItem, len(reqs))
	byActor := make(map[string]*partition)
	var parts []*partition
	for i, req := range reqs {
		items[i].Index = i
		p, ok := byActor[req.Actor]
		if !ok {
			p = &partition{}
			byActor[req.Actor] = p
			parts = append(parts, p)
		}
		p.indexes = append(p.indexes, i)
	}

	workers := r.conf.BatchWorkers
	if workers > len(parts) {
		workers = len(parts)
	}
	pool := newWorkerPool(ctx, workers, len(parts), func(ctx context.Context, p *partition) {
		for _, i := range p.indexes {
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				continue
			}
			req := reqs[i]
			items[i].Result, items[i].Err = r.Record(ctx, req.Actor, req.Kind, req.Detail)
		}
	})
	submitPartitions(pool.Submit, parts, items)
	pool.Drain()
	return items, nil
}

// submitPartitions queues every partition; items of one that does not fit
// fail with ErrBatchRejected instead of silently missing a result.
func submitPartitions(submit func(*partition) bool, parts []*partition, items []BatchItem) {
	for _, p := range parts {
		if submit(p) {
			continue
		}
		for _, i := range p.indexes {
			items[i].Err = ErrBatchRejected
		}
	}
}
