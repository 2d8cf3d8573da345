package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const writerBatchSize = 64

// Queue pressure states reported by Diagnostics.
const (
	QueuePressureOK        = "ok"
	QueuePressureElevated  = "elevated"
	QueuePressureHigh      = "high"
	QueuePressureSaturated = "saturated"
)

// Record is one queued write: a finished invocation plus its tool calls.
type Record struct {
	Invocation *InvocationRecord
	Tools      []*ToolExecutionRecord
}

// WriteFailure describes records that could not be persisted.
type WriteFailure struct {
	Operation   string
	BatchSize   int
	FailedCount int
	Err         error
	ErrorClass  string
}

// WriteFailureHandler receives asynchronous write failure signals.
type WriteFailureHandler func(WriteFailure)

var noopWriteFailureHandler = WriteFailureHandler(func(WriteFailure) {})

// Diagnostics captures writer queue pressure and drop signals.
type Diagnostics struct {
	QueueCapacity           int              `json:"queue_capacity"`
	QueueDepth              int              `json:"queue_depth"`
	QueueDepthHighWatermark int              `json:"queue_depth_high_watermark"`
	QueueUtilizationPct     int              `json:"queue_utilization_pct"`
	QueuePressureState      string           `json:"queue_pressure_state"`
	EnqueueAcceptedTotal    int64            `json:"enqueue_accepted_total"`
	EnqueueDroppedTotal     int64            `json:"enqueue_dropped_total"`
	WriteDroppedTotal       int64            `json:"write_dropped_total"`
	LastEnqueueDropAt       *time.Time       `json:"last_enqueue_drop_at,omitempty"`
	LastWriteDropAt         *time.Time       `json:"last_write_drop_at,omitempty"`
	WriteFailuresByClass    map[string]int64 `json:"write_failures_by_class,omitempty"`
}

// Writer batches invocation records onto a background goroutine so agent
// hooks never block on storage. Records are dropped, never blocked on,
// when the queue is full.
type Writer struct {
	store Store
	queue chan *Record
	wg    sync.WaitGroup

	started            atomic.Bool
	stopped            atomic.Bool
	stopOnce           sync.Once
	doneOnce           sync.Once
	done               chan struct{}
	queueMu            sync.RWMutex
	lifecycleMu        sync.RWMutex
	workerCancel       context.CancelFunc
	writeFailureHandle atomic.Value // WriteFailureHandler

	queueDepthHighWatermark atomic.Int64
	enqueueAcceptedTotal    atomic.Int64
	enqueueDroppedTotal     atomic.Int64
	writeDroppedTotal       atomic.Int64
	lastEnqueueDropUnixNano atomic.Int64
	lastWriteDropUnixNano   atomic.Int64

	writeFailureConnection atomic.Int64
	writeFailureTimeout    atomic.Int64
	writeFailureContention atomic.Int64
	writeFailureConstraint atomic.Int64
	writeFailureUnknown    atomic.Int64
}

func NewWriter(store Store, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	writer := &Writer{
		store: store,
		queue: make(chan *Record, bufferSize),
		done:  make(chan struct{}),
	}
	writer.writeFailureHandle.Store(noopWriteFailureHandler)
	return writer
}

// SetWriteFailureHandler replaces the callback used for dropped write signals.
func (w *Writer) SetWriteFailureHandler(handler WriteFailureHandler) {
	if w == nil {
		return
	}
	if handler == nil {
		handler = noopWriteFailureHandler
	}
	w.writeFailureHandle.Store(handler)
}

// QueueLen returns the current number of items waiting in the write queue.
func (w *Writer) QueueLen() int {
	if w == nil {
		return 0
	}
	return len(w.queue)
}

func (w *Writer) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	if ctx == nil || ctx.Err() != nil {
		// Keep the writer usable when Start is called without a live context.
		ctx = context.Background()
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w.lifecycleMu.Lock()
	w.workerCancel = cancel
	w.lifecycleMu.Unlock()

	w.wg.Add(1)
	go func(workerCtx context.Context) {
		defer w.wg.Done()
		defer w.markDone()

		for {
			select {
			case <-workerCtx.Done():
				return
			case record, ok := <-w.queue:
				if !ok {
					return
				}

				batch := make([]*Record, 0, writerBatchSize)
				if record != nil {
					batch = append(batch, record)
				}
			drain:
				for len(batch) < writerBatchSize {
					select {
					case <-workerCtx.Done():
						// Use a fresh context so the drain flush is not
						// rejected by the store due to context cancellation.
						w.flushBatch(context.Background(), batch)
						return
					case next, ok := <-w.queue:
						if !ok {
							w.flushBatch(context.Background(), batch)
							return
						}
						if next != nil {
							batch = append(batch, next)
						}
					default:
						break drain
					}
				}
				w.flushBatch(workerCtx, batch)
			}
		}
	}(workerCtx)
}

func (w *Writer) Enqueue(record *Record) bool {
	if w.stopped.Load() {
		return false
	}
	w.queueMu.RLock()
	defer w.queueMu.RUnlock()
	if w.stopped.Load() {
		return false
	}

	select {
	case w.queue <- record:
		w.enqueueAcceptedTotal.Add(1)
		w.observeQueueDepth(len(w.queue))
		return true
	default:
		w.enqueueDroppedTotal.Add(1)
		w.observeQueueDepth(cap(w.queue))
		w.lastEnqueueDropUnixNano.Store(time.Now().UTC().UnixNano())
		return false
	}
}

func (w *Writer) Stop() {
	_ = w.Shutdown(context.Background())
}

// Shutdown closes the queue, drains it, and waits for the worker until ctx
// expires.
func (w *Writer) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	w.stopOnce.Do(func() {
		w.stopped.Store(true)
		w.queueMu.Lock()
		close(w.queue)
		w.queueMu.Unlock()
		if !w.started.Load() {
			w.markDone()
		}
	})

	select {
	case <-w.done:
		w.wg.Wait()
		w.cancelWorker()
		return nil
	case <-ctx.Done():
		w.cancelWorker()
		return ctx.Err()
	}
}

func (w *Writer) cancelWorker() {
	if w == nil {
		return
	}
	w.lifecycleMu.RLock()
	cancel := w.workerCancel
	w.lifecycleMu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (w *Writer) markDone() {
	w.doneOnce.Do(func() {
		close(w.done)
	})
}

func (w *Writer) reportWriteFailure(failure WriteFailure) {
	if w == nil || failure.FailedCount <= 0 {
		return
	}
	failure.ErrorClass = ClassifyWriteError(failure.Err)
	w.writeDroppedTotal.Add(int64(failure.FailedCount))
	w.lastWriteDropUnixNano.Store(time.Now().UTC().UnixNano())
	count := int64(failure.FailedCount)
	switch failure.ErrorClass {
	case WriteErrorClassConnection:
		w.writeFailureConnection.Add(count)
	case WriteErrorClassTimeout:
		w.writeFailureTimeout.Add(count)
	case WriteErrorClassContention:
		w.writeFailureContention.Add(count)
	case WriteErrorClassConstraint:
		w.writeFailureConstraint.Add(count)
	default:
		w.writeFailureUnknown.Add(count)
	}
	handler, ok := w.writeFailureHandle.Load().(WriteFailureHandler)
	if !ok || handler == nil {
		return
	}
	handler(failure)
}

// Diagnostics returns a point-in-time snapshot of queue pressure and
// dropped-record counters for operator diagnostics.
func (w *Writer) Diagnostics() Diagnostics {
	if w == nil {
		return Diagnostics{}
	}

	queueCapacity := cap(w.queue)
	queueDepth := len(w.queue)
	queueDepthHighWatermark := int(w.queueDepthHighWatermark.Load())
	if queueDepth > queueDepthHighWatermark {
		queueDepthHighWatermark = queueDepth
	}

	snapshot := Diagnostics{
		QueueCapacity:           queueCapacity,
		QueueDepth:              queueDepth,
		QueueDepthHighWatermark: queueDepthHighWatermark,
		QueueUtilizationPct:     queueUtilizationPct(queueDepth, queueCapacity),
		EnqueueAcceptedTotal:    w.enqueueAcceptedTotal.Load(),
		EnqueueDroppedTotal:     w.enqueueDroppedTotal.Load(),
		WriteDroppedTotal:       w.writeDroppedTotal.Load(),
	}
	snapshot.QueuePressureState = queuePressureState(snapshot.QueueUtilizationPct)

	if ts := w.lastEnqueueDropUnixNano.Load(); ts > 0 {
		last := time.Unix(0, ts).UTC()
		snapshot.LastEnqueueDropAt = &last
	}
	if ts := w.lastWriteDropUnixNano.Load(); ts > 0 {
		last := time.Unix(0, ts).UTC()
		snapshot.LastWriteDropAt = &last
	}

	byClass := make(map[string]int64)
	if v := w.writeFailureConnection.Load(); v > 0 {
		byClass[WriteErrorClassConnection] = v
	}
	if v := w.writeFailureTimeout.Load(); v > 0 {
		byClass[WriteErrorClassTimeout] = v
	}
	if v := w.writeFailureContention.Load(); v > 0 {
		byClass[WriteErrorClassContention] = v
	}
	if v := w.writeFailureConstraint.Load(); v > 0 {
		byClass[WriteErrorClassConstraint] = v
	}
	if v := w.writeFailureUnknown.Load(); v > 0 {
		byClass[WriteErrorClassUnknown] = v
	}
	if len(byClass) > 0 {
		snapshot.WriteFailuresByClass = byClass
	}

	return snapshot
}

func (w *Writer) observeQueueDepth(depth int) {
	if w == nil || depth < 0 {
		return
	}
	depthValue := int64(depth)
	for {
		current := w.queueDepthHighWatermark.Load()
		if depthValue <= current {
			return
		}
		if w.queueDepthHighWatermark.CompareAndSwap(current, depthValue) {
			return
		}
	}
}

func queueUtilizationPct(depth, capacity int) int {
	if capacity <= 0 || depth <= 0 {
		return 0
	}
	if depth >= capacity {
		return 100
	}
	return int((int64(depth) * 100) / int64(capacity))
}

func queuePressureState(utilizationPct int) string {
	switch {
	case utilizationPct >= 100:
		return QueuePressureSaturated
	case utilizationPct >= 80:
		return QueuePressureHigh
	case utilizationPct >= 50:
		return QueuePressureElevated
	default:
		return QueuePressureOK
	}
}

func (w *Writer) flushBatch(ctx context.Context, batch []*Record) {
	if len(batch) == 0 {
		return
	}

	invocations := make([]*InvocationRecord, 0, len(batch))
	var tools []*ToolExecutionRecord
	for _, record := range batch {
		if record.Invocation != nil {
			invocations = append(invocations, record.Invocation)
		}
		tools = append(tools, record.Tools...)
	}

	if len(invocations) == 1 {
		if err := w.store.WriteInvocation(ctx, invocations[0]); err != nil {
			w.reportWriteFailure(WriteFailure{
				Operation:   "write_invocation",
				BatchSize:   1,
				FailedCount: 1,
				Err:         err,
			})
		}
	} else if len(invocations) > 1 {
		if err := w.store.WriteInvocationBatch(ctx, invocations); err != nil {
			// Fallback to per-item writes so a batch-level failure does not
			// drop every invocation.
			failedWrites := 0
			var fallbackErr error
			for _, inv := range invocations {
				if invErr := w.store.WriteInvocation(ctx, inv); invErr != nil {
					failedWrites++
					if fallbackErr == nil {
						fallbackErr = invErr
					}
				}
			}
			if failedWrites > 0 {
				w.reportWriteFailure(WriteFailure{
					Operation:   "write_invocation_batch_fallback",
					BatchSize:   len(invocations),
					FailedCount: failedWrites,
					Err:         errors.Join(err, fallbackErr),
				})
			}
		}
	}

	if len(tools) > 0 {
		if err := w.store.WriteToolExecutions(ctx, tools); err != nil {
			w.reportWriteFailure(WriteFailure{
				Operation:   "write_tool_executions",
				BatchSize:   len(tools),
				FailedCount: len(tools),
				Err:         err,
			})
		}
	}
}
