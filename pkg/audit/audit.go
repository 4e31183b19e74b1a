// Package audit provides the asynchronous handoff of decisions to an
// append-only sink. Writes never block the evaluation path beyond a bounded
// enqueue; failures are logged, never propagated to the caller.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aegisgov/decision-engine/pkg/domain"
)

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 2 * time.Second
)

// WriterConfig controls the async audit writer.
type WriterConfig struct {
	// QueueSize bounds the in-flight backlog. When the queue is full new
	// decisions are dropped and counted rather than blocking evaluation.
	QueueSize int
	// WriteTimeout bounds each sink write.
	WriteTimeout time.Duration
}

// Writer drains decisions to the sink on a single goroutine, preserving
// enqueue order per sink as append-ordering downstreams require.
type Writer struct {
	sink domain.AuditSink
	cfg  WriterConfig
	log  zerolog.Logger

	queue chan domain.Decision
	done  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	dropped int64
	written int64
}

// NewWriter starts the background drain goroutine.
func NewWriter(sink domain.AuditSink, cfg WriterConfig, log zerolog.Logger) *Writer {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	w := &Writer{
		sink:  sink,
		cfg:   cfg,
		log:   log,
		queue: make(chan domain.Decision, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.drain()
	return w
}

// Enqueue hands a decision to the writer without blocking. A full queue
// drops the record; at-least-once delivery is the contract, downstream
// dedupes on decision_id.
func (w *Writer) Enqueue(decision domain.Decision) {
	select {
	case w.queue <- decision:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.log.Warn().Str("decision_id", decision.DecisionID).Msg("audit queue full; decision dropped")
	}
}

// Stats returns written and dropped counts.
func (w *Writer) Stats() (written, dropped int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.dropped
}

// Close stops accepting work and drains the backlog before returning.
func (w *Writer) Close() {
	close(w.done)
	w.wg.Wait()
}

func (w *Writer) drain() {
	defer w.wg.Done()
	for {
		select {
		case decision := <-w.queue:
			w.write(decision)
		case <-w.done:
			// Flush whatever is still queued.
			for {
				select {
				case decision := <-w.queue:
					w.write(decision)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(decision domain.Decision) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	if err := w.sink.Write(ctx, decision); err != nil {
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		w.log.Error().Str("decision_id", decision.DecisionID).Err(err).Msg("audit write failed")
		return
	}
	w.mu.Lock()
	w.written++
	w.mu.Unlock()
}
