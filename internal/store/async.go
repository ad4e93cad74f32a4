package store

import (
	"context"
	"sync"
	"time"

	appLog "calboard/internal/log"
)

type writeOp struct {
	key    string
	value  string
	delete bool
}

// AsyncWriter applies writes to a KeyValueStore on a background goroutine,
// so callers on the event loop never wait for disk. Writes to the same key
// that have not reached the store yet are coalesced and the last one wins;
// keys are applied in the order they were first queued. Write errors are
// logged and dropped.
type AsyncWriter struct {
	kv KeyValueStore

	mu      sync.Mutex
	pending map[string]writeOp
	order   []string
	flushes []chan struct{}
	closed  bool

	wake    chan struct{}
	stopped chan struct{}
}

// NewAsyncWriter starts the background writer for kv.
func NewAsyncWriter(kv KeyValueStore) *AsyncWriter {
	w := &AsyncWriter{
		kv:      kv,
		pending: make(map[string]writeOp),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Set queues key=value.
func (w *AsyncWriter) Set(key, value string) {
	w.enqueue(writeOp{key: key, value: value})
}

// Delete queues removal of key.
func (w *AsyncWriter) Delete(key string) {
	w.enqueue(writeOp{key: key, delete: true})
}

// Flush blocks until every write queued before the call has been applied.
func (w *AsyncWriter) Flush() {
	done := make(chan struct{})
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.stopped
		return
	}
	w.flushes = append(w.flushes, done)
	w.mu.Unlock()
	w.signal()

	select {
	case <-done:
	case <-w.stopped:
	}
}

// Close applies what is queued and stops the writer.
func (w *AsyncWriter) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	w.signal()
	<-w.stopped
}

func (w *AsyncWriter) enqueue(op writeOp) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		appLog.Warn("store: write after close dropped", "key", op.key)
		return
	}
	if _, ok := w.pending[op.key]; !ok {
		w.order = append(w.order, op.key)
	}
	w.pending[op.key] = op
	w.mu.Unlock()
	w.signal()
}

func (w *AsyncWriter) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *AsyncWriter) run() {
	defer close(w.stopped)
	for range w.wake {
		w.mu.Lock()
		order, pending, flushes, closed := w.order, w.pending, w.flushes, w.closed
		w.order, w.pending, w.flushes = nil, make(map[string]writeOp), nil
		w.mu.Unlock()

		for _, key := range order {
			w.apply(pending[key])
		}
		for _, done := range flushes {
			close(done)
		}
		if closed {
			return
		}
	}
}

func (w *AsyncWriter) apply(op writeOp) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if op.delete {
		err = w.kv.Delete(ctx, op.key)
	} else {
		err = w.kv.Set(ctx, op.key, op.value)
	}
	if err != nil {
		appLog.Error("store: async write failed", err, "key", op.key, "delete", op.delete)
	}
}
