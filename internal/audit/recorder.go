package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipdeck/server/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultBufferSize bounds the number of entries waiting to be written.
	DefaultBufferSize = 1024

	// DefaultWriteTimeout bounds a single store append.
	DefaultWriteTimeout = 5 * time.Second
)

// Recorder appends access log entries in the background. Record never
// blocks the caller and never reports write failures; a full buffer drops
// the entry.
type Recorder struct {
	store    Store
	queue    chan Entry
	timeout  time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	gate     sync.RWMutex // held across the closed check and the enqueue
	closed   atomic.Bool
	shutdown sync.Once
	logger   zerolog.Logger
}

// NewRecorder creates a Recorder. Call Start to begin writing.
func NewRecorder(store Store, bufferSize int, writeTimeout time.Duration, logger zerolog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Recorder{
		store:   store,
		queue:   make(chan Entry, bufferSize),
		timeout: writeTimeout,
		done:    make(chan struct{}),
		logger:  logger.With().Str("component", "access_recorder").Logger(),
	}
}

// Start launches the writer goroutine. Subsequent calls are no-ops.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed.Load() {
		return
	}
	r.started = true
	r.wg.Add(1)
	go r.writeLoop()
	r.logger.Info().Int("buffer", cap(r.queue)).Msg("access recorder started")
}

// Record enqueues an entry and reports whether it was accepted. An accepted
// entry is written before Close returns.
func (r *Recorder) Record(entry Entry) bool {
	r.gate.RLock()
	defer r.gate.RUnlock()
	if r.closed.Load() {
		metrics.AccessLogEntries.WithLabelValues("dropped").Inc()
		return false
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	select {
	case r.queue <- entry:
		return true
	default:
		metrics.AccessLogEntries.WithLabelValues("dropped").Inc()
		r.logger.Warn().
			Str("client_id", entry.ClientID).
			Str("path", entry.Path).
			Msg("access log buffer full, entry dropped")
		return false
	}
}

// Pending returns the number of queued entries.
func (r *Recorder) Pending() int {
	return len(r.queue)
}

func (r *Recorder) writeLoop() {
	defer r.wg.Done()
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-r.done:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		default:
			return
		}
	}
}

func (r *Recorder) write(entry Entry) {
	// The originating request is gone; each append gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.AppendAccessLog(ctx, entry); err != nil {
		metrics.AccessLogEntries.WithLabelValues("failed").Inc()
		r.logger.Error().
			Err(err).
			Str("client_id", entry.ClientID).
			Str("method", entry.Method).
			Str("path", entry.Path).
			Msg("failed to append access log")
		return
	}
	metrics.AccessLogEntries.WithLabelValues("written").Inc()
}

// Close stops accepting entries and writes whatever is still queued.
// It is safe to call more than once.
func (r *Recorder) Close() error {
	r.shutdown.Do(func() {
		r.gate.Lock()
		r.closed.Store(true)
		r.gate.Unlock()

		r.mu.Lock()
		wasStarted := r.started
		r.mu.Unlock()

		if wasStarted {
			close(r.done)
			r.wg.Wait()
		} else {
			r.drain()
		}
		r.logger.Info().Msg("access recorder stopped")
	})
	return nil
}
