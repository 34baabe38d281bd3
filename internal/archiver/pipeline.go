package archiver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/time/rate"

	"github.com/nforgeio/geotracker/internal/metrics"
)

// Config holds the archiver tunables from spec.md §6.
type Config struct {
	BufferSize            int
	BufferInterval        time.Duration
	MaxRetries            int
	RetryInterval         time.Duration
	ShutdownDrainDeadline time.Duration
	SpillFilePath         string
}

// Pipeline is the bounded buffer + background flusher described in
// spec.md §4.3. Submit is the ingest-path hand-off; it never blocks.
type Pipeline struct {
	cfg  Config
	sink Sink
	fs   afero.Fs

	Logf    func(format string, v ...interface{})
	Metrics *metrics.Archiver

	// limiter paces retries the way the teacher would reach for
	// golang.org/x/time/rate rather than a hand-rolled sleep loop.
	limiter *rate.Limiter

	mu            sync.Mutex
	buf           []Record
	oldestEnqueue time.Time

	flushCh chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPipeline constructs a Pipeline around sink. fs defaults to the OS
// filesystem; tests typically pass afero.NewMemMapFs().
func NewPipeline(cfg Config, sink Sink, fs afero.Fs) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	rl := rate.NewLimiter(rate.Every(cfg.RetryInterval), 1)
	if cfg.RetryInterval <= 0 {
		rl = rate.NewLimiter(rate.Inf, 1)
	}
	return &Pipeline{
		cfg:     cfg,
		sink:    sink,
		fs:      fs,
		Logf:    func(string, ...interface{}) {},
		limiter: rl,
		flushCh: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
	}
}

// Start replays any crash-recovery spill file left from a prior shutdown,
// then spawns the background flusher.
func (p *Pipeline) Start() error {
	if err := p.replaySpill(); err != nil {
		p.Logf("Archiver: failed to replay spill file: %v", err)
	}
	p.doneCh = make(chan struct{})
	go p.flushLoop()
	return nil
}

// Submit enqueues rec without blocking. Returns false (and counts a "shed"
// record) if the buffer is full — spec.md §4.3's explicit-loss backpressure
// policy: ingest never blocks on the archiver.
func (p *Pipeline) Submit(rec Record) bool {
	p.mu.Lock()
	if len(p.buf) >= p.cfg.BufferSize {
		p.mu.Unlock()
		if p.Metrics != nil {
			p.Metrics.Shed.Inc()
		}
		return false
	}
	rec.EnqueuedAt = time.Now()
	if len(p.buf) == 0 {
		p.oldestEnqueue = rec.EnqueuedAt
	}
	p.buf = append(p.buf, rec)
	full := len(p.buf) >= p.cfg.BufferSize
	size := len(p.buf)
	p.mu.Unlock()

	if p.Metrics != nil {
		p.Metrics.Buffered.Set(float64(size))
	}
	if full {
		select {
		case p.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

// flushLoop drains the buffer whenever it fills, whenever bufferInterval
// elapses since the oldest buffered record, or when told to stop.
func (p *Pipeline) flushLoop() {
	defer close(p.doneCh)
	interval := p.cfg.BufferInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			p.finalFlush()
			return
		case <-p.flushCh:
			p.drainAndArchive(context.Background())
		case <-ticker.C:
			if p.bufferAge() >= interval {
				p.drainAndArchive(context.Background())
			}
		}
	}
}

func (p *Pipeline) bufferAge() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.buf) == 0 {
		return 0
	}
	return time.Since(p.oldestEnqueue)
}

// drainAndArchive removes every currently-buffered record and hands them to
// the sink as a single batch, retrying on ErrRetryable.
func (p *Pipeline) drainAndArchive(ctx context.Context) {
	p.mu.Lock()
	batch := p.buf
	p.buf = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if p.Metrics != nil {
		p.Metrics.Buffered.Set(0)
	}
	p.archiveWithRetries(ctx, batch)
}

// archiveWithRetries hands batch to the sink, retrying ErrRetryable failures
// up to cfg.MaxRetries or until ctx expires. It returns false only when the
// batch is still undelivered and retryable — i.e. spillable by the caller;
// a successful archive or a non-retryable (fatal) error both return true,
// since in the fatal case retrying or spilling would never help.
func (p *Pipeline) archiveWithRetries(ctx context.Context, batch []Record) bool {
	attempts := 0
	for {
		err := p.sink.Archive(ctx, batch)
		if err == nil {
			if p.Metrics != nil {
				p.Metrics.FlushResult.WithLabelValues("ok").Inc()
			}
			return true
		}
		if !errors.Is(err, ErrRetryable) {
			p.Logf("Archiver: discarding batch of %d records after fatal archive error: %v", len(batch), err)
			if p.Metrics != nil {
				p.Metrics.FlushResult.WithLabelValues("fatal").Inc()
			}
			return true
		}
		if attempts >= p.cfg.MaxRetries || ctx.Err() != nil {
			p.Logf("Archiver: giving up on batch of %d records after %d attempts: %v", len(batch), attempts, err)
			if p.Metrics != nil {
				p.Metrics.FlushResult.WithLabelValues("fatal").Inc()
			}
			return false
		}
		attempts++
		if p.Metrics != nil {
			p.Metrics.Retries.Inc()
			p.Metrics.FlushResult.WithLabelValues("retryable").Inc()
		}
		if waitErr := p.limiter.Wait(ctx); waitErr != nil {
			p.Logf("Archiver: giving up on batch of %d records: %v", len(batch), waitErr)
			if p.Metrics != nil {
				p.Metrics.FlushResult.WithLabelValues("fatal").Inc()
			}
			return false
		}
	}
}

// finalFlush performs the bounded, synchronous shutdown flush mandated by
// spec.md §4.3: whatever doesn't make it out in time is spilled to disk for
// replay on restart.
func (p *Pipeline) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownDrainDeadline)
	defer cancel()

	p.mu.Lock()
	batch := p.buf
	p.buf = nil
	p.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	if ok := p.archiveWithRetries(ctx, batch); !ok {
		if err := p.spill(batch); err != nil {
			p.Logf("Archiver: failed to spill %d undelivered records: %v", len(batch), err)
		}
	}
}

// Stop signals the flusher to perform its final flush and waits for it to
// finish (bounded by cfg.ShutdownDrainDeadline via finalFlush's own context).
func (p *Pipeline) Stop(ctx context.Context) error {
	select {
	case <-p.stopCh:
		return nil // already stopped
	default:
		close(p.stopCh)
	}
	select {
	case <-p.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.sink.Close()
}
