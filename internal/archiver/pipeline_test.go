package archiver

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// countingSink records every batch handed to it and can be told to fail the
// next N attempts with ErrRetryable.
type countingSink struct {
	mu       sync.Mutex
	batches  [][]Record
	failN    int
	closed   bool
}

func (s *countingSink) Archive(ctx context.Context, batch []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return fmt.Errorf("wrapped: %w", ErrRetryable)
	}
	cp := make([]Record, len(batch))
	copy(cp, batch)
	s.batches = append(s.batches, cp)
	return nil
}

func (s *countingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *countingSink) recordCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestSubmitShedsWhenFull(t *testing.T) {
	sink := &countingSink{}
	p := NewPipeline(Config{BufferSize: 1, BufferInterval: time.Hour}, sink, afero.NewMemMapFs())
	if !p.Submit(Record{EntityID: "e1"}) {
		t.Fatal("first submit should succeed")
	}
	if p.Submit(Record{EntityID: "e2"}) {
		t.Fatal("second submit should be shed, buffer is full")
	}
}

func TestBufferFullTriggersFlush(t *testing.T) {
	sink := &countingSink{}
	p := NewPipeline(Config{BufferSize: 2, BufferInterval: time.Hour}, sink, afero.NewMemMapFs())
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(context.Background())

	p.Submit(Record{EntityID: "e1"})
	p.Submit(Record{EntityID: "e2"})

	deadline := time.Now().Add(2 * time.Second)
	for sink.recordCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.recordCount(); got != 2 {
		t.Fatalf("expected 2 archived records after buffer-full flush, got %d", got)
	}
}

func TestBufferIntervalTriggersFlush(t *testing.T) {
	sink := &countingSink{}
	p := NewPipeline(Config{BufferSize: 100, BufferInterval: 30 * time.Millisecond}, sink, afero.NewMemMapFs())
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(context.Background())

	p.Submit(Record{EntityID: "e1"})

	deadline := time.Now().Add(2 * time.Second)
	for sink.recordCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.recordCount(); got != 1 {
		t.Fatalf("expected interval-triggered flush to archive 1 record, got %d", got)
	}
}

func TestRetryOnRetryableError(t *testing.T) {
	sink := &countingSink{failN: 2}
	p := NewPipeline(Config{
		BufferSize:    10,
		BufferInterval: 20 * time.Millisecond,
		MaxRetries:    3,
		RetryInterval: 5 * time.Millisecond,
	}, sink, afero.NewMemMapFs())
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	defer p.Stop(context.Background())

	p.Submit(Record{EntityID: "e1"})
	p.Submit(Record{EntityID: "e2"})

	deadline := time.Now().Add(2 * time.Second)
	for sink.recordCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink.recordCount(); got != 2 {
		t.Fatalf("expected records to survive retried archive, got %d", got)
	}
}

// TestArchivalFlushOnShutdown is spec.md §8 scenario 5: submit one fix and
// immediately stop; the durable store contains exactly one record.
func TestArchivalFlushOnShutdown(t *testing.T) {
	sink := &countingSink{}
	p := NewPipeline(Config{
		BufferSize:            10,
		BufferInterval:        time.Hour,
		ShutdownDrainDeadline: time.Second,
	}, sink, afero.NewMemMapFs())
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}

	p.Submit(Record{EntityID: "e1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sink.recordCount(); got != 1 {
		t.Fatalf("expected exactly 1 archived record after shutdown flush, got %d", got)
	}
	if !sink.closed {
		t.Fatal("expected sink to be closed after Stop")
	}
}

func TestSpillAndReplay(t *testing.T) {
	fs := afero.NewMemMapFs()
	blocked := &countingSink{failN: 1000000} // never succeeds within the deadline
	p := NewPipeline(Config{
		BufferSize:            10,
		BufferInterval:        time.Hour,
		MaxRetries:            1000000,
		RetryInterval:         time.Millisecond,
		ShutdownDrainDeadline: 20 * time.Millisecond,
		SpillFilePath:         "/spill/archiver.jsonl",
	}, blocked, fs)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	p.Submit(Record{EntityID: "stuck"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.Stop(ctx)

	exists, err := afero.Exists(fs, "/spill/archiver.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected undelivered record to be spilled to disk")
	}

	sink2 := &countingSink{}
	p2 := NewPipeline(Config{
		BufferSize:     10,
		BufferInterval: 20 * time.Millisecond,
		SpillFilePath:  "/spill/archiver.jsonl",
	}, sink2, fs)
	if err := p2.Start(); err != nil {
		t.Fatal(err)
	}
	defer p2.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for sink2.recordCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sink2.recordCount(); got != 1 {
		t.Fatalf("expected replayed spill record to be archived, got %d", got)
	}

	stillThere, err := afero.Exists(fs, "/spill/archiver.jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if stillThere {
		t.Fatal("expected spill file to be removed after replay")
	}
}
