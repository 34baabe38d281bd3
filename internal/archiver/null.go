package archiver

import "context"

func init() {
	Register("null", func(Args) (Sink, error) { return NullSink{}, nil })
}

// NullSink discards every batch. Used when archiverArgs selects "null", or
// in tests that only care about buffering/flush-trigger behaviour.
type NullSink struct{}

// Archive always succeeds without doing anything.
func (NullSink) Archive(ctx context.Context, batch []Record) error { return nil }

// Close is a no-op.
func (NullSink) Close() error { return nil }
