package archiver

import (
	"context"
	"errors"
)

// ErrRetryable marks a Sink.Archive failure as transient: the flusher
// re-attempts the same batch after retryInterval, up to maxRetries (spec.md
// §4.3). Any other non-nil error is treated as fatal and the batch is
// discarded.
var ErrRetryable = errors.New("archiver: retryable error")

// Sink is the capability set every archiver variant implements — the
// Design Note §9 substitution for the source's archiver inheritance
// hierarchy. {Null, AppLog, Sql} below are its tagged variants.
type Sink interface {
	// Archive durably records batch. Wrap the returned error with
	// ErrRetryable (errwrap.Wrapf(ErrRetryable, ...) or fmt.Errorf with
	// %w) to request a retry; any other error discards the batch.
	Archive(ctx context.Context, batch []Record) error

	// Close releases any resources held by the sink (open files,
	// connections). Called once, from Pipeline.Stop.
	Close() error
}
