package archiver

import (
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/natefinch/lumberjack.v2"
)

func init() {
	Register("appLog", newAppLogSink)
}

// defaultMaxSegmentMB is used when Args.MaxSegmentSize is unset. Expressed in
// megabytes to match lumberjack's own megabyte-denominated MaxSize field.
const defaultMaxSegmentMB = 100

// AppLogSink appends each batch, one JSON record per line, to a local,
// size-capped, age-pruned journal — grounded on the teacher's own use of
// gopkg.in/natefinch/lumberjack.v2 for rotated local logging, repurposed
// here as the durable archival journal spec.md §6's "persisted state
// layout" describes (append-only segments capped at maxSegmentSize, pruned
// by total size or age).
type AppLogSink struct {
	logger *lumberjack.Logger
}

func newAppLogSink(args Args) (Sink, error) {
	if args.LogPath == "" {
		return nil, fmt.Errorf("archiver: appLog requires LogPath")
	}
	maxMB := defaultMaxSegmentMB
	if args.MaxSegmentSize > 0 {
		maxMB = int(args.MaxSegmentSize / (1024 * 1024))
		if maxMB == 0 {
			maxMB = 1
		}
	}
	return &AppLogSink{
		logger: &lumberjack.Logger{
			Filename: args.LogPath,
			MaxSize:  maxMB,
			MaxAge:   args.MaxAgeDays,
			Compress: true,
		},
	}, nil
}

// Archive writes one JSON line per record. lumberjack.Logger.Write is safe
// for concurrent use, but Pipeline only ever calls Archive from its single
// flusher goroutine.
func (s *AppLogSink) Archive(ctx context.Context, batch []Record) error {
	enc := json.NewEncoder(s.logger)
	for _, rec := range batch {
		if err := enc.Encode(rec); err != nil {
			// A local disk write failing (full disk, permissions) is
			// usually transient; let the flusher retry.
			return fmt.Errorf("archiver: appLog write: %w: %v", ErrRetryable, err)
		}
	}
	return nil
}

// Close flushes and closes the underlying journal file.
func (s *AppLogSink) Close() error {
	return s.logger.Close()
}
