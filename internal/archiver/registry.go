package archiver

import (
	"fmt"
	"sync"
)

// Args bundles every archiverArgs field recognised across the {Null,
// AppLog, Sql} variants (spec.md §6). Each constructor reads only the
// fields it needs.
type Args struct {
	// AppLog
	LogPath        string
	MaxSegmentSize int64 // bytes; 0 means use the constructor's default
	MaxAgeDays     int

	// Sql
	SQLDriver         string // e.g. "postgres"
	SQLDataSource     string
	SQLInsertTemplate string // text/template, executed once per Record
}

// ctor builds a Sink from Args, returning an error if Args is invalid for
// that variant.
type ctor func(Args) (Sink, error)

// registry is the process-wide, once-initialised archiver-kind registry
// mandated by Design Note §9 in place of the source's reflection-based
// capability discovery — grounded on the same init()-time
// RegisterResource pattern the teacher uses for its own pluggable resource
// kinds, just keyed by archiver selector instead of resource kind name.
var (
	registryMu sync.Mutex
	registry   = map[string]ctor{}
)

// Register adds a named archiver constructor to the registry. Called from
// each variant's init().
func Register(name string, c ctor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = c
}

// New builds the Sink selected by name (spec.md §6's "archiver" option),
// configured by args (spec.md §6's "archiverArgs").
func New(name string, args Args) (Sink, error) {
	registryMu.Lock()
	c, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("archiver: unknown kind %q", name)
	}
	return c(args)
}
