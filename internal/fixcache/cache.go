// Package fixcache implements the per-node in-memory fix cache and group
// index described in spec.md §4.1: the entity ring, the group reverse
// index, sliding retention, and the lock discipline that keeps both safe
// under concurrent mutation and purge.
package fixcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nforgeio/geotracker/internal/archiver"
	"github.com/nforgeio/geotracker/internal/errwrap"
	"github.com/nforgeio/geotracker/internal/geofix"
	"github.com/nforgeio/geotracker/internal/metrics"
)

// ErrNotRunning is returned by Add whenever the cache is not in the Running
// state, and (wrapped) by Start outside the Created state. The read methods
// (CurrentFix, Fixes, GroupEntities, AllEntities, GroupCurrentFixes) do not
// check the lifecycle state and keep answering from the tables after Stop.
var ErrNotRunning = errors.New("fixcache: not running")

// ArchiveSubmitter is the fire-and-forget hand-off into the archival
// pipeline (spec.md §4.3). It is satisfied by *archiver.Pipeline; the
// interface lives here (not in archiver) so fixcache depends on archiver
// only for the shared Record type, never the other way around.
type ArchiveSubmitter interface {
	Submit(rec archiver.Record) bool
}

// Config holds the tunables FixCache needs from spec.md §6's options table.
type Config struct {
	MaxEntityFixes     int
	RetentionInterval  time.Duration
	PurgeInterval      time.Duration
	ClockSkewTolerance time.Duration
}

// lifecycleState mirrors spec.md §4.1's {Created,Running,Stopping,Stopped}
// state machine. Modelled as an atomic int32, the same "control word guarded
// by atomic ops, not a channel-driven select loop" shape used for the
// teacher's simplest state flags, since FixCache's states are strictly
// ordered and never need to pause-and-resume the way converger's do.
type lifecycleState int32

const (
	stateCreated lifecycleState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Cache is the per-node fix cache and group index (spec.md §3's "FixCache").
type Cache struct {
	cfg Config

	// Now is the cache's wall clock. Overridable in tests; defaults to
	// time.Now. No global consensus is attempted (spec.md §4.1).
	Now func() time.Time

	// Logf receives diagnostic messages, the same injected-closure shape
	// used throughout the teacher instead of a global logger.
	Logf func(format string, v ...interface{})

	Archiver ArchiveSubmitter
	Metrics  *metrics.FixCache

	state atomic.Int32

	// tablesMu serializes writers that replace the entities/groups
	// top-level maps. Readers never take it; they load the atomic
	// pointers directly. This is the same "single writer builds a fresh
	// map, then swaps it in" discipline the teacher uses for its own
	// membermap/endpoints/memberIDs tables.
	tablesMu sync.Mutex
	entities atomic.Pointer[map[string]*entityState]
	groups   atomic.Pointer[map[string]*groupState]

	stopCh    chan struct{}
	purgeDone chan struct{}
}

// NewCache constructs a Cache in the Created state. Call Start before using
// it.
func NewCache(cfg Config) *Cache {
	if cfg.MaxEntityFixes <= 0 {
		cfg.MaxEntityFixes = 1
	}
	c := &Cache{
		cfg:    cfg,
		Now:    time.Now,
		Logf:   func(string, ...interface{}) {},
		stopCh: make(chan struct{}),
	}
	emptyEntities := map[string]*entityState{}
	emptyGroups := map[string]*groupState{}
	c.entities.Store(&emptyEntities)
	c.groups.Store(&emptyGroups)
	c.state.Store(int32(stateCreated))
	return c
}

// Start transitions Created -> Running and spawns the background purge
// timer (spec.md §4.1's Purge, run "on a timer at geoFixPurgeInterval").
func (c *Cache) Start() error {
	if !c.state.CompareAndSwap(int32(stateCreated), int32(stateRunning)) {
		return errwrap.Wrapf(ErrNotRunning, "fixcache: Start called outside Created state")
	}
	c.purgeDone = make(chan struct{})
	go c.purgeLoop()
	return nil
}

// Stop transitions Running -> Stopping -> Stopped, cancelling the purge
// timer and waiting for it to drain before returning.
func (c *Cache) Stop(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(stateRunning), int32(stateStopping)) {
		return nil // already stopping/stopped/never started; idempotent
	}
	close(c.stopCh)
	select {
	case <-c.purgeDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.state.Store(int32(stateStopped))
	return nil
}

func (c *Cache) running() bool {
	return lifecycleState(c.state.Load()) == stateRunning
}

func canon(groupID string) string {
	return strings.ToLower(groupID)
}

// entitiesSnapshot returns the current top-level entity table. Safe to call
// without tablesMu: readers only ever see a fully-built map.
func (c *Cache) entitiesSnapshot() map[string]*entityState {
	return *c.entities.Load()
}

func (c *Cache) groupsSnapshot() map[string]*groupState {
	return *c.groups.Load()
}

// getOrCreateEntity returns the entityState for id, creating and installing
// a fresh one (via copy-on-write swap) if it doesn't exist yet.
func (c *Cache) getOrCreateEntity(id string) *entityState {
	if es, ok := c.entitiesSnapshot()[id]; ok {
		return es
	}
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	cur := c.entitiesSnapshot()
	if es, ok := cur[id]; ok {
		return es
	}
	next := make(map[string]*entityState, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	es := newEntityState()
	next[id] = es
	c.entities.Store(&next)
	if c.Metrics != nil {
		c.Metrics.EntitiesCount.Set(float64(len(next)))
	}
	return es
}

// getOrCreateGroup is getOrCreateEntity's twin for the group table.
func (c *Cache) getOrCreateGroup(canonGroupID string) *groupState {
	if gs, ok := c.groupsSnapshot()[canonGroupID]; ok {
		return gs
	}
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	cur := c.groupsSnapshot()
	if gs, ok := cur[canonGroupID]; ok {
		return gs
	}
	next := make(map[string]*groupState, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	gs := newGroupState()
	next[canonGroupID] = gs
	c.groups.Store(&next)
	if c.Metrics != nil {
		c.Metrics.GroupsCount.Set(float64(len(next)))
	}
	return gs
}

// Add ingests a fix for entityID, optionally crediting groupID's
// membership, per spec.md §4.1's Add contract.
func (c *Cache) Add(entityID, groupID string, fix geofix.Fix) error {
	if !c.running() {
		return ErrNotRunning
	}
	if entityID == "" {
		return errwrap.Wrapf(errwrap.ErrValidation, "fixcache: Add called with empty entityID")
	}
	if err := fix.Validate(); err != nil {
		return errwrap.Wrapf(errwrap.ErrValidation, "fixcache: %v", err)
	}

	now := c.Now()
	if fix.TimeUTC.IsZero() || fix.TimeUTC.After(now.Add(c.cfg.ClockSkewTolerance)) {
		fix.TimeUTC = now // I4: clamp future-dated or missing timestamps
	}
	if now.Sub(fix.TimeUTC) > c.cfg.RetentionInterval {
		if c.Metrics != nil {
			c.Metrics.Rejected.WithLabelValues("too_old").Inc()
		}
		return nil // I3: too-old fixes fail silently
	}

	es := c.getOrCreateEntity(entityID)
	es.insert(fix, c.cfg.MaxEntityFixes)

	if groupID != "" {
		cg := canon(groupID)
		es.creditGroup(cg, fix.TimeUTC)
		c.getOrCreateGroup(cg).add(entityID)
	}

	if c.Metrics != nil {
		c.Metrics.Ingested.Inc()
	}
	if c.Archiver != nil {
		c.Archiver.Submit(archiver.Record{
			EntityID: entityID,
			GroupID:  groupID,
			Fix:      fix,
		})
	}
	return nil
}

// CurrentFix returns entityID's newest fix, or nil if the entity is unknown
// on this node or has no surviving fixes.
func (c *Cache) CurrentFix(entityID string) *geofix.Fix {
	es, ok := c.entitiesSnapshot()[entityID]
	if !ok {
		return nil
	}
	return es.current()
}

// Fixes returns entityID's fixes, newest first, or nil if the entity is
// unknown on this node.
func (c *Cache) Fixes(entityID string) []geofix.Fix {
	es, ok := c.entitiesSnapshot()[entityID]
	if !ok {
		return nil
	}
	return es.snapshot()
}

// EntitySnapshot is one entity's fix history as returned by GroupEntities.
type EntitySnapshot struct {
	EntityID string
	Fixes    []geofix.Fix
}

// GroupEntities returns a snapshot of every entity currently a member of
// groupID, in unspecified order. Empty (not nil) if the group is unknown.
func (c *Cache) GroupEntities(groupID string) []EntitySnapshot {
	gs, ok := c.groupsSnapshot()[canon(groupID)]
	if !ok {
		return []EntitySnapshot{}
	}
	ids := gs.members()
	out := make([]EntitySnapshot, 0, len(ids))
	entities := c.entitiesSnapshot()
	for _, id := range ids {
		if es, ok := entities[id]; ok {
			out = append(out, EntitySnapshot{EntityID: id, Fixes: es.snapshot()})
		}
	}
	return out
}

// AllEntities returns a snapshot of every entity currently tracked on this
// node, regardless of group membership — used by heat-map queries with no
// group filter.
func (c *Cache) AllEntities() []EntitySnapshot {
	entities := c.entitiesSnapshot()
	out := make([]EntitySnapshot, 0, len(entities))
	for id, es := range entities {
		out = append(out, EntitySnapshot{EntityID: id, Fixes: es.snapshot()})
	}
	return out
}

// EntityCurrentFix pairs an entity with its current fix, as returned by
// GroupCurrentFixes.
type EntityCurrentFix struct {
	EntityID string
	Fix      geofix.Fix
}

// GroupCurrentFixes returns each group member's current fix. Members with
// no surviving current fix are omitted.
func (c *Cache) GroupCurrentFixes(groupID string) []EntityCurrentFix {
	gs, ok := c.groupsSnapshot()[canon(groupID)]
	if !ok {
		return nil
	}
	entities := c.entitiesSnapshot()
	out := make([]EntityCurrentFix, 0, gs.len())
	for _, id := range gs.members() {
		es, ok := entities[id]
		if !ok {
			continue
		}
		if f := es.current(); f != nil {
			out = append(out, EntityCurrentFix{EntityID: id, Fix: *f})
		}
	}
	return out
}
