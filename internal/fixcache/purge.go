package fixcache

import "time"

// purgeLoop runs on a timer at cfg.PurgeInterval (one minute when unset)
// until stopCh closes, mirroring the teacher's converger.Loop select-over-timer-and-control
// shape, but with a single exit signal instead of pause/resume (FixCache
// never needs to pause purging independently of the cache's own lifecycle).
func (c *Cache) purgeLoop() {
	defer close(c.purgeDone)
	interval := c.cfg.PurgeInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Purge()
		}
	}
}

// Purge removes fixes older than now-retentionInterval, drops entities left
// with no fixes, recomputes group membership per I2, and drops groups left
// with no members (spec.md §4.1).
func (c *Cache) Purge() {
	cutoff := c.Now().Add(-c.cfg.RetentionInterval)

	entities := c.entitiesSnapshot()
	var toDeleteEntities []string
	// entityID -> groups it fell out of, so the reverse index can be fixed
	// up without re-scanning every entity under the group lock.
	fellOutOf := make(map[string][]string)

	for id, es := range entities {
		empty, dropped := es.purgeOlderThan(cutoff)
		if empty {
			toDeleteEntities = append(toDeleteEntities, id)
		}
		if len(dropped) > 0 {
			fellOutOf[id] = dropped
		}
	}

	if len(toDeleteEntities) > 0 {
		c.tablesMu.Lock()
		cur := c.entitiesSnapshot()
		next := make(map[string]*entityState, len(cur))
		for k, v := range cur {
			next[k] = v
		}
		for _, id := range toDeleteEntities {
			delete(next, id)
		}
		c.entities.Store(&next)
		if c.Metrics != nil {
			c.Metrics.EntitiesCount.Set(float64(len(next)))
		}
		c.tablesMu.Unlock()
	}

	if len(fellOutOf) > 0 {
		groups := c.groupsSnapshot()
		for id, gnames := range fellOutOf {
			for _, g := range gnames {
				if gs, ok := groups[g]; ok {
					gs.remove(id)
				}
			}
		}
		c.dropEmptyGroups()
	}
}

// dropEmptyGroups removes any group left with zero members after a purge
// pass, via the usual copy-on-write swap of the top-level group table.
func (c *Cache) dropEmptyGroups() {
	cur := c.groupsSnapshot()
	var empties []string
	for name, gs := range cur {
		if gs.len() == 0 {
			empties = append(empties, name)
		}
	}
	if len(empties) == 0 {
		return
	}
	c.tablesMu.Lock()
	defer c.tablesMu.Unlock()
	cur = c.groupsSnapshot() // re-read under lock in case of concurrent create
	next := make(map[string]*groupState, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	for _, name := range empties {
		if gs, ok := next[name]; ok && gs.len() == 0 {
			delete(next, name)
		}
	}
	c.groups.Store(&next)
	if c.Metrics != nil {
		c.Metrics.GroupsCount.Set(float64(len(next)))
	}
}
