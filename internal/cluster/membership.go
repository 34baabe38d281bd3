package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// MembershipConfig controls advertisement and expiry timing.
type MembershipConfig struct {
	// Prefix is the etcd key prefix under which every node advertises
	// itself, e.g. "/geotracker/cluster/members/".
	Prefix string
	// AdvertiseInterval is how often the lease backing this node's key
	// is renewed.
	AdvertiseInterval time.Duration
	// Grace is added on top of the lease TTL before a silent peer is
	// dropped from the view — spec.md §4.2's "aliveUntil + grace".
	Grace time.Duration
}

type advertisedMember struct {
	NodeID   string `json:"nodeId"`
	Endpoint string `json:"endpoint"`
}

// Membership tracks cluster peers using etcd leases and watches as the
// broadcast medium: each node advertises itself under a lease it renews,
// and watches the same key prefix to learn about peers.
type Membership struct {
	cli    *clientv3.Client
	cfg    MembershipConfig
	selfID string
	Logf   func(format string, v ...interface{})

	view    atomic.Pointer[TopologyView]
	version atomic.Int64

	mu      sync.Mutex
	members map[string]Member
	alive   map[string]time.Time // NodeID -> deadline

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMembership constructs a Membership for selfID, advertised at endpoint.
func NewMembership(cli *clientv3.Client, cfg MembershipConfig, selfID, endpoint string) *Membership {
	m := &Membership{
		cli:     cli,
		cfg:     cfg,
		selfID:  selfID,
		Logf:    func(string, ...interface{}) {},
		members: map[string]Member{selfID: {NodeID: selfID, Endpoint: endpoint}},
		alive:   map[string]time.Time{},
		stopCh:  make(chan struct{}),
	}
	m.view.Store(&TopologyView{})
	m.rebuild()
	return m
}

// View returns the current topology snapshot.
func (m *Membership) View() TopologyView {
	return *m.view.Load()
}

// Start begins advertising self and watching for peers.
func (m *Membership) Start(ctx context.Context) error {
	leaseTTL := int64(m.cfg.AdvertiseInterval.Seconds()*3 + 1)
	if leaseTTL < 1 {
		leaseTTL = 1
	}
	lease, err := m.cli.Grant(ctx, leaseTTL)
	if err != nil {
		return fmt.Errorf("cluster: grant lease: %w", err)
	}

	self := m.members[m.selfID]
	payload, err := json.Marshal(advertisedMember{NodeID: self.NodeID, Endpoint: self.Endpoint})
	if err != nil {
		return fmt.Errorf("cluster: marshal self advertisement: %w", err)
	}
	key := m.cfg.Prefix + m.selfID
	if _, err := m.cli.Put(ctx, key, string(payload), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("cluster: advertise self: %w", err)
	}

	keepAlive, err := m.cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("cluster: keepalive: %w", err)
	}

	initial, err := m.cli.Get(ctx, m.cfg.Prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("cluster: initial member list: %w", err)
	}
	for _, kv := range initial.Kvs {
		m.applyPut(kv.Value)
	}

	watchCh := m.cli.Watch(ctx, m.cfg.Prefix, clientv3.WithPrefix())

	m.doneCh = make(chan struct{})
	go m.run(keepAlive, watchCh)
	return nil
}

func (m *Membership) run(keepAlive <-chan *clientv3.LeaseKeepAliveResponse, watchCh clientv3.WatchChan) {
	defer close(m.doneCh)
	interval := m.cfg.Grace / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case _, ok := <-keepAlive:
			if !ok {
				m.Logf("cluster: lease keepalive channel closed, self advertisement may expire")
			}
		case resp, ok := <-watchCh:
			if !ok {
				return
			}
			for _, ev := range resp.Events {
				switch ev.Type {
				case clientv3.EventTypePut:
					m.applyPut(ev.Kv.Value)
				case clientv3.EventTypeDelete:
					m.applyDelete(ev.Kv.Key)
				}
			}
			m.rebuild()
		case <-ticker.C:
			m.expireStale()
		}
	}
}

func (m *Membership) applyPut(value []byte) {
	var am advertisedMember
	if err := json.Unmarshal(value, &am); err != nil {
		m.Logf("cluster: discarding malformed advertisement: %v", err)
		return
	}
	m.mu.Lock()
	m.members[am.NodeID] = Member{NodeID: am.NodeID, Endpoint: am.Endpoint}
	m.alive[am.NodeID] = time.Now().Add(m.cfg.AdvertiseInterval*3 + m.cfg.Grace)
	m.mu.Unlock()
}

func (m *Membership) applyDelete(key []byte) {
	nodeID := string(key)[len(m.cfg.Prefix):]
	m.mu.Lock()
	delete(m.members, nodeID)
	delete(m.alive, nodeID)
	m.mu.Unlock()
	m.rebuild()
}

func (m *Membership) expireStale() {
	now := time.Now()
	changed := false
	m.mu.Lock()
	for nodeID, deadline := range m.alive {
		if nodeID == m.selfID {
			continue
		}
		if now.After(deadline) {
			delete(m.members, nodeID)
			delete(m.alive, nodeID)
			changed = true
		}
	}
	m.mu.Unlock()
	if changed {
		m.rebuild()
	}
}

func (m *Membership) rebuild() {
	m.mu.Lock()
	snapshot := make(map[string]Member, len(m.members))
	for k, v := range m.members {
		snapshot[k] = v
	}
	m.mu.Unlock()

	v := m.version.Add(1)
	view := newTopologyView(v, snapshot)
	m.view.Store(&view)
}

// Stop halts advertisement and watching. The lease is left to expire
// naturally rather than revoked, so peers observe the grace period instead
// of an instantaneous disappearance.
func (m *Membership) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	if m.doneCh != nil {
		<-m.doneCh
	}
}
