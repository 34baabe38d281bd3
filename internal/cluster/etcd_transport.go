package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdTransportConfig controls the etcd-backed Transport.
type EtcdTransportConfig struct {
	// Prefix is the etcd key prefix under which requests and replies are
	// exchanged, e.g. "/geotracker/cluster/rpc/".
	Prefix string
	// RequestTimeout bounds how long a handler gets to answer an inbound
	// request before the transport gives up waiting on it.
	RequestTimeout time.Duration
}

// ForwardHandler answers a Forward request that has arrived for this
// node, the server-side counterpart to Router.Forward.
type ForwardHandler func(ctx context.Context, req ForwardRequest) error

// QueryHandler answers a Query request that has arrived for this node.
type QueryHandler func(ctx context.Context, req QueryRequest) (QueryReply, error)

// etcdTransport implements Transport by using etcd as a request/reply bus:
// a caller Puts a request envelope under the callee's advertised-endpoint
// prefix and Watches a per-request reply key for the answer. This reuses
// the same Get/Put/Watch vocabulary client.go's ClientEtcd wraps for its
// own "simple etcd client" operations, here carrying RPC envelopes instead
// of deploy/status KV pairs, so the one etcd cluster already required for
// membership also serves the cluster's RPC transport.
type etcdTransport struct {
	cli          *clientv3.Client
	cfg          EtcdTransportConfig
	selfEndpoint string
	selfID       string

	forwardHandler ForwardHandler
	queryHandler   QueryHandler

	reqCounter atomic.Uint64

	mu        sync.Mutex
	connected bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

type rpcEnvelope struct {
	Kind     string `json:"kind"` // "forward", or a QueryRequest.Kind
	ReplyKey string `json:"replyKey"`
	Payload  []byte `json:"payload"`
}

type rpcReply struct {
	Err     string `json:"err,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// NewEtcdTransport builds a Transport backed by cli, addressed under
// selfEndpoint — the same string this node advertises via Membership, and
// the string peers pass as Forward/Query's endpoint argument when they
// mean this node. forwardHandler and queryHandler answer requests that
// arrive for this node; either may be nil for a node that only ever
// originates requests (e.g. one with no locally-owned entities yet).
func NewEtcdTransport(cli *clientv3.Client, cfg EtcdTransportConfig, selfEndpoint string, forwardHandler ForwardHandler, queryHandler QueryHandler) Transport {
	if cfg.Prefix == "" {
		cfg.Prefix = "/geotracker/cluster/rpc/"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &etcdTransport{
		cli:            cli,
		cfg:            cfg,
		selfEndpoint:   selfEndpoint,
		forwardHandler: forwardHandler,
		queryHandler:   queryHandler,
	}
}

func (t *etcdTransport) Init(selfID string) error {
	if selfID == "" {
		return fmt.Errorf("cluster: etcdTransport Init called with an empty selfID")
	}
	t.selfID = selfID
	return nil
}

func (t *etcdTransport) Validate() error {
	if t.cli == nil {
		return fmt.Errorf("cluster: etcdTransport has no etcd client")
	}
	if t.selfID == "" {
		return fmt.Errorf("cluster: etcdTransport not initialized, call Init first")
	}
	if t.selfEndpoint == "" {
		return fmt.Errorf("cluster: etcdTransport has no selfEndpoint to listen on")
	}
	return nil
}

func (t *etcdTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		return nil
	}
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	watchCh := t.cli.Watch(ctx, t.requestPrefix(), clientv3.WithPrefix())
	go t.serve(watchCh)
	t.connected = true
	return nil
}

func (t *etcdTransport) requestPrefix() string {
	return t.cfg.Prefix + "requests/" + t.selfEndpoint + "/"
}

// serve watches this node's request prefix and dispatches every arriving
// envelope to handleRequest in its own goroutine, so a slow handler never
// blocks the next request from being picked up.
func (t *etcdTransport) serve(watchCh clientv3.WatchChan) {
	defer close(t.doneCh)
	for {
		select {
		case <-t.stopCh:
			return
		case resp, ok := <-watchCh:
			if !ok {
				return
			}
			for _, ev := range resp.Events {
				if ev.Type != clientv3.EventTypePut {
					continue
				}
				value := append([]byte(nil), ev.Kv.Value...)
				go t.handleRequest(value)
			}
		}
	}
}

func (t *etcdTransport) handleRequest(value []byte) {
	var env rpcEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout)
	defer cancel()

	var reply rpcReply
	if env.Kind == "forward" {
		var req ForwardRequest
		switch {
		case json.Unmarshal(env.Payload, &req) != nil:
			reply.Err = "cluster: malformed forward request"
		case t.forwardHandler == nil:
			reply.Err = "cluster: no forward handler registered on this node"
		default:
			if err := t.forwardHandler(ctx, req); err != nil {
				reply.Err = err.Error()
			}
		}
	} else {
		var req QueryRequest
		switch {
		case json.Unmarshal(env.Payload, &req) != nil:
			reply.Err = "cluster: malformed query request"
		case t.queryHandler == nil:
			reply.Err = "cluster: no query handler registered on this node"
		default:
			qr, err := t.queryHandler(ctx, req)
			if err != nil {
				reply.Err = err.Error()
			} else {
				reply.Payload = qr.Payload
			}
		}
	}

	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	t.cli.Put(context.Background(), env.ReplyKey, string(data)) //nolint:errcheck
}

// call writes a request envelope under endpoint's prefix and waits for the
// corresponding reply key to be Put, or for ctx to expire.
func (t *etcdTransport) call(ctx context.Context, endpoint, kind string, payload []byte) (rpcReply, error) {
	id := t.reqCounter.Add(1)
	replyKey := fmt.Sprintf("%sreplies/%s/%d", t.cfg.Prefix, t.selfEndpoint, id)
	reqKey := fmt.Sprintf("%srequests/%s/%s-%d", t.cfg.Prefix, endpoint, t.selfEndpoint, id)

	env := rpcEnvelope{Kind: kind, ReplyKey: replyKey, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return rpcReply{}, fmt.Errorf("cluster: marshaling rpc envelope: %w", err)
	}

	watchCh := t.cli.Watch(ctx, replyKey)
	if _, err := t.cli.Put(ctx, reqKey, string(data)); err != nil {
		return rpcReply{}, fmt.Errorf("cluster: writing rpc request to %q: %w", endpoint, err)
	}
	defer t.cli.Delete(context.Background(), reqKey) //nolint:errcheck

	select {
	case resp, ok := <-watchCh:
		if !ok {
			return rpcReply{}, fmt.Errorf("cluster: reply watch closed for %q", endpoint)
		}
		for _, ev := range resp.Events {
			if ev.Type != clientv3.EventTypePut {
				continue
			}
			var reply rpcReply
			if err := json.Unmarshal(ev.Kv.Value, &reply); err != nil {
				return rpcReply{}, fmt.Errorf("cluster: decoding rpc reply from %q: %w", endpoint, err)
			}
			t.cli.Delete(context.Background(), replyKey) //nolint:errcheck
			if reply.Err != "" {
				return rpcReply{}, errors.New(reply.Err)
			}
			return reply, nil
		}
		return rpcReply{}, fmt.Errorf("cluster: no reply event from %q", endpoint)
	case <-ctx.Done():
		return rpcReply{}, ctx.Err()
	}
}

func (t *etcdTransport) Forward(ctx context.Context, endpoint string, rec ForwardRequest) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cluster: marshaling forward request: %w", err)
	}
	_, err = t.call(ctx, endpoint, "forward", payload)
	return err
}

func (t *etcdTransport) Query(ctx context.Context, endpoint string, req QueryRequest) (QueryReply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return QueryReply{}, fmt.Errorf("cluster: marshaling query request: %w", err)
	}
	reply, err := t.call(ctx, endpoint, req.Kind, payload)
	if err != nil {
		return QueryReply{}, err
	}
	return QueryReply{Payload: reply.Payload, Complete: true}, nil
}

func (t *etcdTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return nil
	}
	close(t.stopCh)
	<-t.doneCh
	t.connected = false
	return nil
}
